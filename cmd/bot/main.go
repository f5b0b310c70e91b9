package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg_referral_bot/internal/config"
	"tg_referral_bot/internal/dedup"
	"tg_referral_bot/internal/feature/referral"
	"tg_referral_bot/internal/feature/user"
	"tg_referral_bot/internal/health"
	"tg_referral_bot/internal/logging"
	"tg_referral_bot/internal/store"
	"tg_referral_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	redisConnectTimeout     = 5 * time.Second
	statsTimeout            = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	healthShutdownTimeout   = 5 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
		cancelIndexes()
		logger.WithError(err).Error("mongo index setup error")
		fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
		os.Exit(1)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	var healthRedis health.RedisChecker
	var dedupMarker *dedup.Marker
	var closeRedis func() error

	if cfg.DedupEnabled() {
		redisCtx, cancelRedis := context.WithTimeout(context.Background(), redisConnectTimeout)
		rdb, err := dedup.Connect(redisCtx, cfg)
		cancelRedis()
		if err != nil {
			logger.WithError(err).Error("redis connection error")
			fmt.Fprintf(os.Stderr, "redis connection error: %v\n", err)
			os.Exit(1)
		}

		logger.WithField("event", "redis_connect").Info("connected to redis")

		dedupMarker = dedup.NewMarker(rdb, logger)
		healthRedis = rdb
		closeRedis = rdb.Close
	} else {
		logger.WithField("event", "dedup_disabled").Info("redis address not configured, duplicate updates are not suppressed")
	}

	userStore := user.NewStore(mongoManager.Users(), logger)
	referralService := referral.NewService(store.NewTxRunner(mongoManager.Client()), mongoManager.Users(), logger)
	statsProvider := store.NewStatsProvider(mongoManager.Users())

	statsCtx, cancelStats := context.WithTimeout(context.Background(), statsTimeout)
	if total, err := statsProvider.CountUsers(statsCtx); err != nil {
		logger.WithError(err).Warn("failed to count registered users")
	} else {
		logger.WithFields(logging.Fields{
			"event":      "user_count",
			"user_count": total,
		}).Info("registered users at startup")
	}
	cancelStats()

	tgClient, err := telegram.NewClient(cfg, logger,
		telegram.WithUserRegistry(userStore),
		telegram.WithReferralLinker(referralService),
		telegram.WithDeliveryMarker(dedupMarker),
		telegram.WithStatsProvider(statsProvider),
	)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	healthServer := health.NewServer(cfg.HTTPPort, mongoManager, healthRedis, logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("health server error")
		}
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	if closeRedis != nil {
		if err := closeRedis(); err != nil {
			logger.WithError(err).Error("redis disconnect error")
		} else {
			logger.WithField("event", "redis_disconnect").Info("redis client disconnected")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
