// Package dedup guards against duplicate Telegram update delivery using Redis.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"tg_referral_bot/internal/config"
	"tg_referral_bot/internal/logging"
)

const (
	keyPrefix  = "update_seen:"
	defaultTTL = 24 * time.Hour
)

type redisSetter interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Connect opens a Redis client for the configured address and verifies it with
// a ping.
func Connect(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// Marker remembers which update IDs have already been processed. Telegram may
// redeliver an update after a polling restart; marking IDs keeps a redelivered
// /start from re-running the referral grant. A nil Marker treats every update
// as first delivery.
type Marker struct {
	rdb    redisSetter
	ttl    time.Duration
	logger *logrus.Entry
}

// NewMarker constructs a Marker over the given Redis client.
func NewMarker(rdb redisSetter, logger *logrus.Entry) *Marker {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Marker{
		rdb:    rdb,
		ttl:    defaultTTL,
		logger: logger,
	}
}

// FirstDelivery atomically marks the update ID as seen and reports whether
// this call was the first to do so. Redis failures fail open: processing a
// duplicate is recoverable (the referral path is write-once anyway), dropping
// a real update is not.
func (m *Marker) FirstDelivery(ctx context.Context, updateID int64) bool {
	if m == nil || m.rdb == nil {
		return true
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := keyPrefix + strconv.FormatInt(updateID, 10)
	first, err := m.rdb.SetNX(ctx, key, 1, m.ttl).Result()
	if err != nil {
		m.logger.WithFields(logging.Fields{
			"event":     "dedup_error",
			"update_id": updateID,
		}).WithError(err).Warn("dedup check failed, processing update anyway")
		return true
	}

	if !first {
		m.logger.WithFields(logging.Fields{
			"event":     "duplicate_update",
			"update_id": updateID,
		}).Info("skipping duplicate update delivery")
	}

	return first
}
