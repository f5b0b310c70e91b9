// Package telegram hosts the Telegram client, routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_referral_bot/internal/config"
	"tg_referral_bot/internal/domain"
	"tg_referral_bot/internal/feature/referral"
	"tg_referral_bot/internal/logging"
	"tg_referral_bot/internal/menu"
)

const unknownMenuReply = "Unknown menu"

type botRunner interface {
	Start(ctx context.Context)
}

// botAPI is the slice of the Telegram API the handlers actually call.
// *bot.Bot satisfies it.
type botAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

type userRegistry interface {
	Upsert(ctx context.Context, chatID int64, profile domain.Profile) (domain.User, error)
}

type referralLinker interface {
	Link(ctx context.Context, referrerChatID, targetChatID int64) error
}

type deliveryMarker interface {
	FirstDelivery(ctx context.Context, updateID int64) bool
}

type referralCounter interface {
	CountReferredBy(ctx context.Context, referrerChatID int64) (int64, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"callback_query",
	}

	createBot = func(token string, options ...bot.Option) (botRunner, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot instance together with the registry,
// referral, and menu dependencies its handlers need.
type Client struct {
	bot         botRunner
	logger      *logrus.Entry
	users       userRegistry
	referrals   referralLinker
	dedup       deliveryMarker
	stats       referralCounter
	catalog     *menu.Catalog
	botUsername string
}

// Option customizes a Client before the underlying bot is created.
type Option func(*Client)

// WithUserRegistry wires the store that records every user the bot hears from.
func WithUserRegistry(users userRegistry) Option {
	return func(c *Client) { c.users = users }
}

// WithReferralLinker wires the service that attributes deep-link referrals.
func WithReferralLinker(referrals referralLinker) Option {
	return func(c *Client) { c.referrals = referrals }
}

// WithDeliveryMarker wires duplicate-update suppression. Optional.
func WithDeliveryMarker(marker deliveryMarker) Option {
	return func(c *Client) { c.dedup = marker }
}

// WithStatsProvider wires referral counting so the stored referral_count can
// be cross-checked against the actual number of referred users. Optional.
func WithStatsProvider(stats referralCounter) Option {
	return func(c *Client) { c.stats = stats }
}

// WithCatalog overrides the built-in menu catalog.
func WithCatalog(catalog *menu.Catalog) Option {
	return func(c *Client) { c.catalog = catalog }
}

// NewClient initializes the Telegram bot with long polling and the
// /start plus callback-query handlers.
func NewClient(cfg config.Config, logger *logrus.Entry, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{
		logger:      logger,
		catalog:     menu.Default(),
		botUsername: cfg.BotUsername,
	}
	for _, opt := range opts {
		opt(client)
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithMessageTextHandler("/start", bot.MatchTypePrefix, client.onStart),
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, client.onCallback),
		bot.WithDefaultHandler(defaultHandler(logger)),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	client.bot = tgBot

	return client, nil
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

func (c *Client) onStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	c.processStart(ctx, b, update)
}

func (c *Client) onCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	c.processCallback(ctx, b, update)
}

// processStart handles "/start" and "/start <token>". Registration and
// referral attribution are best effort: their failures are logged, and the
// main menu is sent regardless.
func (c *Client) processStart(ctx context.Context, api botAPI, update *models.Update) {
	if update == nil || update.Message == nil || update.Message.From == nil {
		return
	}
	if !c.firstDelivery(ctx, update.ID) {
		return
	}

	msg := update.Message
	chatID := msg.Chat.ID

	record, registered := c.registerSender(ctx, chatID, msg.From)
	if registered {
		c.checkReferralCount(ctx, record)
	}
	c.attributeReferral(ctx, chatID, msg.Text)

	rendered, ok := c.catalog.Resolve(menu.MainMenuKey)
	if !ok {
		c.logger.WithFields(logging.Fields{
			"event":    "menu_missing",
			"menu_key": menu.MainMenuKey,
		}).Error("main menu is not in the catalog")
		return
	}

	_, err := api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        rendered.Text,
		ReplyMarkup: menu.ToInlineKeyboard(rendered),
	})
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "send_failed",
			"chat_id": chatID,
		}).WithError(err).Error("failed to send main menu")
	}
}

// processCallback resolves the callback data as a menu key and swaps the
// message in place. The callback is always answered so the client spinner
// stops.
func (c *Client) processCallback(ctx context.Context, api botAPI, update *models.Update) {
	if update == nil || update.CallbackQuery == nil {
		return
	}
	if !c.firstDelivery(ctx, update.ID) {
		return
	}

	cb := update.CallbackQuery
	c.registerSender(ctx, cb.From.ID, &cb.From)

	rendered, ok := c.catalog.Resolve(cb.Data)
	if !ok {
		c.logger.WithFields(logging.Fields{
			"event":    "unknown_menu",
			"menu_key": cb.Data,
			"chat_id":  cb.From.ID,
		}).Warn("callback for unknown menu key")

		c.answerCallback(ctx, api, cb.ID, unknownMenuReply)
		return
	}

	chatID := messageChatID(cb.Message)
	msgID := messageID(cb.Message)
	if chatID == 0 || msgID == 0 {
		c.answerCallback(ctx, api, cb.ID, "")
		return
	}

	_, err := api.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   msgID,
		Text:        rendered.Text,
		ReplyMarkup: menu.ToInlineKeyboard(rendered),
	})
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":    "edit_failed",
			"menu_key": cb.Data,
			"chat_id":  chatID,
		}).WithError(err).Error("failed to swap menu message")
	}

	c.answerCallback(ctx, api, cb.ID, "")
}

func (c *Client) firstDelivery(ctx context.Context, updateID int64) bool {
	if c.dedup == nil {
		return true
	}

	return c.dedup.FirstDelivery(ctx, updateID)
}

func (c *Client) registerSender(ctx context.Context, chatID int64, from *models.User) (domain.User, bool) {
	if c.users == nil || from == nil {
		return domain.User{}, false
	}

	profile := domain.Profile{
		ReferralCode: domain.StringPtr(strconv.FormatInt(chatID, 10)),
		ReferralLink: domain.StringPtr(referral.BuildLink(c.botUsername, chatID)),
	}
	if from.FirstName != "" {
		profile.Name = domain.StringPtr(from.FirstName)
	}
	if from.LastName != "" {
		profile.LastName = domain.StringPtr(from.LastName)
	}
	if from.Username != "" {
		profile.Username = domain.StringPtr(from.Username)
	}
	if from.LanguageCode != "" {
		profile.PreferredLanguage = domain.StringPtr(from.LanguageCode)
	}

	record, err := c.users.Upsert(ctx, chatID, profile)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "user_upsert_failed",
			"chat_id": chatID,
		}).WithError(err).Error("failed to register user")
		return domain.User{}, false
	}

	return record, true
}

// checkReferralCount cross-checks the stored referral_count against the
// number of users actually pointing at this chat. A mismatch means the
// write-once grant and the counter diverged and needs operator attention.
func (c *Client) checkReferralCount(ctx context.Context, record domain.User) {
	if c.stats == nil {
		return
	}

	observed, err := c.stats.CountReferredBy(ctx, record.ChatID)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "referral_count_check_failed",
			"chat_id": record.ChatID,
		}).WithError(err).Warn("failed to count referred users")
		return
	}

	if observed != record.ReferralCount {
		c.logger.WithFields(logging.Fields{
			"event":          "referral_count_mismatch",
			"chat_id":        record.ChatID,
			"stored_count":   record.ReferralCount,
			"observed_count": observed,
		}).Warn("stored referral count diverges from referred users")
	}
}

// attributeReferral decodes the deep-link token from "/start <token>" and
// records the referral. Malformed tokens and unknown referrers are logged
// and otherwise ignored.
func (c *Client) attributeReferral(ctx context.Context, chatID int64, text string) {
	if c.referrals == nil {
		return
	}

	parts := strings.Fields(text)
	if len(parts) < 2 {
		return
	}

	referrerID, err := referral.DecodePayload(parts[1])
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "deep_link_rejected",
			"chat_id": chatID,
		}).WithError(err).Debug("ignoring malformed deep link token")
		return
	}

	err = c.referrals.Link(ctx, referrerID, chatID)
	switch {
	case errors.Is(err, domain.ErrReferrerNotFound):
		c.logger.WithFields(logging.Fields{
			"event":       "referrer_not_found",
			"chat_id":     chatID,
			"referrer_id": referrerID,
		}).Warn("deep link names an unknown referrer")
	case errors.Is(err, domain.ErrUserNotFound):
		// Happens when the preceding registration upsert failed, so the
		// referral could not attach to a record.
		c.logger.WithFields(logging.Fields{
			"event":       "referral_target_missing",
			"chat_id":     chatID,
			"referrer_id": referrerID,
		}).Warn("referral target has no record")
	case err != nil:
		c.logger.WithFields(logging.Fields{
			"event":       "referral_failed",
			"chat_id":     chatID,
			"referrer_id": referrerID,
		}).WithError(err).Error("failed to record referral")
	}
}

func (c *Client) answerCallback(ctx context.Context, api botAPI, callbackID, text string) {
	params := &bot.AnswerCallbackQueryParams{CallbackQueryID: callbackID}
	if text != "" {
		params.Text = text
	}

	if _, err := api.AnswerCallbackQuery(ctx, params); err != nil {
		c.logger.WithField("event", "answer_callback_failed").WithError(err).Warn("failed to answer callback query")
	}
}

type updateMeta struct {
	userID     int64
	chatID     int64
	text       string
	updateType string
}

func defaultHandler(logger *logrus.Entry) bot.HandlerFunc {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		if update == nil {
			return
		}

		meta := extractUpdateMeta(update)

		fields := logging.Fields{
			"event":       "telegram_update",
			"update_type": meta.updateType,
		}

		if meta.text != "" {
			fields["text"] = meta.text
		}
		if meta.userID != 0 {
			fields["user_id"] = meta.userID
		}
		if meta.chatID != 0 {
			fields["chat_id"] = meta.chatID
		}

		logger.WithFields(fields).Debug("unhandled telegram update")
	}
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     chatID(&update.Message.Chat),
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
	case update.CallbackQuery != nil:
		return updateMeta{
			userID:     userID(&update.CallbackQuery.From),
			chatID:     messageChatID(update.CallbackQuery.Message),
			text:       strings.TrimSpace(update.CallbackQuery.Data),
			updateType: "callback_query",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}

func chatID(chat *models.Chat) int64 {
	if chat == nil {
		return 0
	}

	return chat.ID
}

func messageChatID(msg models.MaybeInaccessibleMessage) int64 {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return chatID(&msg.Message.Chat)
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return chatID(&msg.InaccessibleMessage.Chat)
	default:
		return 0
	}
}

func messageID(msg models.MaybeInaccessibleMessage) int {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return msg.Message.ID
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return msg.InaccessibleMessage.MessageID
	default:
		return 0
	}
}
