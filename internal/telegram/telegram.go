// Package telegram hosts the Telegram client and routes bot updates into the
// conversation flow engine.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_miniapp_bot/internal/config"
	"tg_miniapp_bot/internal/domain"
	"tg_miniapp_bot/internal/logging"
)

// botAPI is the slice of bot.Bot the client uses; narrowed for test stubbing.
type botAPI interface {
	Start(ctx context.Context)
	StartWebhook(ctx context.Context)
	WebhookHandler() http.HandlerFunc
	SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error)
	DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error)
	GetMe(ctx context.Context) (*models.User, error)
}

// flowEngine is the conversation engine contract the router dispatches into.
type flowEngine interface {
	HandleCommand(ctx context.Context, chatID int64, command string) error
	HandleText(ctx context.Context, chatID int64, text string) error
	HandleCallback(ctx context.Context, chatID int64, callbackQueryID, data string) error
}

// userRegistrar keeps the user record fresh on every bot interaction.
type userRegistrar interface {
	CreateOrUpdate(ctx context.Context, profile domain.Profile, invitedBy *int64) (domain.TelegramUser, bool, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"callback_query",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot instance and its routing dependencies.
type Client struct {
	bot    botAPI
	cfg    config.Config
	logger *logrus.Entry
}

// NewClient initializes the Telegram bot and wires inbound updates to the
// flow engine. The users registrar may be nil when profile refresh on bot
// messages is not wanted.
func NewClient(cfg config.Config, engine flowEngine, users userRegistrar, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if engine == nil {
		return nil, errors.New("flow engine is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	options := []bot.Option{
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(updateHandler(engine, users, logger)),
		bot.WithErrorsHandler(errorHandler(logger)),
	}
	if cfg.UseWebhook() && cfg.WebhookSecret != "" {
		options = append(options, bot.WithWebhookSecretToken(cfg.WebhookSecret))
	}

	tgBot, err := createBot(cfg.TelegramToken, options...)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	return &Client{
		bot:    tgBot,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Start receives updates until the context is canceled. With a webhook URL
// configured it registers the webhook and serves deliveries pushed through
// WebhookHandler; otherwise it falls back to long polling.
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if c.cfg.UseWebhook() {
		params := &bot.SetWebhookParams{URL: c.cfg.WebhookURL}
		if c.cfg.WebhookSecret != "" {
			params.SecretToken = c.cfg.WebhookSecret
		}
		if _, err := c.bot.SetWebhook(ctx, params); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}

		c.logger.WithFields(logging.Fields{
			"event":       "telegram_listen",
			"webhook_url": c.cfg.WebhookURL,
		}).Info("starting telegram webhook processing")

		c.bot.StartWebhook(ctx)
	} else {
		if _, err := c.bot.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: false}); err != nil {
			c.logger.WithField("event", "telegram_listen").WithError(err).Warn("delete stale webhook failed")
		}

		c.logger.WithFields(logging.Fields{
			"event":           "telegram_listen",
			"allowed_updates": defaultAllowedUpdates,
		}).Info("starting telegram long polling")

		c.bot.Start(ctx)
	}

	c.logger.WithField("event", "telegram_stopped").Info("telegram update processing stopped")
	return nil
}

// WebhookHandler returns the HTTP handler that accepts webhook deliveries;
// mounted by the API server when webhook mode is active.
func (c *Client) WebhookHandler() http.HandlerFunc {
	return c.bot.WebhookHandler()
}

// Username resolves the bot's own username via getMe.
func (c *Client) Username(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}

	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return "", fmt.Errorf("get me: %w", err)
	}
	if me == nil {
		return "", errors.New("get me returned no user")
	}

	return me.Username, nil
}

// Sender returns the outbound-action adapter for the flow engine.
func (c *Client) Sender() *Sender {
	return &Sender{api: c.bot}
}

// Membership returns the chat-membership adapter for the subscription checker.
func (c *Client) Membership() *MembershipAPI {
	return &MembershipAPI{api: c.bot}
}

// updateHandler classifies each update and dispatches it. Commands are
// messages starting with "/"; everything else with text is a free-text reply.
func updateHandler(engine flowEngine, users userRegistrar, logger *logrus.Entry) bot.HandlerFunc {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update == nil {
			return
		}

		switch {
		case update.Message != nil:
			handleMessage(ctx, engine, users, logger, update.Message)
		case update.CallbackQuery != nil:
			var acker callbackAcker
			if b != nil {
				acker = b
			}
			handleCallbackQuery(ctx, engine, users, logger, acker, update.CallbackQuery)
		default:
			logger.WithField("event", "telegram_update").Debug("unsupported update type ignored")
		}
	}
}

// callbackAcker answers callback queries that never reach the flow engine.
type callbackAcker interface {
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

func handleMessage(ctx context.Context, engine flowEngine, users userRegistrar, logger *logrus.Entry, message *models.Message) {
	text := strings.TrimSpace(message.Text)
	chatID := message.Chat.ID

	refreshUser(ctx, users, logger, message.From)

	entry := logger.WithFields(logging.Fields{
		"event":   "telegram_update",
		"chat_id": chatID,
	})

	var err error
	if strings.HasPrefix(text, "/") {
		command, _, _ := strings.Cut(text, " ")
		entry.WithField("command", command).Info("bot command received")
		err = engine.HandleCommand(ctx, chatID, command)
	} else {
		entry.Info("chat message received")
		err = engine.HandleText(ctx, chatID, text)
	}

	if err != nil {
		entry.WithError(err).Error("handle message failed")
	}
}

func handleCallbackQuery(ctx context.Context, engine flowEngine, users userRegistrar, logger *logrus.Entry, acker callbackAcker, query *models.CallbackQuery) {
	chatID := callbackChatID(query)

	refreshUser(ctx, users, logger, &query.From)

	entry := logger.WithFields(logging.Fields{
		"event":   "telegram_update",
		"chat_id": chatID,
		"data":    query.Data,
	})

	// A callback for an inaccessible message has no chat to attribute state
	// to; ack it so the button stops spinning and drop it.
	if chatID == 0 {
		entry.Warn("callback query without resolvable chat skipped")
		if acker != nil {
			if _, err := acker.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: query.ID}); err != nil {
				entry.WithError(err).Warn("acknowledge orphaned callback failed")
			}
		}
		return
	}

	entry.Info("callback query received")

	if err := engine.HandleCallback(ctx, chatID, query.ID, query.Data); err != nil {
		entry.WithError(err).Error("handle callback failed")
	}
}

// refreshUser keeps the persistent user record in sync with the latest
// profile. Failures never block update handling.
func refreshUser(ctx context.Context, users userRegistrar, logger *logrus.Entry, from *models.User) {
	if users == nil || from == nil || from.IsBot {
		return
	}

	profile := domain.Profile{
		TelegramID:   from.ID,
		Username:     from.Username,
		FirstName:    from.FirstName,
		LastName:     from.LastName,
		LanguageCode: from.LanguageCode,
	}

	if _, _, err := users.CreateOrUpdate(ctx, profile, nil); err != nil {
		logger.WithFields(logging.Fields{
			"event":   "user_refresh",
			"user_id": from.ID,
		}).WithError(err).Warn("refresh user record failed")
	}
}

func callbackChatID(query *models.CallbackQuery) int64 {
	switch query.Message.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if query.Message.Message == nil {
			return 0
		}
		return query.Message.Message.Chat.ID
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if query.Message.InaccessibleMessage == nil {
			return 0
		}
		return query.Message.InaccessibleMessage.Chat.ID
	default:
		return 0
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

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram transport error")
	}
}
