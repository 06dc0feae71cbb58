package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"price-alerts/internal/config"
	"price-alerts/internal/logging"
	"price-alerts/internal/models"
	"price-alerts/internal/security"
)

// LogChannel records every fired alert through the application logger.
type LogChannel struct {
	logger zerolog.Logger
}

// NewLogChannel creates a new LogChannel.
func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logging.WithComponent(logger, "notify.log")}
}

// Name returns the name of the channel.
func (l *LogChannel) Name() string {
	return "log"
}

// IsEnabled returns whether the channel is enabled.
func (l *LogChannel) IsEnabled() bool {
	return true
}

// Send logs the event.
func (l *LogChannel) Send(ctx context.Context, to Recipient, n Notification) error {
	ev := n.Event
	logging.LogAlertFired(l.logger.With().Str("recipient", to.String()).Logger(),
		ev.AlertID, ev.Asset, ev.QuoteCurrency, string(ev.Operator), ev.Threshold, ev.Price)
	return nil
}

// TelegramChannel sends notifications through a Telegram bot. Channel
// destinations are chat ids or @channel usernames; owners are Telegram user ids.
type TelegramChannel struct {
	token    string
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	api *tgbotapi.BotAPI
}

// NewTelegramChannel creates a new TelegramChannel. The bot is contacted on
// first use, so an unreachable API does not block startup.
func NewTelegramChannel(cfg config.TelegramConfig) (*TelegramChannel, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	return &TelegramChannel{
		token:    cfg.BotToken,
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// SetEndpoint overrides the Bot API endpoint format.
func (t *TelegramChannel) SetEndpoint(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endpoint = endpoint
	t.api = nil
}

// Name returns the name of the channel.
func (t *TelegramChannel) Name() string {
	return "telegram"
}

// IsEnabled returns whether the channel is enabled.
func (t *TelegramChannel) IsEnabled() bool {
	return t.token != ""
}

func (t *TelegramChannel) bot() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.api != nil {
		return t.api, nil
	}
	api, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, security.RedactError(fmt.Errorf("connecting telegram bot: %w", err), t.token)
	}
	t.api = api
	return api, nil
}

// Send sends the notification to the recipient's chat.
func (t *TelegramChannel) Send(ctx context.Context, to Recipient, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	api, err := t.bot()
	if err != nil {
		return err
	}

	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))

	var msg tgbotapi.MessageConfig
	if strings.HasPrefix(to.ID, "@") {
		msg = tgbotapi.NewMessageToChannel(to.ID, text)
	} else {
		chatID, err := strconv.ParseInt(to.ID, 10, 64)
		if err != nil {
			return fmt.Errorf("telegram recipient %s is not a chat id", to)
		}
		msg = tgbotapi.NewMessage(chatID, text)
	}
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := api.Send(msg); err != nil {
		return security.RedactError(fmt.Errorf("sending telegram message: %w", err), t.token)
	}
	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// NATSChannel publishes fired events for downstream consumers on
// <prefix>.<asset>.<quote>.
type NATSChannel struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSChannel connects to the NATS server.
func NewNATSChannel(cfg config.NATSConfig) (*NATSChannel, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("price-alerts"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, security.RedactError(fmt.Errorf("connect to nats: %w", err))
	}
	return NewNATSChannelWithConn(conn, cfg.SubjectPrefix), nil
}

// NewNATSChannelWithConn wraps an existing connection.
func NewNATSChannelWithConn(conn *nats.Conn, prefix string) *NATSChannel {
	if prefix == "" {
		prefix = "alerts.fired"
	}
	return &NATSChannel{conn: conn, prefix: prefix}
}

// Name returns the name of the channel.
func (c *NATSChannel) Name() string {
	return "nats"
}

// IsEnabled returns whether the channel is enabled.
func (c *NATSChannel) IsEnabled() bool {
	return c.conn != nil
}

// Subject returns the subject an event for asset/quote is published on.
func (c *NATSChannel) Subject(asset, quote string) string {
	return c.prefix + "." + subjectToken(asset) + "." + subjectToken(quote)
}

func subjectToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// natsMessage is the payload published for each fired alert.
type natsMessage struct {
	Recipient Recipient         `json:"recipient"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Event     models.FiredEvent `json:"event"`
	Timestamp time.Time         `json:"timestamp"`
}

// Send publishes the event and flushes so a dead connection surfaces as an error.
func (c *NATSChannel) Send(ctx context.Context, to Recipient, n Notification) error {
	data, err := json.Marshal(natsMessage{
		Recipient: to,
		Title:     n.Title,
		Message:   n.Message,
		Event:     n.Event,
		Timestamp: n.Timestamp,
	})
	if err != nil {
		return err
	}
	if err := c.conn.Publish(c.Subject(n.Event.Asset, n.Event.QuoteCurrency), data); err != nil {
		return fmt.Errorf("publish to nats: %w", err)
	}
	if _, ok := ctx.Deadline(); ok {
		return c.conn.FlushWithContext(ctx)
	}
	return c.conn.FlushTimeout(5 * time.Second)
}

// Close drains and closes the connection.
func (c *NATSChannel) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Drain()
}
