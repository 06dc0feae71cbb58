// Package notify delivers fired-alert notifications to users.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/config"
	apperrors "price-alerts/internal/errors"
	"price-alerts/internal/logging"
	"price-alerts/internal/models"
	"price-alerts/internal/security"
)

// Dispatcher delivers the notification for one fired alert. A returned error
// is reported by the caller; the alert stays fired either way.
type Dispatcher interface {
	Deliver(ctx context.Context, ev models.FiredEvent) error
}

// RecipientKind says whether a notification targets a shared channel or a user.
type RecipientKind string

const (
	RecipientChannel RecipientKind = "channel"
	RecipientDirect  RecipientKind = "direct"
)

// Recipient is where a channel should route one notification.
type Recipient struct {
	Kind RecipientKind `json:"kind"`
	ID   string        `json:"id"`
}

func (r Recipient) String() string {
	return string(r.Kind) + ":" + r.ID
}

// Channel is a single delivery mechanism.
type Channel interface {
	Name() string
	IsEnabled() bool
	Send(ctx context.Context, to Recipient, n Notification) error
}

// Closer is implemented by channels holding connections.
type Closer interface {
	Close() error
}

// Notification is a rendered message plus the raw event.
type Notification struct {
	Title     string
	Message   string
	Event     models.FiredEvent
	Timestamp time.Time
}

// Router sends each fired alert through every enabled channel. A delivery to
// the alert's destination that fails is retried as a direct message to the
// owner.
type Router struct {
	channels []Channel
	render   func(models.FiredEvent) (string, string)
	logger   zerolog.Logger
	mu       sync.RWMutex
}

// NewRouter creates a router with the channels enabled in cfg.
func NewRouter(cfg config.NotificationConfig, logger zerolog.Logger) (*Router, error) {
	r := &Router{
		render: Render,
		logger: logging.WithComponent(logger, "notify"),
	}

	if cfg.Log {
		r.channels = append(r.channels, NewLogChannel(logger))
	}
	if cfg.Terminal.Enabled {
		r.channels = append(r.channels, NewTerminalChannel(cfg.Terminal))
	}
	if cfg.Webhook.Enabled {
		r.channels = append(r.channels, NewWebhookChannel(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		tg, err := NewTelegramChannel(cfg.Telegram)
		if err != nil {
			return nil, err
		}
		r.channels = append(r.channels, tg)
	}
	if cfg.Email.Enabled {
		r.channels = append(r.channels, NewEmailChannel(cfg.Email))
	}
	if cfg.NATS.Enabled {
		nc, err := NewNATSChannel(cfg.NATS)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.channels = append(r.channels, nc)
	}

	return r, nil
}

// NewRouterWithChannels creates a router over the given channels.
func NewRouterWithChannels(logger zerolog.Logger, channels ...Channel) *Router {
	return &Router{
		channels: channels,
		render:   Render,
		logger:   logging.WithComponent(logger, "notify"),
	}
}

// Channels returns the names of the enabled channels.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for _, ch := range r.channels {
		if ch.IsEnabled() {
			names = append(names, ch.Name())
		}
	}
	return names
}

// Deliver sends ev through every enabled channel.
func (r *Router) Deliver(ctx context.Context, ev models.FiredEvent) error {
	title, message := r.render(ev)
	n := Notification{
		Title:     title,
		Message:   message,
		Event:     ev,
		Timestamp: time.Now(),
	}

	r.mu.RLock()
	channels := r.channels
	r.mu.RUnlock()

	var errs []error
	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		if err := r.deliverTo(ctx, ch, n); err != nil {
			errs = append(errs, apperrors.NewDeliveryError(ev.AlertID, ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) deliverTo(ctx context.Context, ch Channel, n Notification) error {
	direct := Recipient{Kind: RecipientDirect, ID: n.Event.Owner}
	if n.Event.Destination == "" {
		return ch.Send(ctx, direct, n)
	}

	err := ch.Send(ctx, Recipient{Kind: RecipientChannel, ID: n.Event.Destination}, n)
	if err == nil {
		return nil
	}
	r.logger.Warn().
		Str("alert_id", n.Event.AlertID).
		Str("channel", ch.Name()).
		Str("destination", n.Event.Destination).
		Err(err).
		Msg("Channel delivery failed, falling back to owner")

	if ferr := ch.Send(ctx, direct, n); ferr != nil {
		return fmt.Errorf("destination: %v; owner fallback: %w", err, ferr)
	}
	return nil
}

// Close releases channel connections.
func (r *Router) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, ch := range r.channels {
		if c, ok := ch.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// WebhookChannel posts notifications as JSON to an HTTP endpoint.
type WebhookChannel struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookChannel creates a new WebhookChannel.
func NewWebhookChannel(cfg config.WebhookConfig) *WebhookChannel {
	return &WebhookChannel{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the channel.
func (w *WebhookChannel) Name() string {
	return "webhook"
}

// IsEnabled returns whether the channel is enabled.
func (w *WebhookChannel) IsEnabled() bool {
	return w.enabled
}

// Send posts the notification. The recipient is included in the payload for
// the receiving service to route.
func (w *WebhookChannel) Send(ctx context.Context, to Recipient, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      "alert_fired",
		"title":     n.Title,
		"message":   n.Message,
		"recipient": to,
		"event":     n.Event,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PriceAlerts/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return security.RedactError(fmt.Errorf("sending webhook: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// EmailChannel sends notifications via email using SMTP.
type EmailChannel struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	domain   string
	enabled  bool

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates a new EmailChannel.
func NewEmailChannel(cfg config.EmailConfig) *EmailChannel {
	return &EmailChannel{
		smtpHost: cfg.SMTPHost,
		smtpPort: cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		domain:   cfg.Domain,
		enabled:  cfg.Enabled && cfg.SMTPHost != "" && cfg.From != "",
		send:     smtp.SendMail,
	}
}

// Name returns the name of the channel.
func (e *EmailChannel) Name() string {
	return "email"
}

// IsEnabled returns whether the channel is enabled.
func (e *EmailChannel) IsEnabled() bool {
	return e.enabled
}

// Address resolves a recipient to a mailbox. Owners without an '@' are
// addressed within the configured domain; channel ids must be mailboxes.
func (e *EmailChannel) Address(to Recipient) (string, error) {
	if strings.Contains(to.ID, "@") {
		return to.ID, nil
	}
	if to.Kind == RecipientDirect && e.domain != "" && to.ID != "" {
		return to.ID + "@" + e.domain, nil
	}
	return "", fmt.Errorf("no mailbox for %s", to)
}

// Send sends a notification via email.
func (e *EmailChannel) Send(ctx context.Context, to Recipient, n Notification) error {
	if !e.enabled {
		return nil
	}

	rcpt, err := e.Address(to)
	if err != nil {
		return err
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		e.from, rcpt, n.Title, n.Message)

	addr := fmt.Sprintf("%s:%d", e.smtpHost, e.smtpPort)

	var auth smtp.Auth
	if e.username != "" && e.password != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.smtpHost)
	}

	// net/smtp has no context support; run it aside so a cancelled delivery returns.
	done := make(chan error, 1)
	go func() {
		if e.smtpPort == 465 {
			done <- e.sendWithTLS(addr, auth, rcpt, msg)
			return
		}
		done <- e.send(addr, auth, e.from, []string{rcpt}, []byte(msg))
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendWithTLS sends email using implicit TLS (port 465).
func (e *EmailChannel) sendWithTLS(addr string, auth smtp.Auth, rcpt, msg string) error {
	tlsConfig := &tls.Config{
		ServerName: e.smtpHost,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("TLS dial failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.smtpHost)
	if err != nil {
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}

	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("SMTP MAIL command failed: %w", err)
	}

	if err := client.Rcpt(rcpt); err != nil {
		return fmt.Errorf("SMTP RCPT command failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA command failed: %w", err)
	}

	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}

// NoOpDispatcher drops every notification.
type NoOpDispatcher struct{}

// Deliver does nothing.
func (NoOpDispatcher) Deliver(ctx context.Context, ev models.FiredEvent) error {
	return nil
}

var (
	_ Dispatcher = (*Router)(nil)
	_ Dispatcher = NoOpDispatcher{}
)
