package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"price-alerts/internal/config"
	"price-alerts/internal/models"
)

// TerminalChannel prints fired alerts to the console.
type TerminalChannel struct {
	out         io.Writer
	bellEnabled bool
	mu          sync.Mutex
}

// NewTerminalChannel creates a channel writing to the colour-aware stdout.
func NewTerminalChannel(cfg config.TerminalConfig) *TerminalChannel {
	return &TerminalChannel{
		out:         color.Output,
		bellEnabled: cfg.Bell,
	}
}

// NewTerminalChannelWriter creates a channel writing to w.
func NewTerminalChannelWriter(w io.Writer, bell bool) *TerminalChannel {
	return &TerminalChannel{out: w, bellEnabled: bell}
}

// Name returns the name of the channel.
func (t *TerminalChannel) Name() string {
	return "terminal"
}

// IsEnabled returns whether the channel is enabled.
func (t *TerminalChannel) IsEnabled() bool {
	return true
}

// Send prints the notification. Channel destinations are only shown, so
// the terminal never triggers the owner fallback.
func (t *TerminalChannel) Send(ctx context.Context, to Recipient, n Notification) error {
	line := FormatTerminal(n.Event, to)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bellEnabled {
		fmt.Fprint(t.out, "\a")
	}
	_, err := fmt.Fprintln(t.out, line)
	return err
}

// FormatTerminal renders a single console line for a fired alert.
func FormatTerminal(ev models.FiredEvent, to Recipient) string {
	var sb strings.Builder

	indicator := color.New(color.FgYellow, color.Bold).Sprint("🔔 ALERT")
	switch ev.Operator {
	case models.OpGreaterEqual, models.OpGreater:
		indicator = color.New(color.FgGreen, color.Bold).Sprint("📈 ALERT")
	case models.OpLessEqual, models.OpLess:
		indicator = color.New(color.FgRed, color.Bold).Sprint("📉 ALERT")
	}

	sb.WriteString(fmt.Sprintf("[%s] %s", ev.FiredAt.Local().Format("15:04:05"), indicator))
	sb.WriteString(fmt.Sprintf(" | %s/%s", ev.Asset, ev.QuoteCurrency))
	sb.WriteString(fmt.Sprintf(" | price %s %s → %s",
		ev.Operator, humanize.Commaf(ev.Threshold), humanize.Commaf(ev.Price)))
	sb.WriteString(fmt.Sprintf(" | %s", to))
	if ev.Note != "" {
		sb.WriteString(fmt.Sprintf("\n    → %s", ev.Note))
	}
	return sb.String()
}
