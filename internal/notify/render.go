package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"price-alerts/internal/models"
)

// Render produces the default title and plain-text body for a fired alert.
func Render(ev models.FiredEvent) (string, string) {
	emoji := "🔔"
	switch ev.Operator {
	case models.OpGreaterEqual, models.OpGreater:
		emoji = "📈"
	case models.OpLessEqual, models.OpLess:
		emoji = "📉"
	}

	title := fmt.Sprintf("%s Alert Triggered: %s/%s", emoji, ev.Asset, ev.QuoteCurrency)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Alert: %s\n", ev.AlertID))
	sb.WriteString(fmt.Sprintf("Condition: price %s %s %s\n", ev.Operator, humanize.Commaf(ev.Threshold), ev.QuoteCurrency))
	sb.WriteString(fmt.Sprintf("Current price: %s %s\n", humanize.Commaf(ev.Price), ev.QuoteCurrency))
	if ev.Threshold > 0 {
		sb.WriteString(fmt.Sprintf("Distance: %+.2f%%\n", (ev.Price-ev.Threshold)/ev.Threshold*100))
	}
	if ev.Note != "" {
		sb.WriteString(fmt.Sprintf("Note: %s\n", ev.Note))
	}
	sb.WriteString(fmt.Sprintf("Triggered at: %s", ev.FiredAt.UTC().Format(time.RFC3339)))

	return title, sb.String()
}

