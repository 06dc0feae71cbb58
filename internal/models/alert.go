package models

import (
	"strings"
	"time"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertPending   AlertStatus = "pending"
	AlertFired     AlertStatus = "fired"
	AlertCancelled AlertStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s AlertStatus) IsTerminal() bool {
	return s == AlertFired || s == AlertCancelled
}

// Valid reports whether s is a known status.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertPending, AlertFired, AlertCancelled:
		return true
	}
	return false
}

// Operator is the comparator applied between the observed price and the threshold.
type Operator string

const (
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpEqual        Operator = "=="
)

// ParseOperator accepts the comparator symbols plus the "above"/"below" words.
func ParseOperator(s string) (Operator, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ">=", "above":
		return OpGreaterEqual, true
	case "<=", "below":
		return OpLessEqual, true
	case ">":
		return OpGreater, true
	case "<":
		return OpLess, true
	case "==", "=":
		return OpEqual, true
	}
	return "", false
}

// Pair identifies one price lookup.
type Pair struct {
	Asset         string `json:"asset"`
	QuoteCurrency string `json:"quote_currency"`
}

func (p Pair) String() string {
	return p.Asset + "/" + p.QuoteCurrency
}

// CanonicalSymbol trims and upper-cases an asset or currency symbol.
func CanonicalSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Alert represents a price alert.
type Alert struct {
	ID            string      `json:"id"`
	Owner         string      `json:"owner"`
	Destination   string      `json:"destination,omitempty"` // channel id, empty means direct to owner
	Asset         string      `json:"asset"`
	QuoteCurrency string      `json:"quote_currency"`
	Operator      Operator    `json:"operator"`
	Threshold     float64     `json:"threshold"`
	Status        AlertStatus `json:"status"`
	Note          string      `json:"note,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	FiredAt       *time.Time  `json:"fired_at,omitempty"`
	FiredPrice    float64     `json:"fired_price,omitempty"`
	CancelledAt   *time.Time  `json:"cancelled_at,omitempty"`
}

// Pair returns the price lookup the alert depends on.
func (a Alert) Pair() Pair {
	return Pair{Asset: a.Asset, QuoteCurrency: a.QuoteCurrency}
}

// Clone returns a deep copy so callers never share the timestamp pointers.
func (a Alert) Clone() Alert {
	c := a
	if a.FiredAt != nil {
		t := *a.FiredAt
		c.FiredAt = &t
	}
	if a.CancelledAt != nil {
		t := *a.CancelledAt
		c.CancelledAt = &t
	}
	return c
}

// FiredEvent carries the raw facts of a fired alert to the dispatcher.
type FiredEvent struct {
	AlertID       string    `json:"alert_id"`
	Owner         string    `json:"owner"`
	Destination   string    `json:"destination,omitempty"`
	Asset         string    `json:"asset"`
	QuoteCurrency string    `json:"quote_currency"`
	Operator      Operator  `json:"operator"`
	Threshold     float64   `json:"threshold"`
	Price         float64   `json:"price"`
	FiredAt       time.Time `json:"fired_at"`
	Note          string    `json:"note,omitempty"`
}

// NewFiredEvent builds the event for a fired alert.
func NewFiredEvent(a Alert, price float64, at time.Time) FiredEvent {
	return FiredEvent{
		AlertID:       a.ID,
		Owner:         a.Owner,
		Destination:   a.Destination,
		Asset:         a.Asset,
		QuoteCurrency: a.QuoteCurrency,
		Operator:      a.Operator,
		Threshold:     a.Threshold,
		Price:         price,
		FiredAt:       at,
		Note:          a.Note,
	}
}
