// Package models defines the core data types shared by the alert engine.
package models

import "time"

// Quote is a single observed price for a pair.
type Quote struct {
	Pair      Pair      `json:"pair"`
	Price     float64   `json:"price"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertStats summarises the registry contents.
type AlertStats struct {
	Total     int            `json:"total"`
	Pending   int            `json:"pending"`
	Fired     int            `json:"fired"`
	Cancelled int            `json:"cancelled"`
	ByAsset   map[string]int `json:"by_asset,omitempty"`
}
