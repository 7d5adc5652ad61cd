package models

import (
	"time"
)

// ErrorDetail captures a failure as plain strings. Live error values are
// flattened at capture time so an unserializable cause can never prevent
// the message itself from being persisted.
type ErrorDetail struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	Stack   string `json:"stack,omitempty"`
}

// DeadLetterEntry is the durable record of a permanently failed delivery.
type DeadLetterEntry struct {
	ID        string      `json:"id"`
	Message   Message     `json:"message"`
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
	Attempts  int         `json:"attempts"`
}

// DeadLetterStats summarizes the current store contents.
type DeadLetterStats struct {
	Total       int        `json:"total"`
	Last24h     int        `json:"last24h"`
	OldestEntry *time.Time `json:"oldestEntry,omitempty"`
	NewestEntry *time.Time `json:"newestEntry,omitempty"`
}
