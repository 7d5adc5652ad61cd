package models

import (
	"time"
)

type MessageStatus string

const (
	MessageStatusPending      MessageStatus = "pending"
	MessageStatusSent         MessageStatus = "sent"
	MessageStatusFailed       MessageStatus = "failed"
	MessageStatusDeadLettered MessageStatus = "dead_lettered"
)

// IsTerminal reports whether the status is a terminal lifecycle state.
func (s MessageStatus) IsTerminal() bool {
	return s == MessageStatusSent || s == MessageStatusDeadLettered
}

// Attachment describes an optional binary payload attached to a message.
type Attachment struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
	FileName string `json:"fileName"`
}

// Message is a single unit of outbound work. It is created by the caller
// at send time and mutated only by the sender and the retry queue.
type Message struct {
	DestinationID   string        `json:"destinationId"`
	Body            string        `json:"body,omitempty"`
	Attachment      *Attachment   `json:"attachment,omitempty"`
	ClientMessageID string        `json:"clientMessageId"`
	Attempts        int           `json:"attempts"`
	Status          MessageStatus `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// SendRequest is the inbound API payload.
type SendRequest struct {
	To              string      `json:"to"`
	Body            string      `json:"body,omitempty"`
	Attachment      *Attachment `json:"attachment,omitempty"`
	ClientMessageID string      `json:"clientMessageId,omitempty"`
}

// SendResult is the structured outcome every send returns. The sender
// never propagates an error to its caller; failures are encoded here.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	DLQID     string `json:"dlqId,omitempty"`
	// Err carries the structured cause for in-process consumers; the wire
	// representation is the Error/Code pair above.
	Err error `json:"-"`
}
