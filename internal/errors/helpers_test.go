package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTransportErrorRetryability(t *testing.T) {
	tests := []struct {
		statusCode int
		retryable  bool
	}{
		{statusCode: 500, retryable: true},
		{statusCode: 503, retryable: true},
		{statusCode: 429, retryable: true},
		{statusCode: 408, retryable: true},
		{statusCode: 400, retryable: false},
		{statusCode: 404, retryable: false},
		{statusCode: 401, retryable: false},
	}

	for _, tt := range tests {
		err := NewTransportError("/api/sendText", tt.statusCode, stderrors.New("http error"))
		assert.Equal(t, tt.retryable, err.Retryable, "status %d", tt.statusCode)
		assert.Equal(t, ErrCodeTransportAPI, err.Code)
		assert.Equal(t, tt.statusCode, err.Context["status_code"])
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("destination", "abc", "must contain only digits")

	assert.Equal(t, ErrCodeValidationFailed, err.Code)
	assert.Equal(t, "destination", err.Context["field"])
	assert.Contains(t, err.UserMessage, "destination")
}

func TestNewTimeoutError(t *testing.T) {
	cause := stderrors.New("context deadline exceeded")
	err := NewTimeoutError("/api/sendText", "15s", cause)

	assert.Equal(t, ErrCodeTimeout, err.Code)
	assert.True(t, err.Retryable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "15s")
}

func TestNewStoreError(t *testing.T) {
	err := NewStoreError("insert", stderrors.New("disk full"))

	assert.Equal(t, ErrCodeStoreQuery, err.Code)
	assert.Contains(t, err.Error(), "insert")
	assert.Contains(t, err.Error(), "disk full")
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("dead letter entry", "abc-123")

	assert.Equal(t, ErrCodeNotFound, err.Code)
	assert.Equal(t, "abc-123", err.Context["identifier"])
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "validation", err: New(ErrCodeValidationFailed, "x"), expected: 400},
		{name: "invalid input", err: New(ErrCodeInvalidInput, "x"), expected: 400},
		{name: "not found", err: New(ErrCodeNotFound, "x"), expected: 404},
		{name: "rate limit", err: New(ErrCodeRateLimit, "x"), expected: 429},
		{name: "timeout", err: New(ErrCodeTimeout, "x"), expected: 408},
		{name: "dead lettered", err: New(ErrCodeDeadLettered, "x"), expected: 422},
		{name: "retryable transport", err: NewTransportError("/x", 502, stderrors.New("x")), expected: 502},
		{name: "non-retryable transport", err: New(ErrCodeTransportAPI, "x"), expected: 500},
		{name: "store", err: New(ErrCodeStoreIO, "x"), expected: 503},
		{name: "plain error", err: stderrors.New("x"), expected: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatusCode(tt.err))
		})
	}
}
