package errors

import (
	"fmt"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewTransportError creates an error for a failed transport API call. Server
// side failures and throttling are marked retryable.
func NewTransportError(endpoint string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeTransportAPI, "transport API call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)

	if statusCode >= 500 || statusCode == 429 || statusCode == 408 {
		appErr.Retryable = true
	}

	return appErr
}

// NewStoreError creates a dead letter store error with operation context
func NewStoreError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeStoreQuery, fmt.Sprintf("dead letter store %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Storage operation failed")
}

// NewTimeoutError creates a timeout error. Timeouts are always retryable.
func NewTimeoutError(operation, duration string, cause error) *AppError {
	return WrapRetryable(cause, ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit int, window string) *AppError {
	return New(ErrCodeRateLimit, "rate limit exceeded").
		WithContext("limit", limit).
		WithContext("window", window).
		WithUserMessage("Too many requests, please try again later")
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	code := GetCode(err)

	switch code {
	case ErrCodeValidationFailed, ErrCodeInvalidInput:
		return 400
	case ErrCodeNotFound:
		return 404
	case ErrCodeRateLimit:
		return 429
	case ErrCodeTimeout:
		return 408
	case ErrCodeDeadLettered:
		// Accepted but undeliverable; the entry is parked for replay.
		return 422
	case ErrCodeTransportAPI, ErrCodeRetryExhausted:
		if IsRetryable(err) {
			return 502
		}
		return 500
	case ErrCodeStoreIO, ErrCodeStoreQuery:
		return 503
	default:
		return 500
	}
}
