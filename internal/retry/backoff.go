package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// BackoffConfig contains configuration for exponential backoff
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	MaxAttempts  int           `json:"max_attempts"`
	Jitter       bool          `json:"jitter"`
}

// DefaultBackoffConfig returns the delivery retry policy tuning.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       false,
	}
}

// Backoff implements exponential backoff with optional jitter
type Backoff struct {
	config BackoffConfig
}

// NewBackoff creates a new exponential backoff instance
func NewBackoff(config BackoffConfig) *Backoff {
	return &Backoff{
		config: config,
	}
}

// Retry executes the operation with exponential backoff retry logic
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	return b.RetryWithPredicate(ctx, operation, func(error) bool { return true })
}

// RetryWithPredicate executes the operation with exponential backoff, using
// a predicate to determine if errors are retryable
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func() error, isRetryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if !isRetryable(err) {
			return err
		}

		// Don't wait after the last attempt
		if attempt == b.config.MaxAttempts {
			break
		}

		delay := b.calculateDelay(attempt)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

// calculateDelay computes the delay for the given attempt with exponential backoff and optional jitter
func (b *Backoff) calculateDelay(attempt int) time.Duration {
	delay := float64(b.config.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= b.config.Multiplier
	}

	if delay > float64(b.config.MaxDelay) {
		delay = float64(b.config.MaxDelay)
	}

	// Optional ±25% jitter
	if b.config.Jitter {
		jitter := delay * 0.25
		randomValue := secureFloat64()
		delay += (randomValue - 0.5) * 2 * jitter

		if delay < 0 {
			delay = float64(b.config.InitialDelay)
		}
		if delay > float64(b.config.MaxDelay) {
			delay = float64(b.config.MaxDelay)
		}
	}

	return time.Duration(delay)
}

// GetNextDelay returns the delay that would be used for the given attempt (for testing/monitoring)
func (b *Backoff) GetNextDelay(attempt int) time.Duration {
	return b.calculateDelay(attempt)
}

// secureFloat64 generates a cryptographically secure float64 between 0 and 1
func secureFloat64() float64 {
	max := big.NewInt(0).SetUint64(math.MaxUint64)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		// Fallback to time-based value if crypto/rand fails
		return float64(time.Now().UnixNano()%1000000) / 1000000.0
	}

	return float64(n.Uint64()) / float64(math.MaxUint64)
}
