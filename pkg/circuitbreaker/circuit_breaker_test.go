package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransportDown = errors.New("transport down")

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestBreaker(resetTimeout time.Duration) *CircuitBreaker {
	return New("test", Config{
		FailureRatePct: 50,
		MinSamples:     5,
		ResetTimeout:   resetTimeout,
		CallTimeout:    time.Second,
	}, quietLogger())
}

func failN(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return errTransportDown
		})
		require.Error(t, err)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}

func TestNewAppliesDefaults(t *testing.T) {
	cb := New("defaults", Config{}, nil)

	assert.Equal(t, DefaultConfig(), cb.config)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestClosedBreakerPassesCallsThrough(t *testing.T) {
	cb := newTestBreaker(time.Hour)

	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(time.Hour)

	failN(t, cb, 5)

	assert.Equal(t, StateOpen, cb.GetState())
}

func TestBreakerStaysClosedBelowMinSamples(t *testing.T) {
	cb := newTestBreaker(time.Hour)

	failN(t, cb, 4)

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestBreakerStaysClosedBelowFailureRate(t *testing.T) {
	cb := newTestBreaker(time.Hour)

	// 2 failures out of 6 calls is 33%, under the 50% threshold.
	failN(t, cb, 2)
	for i := 0; i < 4; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return nil
		})
		require.NoError(t, err)
	}

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestOpenBreakerRejectsWithoutInvokingCall(t *testing.T) {
	cb := newTestBreaker(time.Hour)
	failN(t, cb, 5)

	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, IsCircuitOpenError(err))

	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "test", openErr.Name)
	assert.Greater(t, openErr.RetryAfter, time.Duration(0))
}

func TestHalfOpenAllowsSingleProbe(t *testing.T) {
	cb := newTestBreaker(20 * time.Millisecond)
	failN(t, cb, 5)
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(30 * time.Millisecond)

	// First call after the reset timeout is the probe and is let through.
	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- cb.Execute(context.Background(), func(ctx context.Context) error {
			close(probeStarted)
			<-probeRelease
			return nil
		})
	}()
	<-probeStarted
	assert.Equal(t, StateHalfOpen, cb.GetState())

	// A second call while the probe is in flight is rejected.
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("second call must not run during probe")
		return nil
	})
	assert.True(t, IsCircuitOpenError(err))

	close(probeRelease)
	assert.NoError(t, <-probeDone)
}

func TestProbeSuccessClosesBreaker(t *testing.T) {
	cb := newTestBreaker(10 * time.Millisecond)
	failN(t, cb, 5)

	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())

	stats := cb.GetStats()
	assert.Equal(t, uint32(0), stats.Failures)
	assert.Equal(t, uint32(0), stats.Total)
}

func TestProbeFailureReopensBreaker(t *testing.T) {
	cb := newTestBreaker(10 * time.Millisecond)
	failN(t, cb, 5)

	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return errTransportDown
	})

	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.GetState())

	// Immediately after the failed probe, calls are rejected again.
	err = cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("call must not run while reopened")
		return nil
	})
	assert.True(t, IsCircuitOpenError(err))
}

func TestCallTimeoutCountsAsFailure(t *testing.T) {
	cb := New("timeout", Config{
		FailureRatePct: 50,
		MinSamples:     1,
		ResetTimeout:   time.Hour,
		CallTimeout:    10 * time.Millisecond,
	}, quietLogger())

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestEventsEmittedOnTransitions(t *testing.T) {
	cb := newTestBreaker(10 * time.Millisecond)
	failN(t, cb, 5)

	select {
	case change := <-cb.Events():
		assert.Equal(t, "test", change.Name)
		assert.Equal(t, StateClosed, change.From)
		assert.Equal(t, StateOpen, change.To)
		assert.False(t, change.At.IsZero())
	default:
		t.Fatal("expected an open transition event")
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	}))

	// Open -> half-open -> closed while recovering.
	var transitions []State
	for len(cb.Events()) > 0 {
		transitions = append(transitions, (<-cb.Events()).To)
	}
	assert.Equal(t, []State{StateHalfOpen, StateClosed}, transitions)
}

func TestGetStats(t *testing.T) {
	cb := newTestBreaker(time.Hour)
	failN(t, cb, 2)

	stats := cb.GetStats()
	assert.Equal(t, "test", stats.Name)
	assert.Equal(t, "CLOSED", stats.State)
	assert.Equal(t, uint32(2), stats.Failures)
	assert.Equal(t, uint32(2), stats.Total)
}

func TestReset(t *testing.T) {
	cb := newTestBreaker(time.Hour)
	failN(t, cb, 5)
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()

	assert.Equal(t, StateClosed, cb.GetState())
	stats := cb.GetStats()
	assert.Equal(t, uint32(0), stats.Failures)
	assert.Equal(t, uint32(0), stats.Total)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestWindowResetDropsStaleHistory(t *testing.T) {
	cb := newTestBreaker(time.Hour)

	// Fill a full window with successes; counters reset at the boundary.
	for i := 0; i < windowSize; i++ {
		require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error {
			return nil
		}))
	}

	stats := cb.GetStats()
	assert.Equal(t, uint32(0), stats.Total)
}

func TestCircuitOpenErrorMessage(t *testing.T) {
	withRetry := &CircuitOpenError{Name: "api", RetryAfter: 2 * time.Second}
	assert.Contains(t, withRetry.Error(), "api")
	assert.Contains(t, withRetry.Error(), "retry after")

	bare := &CircuitOpenError{Name: "api"}
	assert.Equal(t, "circuit breaker 'api' is open", bare.Error())

	assert.False(t, IsCircuitOpenError(errors.New("other")))
	assert.False(t, IsCircuitOpenError(nil))
}
