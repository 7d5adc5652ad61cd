package retry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"wadeliver/internal/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SendFunc is the delivery primitive retried by the queue.
type SendFunc func(ctx context.Context, msg *models.Message) error

// QueueConfig tunes admission and retry behavior.
type QueueConfig struct {
	// Concurrency bounds how many deliveries may be in flight at once.
	Concurrency int
	// RatePerSec and Burst feed the token bucket that admits work.
	RatePerSec int
	Burst      int
	// Backoff is the per-message retry policy.
	Backoff BackoffConfig
}

// DefaultQueueConfig returns the standard delivery queue tuning.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Concurrency: 3,
		RatePerSec:  5,
		Burst:       5,
		Backoff:     DefaultBackoffConfig(),
	}
}

// QueueStats is a point-in-time snapshot of queue occupancy.
type QueueStats struct {
	Queued      int `json:"queued"`
	InFlight    int `json:"inFlight"`
	Concurrency int `json:"concurrency"`
}

// Queue is a concurrency-bounded, rate-limited retry queue. Callers block
// in SendWithRetry until their message reaches a terminal outcome, so
// bursts of sends cannot overwhelm the transport.
type Queue struct {
	config  QueueConfig
	backoff *Backoff
	limiter *rate.Limiter
	sem     chan struct{}
	logger  *logrus.Logger

	queued   int32
	inFlight int32

	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

// NewQueue creates a retry queue with the given tuning.
func NewQueue(config QueueConfig, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	def := DefaultQueueConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.RatePerSec <= 0 {
		config.RatePerSec = def.RatePerSec
	}
	if config.Burst <= 0 {
		config.Burst = config.RatePerSec
	}
	if config.Backoff.MaxAttempts <= 0 {
		config.Backoff = def.Backoff
	}

	resume := make(chan struct{})
	close(resume)

	return &Queue{
		config:  config,
		backoff: NewBackoff(config.Backoff),
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSec), config.Burst),
		sem:     make(chan struct{}, config.Concurrency),
		logger:  logger,
		resume:  resume,
	}
}

// SendWithRetry delivers msg through fn with bounded retries. The message's
// attempt counter is incremented on every try. On exhaustion the last
// underlying error is returned; the caller decides what happens next.
func (q *Queue) SendWithRetry(ctx context.Context, fn SendFunc, msg *models.Message) error {
	atomic.AddInt32(&q.queued, 1)

	admitted := false
	defer func() {
		if !admitted {
			atomic.AddInt32(&q.queued, -1)
		}
	}()

	if err := q.waitResume(ctx); err != nil {
		return err
	}

	if err := q.limiter.Wait(ctx); err != nil {
		return err
	}

	select {
	case q.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	admitted = true
	atomic.AddInt32(&q.queued, -1)
	atomic.AddInt32(&q.inFlight, 1)
	defer func() {
		atomic.AddInt32(&q.inFlight, -1)
		<-q.sem
	}()

	return q.attempt(ctx, fn, msg)
}

func (q *Queue) attempt(ctx context.Context, fn SendFunc, msg *models.Message) error {
	var lastErr error
	maxAttempts := q.config.Backoff.MaxAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg.Attempts++
		err := fn(ctx, msg)
		if err == nil {
			return nil
		}

		lastErr = err
		q.logger.WithFields(logrus.Fields{
			"destination":       msg.DestinationID,
			"client_message_id": msg.ClientMessageID,
			"attempt":           attempt,
			"remaining":         maxAttempts - attempt,
			"error":             err.Error(),
		}).Warn("Delivery attempt failed")

		if attempt == maxAttempts {
			break
		}

		delay := q.backoff.GetNextDelay(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

// waitResume blocks while the queue is paused.
func (q *Queue) waitResume(ctx context.Context) error {
	for {
		q.mu.Lock()
		paused := q.paused
		resume := q.resume
		q.mu.Unlock()

		if !paused {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resume:
		}
	}
}

// Pause stops admitting new work. In-flight deliveries finish normally.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused {
		return
	}
	q.paused = true
	q.resume = make(chan struct{})
	q.logger.Info("Retry queue paused")
}

// Start resumes admission after a Pause.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.paused {
		return
	}
	q.paused = false
	close(q.resume)
	q.logger.Info("Retry queue started")
}

// Stats returns a snapshot of queue occupancy.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Queued:      int(atomic.LoadInt32(&q.queued)),
		InFlight:    int(atomic.LoadInt32(&q.inFlight)),
		Concurrency: q.config.Concurrency,
	}
}
