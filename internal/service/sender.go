package service

import (
	"context"
	"fmt"
	"time"

	"wadeliver/internal/deadletter"
	apperrors "wadeliver/internal/errors"
	"wadeliver/internal/metrics"
	"wadeliver/internal/models"
	"wadeliver/internal/retry"
	"wadeliver/internal/sanitizer"
	"wadeliver/internal/validation"
	"wadeliver/pkg/circuitbreaker"
	"wadeliver/pkg/whatsapp"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ConfirmationFunc reports a terminal delivery outcome to the external
// caller. It is invoked exactly once per terminal outcome, never on
// intermediate retries.
type ConfirmationFunc func(destination, messageID string, status models.MessageStatus)

// RetryQueue is the retry manager contract the sender falls back to when
// the breaker path fails.
type RetryQueue interface {
	SendWithRetry(ctx context.Context, fn retry.SendFunc, msg *models.Message) error
	Stats() retry.QueueStats
	Pause()
	Start()
}

// Sender is the single entry point external callers use. It composes the
// sanitizer, circuit breaker, retry queue and dead letter store into one
// delivery attempt with a deterministic fallback order, and never returns
// an error: every outcome is a structured SendResult.
type Sender struct {
	transport whatsapp.Transport
	breaker   *circuitbreaker.CircuitBreaker
	queue     RetryQueue
	store     deadletter.Store
	sanitizer *sanitizer.Sanitizer
	strategy  sanitizer.Strategy
	confirm   ConfirmationFunc
	logger    *logrus.Logger
}

// NewSender wires the delivery pipeline together. All collaborators are
// injected; the sender owns no hidden process-wide state.
func NewSender(
	transport whatsapp.Transport,
	breaker *circuitbreaker.CircuitBreaker,
	queue RetryQueue,
	store deadletter.Store,
	san *sanitizer.Sanitizer,
	strategy sanitizer.Strategy,
	confirm ConfirmationFunc,
	logger *logrus.Logger,
) *Sender {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sender{
		transport: transport,
		breaker:   breaker,
		queue:     queue,
		store:     store,
		sanitizer: san,
		strategy:  strategy,
		confirm:   confirm,
		logger:    logger,
	}
}

// SendMessage attempts delivery of req and always returns a structured
// outcome: direct success through the breaker, success after bounded
// retries, or a dead-letter id after exhaustion.
func (s *Sender) SendMessage(ctx context.Context, req *models.SendRequest) *models.SendResult {
	msg := &models.Message{
		DestinationID:   req.To,
		Body:            req.Body,
		Attachment:      req.Attachment,
		ClientMessageID: req.ClientMessageID,
		Status:          models.MessageStatusPending,
		CreatedAt:       time.Now(),
	}
	if msg.ClientMessageID == "" {
		msg.ClientMessageID = uuid.New().String()
	}

	return s.send(ctx, msg, true)
}

// send runs the full fallback pipeline. When deadLetterOnFailure is false
// (manual replay), exhaustion does not create a duplicate store entry.
func (s *Sender) send(ctx context.Context, msg *models.Message, deadLetterOnFailure bool) *models.SendResult {
	dest, err := validation.NormalizeDestination(msg.DestinationID)
	if err != nil {
		return s.fail(ctx, msg, err, deadLetterOnFailure)
	}
	msg.DestinationID = dest

	san := s.sanitizer.Process(msg.Body, s.strategy)
	if !san.Safe {
		s.logger.WithFields(logrus.Fields{
			"destination": dest,
			"issues":      san.Issues,
		}).Warn("Message body replaced with safe fallback text")
	}
	msg.Body = san.Processed

	// First attempt goes through the circuit breaker. The closure writes
	// only its own capture: a call abandoned by the breaker on timeout
	// keeps running, and must never touch state the retry path shares.
	var breakerID string
	start := time.Now()
	breakerErr := s.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := s.deliverOnce(ctx, msg)
		if err != nil {
			return err
		}
		breakerID = resp.MessageID
		return nil
	})
	metrics.RecordTimer(metrics.MetricAttemptDuration, time.Since(start))
	if !circuitbreaker.IsCircuitOpenError(breakerErr) {
		msg.Attempts++
	}

	if breakerErr == nil {
		return s.succeed(msg, breakerID)
	}

	if circuitbreaker.IsCircuitOpenError(breakerErr) {
		s.logger.WithFields(logrus.Fields{
			"destination": dest,
		}).Warn("Circuit open, routing message to retry queue")
	} else {
		s.logger.WithFields(logrus.Fields{
			"destination": dest,
			"error":       breakerErr.Error(),
		}).Warn("Breaker path delivery failed, falling back to retry queue")
	}

	// Fallback: the bounded retry queue, with its own result capture.
	metrics.IncrementCounter(metrics.MetricMessagesRetried, nil)
	var queueID string
	retryErr := s.queue.SendWithRetry(ctx, func(ctx context.Context, m *models.Message) error {
		resp, err := s.deliverOnce(ctx, m)
		if err != nil {
			return err
		}
		queueID = resp.MessageID
		return nil
	}, msg)
	if retryErr != nil {
		cause := apperrors.WrapRetryable(retryErr, apperrors.ErrCodeRetryExhausted,
			fmt.Sprintf("delivery failed after %d attempts", msg.Attempts)).
			WithContext("destination", dest).
			WithContext("attempts", msg.Attempts)
		return s.fail(ctx, msg, cause, deadLetterOnFailure)
	}
	return s.succeed(msg, queueID)
}

// deliverOnce performs a single transport call, routing text and media.
func (s *Sender) deliverOnce(ctx context.Context, msg *models.Message) (*whatsapp.SendMessageResponse, error) {
	if msg.Attachment != nil {
		return s.transport.SendMedia(ctx, msg.DestinationID, msg.Attachment, msg.Body)
	}
	return s.transport.SendText(ctx, msg.DestinationID, msg.Body)
}

func (s *Sender) succeed(msg *models.Message, transportID string) *models.SendResult {
	msg.Status = models.MessageStatusSent
	metrics.IncrementCounter(metrics.MetricMessagesSent, nil)

	s.logger.WithFields(logrus.Fields{
		"destination":       msg.DestinationID,
		"client_message_id": msg.ClientMessageID,
		"transport_id":      transportID,
		"attempts":          msg.Attempts,
	}).Info("Message delivered")

	s.notify(msg.DestinationID, transportID, models.MessageStatusSent)

	return &models.SendResult{
		Success:   true,
		MessageID: transportID,
	}
}

// fail handles every terminal failure path: the message lands in the dead
// letter store (unless this is a replay) and the caller is informed.
func (s *Sender) fail(ctx context.Context, msg *models.Message, cause error, deadLetter bool) *models.SendResult {
	msg.Status = models.MessageStatusFailed

	var dlqID string
	if deadLetter {
		id, err := s.store.AddFailedMessage(ctx, *msg, cause)
		if err != nil {
			// Persistence failed on top of the delivery failure; all we
			// can do is log both and report the delivery error.
			apperrors.WrapLogger(s.logger).LogError(err, "Failed to dead-letter message", logrus.Fields{
				"destination": msg.DestinationID,
			})
		} else {
			dlqID = id
			cause = apperrors.WrapRetryable(cause, apperrors.ErrCodeDeadLettered, "message dead-lettered").
				WithContext("dlq_id", dlqID)
			metrics.IncrementCounter(metrics.MetricMessagesDeadLettered, nil)
		}
	}

	apperrors.WrapLogger(s.logger).LogRetryableError(cause, "Message reached terminal failure", logrus.Fields{
		"destination":       msg.DestinationID,
		"client_message_id": msg.ClientMessageID,
	})

	result := newFailureResult(cause)
	result.DLQID = dlqID
	s.notify(msg.DestinationID, msg.ClientMessageID, models.MessageStatusFailed)
	return result
}

// newFailureResult encodes a terminal error into the structured outcome.
func newFailureResult(cause error) *models.SendResult {
	return &models.SendResult{
		Success: false,
		Error:   cause.Error(),
		Code:    string(apperrors.GetCode(cause)),
		Err:     cause,
	}
}

// notify invokes the confirmation callback, shielding the sender from a
// panicking caller.
func (s *Sender) notify(destination, messageID string, status models.MessageStatus) {
	if s.confirm == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"destination": destination,
				"panic":       fmt.Sprintf("%v", r),
			}).Error("Confirmation callback panicked")
		}
	}()
	s.confirm(destination, messageID, status)
}

// RetryFailedMessage replays a dead-lettered message. The entry is removed
// from the store if and only if the replay succeeds; a failed replay
// leaves the store unchanged.
func (s *Sender) RetryFailedMessage(ctx context.Context, dlqID string) *models.SendResult {
	entry, err := s.store.GetFailedMessage(ctx, dlqID)
	if err != nil {
		notFound := apperrors.NewNotFoundError("dead letter entry", dlqID)
		notFound.Cause = err
		result := newFailureResult(notFound)
		result.DLQID = dlqID
		return result
	}

	msg := entry.Message
	msg.Status = models.MessageStatusPending

	result := s.send(ctx, &msg, false)
	if !result.Success {
		result.DLQID = dlqID
		return result
	}

	if err := s.store.RemoveFailedMessage(ctx, dlqID); err != nil {
		s.logger.WithFields(logrus.Fields{
			"dlq_id": dlqID,
			"error":  err.Error(),
		}).Error("Replay succeeded but entry removal failed")
	} else {
		metrics.IncrementCounter(metrics.MetricMessagesReplayed, nil)
	}

	return result
}

// QueueStats exposes retry queue occupancy for the admin API.
func (s *Sender) QueueStats() retry.QueueStats {
	return s.queue.Stats()
}

// PauseQueue stops the retry queue admitting new work.
func (s *Sender) PauseQueue() { s.queue.Pause() }

// StartQueue resumes the retry queue.
func (s *Sender) StartQueue() { s.queue.Start() }

// BreakerStats exposes breaker state for the admin API.
func (s *Sender) BreakerStats() circuitbreaker.Stats {
	return s.breaker.GetStats()
}

// WatchBreakerEvents consumes breaker phase changes until ctx is done,
// logging them and keeping the trip counter current.
func (s *Sender) WatchBreakerEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.breaker.Events():
			s.logger.WithFields(logrus.Fields{
				"circuit_breaker": ev.Name,
				"from":            ev.From.String(),
				"to":              ev.To.String(),
			}).Info("Circuit breaker phase change")

			if ev.To == circuitbreaker.StateOpen {
				metrics.IncrementCounter(metrics.MetricBreakerOpened, nil)
			}
		}
	}
}
