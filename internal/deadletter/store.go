// Package deadletter makes permanently failed deliveries durable and
// replayable rather than silently dropped.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "wadeliver/internal/errors"
	"wadeliver/internal/models"
)

// Store is the persistence contract for dead letter entries. The default
// backend is a JSON file; a SQLite backend is available for deployments
// that need real query semantics.
type Store interface {
	// AddFailedMessage appends a new entry and returns its generated id.
	// The store is capped: inserting beyond the cap evicts the oldest
	// entries first.
	AddFailedMessage(ctx context.Context, msg models.Message, cause error) (string, error)
	// GetFailedMessages returns all entries, oldest first.
	GetFailedMessages(ctx context.Context) ([]models.DeadLetterEntry, error)
	// GetFailedMessage returns a single entry by id.
	GetFailedMessage(ctx context.Context, id string) (*models.DeadLetterEntry, error)
	// RemoveFailedMessage deletes a single entry; used after a successful
	// manual replay.
	RemoveFailedMessage(ctx context.Context, id string) error
	// Clear empties the store.
	Clear(ctx context.Context) error
	// Stats summarizes the current contents.
	Stats(ctx context.Context) (models.DeadLetterStats, error)
	// Close releases the backing resources.
	Close() error
}

// captureError flattens an error into plain strings so that an
// unserializable cause can never prevent persistence. Structured errors
// keep their code as the name; anything else is named by its Go type.
func captureError(cause error) models.ErrorDetail {
	if cause == nil {
		return models.ErrorDetail{Message: "unknown error", Name: "error"}
	}

	detail := models.ErrorDetail{
		Message: cause.Error(),
		Name:    fmt.Sprintf("%T", cause),
	}
	var appErr *apperrors.AppError
	if errors.As(cause, &appErr) {
		detail.Name = string(appErr.Code)
	}
	if detail.Message == "" {
		detail.Message = "unknown error"
	}
	return detail
}

// computeStats derives store statistics from a slice of entries.
func computeStats(entries []models.DeadLetterEntry, now time.Time) models.DeadLetterStats {
	stats := models.DeadLetterStats{Total: len(entries)}
	if len(entries) == 0 {
		return stats
	}

	cutoff := now.Add(-24 * time.Hour)
	oldest := entries[0].Timestamp
	newest := entries[0].Timestamp

	for _, e := range entries {
		if e.Timestamp.After(cutoff) {
			stats.Last24h++
		}
		if e.Timestamp.Before(oldest) {
			oldest = e.Timestamp
		}
		if e.Timestamp.After(newest) {
			newest = e.Timestamp
		}
	}

	stats.OldestEntry = &oldest
	stats.NewestEntry = &newest
	return stats
}
