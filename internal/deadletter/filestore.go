package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"wadeliver/internal/constants"
	apperrors "wadeliver/internal/errors"
	"wadeliver/internal/models"
	"wadeliver/internal/security"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FileStore persists entries as a JSON array at a fixed path. All access
// is serialized through a single owning goroutine, so concurrent callers
// can never race on the read-modify-write cycle and lose entries.
type FileStore struct {
	path      string
	cap       int
	logger    *logrus.Logger
	ops       chan func(*fileState)
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type fileState struct {
	entries []models.DeadLetterEntry
}

// NewFileStore opens (or creates) the store at path.
func NewFileStore(path string, cap int, logger *logrus.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("dead letter store path is required")
	}
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid dead letter store path: %w", err)
	}
	if cap <= 0 {
		cap = constants.DefaultDeadLetterCap
	}
	if logger == nil {
		logger = logrus.New()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, constants.DefaultDirectoryPermissions); err != nil {
			return nil, fmt.Errorf("failed to create dead letter directory: %w", err)
		}
	}

	entries, err := loadEntries(path)
	if err != nil {
		return nil, err
	}

	s := &FileStore{
		path:   path,
		cap:    cap,
		logger: logger,
		ops:    make(chan func(*fileState)),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go s.loop(&fileState{entries: entries})
	return s, nil
}

func loadEntries(path string) ([]models.DeadLetterEntry, error) {
	data, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letter store: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []models.DeadLetterEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse dead letter store: %w", err)
	}
	return entries, nil
}

// loop is the owning goroutine: it holds the in-memory entries and applies
// every operation sequentially.
func (s *FileStore) loop(state *fileState) {
	defer close(s.done)
	for {
		select {
		case op := <-s.ops:
			op(state)
		case <-s.closed:
			return
		}
	}
}

// run submits an operation to the owning goroutine and waits for it.
func (s *FileStore) run(ctx context.Context, op func(*fileState)) error {
	wrapped := make(chan struct{})
	fn := func(state *fileState) {
		op(state)
		close(wrapped)
	}

	select {
	case s.ops <- fn:
	case <-s.closed:
		return fmt.Errorf("dead letter store is closed")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-wrapped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persist rewrites the backing file atomically (write temp, then rename).
func (s *FileStore) persist(state *fileState) error {
	data, err := json.MarshalIndent(state.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize dead letter entries: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, constants.DefaultFilePermissions); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStoreIO, "failed to write dead letter store")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStoreIO, "failed to replace dead letter store")
	}
	return nil
}

// AddFailedMessage appends an entry, evicting the oldest beyond the cap.
func (s *FileStore) AddFailedMessage(ctx context.Context, msg models.Message, cause error) (string, error) {
	entry := models.DeadLetterEntry{
		ID:        uuid.New().String(),
		Message:   msg,
		Error:     captureError(cause),
		Timestamp: time.Now(),
		Attempts:  msg.Attempts,
	}
	entry.Message.Status = models.MessageStatusDeadLettered

	var persistErr error
	err := s.run(ctx, func(state *fileState) {
		state.entries = append(state.entries, entry)
		if excess := len(state.entries) - s.cap; excess > 0 {
			state.entries = state.entries[excess:]
			s.logger.WithFields(logrus.Fields{
				"evicted": excess,
				"cap":     s.cap,
			}).Warn("Dead letter store at capacity, evicted oldest entries")
		}
		persistErr = s.persist(state)
	})
	if err != nil {
		return "", err
	}
	if persistErr != nil {
		return "", persistErr
	}

	s.logger.WithFields(logrus.Fields{
		"dlq_id":      entry.ID,
		"destination": msg.DestinationID,
		"attempts":    entry.Attempts,
	}).Info("Message dead-lettered")

	return entry.ID, nil
}

// GetFailedMessages returns a copy of all entries, oldest first.
func (s *FileStore) GetFailedMessages(ctx context.Context) ([]models.DeadLetterEntry, error) {
	var out []models.DeadLetterEntry
	err := s.run(ctx, func(state *fileState) {
		out = make([]models.DeadLetterEntry, len(state.entries))
		copy(out, state.entries)
	})
	return out, err
}

// GetFailedMessage returns a single entry by id.
func (s *FileStore) GetFailedMessage(ctx context.Context, id string) (*models.DeadLetterEntry, error) {
	var found *models.DeadLetterEntry
	err := s.run(ctx, func(state *fileState) {
		for i := range state.entries {
			if state.entries[i].ID == id {
				entry := state.entries[i]
				found = &entry
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("dead letter entry not found: %s", id)
	}
	return found, nil
}

// RemoveFailedMessage deletes a single entry by id.
func (s *FileStore) RemoveFailedMessage(ctx context.Context, id string) error {
	var persistErr error
	removed := false

	err := s.run(ctx, func(state *fileState) {
		for i := range state.entries {
			if state.entries[i].ID == id {
				state.entries = append(state.entries[:i], state.entries[i+1:]...)
				removed = true
				persistErr = s.persist(state)
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if persistErr != nil {
		return persistErr
	}
	if !removed {
		return fmt.Errorf("dead letter entry not found: %s", id)
	}
	return nil
}

// Clear empties the store.
func (s *FileStore) Clear(ctx context.Context) error {
	var persistErr error
	err := s.run(ctx, func(state *fileState) {
		state.entries = nil
		persistErr = s.persist(state)
	})
	if err != nil {
		return err
	}
	return persistErr
}

// Stats summarizes the current contents.
func (s *FileStore) Stats(ctx context.Context) (models.DeadLetterStats, error) {
	var stats models.DeadLetterStats
	err := s.run(ctx, func(state *fileState) {
		stats = computeStats(state.entries, time.Now())
	})
	return stats, err
}

// Close stops the owning goroutine. Safe to call more than once, also
// concurrently.
func (s *FileStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	<-s.done
	return nil
}
