package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"wadeliver/internal/constants"
	"wadeliver/internal/models"
	"wadeliver/internal/security"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS dead_letters (
	id TEXT PRIMARY KEY,
	message TEXT NOT NULL,
	error_message TEXT NOT NULL,
	error_name TEXT NOT NULL,
	error_stack TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dead_letters_timestamp ON dead_letters(timestamp);
`

// SQLiteStore persists dead letter entries in SQLite. Message snapshots
// are stored as JSON, optionally encrypted at rest.
type SQLiteStore struct {
	db        *sql.DB
	cap       int
	encryptor *encryptor
	logger    *logrus.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string, cap int, logger *logrus.Logger) (*SQLiteStore, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}
	if cap <= 0 {
		cap = constants.DefaultDeadLetterCap
	}
	if logger == nil {
		logger = logrus.New()
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, constants.DefaultFilePermissions) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := newEncryptor()
	if err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &SQLiteStore{db: db, cap: cap, encryptor: enc, logger: logger}, nil
}

func closeQuietly(db *sql.DB) {
	_ = db.Close()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AddFailedMessage inserts a new entry and trims the store to its cap.
func (s *SQLiteStore) AddFailedMessage(ctx context.Context, msg models.Message, cause error) (string, error) {
	msg.Status = models.MessageStatusDeadLettered
	detail := captureError(cause)

	snapshot, err := json.Marshal(msg)
	if err != nil {
		// The message must not be lost because its payload failed to
		// serialize; fall back to a minimal snapshot.
		minimal := models.Message{
			DestinationID:   msg.DestinationID,
			ClientMessageID: msg.ClientMessageID,
			Attempts:        msg.Attempts,
			Status:          models.MessageStatusDeadLettered,
		}
		snapshot, _ = json.Marshal(minimal)
	}

	stored, err := s.encryptor.Encrypt(string(snapshot))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt message snapshot: %w", err)
	}

	id := uuid.New().String()
	now := time.Now()

	err = retryableDBOperation(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dead_letters (id, message, error_message, error_name, error_stack, attempts, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, stored, detail.Message, detail.Name, detail.Stack, msg.Attempts, now,
		); err != nil {
			return err
		}

		// Evict oldest entries beyond the cap.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM dead_letters WHERE id NOT IN (
				SELECT id FROM dead_letters ORDER BY timestamp DESC, id DESC LIMIT ?
			)`, s.cap,
		); err != nil {
			return err
		}

		return tx.Commit()
	}, "add dead letter")
	if err != nil {
		return "", err
	}

	s.logger.WithFields(logrus.Fields{
		"dlq_id":      id,
		"destination": msg.DestinationID,
		"attempts":    msg.Attempts,
	}).Info("Message dead-lettered")

	return id, nil
}

// GetFailedMessages returns all entries, oldest first.
func (s *SQLiteStore) GetFailedMessages(ctx context.Context) ([]models.DeadLetterEntry, error) {
	var entries []models.DeadLetterEntry

	err := retryableDBOperation(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, message, error_message, error_name, error_stack, attempts, timestamp
			FROM dead_letters ORDER BY timestamp ASC, id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		entries = entries[:0]
		for rows.Next() {
			entry, err := s.scanEntry(rows)
			if err != nil {
				return err
			}
			entries = append(entries, *entry)
		}
		return rows.Err()
	}, "list dead letters")

	return entries, err
}

// GetFailedMessage returns a single entry by id.
func (s *SQLiteStore) GetFailedMessage(ctx context.Context, id string) (*models.DeadLetterEntry, error) {
	var entry *models.DeadLetterEntry

	err := retryableDBOperation(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, message, error_message, error_name, error_stack, attempts, timestamp
			FROM dead_letters WHERE id = ?`, id)

		e, err := s.scanEntry(row)
		if err == sql.ErrNoRows {
			return fmt.Errorf("dead letter entry not found: %s", id)
		}
		if err != nil {
			return err
		}
		entry = e
		return nil
	}, "get dead letter")

	return entry, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteStore) scanEntry(row rowScanner) (*models.DeadLetterEntry, error) {
	var entry models.DeadLetterEntry
	var stored string
	var stack sql.NullString

	if err := row.Scan(&entry.ID, &stored, &entry.Error.Message, &entry.Error.Name, &stack, &entry.Attempts, &entry.Timestamp); err != nil {
		return nil, err
	}
	entry.Error.Stack = stack.String

	snapshot, err := s.encryptor.Decrypt(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt message snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(snapshot), &entry.Message); err != nil {
		return nil, fmt.Errorf("failed to parse message snapshot: %w", err)
	}

	return &entry, nil
}

// RemoveFailedMessage deletes a single entry by id.
func (s *SQLiteStore) RemoveFailedMessage(ctx context.Context, id string) error {
	return retryableDBOperation(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("dead letter entry not found: %s", id)
		}
		return nil
	}, "remove dead letter")
}

// Clear empties the store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return retryableDBOperation(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters`)
		return err
	}, "clear dead letters")
}

// Stats summarizes the current contents.
func (s *SQLiteStore) Stats(ctx context.Context) (models.DeadLetterStats, error) {
	var stats models.DeadLetterStats

	err := retryableDBOperation(ctx, func() error {
		cutoff := time.Now().Add(-24 * time.Hour)

		row := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*),
			       COALESCE(SUM(CASE WHEN timestamp > ? THEN 1 ELSE 0 END), 0),
			       MIN(timestamp), MAX(timestamp)
			FROM dead_letters`, cutoff)

		var oldest, newest sql.NullTime
		if err := row.Scan(&stats.Total, &stats.Last24h, &oldest, &newest); err != nil {
			return err
		}
		if oldest.Valid {
			stats.OldestEntry = &oldest.Time
		}
		if newest.Valid {
			stats.NewestEntry = &newest.Time
		}
		return nil
	}, "dead letter stats")

	return stats, err
}
