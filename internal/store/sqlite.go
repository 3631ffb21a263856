package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/voxrelay/internal/domain"
	"github.com/ashureev/voxrelay/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements ConversationStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writers to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed conversation store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a turn is being written.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		session_id TEXT PRIMARY KEY,
		messages_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Get returns the session's history.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages_json FROM conversations WHERE session_id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return decodeMessages(raw)
}

// Reset replaces the session's history with seed.
func (s *SQLiteStore) Reset(ctx context.Context, sessionID string, seed []domain.Message) error {
	data, err := json.Marshal(seed)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	return s.withRetry(ctx, "reset", sessionID, func() error {
		now := time.Now().Unix()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO conversations (session_id, messages_json, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				messages_json = excluded.messages_json,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at`,
			sessionID, string(data), now, now)
		if err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}
		return nil
	})
}

// Append adds messages to an existing history.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msgs ...domain.Message) error {
	return s.update(ctx, "append", sessionID, func(cur []domain.Message) []domain.Message {
		return append(cur, msgs...)
	})
}

// Record appends msgs and caps the history in one transaction.
func (s *SQLiteStore) Record(ctx context.Context, sessionID string, max int, msgs ...domain.Message) error {
	return s.update(ctx, "record", sessionID, func(cur []domain.Message) []domain.Message {
		return domain.Trim(append(cur, msgs...), max)
	})
}

// update runs a read-modify-write of one conversation inside a transaction.
func (s *SQLiteStore) update(ctx context.Context, op, sessionID string, fn func([]domain.Message) []domain.Message) error {
	return s.withRetry(ctx, op, sessionID, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var raw string
		err = tx.QueryRowContext(ctx,
			`SELECT messages_json FROM conversations WHERE session_id = ?`, sessionID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", op, sessionID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("scan conversation: %w", err)
		}

		cur, err := decodeMessages(raw)
		if err != nil {
			return err
		}
		data, err := json.Marshal(fn(cur))
		if err != nil {
			return fmt.Errorf("marshal messages: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET messages_json = ?, updated_at = ? WHERE session_id = ?`,
			string(data), time.Now().Unix(), sessionID); err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		return tx.Commit()
	})
}

// withRetry runs fn under the writer mutex, retrying with exponential backoff
// while SQLite reports a lock conflict.
func (s *SQLiteStore) withRetry(ctx context.Context, op, sessionID string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		s.mu.Lock()
		err = fn()
		s.mu.Unlock()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("conversation write hit SQLITE_BUSY, retrying",
			"op", op,
			"session_id", sessionID,
			"attempt", i+1,
			"delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if shared.IsSQLiteConflictError(err) {
		return fmt.Errorf("%s conversation %s after %d attempts: %w", op, sessionID, maxRetries, err)
	}
	return err
}

// Delete removes the session.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	return s.withRetry(ctx, "delete", sessionID, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return nil
	})
}

// Sweep removes conversations idle for longer than idle.
func (s *SQLiteStore) Sweep(ctx context.Context, idle time.Duration) (int64, error) {
	if idle <= 0 {
		return 0, nil
	}
	threshold := time.Now().Add(-idle).Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("sweep conversations: %w", err)
	}
	return result.RowsAffected()
}

// Len reports the number of stored conversations.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return n, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func decodeMessages(raw string) ([]domain.Message, error) {
	var msgs []domain.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return msgs, nil
}
