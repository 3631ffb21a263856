// Package store provides conversation persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/voxrelay/internal/domain"
)

// ConversationStore holds the message history of every live session.
//
// Implementations must be safe for concurrent use. Callers that need
// read-modify-write atomicity across Get and Append serialize per session
// themselves (see conversation.Processor).
type ConversationStore interface {
	// Get returns a copy of the session's history, or domain.ErrNotFound.
	Get(ctx context.Context, sessionID string) ([]domain.Message, error)

	// Reset replaces the session's history with seed, creating it if absent.
	Reset(ctx context.Context, sessionID string, seed []domain.Message) error

	// Append adds messages to the end of an existing history.
	Append(ctx context.Context, sessionID string, msgs ...domain.Message) error

	// Record appends msgs and caps the result with domain.Trim in a single
	// write, so a stored history never exceeds max.
	Record(ctx context.Context, sessionID string, max int, msgs ...domain.Message) error

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Sweep removes sessions not updated within idle and reports how many.
	Sweep(ctx context.Context, idle time.Duration) (int64, error)

	// Len reports the number of stored sessions.
	Len(ctx context.Context) (int, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
