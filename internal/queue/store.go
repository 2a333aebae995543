package queue

import (
	"context"
	"errors"
	"log/slog"
)

// ErrUnavailable is returned by Append when the store has degraded to the
// no-op stub because the durable backend could not be opened. Callers must
// surface this to the user rather than drop the write silently.
var ErrUnavailable = errors.New("queue store unavailable")

// Store persists pending mutation records across process restarts.
//
// All operations are crash-durable: a record appended before a crash is
// recoverable after restart in the same enqueue order. Callers treat each
// operation as an atomic unit of work; the store serializes concurrent
// writes to the same key.
type Store interface {
	// Append persists a new record and returns its assigned ID.
	// EnqueuedAt and ID are assigned by the store from the capture time.
	Append(ctx context.Context, rec MutationRecord) (string, error)

	// List returns all pending records ordered by enqueue time, ties
	// broken by ID.
	List(ctx context.Context) ([]MutationRecord, error)

	// Update replaces the record with the same ID. Updating a record that
	// no longer exists is a no-op, so a losing racer's stale write is
	// harmless.
	Update(ctx context.Context, rec MutationRecord) error

	// Delete removes the record with the given ID if it exists.
	Delete(ctx context.Context, id string) error

	// Count returns the number of pending records.
	Count(ctx context.Context) (int, error)

	// Close releases the underlying storage.
	Close() error
}

// Open opens the durable SQLite-backed store at path. If the backend cannot
// be opened the store degrades to a no-op stub that reports zero pending
// items, so the application keeps functioning in online-only mode instead
// of crashing. The degradation is logged once, here.
func Open(path string) Store {
	s, err := OpenSQLite(path)
	if err != nil {
		slog.Error("Queue store unavailable, continuing in online-only mode",
			"path", path,
			"error", err)
		return NewNoopStore()
	}
	return s
}
