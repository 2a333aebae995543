package server

import (
	"context"
	"time"
)

// LedgerStatus is the server-side processing state of one submitted item.
type LedgerStatus string

const (
	// StatusPending marks an item received but not yet applied
	StatusPending LedgerStatus = "PENDING"

	// StatusCompleted marks an item applied successfully
	StatusCompleted LedgerStatus = "COMPLETED"

	// StatusFailed marks an item whose application failed
	StatusFailed LedgerStatus = "FAILED"
)

// LedgerEntry is the advisory server-side record of one submitted sync
// item. The ledger exists for diagnostics; the client's durable queue
// remains the source of truth for what is still pending.
type LedgerEntry struct {
	SyncID     string       `json:"id"`
	UserID     string       `json:"userId"`
	Action     string       `json:"action"`
	Status     LedgerStatus `json:"status"`
	RetryCount int          `json:"retryCount"`
	LastError  string       `json:"lastError,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	SyncedAt   *time.Time   `json:"syncedAt,omitempty"`
}

// LedgerStore persists ledger entries.
type LedgerStore interface {
	// Record creates the entry for a newly received item, or refreshes an
	// existing entry when the same item is resubmitted after a failure.
	Record(ctx context.Context, entry LedgerEntry) error

	// Complete marks the entry as applied at the given time.
	Complete(ctx context.Context, syncID string, at time.Time) error

	// Fail marks the entry as failed with the given message and bumps its
	// retry counter.
	Fail(ctx context.Context, syncID string, message string) error

	// ListPending returns the user's entries still marked PENDING, oldest
	// first.
	ListPending(ctx context.Context, userID string) ([]LedgerEntry, error)

	// Clear removes one entry by syncID, or every entry of the user when
	// syncID is empty.
	Clear(ctx context.Context, userID, syncID string) error
}
