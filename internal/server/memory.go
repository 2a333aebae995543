package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryObservationStore keeps observation rows in memory. Used by tests
// and by serve --in-memory demo mode.
type memoryObservationStore struct {
	mu   sync.Mutex
	rows map[string]Observation
}

// NewMemoryObservationStore creates an empty in-memory observation store.
func NewMemoryObservationStore() ObservationStore {
	return &memoryObservationStore{
		rows: make(map[string]Observation),
	}
}

func (s *memoryObservationStore) Create(_ context.Context, obs Observation) (Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	obs.ID = uuid.NewString()
	obs.CreatedAt = now
	obs.UpdatedAt = now
	if obs.Environment == "" {
		obs.Environment = DefaultEnvironment
	}

	s.rows[obs.ID] = obs
	return obs, nil
}

func (s *memoryObservationStore) Update(_ context.Context, obs Observation) (Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rows[obs.ID]
	if !ok {
		return Observation{}, ErrNotFound
	}

	// Identity and provenance fields are immutable
	obs.StudentID = existing.StudentID
	obs.TeacherID = existing.TeacherID
	obs.CreatedAt = existing.CreatedAt
	obs.UpdatedAt = time.Now()
	if obs.Environment == "" {
		obs.Environment = existing.Environment
	}

	s.rows[obs.ID] = obs
	return obs, nil
}

func (s *memoryObservationStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[id]; !ok {
		return ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (*memoryObservationStore) Ping(context.Context) error {
	return nil
}

// memoryLedgerStore keeps ledger entries in memory.
type memoryLedgerStore struct {
	mu      sync.Mutex
	entries map[string]LedgerEntry
}

// NewMemoryLedgerStore creates an empty in-memory ledger store.
func NewMemoryLedgerStore() LedgerStore {
	return &memoryLedgerStore{
		entries: make(map[string]LedgerEntry),
	}
}

func (s *memoryLedgerStore) Record(_ context.Context, entry LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[entry.SyncID]; ok {
		// Resubmission after a failure keeps the retry history
		entry.RetryCount = existing.RetryCount
		entry.CreatedAt = existing.CreatedAt
	} else if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.Status = StatusPending
	entry.SyncedAt = nil

	s.entries[entry.SyncID] = entry
	return nil
}

func (s *memoryLedgerStore) Complete(_ context.Context, syncID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[syncID]
	if !ok {
		return nil
	}
	entry.Status = StatusCompleted
	entry.SyncedAt = &at
	entry.LastError = ""
	s.entries[syncID] = entry
	return nil
}

func (s *memoryLedgerStore) Fail(_ context.Context, syncID string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[syncID]
	if !ok {
		return nil
	}
	entry.Status = StatusFailed
	entry.RetryCount++
	entry.LastError = message
	s.entries[syncID] = entry
	return nil
}

func (s *memoryLedgerStore) ListPending(_ context.Context, userID string) ([]LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []LedgerEntry
	for _, entry := range s.entries {
		if entry.UserID == userID && entry.Status == StatusPending {
			pending = append(pending, entry)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].SyncID < pending[j].SyncID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	return pending, nil
}

func (s *memoryLedgerStore) Clear(_ context.Context, userID, syncID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if syncID != "" {
		entry, ok := s.entries[syncID]
		if ok && entry.UserID == userID {
			delete(s.entries, syncID)
		}
		return nil
	}

	for id, entry := range s.entries {
		if entry.UserID == userID {
			delete(s.entries, id)
		}
	}
	return nil
}
