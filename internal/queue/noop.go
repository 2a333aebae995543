package queue

import "context"

// noopStore is the degraded stand-in used when the durable backend cannot
// be opened. It reports zero pending items and rejects appends with
// ErrUnavailable so the caller can tell the user the write was not queued.
type noopStore struct{}

// NewNoopStore returns a Store that holds nothing.
func NewNoopStore() Store {
	return noopStore{}
}

func (noopStore) Append(context.Context, MutationRecord) (string, error) {
	return "", ErrUnavailable
}

func (noopStore) List(context.Context) ([]MutationRecord, error) { return nil, nil }

func (noopStore) Update(context.Context, MutationRecord) error { return nil }

func (noopStore) Delete(context.Context, string) error { return nil }

func (noopStore) Count(context.Context) (int, error) { return 0, nil }

func (noopStore) Close() error { return nil }
