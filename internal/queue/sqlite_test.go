package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSQLiteStore_AppendAndList(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()

	id1, err := s.Append(ctx, MutationRecord{
		TargetPath: "/api/sync",
		Action:     ActionCreateObservation,
		Payload:    json.RawMessage(`{"studentId":"s1"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := s.Append(ctx, MutationRecord{
		TargetPath: "/api/sync",
		Action:     ActionUpdateObservation,
		Payload:    json.RawMessage(`{"id":"o1"}`),
	})
	require.NoError(t, err)

	// IDs are capture-time derived and strictly increasing
	assert.Less(t, id1, id2)

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, id1, recs[0].ID)
	assert.Equal(t, id2, recs[1].ID)
	assert.Equal(t, ActionCreateObservation, recs[0].Action)
	assert.JSONEq(t, `{"studentId":"s1"}`, string(recs[0].Payload))
	assert.Zero(t, recs[0].RetryCount)
	assert.False(t, recs[0].EnqueuedAt.IsZero())

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteStore_ListOrderSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.Append(ctx, MutationRecord{
			TargetPath: "/api/sync",
			Action:     ActionCreateObservation,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, s.Close())

	// Reopen: everything appended before must come back in the same order
	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	recs, err := s2.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	for i, rec := range recs {
		assert.Equal(t, ids[i], rec.ID)
	}
}

func TestSQLiteStore_UpdateRetryCount(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()

	id, err := s.Append(ctx, MutationRecord{
		TargetPath: "/api/sync",
		Action:     ActionDeleteObservation,
	})
	require.NoError(t, err)

	recs, err := s.List(ctx)
	require.NoError(t, err)
	rec := recs[0]
	rec.RetryCount = 2
	rec.LastError = "server returned 500"
	require.NoError(t, s.Update(ctx, rec))

	recs, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, id, recs[0].ID)
	assert.Equal(t, 2, recs[0].RetryCount)
	assert.Equal(t, "server returned 500", recs[0].LastError)
}

func TestSQLiteStore_UpdateMissingRecordIsNoop(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, MutationRecord{ID: "1700000000000000000", RetryCount: 1})
	assert.NoError(t, err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_Delete(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()

	id, err := s.Append(ctx, MutationRecord{
		TargetPath: "/api/sync",
		Action:     ActionCreateObservation,
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Deleting again is a no-op (losing racer semantics)
	assert.NoError(t, s.Delete(ctx, id))
}

func TestSQLiteStore_PragmasApplied(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	db := s.(*sqliteStore).db

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, defaultBusyTimeoutMS, busyTimeout)
}

func TestOpen_DegradesToNoopOnBadPath(t *testing.T) {
	t.Parallel()

	// A directory path cannot be opened as a database file
	s := Open(t.TempDir() + "/missing/nested/queue.db")
	ctx := context.Background()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Append(ctx, MutationRecord{Action: ActionCreateObservation})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAction_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		action   Action
		expected bool
	}{
		{name: "create", action: ActionCreateObservation, expected: true},
		{name: "update", action: ActionUpdateObservation, expected: true},
		{name: "delete", action: ActionDeleteObservation, expected: true},
		{name: "unknown", action: Action("ARCHIVE_OBSERVATION"), expected: false},
		{name: "empty", action: Action(""), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.action.Valid())
		})
	}
}
