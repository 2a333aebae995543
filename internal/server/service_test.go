package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classboard/observesync/internal/queue"
)

func newTestService() (*Service, ObservationStore, LedgerStore) {
	observations := NewMemoryObservationStore()
	ledger := NewMemoryLedgerStore()
	return NewService(observations, ledger), observations, ledger
}

func createPayload(studentID string) json.RawMessage {
	return json.RawMessage(`{
		"studentId": "` + studentID + `",
		"date": "2026-02-03",
		"time": "10:15",
		"activityType": "FREE_PLAY",
		"observedSkills": ["SHARING"],
		"initiator": "PEER",
		"studentResponse": "POSITIVE",
		"isGoalAligned": true,
		"notes": "shared blocks with a friend",
		"tags": ["social"]
	}`)
}

func TestService_ProcessBatchCreate(t *testing.T) {
	t.Parallel()

	svc, _, ledger := newTestService()

	results := svc.ProcessBatch(context.Background(), "teacher-1", []Item{
		{ID: "i1", Action: queue.ActionCreateObservation, Data: createPayload("s1")},
	})

	require.Len(t, results, 1)
	require.True(t, results[0].Success, "error: %s", results[0].Error)
	assert.Equal(t, "i1", results[0].ID)

	obs, ok := results[0].Data.(Observation)
	require.True(t, ok)
	assert.NotEmpty(t, obs.ID)
	assert.Equal(t, "s1", obs.StudentID)
	assert.Equal(t, "teacher-1", obs.TeacherID)
	assert.Equal(t, DefaultEnvironment, obs.Environment)
	assert.Equal(t, []string{"SHARING"}, obs.ObservedSkills)

	// Ledger entry is completed, so nothing is pending
	pending, err := ledger.ListPending(context.Background(), "teacher-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestService_ProcessBatchUpdateAndDelete(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService()

	created := svc.ProcessBatch(context.Background(), "teacher-1", []Item{
		{ID: "i1", Action: queue.ActionCreateObservation, Data: createPayload("s1")},
	})
	require.True(t, created[0].Success)
	obsID := created[0].Data.(Observation).ID

	updateData, err := json.Marshal(map[string]any{
		"id":    obsID,
		"date":  "2026-02-04",
		"notes": "revised note",
	})
	require.NoError(t, err)

	results := svc.ProcessBatch(context.Background(), "teacher-1", []Item{
		{ID: "i2", Action: queue.ActionUpdateObservation, Data: updateData},
		{ID: "i3", Action: queue.ActionDeleteObservation, Data: json.RawMessage(`{"id":"` + obsID + `"}`)},
	})

	require.Len(t, results, 2)
	require.True(t, results[0].Success, "error: %s", results[0].Error)
	updated := results[0].Data.(Observation)
	assert.Equal(t, "revised note", updated.Notes)
	assert.Equal(t, "teacher-1", updated.TeacherID, "provenance survives update")

	assert.True(t, results[1].Success, "error: %s", results[1].Error)
	assert.Nil(t, results[1].Data)
}

func TestService_ProcessBatchIsolatesFailures(t *testing.T) {
	t.Parallel()

	svc, _, ledger := newTestService()

	results := svc.ProcessBatch(context.Background(), "teacher-1", []Item{
		{ID: "i1", Action: queue.ActionDeleteObservation, Data: json.RawMessage(`{"id":"missing"}`)},
		{ID: "i2", Action: queue.ActionCreateObservation, Data: createPayload("s2")},
	})

	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "not found")
	assert.True(t, results[1].Success, "a failing item must not abort the batch")

	// The failed item shows up in the ledger with its retry bumped
	pending, err := ledger.ListPending(context.Background(), "teacher-1")
	require.NoError(t, err)
	assert.Empty(t, pending, "failed entries are FAILED, not PENDING")
}

func TestService_ProcessBatchUnknownAction(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService()

	results := svc.ProcessBatch(context.Background(), "teacher-1", []Item{
		{ID: "i1", Action: queue.Action("REPLICATE_EVERYTHING"), Data: json.RawMessage(`{}`)},
	})

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "unknown action type")
}

func TestService_ProcessBatchValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		item    Item
		wantErr string
	}{
		{
			name:    "create without studentId",
			item:    Item{ID: "i1", Action: queue.ActionCreateObservation, Data: json.RawMessage(`{"date":"2026-01-01"}`)},
			wantErr: "studentId is required",
		},
		{
			name:    "create without date",
			item:    Item{ID: "i1", Action: queue.ActionCreateObservation, Data: json.RawMessage(`{"studentId":"s1"}`)},
			wantErr: "date is required",
		},
		{
			name:    "update without id",
			item:    Item{ID: "i1", Action: queue.ActionUpdateObservation, Data: json.RawMessage(`{"date":"2026-01-01"}`)},
			wantErr: "observation id is required",
		},
		{
			name:    "empty data",
			item:    Item{ID: "i1", Action: queue.ActionCreateObservation},
			wantErr: "item data is required",
		},
		{
			name:    "malformed data",
			item:    Item{ID: "i1", Action: queue.ActionCreateObservation, Data: json.RawMessage(`{`)},
			wantErr: "invalid item data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, _, _ := newTestService()
			results := svc.ProcessBatch(context.Background(), "teacher-1", []Item{tt.item})
			require.Len(t, results, 1)
			assert.False(t, results[0].Success)
			assert.Contains(t, results[0].Error, tt.wantErr)
		})
	}
}

func TestService_LedgerRetryHistorySurvivesResubmission(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService()

	item := Item{ID: "i1", Action: queue.ActionDeleteObservation, Data: json.RawMessage(`{"id":"missing"}`)}

	// Same item fails twice across two batches
	svc.ProcessBatch(context.Background(), "teacher-1", []Item{item})
	svc.ProcessBatch(context.Background(), "teacher-1", []Item{item})

	// Third submission succeeds once the observation exists
	created := svc.ProcessBatch(context.Background(), "teacher-1", []Item{
		{ID: "c1", Action: queue.ActionCreateObservation, Data: createPayload("s1")},
	})
	obsID := created[0].Data.(Observation).ID

	results := svc.ProcessBatch(context.Background(), "teacher-1", []Item{
		{ID: "i1", Action: queue.ActionDeleteObservation, Data: json.RawMessage(`{"id":"` + obsID + `"}`)},
	})
	assert.True(t, results[0].Success)
}

func TestService_ClearItems(t *testing.T) {
	t.Parallel()

	svc, _, ledger := newTestService()

	// Leave two failing items pending in the ledger as FAILED, then one
	// PENDING via Record directly
	require.NoError(t, ledger.Record(context.Background(), LedgerEntry{SyncID: "p1", UserID: "teacher-1", Action: "CREATE_OBSERVATION"}))
	require.NoError(t, ledger.Record(context.Background(), LedgerEntry{SyncID: "p2", UserID: "teacher-2", Action: "CREATE_OBSERVATION"}))

	require.NoError(t, svc.ClearItems(context.Background(), "teacher-1", ""))

	pending, err := svc.PendingItems(context.Background(), "teacher-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Another user's entries are untouched
	other, err := svc.PendingItems(context.Background(), "teacher-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}
