package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classboard/observesync/internal/server"
)

func newTestRouter() http.Handler {
	svc := server.NewService(server.NewMemoryObservationStore(), server.NewMemoryLedgerStore())
	return Router(svc)
}

func postBatch(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/sync", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestProcessBatch_AppliesItems(t *testing.T) {
	t.Parallel()

	router := newTestRouter()

	rec := postBatch(t, router, `{
		"userId": "teacher-1",
		"syncItems": [
			{"id": "i1", "action": "CREATE_OBSERVATION", "targetPath": "/api/sync",
			 "data": {"studentId": "s1", "date": "2026-02-03", "notes": "stacked blocks"}},
			{"id": "i2", "action": "DELETE_OBSERVATION", "targetPath": "/api/sync",
			 "data": {"id": "nope"}}
		]
	}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)

	assert.Equal(t, "i1", resp.Results[0].ID)
	assert.True(t, resp.Results[0].Success)
	assert.NotNil(t, resp.Results[0].Data)

	assert.Equal(t, "i2", resp.Results[1].ID)
	assert.False(t, resp.Results[1].Success)
	assert.NotEmpty(t, resp.Results[1].Error)
}

func TestProcessBatch_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "missing userId", body: `{"syncItems": []}`},
		{name: "missing syncItems", body: `{"userId": "teacher-1"}`},
		{name: "malformed JSON", body: `{"userId": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := postBatch(t, newTestRouter(), tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestProcessBatch_EmptyBatchIsValid(t *testing.T) {
	t.Parallel()

	rec := postBatch(t, newTestRouter(), `{"userId": "teacher-1", "syncItems": []}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
}

func TestListPending(t *testing.T) {
	t.Parallel()

	router := newTestRouter()

	// A failing item leaves a FAILED ledger row, not a PENDING one, so
	// the pending list stays empty
	postBatch(t, router, `{
		"userId": "teacher-1",
		"syncItems": [{"id": "i1", "action": "DELETE_OBSERVATION", "data": {"id": "nope"}}]
	}`)

	req := httptest.NewRequest(http.MethodGet, "/sync?userId=teacher-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp PendingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.SyncItems)
}

func TestListPending_RequiresUserID(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/sync", nil)
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearItems(t *testing.T) {
	t.Parallel()

	router := newTestRouter()

	req := httptest.NewRequest(http.MethodDelete, "/sync?userId=teacher-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp["success"])
}

func TestClearItems_RequiresUserID(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodDelete, "/sync", nil)
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthRouter(t *testing.T) {
	t.Parallel()

	svc := server.NewService(server.NewMemoryObservationStore(), server.NewMemoryLedgerStore())
	router := HealthRouter(svc)

	t.Run("health", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	})

	t.Run("readiness", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("version", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var info map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
		assert.NotEmpty(t, info["version"])
		assert.NotEmpty(t, info["go_version"])
	})
}
