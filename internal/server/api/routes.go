// Package api provides the REST handlers for the sync reconciliation
// endpoint.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/classboard/observesync/internal/queue"
	"github.com/classboard/observesync/internal/server"
	"github.com/classboard/observesync/internal/versions"
)

// maxBatchBytes caps a reconciliation request body (4MB)
const maxBatchBytes = 4 * 1024 * 1024

// SyncRequest is a batch of sync items submitted by a client.
type SyncRequest struct {
	UserID    string     `json:"userId"`
	SyncItems []SyncItem `json:"syncItems"`
}

// SyncItem is one submitted mutation.
type SyncItem struct {
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	TargetPath string          `json:"targetPath"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// SyncResponse carries the per-item outcomes of a processed batch.
type SyncResponse struct {
	Results []server.Result `json:"results"`
}

// PendingResponse lists the ledger entries still pending for a user.
type PendingResponse struct {
	SyncItems []server.LedgerEntry `json:"syncItems"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes defines the routes for the sync API with dependency injection
type Routes struct {
	service *server.Service
}

// NewRoutes creates a new Routes instance with the provided service
func NewRoutes(svc *server.Service) *Routes {
	return &Routes{
		service: svc,
	}
}

// Router creates a new router for the sync API
func Router(svc *server.Service) http.Handler {
	routes := NewRoutes(svc)

	r := chi.NewRouter()

	r.Post("/sync", routes.processBatch)
	r.Get("/sync", routes.listPending)
	r.Delete("/sync", routes.clearItems)

	return r
}

// processBatch handles POST /sync
func (rr *Routes) processBatch(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBytes)).Decode(&req); err != nil {
		rr.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == "" || req.SyncItems == nil {
		rr.writeErrorResponse(w, "User ID and sync items required", http.StatusBadRequest)
		return
	}

	items := make([]server.Item, 0, len(req.SyncItems))
	for _, it := range req.SyncItems {
		items = append(items, server.Item{
			ID:         it.ID,
			Action:     queue.Action(it.Action),
			TargetPath: it.TargetPath,
			Data:       it.Data,
		})
	}

	results := rr.service.ProcessBatch(r.Context(), req.UserID, items)

	rr.writeJSONResponse(w, SyncResponse{Results: results})
}

// listPending handles GET /sync
func (rr *Routes) listPending(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		rr.writeErrorResponse(w, "User ID required", http.StatusBadRequest)
		return
	}

	entries, err := rr.service.PendingItems(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list pending sync items", "user_id", userID, "error", err)
		rr.writeErrorResponse(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []server.LedgerEntry{}
	}

	rr.writeJSONResponse(w, PendingResponse{SyncItems: entries})
}

// clearItems handles DELETE /sync
func (rr *Routes) clearItems(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		rr.writeErrorResponse(w, "User ID required", http.StatusBadRequest)
		return
	}

	syncID := r.URL.Query().Get("syncId")
	if err := rr.service.ClearItems(r.Context(), userID, syncID); err != nil {
		slog.Error("Failed to clear sync items", "user_id", userID, "error", err)
		rr.writeErrorResponse(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, map[string]bool{"success": true})
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(svc *server.Service) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(svc))
	r.Get("/version", versionHandler)

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func readinessHandler(svc *server.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.CheckReadiness(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			if encodeErr := json.NewEncoder(w).Encode(ErrorResponse{
				Error: "Service not ready: " + err.Error(),
			}); encodeErr != nil {
				slog.Error("Failed to encode readiness error response", "error", encodeErr)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(map[string]string{
		"version":    info.Version,
		"commit":     info.Commit,
		"build_date": info.BuildDate,
		"go_version": info.GoVersion,
		"platform":   info.Platform,
	}); err != nil {
		slog.Error("Failed to encode version info", "error", err)
	}
}

// writeJSONResponse writes a JSON response with the given data
func (*Routes) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func (*Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
