package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/classboard/observesync/internal/queue"
	"github.com/classboard/observesync/internal/telemetry"
)

// Item is one submitted sync item, as received from a client batch.
type Item struct {
	ID         string
	Action     queue.Action
	TargetPath string
	Data       json.RawMessage
}

// Result is the per-item outcome returned to the client, correlated by
// the submitted item's ID.
type Result struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Service applies reconciliation batches against the observation store
// and records every item in the ledger.
type Service struct {
	observations ObservationStore
	ledger       LedgerStore
	metrics      *telemetry.ReconcileMetrics
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithReconcileMetrics enables reconciliation metrics recording.
func WithReconcileMetrics(m *telemetry.ReconcileMetrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a reconciliation service over the given stores.
func NewService(observations ObservationStore, ledger LedgerStore, opts ...ServiceOption) *Service {
	s := &Service{
		observations: observations,
		ledger:       ledger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// observationPayload is the client-side shape of an observation mutation.
// CREATE ignores ID; UPDATE and DELETE require it.
type observationPayload struct {
	ID              string   `json:"id"`
	StudentID       string   `json:"studentId"`
	Date            string   `json:"date"`
	Time            string   `json:"time"`
	ActivityType    string   `json:"activityType"`
	ObservedSkills  []string `json:"observedSkills"`
	Initiator       string   `json:"initiator"`
	StudentResponse string   `json:"studentResponse"`
	IsGoalAligned   bool     `json:"isGoalAligned"`
	Notes           string   `json:"notes"`
	Tags            []string `json:"tags"`
	Environment     string   `json:"environment"`
}

// ProcessBatch applies every item of a batch in order and returns one
// result per item. Items are isolated: a failing item is reported in its
// result and in the ledger, and processing continues with the next item.
func (s *Service) ProcessBatch(ctx context.Context, userID string, items []Item) []Result {
	results := make([]Result, 0, len(items))
	var succeeded, failed int64

	for _, item := range items {
		if err := s.ledger.Record(ctx, LedgerEntry{
			SyncID: item.ID,
			UserID: userID,
			Action: string(item.Action),
		}); err != nil {
			slog.Error("Failed to record ledger entry", "sync_id", item.ID, "error", err)
		}

		data, err := s.applyItem(ctx, userID, item)
		if err != nil {
			failed++
			if ledgerErr := s.ledger.Fail(ctx, item.ID, err.Error()); ledgerErr != nil {
				slog.Error("Failed to mark ledger entry failed", "sync_id", item.ID, "error", ledgerErr)
			}
			results = append(results, Result{ID: item.ID, Success: false, Error: err.Error()})
			continue
		}

		succeeded++
		if ledgerErr := s.ledger.Complete(ctx, item.ID, time.Now()); ledgerErr != nil {
			slog.Error("Failed to mark ledger entry completed", "sync_id", item.ID, "error", ledgerErr)
		}
		results = append(results, Result{ID: item.ID, Success: true, Data: data})
	}

	s.metrics.RecordBatch(ctx, succeeded, failed)

	slog.Info("Processed sync batch",
		"user_id", userID,
		"items", len(items),
		"succeeded", succeeded,
		"failed", failed)

	return results
}

// applyItem dispatches one item by action. The action set is closed; an
// unrecognized action is a per-item failure so a newer client never takes
// down a whole batch.
func (s *Service) applyItem(ctx context.Context, userID string, item Item) (any, error) {
	switch item.Action {
	case queue.ActionCreateObservation:
		return s.createObservation(ctx, userID, item.Data)
	case queue.ActionUpdateObservation:
		return s.updateObservation(ctx, item.Data)
	case queue.ActionDeleteObservation:
		return nil, s.deleteObservation(ctx, item.Data)
	default:
		return nil, fmt.Errorf("unknown action type: %s", item.Action)
	}
}

func (s *Service) createObservation(ctx context.Context, userID string, data json.RawMessage) (any, error) {
	payload, err := parsePayload(data)
	if err != nil {
		return nil, err
	}
	if payload.StudentID == "" {
		return nil, errors.New("studentId is required")
	}

	date, err := parseDate(payload.Date)
	if err != nil {
		return nil, err
	}

	obs, err := s.observations.Create(ctx, Observation{
		StudentID:       payload.StudentID,
		TeacherID:       userID,
		Date:            date,
		Time:            payload.Time,
		ActivityType:    payload.ActivityType,
		ObservedSkills:  payload.ObservedSkills,
		Initiator:       payload.Initiator,
		StudentResponse: payload.StudentResponse,
		IsGoalAligned:   payload.IsGoalAligned,
		Notes:           payload.Notes,
		Tags:            payload.Tags,
		Environment:     payload.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create observation: %w", err)
	}
	return obs, nil
}

func (s *Service) updateObservation(ctx context.Context, data json.RawMessage) (any, error) {
	payload, err := parsePayload(data)
	if err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, errors.New("observation id is required")
	}

	date, err := parseDate(payload.Date)
	if err != nil {
		return nil, err
	}

	obs, err := s.observations.Update(ctx, Observation{
		ID:              payload.ID,
		Date:            date,
		Time:            payload.Time,
		ActivityType:    payload.ActivityType,
		ObservedSkills:  payload.ObservedSkills,
		Initiator:       payload.Initiator,
		StudentResponse: payload.StudentResponse,
		IsGoalAligned:   payload.IsGoalAligned,
		Notes:           payload.Notes,
		Tags:            payload.Tags,
		Environment:     payload.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update observation: %w", err)
	}
	return obs, nil
}

func (s *Service) deleteObservation(ctx context.Context, data json.RawMessage) error {
	payload, err := parsePayload(data)
	if err != nil {
		return err
	}
	if payload.ID == "" {
		return errors.New("observation id is required")
	}

	if err := s.observations.Delete(ctx, payload.ID); err != nil {
		return fmt.Errorf("failed to delete observation: %w", err)
	}
	return nil
}

// PendingItems returns the user's ledger entries still marked PENDING.
func (s *Service) PendingItems(ctx context.Context, userID string) ([]LedgerEntry, error) {
	return s.ledger.ListPending(ctx, userID)
}

// ClearItems removes one ledger entry, or all of the user's entries when
// syncID is empty.
func (s *Service) ClearItems(ctx context.Context, userID, syncID string) error {
	return s.ledger.Clear(ctx, userID, syncID)
}

// CheckReadiness verifies the backing stores are reachable.
func (s *Service) CheckReadiness(ctx context.Context) error {
	return s.observations.Ping(ctx)
}

func parsePayload(data json.RawMessage) (*observationPayload, error) {
	if len(data) == 0 {
		return nil, errors.New("item data is required")
	}
	var payload observationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid item data: %w", err)
	}
	return &payload, nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("date is required")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date: %q", raw)
}
