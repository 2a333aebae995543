// Package server implements the authoritative reconciliation side of the
// sync protocol: applying batched mutations to observation rows and
// keeping an advisory ledger of processed items.
package server

import (
	"context"
	"errors"
	"time"
)

// DefaultEnvironment is assumed when a created observation does not name
// the setting it was recorded in.
const DefaultEnvironment = "CLASSROOM"

// ErrNotFound indicates the referenced observation does not exist.
var ErrNotFound = errors.New("observation not found")

// Observation is an authoritative behavioral observation row.
type Observation struct {
	ID              string    `json:"id"`
	StudentID       string    `json:"studentId"`
	TeacherID       string    `json:"teacherId"`
	Date            time.Time `json:"date"`
	Time            string    `json:"time"`
	ActivityType    string    `json:"activityType"`
	ObservedSkills  []string  `json:"observedSkills"`
	Initiator       string    `json:"initiator"`
	StudentResponse string    `json:"studentResponse"`
	IsGoalAligned   bool      `json:"isGoalAligned"`
	Notes           string    `json:"notes"`
	Tags            []string  `json:"tags"`
	Environment     string    `json:"environment"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ObservationStore is the authoritative persistence for observation rows.
type ObservationStore interface {
	// Create inserts a new observation and returns it with its assigned
	// ID and timestamps.
	Create(ctx context.Context, obs Observation) (Observation, error)

	// Update replaces the mutable fields of an existing observation and
	// returns the updated row. Returns ErrNotFound if the ID is unknown.
	Update(ctx context.Context, obs Observation) (Observation, error)

	// Delete removes an observation. Returns ErrNotFound if the ID is
	// unknown.
	Delete(ctx context.Context, id string) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
