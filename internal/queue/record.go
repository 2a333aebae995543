// Package queue provides the durable local queue of pending write operations.
package queue

import (
	"encoding/json"
	"time"
)

// Action identifies the semantic kind of a captured write.
type Action string

const (
	// ActionCreateObservation creates a new observation on the server
	ActionCreateObservation Action = "CREATE_OBSERVATION"

	// ActionUpdateObservation updates an existing observation on the server
	ActionUpdateObservation Action = "UPDATE_OBSERVATION"

	// ActionDeleteObservation deletes an observation on the server
	ActionDeleteObservation Action = "DELETE_OBSERVATION"
)

// Valid reports whether a is one of the recognized action kinds.
func (a Action) Valid() bool {
	switch a {
	case ActionCreateObservation, ActionUpdateObservation, ActionDeleteObservation:
		return true
	}
	return false
}

// MutationRecord is a single captured write that has not yet been
// acknowledged by the server. Records are created when a direct write
// fails due to unreachability, mutated only by the sync engine to bump
// RetryCount/LastError, and destroyed on delivery or retry exhaustion.
type MutationRecord struct {
	// ID is the queue key. It is derived from the capture time, so
	// enumeration order by (EnqueuedAt, ID) matches capture order.
	ID string `json:"id"`

	// TargetPath is the logical resource path the mutation applies to
	TargetPath string `json:"targetPath"`

	// Action is the semantic write kind
	Action Action `json:"action"`

	// Payload is the opaque resource body for the mutation
	Payload json.RawMessage `json:"data,omitempty"`

	// EnqueuedAt is the capture timestamp
	EnqueuedAt time.Time `json:"enqueuedAt"`

	// RetryCount is the number of failed delivery attempts so far
	RetryCount int `json:"retryCount"`

	// LastError describes the most recent delivery failure, if any
	LastError string `json:"lastError,omitempty"`
}
