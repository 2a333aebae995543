// Package status provides the sync status read-model and its persistence.
package status

import "time"

// SyncStatus is the derived read-model exposed to observers. It is never
// stored as a whole: PendingItems comes from the queue, IsOnline from the
// connectivity monitor, and LastSync from its own persisted file so it
// survives a flush that processed zero items.
type SyncStatus struct {
	// PendingItems is the number of queued mutation records
	PendingItems int `json:"pendingItems"`

	// IsOnline reflects the connectivity monitor state
	IsOnline bool `json:"isOnline"`

	// LastSync is the timestamp of the most recent successful flush
	LastSync *time.Time `json:"lastSync"`
}
