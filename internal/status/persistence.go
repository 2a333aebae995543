package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// LastSyncFileName is the name of the persisted last-sync marker
	LastSyncFileName = "lastsync.json"
)

// lastSyncFile is the on-disk shape of the marker.
type lastSyncFile struct {
	LastSync time.Time `json:"lastSync"`
}

// LastSyncStore persists the timestamp of the most recent successful flush
// outside the queue, so it survives both restarts and flushes that
// processed zero items.
type LastSyncStore struct {
	basePath string
}

// NewLastSyncStore creates a LastSyncStore rooted at basePath.
func NewLastSyncStore(basePath string) *LastSyncStore {
	return &LastSyncStore{basePath: basePath}
}

// Save writes the marker atomically (temp file + rename).
func (s *LastSyncStore) Save(at time.Time) error {
	if err := os.MkdirAll(s.basePath, 0750); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	filePath := filepath.Join(s.basePath, LastSyncFileName)

	data, err := json.MarshalIndent(lastSyncFile{LastSync: at}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal last-sync marker: %w", err)
	}

	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary last-sync file: %w", err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename last-sync file: %w", err)
	}

	return nil
}

// Load returns the persisted marker, or nil if no flush has succeeded yet.
func (s *LastSyncStore) Load() (*time.Time, error) {
	filePath := filepath.Join(s.basePath, LastSyncFileName)

	// #nosec G304 -- filePath is constructed from the trusted base path
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read last-sync file: %w", err)
	}

	var f lastSyncFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal last-sync marker: %w", err)
	}

	return &f.LastSync, nil
}
