package status

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastSyncStore_SaveAndLoad(t *testing.T) {
	t.Parallel()

	s := NewLastSyncStore(t.TempDir())

	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, s.Save(at))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, at.Equal(*loaded))
}

func TestLastSyncStore_LoadMissingReturnsNil(t *testing.T) {
	t.Parallel()

	s := NewLastSyncStore(t.TempDir())

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLastSyncStore_SaveCreatesDirectory(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "nested", "status")
	s := NewLastSyncStore(base)

	require.NoError(t, s.Save(time.Now()))

	_, err := os.Stat(filepath.Join(base, LastSyncFileName))
	assert.NoError(t, err)
}

func TestLastSyncStore_SaveOverwrites(t *testing.T) {
	t.Parallel()

	s := NewLastSyncStore(t.TempDir())

	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	second := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(first))
	require.NoError(t, s.Save(second))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, second.Equal(*loaded))
}
