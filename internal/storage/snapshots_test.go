package storage

import (
	"fmt"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saga/internal/state"
)

func setupTestDB(t *testing.T) (*badger.DB, func()) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil // Disable logging for tests

	db, err := badger.Open(opts)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
	}

	return db, cleanup
}

func TestSnapshotStore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store, err := NewSnapshotStore(db, uuid.New().String(), DefaultSnapshotOptions())
	require.NoError(t, err)
	defer store.Close()

	t.Run("RoundTripSmall", func(t *testing.T) {
		// Under the compression threshold, stored raw
		st := state.State{"name": "Aria", "hp": 10}
		require.NoError(t, store.Put("commit-1", st))

		got, ok, err := store.Get("commit-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, state.Equal(st, got))
	})

	t.Run("RoundTripCompressed", func(t *testing.T) {
		// Well past the threshold, stored as a zstd frame
		scenes := make([]any, 100)
		for i := range scenes {
			scenes[i] = map[string]any{
				"id":   fmt.Sprintf("scene-%d", i),
				"text": "The party descends into the sunken keep, torches guttering",
			}
		}
		st := state.State{"chapter": map[string]any{"scenes": scenes}}

		require.NoError(t, store.Put("commit-2", st))

		got, ok, err := store.Get("commit-2")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, state.Equal(st, got))
	})

	t.Run("Missing", func(t *testing.T) {
		_, ok, err := store.Get("never-stored")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.Put("commit-1", state.State{"hp": 99}))

		got, ok, err := store.Get("commit-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, state.Equal(state.State{"hp": 99}, got))
	})

	t.Run("EntityScoping", func(t *testing.T) {
		other, err := NewSnapshotStore(db, uuid.New().String(), DefaultSnapshotOptions())
		require.NoError(t, err)
		defer other.Close()

		_, ok, err := other.Get("commit-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
