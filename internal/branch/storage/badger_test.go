package storage

import (
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saga/internal/branch"
	"saga/internal/commit"
	commitstorage "saga/internal/commit/storage"
	"saga/internal/diff"
	"saga/internal/errors"
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

func setupGraph(t *testing.T, db *badger.DB, entityID string) (*commit.Graph, *commit.Commit) {
	graph := commit.NewGraph(commitstorage.NewStore(db, entityID), nil)
	root, err := graph.CreateCommit(nil, diff.ChangeSet{Ops: []diff.Op{
		{Kind: diff.OpSet, Path: "hp", Value: 10},
	}}, "gm", "root")
	require.NoError(t, err)
	return graph, root
}

func TestBranchStore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	entityID := uuid.New().String()
	graph, root := setupGraph(t, db, entityID)
	manager := branch.NewManager(NewStore(db, entityID), graph, nil)

	t.Run("CreateAndGet", func(t *testing.T) {
		b, err := manager.Create("main", root.ID, true)
		require.NoError(t, err)
		assert.True(t, b.Protected)
		assert.False(t, b.CreatedAt.IsZero())

		got, err := manager.Get("main")
		require.NoError(t, err)
		assert.Equal(t, root.ID, got.HeadCommitID)
	})

	t.Run("DuplicateName", func(t *testing.T) {
		_, err := manager.Create("main", root.ID, false)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeDuplicateBranch))
	})

	t.Run("CreateAtUnknownCommit", func(t *testing.T) {
		_, err := manager.Create("ghost", "no-such-commit", false)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := manager.Get("does-not-exist")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	})

	t.Run("DeleteProtected", func(t *testing.T) {
		err := manager.Delete("main")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeProtectedBranch))
	})

	t.Run("DeleteUnprotected", func(t *testing.T) {
		_, err := manager.Create("scratch", root.ID, false)
		require.NoError(t, err)
		require.NoError(t, manager.Delete("scratch"))

		_, err = manager.Get("scratch")
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	})

	t.Run("List", func(t *testing.T) {
		_, err := manager.Create("feature", root.ID, false)
		require.NoError(t, err)

		branches, err := manager.List()
		require.NoError(t, err)
		require.Len(t, branches, 2)
		// Sorted by name
		assert.Equal(t, "feature", branches[0].Name)
		assert.Equal(t, "main", branches[1].Name)
	})
}

func TestUpdateHead(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	entityID := uuid.New().String()
	graph, root := setupGraph(t, db, entityID)
	manager := branch.NewManager(NewStore(db, entityID), graph, nil)

	_, err := manager.Create("main", root.ID, false)
	require.NoError(t, err)

	next, err := graph.CreateCommit([]string{root.ID}, diff.ChangeSet{Ops: []diff.Op{
		{Kind: diff.OpSet, Path: "hp", Value: 12},
	}}, "gm", "bump hp")
	require.NoError(t, err)

	t.Run("FastForward", func(t *testing.T) {
		require.NoError(t, manager.UpdateHead("main", next.ID, root.ID))

		b, err := manager.Get("main")
		require.NoError(t, err)
		assert.Equal(t, next.ID, b.HeadCommitID)
		assert.True(t, b.UpdatedAt.After(b.CreatedAt) || b.UpdatedAt.Equal(b.CreatedAt))
	})

	t.Run("StaleExpectation", func(t *testing.T) {
		err := manager.UpdateHead("main", root.ID, root.ID)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeNonFastForward))
	})

	t.Run("UnknownTargetCommit", func(t *testing.T) {
		err := manager.UpdateHead("main", "no-such-commit", next.ID)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	})

	t.Run("ConcurrentRace", func(t *testing.T) {
		// Both racers observed the same head; exactly one CAS may win
		x, err := graph.CreateCommit([]string{next.ID}, diff.ChangeSet{Ops: []diff.Op{
			{Kind: diff.OpSet, Path: "hp", Value: 13},
		}}, "gm", "x")
		require.NoError(t, err)
		y, err := graph.CreateCommit([]string{next.ID}, diff.ChangeSet{Ops: []diff.Op{
			{Kind: diff.OpSet, Path: "hp", Value: 14},
		}}, "gm", "y")
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make([]error, 2)
		for i, target := range []string{x.ID, y.ID} {
			wg.Add(1)
			go func(i int, target string) {
				defer wg.Done()
				results[i] = manager.UpdateHead("main", target, next.ID)
			}(i, target)
		}
		wg.Wait()

		var wins, losses int
		for _, err := range results {
			if err == nil {
				wins++
			} else {
				assert.True(t, errors.IsType(err, errors.ErrorTypeNonFastForward))
				losses++
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, 1, losses)

		b, err := manager.Get("main")
		require.NoError(t, err)
		assert.Contains(t, []string{x.ID, y.ID}, b.HeadCommitID)
	})
}
