package materialize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saga/internal/commit"
	"saga/internal/diff"
	"saga/internal/errors"
	"saga/internal/state"
)

type memStore struct {
	commits map[string]*commit.Commit
	gets    int
}

func newMemStore() *memStore {
	return &memStore{commits: make(map[string]*commit.Commit)}
}

func (s *memStore) Put(c *commit.Commit) error {
	s.commits[c.ID] = c
	return nil
}

func (s *memStore) Get(id string) (*commit.Commit, error) {
	s.gets++
	c, ok := s.commits[id]
	if !ok {
		return nil, errors.NotFound("commit not found: %s", id)
	}
	return c, nil
}

func (s *memStore) Has(id string) (bool, error) {
	_, ok := s.commits[id]
	return ok, nil
}

// memSnapshots counts accesses so tests can tell which tier answered.
type memSnapshots struct {
	states map[string]state.State
	puts   int
	hits   int
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{states: make(map[string]state.State)}
}

func (s *memSnapshots) Put(commitID string, st state.State) error {
	s.puts++
	s.states[commitID] = state.CloneState(st)
	return nil
}

func (s *memSnapshots) Get(commitID string) (state.State, bool, error) {
	st, ok := s.states[commitID]
	if !ok {
		return nil, false, nil
	}
	s.hits++
	return state.CloneState(st), true, nil
}

func setOp(path string, value any) diff.ChangeSet {
	return diff.ChangeSet{Ops: []diff.Op{{Kind: diff.OpSet, Path: path, Value: value}}}
}

func buildChain(t *testing.T, graph *commit.Graph) []*commit.Commit {
	root, err := graph.CreateCommit(nil, diff.ChangeSet{Ops: []diff.Op{
		{Kind: diff.OpSet, Path: "name", Value: "Aria"},
		{Kind: diff.OpSet, Path: "hp", Value: 10},
	}}, "gm", "root")
	require.NoError(t, err)

	second, err := graph.CreateCommit([]string{root.ID}, setOp("hp", 12), "gm", "second")
	require.NoError(t, err)

	third, err := graph.CreateCommit([]string{second.ID}, diff.ChangeSet{Ops: []diff.Op{
		{Kind: diff.OpSet, Path: "hp", Value: 14},
		{Kind: diff.OpSet, Path: "status", Value: "wounded"},
	}}, "gm", "third")
	require.NoError(t, err)

	return []*commit.Commit{root, second, third}
}

func TestMaterialize(t *testing.T) {
	store := newMemStore()
	graph := commit.NewGraph(store, nil)
	chain := buildChain(t, graph)

	mat, err := New(graph, Options{CacheSize: 10}, nil)
	require.NoError(t, err)

	t.Run("RootState", func(t *testing.T) {
		st, err := mat.Materialize(chain[0].ID)
		require.NoError(t, err)
		assert.True(t, state.Equal(state.State{"name": "Aria", "hp": 10}, st))
	})

	t.Run("ChainReplay", func(t *testing.T) {
		st, err := mat.Materialize(chain[2].ID)
		require.NoError(t, err)
		assert.True(t, state.Equal(state.State{"name": "Aria", "hp": 14, "status": "wounded"}, st))
	})

	t.Run("Deterministic", func(t *testing.T) {
		a, err := mat.Materialize(chain[2].ID)
		require.NoError(t, err)
		b, err := mat.Materialize(chain[2].ID)
		require.NoError(t, err)
		assert.True(t, state.Equal(a, b))
	})

	t.Run("UnknownCommit", func(t *testing.T) {
		_, err := mat.Materialize("does-not-exist")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	})
}

func TestMaterializeCaching(t *testing.T) {
	store := newMemStore()
	graph := commit.NewGraph(store, nil)
	chain := buildChain(t, graph)

	mat, err := New(graph, Options{CacheSize: 10}, nil)
	require.NoError(t, err)

	_, err = mat.Materialize(chain[2].ID)
	require.NoError(t, err)

	before := store.gets
	_, err = mat.Materialize(chain[2].ID)
	require.NoError(t, err)
	assert.Equal(t, before, store.gets, "second lookup must be served from cache")

	// Intermediate states were cached during the first walk
	_, err = mat.Materialize(chain[1].ID)
	require.NoError(t, err)
	assert.Equal(t, before, store.gets)
}

func TestMaterializeReturnsOwnedState(t *testing.T) {
	store := newMemStore()
	graph := commit.NewGraph(store, nil)
	chain := buildChain(t, graph)

	mat, err := New(graph, Options{CacheSize: 10}, nil)
	require.NoError(t, err)

	st, err := mat.Materialize(chain[0].ID)
	require.NoError(t, err)
	st["hp"] = 999

	again, err := mat.Materialize(chain[0].ID)
	require.NoError(t, err)
	assert.True(t, state.Equal(state.State{"name": "Aria", "hp": 10}, again),
		"caller mutations must not leak into the cache")
}

func TestMaterializeMergeCommit(t *testing.T) {
	store := newMemStore()
	graph := commit.NewGraph(store, nil)

	root, err := graph.CreateCommit(nil, setOp("hp", 10), "gm", "root")
	require.NoError(t, err)
	left, err := graph.CreateCommit([]string{root.ID}, setOp("hp", 15), "gm", "left")
	require.NoError(t, err)
	right, err := graph.CreateCommit([]string{root.ID}, setOp("mp", 4), "gm", "right")
	require.NoError(t, err)

	// A merge commit's change set is relative to its first parent
	mergeCommit, err := graph.CreateCommit([]string{left.ID, right.ID}, setOp("mp", 4), "gm", "merge")
	require.NoError(t, err)

	mat, err := New(graph, Options{CacheSize: 10}, nil)
	require.NoError(t, err)

	st, err := mat.Materialize(mergeCommit.ID)
	require.NoError(t, err)
	assert.True(t, state.Equal(state.State{"hp": 15, "mp": 4}, st))
}

func TestSnapshotTier(t *testing.T) {
	store := newMemStore()
	graph := commit.NewGraph(store, nil)
	chain := buildChain(t, graph)
	snapshots := newMemSnapshots()

	mat, err := New(graph, Options{CacheSize: 10, Snapshots: snapshots}, nil)
	require.NoError(t, err)

	require.NoError(t, mat.Persist(chain[1].ID))
	assert.Equal(t, 1, snapshots.puts)

	// A fresh materializer with a cold cache stops the walk at the snapshot
	fresh, err := New(graph, Options{CacheSize: 10, Snapshots: snapshots}, nil)
	require.NoError(t, err)

	before := store.gets
	st, err := fresh.Materialize(chain[2].ID)
	require.NoError(t, err)
	assert.True(t, state.Equal(state.State{"name": "Aria", "hp": 14, "status": "wounded"}, st))
	assert.Equal(t, 1, snapshots.hits)
	assert.Equal(t, before+1, store.gets, "only the tip commit is read past the snapshot")
}

func TestPersistWithoutSnapshotStore(t *testing.T) {
	store := newMemStore()
	graph := commit.NewGraph(store, nil)
	chain := buildChain(t, graph)

	mat, err := New(graph, Options{CacheSize: 10}, nil)
	require.NoError(t, err)
	assert.NoError(t, mat.Persist(chain[0].ID))
}
