// Package materialize reconstructs full entity states at arbitrary commits
// by replaying first-parent change chains, memoized so repeated lookups cost
// one cache hit instead of a replay.
package materialize

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"saga/internal/commit"
	"saga/internal/diff"
	"saga/internal/state"
)

// SnapshotStore is the optional durable tier consulted before a full replay.
type SnapshotStore interface {
	Put(commitID string, st state.State) error
	Get(commitID string) (state.State, bool, error)
}

// Materializer is a pure function of commit id with a memo cache. Cache
// entries are never invalidated because commits are immutable.
type Materializer struct {
	graph     *commit.Graph
	cache     *lru.Cache[string, state.State]
	snapshots SnapshotStore
	logger    *zap.Logger
}

// Options configures materialization behavior.
type Options struct {
	CacheSize int           // Number of states to cache
	Snapshots SnapshotStore // Optional durable snapshots, may be nil
}

func New(graph *commit.Graph, opts Options, logger *zap.Logger) (*Materializer, error) {
	if opts.CacheSize == 0 {
		opts.CacheSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := lru.New[string, state.State](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	return &Materializer{
		graph:     graph,
		cache:     cache,
		snapshots: opts.Snapshots,
		logger:    logger,
	}, nil
}

// Materialize returns the full state at a commit. The walk down the
// first-parent chain is iterative (explicit work list) so long histories
// cannot exhaust the stack; merge commits replay their stored change set,
// which is already relative to the first parent. Callers own the returned
// state and may mutate it.
func (m *Materializer) Materialize(commitID string) (state.State, error) {
	// Walk backwards until a cached or snapshotted state, or the root
	var chain []*commit.Commit
	base := state.State{}
	cur := commitID

	for {
		if cached, ok := m.cache.Get(cur); ok {
			base = cached
			break
		}
		if m.snapshots != nil {
			st, ok, err := m.snapshots.Get(cur)
			if err != nil {
				return nil, fmt.Errorf("reading snapshot for %s: %w", cur, err)
			}
			if ok {
				m.cache.Add(cur, st)
				base = st
				break
			}
		}

		c, err := m.graph.Get(cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, c)
		if c.Root() {
			break
		}
		cur = c.FirstParent()
	}

	if len(chain) > 0 {
		m.logger.Debug("replaying commit chain",
			zap.String("commit_id", commitID),
			zap.Int("depth", len(chain)))
	}

	// Replay forward, caching every intermediate state
	st := base
	for i := len(chain) - 1; i >= 0; i-- {
		next, err := diff.Apply(st, chain[i].Changes)
		if err != nil {
			return nil, fmt.Errorf("replaying commit %s: %w", chain[i].ID, err)
		}
		m.cache.Add(chain[i].ID, next)
		st = next
	}

	return state.CloneState(st), nil
}

// Persist materializes a commit and writes it to the snapshot store, bounding
// future replay depth. No-op without a snapshot store.
func (m *Materializer) Persist(commitID string) error {
	if m.snapshots == nil {
		return nil
	}
	st, err := m.Materialize(commitID)
	if err != nil {
		return err
	}
	return m.snapshots.Put(commitID, st)
}
