// Package repo is the engine's public surface: the per-entity aggregate of
// one commit graph, one branch manager and one materializer, with bounded
// retry around the branch-head compare-and-swap.
package repo

import (
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"saga/internal/branch"
	branchstorage "saga/internal/branch/storage"
	"saga/internal/commit"
	commitstorage "saga/internal/commit/storage"
	"saga/internal/diff"
	"saga/internal/errors"
	"saga/internal/materialize"
	"saga/internal/merge"
	"saga/internal/state"
	"saga/internal/storage"
)

// DefaultBranch is created by Init and protected against deletion.
const DefaultBranch = "main"

// Options configures a repository.
type Options struct {
	EntityID      string // Required: the entity whose history this is
	IdentityKey   string // Sequence element identity field, default "id"
	CacheSize     int    // Materialized states kept in memory
	SnapshotEvery int    // Commits between durable snapshots, 0 disables
	MaxRetries    int    // Bound on the head CAS retry loop
	Logger        *zap.Logger
}

// Repository versions one entity. Many repositories may share one badger DB;
// keys are scoped by entity id.
type Repository struct {
	entityID      string
	graph         *commit.Graph
	branches      *branch.Manager
	mat           *materialize.Materializer
	differ        *diff.Engine
	merger        *merge.Engine
	snapshots     *storage.SnapshotStore
	logger        *zap.Logger
	maxRetries    int
	snapshotEvery int
	commitCount   atomic.Int64
}

func Open(db *badger.DB, opts Options) (*Repository, error) {
	if opts.EntityID == "" {
		return nil, errors.ValidationError("entity id is required", nil)
	}
	if opts.IdentityKey == "" {
		opts.IdentityKey = "id"
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("entity_id", opts.EntityID))

	graph := commit.NewGraph(commitstorage.NewStore(db, opts.EntityID), logger)
	branches := branch.NewManager(branchstorage.NewStore(db, opts.EntityID), graph, logger)

	var snapshots *storage.SnapshotStore
	if opts.SnapshotEvery > 0 {
		var err error
		snapshots, err = storage.NewSnapshotStore(db, opts.EntityID, storage.DefaultSnapshotOptions())
		if err != nil {
			return nil, fmt.Errorf("creating snapshot store: %w", err)
		}
	}

	matOpts := materialize.Options{CacheSize: opts.CacheSize}
	if snapshots != nil {
		matOpts.Snapshots = snapshots
	}
	mat, err := materialize.New(graph, matOpts, logger)
	if err != nil {
		if snapshots != nil {
			snapshots.Close()
		}
		return nil, fmt.Errorf("creating materializer: %w", err)
	}

	differ := diff.NewEngine(opts.IdentityKey)

	return &Repository{
		entityID:      opts.EntityID,
		graph:         graph,
		branches:      branches,
		mat:           mat,
		differ:        differ,
		merger:        merge.NewEngine(graph, branches, mat, differ, logger),
		snapshots:     snapshots,
		logger:        logger,
		maxRetries:    opts.MaxRetries,
		snapshotEvery: opts.SnapshotEvery,
	}, nil
}

func (r *Repository) EntityID() string {
	return r.entityID
}

// Init creates the root commit from the initial state and points a protected
// main branch at it.
func (r *Repository) Init(initial state.State, author, message string) (*commit.Commit, error) {
	if _, err := r.branches.Get(DefaultBranch); err == nil {
		return nil, errors.ValidationError("repository already initialized", r.entityID)
	}

	changes := r.differ.Diff(state.State{}, initial)
	root, err := r.graph.CreateCommit(nil, changes, author, message)
	if err != nil {
		return nil, err
	}

	if _, err := r.branches.Create(DefaultBranch, root.ID, true); err != nil {
		return nil, err
	}

	r.logger.Info("initialized repository", zap.String("root", root.ID))
	return root, nil
}

// Commit appends the proposed state to a branch. The branch head observed at
// read time is the CAS expectation; losing the race re-reads and retries up
// to the configured bound before surfacing NON_FAST_FORWARD. A proposal
// identical to the current state returns the existing head with no new
// commit.
func (r *Repository) Commit(branchName string, proposed state.State, author, message string) (*commit.Commit, error) {
	var lastErr error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		b, err := r.branches.Get(branchName)
		if err != nil {
			return nil, err
		}

		current, err := r.mat.Materialize(b.HeadCommitID)
		if err != nil {
			return nil, err
		}

		changes := r.differ.Diff(current, proposed)
		if changes.Empty() {
			return r.graph.Get(b.HeadCommitID)
		}

		c, err := r.graph.CreateCommit([]string{b.HeadCommitID}, changes, author, message)
		if err != nil {
			return nil, err
		}

		err = r.branches.UpdateHead(branchName, c.ID, b.HeadCommitID)
		if err == nil {
			r.maybeSnapshot(c.ID)
			return c, nil
		}
		if !errors.IsType(err, errors.ErrorTypeNonFastForward) {
			return nil, err
		}
		// The orphaned commit is unreachable and harmless; immutable commits
		// need no cleanup
		lastErr = err
		r.logger.Debug("commit lost head race, retrying",
			zap.String("branch", branchName),
			zap.Int("attempt", attempt+1))
	}

	return nil, lastErr
}

// CreateBranch points a new branch at a ref (branch name or commit id).
func (r *Repository) CreateBranch(name, at string, protected bool) (*branch.Branch, error) {
	commitID, err := r.ResolveCommit(at)
	if err != nil {
		return nil, err
	}
	return r.branches.Create(name, commitID, protected)
}

func (r *Repository) DeleteBranch(name string) error {
	return r.branches.Delete(name)
}

func (r *Repository) ListBranches() ([]*branch.Branch, error) {
	return r.branches.List()
}

func (r *Repository) GetBranch(name string) (*branch.Branch, error) {
	return r.branches.Get(name)
}

// History lists a ref's ancestry newest-first; limit <= 0 means all.
func (r *Repository) History(ref string, limit int) ([]*commit.Commit, error) {
	commitID, err := r.ResolveCommit(ref)
	if err != nil {
		return nil, err
	}
	return r.graph.History(commitID, limit)
}

// DiffBetween computes the change set between the states at two refs.
func (r *Repository) DiffBetween(refA, refB string) (diff.ChangeSet, error) {
	idA, err := r.ResolveCommit(refA)
	if err != nil {
		return diff.ChangeSet{}, err
	}
	idB, err := r.ResolveCommit(refB)
	if err != nil {
		return diff.ChangeSet{}, err
	}

	stateA, err := r.mat.Materialize(idA)
	if err != nil {
		return diff.ChangeSet{}, err
	}
	stateB, err := r.mat.Materialize(idB)
	if err != nil {
		return diff.ChangeSet{}, err
	}

	return r.differ.Diff(stateA, stateB), nil
}

// Merge merges source into target, retrying the head CAS within the same
// bound as Commit. Conflict reports pass through untouched; they are an
// expected outcome, not a failure.
func (r *Repository) Merge(source, target, author string, resolutions map[string]any) (*merge.Result, error) {
	var lastErr error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		result, err := r.merger.Merge(source, target, author, resolutions)
		if err == nil {
			if result.Commit != nil && !result.NoOp && !result.FastForward {
				r.maybeSnapshot(result.Commit.ID)
			}
			return result, nil
		}
		if !errors.IsType(err, errors.ErrorTypeNonFastForward) {
			return nil, err
		}
		lastErr = err
		r.logger.Debug("merge lost head race, retrying",
			zap.String("target", target),
			zap.Int("attempt", attempt+1))
	}

	return nil, lastErr
}

// Materialize returns the full state at a ref.
func (r *Repository) Materialize(ref string) (state.State, error) {
	commitID, err := r.ResolveCommit(ref)
	if err != nil {
		return nil, err
	}
	return r.mat.Materialize(commitID)
}

// GetCommit returns a commit by id.
func (r *Repository) GetCommit(id string) (*commit.Commit, error) {
	return r.graph.Get(id)
}

// ResolveCommit turns a ref into a commit id: branch names win, then commit
// ids.
func (r *Repository) ResolveCommit(ref string) (string, error) {
	if b, err := r.branches.Get(ref); err == nil {
		return b.HeadCommitID, nil
	}

	ok, err := r.graph.Has(ref)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.NotFound("no branch or commit named %s", ref)
	}
	return ref, nil
}

// Close releases repository-held resources. The badger DB belongs to the
// caller and stays open.
func (r *Repository) Close() error {
	if r.snapshots != nil {
		r.snapshots.Close()
	}
	return nil
}

func (r *Repository) maybeSnapshot(commitID string) {
	if r.snapshotEvery <= 0 {
		return
	}
	if r.commitCount.Add(1)%int64(r.snapshotEvery) != 0 {
		return
	}
	if err := r.mat.Persist(commitID); err != nil {
		r.logger.Warn("persisting snapshot failed",
			zap.String("commit_id", commitID),
			zap.Error(err))
	}
}
