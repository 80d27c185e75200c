// Package commit owns the immutable, content-addressed commit graph of one
// entity: appends, lookups, ancestry traversal and lowest-common-ancestor
// computation.
package commit

import (
	"container/heap"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"saga/internal/diff"
	"saga/internal/errors"
)

// Graph is the per-entity commit DAG over a durable store.
type Graph struct {
	store  Store
	logger *zap.Logger
}

func NewGraph(store Store, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		store:  store,
		logger: logger,
	}
}

// CreateCommit validates parent arity and existence, hashes the content into
// an id and appends the commit. Commits are never mutated or deleted after
// this point.
func (g *Graph) CreateCommit(parentIDs []string, changes diff.ChangeSet, author, message string) (*Commit, error) {
	if len(parentIDs) > 2 {
		return nil, errors.InvalidArity(len(parentIDs))
	}
	for _, id := range parentIDs {
		ok, err := g.store.Has(id)
		if err != nil {
			return nil, fmt.Errorf("checking parent %s: %w", id, err)
		}
		if !ok {
			return nil, errors.UnknownParent(id)
		}
	}

	c := &Commit{
		ParentIDs: append([]string(nil), parentIDs...),
		Changes:   changes,
		Author:    author,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	id, err := hashCommit(c)
	if err != nil {
		return nil, fmt.Errorf("hashing commit: %w", err)
	}
	c.ID = id

	if err := g.store.Put(c); err != nil {
		return nil, fmt.Errorf("storing commit: %w", err)
	}

	g.logger.Debug("created commit",
		zap.String("commit_id", c.ID),
		zap.Strings("parents", c.ParentIDs),
		zap.Int("ops", len(changes.Ops)))

	return c, nil
}

// Get returns the commit with the given id.
func (g *Graph) Get(id string) (*Commit, error) {
	return g.store.Get(id)
}

// Has reports whether a commit exists in this graph.
func (g *Graph) Has(id string) (bool, error) {
	return g.store.Has(id)
}

// Ancestors returns a restartable iterator over id and its ancestry in
// reverse-chronological topological order: each commit is yielded before its
// parents.
func (g *Graph) Ancestors(id string) (*AncestorIter, error) {
	tip, err := g.store.Get(id)
	if err != nil {
		return nil, err
	}

	it := &AncestorIter{
		graph:   g,
		visited: map[string]bool{tip.ID: true},
	}
	heap.Push(&it.frontier, frontierEntry{commit: tip, seq: it.nextSeq()})
	return it, nil
}

// History collects up to limit ancestors into a slice; limit <= 0 means all.
func (g *Graph) History(id string, limit int) ([]*Commit, error) {
	it, err := g.Ancestors(id)
	if err != nil {
		return nil, err
	}

	var out []*Commit
	for {
		c, err := it.Next()
		if err != nil {
			return nil, err
		}
		if c == nil {
			return out, nil
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			return out, nil
		}
	}
}

// LowestCommonAncestor finds the nearest shared ancestor of a and b by
// alternating BFS frontier expansion with ancestor-set intersection. The
// empty string means the two commits belong to disjoint lineages, which is a
// representable result rather than an error.
func (g *Graph) LowestCommonAncestor(a, b string) (string, error) {
	if _, err := g.store.Get(a); err != nil {
		return "", err
	}
	if _, err := g.store.Get(b); err != nil {
		return "", err
	}
	if a == b {
		return a, nil
	}

	seenA := map[string]bool{a: true}
	seenB := map[string]bool{b: true}
	frontA := []string{a}
	frontB := []string{b}

	for len(frontA) > 0 || len(frontB) > 0 {
		var err error
		var found string

		frontA, found, err = g.expand(frontA, seenA, seenB)
		if err != nil {
			return "", err
		}
		if found != "" {
			return found, nil
		}

		frontB, found, err = g.expand(frontB, seenB, seenA)
		if err != nil {
			return "", err
		}
		if found != "" {
			return found, nil
		}
	}

	return "", nil
}

// expand advances one BFS level from one tip, reporting the first parent
// already seen from the other tip.
func (g *Graph) expand(frontier []string, seen, other map[string]bool) ([]string, string, error) {
	var next []string
	for _, id := range frontier {
		c, err := g.store.Get(id)
		if err != nil {
			return nil, "", err
		}
		for _, parent := range c.ParentIDs {
			if seen[parent] {
				continue
			}
			seen[parent] = true
			if other[parent] {
				return nil, parent, nil
			}
			next = append(next, parent)
		}
	}
	return next, "", nil
}

// AncestorIter walks ancestry lazily. Next returns (nil, nil) when the walk
// is exhausted; re-running a walk means creating a fresh iterator.
type AncestorIter struct {
	graph    *Graph
	frontier commitHeap
	visited  map[string]bool
	seq      int
}

func (it *AncestorIter) Next() (*Commit, error) {
	if it.frontier.Len() == 0 {
		return nil, nil
	}

	entry := heap.Pop(&it.frontier).(frontierEntry)
	for _, parentID := range entry.commit.ParentIDs {
		if it.visited[parentID] {
			continue
		}
		it.visited[parentID] = true
		parent, err := it.graph.store.Get(parentID)
		if err != nil {
			return nil, err
		}
		heap.Push(&it.frontier, frontierEntry{commit: parent, seq: it.nextSeq()})
	}

	return entry.commit, nil
}

func (it *AncestorIter) nextSeq() int {
	it.seq++
	return it.seq
}

type frontierEntry struct {
	commit *Commit
	seq    int
}

// commitHeap orders pending commits newest-first, discovery order breaking
// timestamp ties.
type commitHeap []frontierEntry

func (h commitHeap) Len() int { return len(h) }

func (h commitHeap) Less(i, j int) bool {
	if !h[i].commit.CreatedAt.Equal(h[j].commit.CreatedAt) {
		return h[i].commit.CreatedAt.After(h[j].commit.CreatedAt)
	}
	return h[i].seq < h[j].seq
}

func (h commitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *commitHeap) Push(x any) { *h = append(*h, x.(frontierEntry)) }

func (h *commitHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// hashCommit derives the content-addressed id: parent ids, change set,
// author, message and creation time, JSON-marshaled (map keys sort, so the
// encoding is deterministic) and hashed.
func hashCommit(c *Commit) (string, error) {
	payload := struct {
		ParentIDs []string       `json:"parent_ids"`
		Changes   diff.ChangeSet `json:"changes"`
		Author    string         `json:"author"`
		Message   string         `json:"message"`
		CreatedAt time.Time      `json:"created_at"`
	}{c.ParentIDs, c.Changes, c.Author, c.Message, c.CreatedAt}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
