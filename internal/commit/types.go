package commit

import (
	"time"

	"saga/internal/diff"
)

// Commit is an immutable node in an entity's version graph. ID is a content
// hash over parent ids, change set and metadata, so the graph is acyclic by
// construction: a commit can only reference commits that already existed
// when it was hashed.
type Commit struct {
	ID        string         `json:"id"`
	ParentIDs []string       `json:"parent_ids"`
	Changes   diff.ChangeSet `json:"changes"`
	Author    string         `json:"author"`
	Message   string         `json:"message"`
	CreatedAt time.Time      `json:"created_at"`
}

// Root reports whether this commit starts a lineage.
func (c *Commit) Root() bool {
	return len(c.ParentIDs) == 0
}

// Merge reports whether this commit joins two lines of development. The
// second parent is kept for ancestry only; materialization replays the
// first-parent chain.
func (c *Commit) Merge() bool {
	return len(c.ParentIDs) == 2
}

// FirstParent returns the replay parent, empty for roots.
func (c *Commit) FirstParent() string {
	if len(c.ParentIDs) == 0 {
		return ""
	}
	return c.ParentIDs[0]
}

// Store is the durable append-only home of commit records. Put is idempotent
// for identical content since ids are content-addressed.
type Store interface {
	Put(c *Commit) error
	Get(id string) (*Commit, error)
	Has(id string) (bool, error)
}
