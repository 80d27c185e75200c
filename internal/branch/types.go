package branch

import (
	"time"
)

// Branch is a named mutable pointer into the commit graph. Head reassignment
// goes through the store's compare-and-swap exclusively.
type Branch struct {
	Name         string    `json:"name"`
	HeadCommitID string    `json:"head_commit_id"`
	Protected    bool      `json:"protected"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is the durable branch record home. CompareAndSwapHead succeeds only
// when the stored head still equals expected at the moment of update; it is
// the engine's sole serialization point.
type Store interface {
	Create(b *Branch) error
	Get(name string) (*Branch, error)
	CompareAndSwapHead(name, next, expected string) error
	Delete(name string) error
	List() ([]*Branch, error)
}
