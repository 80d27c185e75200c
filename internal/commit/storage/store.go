package storage

import (
	stderrors "errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"saga/internal/commit"
	"saga/internal/errors"
	"saga/internal/storage"
)

// Store is the badger-backed append-only commit store for one entity.
type Store struct {
	store *storage.BadgerStore
}

func NewStore(db *badger.DB, entityID string) *Store {
	return &Store{
		store: storage.NewBadgerStore(db, "commit", entityID),
	}
}

// commitEntity wraps commit.Commit to implement storage.Entity
type commitEntity struct {
	*commit.Commit
}

func (c *commitEntity) GetID() string {
	return c.ID
}

// Put appends a commit. Ids are content hashes, so an existing key already
// holds identical content and the write is idempotent.
func (s *Store) Put(c *commit.Commit) error {
	if c.ID == "" {
		return errors.ValidationError("commit id cannot be empty", nil)
	}
	if err := s.store.Put(&commitEntity{Commit: c}); err != nil {
		return fmt.Errorf("storing commit: %w", err)
	}
	return nil
}

func (s *Store) Get(id string) (*commit.Commit, error) {
	var entity commitEntity
	entity.Commit = &commit.Commit{}

	if err := s.store.Get(id, &entity); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NotFound("commit not found: %s", id)
		}
		return nil, fmt.Errorf("getting commit: %w", err)
	}

	return entity.Commit, nil
}

func (s *Store) Has(id string) (bool, error) {
	return s.store.Exists(id)
}
