package storage

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"saga/internal/branch"
	"saga/internal/errors"
	"saga/internal/storage"
)

// Store keeps branch records in badger under branch:<entity>:<name>. Reads
// and writes go through the generic prefix store; only the compare-and-swap
// runs as its own badger Update transaction, where serializable isolation
// makes the read-compare-write atomic and a transaction conflict means the
// head moved concurrently.
type Store struct {
	db    *badger.DB
	store *storage.BadgerStore
}

func NewStore(db *badger.DB, entityID string) *Store {
	return &Store{
		db:    db,
		store: storage.NewBadgerStore(db, "branch", entityID),
	}
}

// branchEntity wraps branch.Branch to implement storage.Entity
type branchEntity struct {
	*branch.Branch
}

func (b *branchEntity) GetID() string {
	return b.Name
}

func (s *Store) Create(b *branch.Branch) error {
	err := s.store.Create(&branchEntity{Branch: b})
	if stderrors.Is(err, storage.ErrDuplicate) || stderrors.Is(err, badger.ErrConflict) {
		return errors.DuplicateBranch(b.Name)
	}
	if err != nil {
		return fmt.Errorf("storing branch: %w", err)
	}
	return nil
}

func (s *Store) Get(name string) (*branch.Branch, error) {
	var entity branchEntity
	entity.Branch = &branch.Branch{}

	if err := s.store.Get(name, &entity); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NotFound("branch not found: %s", name)
		}
		return nil, fmt.Errorf("getting branch: %w", err)
	}

	return entity.Branch, nil
}

// CompareAndSwapHead reassigns the head only if it still equals expected.
func (s *Store) CompareAndSwapHead(name, next, expected string) error {
	key := s.store.Key(name)

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return errors.NotFound("branch not found: %s", name)
		}
		if err != nil {
			return err
		}

		var b branch.Branch
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &b)
		}); err != nil {
			return err
		}

		if b.HeadCommitID != expected {
			return errors.NonFastForward(name)
		}

		b.HeadCommitID = next
		b.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(&b)
		if err != nil {
			return fmt.Errorf("marshaling branch: %w", err)
		}
		return txn.Set(key, data)
	})

	// A transaction conflict is another writer winning the same CAS race.
	if stderrors.Is(err, badger.ErrConflict) {
		return errors.NonFastForward(name)
	}
	return err
}

func (s *Store) Delete(name string) error {
	err := s.store.Delete(name)
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotFound("branch not found: %s", name)
	}
	return err
}

func (s *Store) List() ([]*branch.Branch, error) {
	var branches []*branch.Branch
	if err := s.store.List(&branches); err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	return branches, nil
}
