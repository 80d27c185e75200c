// Package branch manages named mutable pointers into a commit graph with
// fast-forward (compare-and-swap) update policy and branch protection.
package branch

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"saga/internal/commit"
	"saga/internal/errors"
)

// Manager enforces branch policy over a store: heads must reference commits
// in the entity's graph, updates are CAS-only, protected branches cannot be
// deleted.
type Manager struct {
	store  Store
	graph  *commit.Graph
	logger *zap.Logger
}

func NewManager(store Store, graph *commit.Graph, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		graph:  graph,
		logger: logger,
	}
}

// Create points a new branch at an existing commit.
func (m *Manager) Create(name, atCommitID string, protected bool) (*Branch, error) {
	if name == "" {
		return nil, errors.ValidationError("branch name cannot be empty", nil)
	}
	ok, err := m.graph.Has(atCommitID)
	if err != nil {
		return nil, fmt.Errorf("checking commit %s: %w", atCommitID, err)
	}
	if !ok {
		return nil, errors.NotFound("commit not found: %s", atCommitID)
	}

	now := time.Now().UTC()
	b := &Branch{
		Name:         name,
		HeadCommitID: atCommitID,
		Protected:    protected,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.Create(b); err != nil {
		return nil, err
	}

	m.logger.Info("created branch",
		zap.String("branch", name),
		zap.String("head", atCommitID),
		zap.Bool("protected", protected))

	return b, nil
}

func (m *Manager) Get(name string) (*Branch, error) {
	return m.store.Get(name)
}

// UpdateHead moves a branch head atomically. The caller supplies the head it
// last observed; a NON_FAST_FORWARD failure means the branch moved underneath
// it and the operation should be re-read and retried.
func (m *Manager) UpdateHead(name, next, expected string) error {
	ok, err := m.graph.Has(next)
	if err != nil {
		return fmt.Errorf("checking commit %s: %w", next, err)
	}
	if !ok {
		return errors.NotFound("commit not found: %s", next)
	}

	if err := m.store.CompareAndSwapHead(name, next, expected); err != nil {
		return err
	}

	m.logger.Debug("updated branch head",
		zap.String("branch", name),
		zap.String("from", expected),
		zap.String("to", next))
	return nil
}

// Delete removes a branch unless it is protected.
func (m *Manager) Delete(name string) error {
	b, err := m.store.Get(name)
	if err != nil {
		return err
	}
	if b.Protected {
		return errors.ProtectedBranch(name)
	}

	if err := m.store.Delete(name); err != nil {
		return err
	}

	m.logger.Info("deleted branch", zap.String("branch", name))
	return nil
}

// List returns all branches sorted by name.
func (m *Manager) List() ([]*Branch, error) {
	branches, err := m.store.List()
	if err != nil {
		return nil, err
	}
	sort.Slice(branches, func(i, j int) bool {
		return branches[i].Name < branches[j].Name
	})
	return branches, nil
}
