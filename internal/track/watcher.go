// Package track watches an entity's state file and commits it on save, so a
// character sheet or chapter edited on disk accrues history automatically.
package track

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"saga/internal/repo"
	"saga/internal/state"
)

// Watcher auto-commits one JSON state file to one branch.
type Watcher struct {
	repo     *repo.Repository
	path     string
	branch   string
	author   string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	debounce time.Duration
	done     chan struct{}
}

// Options configures a watcher.
type Options struct {
	Path     string        // State file to watch
	Branch   string        // Branch receiving auto-commits
	Author   string        // Author recorded on auto-commits
	Debounce time.Duration // Quiet period after the last write, default 250ms
}

func NewWatcher(r *repo.Repository, opts Options, logger *zap.Logger) (*Watcher, error) {
	if opts.Debounce == 0 {
		opts.Debounce = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	// Watch the directory: editors replace files via rename, which drops
	// watches placed on the file itself
	if err := watcher.Add(filepath.Dir(opts.Path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching directory: %w", err)
	}

	return &Watcher{
		repo:     r,
		path:     filepath.Clean(opts.Path),
		branch:   opts.Branch,
		author:   opts.Author,
		watcher:  watcher,
		logger:   logger,
		debounce: opts.Debounce,
		done:     make(chan struct{}),
	}, nil
}

// Run processes filesystem events until Close, committing the file after
// each write settles.
func (w *Watcher) Run() {
	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				// Drain a fired-but-unread tick so Reset starts a clean
				// window instead of delivering the stale one immediately
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			w.commitFile()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) commitFile() {
	st, err := loadStateFile(w.path)
	if err != nil {
		w.logger.Error("reading state file", zap.String("path", w.path), zap.Error(err))
		return
	}

	c, err := w.repo.Commit(w.branch, st, w.author, fmt.Sprintf("auto: %s saved", filepath.Base(w.path)))
	if err != nil {
		w.logger.Error("auto-commit failed", zap.String("branch", w.branch), zap.Error(err))
		return
	}

	w.logger.Info("auto-committed state file",
		zap.String("branch", w.branch),
		zap.String("commit_id", c.ID))
}

// Close stops the event loop and releases the watch.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func loadStateFile(path string) (state.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var st state.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return st, nil
}
