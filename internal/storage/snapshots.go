package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"

	"saga/internal/state"
)

// zstd frame magic, used to tell compressed snapshots from raw ones on read.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// SnapshotOptions configures snapshot encoding.
type SnapshotOptions struct {
	// Minimum encoded size in bytes before compressing
	MinSize int
	// Compression level (1=fastest, 3=best)
	Level int
}

func DefaultSnapshotOptions() SnapshotOptions {
	return SnapshotOptions{
		MinSize: 1024, // 1KB
		Level:   2,    // Balanced speed/compression
	}
}

// SnapshotStore persists materialized states keyed by commit id, compressed
// with zstd past a size threshold. It backs the materializer's optional
// durable tier under the in-process cache.
type SnapshotStore struct {
	db      *badger.DB
	prefix  string
	opts    SnapshotOptions
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewSnapshotStore(db *badger.DB, entityID string, opts SnapshotOptions) (*SnapshotStore, error) {
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	return &SnapshotStore{
		db:      db,
		prefix:  fmt.Sprintf("snapshot:%s", entityID),
		opts:    opts,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func (s *SnapshotStore) makeKey(commitID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", s.prefix, commitID))
}

// Put stores the materialized state at a commit. Snapshots are derived data;
// rewriting one is harmless.
func (s *SnapshotStore) Put(commitID string, st state.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	if len(data) >= s.opts.MinSize {
		data = s.encoder.EncodeAll(data, nil)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.makeKey(commitID), data)
	})
}

// Get loads a snapshot, reporting false when none was stored for the commit.
func (s *SnapshotStore) Get(commitID string) (state.State, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(commitID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append(raw, val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading snapshot: %w", err)
	}

	if len(raw) > 4 && bytes.Equal(raw[:4], zstdMagic) {
		raw, err = s.decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, false, fmt.Errorf("decompressing snapshot: %w", err)
		}
	}

	var st state.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return st, true, nil
}

// Close releases the zstd coders.
func (s *SnapshotStore) Close() {
	s.encoder.Close()
	s.decoder.Close()
}
