// Package store persists slices, ledger state and finality checkpoints in a
// key-value store. Every table lives under its own one-byte key prefix.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/eigerco/montana/pkg/db"
	"github.com/eigerco/montana/pkg/db/pebble"
)

var (
	ErrSliceNotFound      = errors.New("slice not found")
	ErrSnapshotNotFound   = errors.New("ledger snapshot not found")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrStoreClosed        = errors.New("store is closed")
)

// Prefix constants for all tables
const (
	prefixSlice      byte = iota + 1 // period ‖ prev_hash ‖ hash -> slice
	prefixSliceHash                  // hash -> period ‖ prev_hash
	prefixWeight                     // pubkey ‖ tier -> units
	prefixCooldown                   // class -> cooldown
	prefixCheckpoint                 // window -> checkpoint
	prefixSnapshot                   // height -> ledger snapshot
	prefixMeta
)

var keyLatestSnapshot = makeKey(prefixMeta, []byte("latest_snapshot"))

// PrefixToString converts a prefix byte to a string
func PrefixToString(p byte) string {
	switch p {
	case prefixSlice:
		return "slice"
	case prefixSliceHash:
		return "sliceHash"
	case prefixWeight:
		return "weight"
	case prefixCooldown:
		return "cooldown"
	case prefixCheckpoint:
		return "checkpoint"
	case prefixSnapshot:
		return "snapshot"
	case prefixMeta:
		return "meta"
	default:
		return "unknown"
	}
}

// makeKey creates a key from a prefix and the concatenated parts
func makeKey(prefix byte, parts ...[]byte) []byte {
	n := 1
	for _, p := range parts {
		n += len(p)
	}
	key := make([]byte, 1, n)
	key[0] = prefix
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

// u64 encodes big endian so keys sort numerically.
func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func u32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

// Store is the consensus persistence layer on top of a KVStore.
type Store struct {
	db     db.KVStore
	closed atomic.Bool
}

func New(kv db.KVStore) *Store {
	return &Store{db: kv}
}

// Open opens a pebble-backed store at dir, or an in-memory one when dir is empty.
func Open(dir string) (*Store, error) {
	var (
		kv  *pebble.KVStore
		err error
	)
	if dir == "" {
		kv, err = pebble.NewKVStore()
	} else {
		kv, err = pebble.NewKVStoreAt(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}
	return New(kv), nil
}

func (s *Store) get(key []byte, notFound error) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	b, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, notFound
		}
		return nil, err
	}
	return b, nil
}

// scan calls fn for every key-value pair under prefix, in key order.
func (s *Store) scan(prefix []byte, fn func(key, value []byte) error) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	iter, err := s.db.NewIterator(prefix, db.PrefixEnd(prefix))
	if err != nil {
		return fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()

	for iter.Next() {
		v, err := iter.Value()
		if err != nil {
			return fmt.Errorf("read value: %w", err)
		}
		if err := fn(iter.Key(), v); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the store
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
