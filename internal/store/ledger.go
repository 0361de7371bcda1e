package store

import (
	"encoding/binary"
	"fmt"

	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/ledger"
	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/pkg/serialization"
)

func beUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func weightKey(pub crypto.PublicKey, tier ledger.Tier) []byte {
	return makeKey(prefixWeight, pub[:], u32(uint32(tier)))
}

// PersistLedgerSnapshot stores snap at height and refreshes the weight and
// cooldown tables from it, all in one batch.
func (s *Store) PersistLedgerSnapshot(height uint64, snap *ledger.Snapshot) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	b, err := serialization.Marshal(*snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Put(makeKey(prefixSnapshot, u64(height)), b); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	if err := batch.Put(keyLatestSnapshot, u64(height)); err != nil {
		return fmt.Errorf("store snapshot pointer: %w", err)
	}
	for _, p := range snap.Participants {
		for _, tier := range ledger.Tiers {
			if err := batch.Put(weightKey(p.PublicKey, tier), u64(p.Weight.Units(tier))); err != nil {
				return fmt.Errorf("store weight: %w", err)
			}
		}
	}
	for _, cs := range snap.Cooldown.Classes {
		if err := batch.Put(makeKey(prefixCooldown, u32(uint32(cs.Class))), u64(cs.Cooldown)); err != nil {
			return fmt.Errorf("store cooldown: %w", err)
		}
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// LoadLedgerSnapshot returns the snapshot persisted at height.
func (s *Store) LoadLedgerSnapshot(height uint64) (*ledger.Snapshot, error) {
	b, err := s.get(makeKey(prefixSnapshot, u64(height)), ErrSnapshotNotFound)
	if err != nil {
		return nil, err
	}
	snap := new(ledger.Snapshot)
	if err := serialization.Unmarshal(b, snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// LatestLedgerSnapshot returns the most recently persisted snapshot and its height.
func (s *Store) LatestLedgerSnapshot() (uint64, *ledger.Snapshot, error) {
	b, err := s.get(keyLatestSnapshot, ErrSnapshotNotFound)
	if err != nil {
		return 0, nil, err
	}
	height := beUint64(b)
	snap, err := s.LoadLedgerSnapshot(height)
	if err != nil {
		return 0, nil, err
	}
	return height, snap, nil
}

// DeleteSnapshotsBefore drops snapshots below height. The latest one is kept regardless.
func (s *Store) DeleteSnapshotsBefore(height uint64) error {
	latest, _, err := s.LatestLedgerSnapshot()
	if err != nil {
		return err
	}
	var keys [][]byte
	err = s.scan(makeKey(prefixSnapshot), func(k, _ []byte) error {
		if h := beUint64(k[1:]); h < height && h != latest {
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, k := range keys {
		if err := batch.Delete(k); err != nil {
			return fmt.Errorf("delete snapshot: %w", err)
		}
	}
	return batch.Commit()
}

// Weight returns the completed units of tier held by pub at the latest snapshot.
func (s *Store) Weight(pub crypto.PublicKey, tier ledger.Tier) (uint64, error) {
	b, err := s.get(weightKey(pub, tier), nil)
	if err != nil {
		return 0, err
	}
	if b == nil {
		return 0, nil
	}
	return beUint64(b), nil
}

// Cooldown returns the persisted cooldown of class, in periods.
func (s *Store) Cooldown(class presence.Class) (uint64, bool, error) {
	b, err := s.get(makeKey(prefixCooldown, u32(uint32(class))), nil)
	if err != nil {
		return 0, false, err
	}
	if b == nil {
		return 0, false, nil
	}
	return beUint64(b), true, nil
}
