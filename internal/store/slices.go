package store

import (
	"fmt"

	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/slice"
)

func sliceKey(period uint64, prev, hash crypto.Hash) []byte {
	return makeKey(prefixSlice, u64(period), prev[:], hash[:])
}

// PersistSlice stores a slice under (period, prev_hash) and indexes it by hash.
func (s *Store) PersistSlice(sl *slice.Slice) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	b, err := slice.Encode(sl)
	if err != nil {
		return fmt.Errorf("marshal slice: %w", err)
	}
	h := sl.Hash()
	key := sliceKey(sl.Header.Period, sl.Header.PrevHash, h)

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Put(key, b); err != nil {
		return fmt.Errorf("store slice: %w", err)
	}
	if err := batch.Put(makeKey(prefixSliceHash, h[:]), key); err != nil {
		return fmt.Errorf("store slice index: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// GetSlice retrieves a slice by its hash
func (s *Store) GetSlice(hash crypto.Hash) (*slice.Slice, error) {
	key, err := s.get(makeKey(prefixSliceHash, hash[:]), ErrSliceNotFound)
	if err != nil {
		return nil, err
	}
	b, err := s.get(key, ErrSliceNotFound)
	if err != nil {
		return nil, err
	}
	return slice.Decode(b)
}

// SlicesAt returns every stored slice of period, grouped by prev_hash.
func (s *Store) SlicesAt(period uint64) ([]*slice.Slice, error) {
	return s.slices(makeKey(prefixSlice, u64(period)))
}

// SlicesOn returns the slices of period built on prev.
func (s *Store) SlicesOn(period uint64, prev crypto.Hash) ([]*slice.Slice, error) {
	return s.slices(makeKey(prefixSlice, u64(period), prev[:]))
}

func (s *Store) slices(prefix []byte) ([]*slice.Slice, error) {
	var out []*slice.Slice
	err := s.scan(prefix, func(_, v []byte) error {
		sl, err := slice.Decode(v)
		if err != nil {
			return fmt.Errorf("unmarshal slice: %w", err)
		}
		out = append(out, sl)
		return nil
	})
	return out, err
}

// DeleteSlicesBefore drops every slice of a period below period.
func (s *Store) DeleteSlicesBefore(period uint64) (int, error) {
	var keys [][]byte
	err := s.scan(makeKey(prefixSlice), func(k, _ []byte) error {
		if len(k) < 9 {
			return nil
		}
		if p := beUint64(k[1:9]); p < period {
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, k := range keys {
		hash := k[len(k)-crypto.HashSize:]
		if err := batch.Delete(k); err != nil {
			return 0, fmt.Errorf("delete slice: %w", err)
		}
		if err := batch.Delete(makeKey(prefixSliceHash, hash)); err != nil {
			return 0, fmt.Errorf("delete slice index: %w", err)
		}
	}
	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return len(keys), nil
}
