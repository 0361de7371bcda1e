package store

import (
	"errors"
	"fmt"

	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/finality"
	"github.com/eigerco/montana/internal/forkchoice"
	"github.com/eigerco/montana/pkg/serialization"
)

// checkpointRecord is the stored form of finality.Checkpoint.
type checkpointRecord struct {
	Window            uint64
	Height            uint64
	Boundary          uint64
	ParticipantsCount uint64
	ProvenTimeUnits   uint64
	AggregateScore    uint64
	Hash              crypto.Hash
	AttestationRoot   crypto.Hash
	Status            uint32
}

func toRecord(cp finality.Checkpoint) checkpointRecord {
	return checkpointRecord{
		Window:            cp.Window,
		Height:            cp.Height,
		Boundary:          cp.Head.Boundary,
		ParticipantsCount: cp.Head.ParticipantsCount,
		ProvenTimeUnits:   cp.Head.ProvenTimeUnits,
		AggregateScore:    cp.Head.AggregateScore,
		Hash:              cp.Head.Hash,
		AttestationRoot:   cp.AttestationRoot,
		Status:            uint32(cp.Status),
	}
}

func (r checkpointRecord) checkpoint() finality.Checkpoint {
	st := finality.Status(r.Status)
	return finality.Checkpoint{
		Window: r.Window,
		Height: r.Height,
		Head: forkchoice.Head{
			Boundary:          r.Boundary,
			ParticipantsCount: r.ParticipantsCount,
			ProvenTimeUnits:   r.ProvenTimeUnits,
			AggregateScore:    r.AggregateScore,
			Hash:              r.Hash,
			Final:             st == finality.Final,
		},
		AttestationRoot: r.AttestationRoot,
		Status:          st,
	}
}

// PersistCheckpoint stores cp. A FINAL checkpoint already stored for the
// same window is never overwritten.
func (s *Store) PersistCheckpoint(cp finality.Checkpoint) error {
	key := makeKey(prefixCheckpoint, u64(cp.Window))
	existing, err := s.GetCheckpoint(cp.Window)
	switch {
	case err == nil && existing.Status == finality.Final:
		return nil
	case err != nil && !errors.Is(err, ErrCheckpointNotFound):
		return err
	}
	b, err := serialization.Marshal(toRecord(cp))
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := s.db.Put(key, b); err != nil {
		return fmt.Errorf("store checkpoint: %w", err)
	}
	return nil
}

func (s *Store) GetCheckpoint(window uint64) (finality.Checkpoint, error) {
	b, err := s.get(makeKey(prefixCheckpoint, u64(window)), ErrCheckpointNotFound)
	if err != nil {
		return finality.Checkpoint{}, err
	}
	var r checkpointRecord
	if err := serialization.Unmarshal(b, &r); err != nil {
		return finality.Checkpoint{}, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return r.checkpoint(), nil
}

// FinalCheckpoints returns the FINAL checkpoints in window order.
func (s *Store) FinalCheckpoints() ([]finality.Checkpoint, error) {
	var out []finality.Checkpoint
	err := s.scan(makeKey(prefixCheckpoint), func(_, v []byte) error {
		var r checkpointRecord
		if err := serialization.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("unmarshal checkpoint: %w", err)
		}
		if cp := r.checkpoint(); cp.Status == finality.Final {
			out = append(out, cp)
		}
		return nil
	})
	return out, err
}
