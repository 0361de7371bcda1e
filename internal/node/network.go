package node

import (
	"context"

	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/finality"
	"github.com/eigerco/montana/internal/ledger"
	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/internal/slice"
)

// Network is the outbound side of the peer transport. The inbound side
// calls the engine's Deliver methods and PeerChainHeights.
type Network interface {
	BroadcastSlice(ctx context.Context, s *slice.Slice) error
	BroadcastPresence(ctx context.Context, p presence.Proof) error
	BroadcastAttestation(ctx context.Context, a finality.Attestation) error
}

// Storage persists what the engine needs to survive a restart.
// *store.Store implements it.
type Storage interface {
	PersistSlice(s *slice.Slice) error
	// Ledger snapshots are keyed by the height of the canonical slice they
	// follow.
	PersistLedgerSnapshot(height uint64, snap *ledger.Snapshot) error
	LoadLedgerSnapshot(height uint64) (*ledger.Snapshot, error)
	DeleteSnapshotsBefore(height uint64) error
	PersistCheckpoint(cp finality.Checkpoint) error
	FinalCheckpoints() ([]finality.Checkpoint, error)
}

// PeerChainInfo is what a peer reports about its chain and clock.
type PeerChainInfo struct {
	SliceHeight      uint64
	CumulativeWeight uint64
	TipHash          crypto.Hash
	// Timestamp is the peer's clock in unix seconds when it answered.
	Timestamp uint64
}

type nopNetwork struct{}

func (nopNetwork) BroadcastSlice(context.Context, *slice.Slice) error               { return nil }
func (nopNetwork) BroadcastPresence(context.Context, presence.Proof) error          { return nil }
func (nopNetwork) BroadcastAttestation(context.Context, finality.Attestation) error { return nil }
