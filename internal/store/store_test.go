package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/montana/internal/cooldown"
	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/finality"
	"github.com/eigerco/montana/internal/forkchoice"
	"github.com/eigerco/montana/internal/ledger"
	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/internal/slice"
	"github.com/eigerco/montana/internal/testutils"
)

func newStore(t *testing.T) *Store {
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSlice(t *testing.T, period uint64, prev crypto.Hash) *slice.Slice {
	kp := testutils.RandomKeypair(t)
	proof := testutils.FullNodeProof(t, kp, 0, prev)
	return &slice.Slice{
		Header: slice.Header{
			PrevHash:          prev,
			Period:            period,
			Producer:          kp.PublicKey(),
			PresenceRoot:      testutils.RandomHash(t),
			ProducerSignature: []byte{1, 2, 3},
		},
		Body: slice.Body{Proofs: []presence.Envelope{presence.EnvelopeOf(proof)}},
	}
}

func TestPersistGetSlice(t *testing.T) {
	s := newStore(t)
	sl := testSlice(t, 4, testutils.RandomHash(t))
	require.NoError(t, s.PersistSlice(sl))

	got, err := s.GetSlice(sl.Hash())
	require.NoError(t, err)
	assert.Equal(t, sl.Hash(), got.Hash())
	assert.Equal(t, sl.Header.ProducerSignature, got.Header.ProducerSignature)
	require.Len(t, got.Body.Proofs, 1)

	_, err = s.GetSlice(testutils.RandomHash(t))
	assert.ErrorIs(t, err, ErrSliceNotFound)
}

func TestSlicesByPeriodAndBranch(t *testing.T) {
	s := newStore(t)
	prevA, prevB := testutils.RandomHash(t), testutils.RandomHash(t)

	a1 := testSlice(t, 7, prevA)
	a2 := testSlice(t, 7, prevA)
	b1 := testSlice(t, 7, prevB)
	other := testSlice(t, 8, prevA)
	for _, sl := range []*slice.Slice{a1, a2, b1, other} {
		require.NoError(t, s.PersistSlice(sl))
	}

	at, err := s.SlicesAt(7)
	require.NoError(t, err)
	assert.Len(t, at, 3)

	on, err := s.SlicesOn(7, prevA)
	require.NoError(t, err)
	assert.Len(t, on, 2)
	for _, sl := range on {
		assert.Equal(t, prevA, sl.Header.PrevHash)
	}

	n, err := s.DeleteSlicesBefore(8)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = s.GetSlice(a1.Hash())
	assert.ErrorIs(t, err, ErrSliceNotFound)
	_, err = s.GetSlice(other.Hash())
	assert.NoError(t, err)
}

func testSnapshot(t *testing.T) *ledger.Snapshot {
	pub := testutils.RandomPublicKey(t)
	return &ledger.Snapshot{
		Period: 41,
		Participants: []ledger.Participant{{
			PublicKey:     pub,
			Class:         presence.VerifiedUser,
			Weight:        ledger.Weight{Periods: 12, Windows: 1},
			Registered:    3,
			CooldownUntil: 147,
			LastActive:    41,
			Active:        true,
		}},
		Registrations: []ledger.ClassCount{{Class: presence.VerifiedUser, Count: 1}},
		Cooldown:      cooldown.New().State(),
	}
}

func TestLedgerSnapshot(t *testing.T) {
	s := newStore(t)

	_, _, err := s.LatestLedgerSnapshot()
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	snap := testSnapshot(t)
	require.NoError(t, s.PersistLedgerSnapshot(10, snap))
	require.NoError(t, s.PersistLedgerSnapshot(11, snap))

	got, err := s.LoadLedgerSnapshot(10)
	require.NoError(t, err)
	assert.Equal(t, snap.Period, got.Period)
	assert.Equal(t, snap.Participants, got.Participants)
	assert.Equal(t, snap.Registrations, got.Registrations)
	assert.Equal(t, snap.Cooldown.Classes[0].Cooldown, got.Cooldown.Classes[0].Cooldown)

	height, latest, err := s.LatestLedgerSnapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(11), height)
	assert.Equal(t, snap.Period, latest.Period)

	pub := snap.Participants[0].PublicKey
	w, err := s.Weight(pub, ledger.TierPeriod)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), w)
	w, err = s.Weight(pub, ledger.TierEra)
	require.NoError(t, err)
	assert.Zero(t, w)

	cd, ok, err := s.Cooldown(presence.FullNode)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(cooldown.Default), cd)

	require.NoError(t, s.DeleteSnapshotsBefore(11))
	_, err = s.LoadLedgerSnapshot(10)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	_, err = s.LoadLedgerSnapshot(11)
	assert.NoError(t, err)
}

func TestCheckpoints(t *testing.T) {
	s := newStore(t)

	pending := finality.Checkpoint{
		Window: 2,
		Height: 4032,
		Head:   forkchoice.Head{Boundary: 4031, ParticipantsCount: 9, Hash: testutils.RandomHash(t)},
		Status: finality.Safe,
	}
	require.NoError(t, s.PersistCheckpoint(pending))

	final, err := s.FinalCheckpoints()
	require.NoError(t, err)
	assert.Empty(t, final)

	pending.Status = finality.Final
	pending.Head.Final = true
	require.NoError(t, s.PersistCheckpoint(pending))

	// FINAL checkpoints are immutable
	replaced := pending
	replaced.Head.Hash = testutils.RandomHash(t)
	require.NoError(t, s.PersistCheckpoint(replaced))

	got, err := s.GetCheckpoint(2)
	require.NoError(t, err)
	assert.Equal(t, pending, got)

	final, err = s.FinalCheckpoints()
	require.NoError(t, err)
	assert.Equal(t, []finality.Checkpoint{pending}, final)

	_, err = s.GetCheckpoint(9)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestStoreClosed(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.GetSlice(testutils.RandomHash(t))
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.PersistSlice(testSlice(t, 1, crypto.Hash{})), ErrStoreClosed)
}
