package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/montana/internal/cooldown"
	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/montime"
	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/internal/testutils"
)

const skew = 5 * time.Second

func newTestLedger(t *testing.T, period montime.Period, tips ...crypto.Hash) *Ledger {
	t.Helper()
	l := New(Config{Verifier: crypto.Ed25519Suite{}, ClockSkew: skew})
	l.now = func() montime.Time { return period.Start().Add(time.Minute) }
	l.SetBranchTips(tips...)
	return l
}

// advance moves the ledger clock into period, one minute after its boundary.
func advance(l *Ledger, period montime.Period) {
	l.now = func() montime.Time { return period.Start().Add(time.Minute) }
}

func TestMasksAtThresholdCountEqually(t *testing.T) {
	tip := testutils.RandomHash(t)
	l := newTestLedger(t, 10, tip)

	ten := testutils.FullNodeProof(t, testutils.RandomKeypair(t), 10, tip)
	kpNine := testutils.SeededKeypair(t, 9)
	nine := testutils.FullNodeProof(t, kpNine, 10, tip)
	nine.Mask = 0b1111111110
	require.NoError(t, nine.Sign(kpNine))

	require.NoError(t, l.Submit(nine))
	require.NoError(t, l.Submit(ten))

	assert.Zero(t, l.WeightOf(nine.Participant), "in-progress period must not count")

	_, err := l.ClosePeriod(10, l.Pending(10, tip))
	require.NoError(t, err)

	assert.Equal(t, PeriodWeight, l.WeightOf(nine.Participant))
	assert.Equal(t, l.WeightOf(nine.Participant), l.WeightOf(ten.Participant))
}

func TestSubmitRejections(t *testing.T) {
	tip := testutils.RandomHash(t)
	kp := testutils.RandomKeypair(t)

	t.Run("unknown branch", func(t *testing.T) {
		l := newTestLedger(t, 10, tip)
		err := l.Submit(testutils.FullNodeProof(t, kp, 10, testutils.RandomHash(t)))
		assert.ErrorIs(t, err, ErrUnknownBranch)
	})

	t.Run("stale period", func(t *testing.T) {
		l := newTestLedger(t, 12, tip)
		assert.ErrorIs(t, l.Submit(testutils.FullNodeProof(t, kp, 10, tip)), ErrStaleProof)
	})

	t.Run("future period", func(t *testing.T) {
		l := newTestLedger(t, 10, tip)
		assert.ErrorIs(t, l.Submit(testutils.FullNodeProof(t, kp, 12, tip)), ErrFutureProof)
	})

	t.Run("previous period within skew", func(t *testing.T) {
		l := newTestLedger(t, 11, tip)
		l.now = func() montime.Time { return montime.Period(11).Start().Add(2 * time.Second) }
		p := testutils.FullNodeProof(t, kp, 10, tip)
		p.Timestamp = uint64(montime.Period(10).End().Unix())
		require.NoError(t, p.Sign(kp))
		assert.NoError(t, l.Submit(p))
	})

	t.Run("timestamp outside claimed period", func(t *testing.T) {
		l := newTestLedger(t, 10, tip)
		p := testutils.FullNodeProof(t, kp, 10, tip)
		p.Timestamp = uint64(montime.Period(10).End().Add(time.Minute).Unix())
		require.NoError(t, p.Sign(kp))
		assert.ErrorIs(t, l.Submit(p), ErrStaleProof)
	})

	t.Run("closed period", func(t *testing.T) {
		l := newTestLedger(t, 10, tip)
		_, err := l.ClosePeriod(10, l.Pending(10, tip))
		require.NoError(t, err)
		assert.ErrorIs(t, l.Submit(testutils.FullNodeProof(t, kp, 10, tip)), ErrStaleProof)
	})

	t.Run("bad signature", func(t *testing.T) {
		l := newTestLedger(t, 10, tip)
		p := testutils.FullNodeProof(t, kp, 10, tip)
		p.Signature[0] ^= 1
		assert.ErrorIs(t, l.Submit(p), presence.ErrInvalidSignature)
	})
}

func TestDuplicateProofs(t *testing.T) {
	tip := testutils.RandomHash(t)
	kp := testutils.RandomKeypair(t)
	l := newTestLedger(t, 10, tip)

	p := testutils.FullNodeProof(t, kp, 10, tip)
	require.NoError(t, l.Submit(p))
	require.NoError(t, l.Submit(p), "resubmission is idempotent")

	conflict := testutils.FullNodeProof(t, kp, 10, tip)
	conflict.CooldownUntil = 500
	require.NoError(t, conflict.Sign(kp))
	assert.ErrorIs(t, l.Submit(conflict), ErrCooldownConflict)

	expired := testutils.FullNodeProof(t, kp, 10, tip)
	expired.CooldownUntil = 3
	require.NoError(t, expired.Sign(kp))
	assert.NoError(t, l.Submit(expired))

	_, err := l.ClosePeriod(10, l.Pending(10, tip))
	require.NoError(t, err)
	assert.Equal(t, PeriodWeight, l.WeightOf(kp.PublicKey()), "credited once")
}

func TestClosePeriodDropsOtherBranches(t *testing.T) {
	tipA, tipB := testutils.RandomHash(t), testutils.RandomHash(t)
	l := newTestLedger(t, 10, tipA, tipB)

	onA := testutils.RandomKeypair(t)
	onB := testutils.RandomKeypair(t)
	require.NoError(t, l.Submit(testutils.FullNodeProof(t, onA, 10, tipA)))
	require.NoError(t, l.Submit(testutils.FullNodeProof(t, onB, 10, tipB)))

	assert.Len(t, l.Pending(10, tipA), 1)
	assert.Len(t, l.Pending(10, tipB), 1)

	snap, err := l.ClosePeriod(10, l.Pending(10, tipB))
	require.NoError(t, err)

	assert.Zero(t, snap.WeightOf(onA.PublicKey()))
	assert.Equal(t, PeriodWeight, snap.WeightOf(onB.PublicKey()))
	assert.Empty(t, l.Pending(10, tipA))

	_, err = l.ClosePeriod(10, nil)
	assert.ErrorIs(t, err, ErrPeriodClosed)
}

func TestClassMismatch(t *testing.T) {
	tip := testutils.RandomHash(t)
	kp := testutils.RandomKeypair(t)
	l := newTestLedger(t, 10, tip)

	require.NoError(t, l.Submit(testutils.FullNodeProof(t, kp, 10, tip)))
	_, err := l.ClosePeriod(10, l.Pending(10, tip))
	require.NoError(t, err)

	advance(l, 11)
	err = l.Submit(testutils.VerifiedUserProof(t, kp, 11, tip))
	assert.ErrorIs(t, err, ErrClassMismatch)
}

func TestRegistrationCooldown(t *testing.T) {
	tip := testutils.RandomHash(t)
	genesisKey := testutils.RandomKeypair(t)
	l := New(Config{
		Verifier:  crypto.Ed25519Suite{},
		ClockSkew: skew,
		Genesis:   []Genesis{{PublicKey: genesisKey.PublicKey(), Class: presence.FullNode}},
	})
	l.SetBranchTips(tip)
	advance(l, 10)

	newcomer := testutils.RandomKeypair(t)
	require.NoError(t, l.Submit(testutils.FullNodeProof(t, newcomer, 10, tip)))
	require.NoError(t, l.Submit(testutils.FullNodeProof(t, genesisKey, 10, tip)))

	snap, err := l.ClosePeriod(10, l.Pending(10, tip))
	require.NoError(t, err)

	p, ok := snap.Lookup(newcomer.PublicKey())
	require.True(t, ok)
	assert.Equal(t, uint64(10)+cooldown.Default, p.CooldownUntil)
	assert.True(t, p.InCooldown(11))
	assert.False(t, p.Eligible(11), "accrues weight but cannot enter the lottery")
	assert.Equal(t, PeriodWeight, p.Weight.Total())
	assert.True(t, p.Eligible(montime.Period(p.CooldownUntil)))

	g, ok := snap.Lookup(genesisKey.PublicKey())
	require.True(t, ok)
	assert.True(t, g.Eligible(11))

	assert.Equal(t, []ClassCount{{Class: presence.FullNode, Count: 1}}, snap.Registrations)
	assert.Len(t, snap.Eligible(presence.FullNode, 11), 1)
}

func TestReactivation(t *testing.T) {
	tip := testutils.RandomHash(t)
	kp := testutils.RandomKeypair(t)
	l := newTestLedger(t, 1, tip)

	require.NoError(t, l.Submit(testutils.FullNodeProof(t, kp, 1, tip)))
	_, err := l.ClosePeriod(1, l.Pending(1, tip))
	require.NoError(t, err)

	back := montime.Period(1 + montime.PeriodsPerWindow + 1)
	advance(l, back)
	require.NoError(t, l.Submit(testutils.FullNodeProof(t, kp, back, tip)))
	snap, err := l.ClosePeriod(back, l.Pending(back, tip))
	require.NoError(t, err)

	p, ok := snap.Lookup(kp.PublicKey())
	require.True(t, ok)
	assert.Equal(t, uint64(back)+l.Cooldown(presence.FullNode), p.CooldownUntil)
	assert.Equal(t, 2*PeriodWeight, p.Weight.Total())
}

func TestWeightRollover(t *testing.T) {
	var w Weight
	prev := w.Total()
	for i := 0; i < montime.PeriodsPerWindow*montime.WindowsPerEra+5; i++ {
		w.CreditPeriod()
		total := w.Total()
		require.Greater(t, total, prev, "credit %d", i)
		prev = total
	}
	assert.Equal(t, uint64(1), w.Eras)
	assert.Equal(t, uint64(0), w.Windows)
	assert.Equal(t, uint64(5), w.Periods)
	assert.Zero(t, w.Units(TierMinute), "minutes only count inside a qualifying period")
	assert.Equal(t, EraWeight+5*PeriodWeight, w.Total())
}

func TestWeightMonotonicWithCalendarTime(t *testing.T) {
	tip := testutils.RandomHash(t)
	kp := testutils.RandomKeypair(t)
	l := newTestLedger(t, 0, tip)

	var prev uint64
	for period := montime.Period(0); period < 30; period++ {
		advance(l, period)
		p := testutils.FullNodeProof(t, kp, period, tip)
		require.NoError(t, l.Submit(p))
		require.NoError(t, l.Submit(p))
		_, err := l.ClosePeriod(period, l.Pending(period, tip))
		require.NoError(t, err)

		w := l.WeightOf(kp.PublicKey())
		assert.LessOrEqual(t, w-prev, PeriodWeight, "at most one period unit per closed period")
		assert.GreaterOrEqual(t, w, prev)
		prev = w
	}
	assert.Equal(t, 30*PeriodWeight, prev)
}

func TestWindowCloseFeedsCooldown(t *testing.T) {
	tip := testutils.RandomHash(t)
	l := newTestLedger(t, montime.PeriodsPerWindow-1, tip)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Submit(testutils.FullNodeProof(t, testutils.RandomKeypair(t), montime.PeriodsPerWindow-1, tip)))
	}
	snap, err := l.ClosePeriod(montime.PeriodsPerWindow-1, l.Pending(montime.PeriodsPerWindow-1, tip))
	require.NoError(t, err)

	assert.Empty(t, snap.Registrations, "window counters reset")
	require.True(t, snap.Cooldown.AnyClosed)
	assert.Equal(t, uint64(0), snap.Cooldown.LastClosed)
}

func TestRestore(t *testing.T) {
	tip := testutils.RandomHash(t)
	kp := testutils.RandomKeypair(t)
	l := newTestLedger(t, 4, tip)

	require.NoError(t, l.Submit(testutils.FullNodeProof(t, kp, 4, tip)))
	snap, err := l.ClosePeriod(4, l.Pending(4, tip))
	require.NoError(t, err)

	r := Restore(Config{Verifier: crypto.Ed25519Suite{}, ClockSkew: skew}, snap)
	assert.Equal(t, snap, r.Snapshot())
	assert.Equal(t, PeriodWeight, r.WeightOf(kp.PublicKey()))

	_, err = r.ClosePeriod(4, nil)
	assert.ErrorIs(t, err, ErrPeriodClosed)
}

func TestRewindAndReclose(t *testing.T) {
	tip := testutils.RandomHash(t)
	a, b := testutils.RandomKeypair(t), testutils.RandomKeypair(t)
	l := newTestLedger(t, 4, tip)

	base, err := l.ClosePeriod(3, nil)
	require.NoError(t, err)

	require.NoError(t, l.Submit(testutils.FullNodeProof(t, a, 4, tip)))
	_, err = l.ClosePeriod(4, l.Pending(4, tip))
	require.NoError(t, err)
	require.Equal(t, PeriodWeight, l.WeightOf(a.PublicKey()))

	// a proof for the still open period survives the rewind
	l.now = func() montime.Time { return montime.Period(5).Start().Add(time.Minute) }
	next := testutils.RandomHash(t)
	l.SetBranchTips(next)
	require.NoError(t, l.Submit(testutils.FullNodeProof(t, a, 5, next)))

	l.Rewind(base)
	assert.Zero(t, l.WeightOf(a.PublicKey()))

	proofB := testutils.FullNodeProof(t, b, 4, tip)
	snap, err := l.ClosePeriod(4, []presence.Proof{proofB, proofB})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), snap.Period)
	assert.Zero(t, l.WeightOf(a.PublicKey()))
	assert.Equal(t, PeriodWeight, l.WeightOf(b.PublicKey()), "duplicates count once")

	assert.Len(t, l.Pending(5, next), 1)

	_, err = l.ClosePeriod(4, nil)
	assert.ErrorIs(t, err, ErrPeriodClosed)
}

func TestReset(t *testing.T) {
	tip := testutils.RandomHash(t)
	g, kp := testutils.RandomKeypair(t), testutils.RandomKeypair(t)
	l := New(Config{
		Verifier:  crypto.Ed25519Suite{},
		ClockSkew: skew,
		Genesis:   []Genesis{{PublicKey: g.PublicKey(), Class: presence.FullNode}},
		Clock:     func() montime.Time { return montime.Period(2).Start().Add(time.Minute) },
	})
	l.SetBranchTips(tip)

	require.NoError(t, l.Submit(testutils.FullNodeProof(t, kp, 2, tip)))
	_, err := l.ClosePeriod(2, l.Pending(2, tip))
	require.NoError(t, err)

	l.Reset()
	_, closed := l.LastClosed()
	assert.False(t, closed)
	assert.Zero(t, l.WeightOf(kp.PublicKey()))
	p, ok := l.Snapshot().Lookup(g.PublicKey())
	require.True(t, ok)
	assert.True(t, p.Genesis)

	_, err = l.ClosePeriod(2, nil)
	assert.NoError(t, err)
}

func TestClassMismatchInSlice(t *testing.T) {
	tip := testutils.RandomHash(t)
	kp := testutils.RandomKeypair(t)
	l := newTestLedger(t, 10, tip)

	_, err := l.ClosePeriod(10, []presence.Proof{testutils.FullNodeProof(t, kp, 10, tip)})
	require.NoError(t, err)

	_, err = l.ClosePeriod(11, []presence.Proof{testutils.VerifiedUserProof(t, kp, 11, tip)})
	assert.ErrorIs(t, err, ErrClassMismatch)
	assert.Equal(t, PeriodWeight, l.WeightOf(kp.PublicKey()))
}

func TestNextDependsOnlyOnInputs(t *testing.T) {
	g := testutils.SeededKeypair(t, 1)
	other := testutils.SeededKeypair(t, 2)
	genesis := New(Config{
		Verifier: crypto.Ed25519Suite{},
		Genesis:  []Genesis{{PublicKey: g.PublicKey(), Class: presence.FullNode}},
	}).Snapshot()
	require.False(t, genesis.Closed)

	tip := testutils.RandomHash(t)
	proofs := []presence.Proof{
		testutils.FullNodeProof(t, other, 7, tip),
		testutils.FullNodeProof(t, g, 7, tip),
	}
	a, err := Next(genesis, 7, proofs)
	require.NoError(t, err)
	b, err := Next(genesis, 7, []presence.Proof{proofs[1], proofs[0]})
	require.NoError(t, err)

	assert.Equal(t, a, b, "proof order does not matter")
	assert.True(t, a.Closed)
	assert.Equal(t, uint64(7), a.Period)
	assert.Equal(t, PeriodWeight, a.WeightOf(g.PublicKey()))
	assert.Zero(t, genesis.WeightOf(g.PublicKey()), "base untouched")

	_, err = Next(a, 7, nil)
	assert.ErrorIs(t, err, ErrPeriodClosed)
	_, err = Next(a, 6, nil)
	assert.ErrorIs(t, err, ErrPeriodClosed)
}

func TestSkippedWindowsClose(t *testing.T) {
	tip := testutils.RandomHash(t)
	kp := testutils.RandomKeypair(t)
	l := newTestLedger(t, 5, tip)

	snap, err := l.ClosePeriod(5, []presence.Proof{testutils.FullNodeProof(t, kp, 5, tip)})
	require.NoError(t, err)
	require.False(t, snap.Cooldown.AnyClosed)

	// no slice closed any period of windows 0 and 1 after period 5
	later := montime.Period(2*montime.PeriodsPerWindow + 3)
	snap, err = l.ClosePeriod(later, nil)
	require.NoError(t, err)
	require.True(t, snap.Cooldown.AnyClosed)
	assert.Equal(t, uint64(1), snap.Cooldown.LastClosed)
	assert.Empty(t, snap.Registrations)
}
