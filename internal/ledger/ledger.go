// Package ledger accumulates presence weight per participant.
//
// Gossiped proofs are filed while their period is open, but weight is only
// credited from the proofs a slice carries when it closes that period. The
// state after a slice is therefore a function of the chain up to it, and
// every node holding the same chain holds the same ledger.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eigerco/montana/internal/cooldown"
	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/montime"
	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/pkg/log"
)

// Genesis names a participant that exists from period 0 without cooldown.
type Genesis struct {
	PublicKey crypto.PublicKey
	Class     presence.Class
}

type Config struct {
	Verifier  crypto.Verifier
	ClockSkew time.Duration
	Genesis   []Genesis
	// Clock defaults to montime.Now.
	Clock func() montime.Time
}

// branch is the set of proofs for one period bound to one prev_slice_hash.
type branch map[crypto.PublicKey]presence.Proof

type Ledger struct {
	mu sync.RWMutex

	verifier crypto.Verifier
	skew     time.Duration
	now      func() montime.Time
	genesis  []Genesis

	cooldown      *cooldown.Calculator
	participants  map[crypto.PublicKey]*Participant
	registrations map[presence.Class]uint64

	tips    map[crypto.Hash]struct{}
	pending map[montime.Period]map[crypto.Hash]branch

	lastClosed montime.Period
	anyClosed  bool
}

func New(cfg Config) *Ledger {
	now := cfg.Clock
	if now == nil {
		now = montime.Now
	}
	l := &Ledger{
		verifier:      cfg.Verifier,
		skew:          cfg.ClockSkew,
		now:           now,
		cooldown:      cooldown.New(),
		participants:  make(map[crypto.PublicKey]*Participant),
		registrations: make(map[presence.Class]uint64),
		tips:          make(map[crypto.Hash]struct{}),
		pending:       make(map[montime.Period]map[crypto.Hash]branch),
		genesis:       cfg.Genesis,
	}
	l.addGenesis()
	return l
}

func (l *Ledger) addGenesis() {
	for _, g := range l.genesis {
		l.participants[g.PublicKey] = &Participant{
			PublicKey: g.PublicKey,
			Class:     g.Class,
			Genesis:   true,
		}
	}
}

// Reset returns the ledger to its genesis state, keeping pending proofs.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cooldown = cooldown.New()
	l.participants = make(map[crypto.PublicKey]*Participant)
	l.registrations = make(map[presence.Class]uint64)
	l.addGenesis()
	l.lastClosed = 0
	l.anyClosed = false
}

// Restore rebuilds a ledger from a persisted snapshot.
func Restore(cfg Config, snap *Snapshot) *Ledger {
	l := New(cfg)
	l.Rewind(snap)
	return l
}

// Rewind resets the accumulated state to snap. Proofs still pending for
// periods after snap are kept.
func (l *Ledger) Rewind(snap *Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked(snap)
}

func (l *Ledger) loadLocked(snap *Snapshot) {
	l.cooldown = cooldown.Restore(snap.Cooldown)
	l.participants = make(map[crypto.PublicKey]*Participant, len(snap.Participants))
	for _, p := range snap.Participants {
		p := p
		l.participants[p.PublicKey] = &p
	}
	l.registrations = make(map[presence.Class]uint64)
	for _, rc := range snap.Registrations {
		l.registrations[rc.Class] = rc.Count
	}
	l.lastClosed = snap.ClosedPeriod()
	l.anyClosed = snap.Closed
	if !l.anyClosed {
		return
	}
	for p := range l.pending {
		if p <= l.lastClosed {
			delete(l.pending, p)
		}
	}
}

// SetBranchTips replaces the set of slice hashes proofs may bind to.
func (l *Ledger) SetBranchTips(tips ...crypto.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tips = make(map[crypto.Hash]struct{}, len(tips))
	for _, t := range tips {
		l.tips[t] = struct{}{}
	}
}

// Submit validates proof and files it for its period and branch. The weight
// it earns is applied only by ClosePeriod.
func (l *Ledger) Submit(proof presence.Proof) error {
	if err := presence.Validate(proof, l.verifier); err != nil {
		return err
	}

	h := proof.Common()
	period := h.PeriodIndex()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkFreshness(h); err != nil {
		return err
	}
	if _, ok := l.tips[h.PrevSliceHash]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBranch, h.PrevSliceHash.Short())
	}
	if p, ok := l.participants[h.Participant]; ok && p.Class != proof.Class() {
		return fmt.Errorf("%w: registered %s, got %s", ErrClassMismatch, p.Class, proof.Class())
	}

	branches, ok := l.pending[period]
	if !ok {
		branches = make(map[crypto.Hash]branch)
		l.pending[period] = branches
	}
	b, ok := branches[h.PrevSliceHash]
	if !ok {
		b = make(branch)
		branches[h.PrevSliceHash] = b
	}

	if existing, ok := b[h.Participant]; ok {
		prev := existing.Common().CooldownUntil
		if h.CooldownUntil != prev && h.CooldownUntil > uint64(period) {
			return ErrCooldownConflict
		}
		return nil
	}
	b[h.Participant] = proof

	log.Ledger.Debug().
		Uint64("period", h.Period).
		Stringer("class", proof.Class()).
		Str("pubkey", h.Participant.Short()).
		Str("branch", h.PrevSliceHash.Short()).
		Msg("Presence proof filed")
	return nil
}

func (l *Ledger) checkFreshness(h presence.Header) error {
	period := h.PeriodIndex()
	if l.anyClosed && period <= l.lastClosed {
		return fmt.Errorf("%w: period %d closed", ErrStaleProof, period)
	}

	now := l.now()
	current := now.ToPeriod()
	switch {
	case period == current:
	case period+1 == current && now.SinceBoundary() <= l.skew:
	case period == current+1 && period.Start().Sub(now) <= l.skew:
	case period < current:
		return fmt.Errorf("%w: period %d, current %d", ErrStaleProof, period, current)
	default:
		return fmt.Errorf("%w: period %d, current %d", ErrFutureProof, period, current)
	}

	ts, err := h.Time()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStaleProof, err)
	}
	if err := montime.CheckInPeriod(ts, period, l.skew); err != nil {
		return fmt.Errorf("%w: %w", ErrStaleProof, err)
	}
	return nil
}

// Pending returns the proofs filed for period on the branch rooted at prev,
// in canonical order.
func (l *Ledger) Pending(period montime.Period, prev crypto.Hash) []presence.Proof {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b := l.pending[period][prev]
	out := make([]presence.Proof, 0, len(b))
	for _, p := range b {
		out = append(out, p)
	}
	presence.SortCanonical(out)
	return out
}

// ClosePeriod credits the proofs a slice of period carries and returns the
// resulting snapshot. Pending proofs for period and earlier are dropped, the
// ones on other branches included. A participant listed twice counts once.
func (l *Ledger) ClosePeriod(period montime.Period, proofs []presence.Proof) (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.anyClosed && period <= l.lastClosed {
		return nil, fmt.Errorf("%w: %d", ErrPeriodClosed, period)
	}
	seen := make(map[crypto.PublicKey]struct{}, len(proofs))
	unique := proofs[:0:0]
	for _, p := range proofs {
		pub := p.Common().Participant
		if _, dup := seen[pub]; dup {
			continue
		}
		if reg, ok := l.participants[pub]; ok && reg.Class != p.Class() {
			return nil, fmt.Errorf("%w: %s registered %s, got %s", ErrClassMismatch, pub.Short(), reg.Class, p.Class())
		}
		seen[pub] = struct{}{}
		unique = append(unique, p)
	}
	snap, err := l.closeLocked(period, unique)
	if err != nil {
		return nil, err
	}

	log.Ledger.Debug().
		Uint64("period", uint64(period)).
		Int("applied", len(unique)).
		Msg("Period closed")
	return snap, nil
}

// Next returns the snapshot that follows base once period closes with
// proofs. base is left untouched.
func Next(base *Snapshot, period montime.Period, proofs []presence.Proof) (*Snapshot, error) {
	l := &Ledger{
		now:     montime.Now,
		tips:    make(map[crypto.Hash]struct{}),
		pending: make(map[montime.Period]map[crypto.Hash]branch),
	}
	l.loadLocked(base)
	return l.ClosePeriod(period, proofs)
}

func (l *Ledger) closeLocked(period montime.Period, proofs []presence.Proof) (*Snapshot, error) {
	for p := range l.pending {
		if p <= period {
			delete(l.pending, p)
		}
	}
	// windows that ended in periods without a slice
	if l.anyClosed {
		for w := (l.lastClosed + 1).ToWindow(); w < period.ToWindow(); w++ {
			if err := l.closeWindow(w); err != nil {
				return nil, err
			}
		}
	}

	sorted := make([]presence.Proof, len(proofs))
	copy(sorted, proofs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Common().Participant.Compare(sorted[j].Common().Participant) < 0
	})
	for _, p := range sorted {
		l.apply(p, period)
	}

	if uint64(period+1)%montime.PeriodsPerWindow == 0 {
		if err := l.closeWindow(period.ToWindow()); err != nil {
			return nil, err
		}
	}

	l.lastClosed = period
	l.anyClosed = true
	return l.snapshotLocked(), nil
}

// LastClosed returns the last closed period, if any.
func (l *Ledger) LastClosed() (montime.Period, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastClosed, l.anyClosed
}

func (l *Ledger) apply(proof presence.Proof, period montime.Period) {
	h := proof.Common()
	class := proof.Class()

	p, ok := l.participants[h.Participant]
	if !ok {
		p = &Participant{
			PublicKey:     h.Participant,
			Class:         class,
			Registered:    uint64(period),
			CooldownUntil: uint64(period) + l.cooldown.Cooldown(class),
		}
		l.participants[h.Participant] = p
		l.registrations[class]++
	} else if p.needsReactivation(period) {
		p.CooldownUntil = uint64(period) + l.cooldown.Cooldown(class)
		l.registrations[class]++
		log.Ledger.Info().
			Str("pubkey", h.Participant.Short()).
			Uint64("cooldown_until", p.CooldownUntil).
			Msg("Participant reactivated")
	}

	p.Weight.CreditPeriod()
	p.LastActive = uint64(period)
	p.Active = true
}

func (l *Ledger) closeWindow(w montime.Window) error {
	if _, err := l.cooldown.CloseWindow(uint64(w), l.registrations); err != nil {
		return err
	}
	l.registrations = make(map[presence.Class]uint64)
	return nil
}

// WeightOf returns the participant's weight from completed units only.
func (l *Ledger) WeightOf(pub crypto.PublicKey) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if p, ok := l.participants[pub]; ok {
		return p.Weight.Total()
	}
	return 0
}

func (l *Ledger) Cooldown(class presence.Class) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cooldown.Cooldown(class)
}

// Snapshot returns an immutable copy bound to the last closed period.
func (l *Ledger) Snapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() *Snapshot {
	s := &Snapshot{
		Period:       uint64(l.lastClosed),
		Closed:       l.anyClosed,
		Participants: make([]Participant, 0, len(l.participants)),
		Cooldown:     l.cooldown.State(),
	}
	for _, p := range l.participants {
		s.Participants = append(s.Participants, *p)
	}
	sort.Slice(s.Participants, func(i, j int) bool {
		return s.Participants[i].PublicKey.Compare(s.Participants[j].PublicKey) < 0
	})
	for _, class := range presence.Classes {
		if n := l.registrations[class]; n > 0 {
			s.Registrations = append(s.Registrations, ClassCount{Class: class, Count: n})
		}
	}
	return s
}
