package node

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/eigerco/montana/internal/chain"
	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/finality"
	"github.com/eigerco/montana/internal/forkchoice"
	"github.com/eigerco/montana/internal/ledger"
	"github.com/eigerco/montana/internal/montime"
	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/internal/slice"
	"github.com/eigerco/montana/pkg/log"
)

// settle records hash in the relay cache once err is final. Input that may
// become valid later, such as a slice whose parent has not arrived, stays
// out of the cache so a redelivery is processed again.
func (e *Engine) settle(hash crypto.Hash, err error) {
	if retryable(err) {
		return
	}
	e.seen.Add(hash, struct{}{})
}

func retryable(err error) bool {
	for _, target := range []error{
		chain.ErrUnknownParent,
		ErrFutureSlice,
		ledger.ErrUnknownBranch,
		ledger.ErrFutureProof,
		finality.ErrUnknownSlice,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (e *Engine) onProof(p presence.Proof) error {
	hash := p.Hash()
	if e.seen.Contains(hash) {
		return nil
	}
	if e.paused {
		e.seen.Add(hash, struct{}{})
		e.relay(func(ctx context.Context) error { return e.cfg.Network.BroadcastPresence(ctx, p) })
		return nil
	}
	err := e.ledger.Submit(p)
	e.settle(hash, err)
	if err != nil {
		err = classified(KindValidation, err)
		e.cfg.Metrics.ProofsRejected.WithLabelValues(string(Classify(err))).Inc()
		log.Ledger.Debug().Err(err).Str("pubkey", p.Common().Participant.Short()).Msg("Presence proof rejected")
		return err
	}
	e.cfg.Metrics.ProofsAccepted.WithLabelValues(p.Class().String()).Inc()
	e.relay(func(ctx context.Context) error { return e.cfg.Network.BroadcastPresence(ctx, p) })
	return nil
}

func (e *Engine) onSlice(s *slice.Slice, local bool) error {
	hash := s.Hash()
	if !local && e.seen.Contains(hash) {
		return nil
	}
	if e.paused {
		if !local {
			e.seen.Add(hash, struct{}{})
			e.relay(func(ctx context.Context) error { return e.cfg.Network.BroadcastSlice(ctx, s) })
		}
		return nil
	}

	err := e.acceptSlice(s, hash)
	e.settle(hash, err)
	if err != nil {
		kind := Classify(err)
		e.cfg.Metrics.SlicesRejected.WithLabelValues(string(kind)).Inc()
		ev := log.Consensus.Debug()
		if kind == KindGrindingAttempt || kind == KindReorgTooDeep {
			ev = log.Consensus.Warn()
		}
		ev.Err(err).
			Uint64("period", s.Header.Period).
			Uint32("slot", s.Header.Slot).
			Str("producer", s.Header.Producer.Short()).
			Msg("Slice rejected")
		return err
	}

	e.cfg.Metrics.SlicesAccepted.Inc()
	if local {
		e.cfg.Metrics.SlicesProduced.Inc()
	}
	e.relay(func(ctx context.Context) error { return e.cfg.Network.BroadcastSlice(ctx, s) })
	return nil
}

// acceptSlice validates s against its parent's ledger state, adds it to the
// head set and runs fork choice.
func (e *Engine) acceptSlice(s *slice.Slice, hash crypto.Hash) error {
	h := s.Header
	if e.index.Contains(hash) {
		return nil
	}
	if _, ok := e.flagged[h.Producer]; ok {
		return classified(KindValidation, ErrFlaggedProducer)
	}
	if f := e.index.Finalized(); f.Height > 0 && h.Period <= f.Period {
		e.cfg.Metrics.ReorgsRejected.Inc()
		return classified(KindReorgTooDeep, fmt.Errorf("%w: slice period %d, final period %d",
			finality.ErrReorgBelowFinal, h.Period, f.Period))
	}
	if !e.index.Contains(h.PrevHash) {
		return classified(KindForkDivergence, fmt.Errorf("%w: %s", chain.ErrUnknownParent, h.PrevHash.Short()))
	}
	period := h.PeriodIndex()
	if period >= e.nextClose {
		return classified(KindValidation, fmt.Errorf("%w: period %d", ErrFutureSlice, period))
	}
	base, ok := e.states[h.PrevHash]
	if !ok {
		return classified(KindValidation, fmt.Errorf("%w: parent %s", ErrStaleSlice, h.PrevHash.Short()))
	}

	res := e.result(period, h.PrevHash, base)
	if err := slice.Verify(s, res, e.cfg.Suite); err != nil {
		if errors.Is(err, slice.ErrGrindingAttempt) {
			e.flagged[h.Producer] = struct{}{}
			return classified(KindGrindingAttempt, err)
		}
		return classified(KindValidation, err)
	}
	// the live round only takes the slot currently allowed to publish
	if r := e.round; r != nil && r.Period() == period && r.Result().PrevHash == h.PrevHash && !r.Accepts(uint8(h.Slot)) {
		return classified(KindValidation, fmt.Errorf("%w: slot %d", ErrSlotNotActive, h.Slot))
	}

	proofs, err := s.Proofs()
	if err != nil {
		return classified(KindValidation, err)
	}
	head := forkchoice.Summarize(h.Period, hash, proofs, base, e.cfg.Scorer, e.cfg.Prover)
	next, err := ledger.Next(base, period, proofs)
	if err != nil {
		return classified(KindValidation, err)
	}
	entry, err := e.index.Insert(chain.Entry{Hash: hash, PrevHash: h.PrevHash, Period: h.Period, Head: head})
	if err != nil {
		if errors.Is(err, chain.ErrKnownSlice) {
			return nil
		}
		return classified(KindValidation, err)
	}
	e.states[hash] = next
	if err := e.cfg.Storage.PersistSlice(s); err != nil {
		log.Storage.Error().Err(err).Str("slice", hash.Short()).Msg("Failed to persist slice")
	}
	e.ledger.SetBranchTips(e.index.LeafHashes()...)

	log.Consensus.Debug().
		Uint64("period", h.Period).
		Uint64("height", entry.Height).
		Str("slice", hash.Short()).
		Stringer("head", head).
		Msg("Slice accepted")

	return e.chooseTip(entry)
}

// chooseTip makes entry the canonical tip if it extends the current one or
// its branch wins fork choice.
func (e *Engine) chooseTip(entry chain.Entry) error {
	if entry.PrevHash == e.tip.Hash {
		e.setTip([]chain.Entry{entry})
		return nil
	}
	plan, better, err := e.index.Evaluate(e.tip.Hash, entry.Hash, e.tracker)
	if err != nil {
		if Classify(err) == KindReorgTooDeep {
			e.cfg.Metrics.ReorgsRejected.Inc()
			log.Consensus.Warn().Err(err).
				Str("tip", e.tip.Hash.Short()).
				Str("candidate", entry.Hash.Short()).
				Msg("Rejected deep reorg, possible attack")
			return classified(KindReorgTooDeep, err)
		}
		// the branch stays in the head set, it just cannot be compared yet
		log.Consensus.Debug().Err(err).Str("candidate", entry.Hash.Short()).Msg("Fork choice undecided")
		return nil
	}
	if !better {
		return nil
	}
	if plan.IsExtension() {
		e.setTip(plan.Attach)
		return nil
	}

	e.cfg.Metrics.Reorgs.Inc()
	e.cfg.Metrics.ReorgDepth.Observe(float64(plan.Depth()))
	log.Consensus.Info().
		Int("depth", plan.Depth()).
		Uint64("ancestor", plan.Ancestor.Height).
		Str("from", e.tip.Hash.Short()).
		Str("to", entry.Hash.Short()).
		Msg("Reorganised to heavier branch")

	e.setTip(plan.Attach)
	return nil
}

// setTip moves the canonical tip along path, which starts right after the
// current tip or the fork point, and loads the new tip's ledger state.
func (e *Engine) setTip(path []chain.Entry) {
	for _, entry := range path {
		if err := e.cfg.Storage.PersistLedgerSnapshot(entry.Height, e.states[entry.Hash]); err != nil {
			log.Storage.Error().Err(err).Uint64("height", entry.Height).Msg("Failed to persist ledger snapshot")
		}
		e.persistCheckpoints(e.tracker.Track(entry.Hash, entry.Height))
		if period := montime.Period(entry.Period); period.IsWindowBoundary() {
			cp := e.tracker.CreateCheckpoint(uint64(period.ToWindow()), entry.Height, entry.Head)
			e.persistCheckpoints([]finality.Checkpoint{cp})
		}
	}
	tip := path[len(path)-1]
	e.tip = tip
	state := e.states[tip.Hash]
	e.ledger.Rewind(state)
	e.syncFinality()
	e.ledger.SetBranchTips(e.index.LeafHashes()...)

	if r := e.round; r != nil {
		switch {
		case r.Period() == montime.Period(tip.Period):
			if r.Produced() == nil {
				e.cancelProducer()
			}
		case r.Period()+1 == e.nextClose && tip.Period < uint64(r.Period()) && r.Result().PrevHash != tip.Hash:
			// the live round was drawn on a branch that lost
			e.openRound(r.Period(), tip.Hash, state, e.ledger.Pending(r.Period(), tip.Hash))
		}
	}

	m := e.cfg.Metrics
	m.Height.Set(float64(tip.Height))
	m.Period.Set(float64(tip.Period))
	m.Participants.Set(float64(len(state.Participants)))
	m.TotalWeight.Set(float64(state.TotalWeight()))
	for _, cs := range state.Cooldown.Classes {
		m.Cooldown.WithLabelValues(cs.Class.String()).Set(float64(cs.Cooldown))
	}
	log.Consensus.Info().
		Uint64("period", tip.Period).
		Uint64("height", tip.Height).
		Str("slice", tip.Hash.Short()).
		Msg("Canonical tip advanced")

	e.attest(tip)
}

func (e *Engine) persistCheckpoints(cps []finality.Checkpoint) {
	for _, cp := range cps {
		if err := e.cfg.Storage.PersistCheckpoint(cp); err != nil {
			log.Storage.Error().Err(err).Uint64("window", cp.Window).Msg("Failed to persist checkpoint")
			continue
		}
		// a restart roots at the latest FINAL checkpoint and needs nothing older
		if cp.Status == finality.Final {
			if err := e.cfg.Storage.DeleteSnapshotsBefore(cp.Height); err != nil {
				log.Storage.Warn().Err(err).Msg("Failed to prune ledger snapshots")
			}
		}
	}
}

// syncFinality prunes the head set below the tracker's latest FINAL slice.
func (e *Engine) syncFinality() {
	height, hash, ok := e.tracker.FinalHeight()
	if !ok {
		return
	}
	e.cfg.Metrics.FinalHeight.Set(float64(height))
	if hash == e.index.Finalized().Hash || !e.index.Contains(hash) {
		return
	}
	if err := e.index.Finalize(hash); err != nil {
		log.Consensus.Error().Err(err).Str("slice", hash.Short()).Msg("Failed to finalize slice")
		return
	}
	for h := range e.states {
		if !e.index.Contains(h) {
			delete(e.states, h)
		}
	}
}

// attest votes for tip when this node holds weight.
func (e *Engine) attest(tip chain.Entry) {
	if e.cfg.Signer == nil || e.ledger.WeightOf(e.cfg.Signer.PublicKey()) == 0 {
		return
	}
	att := finality.Attestation{SliceHash: tip.Hash, Height: tip.Height}
	if err := att.Sign(e.cfg.Signer); err != nil {
		log.Consensus.Error().Err(err).Msg("Failed to sign attestation")
		return
	}
	if err := e.onAttestation(att); err != nil {
		log.Consensus.Debug().Err(err).Msg("Own attestation not counted")
	}
}

func (e *Engine) onAttestation(att finality.Attestation) error {
	key := crypto.HashConcat(att.SliceHash[:], att.Attester[:])
	if e.seen.Contains(key) {
		return nil
	}
	if e.paused {
		e.seen.Add(key, struct{}{})
		e.relay(func(ctx context.Context) error { return e.cfg.Network.BroadcastAttestation(ctx, att) })
		return nil
	}
	// weights as of the attested slice, so every node counts the same vote
	snap, ok := e.states[att.SliceHash]
	if !ok {
		snap = e.tipState()
	}
	final, promoted, err := e.tracker.AddAttestation(att, snap.WeightOf(att.Attester), snap.TotalWeight())
	e.settle(key, err)
	if err != nil {
		return classified(KindValidation, err)
	}
	e.persistCheckpoints(promoted)
	if final {
		e.syncFinality()
	}
	e.relay(func(ctx context.Context) error { return e.cfg.Network.BroadcastAttestation(ctx, att) })
	return nil
}

// tipState is the ledger state after the canonical tip.
func (e *Engine) tipState() *ledger.Snapshot {
	return e.states[e.tip.Hash]
}

// onPeers pauses the engine while the local clock is too far from the
// median peer clock.
func (e *Engine) onPeers(peers []PeerChainInfo) error {
	if len(peers) == 0 {
		return nil
	}
	stamps := make([]uint64, len(peers))
	heights := make([]uint64, len(peers))
	for i, p := range peers {
		stamps[i], heights[i] = p.Timestamp, p.SliceHeight
	}
	mid := median(stamps)

	local := uint64(e.now().Unix())
	var drift time.Duration
	if local > mid {
		drift = time.Duration(local-mid) * time.Second
	} else {
		drift = time.Duration(mid-local) * time.Second
	}
	e.cfg.Metrics.ClockDivergence.Set(drift.Seconds())

	if e.cfg.MaxClockDivergence > 0 && drift > e.cfg.MaxClockDivergence {
		if !e.paused {
			e.paused = true
			e.cancelProducer()
			e.cfg.Metrics.ProducerPaused.Set(1)
			log.Consensus.Warn().
				Dur("drift", drift).
				Int("peers", len(peers)).
				Msg("Local clock diverges from peers, pausing")
		}
		return fmt.Errorf("%w: %s from peer median", ErrClockDivergence, drift)
	}
	if e.paused {
		e.paused = false
		e.cfg.Metrics.ProducerPaused.Set(0)
		log.Consensus.Info().Dur("drift", drift).Msg("Clock back within tolerance, resuming")
	}

	if h := median(heights); h > e.tip.Height+e.cfg.Finality.SafeDepth {
		log.Consensus.Warn().
			Uint64("local", e.tip.Height).
			Uint64("peers", h).
			Msg("Chain is behind peers")
	}
	return nil
}

func median(vs []uint64) uint64 {
	sorted := append([]uint64(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1] + (sorted[n/2]-sorted[n/2-1])/2
}

// relay runs send in the background so a slow peer never stalls the loop.
func (e *Engine) relay(send func(ctx context.Context) error) {
	ctx := e.ctx
	if ctx == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := send(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Network.Debug().Err(err).Msg("Relay failed")
		}
	}()
}
