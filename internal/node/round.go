package node

import (
	"context"

	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/ledger"
	"github.com/eigerco/montana/internal/lottery"
	"github.com/eigerco/montana/internal/montime"
	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/internal/slice"
	"github.com/eigerco/montana/pkg/log"
)

// onTick opens the round producing the slice of the period that just
// ended and moves that round through its slots.
func (e *Engine) onTick() {
	if e.paused {
		return
	}
	now := e.now()
	current := now.ToPeriod()
	for e.nextClose < current {
		if e.nextClose+1 == current {
			e.openLive(e.nextClose)
		}
		e.nextClose++
	}
	if e.round != nil && e.round.Advance(now) {
		e.onRoundAdvanced()
	}
	e.publishPresence(now)
}

// openLive opens the round for period on the canonical tip, unless the tip
// already holds a slice of that period.
func (e *Engine) openLive(period montime.Period) {
	tip := e.tip
	if tip.Height > 0 && tip.Period >= uint64(period) {
		return
	}
	e.openRound(period, tip.Hash, e.states[tip.Hash], e.ledger.Pending(period, tip.Hash))
}

// publishPresence files and relays this node's proof for the current period
// once its last minute has started.
func (e *Engine) publishPresence(now montime.Time) {
	if !e.cfg.PublishPresence || e.cfg.Signer == nil {
		return
	}
	period := now.ToPeriod()
	idx, ok := period.MinuteIndex(now.ToMinute())
	if period == e.published || !ok || idx < montime.MinutesPerPeriod-1 {
		return
	}
	e.published = period

	var mask presence.Mask
	for m := max(period.Start().ToMinute(), e.joined); m <= now.ToMinute(); m++ {
		if i, ok := period.MinuteIndex(m); ok {
			mask = mask.Set(i)
		}
	}
	pub := e.cfg.Signer.PublicKey()
	p := &presence.FullNodePresence{Header: presence.Header{
		Participant:   pub,
		Timestamp:     uint64(now.Unix()),
		PrevSliceHash: e.tip.Hash,
		Period:        uint64(period),
		Mask:          mask,
	}}
	if part, ok := e.tipState().Lookup(pub); ok {
		p.CooldownUntil = part.CooldownUntil
	}
	if err := p.Sign(e.cfg.Signer); err != nil {
		log.Consensus.Error().Err(err).Msg("Failed to sign presence proof")
		return
	}
	if err := e.onProof(p); err != nil {
		log.Consensus.Warn().Err(err).Uint64("period", uint64(period)).Msg("Own presence proof rejected")
		return
	}
	log.Consensus.Debug().
		Uint64("period", uint64(period)).
		Int("minutes", mask.Count()).
		Msg("Presence proof published")
}

func (e *Engine) result(period montime.Period, prev crypto.Hash, snap *ledger.Snapshot) *lottery.Result {
	key := resultKey{period: period, prev: prev}
	if res, ok := e.results[key]; ok {
		return res
	}
	res := lottery.Run(snap, prev, period, e.cfg.Quotas)
	e.results[key] = res
	for k := range e.results {
		if k.period+montime.Period(e.cfg.Finality.MaxReorgDepth) < period {
			delete(e.results, k)
		}
	}
	return res
}

func (e *Engine) openRound(period montime.Period, prev crypto.Hash, snap *ledger.Snapshot, proofs []presence.Proof) {
	e.cancelProducer()

	r := lottery.NewRound(period)
	_ = r.BeginSelection()
	res := e.result(period, prev, snap)
	if err := r.Selected(res); err != nil {
		log.Consensus.Error().Err(err).Uint64("period", uint64(period)).Msg("Failed to install lottery result")
		return
	}
	e.round = r
	e.roundProofs = proofs

	log.Consensus.Info().
		Uint64("period", uint64(period)).
		Str("prev", prev.Short()).
		Int("winners", len(res.Winners)).
		Int("proofs", len(proofs)).
		Msg("Lottery drawn")

	r.Advance(e.now())
	e.onRoundAdvanced()
}

func (e *Engine) onRoundAdvanced() {
	r := e.round
	log.Consensus.Debug().
		Uint64("period", uint64(r.Period())).
		Stringer("phase", r.Phase()).
		Uint8("slot", r.Slot()).
		Msg("Round advanced")

	if r.Phase() == lottery.PhaseClosed {
		e.cancelProducer()
		return
	}
	e.maybeProduce()
}

// maybeProduce starts building the slice when the active slot is ours.
func (e *Engine) maybeProduce() {
	if !e.cfg.Produce || e.cfg.Signer == nil || e.paused || e.round == nil {
		return
	}
	w, ok := e.round.CurrentProducer()
	if !ok || w.PublicKey != e.cfg.Signer.PublicKey() {
		return
	}
	job := production{period: e.round.Period(), slot: w.Slot}
	if e.producing != nil && *e.producing == job {
		return
	}
	e.cancelProducer()

	ctx, cancel := context.WithCancel(e.ctx)
	e.stopProduce = cancel
	e.producing = &job

	res := e.round.Result()
	proofs := append([]presence.Proof(nil), e.roundProofs...)
	e.wg.Add(1)
	go e.produce(ctx, res, w.Slot, proofs)

	log.Consensus.Info().
		Uint64("period", uint64(res.Period)).
		Uint8("slot", w.Slot).
		Msg("Producing slice")
}

func (e *Engine) cancelProducer() {
	if e.stopProduce != nil {
		e.stopProduce()
		e.stopProduce = nil
	}
	e.producing = nil
}

// produce builds and signs the slice for slot and hands it to the loop.
// Nothing it touches is shared, so a cancelled build is simply dropped.
func (e *Engine) produce(ctx context.Context, res *lottery.Result, slot uint8, proofs []presence.Proof) {
	defer e.wg.Done()

	s, err := slice.Build(res, slot, proofs, crypto.Hash{}, e.now(), e.cfg.Signer)
	if err != nil {
		log.Consensus.Error().Err(err).Uint64("period", uint64(res.Period)).Msg("Failed to build slice")
		return
	}
	select {
	case e.events <- sliceEvent{slice: s, local: true}:
	case <-ctx.Done():
	}
}
