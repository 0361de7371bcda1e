// Package node wires the consensus components into a single-writer engine.
//
// Every mutation (proof arrival, slice arrival, boundary tick, grace
// timeout, attestation) is an event processed by the goroutine running
// Engine.Run. The ledger, chain index and finality tracker are only touched
// from there. Slice construction runs in its own goroutine on the immutable
// snapshot and lottery result of the period it produces for, and hands the
// finished slice back to the loop as an ordinary slice event.
//
// Ledger state is a function of the chain: every indexed slice maps to the
// snapshot reached by folding its body into its parent's snapshot. Gossip
// only fills the pending pool a producer draws its slice body from, so two
// nodes that saw different proofs still agree on every lottery.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/eigerco/montana/internal/chain"
	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/finality"
	"github.com/eigerco/montana/internal/forkchoice"
	"github.com/eigerco/montana/internal/ledger"
	"github.com/eigerco/montana/internal/lottery"
	"github.com/eigerco/montana/internal/metrics"
	"github.com/eigerco/montana/internal/montime"
	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/internal/slice"
	"github.com/eigerco/montana/pkg/log"
)

type Config struct {
	Suite  crypto.Suite
	Prover presence.TimeProver
	Scorer forkchoice.Scorer
	// Signer is the node's key. Without one the node only validates and relays.
	Signer  crypto.Signer
	Produce bool
	// PublishPresence makes the node sign its own full node proof every
	// period, covering the minutes it has been running.
	PublishPresence bool

	Quotas             lottery.Quotas
	Finality           finality.Config
	ClockSkew          time.Duration
	MaxClockDivergence time.Duration
	Genesis            []ledger.Genesis

	// RelayCacheSize bounds the dedup cache of relayed artefacts. A zero
	// RelayTTL keeps entries until they are evicted by size.
	RelayCacheSize int
	RelayTTL       time.Duration
	// TickInterval drives boundary and grace handling. Zero disables the
	// internal ticker; Tick must then be called explicitly.
	TickInterval time.Duration

	Network Network
	Storage Storage
	Metrics *metrics.Metrics
	// Clock defaults to montime.Now.
	Clock func() montime.Time
}

// Status is a point-in-time view of the engine for operators.
type Status struct {
	ClosedPeriod uint64
	HasClosed    bool
	Height       uint64
	Tip          crypto.Hash
	FinalHeight  uint64
	Leaves       int
	Phase        string
	Slot         uint8
	Paused       bool
	Participants int
	TotalWeight  uint64
	Flagged      int
}

type (
	proofEvent struct {
		proof presence.Proof
		reply chan error
	}
	sliceEvent struct {
		slice *slice.Slice
		local bool
		reply chan error
	}
	attestationEvent struct {
		att   finality.Attestation
		reply chan error
	}
	peersEvent struct {
		peers []PeerChainInfo
		reply chan error
	}
	tickEvent struct {
		reply chan error
	}
	statusEvent struct {
		reply chan Status
	}
)

// production identifies the slot a producer goroutine is building for.
type production struct {
	period montime.Period
	slot   uint8
}

type resultKey struct {
	period montime.Period
	prev   crypto.Hash
}

type Engine struct {
	cfg    Config
	now    func() montime.Time
	events chan any
	done   chan struct{}

	// owned by the loop goroutine
	ledger    *ledger.Ledger
	index     *chain.Index
	tracker   *finality.Tracker
	tip       chain.Entry
	states    map[crypto.Hash]*ledger.Snapshot // after each indexed slice
	results   map[resultKey]*lottery.Result
	nextClose montime.Period
	paused    bool
	flagged   map[crypto.PublicKey]struct{}
	seen      *expirable.LRU[crypto.Hash, struct{}]
	joined    montime.Minute
	published montime.Period

	round       *lottery.Round
	roundProofs []presence.Proof
	producing   *production
	stopProduce context.CancelFunc

	ctx context.Context
	wg  sync.WaitGroup
}

// New builds an engine, restoring ledger and finality state from storage
// when it holds any.
func New(cfg Config) (*Engine, error) {
	if cfg.Suite == nil {
		cfg.Suite = crypto.Ed25519Suite{}
	}
	if cfg.Prover == nil {
		cfg.Prover = presence.MaskProver{}
	}
	if cfg.Scorer == nil {
		cfg.Scorer = forkchoice.SqrtScorer{}
	}
	if cfg.Network == nil {
		cfg.Network = nopNetwork{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewUnregistered()
	}
	if cfg.Clock == nil {
		cfg.Clock = montime.Now
	}
	if cfg.RelayCacheSize <= 0 {
		cfg.RelayCacheSize = 1 << 16
	}
	if err := cfg.Quotas.Validate(); err != nil {
		return nil, err
	}
	if cfg.Storage == nil {
		return nil, ErrStorageRequired
	}

	e := &Engine{
		cfg:     cfg,
		now:     cfg.Clock,
		events:  make(chan any),
		done:    make(chan struct{}),
		tracker: finality.NewTracker(cfg.Finality, cfg.Suite),
		states:  make(map[crypto.Hash]*ledger.Snapshot),
		results: make(map[resultKey]*lottery.Result),
		flagged: make(map[crypto.PublicKey]struct{}),
		seen:    expirable.NewLRU[crypto.Hash, struct{}](cfg.RelayCacheSize, nil, cfg.RelayTTL),
	}
	if err := e.restore(); err != nil {
		return nil, err
	}
	e.joined = e.now().ToMinute()
	e.published = e.now().ToPeriod().Previous()
	return e, nil
}

func (e *Engine) ledgerConfig() ledger.Config {
	return ledger.Config{
		Verifier:  e.cfg.Suite,
		ClockSkew: e.cfg.ClockSkew,
		Genesis:   e.cfg.Genesis,
		Clock:     e.now,
	}
}

func (e *Engine) restore() error {
	checkpoints, err := e.cfg.Storage.FinalCheckpoints()
	if err != nil {
		return fmt.Errorf("load checkpoints: %w", err)
	}
	root := chain.Entry{Hash: chain.GenesisHash}
	for _, cp := range checkpoints {
		e.tracker.RestoreCheckpoint(cp)
		root = chain.Entry{Hash: cp.Head.Hash, Period: cp.Head.Boundary, Height: cp.Height, Head: cp.Head}
	}
	e.index = chain.NewIndexFrom(root)
	e.tip = e.index.Finalized()

	e.ledger = ledger.New(e.ledgerConfig())
	if root.Height > 0 {
		snap, err := e.cfg.Storage.LoadLedgerSnapshot(root.Height)
		if err != nil {
			return fmt.Errorf("load ledger snapshot at height %d: %w", root.Height, err)
		}
		e.ledger.Rewind(snap)
		log.Consensus.Info().
			Uint64("height", root.Height).
			Uint64("period", root.Period).
			Int("participants", len(snap.Participants)).
			Int("checkpoints", len(checkpoints)).
			Msg("Restored consensus state")
	}
	e.states[root.Hash] = e.ledger.Snapshot()
	e.nextClose = e.now().ToPeriod()
	e.ledger.SetBranchTips(e.index.LeafHashes()...)
	return nil
}

// Run processes events until ctx is cancelled. Producer and relay
// goroutines are stopped before it returns.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.ctx = ctx
	defer func() {
		cancel()
		e.wg.Wait()
		close(e.done)
	}()

	var tick <-chan time.Time
	if e.cfg.TickInterval > 0 {
		t := time.NewTicker(e.cfg.TickInterval)
		defer t.Stop()
		tick = t.C
	}

	log.Consensus.Info().
		Uint64("next_close", uint64(e.nextClose)).
		Str("tip", e.tip.Hash.Short()).
		Msg("Consensus engine started")

	for {
		select {
		case <-ctx.Done():
			log.Consensus.Info().Msg("Consensus engine stopped")
			return nil
		case <-tick:
			e.onTick()
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

func (e *Engine) handle(ev any) {
	switch ev := ev.(type) {
	case proofEvent:
		ev.reply <- e.onProof(ev.proof)
	case sliceEvent:
		err := e.onSlice(ev.slice, ev.local)
		if ev.reply != nil {
			ev.reply <- err
		}
	case attestationEvent:
		ev.reply <- e.onAttestation(ev.att)
	case peersEvent:
		ev.reply <- e.onPeers(ev.peers)
	case tickEvent:
		e.onTick()
		ev.reply <- nil
	case statusEvent:
		ev.reply <- e.status()
	}
}

// call hands ev to the loop and waits for its reply.
func (e *Engine) call(ctx context.Context, ev any, reply chan error) error {
	select {
	case e.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// DeliverPresence validates a gossiped proof, files it in the ledger and
// relays it.
func (e *Engine) DeliverPresence(ctx context.Context, p presence.Proof) error {
	reply := make(chan error, 1)
	return e.call(ctx, proofEvent{proof: p, reply: reply}, reply)
}

// DeliverSlice validates a gossiped slice, runs fork choice and relays it.
// Losing fork choice is not an error.
func (e *Engine) DeliverSlice(ctx context.Context, s *slice.Slice) error {
	reply := make(chan error, 1)
	return e.call(ctx, sliceEvent{slice: s, reply: reply}, reply)
}

func (e *Engine) DeliverAttestation(ctx context.Context, a finality.Attestation) error {
	reply := make(chan error, 1)
	return e.call(ctx, attestationEvent{att: a, reply: reply}, reply)
}

// PeerChainHeights reports what peers see. The engine pauses production and
// period processing while the local clock is too far from their median.
func (e *Engine) PeerChainHeights(ctx context.Context, peers []PeerChainInfo) error {
	reply := make(chan error, 1)
	return e.call(ctx, peersEvent{peers: peers, reply: reply}, reply)
}

// Tick runs boundary and grace handling against the engine clock.
func (e *Engine) Tick(ctx context.Context) error {
	reply := make(chan error, 1)
	return e.call(ctx, tickEvent{reply: reply}, reply)
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case e.events <- statusEvent{reply: reply}:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-e.done:
		return Status{}, ErrStopped
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-e.done:
		return Status{}, ErrStopped
	}
}

func (e *Engine) status() Status {
	st := Status{
		Height:  e.tip.Height,
		Tip:     e.tip.Hash,
		Leaves:  len(e.index.LeafHashes()),
		Paused:  e.paused,
		Flagged: len(e.flagged),
	}
	if p, ok := e.ledger.LastClosed(); ok {
		st.ClosedPeriod, st.HasClosed = uint64(p), true
	}
	if h, _, ok := e.tracker.FinalHeight(); ok {
		st.FinalHeight = h
	}
	if e.round != nil {
		st.Phase = e.round.Phase().String()
		st.Slot = e.round.Slot()
	}
	snap := e.ledger.Snapshot()
	st.Participants = len(snap.Participants)
	st.TotalWeight = snap.TotalWeight()
	return st
}
