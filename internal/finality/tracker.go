// Package finality promotes canonical slices from PENDING through SAFE to
// FINAL and bounds how far back the chain may be reorganised.
package finality

import (
	"fmt"
	"sort"
	"sync"

	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/forkchoice"
	"github.com/eigerco/montana/internal/merkle"
	"github.com/eigerco/montana/internal/safemath"
	"github.com/eigerco/montana/pkg/log"
	"github.com/eigerco/montana/pkg/serialization"
)

type Status uint8

const (
	Pending Status = iota
	Safe
	Final
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Safe:
		return "safe"
	case Final:
		return "final"
	}
	return "unknown"
}

type Config struct {
	SafeDepth       uint64
	FinalDepth      uint64
	MaxReorgDepth   uint64
	MaxAttestations int
	// Attestation weight >= total * QuorumNum / QuorumDen finalises a slice.
	QuorumNum uint64
	QuorumDen uint64
}

var DefaultConfig = Config{
	SafeDepth:       6,
	FinalDepth:      2016,
	MaxReorgDepth:   100,
	MaxAttestations: 1000,
	QuorumNum:       2,
	QuorumDen:       3,
}

// Checkpoint is the finality record produced once per window boundary.
type Checkpoint struct {
	Window          uint64
	Height          uint64
	Head            forkchoice.Head
	AttestationRoot crypto.Hash
	Status          Status
}

type tracked struct {
	hash     crypto.Hash
	height   uint64
	attested map[crypto.PublicKey]Attestation
	weight   uint64
}

// Tracker follows the canonical chain by height. It is safe for concurrent use.
type Tracker struct {
	mu sync.RWMutex

	cfg      Config
	verifier crypto.Verifier

	head     uint64
	byHash   map[crypto.Hash]*tracked
	byHeight map[uint64]*tracked

	finalHeight uint64
	finalHash   crypto.Hash
	hasFinal    bool
	// canonical slices pruned below the latest FINAL one
	final map[crypto.Hash]uint64

	checkpoints []Checkpoint
}

func NewTracker(cfg Config, v crypto.Verifier) *Tracker {
	return &Tracker{
		cfg:      cfg,
		verifier: v,
		byHash:   make(map[crypto.Hash]*tracked),
		byHeight: make(map[uint64]*tracked),
		final:    make(map[crypto.Hash]uint64),
	}
}

// Track records hash as the canonical slice at height and moves the head
// there. Slices above height left over from a replaced branch are dropped.
// It returns the checkpoints that became FINAL.
func (t *Tracker) Track(hash crypto.Hash, height uint64) []Checkpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	for h, old := range t.byHeight {
		if h >= height {
			delete(t.byHeight, h)
			delete(t.byHash, old.hash)
		}
	}
	tr := &tracked{hash: hash, height: height, attested: make(map[crypto.PublicKey]Attestation)}
	t.byHash[hash] = tr
	t.byHeight[height] = tr
	t.head = height

	if height >= t.cfg.FinalDepth {
		t.finalizeLocked(height - t.cfg.FinalDepth)
	}
	return t.promoteCheckpointsLocked()
}

func (t *Tracker) Head() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.head
}

// FinalHeight returns the height of the latest FINAL slice.
func (t *Tracker) FinalHeight() (uint64, crypto.Hash, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finalHeight, t.finalHash, t.hasFinal
}

func (t *Tracker) finalizeLocked(height uint64) {
	if t.hasFinal && height <= t.finalHeight {
		return
	}
	t.finalHeight = height
	t.hasFinal = true
	if tr, ok := t.byHeight[height]; ok {
		t.finalHash = tr.hash
	}
	// everything below FINAL is immutable, attestations are no longer needed
	for h, tr := range t.byHeight {
		if h < height {
			delete(t.byHeight, h)
			delete(t.byHash, tr.hash)
			t.final[tr.hash] = h
		}
	}
}

func (t *Tracker) statusAtLocked(height uint64) Status {
	if t.hasFinal && height <= t.finalHeight {
		return Final
	}
	depth := safemath.SaturatingSub64(t.head, height)
	switch {
	case depth >= t.cfg.FinalDepth:
		return Final
	case depth >= t.cfg.SafeDepth:
		return Safe
	}
	return Pending
}

// Status returns the finality status of a tracked slice.
func (t *Tracker) Status(hash crypto.Hash) (Status, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tr, ok := t.byHash[hash]
	if !ok {
		if _, ok := t.final[hash]; ok {
			return Final, nil
		}
		if t.hasFinal && hash == t.finalHash {
			return Final, nil
		}
		return Pending, ErrUnknownSlice
	}
	return t.statusAtLocked(tr.height), nil
}

// StatusAt returns the finality status of the canonical slice at height.
func (t *Tracker) StatusAt(height uint64) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.statusAtLocked(height)
}

// AddAttestation counts att toward its slice. weight is the attester's
// ledger weight and total the ledger's total weight. It reports whether the
// slice reached the quorum and became FINAL, and which checkpoints that
// promoted.
func (t *Tracker) AddAttestation(att Attestation, weight, total uint64) (bool, []Checkpoint, error) {
	if weight == 0 {
		return false, nil, ErrZeroWeight
	}
	if !t.verifier.Verify(att.Attester, att.SigningMessage(), att.Signature) {
		return false, nil, ErrInvalidAttestation
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.byHash[att.SliceHash]
	if !ok {
		return false, nil, ErrUnknownSlice
	}
	if tr.height != att.Height {
		return false, nil, ErrHeightMismatch
	}
	if _, dup := tr.attested[att.Attester]; dup {
		return false, nil, ErrAlreadyAttested
	}
	if len(tr.attested) >= t.cfg.MaxAttestations {
		return false, nil, ErrTooManyAttestations
	}
	tr.attested[att.Attester] = att
	tr.weight = safemath.SaturatingAdd64(tr.weight, weight)

	if t.statusAtLocked(tr.height) == Final || !t.quorumLocked(tr.weight, total) {
		return false, nil, nil
	}
	t.finalizeLocked(tr.height)

	log.Consensus.Info().
		Uint64("height", tr.height).
		Str("slice", tr.hash.Short()).
		Uint64("weight", tr.weight).
		Msg("Slice finalized by attestation")
	return true, t.promoteCheckpointsLocked(), nil
}

func (t *Tracker) quorumLocked(weight, total uint64) bool {
	if total == 0 || t.cfg.QuorumDen == 0 {
		return false
	}
	return safemath.SaturatingMul64(weight, t.cfg.QuorumDen) >= safemath.SaturatingMul64(total, t.cfg.QuorumNum)
}

// AttestationWeight returns the weight attested to a tracked slice.
func (t *Tracker) AttestationWeight(hash crypto.Hash) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if tr, ok := t.byHash[hash]; ok {
		return tr.weight
	}
	return 0
}

// ValidateReorg checks a switch from the current head to a branch forking
// off at forkHeight.
func (t *Tracker) ValidateReorg(forkHeight uint64) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	depth := safemath.SaturatingSub64(t.head, forkHeight)
	if depth > t.cfg.MaxReorgDepth {
		return fmt.Errorf("%w: depth %d, max %d", ErrReorgTooDeep, depth, t.cfg.MaxReorgDepth)
	}
	if t.hasFinal && forkHeight < t.finalHeight {
		return fmt.Errorf("%w: fork at %d, final at %d", ErrReorgBelowFinal, forkHeight, t.finalHeight)
	}
	return nil
}

// CreateCheckpoint records the checkpoint for window at the canonical slice
// summarised by head at height.
func (t *Tracker) CreateCheckpoint(window, height uint64, head forkchoice.Head) Checkpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := Checkpoint{Window: window, Height: height, Head: head}
	if tr, ok := t.byHeight[height]; ok {
		cp.AttestationRoot = attestationRoot(tr.attested)
	}
	cp.Status = t.statusAtLocked(height)
	cp.Head.Final = cp.Status == Final

	i := sort.Search(len(t.checkpoints), func(i int) bool { return t.checkpoints[i].Window >= window })
	if i < len(t.checkpoints) && t.checkpoints[i].Window == window {
		if t.checkpoints[i].Status != Final {
			t.checkpoints[i] = cp
		}
		return t.checkpoints[i]
	}
	t.checkpoints = append(t.checkpoints, Checkpoint{})
	copy(t.checkpoints[i+1:], t.checkpoints[i:])
	t.checkpoints[i] = cp
	return cp
}

// Checkpoints returns all checkpoints in window order.
func (t *Tracker) Checkpoints() []Checkpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Checkpoint(nil), t.checkpoints...)
}

// RestoreCheckpoint loads a persisted FINAL checkpoint on startup.
func (t *Tracker) RestoreCheckpoint(cp Checkpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp.Status = Final
	cp.Head.Final = true
	t.final[cp.Head.Hash] = cp.Height
	t.checkpoints = append(t.checkpoints, cp)
	sort.Slice(t.checkpoints, func(i, j int) bool { return t.checkpoints[i].Window < t.checkpoints[j].Window })
	if !t.hasFinal || cp.Height > t.finalHeight {
		t.finalHeight = cp.Height
		t.finalHash = cp.Head.Hash
		t.hasFinal = true
	}
	if cp.Height > t.head {
		t.head = cp.Height
	}
}

func (t *Tracker) promoteCheckpointsLocked() []Checkpoint {
	var promoted []Checkpoint
	for i := range t.checkpoints {
		cp := &t.checkpoints[i]
		if cp.Status == Final {
			continue
		}
		st := t.statusAtLocked(cp.Height)
		if st == cp.Status {
			continue
		}
		cp.Status = st
		if st == Final {
			cp.Head.Final = true
			promoted = append(promoted, *cp)
		}
	}
	return promoted
}

func attestationRoot(atts map[crypto.PublicKey]Attestation) crypto.Hash {
	keys := make([]crypto.PublicKey, 0, len(atts))
	for k := range atts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	leaves := make([][]byte, 0, len(keys))
	for _, k := range keys {
		leaves = append(leaves, serialization.MustMarshal(atts[k]))
	}
	return merkle.ComputeRoot(leaves, crypto.HashData)
}
