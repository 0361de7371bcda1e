// Package lottery selects the producers of a period's slice. Selection is a
// pure function of the previous slice hash, the period index and the ledger
// snapshot, so every node computes the same winners and no producer can
// steer the seed.
package lottery

import (
	"encoding/binary"
	"sort"

	"github.com/holiman/uint256"

	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/ledger"
	"github.com/eigerco/montana/internal/montime"
	"github.com/eigerco/montana/internal/presence"
)

// Quotas is the number of slots reserved per class. Quotas are disjoint:
// slots a class cannot fill stay empty.
type Quotas struct {
	FullNode     int
	VerifiedUser int
}

var DefaultQuotas = Quotas{FullNode: 8, VerifiedUser: 2}

func (q Quotas) For(class presence.Class) int {
	switch class {
	case presence.FullNode:
		return q.FullNode
	case presence.VerifiedUser:
		return q.VerifiedUser
	}
	return 0
}

func (q Quotas) Total() int {
	return q.FullNode + q.VerifiedUser
}

func (q Quotas) Validate() error {
	if q.FullNode < 0 || q.VerifiedUser < 0 || q.Total() == 0 || q.Total() > montime.SlotsPerPeriod {
		return ErrInvalidQuotas
	}
	return nil
}

// Seed is H(prev_slice_hash || period little-endian). It contains nothing a
// producer of the current period controls.
func Seed(prev crypto.Hash, period montime.Period) crypto.Hash {
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], uint64(period))
	return crypto.HashConcat(prev[:], idx[:])
}

// Ticket is H(seed || pubkey).
func Ticket(seed crypto.Hash, pub crypto.PublicKey) crypto.Hash {
	return crypto.HashConcat(seed[:], pub[:])
}

// Draw scales a ticket by weight. Lower draws win, so heavier participants
// are proportionally more likely to win a slot.
func Draw(ticket crypto.Hash, weight uint64) *uint256.Int {
	t := new(uint256.Int).SetBytes32(ticket[:])
	if weight == 0 {
		return new(uint256.Int).SetAllOne()
	}
	return t.Div(t, uint256.NewInt(weight))
}

// Winner holds one awarded slot.
type Winner struct {
	Slot      uint8
	PublicKey crypto.PublicKey
	Class     presence.Class
	Ticket    crypto.Hash
	Weight    uint64
	draw      *uint256.Int
}

// Result is the outcome of one period's lottery.
type Result struct {
	Period   montime.Period
	PrevHash crypto.Hash
	Seed     crypto.Hash
	Winners  []Winner // by slot
}

// Run draws the winners for period from the participants in snap that are
// eligible at period.
func Run(snap *ledger.Snapshot, prev crypto.Hash, period montime.Period, quotas Quotas) *Result {
	seed := Seed(prev, period)
	res := &Result{Period: period, PrevHash: prev, Seed: seed}

	var selected []Winner
	for _, class := range presence.Classes {
		quota := quotas.For(class)
		if quota <= 0 {
			continue
		}
		var candidates []Winner
		for _, p := range snap.Eligible(class, period) {
			ticket := Ticket(seed, p.PublicKey)
			w := p.Weight.Total()
			candidates = append(candidates, Winner{
				PublicKey: p.PublicKey,
				Class:     class,
				Ticket:    ticket,
				Weight:    w,
				draw:      Draw(ticket, w),
			})
		}
		sortByDraw(candidates)
		if len(candidates) > quota {
			candidates = candidates[:quota]
		}
		selected = append(selected, candidates...)
	}

	sortByDraw(selected)
	for i := range selected {
		selected[i].Slot = uint8(i)
	}
	res.Winners = selected
	return res
}

func sortByDraw(ws []Winner) {
	sort.Slice(ws, func(i, j int) bool {
		if c := ws[i].draw.Cmp(ws[j].draw); c != 0 {
			return c < 0
		}
		return ws[i].PublicKey.Compare(ws[j].PublicKey) < 0
	})
}

// Producer returns the winner holding slot.
func (r *Result) Producer(slot uint8) (Winner, bool) {
	if int(slot) >= len(r.Winners) {
		return Winner{}, false
	}
	return r.Winners[slot], true
}

// SlotOf returns the slot awarded to pub.
func (r *Result) SlotOf(pub crypto.PublicKey) (uint8, bool) {
	for _, w := range r.Winners {
		if w.PublicKey == pub {
			return w.Slot, true
		}
	}
	return 0, false
}

// VerifyProducer checks a slice header's producer claim against the result.
func VerifyProducer(r *Result, pub crypto.PublicKey, slot uint8, ticket crypto.Hash) error {
	if ticket != Ticket(r.Seed, pub) {
		return ErrTicketMismatch
	}
	awarded, ok := r.SlotOf(pub)
	if !ok {
		return ErrNotSelected
	}
	if awarded != slot {
		return ErrWrongSlot
	}
	return nil
}
