package ledger

import (
	"sort"

	"github.com/eigerco/montana/internal/cooldown"
	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/montime"
	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/internal/safemath"
)

// ClassCount is a per-class counter in encodable form.
type ClassCount struct {
	Class presence.Class
	Count uint64
}

// Snapshot is an immutable copy of the ledger taken right after a period
// closed. It is what the lottery, fork choice and storage read.
type Snapshot struct {
	Period uint64
	// Closed is false for the genesis snapshot, which precedes every period.
	Closed        bool
	Participants  []Participant // sorted by public key
	Registrations []ClassCount  // registrations so far in the open window
	Cooldown      cooldown.State
}

func (s *Snapshot) ClosedPeriod() montime.Period {
	return montime.Period(s.Period)
}

func (s *Snapshot) Lookup(pub crypto.PublicKey) (Participant, bool) {
	i := sort.Search(len(s.Participants), func(i int) bool {
		return s.Participants[i].PublicKey.Compare(pub) >= 0
	})
	if i < len(s.Participants) && s.Participants[i].PublicKey == pub {
		return s.Participants[i], true
	}
	return Participant{}, false
}

func (s *Snapshot) WeightOf(pub crypto.PublicKey) uint64 {
	p, ok := s.Lookup(pub)
	if !ok {
		return 0
	}
	return p.Weight.Total()
}

func (s *Snapshot) TotalWeight() uint64 {
	var total uint64
	for _, p := range s.Participants {
		total = safemath.SaturatingAdd64(total, p.Weight.Total())
	}
	return total
}

// Eligible returns the participants of class that may enter the lottery at
// period, in public key order.
func (s *Snapshot) Eligible(class presence.Class, period montime.Period) []Participant {
	var out []Participant
	for _, p := range s.Participants {
		if p.Class == class && p.Eligible(period) {
			out = append(out, p)
		}
	}
	return out
}
