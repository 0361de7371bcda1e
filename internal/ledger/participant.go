package ledger

import (
	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/montime"
	"github.com/eigerco/montana/internal/presence"
)

// Participant is a registered public key and the weight it has earned.
type Participant struct {
	PublicKey     crypto.PublicKey
	Class         presence.Class
	Weight        Weight
	Registered    uint64 // period of the first applied proof
	CooldownUntil uint64 // first period in which the participant is eligible
	LastActive    uint64
	Active        bool // LastActive is meaningful
	Genesis       bool
}

// InCooldown reports whether the participant is still waiting out its
// cooldown at period. Genesis participants never are.
func (p Participant) InCooldown(period montime.Period) bool {
	if p.Genesis {
		return false
	}
	return uint64(period) < p.CooldownUntil
}

// Eligible reports whether the participant may enter the lottery at period.
// Genesis participants are eligible before they earn weight, so the first
// slices of a chain have producers; they draw after every weighted entrant.
func (p Participant) Eligible(period montime.Period) bool {
	if p.InCooldown(period) {
		return false
	}
	return p.Genesis || p.Weight.Total() > 0
}

// needsReactivation reports whether the participant was absent for more than one window.
func (p Participant) needsReactivation(period montime.Period) bool {
	if p.Genesis || !p.Active {
		return false
	}
	return uint64(period) > p.LastActive && uint64(period)-p.LastActive > montime.PeriodsPerWindow
}
