package presence

import "fmt"

// Class is the participant class a proof is filed under. Classes compete
// for disjoint lottery quotas and carry independent cooldowns.
type Class uint32

const (
	FullNode Class = iota
	VerifiedUser
)

// Classes lists every class in quota order.
var Classes = []Class{FullNode, VerifiedUser}

func (c Class) String() string {
	switch c {
	case FullNode:
		return "full_node"
	case VerifiedUser:
		return "verified_user"
	default:
		return fmt.Sprintf("class(%d)", uint32(c))
	}
}

func (c Class) Valid() bool {
	return c == FullNode || c == VerifiedUser
}
