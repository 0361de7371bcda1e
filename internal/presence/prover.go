package presence

// TimeProver reports how many proven time units a proof carries.
type TimeProver interface {
	ProvenTimeUnits(p Proof) uint64
}

// MaskProver counts one unit per attested minute.
type MaskProver struct{}

func (MaskProver) ProvenTimeUnits(p Proof) uint64 {
	return uint64(p.Common().Mask.Count())
}
