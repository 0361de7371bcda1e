package presence

import (
	"github.com/eigerco/montana/pkg/serialization"
)

// Envelope is the class-tagged encoding of a proof used on the wire, inside
// slice bodies and in storage.
type Envelope struct {
	Class    Class
	Header   Header
	Device   DeviceAttestation
	Liveness []byte
}

func EnvelopeOf(p Proof) Envelope {
	env := Envelope{Class: p.Class(), Header: p.Common()}
	if vu, ok := p.(*VerifiedUserPresence); ok {
		env.Device = vu.Device
		env.Liveness = vu.Liveness
	}
	return env
}

func (e Envelope) Proof() (Proof, error) {
	switch e.Class {
	case FullNode:
		return &FullNodePresence{Header: e.Header}, nil
	case VerifiedUser:
		return &VerifiedUserPresence{Header: e.Header, Device: e.Device, Liveness: e.Liveness}, nil
	default:
		return nil, ErrUnknownClass
	}
}

func Encode(p Proof) ([]byte, error) {
	return serialization.Marshal(EnvelopeOf(p))
}

func Decode(data []byte) (Proof, error) {
	var env Envelope
	if err := serialization.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return env.Proof()
}
