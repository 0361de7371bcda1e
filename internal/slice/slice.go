// Package slice defines the per-period chain extension and how producers
// build it and receivers check it.
package slice

import (
	"errors"
	"fmt"

	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/lottery"
	"github.com/eigerco/montana/internal/montime"
	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/pkg/serialization"
)

// MaxProofs bounds the body size a receiver will process.
const MaxProofs = 100_000

type Header struct {
	PrevHash          crypto.Hash
	Period            uint64
	Timestamp         uint64
	PresenceRoot      crypto.Hash
	Producer          crypto.PublicKey
	Slot              uint32
	LotteryTicket     crypto.Hash
	TxRoot            crypto.Hash // reference to the transaction batch, opaque here
	ProducerSignature []byte
}

type Body struct {
	Proofs []presence.Envelope
}

type Slice struct {
	Header Header
	Body   Body
}

func (h Header) PeriodIndex() montime.Period {
	return montime.Period(h.Period)
}

// Hash identifies the slice. The signature is excluded so it is known before signing.
func (h Header) Hash() crypto.Hash {
	h.ProducerSignature = nil
	return crypto.HashData(serialization.MustMarshal(h))
}

func (s *Slice) Hash() crypto.Hash {
	return s.Header.Hash()
}

// Proofs decodes the body's proofs.
func (s *Slice) Proofs() ([]presence.Proof, error) {
	out := make([]presence.Proof, 0, len(s.Body.Proofs))
	for _, env := range s.Body.Proofs {
		p, err := env.Proof()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func Encode(s *Slice) ([]byte, error) {
	return serialization.Marshal(*s)
}

func Decode(b []byte) (*Slice, error) {
	s := new(Slice)
	if err := serialization.Unmarshal(b, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Build assembles and signs the slice for the round res, as the winner
// holding slot. proofs are the period's proofs on the branch res.PrevHash.
func Build(res *lottery.Result, slot uint8, proofs []presence.Proof, txRoot crypto.Hash, ts montime.Time, signer crypto.Signer) (*Slice, error) {
	w, ok := res.Producer(slot)
	if !ok || w.PublicKey != signer.PublicKey() {
		return nil, ErrNotWinner
	}

	sorted := make([]presence.Proof, len(proofs))
	copy(sorted, proofs)
	presence.SortCanonical(sorted)

	s := &Slice{
		Header: Header{
			PrevHash:      res.PrevHash,
			Period:        uint64(res.Period),
			Timestamp:     uint64(ts.Unix()),
			PresenceRoot:  presence.Root(sorted),
			Producer:      w.PublicKey,
			Slot:          uint32(slot),
			LotteryTicket: w.Ticket,
			TxRoot:        txRoot,
		},
	}
	for _, p := range sorted {
		s.Body.Proofs = append(s.Body.Proofs, presence.EnvelopeOf(p))
	}

	h := s.Hash()
	sig, err := signer.Sign(h[:])
	if err != nil {
		return nil, fmt.Errorf("sign slice: %w", err)
	}
	s.Header.ProducerSignature = sig
	return s, nil
}

// Verify checks s against the lottery result of its round: producer claim,
// signature, and that the body's proofs are valid, bound to the slice's
// branch and period, and committed to by the presence root.
func Verify(s *Slice, res *lottery.Result, v crypto.Verifier) error {
	h := s.Header
	if h.PeriodIndex() != res.Period || h.PrevHash != res.PrevHash {
		return ErrWrongRound
	}
	if h.Slot >= montime.SlotsPerPeriod {
		return ErrNotWinner
	}
	if err := lottery.VerifyProducer(res, h.Producer, uint8(h.Slot), h.LotteryTicket); err != nil {
		if errors.Is(err, lottery.ErrTicketMismatch) {
			return fmt.Errorf("%w: %w", ErrGrindingAttempt, err)
		}
		return fmt.Errorf("%w: %w", ErrNotWinner, err)
	}
	hash := s.Hash()
	if !v.Verify(h.Producer, hash[:], h.ProducerSignature) {
		return ErrInvalidSignature
	}

	if len(s.Body.Proofs) > MaxProofs {
		return ErrTooManyProofs
	}
	proofs, err := s.Proofs()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProofInSet, err)
	}
	seen := make(map[crypto.PublicKey]struct{}, len(proofs))
	for _, p := range proofs {
		ph := p.Common()
		if ph.Period != h.Period || ph.PrevSliceHash != h.PrevHash {
			return ErrForeignProof
		}
		if _, dup := seen[ph.Participant]; dup {
			return ErrDuplicateProof
		}
		seen[ph.Participant] = struct{}{}
		if err := presence.Validate(p, v); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidProofInSet, err)
		}
	}
	if presence.Root(proofs) != h.PresenceRoot {
		return ErrPresenceRoot
	}
	return nil
}
