package roles

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
	"github.com/suffix-labs/ckb-omnilock/pkg/envelope"
	"github.com/suffix-labs/ckb-omnilock/pkg/omnilock"
)

// Combiner merges envelopes signed independently from the same unsigned
// transaction into one envelope.
//
// Signers working on copies of one envelope each fill their own slots. The
// Combiner takes the union of the fills slot by slot:
//   - an empty slot is replaced by a filled one
//   - equal fills are kept
//   - two different fills of the same slot are a Conflict
//
// Everything other than OmniLock lock fields must be identical.
type Combiner struct {
	envelopes []*envelope.Envelope
}

// NewCombiner creates a Combiner over envelopes of the same transaction.
func NewCombiner(envelopes []*envelope.Envelope) *Combiner {
	return &Combiner{envelopes: envelopes}
}

// Combine returns the merged envelope. The inputs are not modified.
func (c *Combiner) Combine() (*envelope.Envelope, error) {
	if len(c.envelopes) == 0 {
		return nil, errors.New("no envelopes to combine")
	}

	result := c.envelopes[0].Clone()
	for i := 1; i < len(c.envelopes); i++ {
		if err := c.mergeInto(result, c.envelopes[i]); err != nil {
			return nil, errors.Wrapf(err, "merge envelope %d", i)
		}
	}
	return result, nil
}

func (c *Combiner) mergeInto(dst, src *envelope.Envelope) error {
	if !dst.Config.Equal(src.Config) {
		return omnilock.NewError(omnilock.CodeInconsistentState, nil, "envelopes use different omnilock configs")
	}
	if dh, sh := dst.Hash(), src.Hash(); dh != sh {
		return errors.Errorf("envelopes are for different transactions: %s != %s", dh, sh)
	}

	dw, sw := dst.Transaction.Witnesses, src.Transaction.Witnesses
	if len(dw) != len(sw) {
		return errors.Errorf("witness counts differ: %d != %d", len(dw), len(sw))
	}
	for i := range dw {
		if bytes.Equal(dw[i], sw[i]) {
			continue
		}
		merged, err := mergeWitness(dst.Config, dw[i], sw[i])
		if err != nil {
			return errors.Wrapf(err, "witness %d", i)
		}
		dw[i] = merged
	}
	return nil
}

// mergeWitness merges two witness-args that differ only in their lock
// field.
func mergeWitness(cfg *omnilock.Config, a, b []byte) ([]byte, error) {
	wa, err := ckb.ParseWitnessArgs(a)
	if err != nil {
		return nil, omnilock.NewError(omnilock.CodeMalformedWitness, err, "witness args")
	}
	wb, err := ckb.ParseWitnessArgs(b)
	if err != nil {
		return nil, omnilock.NewError(omnilock.CodeMalformedWitness, err, "witness args")
	}
	if !bytes.Equal(wa.InputType, wb.InputType) || !bytes.Equal(wa.OutputType, wb.OutputType) ||
		(wa.InputType == nil) != (wb.InputType == nil) || (wa.OutputType == nil) != (wb.OutputType == nil) {
		return nil, errors.New("witness type fields differ")
	}

	la, err := omnilock.DecodeWitnessLock(cfg, wa.Lock)
	if err != nil {
		return nil, err
	}
	lb, err := omnilock.DecodeWitnessLock(cfg, wb.Lock)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(la.Preimage, lb.Preimage) {
		return nil, omnilock.NewError(omnilock.CodeConflict, nil, "lock preimages differ")
	}

	for i := range la.Slots {
		switch {
		case lb.Slots[i].IsEmpty():
		case la.Slots[i].IsEmpty():
			la.Slots[i] = lb.Slots[i]
		case la.Slots[i] != lb.Slots[i]:
			return nil, omnilock.NewError(omnilock.CodeConflict, nil, "slot %d is filled differently", i)
		}
	}
	wa.Lock = la.Encode()
	return wa.Serialize(), nil
}
