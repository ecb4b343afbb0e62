// Package envelope holds the transaction envelope: the transaction being
// signed plus the authorization scheme its OmniLock inputs use.
//
// The envelope is the whole session state of a multi-round signing flow.
// Signers load it, add their signatures and save it back through a Store.
// Stores refuse writes based on a stale read (see Version), so concurrent
// signers never silently drop each other's slots.
package envelope

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
	"github.com/suffix-labs/ckb-omnilock/pkg/omnilock"
)

// Envelope is a transaction under construction or signing.
type Envelope struct {
	Transaction *ckb.Transaction `json:"transaction"`
	Config      *omnilock.Config `json:"omnilock_config"`
}

// New creates an envelope. The config is validated.
func New(tx *ckb.Transaction, cfg *omnilock.Config) (*Envelope, error) {
	if tx == nil || cfg == nil {
		return nil, errors.New("envelope needs a transaction and an omnilock config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Envelope{Transaction: tx, Config: cfg}, nil
}

// Marshal encodes the envelope as indented JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// Unmarshal decodes and validates an envelope.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}
	if e.Transaction == nil {
		return nil, errors.New("envelope has no transaction")
	}
	if e.Config == nil {
		return nil, errors.New("envelope has no omnilock_config")
	}
	return &e, nil
}

// Clone returns a deep copy. Configs are never mutated after creation and
// are shared.
func (e *Envelope) Clone() *Envelope {
	return &Envelope{Transaction: e.Transaction.Clone(), Config: e.Config}
}

// Hash is the transaction hash. Signing rounds do not change it.
func (e *Envelope) Hash() ckb.Hash {
	return e.Transaction.Hash()
}

// LockAt returns the witness-args lock field of witness i, nil when the
// witness is empty or has no lock.
func (e *Envelope) LockAt(i int) ([]byte, error) {
	if i < 0 || i >= len(e.Transaction.Witnesses) {
		return nil, errors.Errorf("witness index %d out of range (have %d)", i, len(e.Transaction.Witnesses))
	}
	return omnilock.LockFromWitness(e.Transaction.Witnesses[i])
}

// HasSignature reports whether any witness holds a lock of this scheme with
// at least one filled slot. The transaction must not change after that.
func (e *Envelope) HasSignature() bool {
	for _, w := range e.Transaction.Witnesses {
		lock, err := omnilock.LockFromWitness(w)
		if err != nil || lock == nil {
			continue
		}
		wl, err := omnilock.DecodeWitnessLock(e.Config, lock)
		if err != nil {
			continue
		}
		for i := range wl.Slots {
			if !wl.Slots[i].IsEmpty() {
				return true
			}
		}
	}
	return false
}
