package omnilock

import (
	"fmt"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
	"github.com/suffix-labs/ckb-omnilock/pkg/keys"
)

// State of a witness lock: Placeholder -> Partial -> Complete. Fills are
// never removed, so the state only moves forward.
type State int

const (
	StatePlaceholder State = iota
	StatePartial
	StateComplete
)

func (s State) String() string {
	switch s {
	case StatePlaceholder:
		return "placeholder"
	case StatePartial:
		return "partial"
	case StateComplete:
		return "complete"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Progress is the fill state of a lock field.
//
// NeedMore is the number of empty slots, not the number of signatures still
// required: a 2-of-3 lock with nothing signed reports 3.
type Progress struct {
	State    State
	Slots    int
	Filled   int
	Empty    int
	Required int // threshold, 1 for single-key schemes
}

// Complete reports whether the lock satisfies its scheme.
func (p Progress) Complete() bool {
	return p.State == StateComplete
}

// NeedMore is 0 when complete, otherwise the empty-slot count.
func (p Progress) NeedMore() int {
	if p.Complete() {
		return 0
	}
	return p.Empty
}

func (p Progress) String() string {
	if p.Complete() {
		return "complete"
	}
	return fmt.Sprintf("need more (%d empty of %d slots, %d required)", p.Empty, p.Slots, p.Required)
}

// Assess classifies lock under scheme c.
//
// A lock is complete when at least threshold slots are filled and every one
// of the first require_first_n slots is filled. Single-key schemes are
// complete once their only slot is filled. Filled slots are trusted by
// position; VerifySlots checks them cryptographically.
func Assess(lock []byte, c *Config) (Progress, error) {
	if err := c.Validate(); err != nil {
		return Progress{}, err
	}
	w, err := DecodeWitnessLock(c, lock)
	if err != nil {
		return Progress{}, err
	}

	p := Progress{Slots: len(w.Slots), Required: 1}
	for i := range w.Slots {
		if w.Slots[i].IsEmpty() {
			p.Empty++
		} else {
			p.Filled++
		}
	}

	firstN := 0
	if c.Multisig != nil {
		p.Required = int(c.Multisig.Threshold)
		firstN = int(c.Multisig.RequireFirstN)
	}
	requiredPresent := true
	for i := 0; i < firstN; i++ {
		if w.Slots[i].IsEmpty() {
			requiredPresent = false
			break
		}
	}

	switch {
	case p.Filled >= p.Required && requiredPresent:
		p.State = StateComplete
	case p.Filled == 0:
		p.State = StatePlaceholder
	default:
		p.State = StatePartial
	}
	return p, nil
}

// VerifySlots recovers the signer of every filled slot from digest and checks
// it is the identity owning that slot. Empty slots are skipped.
func VerifySlots(lock []byte, c *Config, digest ckb.Hash) error {
	w, err := DecodeWitnessLock(c, lock)
	if err != nil {
		return err
	}
	for i := range w.Slots {
		if w.Slots[i].IsEmpty() {
			continue
		}
		pub, err := keys.RecoverPublicKey(digest, w.Slots[i][:])
		if err != nil {
			return NewError(CodeInvalidSignature, err, "slot %d", i)
		}
		if got := c.SlotIndex(pub); got != i {
			id := c.KeyIdentity(pub)
			return NewError(CodeInvalidSignature, nil, "slot %d is signed by 0x%x, which does not own it", i, id[:])
		}
	}
	return nil
}
