package roles

import (
	"context"

	"github.com/pkg/errors"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
	"github.com/suffix-labs/ckb-omnilock/pkg/envelope"
	"github.com/suffix-labs/ckb-omnilock/pkg/omnilock"
)

// ErrIncomplete is returned by Finalize when a group still needs signatures.
var ErrIncomplete = errors.New("transaction is not fully signed")

// Finalizer checks that an envelope is ready for submission.
//
// Every input locked by the scheme's OmniLock script must have a complete
// lock whose filled slots verify against the group's signing digest. Inputs
// under other locks are not checked.
type Finalizer struct {
	resolver CellResolver
	typeHash ckb.Hash
}

// NewFinalizer creates a Finalizer.
func NewFinalizer(resolver CellResolver, omnilockTypeHash ckb.Hash) *Finalizer {
	return &Finalizer{resolver: resolver, typeHash: omnilockTypeHash}
}

// Finalize returns the transaction of env once every OmniLock group is
// complete.
func (f *Finalizer) Finalize(ctx context.Context, env *envelope.Envelope) (*ckb.Transaction, error) {
	groups, err := GroupInputs(ctx, f.resolver, env.Transaction)
	if err != nil {
		return nil, err
	}
	lock := env.Config.LockScript(f.typeHash)
	for _, g := range groups {
		if !g.Lock.Equal(&lock) {
			continue
		}
		first := g.Inputs[0]
		raw, err := env.LockAt(first)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, errors.Wrapf(ErrIncomplete, "input %d has no lock", first)
		}
		progress, err := omnilock.Assess(raw, env.Config)
		if err != nil {
			return nil, err
		}
		if !progress.Complete() {
			return nil, errors.Wrapf(ErrIncomplete, "input %d: %s", first, progress)
		}
		digest, err := env.Config.SigningDigest(env.Transaction, g.Inputs)
		if err != nil {
			return nil, err
		}
		if err := omnilock.VerifySlots(raw, env.Config, digest); err != nil {
			return nil, err
		}
	}
	return env.Transaction.Clone(), nil
}
