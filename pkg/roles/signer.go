package roles

import (
	"bytes"
	"context"

	"cosmossdk.io/log"
	"github.com/pkg/errors"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
	"github.com/suffix-labs/ckb-omnilock/pkg/envelope"
	"github.com/suffix-labs/ckb-omnilock/pkg/keys"
	"github.com/suffix-labs/ckb-omnilock/pkg/omnilock"
)

// CellResolver resolves the cell an input spends. It is satisfied by
// rpc.Resolver.
type CellResolver interface {
	ResolveCell(ctx context.Context, outPoint ckb.OutPoint) (*ckb.Cell, error)
}

// ScriptGroup is the set of inputs locked by one lock script.
type ScriptGroup struct {
	Lock   ckb.Script
	Inputs []int // input indices, ascending
}

// GroupResult reports what a signing round did to one OmniLock group.
type GroupResult struct {
	Group    ScriptGroup
	Changed  bool // the lock field differs from what it was before the round
	Progress omnilock.Progress
}

// RoundResult is the outcome of Signer.SignRound.
type RoundResult struct {
	// Envelope is the updated envelope. The input envelope is never modified.
	Envelope *envelope.Envelope
	// Signed lists the groups owned by the scheme, in input order.
	Signed []GroupResult
	// StillLocked lists the groups no signature was produced for.
	StillLocked []ScriptGroup
}

// Complete reports whether every group of the transaction is unlocked.
func (r *RoundResult) Complete() bool {
	if len(r.StillLocked) > 0 {
		return false
	}
	for _, g := range r.Signed {
		if !g.Progress.Complete() {
			return false
		}
	}
	return true
}

// Signer is the signing coordinator. It applies one key set to every script
// group the envelope's scheme owns and reports the groups left locked.
//
// A round is all or nothing: on any error the caller's envelope is left as
// it was and nothing should be persisted.
type Signer struct {
	logger   log.Logger
	resolver CellResolver
	typeHash ckb.Hash // OmniLock code hash (type id of the deployment)
}

// NewSigner creates a Signer for the OmniLock deployment with the given type
// hash.
func NewSigner(logger log.Logger, resolver CellResolver, omnilockTypeHash ckb.Hash) *Signer {
	return &Signer{
		logger:   logger.With("module", "signer"),
		resolver: resolver,
		typeHash: omnilockTypeHash,
	}
}

// GroupInputs resolves every input cell and groups the inputs by lock
// script, in order of first appearance.
func GroupInputs(ctx context.Context, resolver CellResolver, tx *ckb.Transaction) ([]ScriptGroup, error) {
	var groups []ScriptGroup
	byHash := make(map[ckb.Hash]int)
	for i, in := range tx.Inputs {
		cell, err := resolver.ResolveCell(ctx, in.PreviousOutput)
		if err != nil {
			return nil, omnilock.NewError(omnilock.CodeUnlockError, err,
				"resolve input %d (%s)", i, in.PreviousOutput)
		}
		h := cell.Output.Lock.Hash()
		gi, ok := byHash[h]
		if !ok {
			gi = len(groups)
			byHash[h] = gi
			groups = append(groups, ScriptGroup{Lock: cell.Output.Lock})
		}
		groups[gi].Inputs = append(groups[gi].Inputs, i)
	}
	return groups, nil
}

// SignRound signs every group locked by the envelope's OmniLock script with
// the keys of provider.
//
// All keys are checked against the scheme first; a key that is not an
// authorized identity fails the round with IdentityMismatch before anything
// is signed. Each key writes its slot only, so rounds with different keys
// commute and repeating a round with the same key reproduces the same bytes.
func (s *Signer) SignRound(ctx context.Context, env *envelope.Envelope, provider keys.Provider) (*RoundResult, error) {
	cfg := env.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tx := env.Transaction.Clone()
	groups, err := GroupInputs(ctx, s.resolver, tx)
	if err != nil {
		return nil, err
	}

	lock := cfg.LockScript(s.typeHash)
	var owned, others []ScriptGroup
	for _, g := range groups {
		if g.Lock.Equal(&lock) {
			owned = append(owned, g)
		} else {
			others = append(others, g)
		}
	}
	s.logger.Debug("script groups resolved", "owned", len(owned), "others", len(others))

	result := &RoundResult{StillLocked: others}
	err = provider.WithKeys(func(ks []*keys.PrivateKey) error {
		if err := cfg.CheckKeys(ks); err != nil {
			return err
		}
		for _, g := range owned {
			gr, err := s.signGroup(tx, cfg, g, ks)
			if err != nil {
				return err
			}
			result.Signed = append(result.Signed, *gr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.checkStillLocked(tx, cfg, result.StillLocked); err != nil {
		return nil, err
	}

	result.Envelope = &envelope.Envelope{Transaction: tx, Config: cfg}
	return result, nil
}

// signGroup writes the signatures of ks into the lock of group g. tx is
// modified in place.
func (s *Signer) signGroup(tx *ckb.Transaction, cfg *omnilock.Config, g ScriptGroup, ks []*keys.PrivateKey) (*GroupResult, error) {
	first := g.Inputs[0]
	for len(tx.Witnesses) <= first {
		tx.Witnesses = append(tx.Witnesses, nil)
	}

	args := &ckb.WitnessArgs{}
	if len(tx.Witnesses[first]) > 0 {
		parsed, err := ckb.ParseWitnessArgs(tx.Witnesses[first])
		if err != nil {
			return nil, omnilock.NewError(omnilock.CodeMalformedWitness, err, "witness %d", first)
		}
		args = parsed
	}
	before := args.Lock
	if before == nil {
		args.Lock = omnilock.Placeholder(cfg)
		tx.Witnesses[first] = args.Serialize()
	}

	wl, err := omnilock.DecodeWitnessLock(cfg, args.Lock)
	if err != nil {
		return nil, err
	}
	digest, err := cfg.SigningDigest(tx, g.Inputs)
	if err != nil {
		return nil, err
	}

	for _, k := range ks {
		slot := cfg.SlotIndex(k.PublicKey())
		sig, err := k.SignRecoverable(digest)
		if err != nil {
			return nil, errors.Wrapf(err, "sign group of input %d", first)
		}
		copy(wl.Slots[slot][:], sig)
		s.logger.Debug("slot signed", "input", first, "slot", slot)
	}

	args.Lock = wl.Encode()
	tx.Witnesses[first] = args.Serialize()

	if err := omnilock.VerifySlots(args.Lock, cfg, digest); err != nil {
		return nil, err
	}
	progress, err := omnilock.Assess(args.Lock, cfg)
	if err != nil {
		return nil, err
	}
	s.logger.Info("group signed", "input", first, "progress", progress.String())

	return &GroupResult{
		Group:    g,
		Changed:  !bytes.Equal(before, args.Lock),
		Progress: progress,
	}, nil
}

// checkStillLocked rejects a round where a group left locked carries a lock
// that is complete under the current scheme. That only happens when the
// scheme was changed after the lock was filled.
func (s *Signer) checkStillLocked(tx *ckb.Transaction, cfg *omnilock.Config, locked []ScriptGroup) error {
	for _, g := range locked {
		if g.Lock.CodeHash != s.typeHash || g.Inputs[0] >= len(tx.Witnesses) {
			continue
		}
		raw, err := omnilock.LockFromWitness(tx.Witnesses[g.Inputs[0]])
		if err != nil || raw == nil {
			continue
		}
		p, err := omnilock.Assess(raw, cfg)
		if err != nil {
			continue
		}
		if p.Complete() {
			return omnilock.NewError(omnilock.CodeInconsistentState, nil,
				"input %d has a complete lock for this scheme but its lock script 0x%x is not the scheme's",
				g.Inputs[0], g.Lock.Args)
		}
	}
	return nil
}
