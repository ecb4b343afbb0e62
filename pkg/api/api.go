// Package api is the high-level entry point used by the CLI.
//
// Every command of omnilock-cli maps to one Service method. A method loads
// the envelope from the Store, runs one role from package roles on it and
// saves the result under the version it was loaded at, so a command either
// fully applies or leaves the stored envelope untouched:
//
//  1. GenerateTx - builds a balanced transfer from an OmniLock sender
//  2. AddInput / AddOutput - edits an unsigned envelope
//  3. BuildMultisigAddress - derives the address of a multisig config
//  4. Sign - runs one signing round with a key provider
//  5. Combine - merges envelopes signed in parallel
//  6. Status - reports the signing progress of every script group
//  7. ExportTx - writes the ckb-cli tx-info file
//  8. Send - finalizes and submits the transaction
//  9. CheckConfig - checks the configured deployment against the chain
package api

import (
	"context"
	"fmt"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/suffix-labs/ckb-omnilock/pkg/address"
	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
	"github.com/suffix-labs/ckb-omnilock/pkg/config"
	"github.com/suffix-labs/ckb-omnilock/pkg/envelope"
	"github.com/suffix-labs/ckb-omnilock/pkg/keys"
	"github.com/suffix-labs/ckb-omnilock/pkg/omnilock"
	"github.com/suffix-labs/ckb-omnilock/pkg/roles"
	"github.com/suffix-labs/ckb-omnilock/pkg/rpc"
)

// Chain is the part of the node RPC the service uses. It is satisfied by
// rpc.Client.
type Chain interface {
	roles.LiveCellFetcher
	OmniLockCellDep(ctx context.Context, txHash ckb.Hash, index uint32) (*rpc.ScriptInfo, error)
	GenesisCellDeps(ctx context.Context) (*rpc.SystemCells, error)
	SendTransaction(ctx context.Context, tx *ckb.Transaction) (ckb.Hash, error)
}

// Sign outcomes that leave the envelope unchanged.
var (
	ErrNotSigned     = errors.New("failed to sign the transaction")
	ErrAlreadySigned = errors.New("you may have signed a second time with the same private key")
)

// Service runs the CLI operations against one configuration.
type Service struct {
	logger    log.Logger
	cfg       *config.Config
	chain     Chain
	resolver  roles.CellResolver
	collector roles.CellCollector
	store     envelope.Store
}

// New creates a Service.
func New(logger log.Logger, cfg *config.Config, chain Chain, resolver roles.CellResolver,
	collector roles.CellCollector, store envelope.Store) *Service {
	return &Service{
		logger:    logger.With("module", "api"),
		cfg:       cfg,
		chain:     chain,
		resolver:  resolver,
		collector: collector,
		store:     store,
	}
}

// deployment locates the OmniLock script and the genesis system cells.
func (s *Service) deployment(ctx context.Context) (roles.Deployment, *rpc.SystemCells, error) {
	var (
		info   *rpc.ScriptInfo
		system *rpc.SystemCells
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, err = s.chain.OmniLockCellDep(gctx, s.cfg.OmniLockTxHash, s.cfg.OmniLockIndex)
		return err
	})
	g.Go(func() error {
		var err error
		system, err = s.chain.GenesisCellDeps(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return roles.Deployment{}, nil, err
	}
	return roles.Deployment{OmniLock: *info, Secp256k1Data: system.Secp256k1Data}, system, nil
}

func (s *Service) omnilockTypeHash(ctx context.Context) (ckb.Hash, error) {
	info, err := s.chain.OmniLockCellDep(ctx, s.cfg.OmniLockTxHash, s.cfg.OmniLockIndex)
	if err != nil {
		return ckb.Hash{}, err
	}
	return info.TypeHash, nil
}

// MultisigConfig builds a multisig config from the sighash addresses of its
// members.
func MultisigConfig(members []string, requireFirstN, threshold uint8) (*omnilock.MultisigConfig, error) {
	hashes := make([][20]byte, 0, len(members))
	for _, m := range members {
		h, _, err := address.ParseSighashAddress(m)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return omnilock.NewMultisigConfig(hashes, requireFirstN, threshold)
}

// ============================================================================
// GenerateTx
// ============================================================================

// Receiver is one output of a generated transfer.
type Receiver struct {
	Address  string
	Capacity uint64 // shannons
}

// GenerateRequest describes a transfer from the OmniLock cells of Config.
type GenerateRequest struct {
	Config    *omnilock.Config
	Receivers []Receiver
	FeeRate   uint64 // shannons per 1000 bytes, 0 for the default
}

// GenerateTx creates an unsigned envelope and stores it under ref. An
// existing envelope under ref is never overwritten. It returns the ref the
// envelope was stored under.
func (s *Service) GenerateTx(ctx context.Context, ref string, req GenerateRequest) (string, error) {
	transfers := make([]roles.Transfer, 0, len(req.Receivers))
	for _, r := range req.Receivers {
		addr, err := address.Parse(r.Address)
		if err != nil {
			return "", err
		}
		transfers = append(transfers, roles.Transfer{Receiver: addr.Script, Capacity: r.Capacity})
	}

	deploy, _, err := s.deployment(ctx)
	if err != nil {
		return "", err
	}
	creator := roles.NewCreator(s.logger, s.collector, deploy)
	if req.FeeRate != 0 {
		creator.WithFeeRate(req.FeeRate)
	}
	env, err := creator.Create(ctx, req.Config, transfers)
	if err != nil {
		return "", errors.Wrap(err, "generate transaction")
	}
	ref, _, err = s.store.Save(ctx, ref, env, envelope.NoVersion)
	if err != nil {
		return "", err
	}
	s.logger.Info("transaction generated", "ref", ref, "hash", env.Hash().String())
	return ref, nil
}

// ============================================================================
// AddInput / AddOutput
// ============================================================================

// AddInput adds the live cell at outPoint to the envelope under ref.
func (s *Service) AddInput(ctx context.Context, ref string, outPoint ckb.OutPoint, since uint64) (string, error) {
	env, version, err := s.store.Load(ctx, ref)
	if err != nil {
		return "", err
	}
	deploy, system, err := s.deployment(ctx)
	if err != nil {
		return "", err
	}
	if err := roles.NewConstructor(s.logger, s.chain, deploy, system).AddInput(ctx, env, outPoint, since); err != nil {
		return "", err
	}
	ref, _, err = s.store.Save(ctx, ref, env, version)
	return ref, err
}

// AddOutput adds an output paying capacity shannons to addr.
func (s *Service) AddOutput(ctx context.Context, ref string, addr string, capacity uint64) (string, error) {
	to, err := address.Parse(addr)
	if err != nil {
		return "", err
	}
	env, version, err := s.store.Load(ctx, ref)
	if err != nil {
		return "", err
	}
	constructor := roles.NewConstructor(s.logger, s.chain, roles.Deployment{}, nil)
	if err := constructor.AddOutput(env, to.Script, capacity, nil); err != nil {
		return "", err
	}
	ref, _, err = s.store.Save(ctx, ref, env, version)
	return ref, err
}

// ============================================================================
// BuildMultisigAddress
// ============================================================================

// AddressInfo describes the lock script of an OmniLock config.
type AddressInfo struct {
	Mainnet  string `json:"mainnet"`
	Testnet  string `json:"testnet"`
	LockArg  string `json:"lock-arg"`
	LockHash string `json:"lock-hash"`
}

// BuildMultisigAddress returns the addresses of the OmniLock multisig lock
// for m.
func (s *Service) BuildMultisigAddress(ctx context.Context, m *omnilock.MultisigConfig) (*AddressInfo, error) {
	cfg, err := omnilock.NewMultisigScheme(m)
	if err != nil {
		return nil, err
	}
	typeHash, err := s.omnilockTypeHash(ctx)
	if err != nil {
		return nil, err
	}
	lock := cfg.LockScript(typeHash)
	mainnet, err := address.Encode(address.Mainnet, lock)
	if err != nil {
		return nil, err
	}
	testnet, err := address.Encode(address.Testnet, lock)
	if err != nil {
		return nil, err
	}
	return &AddressInfo{
		Mainnet:  mainnet,
		Testnet:  testnet,
		LockArg:  hexutil.Encode(lock.Args),
		LockHash: lock.Hash().String(),
	}, nil
}

// ============================================================================
// Sign
// ============================================================================

// SignOutcome is the result of a successful signing round.
type SignOutcome struct {
	Ref     string
	Message string
	Round   *roles.RoundResult
}

// Sign runs one signing round with the keys of provider on the envelope
// under ref and stores the result. Nothing is stored when the round fails
// or does not change the envelope.
func (s *Service) Sign(ctx context.Context, ref string, provider keys.Provider) (*SignOutcome, error) {
	env, version, err := s.store.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	typeHash, err := s.omnilockTypeHash(ctx)
	if err != nil {
		return nil, err
	}
	round, err := roles.NewSigner(s.logger, s.resolver, typeHash).SignRound(ctx, env, provider)
	if err != nil {
		return nil, err
	}
	msg, err := signMessage(env.Config, round)
	if err != nil {
		return nil, err
	}
	ref, _, err = s.store.Save(ctx, ref, round.Envelope, version)
	if err != nil {
		return nil, err
	}
	return &SignOutcome{Ref: ref, Message: msg, Round: round}, nil
}

// CheckScheme fails unless the envelope under ref uses the identity scheme
// flag.
func (s *Service) CheckScheme(ctx context.Context, ref string, flag omnilock.IdentityFlag) error {
	env, _, err := s.store.Load(ctx, ref)
	if err != nil {
		return err
	}
	if got := env.Config.ID.Flag; got != flag {
		return omnilock.NewError(omnilock.CodeConfigError, nil, "transaction uses the %s scheme, not %s", got, flag)
	}
	return nil
}

func signMessage(cfg *omnilock.Config, round *roles.RoundResult) (string, error) {
	if len(round.Signed) == 0 {
		return "", errors.Wrap(ErrNotSigned, "no input is locked by the omnilock config")
	}
	changed := false
	for _, g := range round.Signed {
		changed = changed || g.Changed
	}
	if !changed {
		for _, g := range round.Signed {
			if g.Progress.State != omnilock.StatePlaceholder {
				return "", ErrAlreadySigned
			}
		}
		return "", ErrNotSigned
	}
	if len(round.StillLocked) > 0 {
		return fmt.Sprintf("%d groups left to sign!", len(round.StillLocked)), nil
	}

	need := 0
	for _, g := range round.Signed {
		if n := g.Progress.NeedMore(); n > need {
			need = n
		}
	}
	if need == 0 {
		return "transaction signed!", nil
	}
	if cfg.Multisig == nil {
		return "", ErrNotSigned
	}
	return fmt.Sprintf("%d more signature(s) needed!", need), nil
}

// ============================================================================
// Combine
// ============================================================================

// Combine merges the envelopes under refs into the envelope under out. An
// envelope already stored under out takes part in the merge.
func (s *Service) Combine(ctx context.Context, refs []string, out string) (string, error) {
	var (
		envs     []*envelope.Envelope
		expected = envelope.NoVersion
	)
	current, version, err := s.store.Load(ctx, out)
	switch {
	case err == nil:
		envs = append(envs, current)
		expected = version
	case !errors.Is(err, envelope.ErrNotFound):
		return "", err
	}
	for _, ref := range refs {
		if ref == out && current != nil {
			continue
		}
		env, _, err := s.store.Load(ctx, ref)
		if err != nil {
			return "", err
		}
		envs = append(envs, env)
	}

	merged, err := roles.NewCombiner(envs).Combine()
	if err != nil {
		return "", err
	}
	out, _, err = s.store.Save(ctx, out, merged, expected)
	if err != nil {
		return "", err
	}
	s.logger.Info("envelopes combined", "count", len(envs), "ref", out)
	return out, nil
}

// ============================================================================
// Status
// ============================================================================

// GroupStatus is the signing state of one script group.
type GroupStatus struct {
	Lock     ckb.Script
	Inputs   []int
	Owned    bool // locked by the envelope's OmniLock config
	Progress omnilock.Progress
}

// Status reports the state of every script group of an envelope.
type Status struct {
	Hash   ckb.Hash
	Groups []GroupStatus
}

// Complete reports whether every group owned by the config is complete.
func (st *Status) Complete() bool {
	for _, g := range st.Groups {
		if g.Owned && !g.Progress.Complete() {
			return false
		}
	}
	return true
}

// Status returns the signing progress of the envelope under ref.
func (s *Service) Status(ctx context.Context, ref string) (*Status, error) {
	env, _, err := s.store.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	typeHash, err := s.omnilockTypeHash(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := roles.GroupInputs(ctx, s.resolver, env.Transaction)
	if err != nil {
		return nil, err
	}

	lock := env.Config.LockScript(typeHash)
	st := &Status{Hash: env.Hash()}
	for _, g := range groups {
		gs := GroupStatus{Lock: g.Lock, Inputs: g.Inputs, Owned: g.Lock.Equal(&lock)}
		if gs.Owned {
			raw, err := env.LockAt(g.Inputs[0])
			if err != nil {
				return nil, err
			}
			if raw == nil {
				raw = omnilock.Placeholder(env.Config)
			}
			if gs.Progress, err = omnilock.Assess(raw, env.Config); err != nil {
				return nil, errors.Wrapf(err, "input %d", g.Inputs[0])
			}
		}
		st.Groups = append(st.Groups, gs)
	}
	return st, nil
}

// ============================================================================
// ExportTx
// ============================================================================

// ExportTx returns the ckb-cli tx-info encoding of the envelope under ref.
func (s *Service) ExportTx(ctx context.Context, ref string) ([]byte, error) {
	env, _, err := s.store.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return roles.NewExporter(env).Export()
}

// ============================================================================
// Send
// ============================================================================

// Send checks that the envelope under ref is fully signed and submits its
// transaction.
func (s *Service) Send(ctx context.Context, ref string) (ckb.Hash, error) {
	env, _, err := s.store.Load(ctx, ref)
	if err != nil {
		return ckb.Hash{}, err
	}
	typeHash, err := s.omnilockTypeHash(ctx)
	if err != nil {
		return ckb.Hash{}, err
	}
	tx, err := roles.NewFinalizer(s.resolver, typeHash).Finalize(ctx, env)
	if err != nil {
		return ckb.Hash{}, err
	}
	hash, err := s.chain.SendTransaction(ctx, tx)
	if err != nil {
		return ckb.Hash{}, errors.Wrap(err, "send transaction")
	}
	s.logger.Info("transaction sent", "hash", hash.String())
	return hash, nil
}

// ============================================================================
// CheckConfig
// ============================================================================

// CheckConfig checks that the configured OmniLock deployment and the
// genesis system cells can be loaded.
func (s *Service) CheckConfig(ctx context.Context) (*roles.Deployment, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	deploy, _, err := s.deployment(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "check omnilock deployment")
	}
	return &deploy, nil
}
