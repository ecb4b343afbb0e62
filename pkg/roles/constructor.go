package roles

import (
	"context"

	"cosmossdk.io/log"
	"github.com/pkg/errors"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
	"github.com/suffix-labs/ckb-omnilock/pkg/envelope"
	"github.com/suffix-labs/ckb-omnilock/pkg/omnilock"
	"github.com/suffix-labs/ckb-omnilock/pkg/rpc"
)

// ErrSigned is returned when an envelope that already carries signatures
// would be modified.
var ErrSigned = errors.New("envelope already carries signatures")

// LiveCellFetcher looks up live cells. It is satisfied by rpc.Client.
type LiveCellFetcher interface {
	GetLiveCell(ctx context.Context, outPoint ckb.OutPoint, withData bool) (*ckb.Cell, error)
}

// Constructor adds inputs and outputs to an unsigned envelope.
//
// Inputs and outputs are part of the signed message, so once any slot is
// filled the envelope is frozen and both operations fail with ErrSigned.
type Constructor struct {
	logger log.Logger
	chain  LiveCellFetcher
	deploy Deployment
	system *rpc.SystemCells
}

// NewConstructor creates a Constructor. system provides the cell deps of
// inputs locked by the genesis sighash and multisig locks.
func NewConstructor(logger log.Logger, chain LiveCellFetcher, deploy Deployment, system *rpc.SystemCells) *Constructor {
	return &Constructor{
		logger: logger.With("module", "constructor"),
		chain:  chain,
		deploy: deploy,
		system: system,
	}
}

// AddInput spends the live cell at outPoint and adds the cell deps its lock
// needs. The first input under the envelope's scheme gets the placeholder
// witness.
func (c *Constructor) AddInput(ctx context.Context, env *envelope.Envelope, outPoint ckb.OutPoint, since uint64) error {
	if env.HasSignature() {
		return ErrSigned
	}
	tx := env.Transaction
	for _, in := range tx.Inputs {
		if in.PreviousOutput == outPoint {
			return errors.Errorf("input %s is already present", outPoint)
		}
	}

	cell, err := c.chain.GetLiveCell(ctx, outPoint, false)
	if err != nil {
		return err
	}
	deps, err := c.cellDepsFor(&cell.Output.Lock)
	if err != nil {
		return errors.Wrapf(err, "input %s", outPoint)
	}

	witness := []byte{}
	schemeLock := env.Config.LockScript(c.deploy.OmniLock.TypeHash)
	if cell.Output.Lock.Equal(&schemeLock) && !hasSchemeLock(env) {
		witness = omnilock.PlaceholderWitness(env.Config)
	}

	idx := len(tx.Inputs)
	tx.Inputs = append(tx.Inputs, ckb.CellInput{Since: since, PreviousOutput: outPoint})
	for _, d := range deps {
		tx.AddCellDep(d)
	}
	for len(tx.Witnesses) < idx {
		tx.Witnesses = append(tx.Witnesses, []byte{})
	}
	tx.Witnesses = append(tx.Witnesses[:idx], append([][]byte{witness}, tx.Witnesses[idx:]...)...)

	c.logger.Info("input added", "out_point", outPoint.String(), "capacity", cell.Output.Capacity)
	return nil
}

// AddOutput appends an output paying capacity to lock.
func (c *Constructor) AddOutput(env *envelope.Envelope, lock ckb.Script, capacity uint64, data []byte) error {
	if env.HasSignature() {
		return ErrSigned
	}
	out := ckb.CellOutput{Capacity: capacity, Lock: lock}
	if occupied := out.OccupiedCapacity(len(data)); capacity < occupied {
		return errors.Errorf("capacity %d is below the %d shannons the cell occupies", capacity, occupied)
	}
	if data == nil {
		data = []byte{}
	}
	env.Transaction.Outputs = append(env.Transaction.Outputs, out)
	env.Transaction.OutputsData = append(env.Transaction.OutputsData, data)
	c.logger.Info("output added", "capacity", capacity)
	return nil
}

func (c *Constructor) cellDepsFor(lock *ckb.Script) ([]ckb.CellDep, error) {
	if lock.HashType == ckb.HashTypeType && lock.CodeHash == c.deploy.OmniLock.TypeHash {
		return c.deploy.CellDeps(), nil
	}
	if c.system != nil {
		if dep, ok := c.system.CellDepFor(lock); ok {
			return []ckb.CellDep{dep}, nil
		}
	}
	return nil, errors.Errorf("no cell dep known for lock code hash %s", lock.CodeHash)
}

// hasSchemeLock reports whether a witness already holds a lock field of the
// envelope's scheme.
func hasSchemeLock(env *envelope.Envelope) bool {
	for _, w := range env.Transaction.Witnesses {
		raw, err := omnilock.LockFromWitness(w)
		if err != nil || raw == nil {
			continue
		}
		if _, err := omnilock.DecodeWitnessLock(env.Config, raw); err == nil {
			return true
		}
	}
	return false
}
