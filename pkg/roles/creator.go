// Package roles implements the stages an OmniLock transaction goes through.
//
// Each stage is a role that can run in a different process, or on a
// different machine, with the envelope as the only state passed between
// them:
//   - Creator: builds a balanced transfer with placeholder witnesses
//   - Constructor: adds inputs and outputs to an unsigned envelope
//   - Signer: fills signature slots with the keys of one signer
//   - Combiner: merges envelopes signed in parallel
//   - Finalizer: checks that every group is authorized before submission
//   - Exporter: converts the envelope to the ckb-cli tx-info format
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

// DefaultFeeRate is the fee rate in shannons per 1000 bytes.
const DefaultFeeRate uint64 = 1000

// maxBalanceRounds bounds the collect/estimate loop of Create.
const maxBalanceRounds = 8

// ErrInsufficientCapacity is returned when the sender cannot pay for the
// outputs plus the fee and a change cell.
var ErrInsufficientCapacity = errors.New("insufficient capacity")

// CellCollector finds spendable capacity cells. It is satisfied by
// rpc.Collector.
type CellCollector interface {
	CollectCells(ctx context.Context, lock ckb.Script, minCapacity uint64, exclude map[ckb.OutPoint]bool) ([]ckb.Cell, error)
}

// Deployment is where the OmniLock script and its dependencies live on chain.
type Deployment struct {
	OmniLock      rpc.ScriptInfo
	Secp256k1Data ckb.CellDep
}

// CellDeps returns the cell deps every OmniLock input needs.
func (d Deployment) CellDeps() []ckb.CellDep {
	return []ckb.CellDep{d.OmniLock.CellDep, d.Secp256k1Data}
}

// Transfer is one receiver output.
type Transfer struct {
	Receiver ckb.Script
	Capacity uint64 // shannons
}

// Creator builds a capacity transfer from an OmniLock sender.
//
// The transaction spends cells of the scheme's lock script, pays every
// transfer and returns the rest to the sender in a change output. All inputs
// form one script group whose first witness holds the placeholder lock, so
// the size (and fee) is the size of the signed transaction.
type Creator struct {
	logger    log.Logger
	collector CellCollector
	deploy    Deployment
	feeRate   uint64
}

// NewCreator creates a Creator.
func NewCreator(logger log.Logger, collector CellCollector, deploy Deployment) *Creator {
	return &Creator{
		logger:    logger.With("module", "creator"),
		collector: collector,
		deploy:    deploy,
		feeRate:   DefaultFeeRate,
	}
}

// WithFeeRate sets the fee rate in shannons per 1000 bytes.
func (c *Creator) WithFeeRate(rate uint64) *Creator {
	c.feeRate = rate
	return c
}

// FeeFor returns the fee for a transaction of serializedSize bytes, rounded
// up.
func FeeFor(serializedSize int, feeRate uint64) uint64 {
	return (uint64(serializedSize)*feeRate + 999) / 1000
}

// Create returns an unsigned envelope paying transfers from cfg's lock.
func (c *Creator) Create(ctx context.Context, cfg *omnilock.Config, transfers []Transfer) (*envelope.Envelope, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.IsOpentx() {
		return nil, omnilock.NewError(omnilock.CodeConfigError, nil, "generating open transactions is not supported")
	}
	if len(transfers) == 0 {
		return nil, errors.New("no receivers")
	}

	sender := cfg.LockScript(c.deploy.OmniLock.TypeHash)
	var (
		outputs     []ckb.CellOutput
		outputsData [][]byte
		total       uint64
	)
	for i, t := range transfers {
		out := ckb.CellOutput{Capacity: t.Capacity, Lock: t.Receiver}
		if occupied := out.OccupiedCapacity(0); t.Capacity < occupied {
			return nil, errors.Errorf("output %d: capacity %d is below the %d shannons the cell occupies", i, t.Capacity, occupied)
		}
		outputs = append(outputs, out)
		outputsData = append(outputsData, []byte{})
		total += t.Capacity
	}

	change := ckb.CellOutput{Lock: sender}
	changeMin := change.OccupiedCapacity(0)

	var fee uint64
	for round := 0; round < maxBalanceRounds; round++ {
		need := total + fee + changeMin
		cells, err := c.collector.CollectCells(ctx, sender, need, nil)
		if err != nil {
			return nil, err
		}
		var inCap uint64
		for _, cell := range cells {
			inCap += cell.Output.Capacity
		}
		if inCap < need {
			return nil, errors.Wrapf(ErrInsufficientCapacity, "have %d shannons, need %d", inCap, need)
		}

		tx := c.build(cfg, cells, outputs, outputsData, change)
		fee = FeeFor(tx.SerializedSize(), c.feeRate)
		rest := inCap - total
		if rest < fee+changeMin {
			c.logger.Debug("fee grew past collected capacity, collecting again", "fee", fee, "round", round)
			continue
		}
		tx.Outputs[len(tx.Outputs)-1].Capacity = rest - fee
		c.logger.Info("transaction created", "inputs", len(tx.Inputs), "fee", fee, "change", rest-fee)
		return envelope.New(tx, cfg)
	}
	return nil, errors.New("could not balance the transaction")
}

func (c *Creator) build(cfg *omnilock.Config, cells []ckb.Cell, outputs []ckb.CellOutput, outputsData [][]byte, change ckb.CellOutput) *ckb.Transaction {
	tx := &ckb.Transaction{
		CellDeps:    c.deploy.CellDeps(),
		HeaderDeps:  []ckb.Hash{},
		Outputs:     append(append([]ckb.CellOutput{}, outputs...), change),
		OutputsData: append(append([][]byte{}, outputsData...), []byte{}),
	}
	for i, cell := range cells {
		tx.Inputs = append(tx.Inputs, ckb.CellInput{PreviousOutput: cell.OutPoint})
		if i == 0 {
			tx.Witnesses = append(tx.Witnesses, omnilock.PlaceholderWitness(cfg))
		} else {
			tx.Witnesses = append(tx.Witnesses, []byte{})
		}
	}
	return tx
}
