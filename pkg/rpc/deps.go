package rpc

import (
	"context"

	"github.com/pkg/errors"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
)

// ScriptInfo locates a deployed script: the type hash used as code hash of
// its scripts and the cell dep that loads its code.
type ScriptInfo struct {
	TypeHash ckb.Hash
	CellDep  ckb.CellDep
}

// OmniLockCellDep resolves the OmniLock deployment at txHash:index. The
// deployment cell must carry a type script (type id), whose hash is the
// OmniLock code hash.
func (c *Client) OmniLockCellDep(ctx context.Context, txHash ckb.Hash, index uint32) (*ScriptInfo, error) {
	outPoint := ckb.OutPoint{TxHash: txHash, Index: index}
	cell, err := c.GetLiveCell(ctx, outPoint, false)
	if err != nil {
		return nil, errors.Wrap(err, "locate omnilock deployment")
	}
	if cell.Output.Type == nil {
		return nil, errors.Errorf("omnilock deployment %s has no type script", outPoint)
	}
	return &ScriptInfo{
		TypeHash: cell.Output.Type.Hash(),
		CellDep:  ckb.CellDep{OutPoint: outPoint, DepType: ckb.DepTypeCode},
	}, nil
}

// Genesis system cell locations: (transaction, output).
const (
	genesisSighashCode   = 1 // tx 0
	genesisDAOCode       = 2 // tx 0
	genesisSecp256k1Data = 3 // tx 0
	genesisMultisigCode  = 4 // tx 0
	genesisSighashGroup  = 0 // tx 1
	genesisMultisigGroup = 1 // tx 1
)

// SystemCells are the well-known scripts deployed in the genesis block.
type SystemCells struct {
	Sighash       ScriptInfo  // secp256k1/blake160 sighash lock (dep group)
	Multisig      ScriptInfo  // secp256k1/blake160 multisig lock (dep group)
	DAO           ScriptInfo  // Nervos DAO type script (code)
	Secp256k1Data ckb.CellDep // secp256k1 precomputed table, needed by OmniLock
}

// GenesisCellDeps reads the system cells from the genesis block.
func (c *Client) GenesisCellDeps(ctx context.Context) (*SystemCells, error) {
	block, err := c.GetBlockByNumber(ctx, 0)
	if err != nil {
		return nil, errors.Wrap(err, "load genesis block")
	}
	return SystemCellsFromGenesis(block)
}

// SystemCellsFromGenesis extracts the system cells from the genesis block.
func SystemCellsFromGenesis(block *Block) (*SystemCells, error) {
	if len(block.Transactions) < 2 {
		return nil, errors.Errorf("genesis block has %d transactions, expected at least 2", len(block.Transactions))
	}
	cellbase, depGroups := block.Transactions[0], block.Transactions[1]
	if len(cellbase.Outputs) <= genesisMultisigCode || len(depGroups.Outputs) <= genesisMultisigGroup {
		return nil, errors.New("genesis block does not contain the system cells")
	}

	typeHash := func(i int) (ckb.Hash, error) {
		t := cellbase.Outputs[i].Type
		if t == nil {
			return ckb.Hash{}, errors.Errorf("genesis output %d has no type script", i)
		}
		return t.Hash(), nil
	}
	sighashHash, err := typeHash(genesisSighashCode)
	if err != nil {
		return nil, err
	}
	multisigHash, err := typeHash(genesisMultisigCode)
	if err != nil {
		return nil, err
	}
	daoHash, err := typeHash(genesisDAOCode)
	if err != nil {
		return nil, err
	}

	cellbaseHash, depGroupHash := cellbase.Hash(), depGroups.Hash()
	return &SystemCells{
		Sighash: ScriptInfo{
			TypeHash: sighashHash,
			CellDep:  ckb.CellDep{OutPoint: ckb.OutPoint{TxHash: depGroupHash, Index: genesisSighashGroup}, DepType: ckb.DepTypeDepGroup},
		},
		Multisig: ScriptInfo{
			TypeHash: multisigHash,
			CellDep:  ckb.CellDep{OutPoint: ckb.OutPoint{TxHash: depGroupHash, Index: genesisMultisigGroup}, DepType: ckb.DepTypeDepGroup},
		},
		DAO: ScriptInfo{
			TypeHash: daoHash,
			CellDep:  ckb.CellDep{OutPoint: ckb.OutPoint{TxHash: cellbaseHash, Index: genesisDAOCode}, DepType: ckb.DepTypeCode},
		},
		Secp256k1Data: ckb.CellDep{OutPoint: ckb.OutPoint{TxHash: cellbaseHash, Index: genesisSecp256k1Data}, DepType: ckb.DepTypeCode},
	}, nil
}

// CellDepFor returns the cell dep that loads lock, if it is a system lock.
func (s *SystemCells) CellDepFor(lock *ckb.Script) (ckb.CellDep, bool) {
	if lock.HashType != ckb.HashTypeType {
		return ckb.CellDep{}, false
	}
	switch lock.CodeHash {
	case s.Sighash.TypeHash:
		return s.Sighash.CellDep, true
	case s.Multisig.TypeHash:
		return s.Multisig.CellDep, true
	}
	return ckb.CellDep{}, false
}
