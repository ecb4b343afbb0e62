// Package ckb implements the CKB transaction primitives needed to build and
// sign OmniLock transactions.
//
// The types mirror the on-chain molecule schema (blockchain.mol):
//   - Script, OutPoint, CellInput, CellOutput, CellDep
//   - RawTransaction / Transaction
//   - WitnessArgs
//
// Binary encoding lives in molecule.go, the node's JSON representation in
// json.go and hashing in hash.go.
package ckb

import (
	"bytes"
	"fmt"
)

// Hash is a 32-byte blake2b digest (transaction hash, script hash, code hash).
type Hash [32]byte

// HashType selects how a script's code hash is matched against cell deps.
type HashType byte

// Script hash types as serialized on chain.
const (
	HashTypeData  HashType = 0x00 // code hash is the data hash of the code cell
	HashTypeType  HashType = 0x01 // code hash is the type script hash of the code cell
	HashTypeData1 HashType = 0x02 // data hash, VM version 1
	HashTypeData2 HashType = 0x04 // data hash, VM version 2
)

// DepType tells the node how to load a cell dep.
type DepType byte

// Cell dep types as serialized on chain.
const (
	DepTypeCode     DepType = 0x00
	DepTypeDepGroup DepType = 0x01
)

// Capacity units.
const (
	ShannonsPerCKB uint64 = 100_000_000
)

// SighashTypeHash is the type hash of the genesis secp256k1/blake160 sighash
// lock. Multisig members are given as addresses of this lock.
var SighashTypeHash = Hash{
	0x9b, 0xd7, 0xe0, 0x6f, 0x3e, 0xcf, 0x4b, 0xe0,
	0xf2, 0xfc, 0xd2, 0x18, 0x8b, 0x23, 0xf1, 0xb9,
	0xfc, 0xc8, 0x8e, 0x5d, 0x4b, 0x65, 0xa8, 0x63,
	0x7b, 0x17, 0x72, 0x3b, 0xbd, 0xa3, 0xcc, 0xe8,
}

// MultisigTypeHash is the type hash of the genesis secp256k1/blake160
// multisig lock.
var MultisigTypeHash = Hash{
	0x5c, 0x50, 0x69, 0xeb, 0x08, 0x57, 0xef, 0xc6,
	0x5e, 0x1b, 0xca, 0x0c, 0x07, 0xdf, 0x34, 0xc3,
	0x16, 0x63, 0xb3, 0x62, 0x2f, 0xd3, 0x87, 0x6c,
	0x87, 0x63, 0x20, 0xfc, 0x96, 0x34, 0xe2, 0xa8,
}

// Script is a lock or type script.
type Script struct {
	CodeHash Hash
	HashType HashType
	Args     []byte
}

// Equal reports whether two scripts are identical.
func (s *Script) Equal(other *Script) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.CodeHash == other.CodeHash &&
		s.HashType == other.HashType &&
		bytes.Equal(s.Args, other.Args)
}

// OccupiedCapacity returns the bytes (in shannons) a script occupies in a cell.
func (s *Script) OccupiedCapacity() uint64 {
	return uint64(32+1+len(s.Args)) * ShannonsPerCKB
}

// OutPoint references an output of a previous transaction.
type OutPoint struct {
	TxHash Hash
	Index  uint32
}

func (o OutPoint) String() string {
	return fmt.Sprintf("0x%x:%d", o.TxHash[:], o.Index)
}

// CellInput is a transaction input.
type CellInput struct {
	Since          uint64
	PreviousOutput OutPoint
}

// CellOutput is a transaction output.
type CellOutput struct {
	Capacity uint64 // shannons
	Lock     Script
	Type     *Script // nil when the cell has no type script
}

// OccupiedCapacity returns the minimal capacity (in shannons) a cell with
// this output and dataLen bytes of data needs.
func (o *CellOutput) OccupiedCapacity(dataLen int) uint64 {
	occupied := uint64(8+dataLen)*ShannonsPerCKB + o.Lock.OccupiedCapacity()
	if o.Type != nil {
		occupied += o.Type.OccupiedCapacity()
	}
	return occupied
}

// CellDep is a dependency cell (script code or dep group).
type CellDep struct {
	OutPoint OutPoint
	DepType  DepType
}

// Transaction is a full CKB transaction including witnesses.
type Transaction struct {
	Version     uint32
	CellDeps    []CellDep
	HeaderDeps  []Hash
	Inputs      []CellInput
	Outputs     []CellOutput
	OutputsData [][]byte
	Witnesses   [][]byte
}

// Clone returns a deep copy of the transaction.
func (tx *Transaction) Clone() *Transaction {
	out := &Transaction{
		Version:     tx.Version,
		CellDeps:    append([]CellDep(nil), tx.CellDeps...),
		HeaderDeps:  append([]Hash(nil), tx.HeaderDeps...),
		Inputs:      append([]CellInput(nil), tx.Inputs...),
		Outputs:     make([]CellOutput, len(tx.Outputs)),
		OutputsData: cloneBytesVec(tx.OutputsData),
		Witnesses:   cloneBytesVec(tx.Witnesses),
	}
	for i, o := range tx.Outputs {
		out.Outputs[i] = CellOutput{
			Capacity: o.Capacity,
			Lock:     cloneScript(o.Lock),
		}
		if o.Type != nil {
			t := cloneScript(*o.Type)
			out.Outputs[i].Type = &t
		}
	}
	return out
}

// HasCellDep reports whether dep is already present.
func (tx *Transaction) HasCellDep(dep CellDep) bool {
	for _, d := range tx.CellDeps {
		if d == dep {
			return true
		}
	}
	return false
}

// AddCellDep appends dep unless it is already present.
func (tx *Transaction) AddCellDep(dep CellDep) {
	if !tx.HasCellDep(dep) {
		tx.CellDeps = append(tx.CellDeps, dep)
	}
}

// Cell is a cell with the out point that created it.
type Cell struct {
	OutPoint OutPoint
	Output   CellOutput
	Data     []byte
}

// WitnessArgs is the conventional witness structure. A nil field is
// serialized as None, an empty non-nil slice as Some(empty).
type WitnessArgs struct {
	Lock       []byte
	InputType  []byte
	OutputType []byte
}

func cloneScript(s Script) Script {
	return Script{
		CodeHash: s.CodeHash,
		HashType: s.HashType,
		Args:     append([]byte{}, s.Args...),
	}
}

func cloneBytesVec(v [][]byte) [][]byte {
	if v == nil {
		return nil
	}
	out := make([][]byte, len(v))
	for i, b := range v {
		out[i] = append([]byte{}, b...)
	}
	return out
}
