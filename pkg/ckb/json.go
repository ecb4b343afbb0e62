package ckb

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// The node's JSON representation: quantities are 0x-prefixed hex without
// leading zeros, byte strings are 0x-prefixed hex, enums are lower-case names.

// MarshalText encodes the hash as 0x-prefixed hex.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(hexutil.Encode(h[:])), nil
}

// UnmarshalText decodes a 0x-prefixed 32-byte hex string.
func (h *Hash) UnmarshalText(text []byte) error {
	b, err := hexutil.Decode(string(text))
	if err != nil {
		return errors.Wrap(err, "hash")
	}
	if len(b) != len(h) {
		return errors.Errorf("hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return nil
}

func (h Hash) String() string {
	return hexutil.Encode(h[:])
}

// ParseHash decodes a 0x-prefixed 32-byte hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	err := h.UnmarshalText([]byte(s))
	return h, err
}

var hashTypeNames = map[HashType]string{
	HashTypeData:  "data",
	HashTypeType:  "type",
	HashTypeData1: "data1",
	HashTypeData2: "data2",
}

func (t HashType) String() string {
	if name, ok := hashTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("HashType(0x%02x)", byte(t))
}

func (t HashType) MarshalText() ([]byte, error) {
	name, ok := hashTypeNames[t]
	if !ok {
		return nil, errors.Errorf("unknown hash type 0x%02x", byte(t))
	}
	return []byte(name), nil
}

func (t *HashType) UnmarshalText(text []byte) error {
	for k, name := range hashTypeNames {
		if name == string(text) {
			*t = k
			return nil
		}
	}
	return errors.Errorf("unknown hash type %q", text)
}

func (t DepType) MarshalText() ([]byte, error) {
	switch t {
	case DepTypeCode:
		return []byte("code"), nil
	case DepTypeDepGroup:
		return []byte("dep_group"), nil
	}
	return nil, errors.Errorf("unknown dep type 0x%02x", byte(t))
}

func (t *DepType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "code":
		*t = DepTypeCode
	case "dep_group":
		*t = DepTypeDepGroup
	default:
		return errors.Errorf("unknown dep type %q", text)
	}
	return nil
}

type scriptJSON struct {
	CodeHash Hash          `json:"code_hash"`
	HashType HashType      `json:"hash_type"`
	Args     hexutil.Bytes `json:"args"`
}

func (s Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(scriptJSON{CodeHash: s.CodeHash, HashType: s.HashType, Args: s.Args})
}

func (s *Script) UnmarshalJSON(data []byte) error {
	var v scriptJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Script{CodeHash: v.CodeHash, HashType: v.HashType, Args: []byte(v.Args)}
	if s.Args == nil {
		s.Args = []byte{}
	}
	return nil
}

type outPointJSON struct {
	TxHash Hash           `json:"tx_hash"`
	Index  hexutil.Uint64 `json:"index"`
}

func (o OutPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(outPointJSON{TxHash: o.TxHash, Index: hexutil.Uint64(o.Index)})
}

func (o *OutPoint) UnmarshalJSON(data []byte) error {
	var v outPointJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	index, err := toUint32(v.Index, "out point index")
	if err != nil {
		return err
	}
	*o = OutPoint{TxHash: v.TxHash, Index: index}
	return nil
}

type cellInputJSON struct {
	Since          hexutil.Uint64 `json:"since"`
	PreviousOutput OutPoint       `json:"previous_output"`
}

func (c CellInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(cellInputJSON{Since: hexutil.Uint64(c.Since), PreviousOutput: c.PreviousOutput})
}

func (c *CellInput) UnmarshalJSON(data []byte) error {
	var v cellInputJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = CellInput{Since: uint64(v.Since), PreviousOutput: v.PreviousOutput}
	return nil
}

type cellOutputJSON struct {
	Capacity hexutil.Uint64 `json:"capacity"`
	Lock     Script         `json:"lock"`
	Type     *Script        `json:"type"`
}

func (o CellOutput) MarshalJSON() ([]byte, error) {
	return json.Marshal(cellOutputJSON{Capacity: hexutil.Uint64(o.Capacity), Lock: o.Lock, Type: o.Type})
}

func (o *CellOutput) UnmarshalJSON(data []byte) error {
	var v cellOutputJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = CellOutput{Capacity: uint64(v.Capacity), Lock: v.Lock, Type: v.Type}
	return nil
}

type cellDepJSON struct {
	OutPoint OutPoint `json:"out_point"`
	DepType  DepType  `json:"dep_type"`
}

func (d CellDep) MarshalJSON() ([]byte, error) {
	return json.Marshal(cellDepJSON{OutPoint: d.OutPoint, DepType: d.DepType})
}

func (d *CellDep) UnmarshalJSON(data []byte) error {
	var v cellDepJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*d = CellDep{OutPoint: v.OutPoint, DepType: v.DepType}
	return nil
}

type transactionJSON struct {
	Version     hexutil.Uint64  `json:"version"`
	CellDeps    []CellDep       `json:"cell_deps"`
	HeaderDeps  []Hash          `json:"header_deps"`
	Inputs      []CellInput     `json:"inputs"`
	Outputs     []CellOutput    `json:"outputs"`
	OutputsData []hexutil.Bytes `json:"outputs_data"`
	Witnesses   []hexutil.Bytes `json:"witnesses"`
}

func (tx Transaction) MarshalJSON() ([]byte, error) {
	v := transactionJSON{
		Version:     hexutil.Uint64(tx.Version),
		CellDeps:    nonNil(tx.CellDeps),
		HeaderDeps:  nonNil(tx.HeaderDeps),
		Inputs:      nonNil(tx.Inputs),
		Outputs:     nonNil(tx.Outputs),
		OutputsData: toHexBytes(tx.OutputsData),
		Witnesses:   toHexBytes(tx.Witnesses),
	}
	return json.Marshal(v)
}

func (tx *Transaction) UnmarshalJSON(data []byte) error {
	var v transactionJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	version, err := toUint32(v.Version, "version")
	if err != nil {
		return err
	}
	if len(v.OutputsData) != len(v.Outputs) {
		return errors.Errorf("outputs_data has %d entries for %d outputs", len(v.OutputsData), len(v.Outputs))
	}
	*tx = Transaction{
		Version:     version,
		CellDeps:    v.CellDeps,
		HeaderDeps:  v.HeaderDeps,
		Inputs:      v.Inputs,
		Outputs:     v.Outputs,
		OutputsData: fromHexBytes(v.OutputsData),
		Witnesses:   fromHexBytes(v.Witnesses),
	}
	return nil
}

func toUint32(v hexutil.Uint64, what string) (uint32, error) {
	if uint64(v) > math.MaxUint32 {
		return 0, errors.Errorf("%s %d overflows u32", what, uint64(v))
	}
	return uint32(v), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func toHexBytes(v [][]byte) []hexutil.Bytes {
	out := make([]hexutil.Bytes, len(v))
	for i, b := range v {
		out[i] = b
	}
	return out
}

func fromHexBytes(v []hexutil.Bytes) [][]byte {
	out := make([][]byte, len(v))
	for i, b := range v {
		if b == nil {
			out[i] = []byte{}
		} else {
			out[i] = []byte(b)
		}
	}
	return out
}
