package ckb

import (
	"encoding/hex"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTx() *Transaction {
	return &Transaction{
		Version: 0,
		CellDeps: []CellDep{
			{OutPoint: OutPoint{TxHash: Hash{0x01}, Index: 0}, DepType: DepTypeDepGroup},
			{OutPoint: OutPoint{TxHash: Hash{0x02}, Index: 1}, DepType: DepTypeCode},
		},
		Inputs: []CellInput{
			{PreviousOutput: OutPoint{TxHash: Hash{0xaa}, Index: 3}},
			{Since: 7, PreviousOutput: OutPoint{TxHash: Hash{0xbb}, Index: 0}},
		},
		Outputs: []CellOutput{
			{Capacity: 100 * ShannonsPerCKB, Lock: Script{CodeHash: SighashTypeHash, HashType: HashTypeType, Args: make([]byte, 20)}},
			{Capacity: 61 * ShannonsPerCKB, Lock: Script{CodeHash: Hash{0x03}, HashType: HashTypeData1, Args: []byte{1, 2}},
				Type: &Script{CodeHash: Hash{0x04}, HashType: HashTypeType, Args: []byte{}}},
		},
		OutputsData: [][]byte{{}, {0xde, 0xad}},
		Witnesses:   [][]byte{{0x10, 0x00, 0x00, 0x00}, {}},
	}
}

func TestSerializeScriptLayout(t *testing.T) {
	s := &Script{CodeHash: Hash{0xff}, HashType: HashTypeType, Args: []byte{0xab}}
	data := SerializeScript(s)

	// header (4 + 3*4) + code hash + hash type + Bytes(4 + 1)
	require.Len(t, data, 16+32+1+5)
	assert.Equal(t, "36000000100000003000000031000000", hex.EncodeToString(data[:16]))

	fields, err := DecodeTable(data, 3)
	require.NoError(t, err)
	assert.Equal(t, s.CodeHash[:], fields[0])
	assert.Equal(t, []byte{byte(HashTypeType)}, fields[1])

	args, err := DecodeBytes(fields[2])
	require.NoError(t, err)
	assert.Equal(t, []byte{0xab}, args)
}

func TestWitnessArgsPlaceholderBytes(t *testing.T) {
	w := &WitnessArgs{Lock: make([]byte, 65)}
	data := w.Serialize()

	require.Len(t, data, 85)
	assert.Equal(t, "55000000100000005500000055000000"+"41000000", hex.EncodeToString(data[:20]))

	parsed, err := ParseWitnessArgs(data)
	require.NoError(t, err)
	assert.Equal(t, w.Lock, parsed.Lock)
	assert.Nil(t, parsed.InputType)
	assert.Nil(t, parsed.OutputType)
}

func TestWitnessArgsSomeEmptyIsNotNone(t *testing.T) {
	w := &WitnessArgs{Lock: []byte{}, OutputType: []byte{1, 2, 3}}
	parsed, err := ParseWitnessArgs(w.Serialize())
	require.NoError(t, err)

	require.NotNil(t, parsed.Lock)
	assert.Empty(t, parsed.Lock)
	assert.Nil(t, parsed.InputType)
	assert.Equal(t, []byte{1, 2, 3}, parsed.OutputType)
}

func TestParseWitnessArgsRejectsGarbage(t *testing.T) {
	valid := (&WitnessArgs{Lock: make([]byte, 65)}).Serialize()

	cases := map[string][]byte{
		"empty":           {},
		"short header":    {0x01, 0x00},
		"truncated":       valid[:len(valid)-1],
		"trailing byte":   append(append([]byte{}, valid...), 0x00),
		"two fields":      EncodeTable(nil, nil),
		"bad bytes length": func() []byte {
			b := append([]byte{}, valid...)
			b[16] = 0x40 // Bytes header says 64, payload is 65
			return b
		}(),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWitnessArgs(data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMolecule), "got %v", err)
		})
	}
}

func TestDecodeTableEmpty(t *testing.T) {
	fields, err := DecodeTable(EncodeTable(), -1)
	require.NoError(t, err)
	assert.Empty(t, fields)

	_, err = DecodeTable(EncodeTable(), 1)
	require.Error(t, err)
}

func TestSerializeTransactionContainsRaw(t *testing.T) {
	tx := sampleTx()
	raw := SerializeRawTransaction(tx)
	full := SerializeTransaction(tx)

	fields, err := DecodeTable(full, 2)
	require.NoError(t, err)
	assert.Equal(t, raw, fields[0])

	witnesses, err := DecodeTable(fields[1], -1)
	require.NoError(t, err)
	require.Len(t, witnesses, 2)
	w0, err := DecodeBytes(witnesses[0])
	require.NoError(t, err)
	assert.Equal(t, tx.Witnesses[0], w0)

	rawFields, err := DecodeTable(raw, 6)
	require.NoError(t, err)
	// cell deps fixvec: count + 2 * 37 bytes
	assert.Len(t, rawFields[1], 4+2*37)
	// inputs fixvec: count + 2 * 44 bytes
	assert.Len(t, rawFields[3], 4+2*44)
}

func TestTransactionHashIgnoresWitnesses(t *testing.T) {
	tx := sampleTx()
	before := tx.Hash()

	tx.Witnesses[0] = (&WitnessArgs{Lock: make([]byte, 65)}).Serialize()
	assert.Equal(t, before, tx.Hash())

	tx.Outputs[0].Capacity++
	assert.NotEqual(t, before, tx.Hash())
}

func TestCloneIsDeep(t *testing.T) {
	tx := sampleTx()
	c := tx.Clone()
	require.Equal(t, tx, c)

	c.Witnesses[0][0] = 0xff
	c.Outputs[1].Type.Args = append(c.Outputs[1].Type.Args, 1)
	c.Outputs[0].Lock.Args[0] = 1
	assert.Equal(t, byte(0x10), tx.Witnesses[0][0])
	assert.Empty(t, tx.Outputs[1].Type.Args)
	assert.Equal(t, byte(0), tx.Outputs[0].Lock.Args[0])
}

func TestAddCellDepDeduplicates(t *testing.T) {
	tx := sampleTx()
	tx.AddCellDep(tx.CellDeps[0])
	assert.Len(t, tx.CellDeps, 2)

	tx.AddCellDep(CellDep{OutPoint: OutPoint{TxHash: Hash{0x09}}, DepType: DepTypeCode})
	assert.Len(t, tx.CellDeps, 3)
}

func TestOccupiedCapacity(t *testing.T) {
	out := CellOutput{Lock: Script{Args: make([]byte, 20)}}
	// 8 capacity + 32 code hash + 1 hash type + 20 args
	assert.Equal(t, 61*ShannonsPerCKB, out.OccupiedCapacity(0))

	out.Type = &Script{}
	assert.Equal(t, (61+33+2)*ShannonsPerCKB, out.OccupiedCapacity(2))
}
