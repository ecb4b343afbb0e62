// Molecule encoding for the CKB chain types.
//
// Molecule is CKB's canonical binary format. Only four layouts are used:
//
//	struct  fixed-size fields concatenated, no header
//	fixvec  item count (u32le) || items
//	dynvec  total size (u32le) || item offsets (u32le each) || items
//	table   same layout as dynvec, one "item" per field
//
// Option<T> is encoded as zero bytes for None and as T for Some. Every
// integer is little-endian.
package ckb

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	numberSize = 4
)

// ErrMolecule is the cause of every molecule decode failure.
var ErrMolecule = errors.New("invalid molecule encoding")

// SerializeScript encodes a Script table.
func SerializeScript(s *Script) []byte {
	return EncodeTable(
		s.CodeHash[:],
		[]byte{byte(s.HashType)},
		EncodeBytes(s.Args),
	)
}

func serializeScriptOpt(s *Script) []byte {
	if s == nil {
		return nil
	}
	return SerializeScript(s)
}

func serializeOutPoint(buf *bytes.Buffer, o OutPoint) {
	buf.Write(o.TxHash[:])
	writeUint32(buf, o.Index)
}

// SerializeCellOutput encodes a CellOutput table.
func SerializeCellOutput(o *CellOutput) []byte {
	capacity := make([]byte, 8)
	binary.LittleEndian.PutUint64(capacity, o.Capacity)
	return EncodeTable(capacity, SerializeScript(&o.Lock), serializeScriptOpt(o.Type))
}

// SerializeRawTransaction encodes the RawTransaction table, the part of the
// transaction covered by the transaction hash.
func SerializeRawTransaction(tx *Transaction) []byte {
	version := new(bytes.Buffer)
	writeUint32(version, tx.Version)

	cellDeps := new(bytes.Buffer)
	writeUint32(cellDeps, uint32(len(tx.CellDeps)))
	for _, dep := range tx.CellDeps {
		serializeOutPoint(cellDeps, dep.OutPoint)
		cellDeps.WriteByte(byte(dep.DepType))
	}

	headerDeps := new(bytes.Buffer)
	writeUint32(headerDeps, uint32(len(tx.HeaderDeps)))
	for _, h := range tx.HeaderDeps {
		headerDeps.Write(h[:])
	}

	inputs := new(bytes.Buffer)
	writeUint32(inputs, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		var since [8]byte
		binary.LittleEndian.PutUint64(since[:], in.Since)
		inputs.Write(since[:])
		serializeOutPoint(inputs, in.PreviousOutput)
	}

	outputs := make([][]byte, len(tx.Outputs))
	for i := range tx.Outputs {
		outputs[i] = SerializeCellOutput(&tx.Outputs[i])
	}

	return EncodeTable(
		version.Bytes(),
		cellDeps.Bytes(),
		headerDeps.Bytes(),
		inputs.Bytes(),
		encodeDynVec(outputs),
		encodeBytesVec(tx.OutputsData),
	)
}

// SerializeTransaction encodes the full Transaction table (raw + witnesses).
func SerializeTransaction(tx *Transaction) []byte {
	return EncodeTable(SerializeRawTransaction(tx), encodeBytesVec(tx.Witnesses))
}

// Serialize encodes WitnessArgs.
func (w *WitnessArgs) Serialize() []byte {
	return EncodeTable(
		encodeBytesOpt(w.Lock),
		encodeBytesOpt(w.InputType),
		encodeBytesOpt(w.OutputType),
	)
}

// ParseWitnessArgs decodes a WitnessArgs table. Trailing or missing fields are
// rejected.
func ParseWitnessArgs(data []byte) (*WitnessArgs, error) {
	fields, err := DecodeTable(data, 3)
	if err != nil {
		return nil, errors.Wrap(err, "witness args")
	}

	var w WitnessArgs
	targets := []*[]byte{&w.Lock, &w.InputType, &w.OutputType}
	for i, field := range fields {
		v, err := DecodeBytesOpt(field)
		if err != nil {
			return nil, errors.Wrapf(err, "witness args field %d", i)
		}
		*targets[i] = v
	}
	return &w, nil
}

// EncodeBytes encodes a Bytes fixvec.
func EncodeBytes(b []byte) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(numberSize + len(b))
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
	return buf.Bytes()
}

// DecodeBytes decodes a Bytes fixvec occupying all of data.
func DecodeBytes(data []byte) ([]byte, error) {
	if len(data) < numberSize {
		return nil, errors.Wrapf(ErrMolecule, "bytes header too short (%d)", len(data))
	}
	n := binary.LittleEndian.Uint32(data)
	if uint64(n) != uint64(len(data)-numberSize) {
		return nil, errors.Wrapf(ErrMolecule, "bytes length %d does not match payload %d",
			n, len(data)-numberSize)
	}
	return append([]byte{}, data[numberSize:]...), nil
}

func encodeBytesOpt(b []byte) []byte {
	if b == nil {
		return nil
	}
	return EncodeBytes(b)
}

// DecodeBytesOpt decodes a BytesOpt. None is returned as nil, Some(empty) as
// an empty non-nil slice.
func DecodeBytesOpt(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return DecodeBytes(data)
}

func encodeBytesVec(items [][]byte) []byte {
	encoded := make([][]byte, len(items))
	for i, item := range items {
		encoded[i] = EncodeBytes(item)
	}
	return encodeDynVec(encoded)
}

func encodeDynVec(items [][]byte) []byte {
	return EncodeTable(items...)
}

// EncodeTable encodes fields as a molecule table.
func EncodeTable(fields ...[]byte) []byte {
	headerSize := numberSize * (len(fields) + 1)
	total := headerSize
	for _, f := range fields {
		total += len(f)
	}

	buf := new(bytes.Buffer)
	buf.Grow(total)
	writeUint32(buf, uint32(total))

	offset := headerSize
	for _, f := range fields {
		writeUint32(buf, uint32(offset))
		offset += len(f)
	}
	for _, f := range fields {
		buf.Write(f)
	}
	return buf.Bytes()
}

// DecodeTable splits a table (or dynvec) into its fields and checks that it
// has exactly fieldCount of them. A negative fieldCount accepts any count.
func DecodeTable(data []byte, fieldCount int) ([][]byte, error) {
	if len(data) < numberSize {
		return nil, errors.Wrapf(ErrMolecule, "header too short (%d)", len(data))
	}
	total := binary.LittleEndian.Uint32(data)
	if uint64(total) != uint64(len(data)) {
		return nil, errors.Wrapf(ErrMolecule, "total size %d does not match %d", total, len(data))
	}
	if total == numberSize {
		if fieldCount > 0 {
			return nil, errors.Wrapf(ErrMolecule, "expected %d fields, got 0", fieldCount)
		}
		return [][]byte{}, nil
	}
	if len(data) < 2*numberSize {
		return nil, errors.Wrap(ErrMolecule, "missing offsets")
	}

	first := binary.LittleEndian.Uint32(data[numberSize:])
	if first%numberSize != 0 || first < 2*numberSize || first > total {
		return nil, errors.Wrapf(ErrMolecule, "invalid first offset %d", first)
	}
	count := int(first/numberSize) - 1
	if fieldCount >= 0 && count != fieldCount {
		return nil, errors.Wrapf(ErrMolecule, "expected %d fields, got %d", fieldCount, count)
	}

	offsets := make([]uint32, count+1)
	for i := 0; i < count; i++ {
		offsets[i] = binary.LittleEndian.Uint32(data[numberSize*(i+1):])
	}
	offsets[count] = total

	fields := make([][]byte, count)
	for i := 0; i < count; i++ {
		start, end := offsets[i], offsets[i+1]
		if start > end || end > total {
			return nil, errors.Wrapf(ErrMolecule, "field %d offsets out of order (%d, %d)", i, start, end)
		}
		fields[i] = data[start:end]
	}
	return fields, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [numberSize]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
