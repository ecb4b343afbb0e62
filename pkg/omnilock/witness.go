package omnilock

import (
	"bytes"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
)

// SignatureSize is the size of one recoverable signature slot.
const SignatureSize = 65

// Fixed prefix of the lock field: the 3-field OmniLockWitnessLock table
// header followed by the Bytes length of the signature field.
const lockHeaderSize = 4*4 + 4

// Slot is one 65-byte signature slot. The zero value means "not signed".
type Slot [SignatureSize]byte

// IsEmpty reports whether the slot is the all-zero sentinel.
func (s *Slot) IsEmpty() bool {
	return *s == Slot{}
}

// WitnessLock is the decoded OmniLockWitnessLock stored in the witness-args
// lock field. Its signature field is
//
//	[opentx data][multisig config][slot 0]...[slot N-1]
//
// where opentx data is only present in opentx mode and multisig config only
// for multisig. Single-key schemes have exactly one slot.
type WitnessLock struct {
	OpentxData []byte
	ConfigData []byte
	Slots      []Slot
	Preimage   []byte // None when nil
}

// Placeholder returns the lock field with every slot empty. Its length is
// the length of every lock produced for c.
func Placeholder(c *Config) []byte {
	return newWitnessLock(c).Encode()
}

// PlaceholderWitness returns a witness-args whose lock is Placeholder(c).
func PlaceholderWitness(c *Config) []byte {
	return (&ckb.WitnessArgs{Lock: Placeholder(c)}).Serialize()
}

// SignatureOffset is the offset of slot 0 inside the lock field.
func SignatureOffset(c *Config) int {
	return lockHeaderSize + len(opentxData(c)) + len(configData(c))
}

func newWitnessLock(c *Config) *WitnessLock {
	return &WitnessLock{
		OpentxData: opentxData(c),
		ConfigData: configData(c),
		Slots:      make([]Slot, c.SlotCount()),
	}
}

func opentxData(c *Config) []byte {
	if c.Opentx == nil {
		return nil
	}
	return c.Opentx.WitnessData()
}

func configData(c *Config) []byte {
	if c.Multisig == nil {
		return nil
	}
	return c.Multisig.WitnessData()
}

// Encode serializes the lock field.
func (w *WitnessLock) Encode() []byte {
	sig := make([]byte, 0, len(w.OpentxData)+len(w.ConfigData)+len(w.Slots)*SignatureSize)
	sig = append(sig, w.OpentxData...)
	sig = append(sig, w.ConfigData...)
	for i := range w.Slots {
		sig = append(sig, w.Slots[i][:]...)
	}

	var preimage []byte
	if w.Preimage != nil {
		preimage = ckb.EncodeBytes(w.Preimage)
	}
	return ckb.EncodeTable(ckb.EncodeBytes(sig), nil, preimage)
}

// DecodeWitnessLock parses a lock field under scheme c.
//
// The whole field is validated before anything is returned: a layout that
// does not match c is MalformedWitness, a layout of the right size whose
// config bytes belong to another scheme is InconsistentState.
func DecodeWitnessLock(c *Config, raw []byte) (*WitnessLock, error) {
	expected := newWitnessLock(c)
	sigLen := len(expected.OpentxData) + len(expected.ConfigData) + len(expected.Slots)*SignatureSize

	fields, err := ckb.DecodeTable(raw, 3)
	if err != nil {
		return nil, NewError(CodeMalformedWitness, err, "witness lock")
	}
	sig, err := ckb.DecodeBytesOpt(fields[0])
	if err != nil {
		return nil, NewError(CodeMalformedWitness, err, "witness lock signature")
	}
	if sig == nil {
		return nil, malformed("witness lock has no signature field")
	}
	if len(fields[1]) != 0 {
		return nil, malformed("witness lock carries an omni identity, which is not supported")
	}
	preimage, err := ckb.DecodeBytesOpt(fields[2])
	if err != nil {
		return nil, NewError(CodeMalformedWitness, err, "witness lock preimage")
	}
	if len(sig) != sigLen {
		return nil, malformed("signature area is %d bytes, %s scheme with %d slot(s) needs %d",
			len(sig), c.ID.Flag, len(expected.Slots), sigLen)
	}

	off := 0
	if n := len(expected.OpentxData); n > 0 {
		if !bytes.Equal(sig[:n], expected.OpentxData) {
			return nil, NewError(CodeInconsistentState, nil, "opentx data in the witness does not match the config")
		}
		off += n
	}
	if n := len(expected.ConfigData); n > 0 {
		if !bytes.Equal(sig[off:off+n], expected.ConfigData) {
			return nil, NewError(CodeInconsistentState, nil, "multisig config in the witness does not match the config")
		}
		off += n
	}
	for i := range expected.Slots {
		copy(expected.Slots[i][:], sig[off:off+SignatureSize])
		off += SignatureSize
	}
	expected.Preimage = preimage
	return expected, nil
}

// LockFromWitness extracts the lock field of a witness-args. A missing
// witness-args or lock yields nil without error.
func LockFromWitness(witness []byte) ([]byte, error) {
	if len(witness) == 0 {
		return nil, nil
	}
	args, err := ckb.ParseWitnessArgs(witness)
	if err != nil {
		return nil, NewError(CodeMalformedWitness, err, "witness args")
	}
	return args.Lock, nil
}
