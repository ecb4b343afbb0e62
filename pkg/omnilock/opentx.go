package omnilock

import (
	"encoding/binary"
)

// Open transaction input commands. Each command selects a part of the
// transaction covered by the open-transaction signature.
const (
	OpentxCmdTxHash          uint8 = 0x00
	OpentxCmdGroupInputHash  uint8 = 0x01
	OpentxCmdIndexOutput     uint8 = 0x11
	OpentxCmdOffsetOutput    uint8 = 0x12
	OpentxCmdIndexInput      uint8 = 0x13
	OpentxCmdOffsetInput     uint8 = 0x14
	OpentxCmdCellInputIndex  uint8 = 0x15
	OpentxCmdCellInputOffset uint8 = 0x16
	OpentxCmdConcatArg1Arg2  uint8 = 0x20
	OpentxCmdEnd             uint8 = 0xF0

	opentxMaxArg = 0x0FFF
)

// OpentxInput is one signed-range command. Arg1 and Arg2 are 12-bit values.
type OpentxInput struct {
	Cmd  uint8  `json:"cmd"`
	Arg1 uint16 `json:"arg1"`
	Arg2 uint16 `json:"arg2"`
}

// OpentxWitness is the signed-range metadata stored in front of the
// signature in open-transaction mode.
type OpentxWitness struct {
	BaseInputIndex  uint32        `json:"base_input_index"`
	BaseOutputIndex uint32        `json:"base_output_index"`
	Inputs          []OpentxInput `json:"input"`
	Salt            uint32        `json:"salt"`
}

// Validate checks the field ranges of the encoding.
func (w *OpentxWitness) Validate() error {
	if w.BaseInputIndex > 0xFFFF || w.BaseOutputIndex > 0xFFFF {
		return configError("opentx base indices (%d, %d) exceed 16 bits", w.BaseInputIndex, w.BaseOutputIndex)
	}
	for i, in := range w.Inputs {
		if in.Cmd == OpentxCmdEnd {
			return configError("opentx input #%d is an explicit end command", i)
		}
		if in.Arg1 > opentxMaxArg || in.Arg2 > opentxMaxArg {
			return configError("opentx input #%d arguments exceed 12 bits", i)
		}
	}
	return nil
}

// WitnessData serializes the metadata:
// base_input u16le || base_output u16le || commands (4 bytes each) || end.
// The salt is part of the signed message, not of the layout.
func (w *OpentxWitness) WitnessData() []byte {
	out := make([]byte, 4, w.WitnessDataLen())
	binary.LittleEndian.PutUint16(out[0:], uint16(w.BaseInputIndex))
	binary.LittleEndian.PutUint16(out[2:], uint16(w.BaseOutputIndex))
	for _, in := range w.Inputs {
		out = append(out, in.encode()...)
	}
	return append(out, OpentxCmdEnd, 0, 0, 0)
}

// WitnessDataLen is len(WitnessData()).
func (w *OpentxWitness) WitnessDataLen() int {
	return 4 + 4*(len(w.Inputs)+1)
}

func (in OpentxInput) encode() []byte {
	return []byte{
		in.Cmd,
		byte(in.Arg1),
		byte(in.Arg1>>8)&0x0F | byte(in.Arg2&0x0F)<<4,
		byte(in.Arg2 >> 4),
	}
}

func decodeOpentxInput(b []byte) OpentxInput {
	return OpentxInput{
		Cmd:  b[0],
		Arg1: uint16(b[1]) | uint16(b[2]&0x0F)<<8,
		Arg2: uint16(b[2]>>4) | uint16(b[3])<<4,
	}
}

// ParseOpentxWitnessData decodes the metadata at the start of data and
// returns the number of bytes it occupies.
func ParseOpentxWitnessData(data []byte) (*OpentxWitness, int, error) {
	if len(data) < 8 {
		return nil, 0, malformed("opentx data too short (%d)", len(data))
	}
	w := &OpentxWitness{
		BaseInputIndex:  uint32(binary.LittleEndian.Uint16(data[0:])),
		BaseOutputIndex: uint32(binary.LittleEndian.Uint16(data[2:])),
	}
	for off := 4; off+4 <= len(data); off += 4 {
		if data[off] == OpentxCmdEnd {
			return w, off + 4, nil
		}
		w.Inputs = append(w.Inputs, decodeOpentxInput(data[off:off+4]))
	}
	return nil, 0, malformed("opentx data has no end command")
}
