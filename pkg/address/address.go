// Package address encodes and parses CKB addresses.
//
// New addresses use the full format (payload 0x00 || code hash || hash type
// || args) with the bech32m checksum. The deprecated short (0x01) and
// full data/type (0x02, 0x04) formats, which use plain bech32, are accepted
// when parsing.
package address

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/pkg/errors"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
)

// Network is the human readable part of an address.
type Network string

// Networks.
const (
	Mainnet Network = "ckb"
	Testnet Network = "ckt"
)

// Payload format types.
const (
	formatFull     = 0x00
	formatShort    = 0x01
	formatFullData = 0x02
	formatFullType = 0x04
)

// Short format code hash indices.
const (
	shortSighash  = 0x00
	shortMultisig = 0x01
)

// ErrInvalidAddress is returned for addresses that cannot be parsed.
var ErrInvalidAddress = errors.New("invalid address")

// Address is a lock script on a network.
type Address struct {
	Network Network
	Script  ckb.Script
}

// Encode returns the full-format address of a.
func (a *Address) Encode() (string, error) {
	return Encode(a.Network, a.Script)
}

// Encode returns the full-format address of lock on network.
func Encode(network Network, lock ckb.Script) (string, error) {
	if network != Mainnet && network != Testnet {
		return "", errors.Errorf("unknown network %q", network)
	}
	payload := make([]byte, 0, 1+32+1+len(lock.Args))
	payload = append(payload, formatFull)
	payload = append(payload, lock.CodeHash[:]...)
	payload = append(payload, byte(lock.HashType))
	payload = append(payload, lock.Args...)

	data, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", errors.Wrap(err, "convert bits")
	}
	addr, err := bech32.EncodeM(string(network), data)
	if err != nil {
		return "", errors.Wrap(err, "bech32m encode")
	}
	return addr, nil
}

// Parse decodes an address in any of the supported formats.
func Parse(s string) (*Address, error) {
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidAddress, "%s: %v", s, err)
	}
	network := Network(hrp)
	if network != Mainnet && network != Testnet {
		return nil, errors.Wrapf(ErrInvalidAddress, "unknown network prefix %q", hrp)
	}
	// DecodeNoLimit accepts both checksums; the full format must use bech32m.
	encodedM, err := bech32.EncodeM(hrp, data)
	if err != nil {
		return nil, errors.Wrap(err, "bech32m encode")
	}
	isM := encodedM == strings.ToLower(s)

	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidAddress, "convert bits: %v", err)
	}
	if len(payload) == 0 {
		return nil, errors.Wrap(ErrInvalidAddress, "empty payload")
	}

	addr := &Address{Network: network}
	switch payload[0] {
	case formatFull:
		if !isM {
			return nil, errors.Wrap(ErrInvalidAddress, "full format address must use bech32m")
		}
		if len(payload) < 34 {
			return nil, errors.Wrap(ErrInvalidAddress, "full format payload too short")
		}
		copy(addr.Script.CodeHash[:], payload[1:33])
		addr.Script.HashType = ckb.HashType(payload[33])
		switch addr.Script.HashType {
		case ckb.HashTypeData, ckb.HashTypeType, ckb.HashTypeData1, ckb.HashTypeData2:
		default:
			return nil, errors.Wrapf(ErrInvalidAddress, "unknown hash type 0x%02x", payload[33])
		}
		addr.Script.Args = append([]byte{}, payload[34:]...)

	case formatShort:
		if isM {
			return nil, errors.Wrap(ErrInvalidAddress, "short format address must use bech32")
		}
		if len(payload) != 22 {
			return nil, errors.Wrapf(ErrInvalidAddress, "short format payload has %d bytes", len(payload))
		}
		switch payload[1] {
		case shortSighash:
			addr.Script.CodeHash = ckb.SighashTypeHash
		case shortMultisig:
			addr.Script.CodeHash = ckb.MultisigTypeHash
		default:
			return nil, errors.Wrapf(ErrInvalidAddress, "unsupported short format code index 0x%02x", payload[1])
		}
		addr.Script.HashType = ckb.HashTypeType
		addr.Script.Args = append([]byte{}, payload[2:]...)

	case formatFullData, formatFullType:
		if isM {
			return nil, errors.Wrap(ErrInvalidAddress, "deprecated full format address must use bech32")
		}
		if len(payload) < 33 {
			return nil, errors.Wrap(ErrInvalidAddress, "full format payload too short")
		}
		copy(addr.Script.CodeHash[:], payload[1:33])
		addr.Script.HashType = ckb.HashTypeData
		if payload[0] == formatFullType {
			addr.Script.HashType = ckb.HashTypeType
		}
		addr.Script.Args = append([]byte{}, payload[33:]...)

	default:
		return nil, errors.Wrapf(ErrInvalidAddress, "unknown format type 0x%02x", payload[0])
	}
	return addr, nil
}

// ParseSighashAddress parses the address of a secp256k1/blake160 sighash
// lock and returns its pubkey hash. Multisig members are given this way.
func ParseSighashAddress(s string) ([20]byte, Network, error) {
	var hash [20]byte
	addr, err := Parse(s)
	if err != nil {
		return hash, "", err
	}
	lock := addr.Script
	if lock.CodeHash != ckb.SighashTypeHash || lock.HashType != ckb.HashTypeType || len(lock.Args) != 20 {
		return hash, "", errors.Wrapf(ErrInvalidAddress, "%s is not a sighash address", s)
	}
	copy(hash[:], lock.Args)
	return hash, addr.Network, nil
}
