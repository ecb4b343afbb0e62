package address

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestSighashVectors(t *testing.T) {
	args := mustHex(t, "b39bbc0b3673c7d36450bc14cfcdad2d559c6c64")
	lock := ckb.Script{CodeHash: ckb.SighashTypeHash, HashType: ckb.HashTypeType, Args: args}

	full, err := Encode(Mainnet, lock)
	require.NoError(t, err)
	assert.Equal(t, "ckb1qzda0cr08m85hc8jlnfp3zer7xulejywt49kt2rr0vthywaa50xwsqdnnw7qkdnnclfkg59uzn8umtfd2kwxceqxwquc4", full)

	for _, s := range []string{full, "ckb1qyqt8xaupvm8837nv3gtc9x0ekkj64vud3jqfwyw5v"} {
		addr, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, Mainnet, addr.Network)
		assert.True(t, addr.Script.Equal(&lock), s)

		hash, network, err := ParseSighashAddress(s)
		require.NoError(t, err)
		assert.Equal(t, Mainnet, network)
		assert.Equal(t, args, hash[:])
	}
}

func TestRoundTrip(t *testing.T) {
	scripts := []ckb.Script{
		{CodeHash: ckb.Hash{0x01, 0x02}, HashType: ckb.HashTypeType, Args: make([]byte, 22)},
		{CodeHash: ckb.Hash{0xff}, HashType: ckb.HashTypeData1, Args: []byte{}},
		{CodeHash: ckb.MultisigTypeHash, HashType: ckb.HashTypeType, Args: mustHex(t, "4fb2be2e5d0c1a3b8694f832350a33c1685d477a")},
	}
	for _, network := range []Network{Mainnet, Testnet} {
		for _, s := range scripts {
			a := &Address{Network: network, Script: s}
			encoded, err := a.Encode()
			require.NoError(t, err)
			assert.Equal(t, string(network), encoded[:3])

			back, err := Parse(encoded)
			require.NoError(t, err)
			assert.Equal(t, network, back.Network)
			assert.True(t, back.Script.Equal(&s))
		}
	}
}

func encodeLegacy(t *testing.T, hrp string, payload []byte) string {
	t.Helper()
	data, err := bech32.ConvertBits(payload, 8, 5, true)
	require.NoError(t, err)
	s, err := bech32.Encode(hrp, data)
	require.NoError(t, err)
	return s
}

func TestParseDeprecatedFormats(t *testing.T) {
	args := []byte{0xaa, 0xbb}
	codeHash := ckb.Hash{0x33}

	fullType := encodeLegacy(t, "ckt", append(append([]byte{formatFullType}, codeHash[:]...), args...))
	addr, err := Parse(fullType)
	require.NoError(t, err)
	assert.Equal(t, Testnet, addr.Network)
	assert.Equal(t, ckb.Script{CodeHash: codeHash, HashType: ckb.HashTypeType, Args: args}, addr.Script)

	fullData := encodeLegacy(t, "ckb", append(append([]byte{formatFullData}, codeHash[:]...), args...))
	addr, err = Parse(fullData)
	require.NoError(t, err)
	assert.Equal(t, ckb.HashTypeData, addr.Script.HashType)

	multisig := encodeLegacy(t, "ckb", append([]byte{formatShort, shortMultisig}, make([]byte, 20)...))
	addr, err = Parse(multisig)
	require.NoError(t, err)
	assert.Equal(t, ckb.MultisigTypeHash, addr.Script.CodeHash)
	_, _, err = ParseSighashAddress(multisig)
	assert.True(t, errors.Is(err, ErrInvalidAddress))
}

func TestParseRejects(t *testing.T) {
	lock := ckb.Script{CodeHash: ckb.SighashTypeHash, HashType: ckb.HashTypeType, Args: make([]byte, 20)}
	full, err := Encode(Mainnet, lock)
	require.NoError(t, err)

	// Full payload under the old checksum.
	payload := append(append([]byte{formatFull}, lock.CodeHash[:]...), byte(lock.HashType))
	payload = append(payload, lock.Args...)
	oldChecksum := encodeLegacy(t, "ckb", payload)
	last := "q"
	if full[len(full)-1] == 'q' {
		last = "p"
	}

	for name, s := range map[string]string{
		"empty":          "",
		"bad checksum":   full[:len(full)-1] + last,
		"unknown prefix": encodeLegacy(t, "btc", payload),
		"old checksum":   oldChecksum,
		"short length":   encodeLegacy(t, "ckb", []byte{formatShort, shortSighash, 1, 2}),
		"short index":    encodeLegacy(t, "ckb", append([]byte{formatShort, 0x07}, make([]byte, 20)...)),
		"unknown format": encodeLegacy(t, "ckb", []byte{0x09, 1, 2, 3}),
	} {
		_, err := Parse(s)
		assert.Error(t, err, name)
	}

	_, err = Encode("xyz", lock)
	assert.Error(t, err)
}
