package keys

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/pkg/errors"
)

// ParsePrivateKey accepts a 32-byte hex key (with or without 0x) or a WIF
// string.
func ParsePrivateKey(s string) (*PrivateKey, error) {
	s = strings.TrimSpace(s)
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(trimmed) == 2*PrivateKeySize {
		raw, err := hex.DecodeString(trimmed)
		if err == nil {
			defer zeroBytes(raw)
			return PrivateKeyFromBytes(raw)
		}
	}

	raw, err := decodeWIF(s)
	if err != nil {
		return nil, errors.Wrap(err, "private key is neither 32-byte hex nor WIF")
	}
	defer zeroBytes(raw)
	return PrivateKeyFromBytes(raw)
}

// ReadPrivateKeyFile reads a key file in the ckb-cli format: the first line
// holds the hex key.
func ReadPrivateKeyFile(path string) (*PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read private key file")
	}
	defer zeroBytes(data)

	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	return ParsePrivateKey(string(line))
}

// decodeWIF decodes a WIF-encoded private key.
// WIF format: version_byte || private_key (32 bytes) || [compression_flag] || checksum (4 bytes)
func decodeWIF(wif string) ([]byte, error) {
	decoded := base58.Decode(wif)
	if len(decoded) != 37 && len(decoded) != 38 {
		return nil, errors.New("invalid WIF length")
	}

	version := decoded[0]
	if version != 0x80 && version != 0xef {
		return nil, errors.Errorf("invalid WIF version byte: 0x%02x", version)
	}

	checksumOffset := len(decoded) - 4
	payload := decoded[:checksumOffset]
	hash1 := sha256.Sum256(payload)
	hash2 := sha256.Sum256(hash1[:])
	if !bytes.Equal(decoded[checksumOffset:], hash2[:4]) {
		return nil, errors.New("WIF checksum mismatch")
	}

	key := make([]byte, PrivateKeySize)
	copy(key, payload[1:33])
	zeroBytes(decoded)
	return key, nil
}

// EncodeWIF encodes a raw key as compressed WIF. Used to import keys from
// bitcoin-style wallets in tests and tooling.
func EncodeWIF(privateKey []byte, testnet bool) (string, error) {
	if len(privateKey) != PrivateKeySize {
		return "", errors.Errorf("private key must be %d bytes", PrivateKeySize)
	}

	version := byte(0x80)
	if testnet {
		version = 0xef
	}

	payload := make([]byte, 0, 38)
	payload = append(payload, version)
	payload = append(payload, privateKey...)
	payload = append(payload, 0x01)

	hash1 := sha256.Sum256(payload)
	hash2 := sha256.Sum256(hash1[:])
	payload = append(payload, hash2[:4]...)
	return base58.Encode(payload), nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
