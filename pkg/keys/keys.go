// Package keys implements the secp256k1 key material used to sign OmniLock
// witnesses.
//
// Key formats:
//   - Private keys: 0x-hex / hex 32 bytes, WIF, or an encrypted keystore file
//   - Public keys: compressed 33-byte (pubkey hash and multisig identities)
//     or uncompressed 65-byte (Ethereum identity)
//   - Signatures: 65-byte recoverable r || s || recovery id
//
// Private keys are only handed out through a Provider, which scrubs them
// once the caller is done.
package keys

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
)

const (
	// PrivateKeySize is the size of a raw secp256k1 scalar.
	PrivateKeySize = 32
	// SignatureSize is the size of a recoverable signature.
	SignatureSize = 65

	compactSigMagicOffset = 27
)

// ErrInvalidKey is returned for scalars outside [1, n-1].
var ErrInvalidKey = errors.New("invalid secp256k1 private key")

// PrivateKey wraps a secp256k1 private key.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// PublicKey wraps a secp256k1 public key.
type PublicKey struct {
	key *secp256k1.PublicKey
}

// PrivateKeyFromBytes creates a private key from raw bytes. Zero and
// out-of-range scalars are rejected instead of being reduced mod n.
func PrivateKeyFromBytes(keyBytes []byte) (*PrivateKey, error) {
	if len(keyBytes) != PrivateKeySize {
		return nil, errors.Wrapf(ErrInvalidKey, "must be %d bytes, got %d", PrivateKeySize, len(keyBytes))
	}

	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(keyBytes); overflow {
		scalar.Zero()
		return nil, errors.Wrap(ErrInvalidKey, "scalar overflows the curve order")
	}
	if scalar.IsZero() {
		return nil, errors.Wrap(ErrInvalidKey, "scalar is zero")
	}
	return &PrivateKey{key: secp256k1.NewPrivateKey(&scalar)}, nil
}

// Zero scrubs the key material. The key is unusable afterwards.
func (pk *PrivateKey) Zero() {
	if pk == nil || pk.key == nil {
		return
	}
	pk.key.Zero()
	pk.key = nil
}

// SignRecoverable signs a 32-byte digest and returns r || s || recid.
// Signing is deterministic (RFC 6979), so re-signing the same digest yields
// the same bytes.
func (pk *PrivateKey) SignRecoverable(digest ckb.Hash) ([]byte, error) {
	if pk == nil || pk.key == nil {
		return nil, errors.Wrap(ErrInvalidKey, "key has been zeroed")
	}
	compact := ecdsa.SignCompact(pk.key, digest[:], false)

	sig := make([]byte, SignatureSize)
	copy(sig, compact[1:])
	sig[64] = compact[0] - compactSigMagicOffset
	return sig, nil
}

// PublicKey derives the public key.
func (pk *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{key: pk.key.PubKey()}
}

// SerializeCompressed returns the 33-byte compressed public key.
func (pub *PublicKey) SerializeCompressed() []byte {
	return pub.key.SerializeCompressed()
}

// SerializeUncompressed returns the 65-byte uncompressed public key.
func (pub *PublicKey) SerializeUncompressed() []byte {
	return pub.key.SerializeUncompressed()
}

// Blake160 is the pubkey-hash identity: blake160(compressed pubkey).
func (pub *PublicKey) Blake160() [20]byte {
	return ckb.Blake160(pub.SerializeCompressed())
}

// Keccak160 is the Ethereum identity: last 20 bytes of
// keccak256(uncompressed pubkey without the 0x04 prefix).
func (pub *PublicKey) Keccak160() [20]byte {
	digest := Keccak256(pub.SerializeUncompressed()[1:])
	var out [20]byte
	copy(out[:], digest[12:])
	return out
}

// IsEqual reports whether both keys are the same point.
func (pub *PublicKey) IsEqual(other *PublicKey) bool {
	return other != nil && pub.key.IsEqual(other.key)
}

// ParsePublicKey parses a compressed or uncompressed public key.
func ParsePublicKey(pubKeyBytes []byte) (*PublicKey, error) {
	pubKey, err := secp256k1.ParsePubKey(pubKeyBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse public key")
	}
	return &PublicKey{key: pubKey}, nil
}

// RecoverPublicKey recovers the signer of digest from an r || s || recid
// signature.
func RecoverPublicKey(digest ckb.Hash, sig []byte) (*PublicKey, error) {
	if len(sig) != SignatureSize {
		return nil, errors.Errorf("signature must be %d bytes, got %d", SignatureSize, len(sig))
	}
	if sig[64] > 3 {
		return nil, errors.Errorf("invalid recovery id %d", sig[64])
	}

	compact := make([]byte, SignatureSize)
	compact[0] = sig[64] + compactSigMagicOffset
	copy(compact[1:], sig[:64])

	pubKey, _, err := ecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return nil, errors.Wrap(err, "failed to recover public key")
	}
	return &PublicKey{key: pubKey}, nil
}

// Keccak256 is the legacy (pre-NIST) Keccak-256 used by Ethereum.
func Keccak256(data ...[]byte) ckb.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out ckb.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// EthereumPersonalMessage wraps a 32-byte message the way personal_sign does:
// keccak256("\x19Ethereum Signed Message:\n32" || message).
func EthereumPersonalMessage(message ckb.Hash) ckb.Hash {
	return Keccak256([]byte("\x19Ethereum Signed Message:\n32"), message[:])
}
