package keys

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
)

const testKeyHex = "e79f3207ea4980b7fed79956d5934249ceac4751a4fae01a0f7c4a96884bc4e3"

func testKey(t *testing.T) *PrivateKey {
	t.Helper()
	k, err := ParsePrivateKey("0x" + testKeyHex)
	require.NoError(t, err)
	return k
}

func TestPrivateKeyFromBytesRejectsInvalid(t *testing.T) {
	_, err := PrivateKeyFromBytes(make([]byte, 32))
	assert.True(t, errors.Is(err, ErrInvalidKey))

	order, _ := hex.DecodeString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141")
	_, err = PrivateKeyFromBytes(order)
	assert.True(t, errors.Is(err, ErrInvalidKey))

	_, err = PrivateKeyFromBytes([]byte{1, 2, 3})
	assert.True(t, errors.Is(err, ErrInvalidKey))
}

func TestSignRecoverableIsDeterministicAndRecoverable(t *testing.T) {
	key := testKey(t)
	digest := ckb.Blake256([]byte("message"))

	sig1, err := key.SignRecoverable(digest)
	require.NoError(t, err)
	sig2, err := key.SignRecoverable(digest)
	require.NoError(t, err)

	require.Len(t, sig1, SignatureSize)
	assert.Equal(t, sig1, sig2)
	assert.LessOrEqual(t, sig1[64], byte(3))

	pub, err := RecoverPublicKey(digest, sig1)
	require.NoError(t, err)
	assert.True(t, pub.IsEqual(key.PublicKey()))

	other := ckb.Blake256([]byte("other"))
	pub, err = RecoverPublicKey(other, sig1)
	if err == nil {
		assert.False(t, pub.IsEqual(key.PublicKey()))
	}
}

func TestRecoverPublicKeyRejectsBadInput(t *testing.T) {
	_, err := RecoverPublicKey(ckb.Hash{}, make([]byte, 64))
	assert.Error(t, err)

	sig := make([]byte, 65)
	sig[64] = 4
	_, err = RecoverPublicKey(ckb.Hash{}, sig)
	assert.Error(t, err)
}

func TestZeroDisablesKey(t *testing.T) {
	key := testKey(t)
	key.Zero()
	_, err := key.SignRecoverable(ckb.Hash{})
	assert.Error(t, err)
	key.Zero()
}

func TestIdentities(t *testing.T) {
	pub := testKey(t).PublicKey()

	compressed := pub.SerializeCompressed()
	require.Len(t, compressed, 33)
	assert.Equal(t, ckb.Blake160(compressed), pub.Blake160())

	uncompressed := pub.SerializeUncompressed()
	require.Len(t, uncompressed, 65)
	digest := Keccak256(uncompressed[1:])
	eth := pub.Keccak160()
	assert.Equal(t, digest[12:], eth[:])
}

func TestKeccak256KnownVector(t *testing.T) {
	got := Keccak256()
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", hex.EncodeToString(got[:]))
}

func TestEthereumPersonalMessage(t *testing.T) {
	msg := ckb.Hash{0x01}
	want := Keccak256(append([]byte("\x19Ethereum Signed Message:\n32"), msg[:]...))
	assert.Equal(t, want, EthereumPersonalMessage(msg))
}

func TestParsePrivateKeyFormats(t *testing.T) {
	raw, _ := hex.DecodeString(testKeyHex)
	want := testKey(t).PublicKey()

	k, err := ParsePrivateKey(testKeyHex)
	require.NoError(t, err)
	assert.True(t, k.PublicKey().IsEqual(want))

	wif, err := EncodeWIF(raw, true)
	require.NoError(t, err)
	k, err = ParsePrivateKey(wif)
	require.NoError(t, err)
	assert.True(t, k.PublicKey().IsEqual(want))

	_, err = ParsePrivateKey("not a key")
	assert.Error(t, err)

	// flip one character of the WIF
	broken := []byte(wif)
	if broken[10] == 'a' {
		broken[10] = 'b'
	} else {
		broken[10] = 'a'
	}
	_, err = ParsePrivateKey(string(broken))
	assert.Error(t, err)
}

func TestReadPrivateKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte(testKeyHex+"\nsecp256k1\n"), 0o600))

	k, err := ReadPrivateKeyFile(path)
	require.NoError(t, err)
	assert.True(t, k.PublicKey().IsEqual(testKey(t).PublicKey()))
}

func TestRawKeyProviderZeroesKeys(t *testing.T) {
	p := NewRawKeyProvider(testKeyHex)

	var seen []*PrivateKey
	err := p.WithKeys(func(keys []*PrivateKey) error {
		seen = keys
		_, err := keys[0].SignRecoverable(ckb.Hash{1})
		return err
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)

	_, err = seen[0].SignRecoverable(ckb.Hash{1})
	assert.Error(t, err, "key must be zeroed after WithKeys returns")
}

func TestRawKeyProviderZeroesOnError(t *testing.T) {
	p := NewRawKeyProvider(testKeyHex)
	boom := errors.New("boom")

	var seen []*PrivateKey
	err := p.WithKeys(func(keys []*PrivateKey) error {
		seen = keys
		return boom
	})
	assert.Equal(t, boom, err)
	_, err = seen[0].SignRecoverable(ckb.Hash{1})
	assert.Error(t, err)
}

func TestRawKeyProviderRejectsBadKey(t *testing.T) {
	called := false
	err := NewRawKeyProvider(testKeyHex, "zz").WithKeys(func([]*PrivateKey) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)

	err = NewRawKeyProvider().WithKeys(func([]*PrivateKey) error { return nil })
	assert.Error(t, err)
}
