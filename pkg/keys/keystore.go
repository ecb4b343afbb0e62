package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

// Keystore file format written by ckb-cli (Ethereum keystore v3 layout,
// address = hex blake160 of the compressed public key, plaintext = the
// 32-byte key followed by a 32-byte chain code).
const (
	keystoreVersion = 3
	keystoreCipher  = "aes-128-ctr"
	keystoreKDF     = "scrypt"

	// ckb-cli "standard" scrypt cost.
	StandardScryptN = 1 << 18
	StandardScryptP = 1
	// LightScryptN is cheap enough for tests.
	LightScryptN = 1 << 12
	LightScryptP = 6

	scryptR     = 8
	scryptDKLen = 32
)

var (
	// ErrAccountNotFound means no keystore file holds the requested account.
	ErrAccountNotFound = errors.New("account not found in keystore")
	// ErrWrongPassword means the MAC check failed.
	ErrWrongPassword = errors.New("wrong keystore password")
)

type keystoreFile struct {
	Origin  string         `json:"origin,omitempty"`
	Address string         `json:"address"`
	Crypto  keystoreCrypto `json:"crypto"`
	ID      string         `json:"id"`
	Version int            `json:"version"`
}

type keystoreCrypto struct {
	Cipher       string             `json:"cipher"`
	CipherText   string             `json:"ciphertext"`
	CipherParams keystoreCipherArgs `json:"cipherparams"`
	KDF          string             `json:"kdf"`
	KDFParams    keystoreScryptArgs `json:"kdfparams"`
	MAC          string             `json:"mac"`
}

type keystoreCipherArgs struct {
	IV string `json:"iv"`
}

type keystoreScryptArgs struct {
	DKLen int    `json:"dklen"`
	N     int    `json:"n"`
	P     int    `json:"p"`
	R     int    `json:"r"`
	Salt  string `json:"salt"`
}

// Keystore is a directory of encrypted key files (default
// ~/.ckb-cli/keystore).
type Keystore struct {
	dir     string
	entries map[[20]byte]*keystoreFile
}

// DefaultKeystoreDir returns ~/.ckb-cli/keystore.
func DefaultKeystoreDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "locate home directory")
	}
	return filepath.Join(home, ".ckb-cli", "keystore"), nil
}

// OpenKeystore indexes every key file in dir by account. Files that are not
// keystore JSON are skipped.
func OpenKeystore(dir string) (*Keystore, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "try to load from directory %s", dir)
	}

	ks := &Keystore{dir: dir, entries: make(map[[20]byte]*keystoreFile)}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", e.Name())
		}
		var f keystoreFile
		if err := json.Unmarshal(data, &f); err != nil || f.Version != keystoreVersion {
			continue
		}
		account, err := parseAccount(f.Address)
		if err != nil {
			continue
		}
		ks.entries[account] = &f
	}
	return ks, nil
}

// Accounts lists the accounts present in the keystore.
func (ks *Keystore) Accounts() [][20]byte {
	out := make([][20]byte, 0, len(ks.entries))
	for a := range ks.entries {
		out = append(out, a)
	}
	return out
}

// ExportKey decrypts the key of account with password.
func (ks *Keystore) ExportKey(account [20]byte, password []byte) (*PrivateKey, error) {
	f, ok := ks.entries[account]
	if !ok {
		return nil, errors.Wrapf(ErrAccountNotFound, "try to export key of 0x%x", account[:])
	}
	plain, err := decryptKeystore(f, password)
	if err != nil {
		return nil, errors.Wrapf(err, "try to export key of 0x%x", account[:])
	}
	defer zeroBytes(plain)

	if len(plain) < PrivateKeySize {
		return nil, errors.Errorf("keystore plaintext is %d bytes", len(plain))
	}
	key, err := PrivateKeyFromBytes(plain[:PrivateKeySize])
	if err != nil {
		return nil, err
	}
	if key.PublicKey().Blake160() != account {
		key.Zero()
		return nil, errors.Errorf("keystore entry 0x%x holds a key for another account", account[:])
	}
	return key, nil
}

func decryptKeystore(f *keystoreFile, password []byte) ([]byte, error) {
	c := f.Crypto
	if c.Cipher != keystoreCipher {
		return nil, errors.Errorf("unsupported cipher %q", c.Cipher)
	}
	if c.KDF != keystoreKDF {
		return nil, errors.Errorf("unsupported kdf %q", c.KDF)
	}

	salt, err := hex.DecodeString(c.KDFParams.Salt)
	if err != nil {
		return nil, errors.Wrap(err, "salt")
	}
	iv, err := hex.DecodeString(c.CipherParams.IV)
	if err != nil {
		return nil, errors.Wrap(err, "iv")
	}
	cipherText, err := hex.DecodeString(c.CipherText)
	if err != nil {
		return nil, errors.Wrap(err, "ciphertext")
	}
	mac, err := hex.DecodeString(c.MAC)
	if err != nil {
		return nil, errors.Wrap(err, "mac")
	}

	derived, err := scrypt.Key(password, salt, c.KDFParams.N, c.KDFParams.R, c.KDFParams.P, c.KDFParams.DKLen)
	if err != nil {
		return nil, errors.Wrap(err, "scrypt")
	}
	defer zeroBytes(derived)
	if len(derived) < 32 {
		return nil, errors.Errorf("dklen %d too short", len(derived))
	}

	expected := Keccak256(derived[16:32], cipherText)
	if subtle.ConstantTimeCompare(expected[:], mac) != 1 {
		return nil, ErrWrongPassword
	}
	return aesCTR(derived[:16], iv, cipherText)
}

// EncryptKeystore writes key as a keystore file into dir and returns its
// path. scryptN/scryptP select the KDF cost.
func EncryptKeystore(dir string, key *PrivateKey, password []byte, scryptN, scryptP int) (string, error) {
	salt := make([]byte, 32)
	iv := make([]byte, aes.BlockSize)
	chainCode := make([]byte, 32)
	for _, b := range [][]byte{salt, iv, chainCode} {
		if _, err := io.ReadFull(rand.Reader, b); err != nil {
			return "", errors.Wrap(err, "read randomness")
		}
	}

	derived, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, scryptDKLen)
	if err != nil {
		return "", errors.Wrap(err, "scrypt")
	}
	defer zeroBytes(derived)

	plain := append(key.key.Serialize(), chainCode...)
	defer zeroBytes(plain)
	cipherText, err := aesCTR(derived[:16], iv, plain)
	if err != nil {
		return "", err
	}
	mac := Keccak256(derived[16:32], cipherText)

	account := key.PublicKey().Blake160()
	f := keystoreFile{
		Origin:  "ckb-cli",
		Address: hex.EncodeToString(account[:]),
		Crypto: keystoreCrypto{
			Cipher:       keystoreCipher,
			CipherText:   hex.EncodeToString(cipherText),
			CipherParams: keystoreCipherArgs{IV: hex.EncodeToString(iv)},
			KDF:          keystoreKDF,
			KDFParams: keystoreScryptArgs{
				DKLen: scryptDKLen,
				N:     scryptN,
				P:     scryptP,
				R:     scryptR,
				Salt:  hex.EncodeToString(salt),
			},
			MAC: hex.EncodeToString(mac[:]),
		},
		ID:      uuid.NewString(),
		Version: keystoreVersion,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errors.Wrap(err, "create keystore directory")
	}
	path := filepath.Join(dir, "UTC--"+f.ID+"--"+f.Address)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", errors.Wrap(err, "write keystore file")
	}
	return path, nil
}

func aesCTR(key, iv, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "aes")
	}
	if len(iv) != block.BlockSize() {
		return nil, errors.Errorf("iv must be %d bytes", block.BlockSize())
	}
	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)
	return out, nil
}

func parseAccount(s string) ([20]byte, error) {
	var out [20]byte
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, errors.Errorf("account must be 20 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// ParseAccount parses a 0x-hex 20-byte account (lock arg).
func ParseAccount(s string) ([20]byte, error) {
	a, err := parseAccount(s)
	return a, errors.Wrapf(err, "invalid account %q", s)
}
