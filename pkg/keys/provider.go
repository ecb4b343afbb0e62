package keys

import (
	"github.com/pkg/errors"
)

// Provider supplies signing keys for a single operation.
//
// Keys only live for the duration of fn: every implementation zeroes them
// when fn returns, whether it succeeded, failed or panicked.
type Provider interface {
	WithKeys(fn func(keys []*PrivateKey) error) error
}

// RawKeyProvider hands out keys given directly on the command line or in key
// files. The strings are parsed on each call.
type RawKeyProvider struct {
	Keys  []string // hex or WIF
	Files []string // key files, first line hex
}

// NewRawKeyProvider creates a provider over hex/WIF key strings.
func NewRawKeyProvider(keys ...string) *RawKeyProvider {
	return &RawKeyProvider{Keys: keys}
}

// WithKeys implements Provider.
func (p *RawKeyProvider) WithKeys(fn func([]*PrivateKey) error) error {
	var keys []*PrivateKey
	defer func() { zeroAll(keys) }()

	for i, s := range p.Keys {
		k, err := ParsePrivateKey(s)
		if err != nil {
			return errors.Wrapf(err, "key #%d", i)
		}
		keys = append(keys, k)
	}
	for _, path := range p.Files {
		k, err := ReadPrivateKeyFile(path)
		if err != nil {
			return errors.Wrapf(err, "key file %s", path)
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return errors.New("no private key supplied")
	}
	return fn(keys)
}

// KeystoreProvider decrypts one account from a ckb-cli keystore directory.
type KeystoreProvider struct {
	Dir      string
	Account  [20]byte
	Password func() ([]byte, error)
}

// WithKeys implements Provider.
func (p *KeystoreProvider) WithKeys(fn func([]*PrivateKey) error) error {
	if p.Password == nil {
		return errors.New("keystore provider has no password source")
	}
	password, err := p.Password()
	if err != nil {
		return errors.Wrap(err, "read keystore password")
	}
	defer zeroBytes(password)

	ks, err := OpenKeystore(p.Dir)
	if err != nil {
		return err
	}
	key, err := ks.ExportKey(p.Account, password)
	if err != nil {
		return err
	}
	defer key.Zero()
	return fn([]*PrivateKey{key})
}

func zeroAll(keys []*PrivateKey) {
	for _, k := range keys {
		k.Zero()
	}
}
