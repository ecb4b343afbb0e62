package omnilock

import (
	"bytes"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
)

// IdentityFlag selects the authorization scheme (first byte of the lock args).
type IdentityFlag uint8

// Supported identity flags.
const (
	FlagPubkeyHash IdentityFlag = 0x00
	FlagEthereum   IdentityFlag = 0x01
	FlagMultisig   IdentityFlag = 0x06
)

var identityFlagNames = map[IdentityFlag]string{
	FlagPubkeyHash: "PubkeyHash",
	FlagEthereum:   "Ethereum",
	FlagMultisig:   "Multisig",
}

func (f IdentityFlag) String() string {
	if name, ok := identityFlagNames[f]; ok {
		return name
	}
	return "Unknown"
}

func (f IdentityFlag) MarshalText() ([]byte, error) {
	name, ok := identityFlagNames[f]
	if !ok {
		return nil, configError("unsupported identity flag 0x%02x", uint8(f))
	}
	return []byte(name), nil
}

func (f *IdentityFlag) UnmarshalText(text []byte) error {
	for flag, name := range identityFlagNames {
		if name == string(text) {
			*f = flag
			return nil
		}
	}
	return configError("unsupported identity flag %q", text)
}

// Flags is the omnilock flags byte following the identity in the args.
type Flags uint8

// Omnilock flag bits. Only FlagsOpentx is supported here; the other modes
// append extra args this tool does not build.
const (
	FlagsAdmin    Flags = 0x01
	FlagsACP      Flags = 0x02
	FlagsTimeLock Flags = 0x04
	FlagsSupply   Flags = 0x08
	FlagsOpentx   Flags = 0x10
)

// Identity is the identity flag and the 20-byte auth content.
type Identity struct {
	Flag        IdentityFlag
	AuthContent [20]byte
}

// Config is the authorization scheme of an envelope. It is immutable once
// any signature exists.
type Config struct {
	ID       Identity
	Multisig *MultisigConfig // set iff ID.Flag == FlagMultisig
	Flags    Flags
	Opentx   *OpentxWitness // set only in opentx mode, after generation
}

// NewPubkeyHashConfig is the scheme of a blake160(compressed pubkey) owner.
func NewPubkeyHashConfig(pubkeyHash [20]byte) *Config {
	return &Config{ID: Identity{Flag: FlagPubkeyHash, AuthContent: pubkeyHash}}
}

// NewEthereumConfig is the scheme of an Ethereum address owner.
func NewEthereumConfig(address [20]byte) *Config {
	return &Config{ID: Identity{Flag: FlagEthereum, AuthContent: address}}
}

// NewMultisigScheme is the scheme of an M-of-N multisig.
func NewMultisigScheme(m *MultisigConfig) (*Config, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &Config{
		ID:       Identity{Flag: FlagMultisig, AuthContent: m.Hash160()},
		Multisig: m,
	}, nil
}

// Validate re-checks the construction invariants. Loaded configs are
// validated before use because they come from files.
func (c *Config) Validate() error {
	switch c.ID.Flag {
	case FlagPubkeyHash, FlagEthereum:
		if c.Multisig != nil {
			return configError("%s scheme must not carry a multisig config", c.ID.Flag)
		}
	case FlagMultisig:
		if c.Multisig == nil {
			return configError("multisig scheme without multisig config")
		}
		if err := c.Multisig.Validate(); err != nil {
			return err
		}
		if c.Multisig.Hash160() != c.ID.AuthContent {
			return configError("multisig auth content does not match its config")
		}
	default:
		return configError("unsupported identity flag 0x%02x", uint8(c.ID.Flag))
	}

	if c.Flags&^FlagsOpentx != 0 {
		return configError("unsupported omnilock flags 0x%02x", uint8(c.Flags))
	}
	if c.Opentx != nil {
		if !c.IsOpentx() {
			return configError("opentx input set without opentx mode")
		}
		if err := c.Opentx.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsOpentx reports whether the open-transaction mode flag is set.
func (c *Config) IsOpentx() bool {
	return c.Flags&FlagsOpentx != 0
}

// SetOpentxMode turns on open-transaction mode.
func (c *Config) SetOpentxMode() {
	c.Flags |= FlagsOpentx
}

// Args returns the lock script args: flag || auth content || omnilock flags.
func (c *Config) Args() []byte {
	out := make([]byte, 0, 22)
	out = append(out, byte(c.ID.Flag))
	out = append(out, c.ID.AuthContent[:]...)
	return append(out, byte(c.Flags))
}

// LockScript is the OmniLock script of this scheme for the deployed script
// type hash.
func (c *Config) LockScript(omnilockTypeHash ckb.Hash) ckb.Script {
	return ckb.Script{CodeHash: omnilockTypeHash, HashType: ckb.HashTypeType, Args: c.Args()}
}

// ParseArgs is the inverse of Args for the supported flags. Multisig members
// cannot be recovered from args, so a multisig identity needs its config
// from elsewhere.
func ParseArgs(args []byte) (Identity, Flags, error) {
	if len(args) != 22 {
		return Identity{}, 0, configError("omnilock args must be 22 bytes, got %d", len(args))
	}
	id := Identity{Flag: IdentityFlag(args[0])}
	if _, ok := identityFlagNames[id.Flag]; !ok {
		return Identity{}, 0, configError("unsupported identity flag 0x%02x", args[0])
	}
	copy(id.AuthContent[:], args[1:21])
	return id, Flags(args[21]), nil
}

// Equal reports whether two configs describe the same scheme.
func (c *Config) Equal(other *Config) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.ID != other.ID || c.Flags != other.Flags {
		return false
	}
	if (c.Multisig == nil) != (other.Multisig == nil) {
		return false
	}
	if c.Multisig != nil && !bytes.Equal(c.Multisig.WitnessData(), other.Multisig.WitnessData()) {
		return false
	}
	if (c.Opentx == nil) != (other.Opentx == nil) {
		return false
	}
	return c.Opentx == nil ||
		(c.Opentx.Salt == other.Opentx.Salt && bytes.Equal(c.Opentx.WitnessData(), other.Opentx.WitnessData()))
}

// The persisted layout follows the serde shape of ckb-sdk's OmniLockConfig,
// so envelopes stay readable by the Rust tooling.

type identityJSON struct {
	Flag        IdentityFlag  `json:"flag"`
	AuthContent hexutil.Bytes `json:"auth_content"`
}

type flagsJSON struct {
	Bits uint8 `json:"bits"`
}

type configJSON struct {
	ID             identityJSON    `json:"id"`
	MultisigConfig *MultisigConfig `json:"multisig_config"`
	OmniLockFlags  flagsJSON       `json:"omni_lock_flags"`
	AdminConfig    json.RawMessage `json:"admin_config"`
	AcpConfig      json.RawMessage `json:"acp_config"`
	TimeLockConfig json.RawMessage `json:"time_lock_config"`
	InfoCell       json.RawMessage `json:"info_cell"`
	OpentxInput    *OpentxWitness  `json:"opentx_input"`
}

var jsonNull = json.RawMessage("null")

func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(configJSON{
		ID:             identityJSON{Flag: c.ID.Flag, AuthContent: c.ID.AuthContent[:]},
		MultisigConfig: c.Multisig,
		OmniLockFlags:  flagsJSON{Bits: uint8(c.Flags)},
		AdminConfig:    jsonNull,
		AcpConfig:      jsonNull,
		TimeLockConfig: jsonNull,
		InfoCell:       jsonNull,
		OpentxInput:    c.Opentx,
	})
}

// UnmarshalJSON decodes and validates a config.
func (c *Config) UnmarshalJSON(data []byte) error {
	var v configJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	for name, raw := range map[string]json.RawMessage{
		"admin_config":     v.AdminConfig,
		"acp_config":       v.AcpConfig,
		"time_lock_config": v.TimeLockConfig,
		"info_cell":        v.InfoCell,
	} {
		if len(raw) != 0 && !bytes.Equal(raw, jsonNull) {
			return configError("%s is not supported", name)
		}
	}
	if len(v.ID.AuthContent) != 20 {
		return configError("auth content must be 20 bytes, got %d", len(v.ID.AuthContent))
	}

	out := Config{
		ID:       Identity{Flag: v.ID.Flag},
		Multisig: v.MultisigConfig,
		Flags:    Flags(v.OmniLockFlags.Bits),
		Opentx:   v.OpentxInput,
	}
	copy(out.ID.AuthContent[:], v.ID.AuthContent)
	if err := out.Validate(); err != nil {
		return err
	}
	*c = out
	return nil
}
