package omnilock

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
)

const (
	multisigVersion = 0
	// MaxMultisigMembers is bounded by the one-byte member count.
	MaxMultisigMembers = 255
	multisigHeaderSize = 4
)

// MultisigConfig is an ordered M-of-N list of blake160 pubkey hashes.
// The first RequireFirstN members must always sign.
type MultisigConfig struct {
	Members       [][20]byte
	RequireFirstN uint8
	Threshold     uint8
}

// NewMultisigConfig validates and builds a multisig config.
func NewMultisigConfig(members [][20]byte, requireFirstN, threshold uint8) (*MultisigConfig, error) {
	m := &MultisigConfig{
		Members:       append([][20]byte(nil), members...),
		RequireFirstN: requireFirstN,
		Threshold:     threshold,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the construction invariants.
func (m *MultisigConfig) Validate() error {
	n := len(m.Members)
	switch {
	case n == 0:
		return configError("multisig member list is empty")
	case n > MaxMultisigMembers:
		return configError("multisig has %d members, at most %d allowed", n, MaxMultisigMembers)
	case m.Threshold == 0:
		return configError("multisig threshold must be at least 1")
	case int(m.Threshold) > n:
		return configError("multisig threshold %d exceeds member count %d", m.Threshold, n)
	case m.RequireFirstN > m.Threshold:
		return configError("require_first_n %d exceeds threshold %d", m.RequireFirstN, m.Threshold)
	}

	seen := make(map[[20]byte]struct{}, n)
	for _, member := range m.Members {
		if _, dup := seen[member]; dup {
			return configError("duplicate multisig member 0x%x", member[:])
		}
		seen[member] = struct{}{}
	}
	return nil
}

// WitnessData is the serialized config that precedes the signature slots:
// version || require_first_n || threshold || N || N * blake160.
func (m *MultisigConfig) WitnessData() []byte {
	out := make([]byte, 0, multisigHeaderSize+20*len(m.Members))
	out = append(out, multisigVersion, m.RequireFirstN, m.Threshold, byte(len(m.Members)))
	for _, member := range m.Members {
		out = append(out, member[:]...)
	}
	return out
}

// Hash160 is the multisig auth content: blake160(WitnessData()).
func (m *MultisigConfig) Hash160() [20]byte {
	return ckb.Blake160(m.WitnessData())
}

// Index returns the slot position of id, or -1.
func (m *MultisigConfig) Index(id [20]byte) int {
	for i, member := range m.Members {
		if member == id {
			return i
		}
	}
	return -1
}

type multisigJSON struct {
	SighashAddresses []hexutil.Bytes `json:"sighash_addresses"`
	RequireFirstN    uint8           `json:"require_first_n"`
	Threshold        uint8           `json:"threshold"`
}

func (m MultisigConfig) MarshalJSON() ([]byte, error) {
	v := multisigJSON{
		SighashAddresses: make([]hexutil.Bytes, len(m.Members)),
		RequireFirstN:    m.RequireFirstN,
		Threshold:        m.Threshold,
	}
	for i := range m.Members {
		v.SighashAddresses[i] = append(hexutil.Bytes(nil), m.Members[i][:]...)
	}
	return json.Marshal(v)
}

func (m *MultisigConfig) UnmarshalJSON(data []byte) error {
	var v multisigJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	members := make([][20]byte, len(v.SighashAddresses))
	for i, a := range v.SighashAddresses {
		if len(a) != 20 {
			return configError("sighash address #%d is %d bytes, expected 20", i, len(a))
		}
		copy(members[i][:], a)
	}
	*m = MultisigConfig{Members: members, RequireFirstN: v.RequireFirstN, Threshold: v.Threshold}
	return nil
}
