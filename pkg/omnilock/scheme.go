package omnilock

import (
	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
	"github.com/suffix-labs/ckb-omnilock/pkg/keys"
)

// KeyIdentity returns the 20-byte identity of pub under this scheme:
// keccak160 of the uncompressed key for Ethereum, blake160 of the compressed
// key otherwise (multisig members are sighash pubkey hashes).
func (c *Config) KeyIdentity(pub *keys.PublicKey) [20]byte {
	if c.ID.Flag == FlagEthereum {
		return pub.Keccak160()
	}
	return pub.Blake160()
}

// SlotIndex returns the signature slot pub signs into, or -1 when pub is not
// an authorized identity.
func (c *Config) SlotIndex(pub *keys.PublicKey) int {
	id := c.KeyIdentity(pub)
	if c.ID.Flag == FlagMultisig {
		return c.Multisig.Index(id)
	}
	if id == c.ID.AuthContent {
		return 0
	}
	return -1
}

// MatchesIdentity reports whether pub may sign for this scheme.
func (c *Config) MatchesIdentity(pub *keys.PublicKey) bool {
	return c.SlotIndex(pub) >= 0
}

// SlotCount is the number of 65-byte signature slots in the lock.
func (c *Config) SlotCount() int {
	if c.ID.Flag == FlagMultisig {
		return len(c.Multisig.Members)
	}
	return 1
}

// CheckKeys fails with IdentityMismatch on the first key that is not an
// authorized identity. It runs before anything is signed.
func (c *Config) CheckKeys(ks []*keys.PrivateKey) error {
	for _, k := range ks {
		pub := k.PublicKey()
		if !c.MatchesIdentity(pub) {
			id := c.KeyIdentity(pub)
			return NewError(CodeIdentityMismatch, nil, "can not find hash 0x%x in omnilock config", id[:])
		}
	}
	return nil
}

// SigningDigest computes the digest signed for a script group. group lists
// the input indices of the group in order; the witness of group[0] must
// already hold the placeholder lock. Ethereum identities sign the
// personal_sign wrapping of the message.
func (c *Config) SigningDigest(tx *ckb.Transaction, group []int) (ckb.Hash, error) {
	if c.IsOpentx() {
		return ckb.Hash{}, configError("signing in open transaction mode is not supported")
	}
	if len(group) == 0 {
		return ckb.Hash{}, NewError(CodeUnlockError, nil, "empty script group")
	}
	first := group[0]
	if first >= len(tx.Witnesses) {
		return ckb.Hash{}, malformed("witness %d of the group is missing", first)
	}
	args, err := ckb.ParseWitnessArgs(tx.Witnesses[first])
	if err != nil {
		return ckb.Hash{}, NewError(CodeMalformedWitness, err, "witness %d", first)
	}
	args.Lock = Placeholder(c)

	message := ckb.SighashAll(tx, group, args.Serialize())
	if c.ID.Flag == FlagEthereum {
		message = keys.EthereumPersonalMessage(message)
	}
	return message, nil
}
