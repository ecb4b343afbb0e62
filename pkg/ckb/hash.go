package ckb

import (
	"encoding/binary"
	"hash"

	blake2b "github.com/minio/blake2b-simd"
)

// Personalization used by every CKB blake2b-256 hash.
const hashPersonalization = "ckb-default-hash"

// NewHasher creates the CKB flavour of BLAKE2b-256. The personalization is a
// distinct BLAKE2b parameter, not a key.
func NewHasher() hash.Hash {
	h, err := blake2b.New(&blake2b.Config{
		Size:   32,
		Person: []byte(hashPersonalization),
	})
	if err != nil {
		// The config is constant; an error here is a programming bug.
		panic(err)
	}
	return h
}

// Blake256 hashes the concatenation of parts.
func Blake256(parts ...[]byte) Hash {
	h := NewHasher()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Blake160 returns the first 20 bytes of Blake256(data).
func Blake160(data []byte) [20]byte {
	full := Blake256(data)
	var out [20]byte
	copy(out[:], full[:20])
	return out
}

// Hash returns the transaction hash (hash of the raw transaction, witnesses
// excluded). Signing rounds never change it.
func (tx *Transaction) Hash() Hash {
	return Blake256(SerializeRawTransaction(tx))
}

// SerializedSize is the size the node charges fees for: the serialized
// transaction plus the 4-byte offset it takes inside a block.
func (tx *Transaction) SerializedSize() int {
	return len(SerializeTransaction(tx)) + numberSize
}

// Hash returns the script hash.
func (s *Script) Hash() Hash {
	return Blake256(SerializeScript(s))
}

// SighashAll computes the message signed by secp256k1-style locks for a
// script group:
//
//	blake256(tx_hash ||
//	         len || first group witness with its lock replaced by zeroLock ||
//	         len || other group witnesses ||
//	         len || witnesses past the last input)
//
// where len is a u64le byte length. firstWitness is the group's first witness
// already carrying zeroLock.
func SighashAll(tx *Transaction, group []int, firstWitness []byte) Hash {
	h := NewHasher()
	txHash := tx.Hash()
	h.Write(txHash[:])

	writeWitness := func(w []byte) {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(w)))
		h.Write(n[:])
		h.Write(w)
	}

	writeWitness(firstWitness)
	for _, idx := range group[1:] {
		if idx < len(tx.Witnesses) {
			writeWitness(tx.Witnesses[idx])
		} else {
			writeWitness(nil)
		}
	}
	for i := len(tx.Inputs); i < len(tx.Witnesses); i++ {
		writeWitness(tx.Witnesses[i])
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
