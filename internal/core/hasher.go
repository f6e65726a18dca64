package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "CollateralLedger:genesis:v1"

// StateHasher chains per-call digests into a running state hash
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: GenesisHash(),
	}
}

// GenesisHash is the chain tip before any call has been applied.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || call_digest)
// and advances the chain tip.
func (h *StateHasher) ComputeHash(sequence int64, callDigest []byte) [32]byte {
	hash := h.Next(sequence, callDigest)
	h.prevHash = hash
	return hash
}

// Next computes the hash that would follow the current tip without moving it.
func (h *StateHasher) Next(sequence int64, callDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	// sequence, 8 bytes LE
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(callDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// Restore moves the chain tip, used after loading the last persisted envelope.
func (h *StateHasher) Restore(tip [32]byte) {
	h.prevHash = tip
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}
