package core

import (
	"DexLedger/internal/dexerr"
	"DexLedger/internal/store"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
)

const GenesisHashSeed = "DexLedger:genesis:v1"

// KeyEngineHead stores the last applied sequence and its state hash
const KeyEngineHead = "engine_head"

// StateHasher chains state hashes across applied actions
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: GenesisHash(),
	}
}

func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// Next calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
// without moving the chain tip.
func (h *StateHasher) Next(sequence uint64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], sequence)
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// Advance moves the chain tip once the state behind hash is committed
func (h *StateHasher) Advance(hash [32]byte) {
	h.prevHash = hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// computeStateDigest hashes the sorted write-set of one action. Keys and
// values are length-prefixed so distinct write-sets never collide.
func computeStateDigest(ops []store.Op) []byte {
	sort.Slice(ops, func(i, j int) bool { return ops[i].Key < ops[j].Key })

	hasher := sha256.New()
	var lenBuf [8]byte
	for _, op := range ops {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(op.Key)))
		hasher.Write(lenBuf[:])
		hasher.Write([]byte(op.Key))
		if op.Delete {
			hasher.Write([]byte{1})
			continue
		}
		hasher.Write([]byte{0})
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(op.Value)))
		hasher.Write(lenBuf[:])
		hasher.Write(op.Value)
	}
	return hasher.Sum(nil)
}

// Head is the persisted chain tip
type Head struct {
	Sequence uint64
	Hash     [32]byte
}

type headJSON struct {
	Sequence uint64 `json:"sequence"`
	Hash     string `json:"hash"`
}

func loadHead(r store.Reader) (Head, error) {
	var j headJSON
	found, err := store.LoadJSON(r, KeyEngineHead, &j)
	if err != nil {
		return Head{}, err
	}
	if !found {
		return Head{Hash: GenesisHash()}, nil
	}
	raw, err := hex.DecodeString(j.Hash)
	if err != nil || len(raw) != 32 {
		return Head{}, fmt.Errorf("engine head hash %q: %w", j.Hash, dexerr.ErrCorruptRecord)
	}
	h := Head{Sequence: j.Sequence}
	copy(h.Hash[:], raw)
	return h, nil
}

func saveHead(w store.Writer, h Head) error {
	return store.SaveJSON(w, KeyEngineHead, headJSON{
		Sequence: h.Sequence,
		Hash:     hex.EncodeToString(h.Hash[:]),
	})
}
