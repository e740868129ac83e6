package pipecache

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// The processing-history hash chain uses a multiplicative/XOR fold (seed
// 5381, hash = hash*33 ^ byte). It is deliberately simple and stable across
// runs: two pipeline evaluations with identical history must produce
// identical line identities, and a weak collision is tolerable because a hit
// additionally requires an exact size match.
const hashSeed = uint64(5381)

// invalidHash marks a line that holds no identifiable data. All-ones, so an
// empty line can never satisfy a lookup for a real history hash.
const invalidHash = ^uint64(0)

// HashParams derives a stage's parameter hash from its raw parameter blob.
// Stages precompute this once per parameter edit; the history fold then
// consumes the 64-bit digest instead of re-hashing the blob every query.
func HashParams(params []byte) uint64 {
	return xxhash.Sum64(params)
}

func foldBytes(h uint64, b []byte) uint64 {
	for _, c := range b {
		h = ((h << 5) + h) ^ uint64(c)
	}
	return h
}

// foldWord folds a whole 64-bit digest in one step, the way stage parameter
// hashes enter the chain.
func foldWord(h, v uint64) uint64 {
	return ((h << 5) + h) ^ v
}

func foldFloats(h uint64, fs []float32) uint64 {
	var b [4]byte
	for _, f := range fs {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
		h = foldBytes(h, b[:])
	}
	return h
}
