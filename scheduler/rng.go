package scheduler

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
)

// seedFromRunID derives a deterministic int64 seed from a run id by hashing
// it with SHA-256 and taking the first 8 bytes as a big-endian uint64. Two
// runs with the same id always produce the same seed, so the retry-backoff
// jitter drawn from it comes out the same each time (spec §9).
func seedFromRunID(runID string) int64 {
	sum := sha256.Sum256([]byte(runID))
	return int64(binary.BigEndian.Uint64(sum[:8])) //nolint:gosec // deterministic seeding, not security-sensitive
}

// newRunRNG returns the seeded RNG for an entire run.
func newRunRNG(runID string) *rand.Rand {
	return rand.New(rand.NewSource(seedFromRunID(runID))) //nolint:gosec // deterministic replay, not security
}

// newItemRNG derives a per-delivery RNG from the run's base seed XORed with
// the delivery's OrderKey, so the same logical delivery always draws the
// same random values regardless of goroutine scheduling (spec §9, mirroring
// the teacher's per-work-item RNG derivation).
func newItemRNG(baseSeed int64, orderKey uint64) *rand.Rand {
	itemSeed := baseSeed ^ int64(orderKey) //nolint:gosec // deterministic seeding, not security
	return rand.New(rand.NewSource(itemSeed))
}
