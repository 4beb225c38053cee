// Package fairness implements the provably-fair primitives: server seed
// generation, the public commitment, and the deterministic draw that any
// third party can recompute once a server seed is revealed.
package fairness

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// ServerSeedBytes is the amount of entropy drawn for every server seed.
const ServerSeedBytes = 32

// NewServerSeed returns a hex encoded server seed read from crypto/rand.
func NewServerSeed() (string, error) {
	buf := make([]byte, ServerSeedBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read randomness: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Commit returns the public commitment for a server seed: the lowercase hex
// SHA-256 digest of the seed string.
func Commit(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// VerifyCommitment reports whether serverSeed hashes to commitment.
func VerifyCommitment(serverSeed, commitment string) bool {
	return subtle.ConstantTimeCompare([]byte(Commit(serverSeed)), []byte(commitment)) == 1
}
