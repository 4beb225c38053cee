package fairness

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
)

// RollRange is the modulus of the human-readable roll shown by verifiers.
const RollRange = 100000

// Result is one deterministic draw.
//
// Raw drives prize selection. Roll is Raw modulo RollRange and exists only for
// display; both are derived from the same digest so they always agree.
type Result struct {
	Raw  uint32 `json:"raw"`
	Roll uint32 `json:"roll"`
	Hash string `json:"hash"`
}

// Input builds the exact byte string that is hashed for a draw:
// serverSeed ":" clientSeed ":" decimal counter.
func Input(serverSeed, clientSeed string, counter uint64) string {
	return serverSeed + ":" + clientSeed + ":" + strconv.FormatUint(counter, 10)
}

// Draw derives the draw for (serverSeed, clientSeed, counter). It has no
// hidden state and never touches the counter.
func Draw(serverSeed, clientSeed string, counter uint64) Result {
	sum := sha256.Sum256([]byte(Input(serverSeed, clientSeed, counter)))
	raw := binary.BigEndian.Uint32(sum[:4])
	return Result{
		Raw:  raw,
		Roll: raw % RollRange,
		Hash: hex.EncodeToString(sum[:]),
	}
}
