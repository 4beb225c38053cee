package fairness

// Verification is the outcome of recomputing a draw from revealed inputs.
type Verification struct {
	Valid      bool   `json:"valid"`
	Recomputed Result `json:"recomputed"`
}

// Verify recomputes the draw and compares it with the expected raw value.
func Verify(serverSeed, clientSeed string, counter uint64, expectedRaw uint32) Verification {
	res := Draw(serverSeed, clientSeed, counter)
	return Verification{Valid: res.Raw == expectedRaw, Recomputed: res}
}

// VerifyRoll is Verify for callers that only kept the 0-99999 roll.
func VerifyRoll(serverSeed, clientSeed string, counter uint64, expectedRoll uint32) Verification {
	res := Draw(serverSeed, clientSeed, counter)
	return Verification{Valid: res.Roll == expectedRoll, Recomputed: res}
}
