package service

import (
	"context"
	"fmt"

	"mysterypack/internal/catalog"
	"mysterypack/internal/fairness"
	"mysterypack/internal/storage"
)

// VerifyRequest is what a player submits to check a draw.
type VerifyRequest struct {
	ServerSeed  string `json:"server_seed"`
	ClientSeed  string `json:"client_seed"`
	Counter     uint64 `json:"counter"`
	ExpectedRaw uint32 `json:"draw_value"`
}

// VerifyResult reports a recomputed draw.
type VerifyResult struct {
	Valid      bool            `json:"valid"`
	Commitment string          `json:"commitment"`
	Recomputed fairness.Result `json:"recomputed"`
}

// OutcomeVerification recomputes a stored outcome end to end.
type OutcomeVerification struct {
	OutcomeID       string          `json:"outcome_id"`
	Valid           bool            `json:"valid"`
	CommitmentValid bool            `json:"commitment_valid"`
	DrawValid       bool            `json:"draw_valid"`
	PrizeValid      bool            `json:"prize_valid"`
	ServerSeed      string          `json:"server_seed"`
	Commitment      string          `json:"commitment"`
	ClientSeed      string          `json:"client_seed"`
	Counter         uint64          `json:"counter"`
	Recomputed      fairness.Result `json:"recomputed"`
	RecordedPrizeID string          `json:"recorded_prize_id"`
	RecomputedPrize string          `json:"recomputed_prize_id"`
	CatalogVersion  int64           `json:"catalog_version"`
	CatalogSnapshot []catalog.Entry `json:"catalog"`
}

// VerificationService recomputes draws from revealed seeds only. It never
// sees an active server seed.
type VerificationService struct{}

// NewVerificationService creates a new verification service
func NewVerificationService() *VerificationService {
	return &VerificationService{}
}

// Verify recomputes a draw. The server seed must belong to a pair that was
// committed and then revealed by rotation.
func (s *VerificationService) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if req.ServerSeed == "" {
		return nil, invalid("server_seed", "required")
	}
	if req.ClientSeed == "" {
		return nil, invalid("client_seed", "required")
	}

	commitment := fairness.Commit(req.ServerSeed)
	seed, err := storage.GetSeedByCommitment(ctx, storage.DB(), commitment)
	if err != nil {
		return nil, err
	}
	if seed == nil || !seed.Revealed() {
		return nil, ErrSeedNotRevealed
	}

	v := fairness.Verify(req.ServerSeed, req.ClientSeed, req.Counter, req.ExpectedRaw)
	return &VerifyResult{Valid: v.Valid, Commitment: commitment, Recomputed: v.Recomputed}, nil
}

// VerifyOutcome recomputes an outcome from its revealed seed and the catalog
// version it was drawn against. An empty userID skips the ownership check.
func (s *VerificationService) VerifyOutcome(ctx context.Context, userID, outcomeID string) (*OutcomeVerification, error) {
	db := storage.DB()
	o, err := storage.GetOutcome(ctx, db, outcomeID)
	if err != nil {
		return nil, err
	}
	if o == nil || (userID != "" && o.UserID != userID) {
		return nil, ErrOutcomeNotFound
	}

	seed, err := storage.GetSeedByID(ctx, db, o.SeedPairID)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		return nil, fmt.Errorf("seed pair %s of outcome %s missing", o.SeedPairID, o.ID)
	}
	if !seed.Revealed() {
		return nil, ErrSeedNotRevealed
	}

	entries, err := storage.GetPackEntries(ctx, db, o.PackID, o.CatalogVersion)
	if err != nil {
		return nil, err
	}

	v := fairness.Verify(seed.ServerSeed, o.ClientSeed, o.Counter, o.DrawValue)
	out := &OutcomeVerification{
		OutcomeID:       o.ID,
		CommitmentValid: fairness.VerifyCommitment(seed.ServerSeed, o.Commitment),
		DrawValid:       v.Valid,
		ServerSeed:      seed.ServerSeed,
		Commitment:      o.Commitment,
		ClientSeed:      o.ClientSeed,
		Counter:         o.Counter,
		Recomputed:      v.Recomputed,
		RecordedPrizeID: o.PrizeID,
		CatalogVersion:  o.CatalogVersion,
		CatalogSnapshot: entries,
	}
	if prize, err := catalog.SelectPrize(v.Recomputed.Raw, entries); err == nil {
		out.RecomputedPrize = prize
		out.PrizeValid = prize == o.PrizeID
	}
	out.Valid = out.CommitmentValid && out.DrawValid && out.PrizeValid
	return out, nil
}
