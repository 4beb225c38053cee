package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"mysterypack/internal/catalog"
	"mysterypack/internal/fairness"
	"mysterypack/internal/lock"
	"mysterypack/internal/logger"
	"mysterypack/internal/metrics"
	"mysterypack/internal/storage"
)

// DefaultResellPercent is the share of a prize's market value credited back
// on resell when neither config nor the pack override it.
const DefaultResellPercent = 70

const maxIdempotencyKeyLength = 128

// OpenRequest is a request to open one pack.
type OpenRequest struct {
	UserID         string `json:"-"`
	PackID         string `json:"pack_id"`
	IdempotencyKey string `json:"idempotency_key"`
	ClientSeed     string `json:"client_seed,omitempty"`
}

// OpenResult is everything a client needs to verify the draw once the seed
// is revealed. Replays return the stored values unchanged.
type OpenResult struct {
	OutcomeID          string `json:"outcome_id"`
	PackID             string `json:"pack_id"`
	SelectedPrizeID    string `json:"selected_prize_id"`
	CostCharged        int64  `json:"cost_charged"`
	NewBalance         int64  `json:"new_balance"`
	SeedCommitmentUsed string `json:"seed_commitment_used"`
	ClientSeedUsed     string `json:"client_seed_used"`
	CounterUsed        uint64 `json:"counter_used"`
	DrawValue          uint32 `json:"draw_value"`
	Roll               uint32 `json:"roll"`
	CatalogVersion     int64  `json:"catalog_version"`
	Replayed           bool   `json:"replayed"`
}

func resultOf(o *storage.Outcome, replayed bool) *OpenResult {
	return &OpenResult{
		OutcomeID:          o.ID,
		PackID:             o.PackID,
		SelectedPrizeID:    o.PrizeID,
		CostCharged:        o.Cost,
		NewBalance:         o.NewBalance,
		SeedCommitmentUsed: o.Commitment,
		ClientSeedUsed:     o.ClientSeed,
		CounterUsed:        o.Counter,
		DrawValue:          o.DrawValue,
		Roll:               o.Roll,
		CatalogVersion:     o.CatalogVersion,
		Replayed:           replayed,
	}
}

// PackService opens packs and manages what happens to the prizes afterwards.
type PackService struct {
	locker        lock.Locker
	retry         RetryPolicy
	seeds         *SeedService
	resellPercent int64
	notifier      Notifier

	// persist writes the outcome row; replaced in tests to inject failures.
	persist func(ctx context.Context, tx *sql.Tx, o *storage.Outcome) error
}

// NewPackService creates a new pack service
func NewPackService(locker lock.Locker, retry RetryPolicy, seeds *SeedService, resellPercent int64) *PackService {
	if resellPercent < 0 || resellPercent > 100 {
		resellPercent = DefaultResellPercent
	}
	return &PackService{
		locker:        locker,
		retry:         retry,
		seeds:         seeds,
		resellPercent: resellPercent,
		persist: func(ctx context.Context, tx *sql.Tx, o *storage.Outcome) error {
			return storage.CreateOutcome(ctx, tx, o)
		},
	}
}

// SetNotifier sets where redemption notices are sent
func (s *PackService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *PackService) validateOpen(req OpenRequest) error {
	if req.UserID == "" {
		return invalid("user_id", "required")
	}
	if req.PackID == "" {
		return invalid("pack_id", "required")
	}
	if req.IdempotencyKey == "" {
		return invalid("idempotency_key", "required")
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLength {
		return invalid("idempotency_key", fmt.Sprintf("longer than %d bytes", maxIdempotencyKeyLength))
	}
	if req.ClientSeed != "" {
		if err := s.seeds.ValidateClientSeed(req.ClientSeed); err != nil {
			return err
		}
	}
	return nil
}

// Open draws a prize from a pack and charges for it as one atomic unit:
// debit, outcome row and counter advance commit together or not at all. A
// key that was already used returns the original result.
func (s *PackService) Open(ctx context.Context, req OpenRequest) (*OpenResult, error) {
	if err := s.validateOpen(req); err != nil {
		metrics.RecordPackOpen(req.PackID, "validation", 0)
		return nil, err
	}

	start := time.Now()
	var result *OpenResult
	var failure error
	err := inUserTx(ctx, s.locker, s.retry, "pack_open", req.UserID, func(tx *sql.Tx) error {
		var err error
		result, failure, err = s.openTx(ctx, tx, req)
		return err
	})
	if err == nil {
		err = failure
	}

	metrics.RecordPackOpen(req.PackID, openResultLabel(result, err), time.Since(start))
	if err != nil {
		logger.Debug(req.UserID, "pack_open_failed", fmt.Sprintf("pack_id=%s key=%s error=%v", req.PackID, req.IdempotencyKey, err))
		return nil, err
	}
	return result, nil
}

// openTx runs one attempt inside tx. A non-nil failure with a nil err means
// the debit was compensated and tx must still be committed.
func (s *PackService) openTx(ctx context.Context, tx *sql.Tx, req OpenRequest) (*OpenResult, error, error) {
	if prior, err := s.priorOutcome(ctx, tx, req); prior != nil || err != nil {
		return prior, nil, err
	}

	pack, err := storage.GetPack(ctx, tx, req.PackID)
	if err != nil {
		return nil, nil, err
	}
	if pack == nil {
		return nil, nil, ErrPackNotFound
	}
	entries, err := storage.GetPackEntries(ctx, tx, pack.ID, pack.ActiveVersion)
	if err != nil {
		return nil, nil, err
	}
	if len(entries) == 0 {
		return nil, nil, fmt.Errorf("pack %s: %w", pack.ID, ErrEmptyCatalog)
	}

	account, err := loadAccount(ctx, tx, req.UserID)
	if err != nil {
		return nil, nil, err
	}
	if account.Spendable() < pack.GemCost {
		return nil, nil, &InsufficientFundsError{Required: pack.GemCost, Available: account.Spendable()}
	}

	seed, err := s.seeds.activeForDraw(ctx, tx, req.UserID)
	if err != nil {
		return nil, nil, err
	}
	clientSeed := seed.ClientSeed
	if req.ClientSeed != "" {
		clientSeed = req.ClientSeed
	}

	draw := fairness.Draw(seed.ServerSeed, clientSeed, seed.Counter)
	prizeID, err := catalog.SelectPrize(draw.Raw, entries)
	if err != nil {
		return nil, nil, fmt.Errorf("pack %s: %w", pack.ID, err)
	}

	outcomeID := uuid.NewString()
	debit, err := debitTx(ctx, tx, EntryRequest{
		UserID:         req.UserID,
		Amount:         pack.GemCost,
		Type:           storage.TxPackOpenDebit,
		IdempotencyKey: "pack_open:" + outcomeID,
		ReferenceID:    outcomeID,
		Metadata: map[string]string{
			"pack_id":  pack.ID,
			"prize_id": prizeID,
			"counter":  strconv.FormatUint(seed.Counter, 10),
		},
	})
	if err != nil {
		return nil, nil, err
	}

	outcome := &storage.Outcome{
		ID:             outcomeID,
		UserID:         req.UserID,
		PackID:         pack.ID,
		PrizeID:        prizeID,
		CatalogVersion: pack.ActiveVersion,
		SeedPairID:     seed.ID,
		Commitment:     seed.Commitment,
		ClientSeed:     clientSeed,
		Counter:        seed.Counter,
		DrawValue:      draw.Raw,
		Roll:           draw.Roll,
		Cost:           pack.GemCost,
		NewBalance:     debit.BalanceAfter,
		IdempotencyKey: req.IdempotencyKey,
		DebitTxID:      debit.ID,
		Status:         storage.StatusInInventory,
	}

	// The client seed change belongs to the draw and is undone with it.
	recordErr := storage.Savepoint(ctx, tx, "record_outcome", func() error {
		if err := s.seeds.applyClientSeed(ctx, tx, seed, clientSeed); err != nil {
			return err
		}
		if err := s.persist(ctx, tx, outcome); err != nil {
			return err
		}
		return s.seeds.advance(ctx, tx, seed)
	})
	if recordErr != nil {
		return s.compensate(ctx, tx, req, debit, recordErr)
	}

	logger.Debug(req.UserID, "pack_opened", fmt.Sprintf("outcome_id=%s pack_id=%s prize_id=%s counter=%d raw=%d cost=%d balance=%d",
		outcome.ID, pack.ID, prizeID, outcome.Counter, draw.Raw, pack.GemCost, debit.BalanceAfter))
	return resultOf(outcome, false), nil, nil
}

func (s *PackService) priorOutcome(ctx context.Context, q storage.Querier, req OpenRequest) (*OpenResult, error) {
	prior, err := storage.GetOutcomeByKey(ctx, q, req.UserID, req.IdempotencyKey)
	if err != nil || prior == nil {
		return nil, err
	}
	if prior.PackID != req.PackID {
		return nil, invalid("idempotency_key", "already used for a different pack")
	}
	return resultOf(prior, true), nil
}

// compensate reverses debit after the outcome could not be recorded. If the
// reversal itself fails the whole attempt is rolled back instead.
func (s *PackService) compensate(ctx context.Context, tx *sql.Tx, req OpenRequest, debit *storage.Transaction, cause error) (*OpenResult, error, error) {
	refund, err := reverseTx(ctx, tx, debit, "pack_open_reversal:"+debit.ReferenceID, map[string]string{
		"reason": "outcome_not_recorded",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reverse debit %s: %w (after: %v)", debit.ID, err, cause)
	}
	logger.Warn("pack_open_compensated", fmt.Sprintf("user_id=%s debit=%s refund=%s cause=%v", req.UserID, debit.ID, refund.ID, cause))

	// A concurrent request with the same key won the slot.
	if errors.Is(cause, storage.ErrDuplicate) {
		prior, err := s.priorOutcome(ctx, tx, req)
		if err != nil {
			return nil, nil, err
		}
		if prior != nil {
			return prior, nil, nil
		}
	}

	if IsRetryable(cause) {
		return nil, &TransientError{Op: "pack_open", Err: cause}, nil
	}
	return nil, fmt.Errorf("record outcome: %w", cause), nil
}

func openResultLabel(r *OpenResult, err error) string {
	var funds *InsufficientFundsError
	switch {
	case err == nil && r != nil && r.Replayed:
		return "replayed"
	case err == nil:
		return "ok"
	case errors.As(err, &funds):
		return "insufficient_funds"
	case errors.Is(err, ErrEmptyCatalog):
		return "empty_catalog"
	case errors.Is(err, ErrPackNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidClientSeed):
		return "validation"
	case errors.Is(err, ErrTransient):
		return "transient"
	}
	return "error"
}

// PackSummary is a pack as listed in the store.
type PackSummary struct {
	storage.Pack
	EntryCount int `json:"entry_count"`
}

// ListPacks returns packs that have a published catalog.
func (s *PackService) ListPacks(ctx context.Context) ([]PackSummary, error) {
	db := storage.DB()
	packs, err := storage.ListPacks(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]PackSummary, 0, len(packs))
	for _, p := range packs {
		if p.ActiveVersion == 0 {
			continue
		}
		entries, err := storage.GetPackEntries(ctx, db, p.ID, p.ActiveVersion)
		if err != nil {
			return nil, err
		}
		out = append(out, PackSummary{Pack: p, EntryCount: len(entries)})
	}
	return out, nil
}

// PackOdds is the public odds disclosure of a pack's active catalog.
type PackOdds struct {
	PackID         string             `json:"pack_id"`
	Name           string             `json:"name"`
	GemCost        int64              `json:"gem_cost"`
	CatalogVersion int64              `json:"catalog_version"`
	Disclosure     catalog.Disclosure `json:"odds"`
}

// Odds discloses the active catalog of a pack.
func (s *PackService) Odds(ctx context.Context, packID string) (*PackOdds, error) {
	if packID == "" {
		return nil, invalid("pack_id", "required")
	}
	db := storage.DB()
	pack, err := storage.GetPack(ctx, db, packID)
	if err != nil {
		return nil, err
	}
	if pack == nil {
		return nil, ErrPackNotFound
	}
	entries, err := storage.GetPackEntries(ctx, db, pack.ID, pack.ActiveVersion)
	if err != nil {
		return nil, err
	}
	d, err := catalog.ComputeOdds(entries, catalog.DefaultDecimals)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", pack.ID, err)
	}
	return &PackOdds{
		PackID:         pack.ID,
		Name:           pack.Name,
		GemCost:        pack.GemCost,
		CatalogVersion: pack.ActiveVersion,
		Disclosure:     d,
	}, nil
}

// ReplaceCatalog publishes a new weighted table for a pack. Outcomes already
// drawn keep the version they were drawn against.
func (s *PackService) ReplaceCatalog(ctx context.Context, packID string, entries []catalog.Entry) (int64, error) {
	if _, err := catalog.TotalWeight(entries); err != nil {
		return 0, invalid("entries", err.Error())
	}
	var version int64
	err := storage.WithTx(ctx, func(tx *sql.Tx) error {
		pack, err := storage.GetPack(ctx, tx, packID)
		if err != nil {
			return err
		}
		if pack == nil {
			return ErrPackNotFound
		}
		for _, e := range entries {
			prize, err := storage.GetPrize(ctx, tx, e.PrizeID)
			if err != nil {
				return err
			}
			if prize == nil {
				return invalid("entries", fmt.Sprintf("unknown prize %q", e.PrizeID))
			}
		}
		version, err = storage.PublishPack(ctx, tx, pack, entries, storage.CatalogSourceAdmin)
		return err
	})
	if err != nil {
		return 0, err
	}
	logger.Info("catalog_replaced", fmt.Sprintf("pack_id=%s version=%d entries=%d", packID, version, len(entries)))
	return version, nil
}

// ListOutcomes returns the user's prizes, newest first, optionally filtered by status.
func (s *PackService) ListOutcomes(ctx context.Context, userID string, status storage.RedemptionStatus, limit, offset int) ([]storage.Outcome, error) {
	if userID == "" {
		return nil, invalid("user_id", "required")
	}
	if status != "" && !validStatus(status) {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	if offset < 0 {
		offset = 0
	}
	outcomes, err := storage.ListOutcomes(ctx, storage.DB(), userID, status, clampLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	if outcomes == nil {
		outcomes = []storage.Outcome{}
	}
	return outcomes, nil
}

// GetOutcome returns one of the user's outcomes.
func (s *PackService) GetOutcome(ctx context.Context, userID, outcomeID string) (*storage.Outcome, error) {
	o, err := storage.GetOutcome(ctx, storage.DB(), outcomeID)
	if err != nil {
		return nil, err
	}
	if o == nil || o.UserID != userID {
		return nil, ErrOutcomeNotFound
	}
	return o, nil
}

// TransparencyStats extends the stored aggregates with derived figures and
// every pack's disclosure.
type TransparencyStats struct {
	*storage.Stats
	PayoutPercentage float64    `json:"payout_percentage"`
	Odds             []PackOdds `json:"odds"`
	LastUpdated      time.Time  `json:"last_updated"`
}

// Stats returns platform-wide statistics for the transparency page.
func (s *PackService) Stats(ctx context.Context) (*TransparencyStats, error) {
	now := time.Now().UTC()
	st, err := storage.GetStats(ctx, storage.DB(), now)
	if err != nil {
		return nil, err
	}

	out := &TransparencyStats{Stats: st, Odds: []PackOdds{}, LastUpdated: now}
	if st.TotalGemsSpent > 0 {
		out.PayoutPercentage = math.Round(float64(st.TotalPrizeValue)/float64(st.TotalGemsSpent)*10000) / 100
	}

	packs, err := s.ListPacks(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range packs {
		odds, err := s.Odds(ctx, p.ID)
		if errors.Is(err, ErrEmptyCatalog) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out.Odds = append(out.Odds, *odds)
	}
	return out, nil
}
