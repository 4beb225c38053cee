package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"mysterypack/internal/lock"
	"mysterypack/internal/logger"
	"mysterypack/internal/metrics"
	"mysterypack/internal/storage"
)

// Bucket names one of the three balances of an account.
type Bucket string

const (
	BucketPurchased   Bucket = "purchased"
	BucketPromotional Bucket = "promotional"
	BucketPending     Bucket = "pending"
)

// Transaction list bounds.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Balance is the per-bucket view of an account.
type Balance struct {
	Purchased   int64 `json:"purchased"`
	Promotional int64 `json:"promotional"`
	Pending     int64 `json:"pending"`
	Total       int64 `json:"total"` // spendable: purchased + promotional
}

func balanceOf(a *storage.Account) Balance {
	if a == nil {
		return Balance{}
	}
	return Balance{
		Purchased:   a.Purchased,
		Promotional: a.Promotional,
		Pending:     a.Pending,
		Total:       a.Spendable(),
	}
}

// EntryRequest describes one credit or debit.
type EntryRequest struct {
	UserID         string
	Amount         int64
	Type           storage.TxType
	IdempotencyKey string
	ReferenceID    string
	Metadata       map[string]string
	// Bucket overrides where a credit lands. Debits ignore it.
	Bucket Bucket
}

func (r EntryRequest) validate() error {
	if r.UserID == "" {
		return invalid("user_id", "required")
	}
	if r.Amount <= 0 {
		return invalid("amount", "must be positive")
	}
	if r.IdempotencyKey == "" {
		return invalid("idempotency_key", "required")
	}
	if !r.Type.Valid() {
		return invalid("type", fmt.Sprintf("unknown transaction type %q", r.Type))
	}
	return nil
}

// LedgerService owns the gem balances. Every mutation appends exactly one
// transaction row and moves the materialized account in the same SQL
// transaction.
type LedgerService struct {
	locker lock.Locker
	retry  RetryPolicy
}

// NewLedgerService creates a new ledger service
func NewLedgerService(locker lock.Locker, retry RetryPolicy) *LedgerService {
	return &LedgerService{locker: locker, retry: retry}
}

func userLockKey(userID string) string {
	return "user:" + userID
}

// inUserTx runs fn under the user's lock inside one SQL transaction, retrying
// on contention.
func inUserTx(ctx context.Context, locker lock.Locker, retry RetryPolicy, op, userID string, fn func(tx *sql.Tx) error) error {
	return withRetry(ctx, retry, op, func() error {
		unlock, err := locker.Lock(ctx, userLockKey(userID))
		if err != nil {
			return err
		}
		defer unlock()
		return storage.WithTx(ctx, fn)
	})
}

// GetBalance returns the user's balances. A user who never transacted has
// all-zero balances.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, invalid("user_id", "required")
	}
	a, err := storage.GetAccount(ctx, storage.DB(), userID)
	if err != nil {
		return Balance{}, err
	}
	return balanceOf(a), nil
}

// Credit adds gems. Replaying an idempotency key returns the original
// transaction without applying anything.
func (s *LedgerService) Credit(ctx context.Context, req EntryRequest) (*storage.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	var result *storage.Transaction
	err := inUserTx(ctx, s.locker, s.retry, "ledger_credit", req.UserID, func(tx *sql.Tx) error {
		t, err := creditTx(ctx, tx, req)
		result = t
		return err
	})
	return result, err
}

// Debit removes gems, promotional first, then purchased. It fails with an
// InsufficientFundsError without writing anything when the spendable total is
// short.
func (s *LedgerService) Debit(ctx context.Context, req EntryRequest) (*storage.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	var result *storage.Transaction
	err := inUserTx(ctx, s.locker, s.retry, "ledger_debit", req.UserID, func(tx *sql.Tx) error {
		t, err := debitTx(ctx, tx, req)
		result = t
		return err
	})
	return result, err
}

// SettlePending moves amount from the pending bucket into purchased.
func (s *LedgerService) SettlePending(ctx context.Context, userID string, amount int64, idempotencyKey, referenceID string) (*storage.Transaction, error) {
	req := EntryRequest{
		UserID:         userID,
		Amount:         amount,
		Type:           storage.TxAdminAdjustment,
		IdempotencyKey: idempotencyKey,
		ReferenceID:    referenceID,
		Metadata:       map[string]string{"reason": "settle_pending"},
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	var result *storage.Transaction
	err := inUserTx(ctx, s.locker, s.retry, "ledger_settle", userID, func(tx *sql.Tx) error {
		existing, err := replayed(ctx, tx, req)
		if existing != nil || err != nil {
			result = existing
			return err
		}
		a, err := loadAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if a.Pending < amount {
			return &InsufficientFundsError{Required: amount, Available: a.Pending}
		}
		result, err = appendTx(ctx, tx, a, req, amount, 0, -amount)
		return err
	})
	return result, err
}

// TransactionPage is one page of a user's ledger.
type TransactionPage struct {
	Transactions []storage.Transaction `json:"transactions"`
	TotalCount   int64                 `json:"total_count"`
	HasMore      bool                  `json:"has_more"`
}

// ListTransactions returns a page of the user's ledger, newest first. limit
// is clamped to [1, MaxListLimit]; zero means DefaultListLimit. An empty
// txType lists every type.
func (s *LedgerService) ListTransactions(ctx context.Context, userID string, txType storage.TxType, limit, offset int) (*TransactionPage, error) {
	if userID == "" {
		return nil, invalid("user_id", "required")
	}
	if txType != "" && !txType.Valid() {
		return nil, invalid("type", fmt.Sprintf("unknown transaction type %q", txType))
	}
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	db := storage.DB()
	txs, err := storage.ListTransactions(ctx, db, userID, txType, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := storage.CountTransactions(ctx, db, userID, txType)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []storage.Transaction{}
	}
	return &TransactionPage{
		Transactions: txs,
		TotalCount:   total,
		HasMore:      int64(offset+len(txs)) < total,
	}, nil
}

func clampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultListLimit
	case limit < 1:
		return 1
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

// ReconcileReport compares an account with the fold of its transactions.
type ReconcileReport struct {
	UserID       string  `json:"user_id"`
	Materialized Balance `json:"materialized"`
	Folded       Balance `json:"folded"`
	Transactions int64   `json:"transactions"`
	Consistent   bool    `json:"consistent"`
}

// Reconcile replays the user's transactions and compares the result with the
// stored balances.
func (s *LedgerService) Reconcile(ctx context.Context, userID string) (*ReconcileReport, error) {
	db := storage.DB()
	a, err := storage.GetAccount(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	f, err := storage.FoldTransactions(ctx, db, userID)
	if err != nil {
		return nil, err
	}

	folded := Balance{
		Purchased:   f.Purchased,
		Promotional: f.Promotional,
		Pending:     f.Pending,
		Total:       f.Purchased + f.Promotional,
	}
	report := &ReconcileReport{
		UserID:       userID,
		Materialized: balanceOf(a),
		Folded:       folded,
		Transactions: f.Count,
	}
	report.Consistent = report.Materialized == report.Folded
	if !report.Consistent {
		metrics.RecordReconcileDrift()
		logger.Warn("ledger_drift", fmt.Sprintf("user_id=%s materialized=%+v folded=%+v", userID, report.Materialized, folded))
	}
	return report, nil
}

// ReconcileAll reconciles every account and returns the inconsistent ones.
func (s *LedgerService) ReconcileAll(ctx context.Context) ([]ReconcileReport, int, error) {
	ids, err := storage.ListAccountUserIDs(ctx, storage.DB())
	if err != nil {
		return nil, 0, err
	}
	var drifted []ReconcileReport
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return drifted, 0, err
		}
		r, err := s.Reconcile(ctx, id)
		if err != nil {
			return drifted, 0, err
		}
		if !r.Consistent {
			drifted = append(drifted, *r)
		}
	}
	return drifted, len(ids), nil
}

// defaultBucket is where a credit of type t lands unless overridden.
func defaultBucket(t storage.TxType) Bucket {
	switch t {
	case storage.TxBonus, storage.TxPromotionalGrant:
		return BucketPromotional
	}
	return BucketPurchased
}

func creditTypeAllowed(t storage.TxType) bool {
	switch t {
	case storage.TxPurchase, storage.TxBonus, storage.TxPromotionalGrant, storage.TxAdminAdjustment, storage.TxResellCredit:
		return true
	}
	return false
}

func debitTypeAllowed(t storage.TxType) bool {
	return t == storage.TxPackOpenDebit || t == storage.TxAdminAdjustment
}

// replayed returns the transaction already recorded under req's key. A key
// reused for a different operation is a validation error.
func replayed(ctx context.Context, q storage.Querier, req EntryRequest) (*storage.Transaction, error) {
	existing, err := storage.GetTransactionByKey(ctx, q, req.IdempotencyKey)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.UserID != req.UserID || existing.Type != req.Type {
		return nil, invalid("idempotency_key", "already used for a different operation")
	}
	return existing, nil
}

func loadAccount(ctx context.Context, q storage.Querier, userID string) (*storage.Account, error) {
	if err := storage.EnsureAccount(ctx, q, userID); err != nil {
		return nil, err
	}
	a, err := storage.GetAccount(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("account %s missing after ensure", userID)
	}
	return a, nil
}

func appendTx(ctx context.Context, q storage.Querier, a *storage.Account, req EntryRequest, purchased, promotional, pending int64) (*storage.Transaction, error) {
	var meta string
	if len(req.Metadata) > 0 {
		b, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		meta = string(b)
	}

	before := a.Spendable()
	t := &storage.Transaction{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Type:             req.Type,
		PurchasedDelta:   purchased,
		PromotionalDelta: promotional,
		PendingDelta:     pending,
		BalanceBefore:    before,
		BalanceAfter:     before + purchased + promotional,
		IdempotencyKey:   req.IdempotencyKey,
		ReferenceID:      req.ReferenceID,
		Metadata:         meta,
	}
	if err := storage.ApplyTransaction(ctx, q, t); err != nil {
		return nil, err
	}

	a.Purchased += purchased
	a.Promotional += promotional
	a.Pending += pending

	metrics.RecordLedgerTransaction(string(t.Type))
	logger.Debug(req.UserID, "ledger_"+string(t.Type), fmt.Sprintf("tx_id=%s amount=%d purchased=%d promotional=%d pending=%d balance_after=%d key=%s",
		t.ID, t.Amount, purchased, promotional, pending, t.BalanceAfter, t.IdempotencyKey))
	return t, nil
}

func creditTx(ctx context.Context, q storage.Querier, req EntryRequest) (*storage.Transaction, error) {
	if !creditTypeAllowed(req.Type) {
		return nil, invalid("type", fmt.Sprintf("%s is not a credit", req.Type))
	}
	existing, err := replayed(ctx, q, req)
	if existing != nil || err != nil {
		return existing, err
	}
	a, err := loadAccount(ctx, q, req.UserID)
	if err != nil {
		return nil, err
	}

	bucket := req.Bucket
	if bucket == "" {
		bucket = defaultBucket(req.Type)
	}
	switch bucket {
	case BucketPurchased:
		return appendTx(ctx, q, a, req, req.Amount, 0, 0)
	case BucketPromotional:
		return appendTx(ctx, q, a, req, 0, req.Amount, 0)
	case BucketPending:
		return appendTx(ctx, q, a, req, 0, 0, req.Amount)
	}
	return nil, invalid("bucket", fmt.Sprintf("unknown bucket %q", bucket))
}

func debitTx(ctx context.Context, q storage.Querier, req EntryRequest) (*storage.Transaction, error) {
	if !debitTypeAllowed(req.Type) {
		return nil, invalid("type", fmt.Sprintf("%s is not a debit", req.Type))
	}
	existing, err := replayed(ctx, q, req)
	if existing != nil || err != nil {
		return existing, err
	}
	a, err := loadAccount(ctx, q, req.UserID)
	if err != nil {
		return nil, err
	}
	if a.Spendable() < req.Amount {
		return nil, &InsufficientFundsError{Required: req.Amount, Available: a.Spendable()}
	}

	fromPromotional := min(a.Promotional, req.Amount)
	fromPurchased := req.Amount - fromPromotional
	return appendTx(ctx, q, a, req, -fromPurchased, -fromPromotional, 0)
}

// reverseTx appends a refund that undoes original bucket by bucket.
func reverseTx(ctx context.Context, q storage.Querier, original *storage.Transaction, key string, metadata map[string]string) (*storage.Transaction, error) {
	req := EntryRequest{
		UserID:         original.UserID,
		Amount:         -original.Amount,
		Type:           storage.TxRefund,
		IdempotencyKey: key,
		ReferenceID:    original.ID,
		Metadata:       metadata,
	}
	existing, err := replayed(ctx, q, req)
	if existing != nil || err != nil {
		return existing, err
	}
	a, err := loadAccount(ctx, q, req.UserID)
	if err != nil {
		return nil, err
	}
	return appendTx(ctx, q, a, req, -original.PurchasedDelta, -original.PromotionalDelta, -original.PendingDelta)
}
