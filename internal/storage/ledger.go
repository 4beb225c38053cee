package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EnsureAccount creates an empty account for userID if none exists
func EnsureAccount(ctx context.Context, q Querier, userID string) error {
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (user_id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure account: %w", err)
	}
	return nil
}

// GetAccount retrieves the materialized balance of a user, or nil if the user
// has never transacted
func GetAccount(ctx context.Context, q Querier, userID string) (*Account, error) {
	var a Account
	err := q.QueryRowContext(ctx, `
		SELECT user_id, purchased, promotional, pending, created_at, updated_at
		FROM accounts
		WHERE user_id = ?
	`, userID).Scan(
		&a.UserID,
		&a.Purchased,
		&a.Promotional,
		&a.Pending,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

// ListAccountUserIDs returns every user that owns an account
func ListAccountUserIDs(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ApplyTransaction appends t and moves the account buckets by its deltas.
// The caller computes deltas and balance snapshots; the CHECK constraints on
// accounts reject anything that would go negative. ErrDuplicate means the
// idempotency key was already used.
func ApplyTransaction(ctx context.Context, q Querier, t *Transaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.Amount = t.PurchasedDelta + t.PromotionalDelta + t.PendingDelta

	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (
			id, user_id, type, amount, purchased_delta, promotional_delta, pending_delta,
			balance_before, balance_after, idempotency_key, reference_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.UserID, t.Type, t.Amount, t.PurchasedDelta, t.PromotionalDelta, t.PendingDelta,
		t.BalanceBefore, t.BalanceAfter, t.IdempotencyKey, t.ReferenceID, t.Metadata, t.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to insert transaction %s: %w", t.IdempotencyKey, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	res, err := q.ExecContext(ctx, `
		UPDATE accounts
		SET purchased = purchased + ?, promotional = promotional + ?, pending = pending + ?, updated_at = ?
		WHERE user_id = ?
	`, t.PurchasedDelta, t.PromotionalDelta, t.PendingDelta, t.CreatedAt, t.UserID)
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}
	return expectOneRow(res, "update account balance")
}

const transactionColumns = `id, user_id, type, amount, purchased_delta, promotional_delta, pending_delta,
	balance_before, balance_after, idempotency_key, reference_id, metadata, created_at`

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Type,
		&t.Amount,
		&t.PurchasedDelta,
		&t.PromotionalDelta,
		&t.PendingDelta,
		&t.BalanceBefore,
		&t.BalanceAfter,
		&t.IdempotencyKey,
		&t.ReferenceID,
		&t.Metadata,
		&t.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTransactionByKey retrieves a transaction by its idempotency key
func GetTransactionByKey(ctx context.Context, q Querier, key string) (*Transaction, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE idempotency_key = ?
	`, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by key: %w", err)
	}
	return t, nil
}

// GetTransactionByID retrieves a transaction by id
func GetTransactionByID(ctx context.Context, q Querier, id string) (*Transaction, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return t, nil
}

// ListTransactions returns a user's transactions, newest first. An empty
// txType matches every type.
func ListTransactions(ctx context.Context, q Querier, userID string, txType TxType, limit, offset int) ([]Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = ? AND (? = '' OR type = ?)
		ORDER BY rowid DESC
		LIMIT ? OFFSET ?
	`, userID, txType, txType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// CountTransactions counts a user's transactions of txType, or of every type
// when txType is empty
func CountTransactions(ctx context.Context, q Querier, userID string, txType TxType) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE user_id = ? AND (? = '' OR type = ?)
	`, userID, txType, txType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

// Fold is the balance obtained by replaying every transaction of a user
type Fold struct {
	Purchased   int64
	Promotional int64
	Pending     int64
	Count       int64
}

// FoldTransactions sums the bucket deltas of all transactions of a user
func FoldTransactions(ctx context.Context, q Querier, userID string) (Fold, error) {
	var f Fold
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(purchased_delta), 0), COALESCE(SUM(promotional_delta), 0),
			COALESCE(SUM(pending_delta), 0), COUNT(*)
		FROM transactions
		WHERE user_id = ?
	`, userID).Scan(&f.Purchased, &f.Promotional, &f.Pending, &f.Count)
	if err != nil {
		return Fold{}, fmt.Errorf("failed to fold transactions: %w", err)
	}
	return f, nil
}
