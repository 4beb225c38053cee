package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const outcomeColumns = `id, user_id, pack_id, prize_id, catalog_version, seed_pair_id, commitment, client_seed,
	counter, draw_value, roll, cost, new_balance, idempotency_key, debit_tx_id, status, resell_tx_id,
	created_at, updated_at`

func scanOutcome(row rowScanner) (*Outcome, error) {
	var o Outcome
	if err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.PackID,
		&o.PrizeID,
		&o.CatalogVersion,
		&o.SeedPairID,
		&o.Commitment,
		&o.ClientSeed,
		&o.Counter,
		&o.DrawValue,
		&o.Roll,
		&o.Cost,
		&o.NewBalance,
		&o.IdempotencyKey,
		&o.DebitTxID,
		&o.Status,
		&o.ResellTxID,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOutcome inserts a new outcome. ErrDuplicate means either the
// idempotency key or the (seed pair, counter) slot is already taken.
func CreateOutcome(ctx context.Context, q Querier, o *Outcome) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = o.CreatedAt
	if o.Status == "" {
		o.Status = StatusInInventory
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO outcomes (`+outcomeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.UserID, o.PackID, o.PrizeID, o.CatalogVersion, o.SeedPairID, o.Commitment, o.ClientSeed,
		o.Counter, o.DrawValue, o.Roll, o.Cost, o.NewBalance, o.IdempotencyKey, o.DebitTxID, o.Status, o.ResellTxID,
		o.CreatedAt, o.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to insert outcome: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	return nil
}

// GetOutcome retrieves an outcome by id
func GetOutcome(ctx context.Context, q Querier, id string) (*Outcome, error) {
	o, err := scanOutcome(q.QueryRowContext(ctx, `
		SELECT `+outcomeColumns+`
		FROM outcomes
		WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}
	return o, nil
}

// GetOutcomeByKey retrieves the outcome a user created with an idempotency key
func GetOutcomeByKey(ctx context.Context, q Querier, userID, key string) (*Outcome, error) {
	o, err := scanOutcome(q.QueryRowContext(ctx, `
		SELECT `+outcomeColumns+`
		FROM outcomes
		WHERE user_id = ? AND idempotency_key = ?
	`, userID, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome by key: %w", err)
	}
	return o, nil
}

// ListOutcomes returns a user's outcomes, newest first. An empty status
// matches every status.
func ListOutcomes(ctx context.Context, q Querier, userID string, status RedemptionStatus, limit, offset int) ([]Outcome, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+outcomeColumns+`
		FROM outcomes
		WHERE user_id = ? AND (? = '' OR status = ?)
		ORDER BY rowid DESC
		LIMIT ? OFFSET ?
	`, userID, status, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	return collectOutcomes(rows)
}

// ListOutcomesBySeed returns every outcome drawn from a seed pair in counter order
func ListOutcomesBySeed(ctx context.Context, q Querier, seedPairID string) ([]Outcome, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+outcomeColumns+`
		FROM outcomes
		WHERE seed_pair_id = ?
		ORDER BY counter ASC
	`, seedPairID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes by seed: %w", err)
	}
	return collectOutcomes(rows)
}

func collectOutcomes(rows *sql.Rows) ([]Outcome, error) {
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		outcomes = append(outcomes, *o)
	}
	return outcomes, rows.Err()
}

// UpdateOutcomeStatus moves an outcome from one status to another.
// ErrConflict means the outcome was no longer in the from status.
func UpdateOutcomeStatus(ctx context.Context, q Querier, id string, from, to RedemptionStatus, resellTxID string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE outcomes
		SET status = ?, resell_tx_id = CASE WHEN ? = '' THEN resell_tx_id ELSE ? END, updated_at = ?
		WHERE id = ? AND status = ?
	`, to, resellTxID, resellTxID, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("failed to update outcome status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update outcome status: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("update outcome %s from %s: %w", id, from, ErrConflict)
	}
	return nil
}
