package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const seedColumns = `id, user_id, server_seed, commitment, client_seed, counter, active, created_at, revealed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeedPair(row rowScanner) (*SeedPair, error) {
	var s SeedPair
	var revealedAt sql.NullTime
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.ServerSeed,
		&s.Commitment,
		&s.ClientSeed,
		&s.Counter,
		&s.Active,
		&s.CreatedAt,
		&revealedAt,
	); err != nil {
		return nil, err
	}
	if revealedAt.Valid {
		t := revealedAt.Time
		s.RevealedAt = &t
	}
	return &s, nil
}

// GetActiveSeed returns the user's active seed pair, or nil if none exists
func GetActiveSeed(ctx context.Context, q Querier, userID string) (*SeedPair, error) {
	s, err := scanSeedPair(q.QueryRowContext(ctx, `
		SELECT `+seedColumns+`
		FROM seed_pairs
		WHERE user_id = ? AND active = 1
	`, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active seed: %w", err)
	}
	return s, nil
}

// GetSeedByID retrieves a seed pair by id
func GetSeedByID(ctx context.Context, q Querier, id string) (*SeedPair, error) {
	s, err := scanSeedPair(q.QueryRowContext(ctx, `
		SELECT `+seedColumns+`
		FROM seed_pairs
		WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get seed by id: %w", err)
	}
	return s, nil
}

// GetSeedByCommitment retrieves a seed pair by its published commitment
func GetSeedByCommitment(ctx context.Context, q Querier, commitment string) (*SeedPair, error) {
	s, err := scanSeedPair(q.QueryRowContext(ctx, `
		SELECT `+seedColumns+`
		FROM seed_pairs
		WHERE commitment = ?
	`, commitment))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get seed by commitment: %w", err)
	}
	return s, nil
}

// CreateSeed inserts a new active seed pair. ErrDuplicate means the user
// already has an active pair.
func CreateSeed(ctx context.Context, q Querier, s *SeedPair) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	s.Active = true
	_, err := q.ExecContext(ctx, `
		INSERT INTO seed_pairs (id, user_id, server_seed, commitment, client_seed, counter, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
	`, s.ID, s.UserID, s.ServerSeed, s.Commitment, s.ClientSeed, s.Counter, s.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to insert seed pair: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert seed pair: %w", err)
	}
	return nil
}

// RevealSeed deactivates an active pair and stamps revealed_at
func RevealSeed(ctx context.Context, q Querier, id string, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE seed_pairs SET active = 0, revealed_at = ?
		WHERE id = ? AND active = 1
	`, at, id)
	if err != nil {
		return fmt.Errorf("failed to reveal seed: %w", err)
	}
	return expectOneRow(res, "reveal seed")
}

// UpdateClientSeed changes the client seed of an active pair
func UpdateClientSeed(ctx context.Context, q Querier, id, clientSeed string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE seed_pairs SET client_seed = ?
		WHERE id = ? AND active = 1
	`, clientSeed, id)
	if err != nil {
		return fmt.Errorf("failed to update client seed: %w", err)
	}
	return expectOneRow(res, "update client seed")
}

// AdvanceCounter increments the counter only if it still equals expected.
// ErrConflict means another draw consumed the value first.
func AdvanceCounter(ctx context.Context, q Querier, id string, expected uint64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE seed_pairs SET counter = counter + 1
		WHERE id = ? AND active = 1 AND counter = ?
	`, id, expected)
	if err != nil {
		return fmt.Errorf("failed to advance counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to advance counter: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("advance counter from %d: %w", expected, ErrConflict)
	}
	return nil
}

// ListRevealedSeeds returns the user's rotated-out pairs, newest first
func ListRevealedSeeds(ctx context.Context, q Querier, userID string, limit int) ([]SeedPair, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+seedColumns+`
		FROM seed_pairs
		WHERE user_id = ? AND active = 0 AND revealed_at IS NOT NULL
		ORDER BY revealed_at DESC, rowid DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list revealed seeds: %w", err)
	}
	defer rows.Close()

	var seeds []SeedPair
	for rows.Next() {
		s, err := scanSeedPair(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan seed pair: %w", err)
		}
		seeds = append(seeds, *s)
	}
	return seeds, rows.Err()
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to %s: %w", op, ErrNotFound)
	}
	return nil
}
