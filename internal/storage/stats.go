package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetStats aggregates platform-wide opening statistics. Windowed figures
// cover the 24 hours before now.
func GetStats(ctx context.Context, q Querier, now time.Time) (*Stats, error) {
	var s Stats
	since := now.UTC().Add(-24 * time.Hour)

	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(o.cost), 0), COALESCE(SUM(p.market_value), 0)
		FROM outcomes o
		JOIN prizes p ON p.id = o.prize_id
	`).Scan(&s.TotalPacksOpened, &s.TotalGemsSpent, &s.TotalPrizeValue)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}

	err = q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE type = ?
	`, TxResellCredit).Scan(&s.TotalGemsDistributed)
	if err != nil {
		return nil, fmt.Errorf("failed to sum resell credits: %w", err)
	}

	err = q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM outcomes WHERE status IN (?, ?)
	`, StatusShipped, StatusDelivered).Scan(&s.TotalCardsShipped)
	if err != nil {
		return nil, fmt.Errorf("failed to count shipped cards: %w", err)
	}

	err = q.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id) FROM outcomes WHERE created_at >= ?
	`, since).Scan(&s.ActiveUsers24h)
	if err != nil {
		return nil, fmt.Errorf("failed to count active users: %w", err)
	}

	err = q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM seed_pairs WHERE active = 0 AND revealed_at IS NOT NULL
	`).Scan(&s.RevealedSeeds)
	if err != nil {
		return nil, fmt.Errorf("failed to count revealed seeds: %w", err)
	}

	var win BigWin
	err = q.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.rarity, p.market_value, o.pack_id, o.created_at
		FROM outcomes o
		JOIN prizes p ON p.id = o.prize_id
		WHERE o.created_at >= ?
		ORDER BY p.market_value DESC, o.rowid ASC
		LIMIT 1
	`, since).Scan(&win.PrizeID, &win.Name, &win.Rarity, &win.Value, &win.PackID, &win.OpenedAt)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get biggest win: %w", err)
	}
	if err == nil {
		s.BiggestWinToday = &win
	}

	rows, err := q.QueryContext(ctx, `
		SELECT pack_id, prize_id, COUNT(*)
		FROM outcomes
		GROUP BY pack_id, prize_id
		ORDER BY pack_id ASC, prize_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate outcomes: %w", err)
	}
	defer rows.Close()

	s.Packs = []PackStat{}
	for rows.Next() {
		var packID string
		var pc PrizeCount
		if err := rows.Scan(&packID, &pc.PrizeID, &pc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome aggregate: %w", err)
		}
		if n := len(s.Packs); n == 0 || s.Packs[n-1].PackID != packID {
			s.Packs = append(s.Packs, PackStat{PackID: packID})
		}
		last := &s.Packs[len(s.Packs)-1]
		last.Opens += pc.Count
		last.Prizes = append(last.Prizes, pc)
	}
	return &s, rows.Err()
}
