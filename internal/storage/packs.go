package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mysterypack/internal/catalog"
)

// UpsertPrize inserts or replaces a prize definition
func UpsertPrize(ctx context.Context, q Querier, p *Prize) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO prizes (id, name, set_name, rarity, image_url, market_value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			set_name = excluded.set_name,
			rarity = excluded.rarity,
			image_url = excluded.image_url,
			market_value = excluded.market_value
	`, p.ID, p.Name, p.SetName, p.Rarity, p.ImageURL, p.MarketValue)
	if err != nil {
		return fmt.Errorf("failed to upsert prize: %w", err)
	}
	return nil
}

// GetPrize retrieves a prize by id
func GetPrize(ctx context.Context, q Querier, id string) (*Prize, error) {
	var p Prize
	err := q.QueryRowContext(ctx, `
		SELECT id, name, set_name, rarity, image_url, market_value
		FROM prizes
		WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.SetName, &p.Rarity, &p.ImageURL, &p.MarketValue)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prize: %w", err)
	}
	return &p, nil
}

const packColumns = `id, name, tier, gem_cost, resell_percent, active_version, catalog_source, created_at, updated_at`

func scanPack(row rowScanner) (*Pack, error) {
	var p Pack
	var resell sql.NullInt64
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Tier,
		&p.GemCost,
		&resell,
		&p.ActiveVersion,
		&p.CatalogSource,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if resell.Valid {
		v := resell.Int64
		p.ResellPercent = &v
	}
	return &p, nil
}

// GetPack retrieves a pack by id
func GetPack(ctx context.Context, q Querier, id string) (*Pack, error) {
	p, err := scanPack(q.QueryRowContext(ctx, `
		SELECT `+packColumns+`
		FROM packs
		WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pack: %w", err)
	}
	return p, nil
}

// ListPacks returns all packs ordered by cost
func ListPacks(ctx context.Context, q Querier) ([]Pack, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+packColumns+`
		FROM packs
		ORDER BY gem_cost ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list packs: %w", err)
	}
	defer rows.Close()

	var packs []Pack
	for rows.Next() {
		p, err := scanPack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pack: %w", err)
		}
		packs = append(packs, *p)
	}
	return packs, rows.Err()
}

// GetPackEntries returns the weighted table of one catalog version in draw order
func GetPackEntries(ctx context.Context, q Querier, packID string, version int64) ([]catalog.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT prize_id, weight
		FROM pack_entries
		WHERE pack_id = ? AND version = ?
		ORDER BY position ASC
	`, packID, version)
	if err != nil {
		return nil, fmt.Errorf("failed to get pack entries: %w", err)
	}
	defer rows.Close()

	var entries []catalog.Entry
	for rows.Next() {
		var e catalog.Entry
		if err := rows.Scan(&e.PrizeID, &e.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan pack entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PublishPack upserts a pack. Entries are immutable per version: when they
// differ from the active version a new version is written and activated,
// otherwise only the pack's metadata changes. source records who published
// the active version. A file publish never replaces an admin-published
// version; it only refreshes the metadata. Returns the active version.
func PublishPack(ctx context.Context, q Querier, p *Pack, entries []catalog.Entry, source string) (int64, error) {
	now := time.Now().UTC()
	existing, err := GetPack(ctx, q, p.ID)
	if err != nil {
		return 0, err
	}

	version := int64(0)
	if existing != nil {
		version = existing.ActiveVersion
		if source == CatalogSourceFile && existing.CatalogSource == CatalogSourceAdmin {
			source = CatalogSourceAdmin
		} else {
			current, err := GetPackEntries(ctx, q, p.ID, version)
			if err != nil {
				return 0, err
			}
			if !sameEntries(current, entries) {
				version++
			}
		}
	} else if len(entries) > 0 {
		version = 1
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO packs (id, name, tier, gem_cost, resell_percent, active_version, catalog_source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			tier = excluded.tier,
			gem_cost = excluded.gem_cost,
			resell_percent = excluded.resell_percent,
			active_version = excluded.active_version,
			catalog_source = excluded.catalog_source,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, p.Tier, p.GemCost, p.ResellPercent, version, source, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert pack: %w", err)
	}

	if existing == nil || version != existing.ActiveVersion {
		for i, e := range entries {
			_, err := q.ExecContext(ctx, `
				INSERT INTO pack_entries (pack_id, version, position, prize_id, weight)
				VALUES (?, ?, ?, ?, ?)
			`, p.ID, version, i, e.PrizeID, e.Weight)
			if err != nil {
				return 0, fmt.Errorf("failed to insert pack entry: %w", err)
			}
		}
	}

	p.ActiveVersion = version
	p.CatalogSource = source
	return version, nil
}

func sameEntries(a, b []catalog.Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// UpsertGemPackage inserts or replaces a gem package
func UpsertGemPackage(ctx context.Context, q Querier, g *GemPackage) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO gem_packages (id, name, price_minor_units, base_gems, bonus_gems, display_order)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			price_minor_units = excluded.price_minor_units,
			base_gems = excluded.base_gems,
			bonus_gems = excluded.bonus_gems,
			display_order = excluded.display_order
	`, g.ID, g.Name, g.PriceMinorUnits, g.BaseGems, g.BonusGems, g.DisplayOrder)
	if err != nil {
		return fmt.Errorf("failed to upsert gem package: %w", err)
	}
	return nil
}

// GetGemPackage retrieves a gem package by id
func GetGemPackage(ctx context.Context, q Querier, id string) (*GemPackage, error) {
	var g GemPackage
	err := q.QueryRowContext(ctx, `
		SELECT id, name, price_minor_units, base_gems, bonus_gems, display_order
		FROM gem_packages
		WHERE id = ?
	`, id).Scan(&g.ID, &g.Name, &g.PriceMinorUnits, &g.BaseGems, &g.BonusGems, &g.DisplayOrder)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gem package: %w", err)
	}
	return &g, nil
}

// ListGemPackages returns gem packages in display order
func ListGemPackages(ctx context.Context, q Querier) ([]GemPackage, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, price_minor_units, base_gems, bonus_gems, display_order
		FROM gem_packages
		ORDER BY display_order ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list gem packages: %w", err)
	}
	defer rows.Close()

	var packages []GemPackage
	for rows.Next() {
		var g GemPackage
		if err := rows.Scan(&g.ID, &g.Name, &g.PriceMinorUnits, &g.BaseGems, &g.BonusGems, &g.DisplayOrder); err != nil {
			return nil, fmt.Errorf("failed to scan gem package: %w", err)
		}
		packages = append(packages, g)
	}
	return packages, rows.Err()
}

// LoadCatalog writes a validated catalog file into the database in one
// transaction.
func LoadCatalog(ctx context.Context, f *catalog.File) error {
	return WithTx(ctx, func(tx *sql.Tx) error {
		for _, p := range f.Prizes {
			if err := UpsertPrize(ctx, tx, &Prize{
				ID:          p.ID,
				Name:        p.Name,
				SetName:     p.SetName,
				Rarity:      p.Rarity,
				ImageURL:    p.ImageURL,
				MarketValue: p.MarketValue,
			}); err != nil {
				return err
			}
		}
		for _, p := range f.Packs {
			pack := &Pack{
				ID:            p.ID,
				Name:          p.Name,
				Tier:          p.Tier,
				GemCost:       p.GemCost,
				ResellPercent: p.ResellPercent,
			}
			if _, err := PublishPack(ctx, tx, pack, p.Entries, CatalogSourceFile); err != nil {
				return fmt.Errorf("publish pack %s: %w", p.ID, err)
			}
		}
		for _, g := range f.GemPackages {
			if err := UpsertGemPackage(ctx, tx, &GemPackage{
				ID:              g.ID,
				Name:            g.Name,
				PriceMinorUnits: g.PriceMinorUnits,
				BaseGems:        g.BaseGems,
				BonusGems:       g.BonusGems,
				DisplayOrder:    g.DisplayOrder,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
