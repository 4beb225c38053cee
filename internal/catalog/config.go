package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML catalog definition loaded at start-up.
type File struct {
	Prizes      []PrizeDef      `yaml:"prizes"`
	Packs       []PackDef       `yaml:"packs"`
	GemPackages []GemPackageDef `yaml:"gem_packages"`
}

// PrizeDef describes a card that can be won.
type PrizeDef struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	SetName     string `yaml:"set_name"`
	Rarity      string `yaml:"rarity"`
	ImageURL    string `yaml:"image_url"`
	MarketValue int64  `yaml:"market_value"` // in gems
}

// PackDef describes a purchasable pack and its weighted table.
type PackDef struct {
	ID            string  `yaml:"id"`
	Name          string  `yaml:"name"`
	Tier          string  `yaml:"tier"`
	GemCost       int64   `yaml:"gem_cost"`
	ResellPercent *int64  `yaml:"resell_percent,omitempty"`
	Entries       []Entry `yaml:"entries"`
}

// GemPackageDef describes a gem bundle sold through the payment processor.
type GemPackageDef struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	PriceMinorUnits int64  `yaml:"price_minor_units"`
	BaseGems        int64  `yaml:"base_gems"`
	BonusGems       int64  `yaml:"bonus_gems"`
	DisplayOrder    int    `yaml:"display_order"`
}

// LoadFile reads and validates a catalog definition.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog definition.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks references and weights. A pack with no entries is allowed
// here; it will refuse to open until entries are configured.
func (f *File) Validate() error {
	prizes := make(map[string]bool, len(f.Prizes))
	for _, p := range f.Prizes {
		if p.ID == "" {
			return fmt.Errorf("prize with empty id")
		}
		if prizes[p.ID] {
			return fmt.Errorf("duplicate prize id %q", p.ID)
		}
		if p.MarketValue < 0 {
			return fmt.Errorf("prize %q: negative market value", p.ID)
		}
		prizes[p.ID] = true
	}

	packs := make(map[string]bool, len(f.Packs))
	for _, p := range f.Packs {
		if p.ID == "" {
			return fmt.Errorf("pack with empty id")
		}
		if packs[p.ID] {
			return fmt.Errorf("duplicate pack id %q", p.ID)
		}
		packs[p.ID] = true
		if p.GemCost <= 0 {
			return fmt.Errorf("pack %q: gem_cost must be positive", p.ID)
		}
		if p.ResellPercent != nil && (*p.ResellPercent < 0 || *p.ResellPercent > 100) {
			return fmt.Errorf("pack %q: resell_percent must be between 0 and 100", p.ID)
		}
		for i, e := range p.Entries {
			if !prizes[e.PrizeID] {
				return fmt.Errorf("pack %q entry %d: unknown prize %q", p.ID, i, e.PrizeID)
			}
		}
		if len(p.Entries) > 0 {
			if _, err := TotalWeight(p.Entries); err != nil {
				return fmt.Errorf("pack %q: %w", p.ID, err)
			}
		}
	}

	gemPackages := make(map[string]bool, len(f.GemPackages))
	for _, g := range f.GemPackages {
		if g.ID == "" {
			return fmt.Errorf("gem package with empty id")
		}
		if gemPackages[g.ID] {
			return fmt.Errorf("duplicate gem package id %q", g.ID)
		}
		gemPackages[g.ID] = true
		if g.PriceMinorUnits <= 0 || g.BaseGems <= 0 || g.BonusGems < 0 {
			return fmt.Errorf("gem package %q: price and base gems must be positive", g.ID)
		}
	}
	return nil
}
