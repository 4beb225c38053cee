// Package catalog resolves draws against weighted prize tables and computes
// the odds that are published for each pack.
package catalog

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

var (
	// ErrEmptyCatalog is returned for a pack without weighted entries.
	ErrEmptyCatalog = errors.New("catalog has no entries")
	// ErrInvalidWeight is returned for a non-positive weight or an overflowing total.
	ErrInvalidWeight = errors.New("catalog weight must be a positive integer")
)

// maxTotalWeight keeps cumulative weights comfortably inside int64.
const maxTotalWeight = int64(1) << 62

// Entry is one prize in a pack's weighted table. Order is significant.
type Entry struct {
	PrizeID string `json:"prize_id" yaml:"prize"`
	Weight  int64  `json:"weight" yaml:"weight"`
}

// TotalWeight validates entries and returns the sum of their weights.
func TotalWeight(entries []Entry) (int64, error) {
	if len(entries) == 0 {
		return 0, ErrEmptyCatalog
	}
	var total int64
	for i, e := range entries {
		if e.Weight <= 0 {
			return 0, fmt.Errorf("entry %d (%s): %w", i, e.PrizeID, ErrInvalidWeight)
		}
		if total > maxTotalWeight-e.Weight {
			return 0, fmt.Errorf("entry %d (%s): total overflow: %w", i, e.PrizeID, ErrInvalidWeight)
		}
		total += e.Weight
	}
	return total, nil
}

// SelectPrize maps a raw 32-bit draw onto entries.
//
// The draw is scaled as raw/2^32 * totalWeight and the first entry whose
// cumulative weight is strictly greater than the scaled value wins. The
// comparison is done as cumulative*2^32 > raw*totalWeight in 128-bit integers
// so no rounding is involved. If the walk ends without a winner the last
// entry is returned.
func SelectPrize(raw uint32, entries []Entry) (string, error) {
	i, err := SelectIndex(raw, entries)
	if err != nil {
		return "", err
	}
	return entries[i].PrizeID, nil
}

// SelectIndex is SelectPrize returning the position of the winning entry.
// A prize listed twice wins at the position the walk stopped on.
func SelectIndex(raw uint32, entries []Entry) (int, error) {
	total, err := TotalWeight(entries)
	if err != nil {
		return -1, err
	}

	scaledHi, scaledLo := bits.Mul64(uint64(raw), uint64(total))
	var cumulative uint64
	for i, e := range entries {
		cumulative += uint64(e.Weight)
		cumHi, cumLo := bits.Mul64(cumulative, 1<<32)
		if greater(cumHi, cumLo, scaledHi, scaledLo) {
			return i, nil
		}
	}
	return len(entries) - 1, nil
}

func greater(aHi, aLo, bHi, bLo uint64) bool {
	if aHi != bHi {
		return aHi > bHi
	}
	return aLo > bLo
}

// DefaultDecimals is the disclosure precision used by the public endpoints.
const DefaultDecimals = 2

// Tolerance is the largest drift from 100% still considered truthful.
const Tolerance = 0.01

// Odds is the disclosed chance of one prize.
type Odds struct {
	PrizeID    string  `json:"prize_id"`
	Weight     int64   `json:"weight"`
	Percentage float64 `json:"percentage"`
}

// Disclosure is the full odds table of a pack together with its rounding drift.
type Disclosure struct {
	Entries         []Odds  `json:"entries"`
	TotalWeight     int64   `json:"total_weight"`
	Total           float64 `json:"total_percentage"`
	Drift           float64 `json:"drift"`
	WithinTolerance bool    `json:"within_tolerance"`
}

// ComputeOdds returns weight/total*100 for each entry rounded to decimals
// places, and reports how far the rounded sum is from 100.
func ComputeOdds(entries []Entry, decimals int) (Disclosure, error) {
	total, err := TotalWeight(entries)
	if err != nil {
		return Disclosure{}, err
	}
	if decimals < 0 {
		decimals = DefaultDecimals
	}

	d := Disclosure{Entries: make([]Odds, 0, len(entries)), TotalWeight: total}
	var sum float64
	for _, e := range entries {
		pct := round(float64(e.Weight)/float64(total)*100, decimals)
		d.Entries = append(d.Entries, Odds{PrizeID: e.PrizeID, Weight: e.Weight, Percentage: pct})
		sum += pct
	}
	d.Total = round(sum, decimals)
	d.Drift = round(d.Total-100, decimals)
	d.WithinTolerance = math.Abs(d.Drift) <= Tolerance+1e-9
	return d, nil
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
