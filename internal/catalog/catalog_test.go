package catalog

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectPrize(t *testing.T) {
	commonRare := []Entry{{PrizeID: "common", Weight: 60}, {PrizeID: "rare", Weight: 5}}
	halves := []Entry{{PrizeID: "a", Weight: 1}, {PrizeID: "b", Weight: 1}}

	tests := []struct {
		name    string
		raw     uint32
		entries []Entry
		want    string
	}{
		{"zero picks first", 0, commonRare, "common"},
		{"scaled 61.5 picks rare", 4063699826, commonRare, "rare"},
		{"max raw picks last", math.MaxUint32, commonRare, "rare"},
		{"just below boundary", 1<<31 - 1, halves, "a"},
		{"boundary is strictly greater", 1 << 31, halves, "b"},
		{"single entry", 12345, []Entry{{PrizeID: "only", Weight: 7}}, "only"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectPrize(tt.raw, tt.entries)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectPrizeRejectsBadTables(t *testing.T) {
	_, err := SelectPrize(1, nil)
	assert.ErrorIs(t, err, ErrEmptyCatalog)

	_, err = SelectPrize(1, []Entry{{PrizeID: "a", Weight: 0}})
	assert.ErrorIs(t, err, ErrInvalidWeight)

	_, err = SelectPrize(1, []Entry{{PrizeID: "a", Weight: -3}, {PrizeID: "b", Weight: 4}})
	assert.ErrorIs(t, err, ErrInvalidWeight)

	_, err = TotalWeight([]Entry{{PrizeID: "a", Weight: maxTotalWeight}, {PrizeID: "b", Weight: 1}})
	assert.True(t, errors.Is(err, ErrInvalidWeight))
}

func TestSelectPrizeFollowsWeights(t *testing.T) {
	entries := []Entry{
		{PrizeID: "common", Weight: 60},
		{PrizeID: "uncommon", Weight: 35},
		{PrizeID: "rare", Weight: 5},
	}
	counts := map[string]int{}
	const samples = 100000
	step := uint32(math.MaxUint32 / samples)
	for i := uint32(0); i < samples; i++ {
		id, err := SelectPrize(i*step, entries)
		require.NoError(t, err)
		counts[id]++
	}
	assert.InDelta(t, 60000, counts["common"], 10)
	assert.InDelta(t, 35000, counts["uncommon"], 10)
	assert.InDelta(t, 5000, counts["rare"], 10)
}

func TestSelectIndex(t *testing.T) {
	entries := []Entry{{PrizeID: "x", Weight: 1}, {PrizeID: "y", Weight: 3}}
	idx, err := SelectIndex(math.MaxUint32, entries)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	idx, err = SelectIndex(0, nil)
	assert.Error(t, err)
	assert.Equal(t, -1, idx)
}

func TestSelectIndexRepeatedPrize(t *testing.T) {
	entries := []Entry{{PrizeID: "x", Weight: 1}, {PrizeID: "y", Weight: 1}, {PrizeID: "x", Weight: 2}}

	idx, err := SelectIndex(math.MaxUint32, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, idx, "second x entry wins at the top of the range")

	idx, err = SelectIndex(0, entries)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	// raw/2^32 = 0.25 lands exactly on the first boundary; strictly greater moves on to y.
	idx, err = SelectIndex(1<<30, entries)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	id, err := SelectPrize(math.MaxUint32, entries)
	require.NoError(t, err)
	assert.Equal(t, "x", id)
}

func TestComputeOdds(t *testing.T) {
	t.Run("exact table", func(t *testing.T) {
		d, err := ComputeOdds([]Entry{
			{PrizeID: "common", Weight: 60},
			{PrizeID: "uncommon", Weight: 35},
			{PrizeID: "rare", Weight: 5},
		}, DefaultDecimals)
		require.NoError(t, err)
		require.Len(t, d.Entries, 3)
		assert.Equal(t, 60.0, d.Entries[0].Percentage)
		assert.Equal(t, 35.0, d.Entries[1].Percentage)
		assert.Equal(t, 5.0, d.Entries[2].Percentage)
		assert.Equal(t, int64(100), d.TotalWeight)
		assert.Equal(t, 100.0, d.Total)
		assert.Equal(t, 0.0, d.Drift)
		assert.True(t, d.WithinTolerance)
	})

	t.Run("rounding drift inside tolerance", func(t *testing.T) {
		d, err := ComputeOdds([]Entry{
			{PrizeID: "a", Weight: 1},
			{PrizeID: "b", Weight: 1},
			{PrizeID: "c", Weight: 1},
		}, DefaultDecimals)
		require.NoError(t, err)
		assert.Equal(t, 33.33, d.Entries[0].Percentage)
		assert.InDelta(t, 99.99, d.Total, 1e-9)
		assert.InDelta(t, -0.01, d.Drift, 1e-9)
		assert.True(t, d.WithinTolerance)
	})

	t.Run("rounding drift reported", func(t *testing.T) {
		entries := make([]Entry, 7)
		for i := range entries {
			entries[i] = Entry{PrizeID: string(rune('a' + i)), Weight: 1}
		}
		d, err := ComputeOdds(entries, DefaultDecimals)
		require.NoError(t, err)
		assert.Equal(t, 14.29, d.Entries[0].Percentage)
		assert.InDelta(t, 0.03, d.Drift, 1e-9)
		assert.False(t, d.WithinTolerance)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ComputeOdds(nil, DefaultDecimals)
		assert.ErrorIs(t, err, ErrEmptyCatalog)
	})
}

const sampleCatalog = `
prizes:
  - id: lion
    name: Lion
    set_name: Safari
    rarity: common
    market_value: 40
  - id: tiger
    name: Tiger
    set_name: Safari
    rarity: rare
    market_value: 400
packs:
  - id: bronze
    name: Bronze Safari
    tier: bronze
    gem_cost: 100
    entries:
      - prize: lion
        weight: 60
      - prize: tiger
        weight: 5
gem_packages:
  - id: starter
    name: Starter
    price_minor_units: 499
    base_gems: 500
    bonus_gems: 50
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, f.Prizes, 2)
	require.Len(t, f.Packs, 1)
	assert.Equal(t, int64(100), f.Packs[0].GemCost)
	assert.Nil(t, f.Packs[0].ResellPercent)
	assert.Equal(t, []Entry{{PrizeID: "lion", Weight: 60}, {PrizeID: "tiger", Weight: 5}}, f.Packs[0].Entries)
	assert.Equal(t, int64(50), f.GemPackages[0].BonusGems)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		file File
	}{
		{"duplicate prize", File{Prizes: []PrizeDef{{ID: "a"}, {ID: "a"}}}},
		{"unknown prize", File{
			Prizes: []PrizeDef{{ID: "a"}},
			Packs:  []PackDef{{ID: "p", GemCost: 1, Entries: []Entry{{PrizeID: "b", Weight: 1}}}},
		}},
		{"bad weight", File{
			Prizes: []PrizeDef{{ID: "a"}},
			Packs:  []PackDef{{ID: "p", GemCost: 1, Entries: []Entry{{PrizeID: "a", Weight: 0}}}},
		}},
		{"free pack", File{Packs: []PackDef{{ID: "p", GemCost: 0}}}},
		{"bad gem package", File{GemPackages: []GemPackageDef{{ID: "g", PriceMinorUnits: 100}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.file.Validate())
		})
	}

	empty := File{Packs: []PackDef{{ID: "p", GemCost: 10}}}
	assert.NoError(t, empty.Validate())
}
