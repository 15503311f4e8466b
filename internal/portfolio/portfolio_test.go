package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func samplePortfolio() Portfolio {
	return Portfolio{
		ID:   "pf-1",
		Name: "Sample",
		Cash: 200_000,
		Assets: []Asset{
			{ID: "UST-10Y", Class: ClassTreasury, Sector: "government", Quantity: 3000, Price: 100, LiquidityScore: 0.98},
			{ID: "CORP-A", Class: ClassCorporateBond, Sector: "technology", Quantity: 4000, Price: 100, LiquidityScore: 0.85},
			{ID: "MBS-1", Class: ClassMBS, Sector: "mortgages", Quantity: 1000, Price: 100, LiquidityScore: 0.55},
		},
	}
}

func TestNewBookNormalizes(t *testing.T) {
	book, err := NewBook(samplePortfolio())
	require.NoError(t, err)

	p := book.Snapshot()
	require.InDelta(t, 1_000_000, p.TotalValue, 1e-6)

	var weightSum float64
	for _, a := range p.Assets {
		require.InDelta(t, a.Quantity*a.Price, a.MarketValue, 1e-6)
		weightSum += a.Weight
	}
	// cash carries the remaining weight
	require.InDelta(t, 0.8, weightSum, 1e-9)
}

func TestNewBookRequiresID(t *testing.T) {
	_, err := NewBook(Portfolio{})
	require.Error(t, err)
}

func TestRepriceRecomputesWeights(t *testing.T) {
	book, err := NewBook(samplePortfolio())
	require.NoError(t, err)

	asOf := time.Date(2026, 8, 26, 14, 0, 0, 0, time.UTC)
	book.Reprice(map[string]float64{"CORP-A": 150, "UNKNOWN": 42}, asOf)

	p := book.Snapshot()
	require.Equal(t, asOf, p.RepricedAt)
	require.InDelta(t, 1_200_000, p.TotalValue, 1e-6)

	corp, ok := p.AssetByID("CORP-A")
	require.True(t, ok)
	require.InDelta(t, 150, corp.Price, 1e-9)
	require.InDelta(t, 600_000.0/1_200_000.0, corp.Weight, 1e-9)

	// untouched asset reweighted against the new total
	ust, _ := p.AssetByID("UST-10Y")
	require.InDelta(t, 100, ust.Price, 1e-9)
	require.InDelta(t, 300_000.0/1_200_000.0, ust.Weight, 1e-9)
}

func TestApplyFillMovesCash(t *testing.T) {
	book, err := NewBook(samplePortfolio())
	require.NoError(t, err)

	require.NoError(t, book.ApplyFill("CORP-A", "SELL", 1000, 100))
	p := book.Snapshot()
	require.InDelta(t, 300_000, p.Cash, 1e-6)
	corp, _ := p.AssetByID("CORP-A")
	require.InDelta(t, 3000, corp.Quantity, 1e-9)
	require.InDelta(t, 1_000_000, p.TotalValue, 1e-6)

	require.NoError(t, book.ApplyFill("UST-10Y", "BUY", 500, 100))
	p = book.Snapshot()
	require.InDelta(t, 250_000, p.Cash, 1e-6)

	require.Error(t, book.ApplyFill("GHOST", "BUY", 1, 1))
	require.Error(t, book.ApplyFill("CORP-A", "SHORT", 1, 1))
}

func TestSnapshotIsIsolated(t *testing.T) {
	book, err := NewBook(samplePortfolio())
	require.NoError(t, err)

	snap := book.Snapshot()
	snap.Assets[0].Quantity = 0
	snap.Cash = 0

	fresh := book.Snapshot()
	require.InDelta(t, 3000, fresh.Assets[0].Quantity, 1e-9)
	require.InDelta(t, 200_000, fresh.Cash, 1e-6)
}

func TestLiquidityRatio(t *testing.T) {
	book, err := NewBook(samplePortfolio())
	require.NoError(t, err)

	// cash 200k plus the two holdings scoring >= 0.8
	p := book.Snapshot()
	require.InDelta(t, 0.9, p.LiquidityRatio(), 1e-9)
}

func TestSectorWeights(t *testing.T) {
	book, err := NewBook(samplePortfolio())
	require.NoError(t, err)

	weights := book.Snapshot().SectorWeights()
	require.InDelta(t, 0.3, weights["government"], 1e-9)
	require.InDelta(t, 0.4, weights["technology"], 1e-9)
	require.InDelta(t, 0.1, weights["mortgages"], 1e-9)
}
