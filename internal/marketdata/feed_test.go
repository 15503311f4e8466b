package marketdata

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedFeed struct {
	md    MarketData
	err   error
	calls int
}

func (f *scriptedFeed) GetCurrent(ctx context.Context) (MarketData, error) {
	f.calls++
	if f.err != nil {
		return MarketData{}, f.err
	}
	return f.md.Clone(), nil
}

func TestCachedFeedServesCacheWhenRateLimited(t *testing.T) {
	inner := &scriptedFeed{md: MarketData{
		AsOf:   time.Now(),
		Prices: map[string]float64{"A": 100},
	}}
	feed := NewCachedFeed(inner, time.Hour)

	first, err := feed.GetCurrent(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)

	// second call inside the interval never reaches upstream
	second, err := feed.GetCurrent(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)
	require.Equal(t, first.Prices, second.Prices)
}

func TestCachedFeedFallsBackOnError(t *testing.T) {
	inner := &scriptedFeed{md: MarketData{Prices: map[string]float64{"A": 100}}}
	feed := NewCachedFeed(inner, time.Nanosecond)

	_, err := feed.GetCurrent(context.Background())
	require.NoError(t, err)

	inner.err = fmt.Errorf("upstream down")
	time.Sleep(2 * time.Millisecond) // let the limiter refill

	md, err := feed.GetCurrent(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 100, md.Prices["A"], 1e-9)
}

func TestCachedFeedErrNoData(t *testing.T) {
	inner := &scriptedFeed{err: fmt.Errorf("upstream down")}
	feed := NewCachedFeed(inner, time.Hour)

	_, err := feed.GetCurrent(context.Background())
	require.ErrorIs(t, err, ErrNoData)
}

func TestCachedSnapshotsAreIsolated(t *testing.T) {
	inner := &scriptedFeed{md: MarketData{Prices: map[string]float64{"A": 100}}}
	feed := NewCachedFeed(inner, time.Hour)

	first, err := feed.GetCurrent(context.Background())
	require.NoError(t, err)
	first.Prices["A"] = 0

	second, err := feed.GetCurrent(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 100, second.Prices["A"], 1e-9)
}

func TestSimFeedDeterministicWithSeed(t *testing.T) {
	assets := []SimAsset{
		{ID: "A", Price: 100, Volatility: 0.02, Liquidity: 0.9, YieldPct: 4.5},
		{ID: "B", Price: 50, Volatility: 0.01, Liquidity: 0.7, YieldPct: 5.2},
	}
	f1 := NewSimFeed(assets, 11)
	f2 := NewSimFeed(assets, 11)

	for i := 0; i < 10; i++ {
		m1, err := f1.GetCurrent(context.Background())
		require.NoError(t, err)
		m2, err := f2.GetCurrent(context.Background())
		require.NoError(t, err)
		require.Equal(t, m1.Prices, m2.Prices)
		require.Equal(t, m1.VolatilityIndex, m2.VolatilityIndex)
	}
}

func TestSimFeedPricesStayPositive(t *testing.T) {
	assets := []SimAsset{{ID: "A", Price: 1, Volatility: 0.5, Liquidity: 0.9}}
	feed := NewSimFeed(assets, 3)

	for i := 0; i < 500; i++ {
		md, err := feed.GetCurrent(context.Background())
		require.NoError(t, err)
		if md.Prices["A"] <= 0 {
			t.Fatalf("price went non-positive on step %d: %v", i, md.Prices["A"])
		}
	}
}

func TestClassifyVolatility(t *testing.T) {
	require.Equal(t, VolatilityLow, classifyVolatility(12))
	require.Equal(t, VolatilityMedium, classifyVolatility(18))
	require.Equal(t, VolatilityMedium, classifyVolatility(27.9))
	require.Equal(t, VolatilityHigh, classifyVolatility(28))
	require.Equal(t, VolatilityHigh, classifyVolatility(45))
}
