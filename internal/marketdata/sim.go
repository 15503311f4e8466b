package marketdata

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// SimFeed generates market data by random walk over a base snapshot. Prices
// drift per call with per-asset volatility; sentiment and the volatility
// index wander inside sane bounds.
type SimFeed struct {
	mu     sync.Mutex
	random *rand.Rand

	basePrices map[string]float64
	vols       map[string]float64 // daily volatility per asset
	liquidity  map[string]float64
	yields     map[string]float64
	spreads    map[string]float64
	volIndex   float64
	sentiment  float64
}

// SimAsset seeds one instrument in the sim feed.
type SimAsset struct {
	ID         string
	Price      float64
	Volatility float64 // daily volatility as decimal, e.g. 0.02
	Liquidity  float64 // [0..1]
	YieldPct   float64
}

// NewSimFeed builds a feed over the given assets. Pass seed 0 for a
// time-based seed.
func NewSimFeed(assets []SimAsset, seed int64) *SimFeed {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	f := &SimFeed{
		random:     rand.New(rand.NewSource(seed)),
		basePrices: map[string]float64{},
		vols:       map[string]float64{},
		liquidity:  map[string]float64{},
		yields:     map[string]float64{},
		spreads: map[string]float64{
			"AAA": 45, "AA": 70, "A": 110, "BBB": 180, "BB": 320, "B": 520,
		},
		volIndex:  16.0,
		sentiment: 0.1,
	}
	for _, a := range assets {
		f.basePrices[a.ID] = a.Price
		vol := a.Volatility
		if vol <= 0 {
			vol = 0.015
		}
		f.vols[a.ID] = vol
		f.liquidity[a.ID] = a.Liquidity
		f.yields[a.ID] = a.YieldPct
	}
	return f
}

// GetCurrent returns a fresh snapshot, advancing the random walk.
func (f *SimFeed) GetCurrent(ctx context.Context) (MarketData, error) {
	select {
	case <-ctx.Done():
		return MarketData{}, ctx.Err()
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// sorted iteration keeps the walk reproducible for a given seed
	ids := make([]string, 0, len(f.basePrices))
	for id := range f.basePrices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	prices := make(map[string]float64, len(f.basePrices))
	for _, id := range ids {
		step := (f.random.Float64()*2 - 1) * f.vols[id] * 0.25
		px := f.basePrices[id] * (1 + step)
		f.basePrices[id] = px
		prices[id] = math.Round(px*10000) / 10000
	}

	// volatility index mean-reverts toward 16
	f.volIndex += (16.0-f.volIndex)*0.05 + (f.random.Float64()*2-1)*1.5
	if f.volIndex < 9 {
		f.volIndex = 9
	}
	f.sentiment += (f.random.Float64()*2 - 1) * 0.05
	if f.sentiment > 1 {
		f.sentiment = 1
	} else if f.sentiment < -1 {
		f.sentiment = -1
	}

	buckets := make([]string, 0, len(f.spreads))
	for k := range f.spreads {
		buckets = append(buckets, k)
	}
	sort.Strings(buckets)
	spreads := make(map[string]float64, len(f.spreads))
	for _, k := range buckets {
		spreads[k] = f.spreads[k] * (1 + (f.random.Float64()*2-1)*0.03)
	}

	return MarketData{
		AsOf:            time.Now().UTC(),
		Prices:          prices,
		Yields:          copyMap(f.yields),
		CreditSpreads:   spreads,
		VolatilityIndex: f.volIndex,
		LiquidityScores: copyMap(f.liquidity),
		Sentiment: Sentiment{
			Overall:    f.sentiment,
			Volatility: classifyVolatility(f.volIndex),
		},
	}, nil
}

func classifyVolatility(volIndex float64) VolatilityLevel {
	switch {
	case volIndex >= 28:
		return VolatilityHigh
	case volIndex >= 18:
		return VolatilityMedium
	default:
		return VolatilityLow
	}
}
