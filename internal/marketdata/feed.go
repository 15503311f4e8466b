package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rkundel/pm-agents/internal/observ"
)

// VolatilityLevel classifies current market sentiment volatility.
type VolatilityLevel string

const (
	VolatilityLow    VolatilityLevel = "LOW"
	VolatilityMedium VolatilityLevel = "MEDIUM"
	VolatilityHigh   VolatilityLevel = "HIGH"
)

// Sentiment summarizes market mood for the eligibility gate.
type Sentiment struct {
	Overall    float64         `json:"overall"` // [-1..1]
	Volatility VolatilityLevel `json:"volatility"`
}

// MarketData is one snapshot of the data feed. Prices and scores are keyed by
// asset id.
type MarketData struct {
	AsOf            time.Time          `json:"as_of"`
	Prices          map[string]float64 `json:"prices"`
	Yields          map[string]float64 `json:"yields"`
	CreditSpreads   map[string]float64 `json:"credit_spreads"` // bps by rating bucket
	VolatilityIndex float64            `json:"volatility_index"`
	LiquidityScores map[string]float64 `json:"liquidity_scores"`
	Sentiment       Sentiment          `json:"sentiment"`
}

// Clone returns a deep copy so cached snapshots cannot be mutated by callers.
func (m MarketData) Clone() MarketData {
	out := m
	out.Prices = copyMap(m.Prices)
	out.Yields = copyMap(m.Yields)
	out.CreditSpreads = copyMap(m.CreditSpreads)
	out.LiquidityScores = copyMap(m.LiquidityScores)
	return out
}

func copyMap(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Feed supplies current market data on demand.
type Feed interface {
	GetCurrent(ctx context.Context) (MarketData, error)
}

// CachedFeed wraps a Feed with rate limiting and last-known-good fallback.
// A failed or rate-limited fetch returns the cached snapshot instead of an
// error, so one flaky poll never aborts a decision cycle.
type CachedFeed struct {
	inner   Feed
	limiter *rate.Limiter

	mu       sync.RWMutex
	last     MarketData
	lastGood time.Time
	haveLast bool
}

// NewCachedFeed allows at most one upstream fetch per minInterval.
func NewCachedFeed(inner Feed, minInterval time.Duration) *CachedFeed {
	return &CachedFeed{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// GetCurrent fetches fresh data when the limiter allows, otherwise serves the
// cached snapshot. ErrNoData is returned only when there has never been a
// successful fetch.
func (c *CachedFeed) GetCurrent(ctx context.Context) (MarketData, error) {
	if c.limiter.Allow() {
		md, err := c.inner.GetCurrent(ctx)
		if err == nil {
			c.mu.Lock()
			c.last = md.Clone()
			c.lastGood = time.Now()
			c.haveLast = true
			c.mu.Unlock()
			observ.IncCounter("marketdata_fetches_total", map[string]string{"result": "ok"})
			return md, nil
		}
		observ.IncCounter("marketdata_fetches_total", map[string]string{"result": "error"})
		observ.LogError("marketdata_fetch_failed", err, nil)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.haveLast {
		return MarketData{}, ErrNoData
	}
	staleness := time.Since(c.lastGood)
	observ.SetGauge("marketdata_staleness_seconds", staleness.Seconds(), nil)
	observ.IncCounter("marketdata_cache_serves_total", nil)
	return c.last.Clone(), nil
}

// ErrNoData means the feed has never returned a usable snapshot.
var ErrNoData = fmt.Errorf("no market data available")
