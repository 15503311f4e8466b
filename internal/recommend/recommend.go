package recommend

import (
	"context"
	"time"

	"github.com/rkundel/pm-agents/internal/marketdata"
	"github.com/rkundel/pm-agents/internal/portfolio"
)

// Type classifies a recommendation.
type Type string

const (
	TypeRebalance           Type = "REBALANCE"
	TypeReduceConcentration Type = "REDUCE_CONCENTRATION"
	TypeEmergencyHedge      Type = "EMERGENCY_HEDGE"
	TypeAdjustDuration      Type = "ADJUST_DURATION"
	TypeImproveLiquidity    Type = "IMPROVE_LIQUIDITY"
)

// Priority orders recommendations for automatic consideration.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Rank maps priority to a comparable value, higher = more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Action is one concrete trade step inside a recommendation. Every action
// names an asset; free-form action payloads are not representable.
type Action struct {
	AssetID  string  `json:"asset_id"`
	Side     string  `json:"side"` // BUY | SELL
	Quantity float64 `json:"quantity"`
	Reason   string  `json:"reason"`
}

// Impact is the quantitative estimate attached to a recommendation.
type Impact struct {
	RiskReduction float64 `json:"risk_reduction"` // [0..1]
	ReturnChange  float64 `json:"return_change"`  // expected annualized delta
	CostEstimate  float64 `json:"cost_estimate"`  // USD
}

// Recommendation is the output type of the recommendation source. The
// control loop only consumes this shape; generation logic is a collaborator.
type Recommendation struct {
	ID              string   `json:"id"`
	Type            Type     `json:"type"`
	Priority        Priority `json:"priority"`
	Summary         string   `json:"summary"`
	Rationale       string   `json:"rationale"`
	Actions         []Action `json:"actions"`
	EstimatedImpact Impact   `json:"estimated_impact"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Limits carries the risk limits the source evaluates deviations against.
type Limits struct {
	MaxSingleAssetWeight   float64
	MaxSectorConcentration float64
	MaxDailyVaR            float64
	MinLiquidityRatio      float64
}

// Analysis is the input handed to a Source: the freshly priced portfolio,
// the market snapshot it was priced from, and the limits in force.
type Analysis struct {
	Portfolio portfolio.Portfolio
	Market    marketdata.MarketData
	Limits    Limits
	DailyVaR  float64 // pre-computed estimate, see EstimateDailyVaR
}

// Source generates ranked recommendations for a portfolio analysis.
type Source interface {
	Generate(ctx context.Context, a Analysis) ([]Recommendation, error)
}

// EstimateDailyVaR is a deliberately coarse parametric proxy: portfolio value
// scaled by the volatility index over an annualization factor. The real risk
// model lives outside this system; the proxy keeps the loop exercisable.
func EstimateDailyVaR(p portfolio.Portfolio, md marketdata.MarketData) float64 {
	vol := md.VolatilityIndex
	if vol <= 0 {
		vol = 16
	}
	// 1.65 sigma one-day move at the implied annualized vol
	return p.TotalValue * (vol / 100.0) / 15.87 * 1.65
}
