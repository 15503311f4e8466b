package agent

import (
	"fmt"
	"time"

	"github.com/rkundel/pm-agents/internal/execution"
)

// AutonomyLevel governs whether an agent may execute trades without human
// confirmation.
type AutonomyLevel string

const (
	FullAuto     AutonomyLevel = "FULL_AUTO"
	SemiAuto     AutonomyLevel = "SEMI_AUTO"
	AdvisoryOnly AutonomyLevel = "ADVISORY_ONLY"
)

// RiskLimits bound portfolio exposure per agent.
type RiskLimits struct {
	MaxSingleAssetWeight   float64 `json:"max_single_asset_weight" yaml:"max_single_asset_weight"`
	MaxSectorConcentration float64 `json:"max_sector_concentration" yaml:"max_sector_concentration"`
	MaxDailyVaR            float64 `json:"max_daily_var" yaml:"max_daily_var"`
	MaxDrawdown            float64 `json:"max_drawdown" yaml:"max_drawdown"`
	MinLiquidityRatio      float64 `json:"min_liquidity_ratio" yaml:"min_liquidity_ratio"`
}

// TradingLimits bound trading activity. Daily and hourly budgets are both
// explicit; neither is derived from the other.
type TradingLimits struct {
	MaxDailyVolume   float64  `json:"max_daily_volume" yaml:"max_daily_volume"`   // notional USD
	MaxHourlyVolume  float64  `json:"max_hourly_volume" yaml:"max_hourly_volume"` // notional USD
	MaxTradesPerDay  int      `json:"max_trades_per_day" yaml:"max_trades_per_day"`
	MaxTradesPerHour int      `json:"max_trades_per_hour" yaml:"max_trades_per_hour"`
	TradingStart     string   `json:"trading_start" yaml:"trading_start"` // "HH:MM", agent-local
	TradingEnd       string   `json:"trading_end" yaml:"trading_end"`
	ExcludeWeekends  bool     `json:"exclude_weekends" yaml:"exclude_weekends"`
	Holidays         []string `json:"holidays" yaml:"holidays"` // "2006-01-02" dates, no trading
	AllowedAssets    []string `json:"allowed_assets" yaml:"allowed_assets"` // empty = all allowed
	RestrictedAssets []string `json:"restricted_assets" yaml:"restricted_assets"`
}

// ExecutionSettings tune how approved decisions are turned into orders.
type ExecutionSettings struct {
	SlippageTolerance float64             `json:"slippage_tolerance" yaml:"slippage_tolerance"`
	OrderType         execution.OrderType `json:"order_type" yaml:"order_type"`
	SimulationMode    bool                `json:"simulation_mode" yaml:"simulation_mode"` // never auto-execute when set
}

// Config is immutable per agent; replaced wholesale via UpdateConfig.
type Config struct {
	ID            string            `json:"id" yaml:"id"`
	Name          string            `json:"name" yaml:"name"`
	Enabled       bool              `json:"enabled" yaml:"enabled"`
	Autonomy      AutonomyLevel     `json:"autonomy" yaml:"autonomy"`
	RiskLimits    RiskLimits        `json:"risk_limits" yaml:"risk_limits"`
	TradingLimits TradingLimits     `json:"trading_limits" yaml:"trading_limits"`
	Execution     ExecutionSettings `json:"execution" yaml:"execution"`
	CycleInterval time.Duration     `json:"cycle_interval" yaml:"cycle_interval"`
}

// Validate rejects malformed configs before an agent is built.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("agent id required")
	}
	switch c.Autonomy {
	case FullAuto, SemiAuto, AdvisoryOnly:
	default:
		return fmt.Errorf("unknown autonomy level %q", c.Autonomy)
	}
	if c.Execution.SlippageTolerance < 0 || c.Execution.SlippageTolerance > 0.10 {
		return fmt.Errorf("slippage tolerance %.4f outside [0, 0.10]", c.Execution.SlippageTolerance)
	}
	if c.TradingLimits.MaxTradesPerDay < 0 || c.TradingLimits.MaxTradesPerHour < 0 {
		return fmt.Errorf("trade count limits must be non-negative")
	}
	for _, h := range c.TradingLimits.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("invalid holiday date %q: %w", h, err)
		}
	}
	return nil
}

// withDefaults fills zero fields so a sparse config still runs.
func (c Config) withDefaults() Config {
	if c.CycleInterval <= 0 {
		c.CycleInterval = 60 * time.Second
	}
	if c.Execution.OrderType == "" {
		c.Execution.OrderType = execution.OrderSmart
	}
	if c.Execution.SlippageTolerance == 0 {
		c.Execution.SlippageTolerance = 0.01
	}
	if c.TradingLimits.TradingStart == "" {
		c.TradingLimits.TradingStart = "09:00"
	}
	if c.TradingLimits.TradingEnd == "" {
		c.TradingLimits.TradingEnd = "17:00"
	}
	return c
}

// assetAllowed applies the allowed/restricted sets.
func (t TradingLimits) assetAllowed(assetID string) bool {
	for _, r := range t.RestrictedAssets {
		if r == assetID {
			return false
		}
	}
	if len(t.AllowedAssets) == 0 {
		return true
	}
	for _, a := range t.AllowedAssets {
		if a == assetID {
			return true
		}
	}
	return false
}
