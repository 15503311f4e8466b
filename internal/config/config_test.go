package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rkundel/pm-agents/internal/agent"
	"github.com/rkundel/pm-agents/internal/execution"
	"github.com/rkundel/pm-agents/internal/portfolio"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server: {}\n"))
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, 10, cfg.MarketData.MinFetchIntervalSecs)
	require.InDelta(t, 0.05, cfg.Simulator.FailureProb, 1e-9)
	require.InDelta(t, 0.001, cfg.Simulator.BaseSlippage, 1e-9)
	require.Equal(t, 4, cfg.Simulator.PricePrecision)
	require.InDelta(t, 100000, cfg.Simulator.LoanMinNotional, 1e-6)
	require.Equal(t, 10, cfg.Simulator.LatencyMsMin)
	require.Equal(t, 120, cfg.Simulator.LatencyMsMax)
	require.Equal(t, "America/New_York", cfg.Simulator.MarketLocation)
	require.Equal(t, 30, cfg.Monitor.SweepIntervalSecs)
	require.Equal(t, 30, cfg.Monitor.StaleActivityMins)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [not a map\n"))
	require.Error(t, err)
}

func TestLoadFullConfig(t *testing.T) {
	body := `
server:
  addr: ":9090"
market_data:
  min_fetch_interval_seconds: 5
  seed: 42
simulator:
  failure_prob: 0.02
  seed: 7
monitor:
  sweep_interval_seconds: 15
  min_success_rate: 0.7
  consecutive_failure_limit: 2
  stale_activity_minutes: 45
  shutdown_triggers:
    - condition: daily_loss
      threshold: 250000
      description: "halt past 250k daily loss"
  emergency_contacts:
    - "ops@example.com"
agents:
  - id: a1
    name: "Agent One"
    enabled: true
    autonomy: SEMI_AUTO
    cycle_interval_seconds: 45
    risk_limits:
      max_single_asset_weight: 0.25
      max_daily_var: 500000
    trading_limits:
      max_trades_per_day: 20
      max_trades_per_hour: 5
      trading_start: "08:30"
      trading_end: "16:30"
      exclude_weekends: true
      holidays:
        - "2026-12-25"
    execution:
      slippage_tolerance: 0.005
      order_type: LIMIT
    portfolio:
      id: pf-a1
      cash: 100000
      assets:
        - id: UST
          class: treasury
          sector: government
          quantity: 1000
          price: 98.5
          yield_pct: 4.2
          liquidity_score: 0.98
`
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, int64(42), cfg.MarketData.Seed)
	require.InDelta(t, 0.02, cfg.Simulator.FailureProb, 1e-9)
	require.Equal(t, int64(7), cfg.SimulatorConfig().Seed)

	mc := cfg.MonitorConfig()
	require.Equal(t, 15*time.Second, mc.SweepInterval)
	require.Equal(t, 45*time.Minute, mc.StaleActivityWindow)
	require.Len(t, mc.ShutdownTriggers, 1)
	require.Equal(t, "daily_loss", mc.ShutdownTriggers[0].Condition)
	require.Equal(t, []string{"ops@example.com"}, mc.EmergencyContacts)

	require.Len(t, cfg.Agents, 1)
	ac := cfg.Agents[0].AgentConfig()
	require.Equal(t, "a1", ac.ID)
	require.Equal(t, agent.SemiAuto, ac.Autonomy)
	require.Equal(t, 45*time.Second, ac.CycleInterval)
	require.Equal(t, 20, ac.TradingLimits.MaxTradesPerDay)
	require.Equal(t, 5, ac.TradingLimits.MaxTradesPerHour)
	require.Equal(t, "08:30", ac.TradingLimits.TradingStart)
	require.Equal(t, []string{"2026-12-25"}, ac.TradingLimits.Holidays)
	require.Equal(t, execution.OrderLimit, ac.Execution.OrderType)
	require.NoError(t, ac.Validate())

	pf := cfg.Agents[0].Portfolio
	require.Len(t, pf.Assets, 1)
	require.Equal(t, portfolio.ClassTreasury, pf.Assets[0].Class)
	require.InDelta(t, 4.2, pf.Assets[0].YieldPct, 1e-9)
	require.InDelta(t, 0.98, pf.Assets[0].LiquidityScore, 1e-9)
}
