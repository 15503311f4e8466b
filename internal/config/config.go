package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rkundel/pm-agents/internal/agent"
	"github.com/rkundel/pm-agents/internal/execution"
	"github.com/rkundel/pm-agents/internal/monitor"
	"github.com/rkundel/pm-agents/internal/portfolio"
)

type Server struct {
	Addr string `yaml:"addr"`
}

type MarketData struct {
	MinFetchIntervalSecs int   `yaml:"min_fetch_interval_seconds"`
	Seed                 int64 `yaml:"seed"`
}

type Simulator struct {
	FailureProb     float64 `yaml:"failure_prob"`
	BaseSlippage    float64 `yaml:"base_slippage"`
	PricePrecision  int     `yaml:"price_precision"`
	LoanMinNotional float64 `yaml:"loan_min_notional"`
	LatencyMsMin    int     `yaml:"latency_ms_min"`
	LatencyMsMax    int     `yaml:"latency_ms_max"`
	MarketLocation  string  `yaml:"market_location"`
	MaxConcurrent   int     `yaml:"max_concurrent"`
	Seed            int64   `yaml:"seed"`
}

type Monitor struct {
	SweepIntervalSecs       int                       `yaml:"sweep_interval_seconds"`
	MinSuccessRate          float64                   `yaml:"min_success_rate"`
	ConsecutiveFailureLimit int                       `yaml:"consecutive_failure_limit"`
	MaxDrawdownWarn         float64                   `yaml:"max_drawdown_warn"`
	StaleActivityMins       int                       `yaml:"stale_activity_minutes"`
	UnackCriticalLimit      int                       `yaml:"unack_critical_limit"`
	ShutdownTriggers        []monitor.ShutdownTrigger `yaml:"shutdown_triggers"`
	EmergencyContacts       []string                  `yaml:"emergency_contacts"`
}

type Agent struct {
	ID                string                  `yaml:"id"`
	Name              string                  `yaml:"name"`
	Enabled           bool                    `yaml:"enabled"`
	Autonomy          string                  `yaml:"autonomy"`
	CycleIntervalSecs int                     `yaml:"cycle_interval_seconds"`
	RiskLimits        agent.RiskLimits        `yaml:"risk_limits"`
	TradingLimits     agent.TradingLimits     `yaml:"trading_limits"`
	Execution         agent.ExecutionSettings `yaml:"execution"`
	Portfolio         portfolio.Portfolio     `yaml:"portfolio"`
}

type Root struct {
	Server        Server     `yaml:"server"`
	MarketData    MarketData `yaml:"market_data"`
	Simulator     Simulator  `yaml:"simulator"`
	Monitor       Monitor    `yaml:"monitor"`
	Agents        []Agent    `yaml:"agents"`
	NotifyWebhook string     `yaml:"notify_webhook_url"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.MarketData.MinFetchIntervalSecs == 0 {
		c.MarketData.MinFetchIntervalSecs = 10
	}
	if c.Simulator.FailureProb == 0 {
		c.Simulator.FailureProb = 0.05
	}
	if c.Simulator.BaseSlippage == 0 {
		c.Simulator.BaseSlippage = 0.001
	}
	if c.Simulator.PricePrecision == 0 {
		c.Simulator.PricePrecision = 4
	}
	if c.Simulator.LoanMinNotional == 0 {
		c.Simulator.LoanMinNotional = 100000
	}
	if c.Simulator.LatencyMsMax == 0 {
		c.Simulator.LatencyMsMin = 10
		c.Simulator.LatencyMsMax = 120
	}
	if c.Simulator.MarketLocation == "" {
		c.Simulator.MarketLocation = "America/New_York"
	}
	if c.Monitor.SweepIntervalSecs == 0 {
		c.Monitor.SweepIntervalSecs = 30
	}
	if c.Monitor.StaleActivityMins == 0 {
		c.Monitor.StaleActivityMins = 30
	}

	return c, nil
}

// SimulatorConfig maps the YAML block onto the execution package config.
func (c Root) SimulatorConfig() execution.Config {
	return execution.Config{
		FailureProb:     c.Simulator.FailureProb,
		BaseSlippage:    c.Simulator.BaseSlippage,
		PricePrecision:  c.Simulator.PricePrecision,
		LoanMinNotional: c.Simulator.LoanMinNotional,
		LatencyMsMin:    c.Simulator.LatencyMsMin,
		LatencyMsMax:    c.Simulator.LatencyMsMax,
		MarketLocation:  c.Simulator.MarketLocation,
		MaxConcurrent:   c.Simulator.MaxConcurrent,
		Seed:            c.Simulator.Seed,
	}
}

// MonitorConfig maps the YAML block onto the monitor package config.
func (c Root) MonitorConfig() monitor.Config {
	return monitor.Config{
		SweepInterval:           time.Duration(c.Monitor.SweepIntervalSecs) * time.Second,
		MinSuccessRate:          c.Monitor.MinSuccessRate,
		ConsecutiveFailureLimit: c.Monitor.ConsecutiveFailureLimit,
		MaxDrawdownWarn:         c.Monitor.MaxDrawdownWarn,
		StaleActivityWindow:     time.Duration(c.Monitor.StaleActivityMins) * time.Minute,
		UnackCriticalLimit:      c.Monitor.UnackCriticalLimit,
		ShutdownTriggers:        c.Monitor.ShutdownTriggers,
		EmergencyContacts:       c.Monitor.EmergencyContacts,
	}
}

// AgentConfig maps one YAML agent entry onto the agent package config.
func (a Agent) AgentConfig() agent.Config {
	return agent.Config{
		ID:            a.ID,
		Name:          a.Name,
		Enabled:       a.Enabled,
		Autonomy:      agent.AutonomyLevel(a.Autonomy),
		RiskLimits:    a.RiskLimits,
		TradingLimits: a.TradingLimits,
		Execution:     a.Execution,
		CycleInterval: time.Duration(a.CycleIntervalSecs) * time.Second,
	}
}
