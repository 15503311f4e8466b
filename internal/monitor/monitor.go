package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rkundel/pm-agents/internal/agent"
	"github.com/rkundel/pm-agents/internal/marketdata"
	"github.com/rkundel/pm-agents/internal/notify"
	"github.com/rkundel/pm-agents/internal/observ"
	"github.com/rkundel/pm-agents/internal/portfolio"
	"github.com/rkundel/pm-agents/internal/recommend"
)

// ErrAgentNotFound is returned by id-keyed operations for unknown agents.
var ErrAgentNotFound = fmt.Errorf("agent not found")

// ErrShuttingDown is returned once an emergency shutdown has fired.
var ErrShuttingDown = fmt.Errorf("system is shut down")

// Config tunes the supervisor sweep and its escalation thresholds.
type Config struct {
	SweepInterval           time.Duration     `yaml:"sweep_interval"`
	MinSuccessRate          float64           `yaml:"min_success_rate"`
	ConsecutiveFailureLimit int               `yaml:"consecutive_failure_limit"`
	MaxDrawdownWarn         float64           `yaml:"max_drawdown_warn"`
	StaleActivityWindow     time.Duration     `yaml:"stale_activity_window"`
	UnackCriticalLimit      int               `yaml:"unack_critical_limit"`
	ShutdownTriggers        []ShutdownTrigger `yaml:"shutdown_triggers"`
	EmergencyContacts       []string          `yaml:"emergency_contacts"`
}

// ShutdownTrigger is one systemic kill condition. Success-rate triggers fire
// when the metric drops BELOW the threshold; all others fire when it rises
// above.
type ShutdownTrigger struct {
	Condition   string  `yaml:"condition"` // daily_loss | max_drawdown | success_rate
	Threshold   float64 `yaml:"threshold"`
	Description string  `yaml:"description"`
}

// WithDefaults fills zero fields with the reference thresholds.
func (c Config) WithDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.MinSuccessRate <= 0 {
		c.MinSuccessRate = 0.6
	}
	if c.ConsecutiveFailureLimit <= 0 {
		c.ConsecutiveFailureLimit = 3
	}
	if c.MaxDrawdownWarn <= 0 {
		c.MaxDrawdownWarn = 0.10
	}
	if c.StaleActivityWindow <= 0 {
		c.StaleActivityWindow = 30 * time.Minute
	}
	if c.UnackCriticalLimit <= 0 {
		c.UnackCriticalLimit = 3
	}
	return c
}

// failureWindow is how many recent decisions the consecutive-failure check
// looks at.
const failureWindow = 5

// Monitor supervises a registry of agents: it sweeps their state on its own
// cadence, pauses misbehaving agents, and fires the one-shot system-wide
// emergency shutdown.
type Monitor struct {
	mu     sync.RWMutex
	agents map[string]*agent.Agent

	cfg      Config
	feed     marketdata.Feed
	source   recommend.Source
	executor agent.Submitter
	notifier notify.Notifier

	shuttingDown atomic.Bool
	running      bool
	cancelSweep  context.CancelFunc

	now func() time.Time
}

// New builds a monitor. The feed, source and executor are shared by every
// agent the monitor creates.
func New(cfg Config, feed marketdata.Feed, source recommend.Source, executor agent.Submitter, notifier notify.Notifier) *Monitor {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Monitor{
		agents:   map[string]*agent.Agent{},
		cfg:      cfg.WithDefaults(),
		feed:     feed,
		source:   source,
		executor: executor,
		notifier: notifier,
		now:      time.Now,
	}
}

// SetClock overrides the monitor clock for tests.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Create registers a new agent for the given config and initial portfolio.
func (m *Monitor) Create(cfg agent.Config, p portfolio.Portfolio) (*agent.Agent, error) {
	if m.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}
	book, err := portfolio.NewBook(p)
	if err != nil {
		return nil, fmt.Errorf("invalid portfolio: %w", err)
	}
	a, err := agent.New(cfg, book, m.feed, m.source, m.executor)
	if err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.agents[cfg.ID]; exists {
		return nil, fmt.Errorf("agent %s already registered", cfg.ID)
	}
	m.agents[cfg.ID] = a
	observ.SetGauge("agents_registered", float64(len(m.agents)), nil)
	observ.Log("agent_registered", map[string]any{"agent": cfg.ID})
	return a, nil
}

// Register adds an externally constructed agent to the registry.
func (m *Monitor) Register(a *agent.Agent) error {
	if m.shuttingDown.Load() {
		return ErrShuttingDown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.agents[a.ID()]; exists {
		return fmt.Errorf("agent %s already registered", a.ID())
	}
	m.agents[a.ID()] = a
	observ.SetGauge("agents_registered", float64(len(m.agents)), nil)
	return nil
}

func (m *Monitor) agentByID(id string) (*agent.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return a, nil
}

func (m *Monitor) allAgents() []*agent.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*agent.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	return out
}

// State returns an immutable snapshot for one agent.
func (m *Monitor) State(id string) (agent.Snapshot, error) {
	a, err := m.agentByID(id)
	if err != nil {
		return agent.Snapshot{}, err
	}
	return a.State(), nil
}

// DecisionHistory returns a copy of one agent's decision history.
func (m *Monitor) DecisionHistory(id string) ([]agent.Decision, error) {
	a, err := m.agentByID(id)
	if err != nil {
		return nil, err
	}
	return a.DecisionHistory(), nil
}

// AcknowledgeAlert marks one of an agent's alerts acknowledged.
func (m *Monitor) AcknowledgeAlert(id, alertID string) error {
	a, err := m.agentByID(id)
	if err != nil {
		return err
	}
	if !a.AcknowledgeAlert(alertID) {
		return fmt.Errorf("alert %s not found on agent %s", alertID, id)
	}
	return nil
}

// Control applies an operator override to one agent. Safe to call
// concurrently with the agent's own cycle; the agent serializes internally.
func (m *Monitor) Control(id, action string) error {
	a, err := m.agentByID(id)
	if err != nil {
		return err
	}
	switch strings.ToUpper(action) {
	case "PAUSE":
		return a.Pause()
	case "RESUME", "START":
		if m.shuttingDown.Load() {
			return ErrShuttingDown
		}
		return a.Start()
	case "STOP":
		return a.Stop()
	default:
		return fmt.Errorf("unknown control action %q", action)
	}
}

// Start begins the supervisor sweep loop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("monitor already running")
	}
	if m.shuttingDown.Load() {
		return ErrShuttingDown
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelSweep = cancel
	m.running = true
	go m.sweepLoop(ctx)
	observ.Log("monitor_started", map[string]any{"sweep_interval": m.cfg.SweepInterval.String()})
	return nil
}

// Stop halts the sweep loop without touching the agents.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelSweep != nil {
		m.cancelSweep()
		m.cancelSweep = nil
	}
	m.running = false
}

func (m *Monitor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep evaluates every registered agent once and fires escalations. Exported
// so tests and operators can force an immediate sweep.
func (m *Monitor) Sweep(ctx context.Context) {
	if m.shuttingDown.Load() {
		return
	}
	var active int
	for _, a := range m.allAgents() {
		snap := a.State()
		if snap.Status == agent.StatusActive {
			active++
		}
		m.checkPerformance(a, snap)
		m.checkRisk(a, snap)
		m.checkHealth(snap)
		if trigger, metric, ok := m.breachedTrigger(snap); ok {
			observ.Log("shutdown_trigger_breached", map[string]any{
				"agent":     snap.ID,
				"condition": trigger.Condition,
				"threshold": trigger.Threshold,
				"metric":    metric,
			})
			m.EmergencyShutdown(ctx, fmt.Sprintf("%s: %s (%.4f vs threshold %.4f, agent %s)",
				trigger.Condition, trigger.Description, metric, trigger.Threshold, snap.ID))
			return
		}
	}
	observ.SetGauge("agents_active", float64(active), nil)
	observ.IncCounter("monitor_sweeps_total", nil)
}

// successRateBelow reports whether an agent's success rate breaches the
// threshold. Agents that have never executed a decision carry a zero rate
// that means "no data", not "everything failed"; REJECTED and advisory
// decisions never count.
func successRateBelow(p agent.Performance, threshold float64) bool {
	return p.ExecutedDecisions > 0 && p.SuccessRate < threshold
}

func (m *Monitor) checkPerformance(a *agent.Agent, snap agent.Snapshot) {
	if successRateBelow(snap.Performance, m.cfg.MinSuccessRate) {
		observ.Log("monitor_warning", map[string]any{
			"agent":        snap.ID,
			"check":        "success_rate",
			"success_rate": snap.Performance.SuccessRate,
			"minimum":      m.cfg.MinSuccessRate,
		})
	}

	consecutive := 0
	for _, st := range a.RecentDecisionStatuses(failureWindow) {
		if st == agent.DecisionFailed {
			consecutive++
		} else {
			consecutive = 0
		}
	}
	if consecutive >= m.cfg.ConsecutiveFailureLimit && snap.Status == agent.StatusActive {
		if err := a.Pause(); err == nil {
			observ.IncCounter("monitor_auto_pauses_total", map[string]string{"agent": snap.ID, "reason": "consecutive_failures"})
			observ.Log("agent_auto_paused", map[string]any{
				"agent":  snap.ID,
				"reason": "consecutive_failures",
				"count":  consecutive,
			})
		}
	}

	if snap.Performance.Drawdown > m.cfg.MaxDrawdownWarn {
		observ.Log("monitor_warning", map[string]any{
			"agent":    snap.ID,
			"check":    "drawdown",
			"drawdown": snap.Performance.Drawdown,
		})
	}
}

func (m *Monitor) checkRisk(a *agent.Agent, snap agent.Snapshot) {
	unack := a.UnacknowledgedCriticalAlerts()
	if unack >= m.cfg.UnackCriticalLimit && snap.Status == agent.StatusActive {
		if err := a.Pause(); err == nil {
			observ.IncCounter("monitor_auto_pauses_total", map[string]string{"agent": snap.ID, "reason": "unacknowledged_critical_alerts"})
			observ.Log("agent_auto_paused", map[string]any{
				"agent":  snap.ID,
				"reason": "unacknowledged_critical_alerts",
				"count":  unack,
			})
		}
	}
}

func (m *Monitor) checkHealth(snap agent.Snapshot) {
	if snap.Status == agent.StatusActive && !snap.LastDecisionAt.IsZero() &&
		m.now().Sub(snap.LastDecisionAt) > m.cfg.StaleActivityWindow {
		observ.Log("monitor_warning", map[string]any{
			"agent":         snap.ID,
			"check":         "stale_activity",
			"last_decision": snap.LastDecisionAt.UTC().Format(time.RFC3339),
		})
	}
	if snap.Status == agent.StatusError {
		observ.IncCounter("monitor_error_agents_total", map[string]string{"agent": snap.ID})
		observ.Log("monitor_warning", map[string]any{
			"agent": snap.ID,
			"check": "error_state",
		})
	}
}

// breachedTrigger returns the first shutdown trigger breached by this agent's
// live metrics. Success-rate uses the inverted comparison and only applies to
// agents that have executed at least one decision.
func (m *Monitor) breachedTrigger(snap agent.Snapshot) (ShutdownTrigger, float64, bool) {
	for _, t := range m.cfg.ShutdownTriggers {
		switch t.Condition {
		case "daily_loss":
			if snap.Performance.DailyLoss > t.Threshold {
				return t, snap.Performance.DailyLoss, true
			}
		case "max_drawdown":
			if snap.Performance.Drawdown > t.Threshold {
				return t, snap.Performance.Drawdown, true
			}
		case "success_rate":
			if successRateBelow(snap.Performance, t.Threshold) {
				return t, snap.Performance.SuccessRate, true
			}
		}
	}
	return ShutdownTrigger{}, 0, false
}

// EmergencyShutdown performs the one-shot system-wide halt: every registered
// agent is stopped best-effort, each configured contact is notified once, and
// the monitor's own sweep stops. A second call while shutdown is already in
// progress is a no-op.
func (m *Monitor) EmergencyShutdown(ctx context.Context, reason string) {
	if !m.shuttingDown.CompareAndSwap(false, true) {
		return
	}

	observ.SetGauge("emergency_shutdown", 1, nil)
	observ.IncCounter("emergency_shutdowns_total", nil)
	observ.Log("emergency_shutdown", map[string]any{"reason": reason})

	for _, a := range m.allAgents() {
		if err := a.Stop(); err != nil {
			// best effort: one failing agent never blocks the rest
			observ.LogError("emergency_stop_failed", err, map[string]any{"agent": a.ID()})
			continue
		}
		observ.Log("agent_emergency_stopped", map[string]any{"agent": a.ID()})
	}

	msg := fmt.Sprintf("EMERGENCY SHUTDOWN: %s", reason)
	for _, contact := range m.cfg.EmergencyContacts {
		if err := m.notifier.Notify(ctx, contact, msg); err != nil {
			observ.LogError("emergency_notification_failed", err, map[string]any{"contact": contact})
		}
	}

	m.Stop()
	observ.SetGauge("agents_active", 0, nil)
}

// ShuttingDown reports whether the one-shot shutdown has fired.
func (m *Monitor) ShuttingDown() bool {
	return m.shuttingDown.Load()
}
