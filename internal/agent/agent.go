package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rkundel/pm-agents/internal/marketdata"
	"github.com/rkundel/pm-agents/internal/observ"
	"github.com/rkundel/pm-agents/internal/portfolio"
	"github.com/rkundel/pm-agents/internal/recommend"
)

// Status of the agent state machine.
type Status string

const (
	StatusStopped Status = "STOPPED"
	StatusActive  Status = "ACTIVE"
	StatusPaused  Status = "PAUSED"
	StatusError   Status = "ERROR"
)

// Performance is the agent's running performance snapshot. SuccessRate is
// defined over executed decisions only; ExecutedDecisions says how many that
// is, so readers can tell "no data yet" apart from "everything failed".
type Performance struct {
	TotalReturn       float64 `json:"total_return"`
	Drawdown          float64 `json:"drawdown"`
	WinRate           float64 `json:"win_rate"`
	SuccessRate       float64 `json:"success_rate"`
	ExecutedDecisions int     `json:"executed_decisions"`
	DailyLoss         float64 `json:"daily_loss"` // realized mark-to-market loss since day start
}

// Snapshot is an immutable copy of agent state handed to external readers.
type Snapshot struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Status         Status              `json:"status"`
	Autonomy       AutonomyLevel       `json:"autonomy"`
	LastDecisionAt time.Time           `json:"last_decision_at"`
	TotalDecisions int                 `json:"total_decisions"`
	Portfolio      portfolio.Portfolio `json:"portfolio"`
	Alerts         []Alert             `json:"alerts"`
	Performance    Performance         `json:"performance"`
}

// Agent owns one portfolio's autonomous decision loop. All state is mutated
// only under a.mu, either by the agent's own cycle or by control calls, which
// therefore serialize against an in-flight cycle.
type Agent struct {
	mu  sync.Mutex
	cfg Config

	book     *portfolio.Book
	feed     marketdata.Feed
	source   recommend.Source
	executor Submitter

	status         Status
	history        []Decision
	alerts         []Alert
	totalDecisions int
	lastDecisionAt time.Time
	perf           Performance

	// performance bookkeeping
	initialValue  float64
	peakValue     float64
	dayKey        string
	dayStartValue float64
	wins, losses  int // executed decisions by outcome
	ordersFilled  int
	ordersTotal   int

	// trading budget bookkeeping
	hourKey     string
	tradesHour  int
	volumeHour  float64
	tradesDay   int
	volumeDay   float64

	// loop control; non-nil while a cycle loop is live
	cancelLoop context.CancelFunc

	now func() time.Time
}

// New builds a stopped agent around its portfolio book and collaborators.
func New(cfg Config, book *portfolio.Book, feed marketdata.Feed, source recommend.Source, executor Submitter) (*Agent, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	initial := book.TotalValue()
	return &Agent{
		cfg:           cfg,
		book:          book,
		feed:          feed,
		source:        source,
		executor:      executor,
		status:        StatusStopped,
		initialValue:  initial,
		peakValue:     initial,
		dayStartValue: initial,
		now:           time.Now,
	}, nil
}

// SetClock overrides the agent's wall clock for tests.
func (a *Agent) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// ID returns the agent's identity.
func (a *Agent) ID() string { return a.cfg.ID }

// Config returns the agent's current configuration.
func (a *Agent) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// UpdateConfig replaces the configuration wholesale.
func (a *Agent) UpdateConfig(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if cfg.ID != a.cfg.ID {
		return fmt.Errorf("agent id is immutable")
	}
	a.cfg = cfg
	observ.Log("agent_config_updated", map[string]any{"agent": a.cfg.ID})
	return nil
}

// Start moves STOPPED/PAUSED/ERROR to ACTIVE and ensures the cycle timer is
// running. A disabled config refuses to start and raises a HIGH alert.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.cfg.Enabled {
		a.raiseAlert(SeverityHigh, AlertSystemError, "start refused: agent disabled in config")
		return fmt.Errorf("agent %s is disabled", a.cfg.ID)
	}
	if a.status == StatusActive {
		return nil
	}

	prev := a.status
	a.status = StatusActive
	if a.cancelLoop == nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancelLoop = cancel
		go a.loop(ctx, a.cfg.CycleInterval)
	}
	observ.Log("agent_started", map[string]any{"agent": a.cfg.ID, "from": string(prev)})
	observ.IncCounter("agent_starts_total", map[string]string{"agent": a.cfg.ID})
	return nil
}

// Pause moves ACTIVE to PAUSED. The timer keeps running; ticks are skipped.
func (a *Agent) Pause() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != StatusActive {
		return fmt.Errorf("agent %s not active (status %s)", a.cfg.ID, a.status)
	}
	a.status = StatusPaused
	observ.Log("agent_paused", map[string]any{"agent": a.cfg.ID})
	return nil
}

// Stop moves any state to STOPPED and cancels the cycle timer. An in-flight
// cycle holds a.mu, so Stop waits for it to finish rather than interrupting
// mid-trade.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = StatusStopped
	if a.cancelLoop != nil {
		a.cancelLoop()
		a.cancelLoop = nil
	}
	observ.Log("agent_stopped", map[string]any{"agent": a.cfg.ID})
	return nil
}

// Status returns the current lifecycle state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// State returns an immutable deep-copied snapshot.
func (a *Agent) State() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	alerts := make([]Alert, len(a.alerts))
	copy(alerts, a.alerts)

	return Snapshot{
		ID:             a.cfg.ID,
		Name:           a.cfg.Name,
		Status:         a.status,
		Autonomy:       a.cfg.Autonomy,
		LastDecisionAt: a.lastDecisionAt,
		TotalDecisions: a.totalDecisions,
		Portfolio:      a.book.Snapshot(),
		Alerts:         alerts,
		Performance:    a.perf,
	}
}

// DecisionHistory returns a copy of the append-only decision history.
func (a *Agent) DecisionHistory() []Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Decision, len(a.history))
	copy(out, a.history)
	return out
}

// RecentDecisionStatuses returns the statuses of the most recent n decisions,
// newest last. The monitor uses this for consecutive-failure detection.
func (a *Agent) RecentDecisionStatuses(n int) []DecisionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := len(a.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]DecisionStatus, 0, n)
	for _, d := range a.history[start:] {
		out = append(out, d.Status)
	}
	return out
}

// UnacknowledgedCriticalAlerts counts live CRITICAL alerts for the monitor.
func (a *Agent) UnacknowledgedCriticalAlerts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unacknowledgedCritical()
}

// loop drives the periodic decision cycle until the context is cancelled.
// Each Start after a Stop spawns a fresh loop under its own context, so a
// stop/start sequence never leaves an ACTIVE agent without a timer; the
// outgoing loop exits on its cancelled context.
func (a *Agent) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// a cancelled loop never runs another cycle, even when a tick
			// was already pending
			select {
			case <-ctx.Done():
				return
			default:
			}
			a.Tick(ctx)
		}
	}
}

// Tick runs one decision cycle if the agent is ACTIVE and no cycle is in
// flight. A tick arriving while the previous cycle still runs is skipped, not
// queued; control calls use a blocking Lock and so still serialize with
// cycles.
func (a *Agent) Tick(ctx context.Context) {
	if !a.mu.TryLock() {
		observ.IncCounter("agent_cycle_skips_total", map[string]string{"agent": a.cfg.ID, "reason": "in_flight"})
		return
	}
	defer a.mu.Unlock()

	if a.status != StatusActive {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			a.status = StatusError
			a.raiseAlert(SeverityCritical, AlertSystemError, fmt.Sprintf("cycle panic: %v", r))
			observ.IncCounter("agent_cycle_errors_total", map[string]string{"agent": a.cfg.ID})
		}
	}()

	start := time.Now()
	a.runCycleLocked(ctx)
	observ.RecordDuration("decision_cycle", time.Since(start), map[string]string{"agent": a.cfg.ID})
	observ.IncCounter("agent_cycles_total", map[string]string{"agent": a.cfg.ID})
}
