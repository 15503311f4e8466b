package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rkundel/pm-agents/internal/execution"
	"github.com/rkundel/pm-agents/internal/marketdata"
	"github.com/rkundel/pm-agents/internal/portfolio"
	"github.com/rkundel/pm-agents/internal/recommend"
)

// tradingDay is a Wednesday, 10:00 UTC, inside the default 09:00-17:00
// window.
var tradingDay = time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

type stubFeed struct {
	md  marketdata.MarketData
	err error
}

func (f *stubFeed) GetCurrent(ctx context.Context) (marketdata.MarketData, error) {
	return f.md.Clone(), f.err
}

type stubSource struct {
	recs []recommend.Recommendation
	err  error
}

func (s *stubSource) Generate(ctx context.Context, a recommend.Analysis) ([]recommend.Recommendation, error) {
	return s.recs, s.err
}

// fakeExecutor fills every order at the asset's current price, or fails them
// all when fail is set.
type fakeExecutor struct {
	fail    bool
	batches [][]execution.BatchItem
}

func (f *fakeExecutor) SubmitBatch(ctx context.Context, items []execution.BatchItem) []execution.Execution {
	f.batches = append(f.batches, items)
	out := make([]execution.Execution, len(items))
	for i, it := range items {
		if f.fail {
			out[i] = execution.Execution{
				OrderID: it.Order.ID,
				AssetID: it.Order.AssetID,
				Side:    it.Order.Side,
				Status:  execution.StatusFailed,
				Err:     "simulated execution failure",
			}
			continue
		}
		out[i] = execution.Execution{
			OrderID:        it.Order.ID,
			AssetID:        it.Order.AssetID,
			Side:           it.Order.Side,
			Status:         execution.StatusFilled,
			FilledQuantity: it.Order.Quantity,
			Price:          it.Asset.CurrentPrice,
		}
	}
	return out
}

// countingFeed counts market-data fetches. Safe for use from the agent's own
// loop goroutine.
type countingFeed struct {
	mu    sync.Mutex
	calls int
}

func (f *countingFeed) GetCurrent(ctx context.Context) (marketdata.MarketData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return calmMarket(nil), nil
}

func (f *countingFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func calmMarket(prices map[string]float64) marketdata.MarketData {
	return marketdata.MarketData{
		AsOf:            tradingDay,
		Prices:          prices,
		VolatilityIndex: 16,
		Sentiment:       marketdata.Sentiment{Overall: 0.1, Volatility: marketdata.VolatilityLow},
	}
}

func testPortfolio() portfolio.Portfolio {
	return portfolio.Portfolio{
		ID:   "pf-test",
		Name: "Test Book",
		Cash: 350_000,
		Assets: []portfolio.Asset{
			{ID: "CORP-X", Class: portfolio.ClassCorporateBond, Sector: "technology", Quantity: 5000, Price: 100, LiquidityScore: 0.85},
			{ID: "UST-10Y", Class: portfolio.ClassTreasury, Sector: "government", Quantity: 1500, Price: 100, LiquidityScore: 0.98},
		},
	}
}

func testAgentConfig() Config {
	return Config{
		ID:       "agent-1",
		Name:     "Test Agent",
		Enabled:  true,
		Autonomy: FullAuto,
		RiskLimits: RiskLimits{
			MaxSingleAssetWeight:   0.20,
			MaxSectorConcentration: 0.80,
			MaxDailyVaR:            1_000_000,
			MaxDrawdown:            0.50,
			MinLiquidityRatio:      0.05,
		},
		TradingLimits: TradingLimits{
			ExcludeWeekends: true,
		},
		Execution: ExecutionSettings{
			SlippageTolerance: 0.01,
			OrderType:         execution.OrderSmart,
		},
		CycleInterval: time.Hour,
	}
}

func newTestAgent(t *testing.T, cfg Config, feed marketdata.Feed, source recommend.Source, exec Submitter) *Agent {
	t.Helper()
	book, err := portfolio.NewBook(testPortfolio())
	require.NoError(t, err)
	a, err := New(cfg, book, feed, source, exec)
	require.NoError(t, err)
	a.SetClock(func() time.Time { return tradingDay })
	t.Cleanup(func() { _ = a.Stop() })
	return a
}

func TestLifecycleTransitions(t *testing.T) {
	a := newTestAgent(t, testAgentConfig(), &stubFeed{md: calmMarket(nil)}, &stubSource{}, &fakeExecutor{})

	require.Equal(t, StatusStopped, a.Status())

	require.NoError(t, a.Start())
	require.Equal(t, StatusActive, a.Status())

	// idempotent
	require.NoError(t, a.Start())
	require.Equal(t, StatusActive, a.Status())

	require.NoError(t, a.Pause())
	require.Equal(t, StatusPaused, a.Status())
	require.Error(t, a.Pause())

	require.NoError(t, a.Start())
	require.Equal(t, StatusActive, a.Status())

	require.NoError(t, a.Stop())
	require.Equal(t, StatusStopped, a.Status())
	require.Error(t, a.Pause())
}

// A stopped agent restarted right away must run cycles again: the new Start
// has to spawn a fresh loop for its own context instead of trusting the old
// one to still be alive.
func TestRestartAfterStopResumesCycles(t *testing.T) {
	cfg := testAgentConfig()
	cfg.CycleInterval = 5 * time.Millisecond
	feed := &countingFeed{}
	a := newTestAgent(t, cfg, feed, &stubSource{}, &fakeExecutor{})

	require.NoError(t, a.Start())
	require.NoError(t, a.Stop())
	require.NoError(t, a.Start())
	require.Equal(t, StatusActive, a.Status())

	before := feed.count()
	deadline := time.Now().Add(2 * time.Second)
	for feed.count() == before {
		if time.Now().After(deadline) {
			t.Fatal("no cycle ran after restart")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestValidateRejectsMalformedHoliday(t *testing.T) {
	cfg := testAgentConfig()
	cfg.TradingLimits.Holidays = []string{"26/08/2026"}
	require.Error(t, cfg.Validate())

	cfg.TradingLimits.Holidays = []string{"2026-12-25"}
	require.NoError(t, cfg.Validate())
}

func TestStartRefusedWhenDisabled(t *testing.T) {
	cfg := testAgentConfig()
	cfg.Enabled = false
	a := newTestAgent(t, cfg, &stubFeed{md: calmMarket(nil)}, &stubSource{}, &fakeExecutor{})

	err := a.Start()
	require.Error(t, err)
	require.Equal(t, StatusStopped, a.Status())

	snap := a.State()
	require.Len(t, snap.Alerts, 1)
	require.Equal(t, SeverityHigh, snap.Alerts[0].Severity)
	require.Equal(t, AlertSystemError, snap.Alerts[0].Type)
}

func TestUpdateConfigKeepsID(t *testing.T) {
	a := newTestAgent(t, testAgentConfig(), &stubFeed{md: calmMarket(nil)}, &stubSource{}, &fakeExecutor{})

	cfg := a.Config()
	cfg.ID = "someone-else"
	require.Error(t, a.UpdateConfig(cfg))

	cfg = a.Config()
	cfg.Name = "Renamed"
	require.NoError(t, a.UpdateConfig(cfg))
	require.Equal(t, "Renamed", a.Config().Name)
}

func TestAlertLogBounded(t *testing.T) {
	a := newTestAgent(t, testAgentConfig(), &stubFeed{md: calmMarket(nil)}, &stubSource{}, &fakeExecutor{})

	a.mu.Lock()
	for i := 0; i < alertLogCap+1; i++ {
		a.raiseAlert(SeverityLow, AlertDataQuality, fmt.Sprintf("alert %d", i))
	}
	a.mu.Unlock()

	snap := a.State()
	require.Len(t, snap.Alerts, alertLogKeep)
	// the newest entries survived the trim
	require.Equal(t, fmt.Sprintf("alert %d", alertLogCap), snap.Alerts[len(snap.Alerts)-1].Message)
}

func TestAcknowledgeIsMonotonic(t *testing.T) {
	a := newTestAgent(t, testAgentConfig(), &stubFeed{md: calmMarket(nil)}, &stubSource{}, &fakeExecutor{})

	a.mu.Lock()
	a.raiseAlert(SeverityCritical, AlertRiskLimitBreach, "breach")
	a.mu.Unlock()

	id := a.State().Alerts[0].ID
	require.False(t, a.AcknowledgeAlert("no-such-alert"))
	require.True(t, a.AcknowledgeAlert(id))
	require.True(t, a.State().Alerts[0].Acknowledged)

	// acknowledging twice never reverts
	require.True(t, a.AcknowledgeAlert(id))
	require.True(t, a.State().Alerts[0].Acknowledged)
	require.Equal(t, 0, a.UnacknowledgedCriticalAlerts())
}

func TestConfidenceScoring(t *testing.T) {
	cases := []struct {
		priority      recommend.Priority
		riskReduction float64
		want          float64
	}{
		{recommend.PriorityCritical, 0, 0.9},
		{recommend.PriorityCritical, 0.3, 1.0}, // capped
		{recommend.PriorityHigh, 0, 0.8},
		{recommend.PriorityHigh, 0.25, 0.9},
		{recommend.PriorityMedium, 0, 0.7},
		{recommend.PriorityLow, 0.1, 0.6},
	}
	for _, tc := range cases {
		got := confidenceFor(recommend.Recommendation{
			Priority:        tc.priority,
			EstimatedImpact: recommend.Impact{RiskReduction: tc.riskReduction},
		})
		require.InDelta(t, tc.want, got, 1e-9, "priority %s riskReduction %v", tc.priority, tc.riskReduction)
		require.GreaterOrEqual(t, got, 0.0)
		require.LessOrEqual(t, got, 1.0)
	}
}

func TestAutoExecutePolicy(t *testing.T) {
	full := testAgentConfig()
	semi := testAgentConfig()
	semi.Autonomy = SemiAuto
	advisory := testAgentConfig()
	advisory.Autonomy = AdvisoryOnly
	simMode := testAgentConfig()
	simMode.Execution.SimulationMode = true

	rec := func(p recommend.Priority) recommend.Recommendation {
		return recommend.Recommendation{Priority: p}
	}

	cases := []struct {
		name       string
		cfg        Config
		rec        recommend.Recommendation
		decType    DecisionType
		confidence float64
		want       bool
	}{
		{"advisory never", advisory, rec(recommend.PriorityCritical), DecisionEmergencyHedge, 1.0, false},
		{"simulation mode never", simMode, rec(recommend.PriorityCritical), DecisionEmergencyHedge, 1.0, false},
		{"low confidence never", full, rec(recommend.PriorityCritical), DecisionEmergencyHedge, 0.69, false},
		{"emergency hedge full auto", full, rec(recommend.PriorityCritical), DecisionEmergencyHedge, 0.75, true},
		{"emergency hedge semi auto", semi, rec(recommend.PriorityCritical), DecisionEmergencyHedge, 0.95, false},
		{"critical high confidence", full, rec(recommend.PriorityCritical), DecisionReduceConcentration, 0.85, true},
		{"critical semi auto", semi, rec(recommend.PriorityCritical), DecisionReduceConcentration, 0.85, false},
		{"high above bar", full, rec(recommend.PriorityHigh), DecisionRebalance, 0.9, true},
		{"high below bar", full, rec(recommend.PriorityHigh), DecisionRebalance, 0.82, false},
		{"medium needs near certainty", full, rec(recommend.PriorityMedium), DecisionImproveLiquidity, 0.95, true},
		{"low priority never on fallback", full, rec(recommend.PriorityLow), DecisionRebalance, 0.95, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := shouldAutoExecute(tc.cfg, tc.rec, tc.decType, tc.confidence)
			require.Equal(t, tc.want, got)
		})
	}
}
