package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rkundel/pm-agents/internal/execution"
	"github.com/rkundel/pm-agents/internal/marketdata"
	"github.com/rkundel/pm-agents/internal/observ"
	"github.com/rkundel/pm-agents/internal/portfolio"
	"github.com/rkundel/pm-agents/internal/recommend"
)

// Submitter is the execution surface the pipeline submits order batches to.
type Submitter interface {
	SubmitBatch(ctx context.Context, items []execution.BatchItem) []execution.Execution
}

// runCycleLocked executes one full decision cycle. Caller holds a.mu.
//
// Steps: refresh market data (cached fallback on failure), reprice the
// portfolio, generate recommendations, build a Decision for every CRITICAL or
// HIGH candidate, auto-execute the ones the autonomy policy and the
// eligibility gate approve, append everything to history, then run the
// risk-limit and performance checks.
func (a *Agent) runCycleLocked(ctx context.Context) {
	md, err := a.feed.GetCurrent(ctx)
	if err != nil {
		// no last-known-good snapshot either; nothing to price against
		a.raiseAlert(SeverityMedium, AlertDataQuality, fmt.Sprintf("market data unavailable: %v", err))
		return
	}

	a.book.Reprice(md.Prices, md.AsOf)
	snapshot := a.book.Snapshot()
	a.updatePerformanceLocked(snapshot.TotalValue)

	dailyVaR := recommend.EstimateDailyVaR(snapshot, md)

	recs, err := a.source.Generate(ctx, recommend.Analysis{
		Portfolio: snapshot,
		Market:    md,
		Limits: recommend.Limits{
			MaxSingleAssetWeight:   a.cfg.RiskLimits.MaxSingleAssetWeight,
			MaxSectorConcentration: a.cfg.RiskLimits.MaxSectorConcentration,
			MaxDailyVaR:            a.cfg.RiskLimits.MaxDailyVaR,
			MinLiquidityRatio:      a.cfg.RiskLimits.MinLiquidityRatio,
		},
		DailyVaR: dailyVaR,
	})
	if err != nil {
		a.raiseAlert(SeverityHigh, AlertSystemError, fmt.Sprintf("recommendation source failed: %v", err))
		return
	}

	for _, rec := range recs {
		// lower priorities stay advisory; never auto-considered
		if rec.Priority != recommend.PriorityCritical && rec.Priority != recommend.PriorityHigh {
			continue
		}
		decision := a.evaluateCandidateLocked(ctx, rec, dailyVaR, md.Sentiment.Volatility)
		a.history = append(a.history, decision)
		a.totalDecisions++
		a.lastDecisionAt = a.now()

		observ.IncCounter("agent_decisions_total", map[string]string{
			"agent":  a.cfg.ID,
			"type":   string(decision.Type),
			"status": string(decision.Status),
		})
	}

	a.runRiskChecksLocked(snapshot, md, dailyVaR)
}

// evaluateCandidateLocked builds the audited Decision for one candidate and
// executes it when every gate approves. Caller holds a.mu.
func (a *Agent) evaluateCandidateLocked(ctx context.Context, rec recommend.Recommendation, dailyVaR float64, sentVol marketdata.VolatilityLevel) Decision {
	confidence := confidenceFor(rec)
	decType := decisionTypeFor(rec.Type)

	var gatesPassed, gatesBlocked []string

	policyApproved := shouldAutoExecute(a.cfg, rec, decType, confidence)
	if policyApproved {
		gatesPassed = append(gatesPassed, "autonomy_policy")
	} else {
		gatesBlocked = append(gatesBlocked, "autonomy_policy")
	}

	// eligibility gate, independent of the autonomy policy
	eligible := true
	if !a.withinTradingHoursLocked() {
		gatesBlocked = append(gatesBlocked, "trading_hours")
		eligible = false
	} else {
		gatesPassed = append(gatesPassed, "trading_hours")
	}
	if !a.underTradeBudgetLocked() {
		gatesBlocked = append(gatesBlocked, "trade_budget")
		eligible = false
	} else {
		gatesPassed = append(gatesPassed, "trade_budget")
	}
	if sentVol == marketdata.VolatilityHigh {
		gatesBlocked = append(gatesBlocked, "market_volatility")
		eligible = false
	} else {
		gatesPassed = append(gatesPassed, "market_volatility")
	}

	autoExec := policyApproved && eligible
	decision := a.buildDecision(rec, confidence, gatesPassed, gatesBlocked, autoExec, dailyVaR)

	if !autoExec {
		decision.Status = DecisionRejected
		return decision
	}

	decision.Status = DecisionApproved
	detail := a.executeLocked(ctx, rec)
	decision.Execution = &detail
	if len(detail.Errors) == 0 {
		decision.Status = DecisionCompleted
		a.wins++
	} else {
		decision.Status = DecisionFailed
		a.losses++
		a.raiseAlert(SeverityHigh, AlertExecutionFailure,
			fmt.Sprintf("decision %s: %d of %d orders failed", decision.ID, len(detail.Errors), len(detail.Orders)))
	}
	a.refreshRatesLocked()
	return decision
}

// executeLocked turns the recommendation's action items into orders and
// submits them as one concurrent batch. All executions are terminal before
// the decision is finalized. Caller holds a.mu.
func (a *Agent) executeLocked(ctx context.Context, rec recommend.Recommendation) ExecutionDetail {
	snapshot := a.book.Snapshot()
	detail := ExecutionDetail{ExecutedAt: a.now()}

	var items []execution.BatchItem
	for _, act := range rec.Actions {
		if act.AssetID == "" || act.Quantity <= 0 {
			continue
		}
		if !a.cfg.TradingLimits.assetAllowed(act.AssetID) {
			detail.Errors = append(detail.Errors, fmt.Sprintf("asset %s restricted by trading limits", act.AssetID))
			continue
		}
		asset, ok := snapshot.AssetByID(act.AssetID)
		if !ok {
			detail.Errors = append(detail.Errors, fmt.Sprintf("asset %s not held", act.AssetID))
			continue
		}
		order := execution.Order{
			ID:                uuid.NewString(),
			AssetID:           act.AssetID,
			Side:              execution.Side(act.Side),
			Quantity:          act.Quantity,
			OrderType:         a.cfg.Execution.OrderType,
			SlippageTolerance: a.cfg.Execution.SlippageTolerance,
		}
		items = append(items, execution.BatchItem{
			Order: order,
			Asset: execution.AssetContext{
				Class:        asset.Class,
				MarketValue:  asset.MarketValue,
				CurrentPrice: asset.Price,
			},
		})
	}
	if len(items) == 0 {
		if len(detail.Errors) == 0 {
			detail.Errors = append(detail.Errors, "no executable action items")
		}
		return detail
	}

	results := a.executor.SubmitBatch(ctx, items)
	detail.Orders = results

	var slippageSum float64
	var executed int
	for _, res := range results {
		if res.Err != "" {
			detail.Errors = append(detail.Errors, res.Err)
			continue
		}
		executed++
		a.ordersTotal++
		if res.Status == execution.StatusFilled {
			a.ordersFilled++
		}
		detail.TotalCost += res.Notional()
		slippageSum += res.Slippage
		a.recordTradeLocked(res.Notional())
		if err := a.book.ApplyFill(res.AssetID, string(res.Side), res.FilledQuantity, res.Price); err != nil {
			detail.Errors = append(detail.Errors, err.Error())
		}
	}
	if executed > 0 {
		detail.AvgSlippage = slippageSum / float64(executed)
	}
	return detail
}

// withinTradingHoursLocked checks the configured window plus the weekend and
// holiday exclusions against the agent clock.
func (a *Agent) withinTradingHoursLocked() bool {
	now := a.now()
	if a.cfg.TradingLimits.ExcludeWeekends {
		switch now.Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
	}
	day := now.Format("2006-01-02")
	for _, h := range a.cfg.TradingLimits.Holidays {
		if h == day {
			return false
		}
	}
	start, err1 := parseClock(a.cfg.TradingLimits.TradingStart)
	end, err2 := parseClock(a.cfg.TradingLimits.TradingEnd)
	if err1 != nil || err2 != nil {
		return true
	}
	mins := now.Hour()*60 + now.Minute()
	return mins >= start && mins < end
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

// underTradeBudgetLocked checks hourly and daily trade counts and volumes.
// Both budgets are explicit; the daily budget is never derived from the
// hourly one.
func (a *Agent) underTradeBudgetLocked() bool {
	a.rollBudgetWindowsLocked()
	tl := a.cfg.TradingLimits
	if tl.MaxTradesPerHour > 0 && a.tradesHour >= tl.MaxTradesPerHour {
		return false
	}
	if tl.MaxTradesPerDay > 0 && a.tradesDay >= tl.MaxTradesPerDay {
		return false
	}
	if tl.MaxHourlyVolume > 0 && a.volumeHour >= tl.MaxHourlyVolume {
		return false
	}
	if tl.MaxDailyVolume > 0 && a.volumeDay >= tl.MaxDailyVolume {
		return false
	}
	return true
}

func (a *Agent) rollBudgetWindowsLocked() {
	now := a.now()
	hour := now.Format("2006-01-02T15")
	day := now.Format("2006-01-02")
	if hour != a.hourKey {
		a.hourKey = hour
		a.tradesHour = 0
		a.volumeHour = 0
	}
	if day != a.dayKey {
		a.dayKey = day
		a.tradesDay = 0
		a.volumeDay = 0
		a.dayStartValue = a.book.TotalValue()
	}
}

func (a *Agent) recordTradeLocked(notional float64) {
	a.rollBudgetWindowsLocked()
	a.tradesHour++
	a.tradesDay++
	a.volumeHour += notional
	a.volumeDay += notional
}

// runRiskChecksLocked raises alerts for breached risk limits after each
// cycle. Caller holds a.mu.
func (a *Agent) runRiskChecksLocked(snapshot portfolio.Portfolio, md marketdata.MarketData, dailyVaR float64) {
	limits := a.cfg.RiskLimits

	if limits.MaxSingleAssetWeight > 0 {
		for _, asset := range snapshot.Assets {
			if asset.Weight > limits.MaxSingleAssetWeight {
				a.raiseAlert(SeverityCritical, AlertRiskLimitBreach,
					fmt.Sprintf("asset %s weight %.1f%% exceeds limit %.1f%%",
						asset.ID, asset.Weight*100, limits.MaxSingleAssetWeight*100))
			}
		}
	}
	if limits.MaxSectorConcentration > 0 {
		for sector, w := range snapshot.SectorWeights() {
			if w > limits.MaxSectorConcentration {
				a.raiseAlert(SeverityHigh, AlertRiskLimitBreach,
					fmt.Sprintf("sector %s weight %.1f%% exceeds limit %.1f%%",
						sector, w*100, limits.MaxSectorConcentration*100))
			}
		}
	}
	if limits.MaxDailyVaR > 0 && dailyVaR > limits.MaxDailyVaR {
		a.raiseAlert(SeverityCritical, AlertRiskLimitBreach,
			fmt.Sprintf("daily VaR %.0f exceeds limit %.0f", dailyVaR, limits.MaxDailyVaR))
	}
	if limits.MaxDrawdown > 0 && a.perf.Drawdown > limits.MaxDrawdown {
		a.raiseAlert(SeverityHigh, AlertRiskLimitBreach,
			fmt.Sprintf("drawdown %.1f%% exceeds limit %.1f%%", a.perf.Drawdown*100, limits.MaxDrawdown*100))
	}
	if limits.MinLiquidityRatio > 0 && snapshot.LiquidityRatio() < limits.MinLiquidityRatio {
		a.raiseAlert(SeverityMedium, AlertRiskLimitBreach,
			fmt.Sprintf("liquidity ratio %.1f%% below floor %.1f%%",
				snapshot.LiquidityRatio()*100, limits.MinLiquidityRatio*100))
	}
	if md.Sentiment.Volatility == marketdata.VolatilityHigh {
		a.raiseAlert(SeverityMedium, AlertMarketAnomaly,
			fmt.Sprintf("sentiment volatility HIGH (index %.1f)", md.VolatilityIndex))
	}
}

// updatePerformanceLocked refreshes return, drawdown and daily loss after a
// reprice. Caller holds a.mu.
func (a *Agent) updatePerformanceLocked(totalValue float64) {
	a.rollBudgetWindowsLocked()
	if a.initialValue > 0 {
		a.perf.TotalReturn = (totalValue - a.initialValue) / a.initialValue
	}
	if totalValue > a.peakValue {
		a.peakValue = totalValue
	}
	if a.peakValue > 0 {
		a.perf.Drawdown = (a.peakValue - totalValue) / a.peakValue
	}
	if a.dayStartValue > 0 && totalValue < a.dayStartValue {
		a.perf.DailyLoss = a.dayStartValue - totalValue
	} else {
		a.perf.DailyLoss = 0
	}
}

// refreshRatesLocked recomputes success and win rates from executed
// decisions. Caller holds a.mu.
func (a *Agent) refreshRatesLocked() {
	total := a.wins + a.losses
	a.perf.ExecutedDecisions = total
	if total > 0 {
		a.perf.SuccessRate = float64(a.wins) / float64(total)
	}
	if a.ordersTotal > 0 {
		a.perf.WinRate = float64(a.ordersFilled) / float64(a.ordersTotal)
	}
}
