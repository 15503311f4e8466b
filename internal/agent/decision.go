package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rkundel/pm-agents/internal/execution"
	"github.com/rkundel/pm-agents/internal/recommend"
)

// DecisionType is derived one-to-one from the recommendation type.
type DecisionType string

const (
	DecisionRebalance           DecisionType = "REBALANCE"
	DecisionReduceConcentration DecisionType = "REDUCE_CONCENTRATION"
	DecisionEmergencyHedge      DecisionType = "EMERGENCY_HEDGE"
	DecisionAdjustDuration      DecisionType = "ADJUST_DURATION"
	DecisionImproveLiquidity    DecisionType = "IMPROVE_LIQUIDITY"
)

func decisionTypeFor(t recommend.Type) DecisionType {
	switch t {
	case recommend.TypeReduceConcentration:
		return DecisionReduceConcentration
	case recommend.TypeEmergencyHedge:
		return DecisionEmergencyHedge
	case recommend.TypeAdjustDuration:
		return DecisionAdjustDuration
	case recommend.TypeImproveLiquidity:
		return DecisionImproveLiquidity
	default:
		return DecisionRebalance
	}
}

// DecisionStatus lifecycle: PENDING -> APPROVED -> (COMPLETED | FAILED), or
// REJECTED / CANCELLED terminal without execution.
type DecisionStatus string

const (
	DecisionPending   DecisionStatus = "PENDING"
	DecisionApproved  DecisionStatus = "APPROVED"
	DecisionCompleted DecisionStatus = "COMPLETED"
	DecisionFailed    DecisionStatus = "FAILED"
	DecisionRejected  DecisionStatus = "REJECTED"
	DecisionCancelled DecisionStatus = "CANCELLED"
)

// ExecutionDetail aggregates the trade executions behind one decision.
type ExecutionDetail struct {
	Orders      []execution.Execution `json:"orders"`
	TotalCost   float64               `json:"total_cost"` // gross traded notional
	AvgSlippage float64               `json:"avg_slippage"`
	Errors      []string              `json:"errors,omitempty"`
	ExecutedAt  time.Time             `json:"executed_at"`
}

// Decision is one audited evaluation of a recommendation, whether or not it
// was executed. Immutable once appended to history.
type Decision struct {
	ID              string                   `json:"id"`
	Timestamp       time.Time                `json:"timestamp"`
	Type            DecisionType             `json:"type"`
	Status          DecisionStatus           `json:"status"`
	Recommendation  recommend.Recommendation `json:"recommendation"`
	Reasoning       string                   `json:"reasoning"` // structured JSON
	Confidence      float64                  `json:"confidence"`
	RiskAssessment  string                   `json:"risk_assessment"`
	ExpectedOutcome string                   `json:"expected_outcome"`
	Execution       *ExecutionDetail         `json:"execution,omitempty"`
}

// reason is the structured reasoning record marshalled into each decision,
// auditable gate by gate.
type reason struct {
	Summary      string   `json:"summary"`
	Priority     string   `json:"priority"`
	Confidence   float64  `json:"confidence"`
	GatesPassed  []string `json:"gates_passed"`
	GatesBlocked []string `json:"gates_blocked"`
	Policy       string   `json:"policy"`
	AutoExecute  bool     `json:"auto_execute"`
}

const autonomyPolicy = "advisory/sim never; conf<0.7 never; emergency or crit>0.8 full-auto; high>0.85 full-auto; else full-auto non-low >0.9"

// confidenceFor scores a recommendation: base by priority, +0.1 when the
// estimated risk reduction exceeds 0.2, capped at 1.0.
func confidenceFor(rec recommend.Recommendation) float64 {
	var base float64
	switch rec.Priority {
	case recommend.PriorityCritical:
		base = 0.9
	case recommend.PriorityHigh:
		base = 0.8
	case recommend.PriorityMedium:
		base = 0.7
	default:
		base = 0.6
	}
	if rec.EstimatedImpact.RiskReduction > 0.2 {
		base += 0.1
	}
	if base > 1.0 {
		base = 1.0
	}
	return base
}

// shouldAutoExecute applies the autonomy policy in order; first match wins.
func shouldAutoExecute(cfg Config, rec recommend.Recommendation, decType DecisionType, confidence float64) bool {
	if cfg.Autonomy == AdvisoryOnly || cfg.Execution.SimulationMode {
		return false
	}
	if confidence < 0.7 {
		return false
	}
	if decType == DecisionEmergencyHedge || (rec.Priority == recommend.PriorityCritical && confidence > 0.8) {
		return cfg.Autonomy == FullAuto
	}
	if rec.Priority == recommend.PriorityHigh && confidence > 0.85 {
		return cfg.Autonomy == FullAuto
	}
	return cfg.Autonomy == FullAuto && rec.Priority != recommend.PriorityLow && confidence > 0.9
}

// buildDecision constructs the audit record for one candidate. The record is
// built for every CRITICAL/HIGH recommendation regardless of whether it will
// be executed.
func (a *Agent) buildDecision(rec recommend.Recommendation, confidence float64, gatesPassed, gatesBlocked []string, autoExec bool, dailyVaR float64) Decision {
	r := reason{
		Summary:      rec.Summary,
		Priority:     string(rec.Priority),
		Confidence:   confidence,
		GatesPassed:  gatesPassed,
		GatesBlocked: gatesBlocked,
		Policy:       autonomyPolicy,
		AutoExecute:  autoExec,
	}
	if r.GatesPassed == nil {
		r.GatesPassed = []string{}
	}
	if r.GatesBlocked == nil {
		r.GatesBlocked = []string{}
	}
	rj, _ := json.Marshal(r)

	return Decision{
		ID:             rec.ID,
		Timestamp:      a.now(),
		Type:           decisionTypeFor(rec.Type),
		Status:         DecisionPending,
		Recommendation: rec,
		Reasoning:      string(rj),
		Confidence:     confidence,
		RiskAssessment: fmt.Sprintf("daily VaR estimate %.0f; expected risk reduction %.0f%%",
			dailyVaR, rec.EstimatedImpact.RiskReduction*100),
		ExpectedOutcome: fmt.Sprintf("return change %+.2f%%, cost estimate %.0f",
			rec.EstimatedImpact.ReturnChange*100, rec.EstimatedImpact.CostEstimate),
	}
}
