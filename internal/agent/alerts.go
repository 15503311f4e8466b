package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/rkundel/pm-agents/internal/observ"
)

// Severity of an alert.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AlertType classifies what went wrong.
type AlertType string

const (
	AlertRiskLimitBreach      AlertType = "RISK_LIMIT_BREACH"
	AlertTradingLimitExceeded AlertType = "TRADING_LIMIT_EXCEEDED"
	AlertMarketAnomaly        AlertType = "MARKET_ANOMALY"
	AlertExecutionFailure     AlertType = "EXECUTION_FAILURE"
	AlertDataQuality          AlertType = "DATA_QUALITY"
	AlertSystemError          AlertType = "SYSTEM_ERROR"
)

// Alert is one entry in an agent's alert log. Acknowledged is monotonic:
// once true it never reverts.
type Alert struct {
	ID           string    `json:"id"`
	Severity     Severity  `json:"severity"`
	Type         AlertType `json:"type"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
}

const (
	alertLogCap  = 100
	alertLogKeep = 50
)

// raiseAlert appends to the bounded alert log. Caller holds a.mu.
func (a *Agent) raiseAlert(severity Severity, typ AlertType, message string) {
	alert := Alert{
		ID:        uuid.NewString(),
		Severity:  severity,
		Type:      typ,
		Message:   message,
		Timestamp: a.now(),
	}
	a.alerts = append(a.alerts, alert)
	if len(a.alerts) > alertLogCap {
		// trim oldest entries, keep the most recent ones
		trimmed := make([]Alert, alertLogKeep)
		copy(trimmed, a.alerts[len(a.alerts)-alertLogKeep:])
		a.alerts = trimmed
	}

	observ.IncCounter("agent_alerts_total", map[string]string{
		"agent":    a.cfg.ID,
		"severity": string(severity),
		"type":     string(typ),
	})
	observ.Log("agent_alert", map[string]any{
		"agent":    a.cfg.ID,
		"severity": string(severity),
		"type":     string(typ),
		"message":  message,
	})
}

// AcknowledgeAlert marks one alert acknowledged. Acknowledgment never
// reverts. Returns false when the alert id is unknown.
func (a *Agent) AcknowledgeAlert(alertID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.alerts {
		if a.alerts[i].ID == alertID {
			a.alerts[i].Acknowledged = true
			return true
		}
	}
	return false
}

// unacknowledgedCritical counts live CRITICAL alerts. Caller holds a.mu.
func (a *Agent) unacknowledgedCritical() int {
	n := 0
	for _, al := range a.alerts {
		if al.Severity == SeverityCritical && !al.Acknowledged {
			n++
		}
	}
	return n
}
