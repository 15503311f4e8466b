package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
	hist:     map[string]map[string][]float64{},
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	k := canonLabels(labels)
	m[k] += int64(value)
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	k := canonLabels(labels)
	m[k] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	m[k] = append(m[k], value)
}

// RecordDuration records a duration observation in milliseconds.
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// CounterTotal sums a counter across all label sets. Used by health reporting
// and tests; not part of the hot path.
func CounterTotal(name string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

// Basic text/JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus summarizes fleet health for the control API.
type HealthStatus struct {
	Status    string        `json:"status"` // "healthy", "degraded", "failed"
	Timestamp string        `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Metrics   HealthMetrics `json:"metrics"`
}

// HealthMetrics holds the key fleet-level signals.
type HealthMetrics struct {
	CyclesRun          int64   `json:"cycles_run"`
	CycleErrors        int64   `json:"cycle_errors"`
	ExecutionsTotal    int64   `json:"executions_total"`
	ExecutionsFailed   int64   `json:"executions_failed"`
	ExecFailureRate    float64 `json:"exec_failure_rate"`
	AgentsActive       int     `json:"agents_active"`
	EmergencyShutdown  bool    `json:"emergency_shutdown"`
	DecisionLatencyP95 int64   `json:"decision_latency_p95_ms"`
}

var startTime = time.Now()

// HealthHandler reports overall status derived from the metric registry:
// an emergency shutdown or >10% cycle error rate is "failed", any execution
// failures or a degraded feed is "degraded".
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()

		m := HealthMetrics{}
		for _, v := range reg.counters["agent_cycles_total"] {
			m.CyclesRun += v
		}
		for _, v := range reg.counters["agent_cycle_errors_total"] {
			m.CycleErrors += v
		}
		for _, v := range reg.counters["executions_total"] {
			m.ExecutionsTotal += v
		}
		for k, v := range reg.counters["executions_total"] {
			if strings.Contains(k, "status=FAILED") {
				m.ExecutionsFailed += v
			}
		}
		for _, v := range reg.gauges["agents_active"] {
			m.AgentsActive = int(v)
		}
		for _, v := range reg.gauges["emergency_shutdown"] {
			m.EmergencyShutdown = v == 1
		}
		if m.ExecutionsTotal > 0 {
			m.ExecFailureRate = float64(m.ExecutionsFailed) / float64(m.ExecutionsTotal)
		}
		if samples, ok := reg.hist["decision_cycle_ms"]; ok {
			for _, s := range samples {
				if len(s) == 0 {
					continue
				}
				sorted := make([]float64, len(s))
				copy(sorted, s)
				sort.Float64s(sorted)
				idx := int(float64(len(sorted)) * 0.95)
				if idx >= len(sorted) {
					idx = len(sorted) - 1
				}
				m.DecisionLatencyP95 = int64(sorted[idx])
				break
			}
		}
		reg.mu.Unlock()

		status := "healthy"
		if m.ExecutionsFailed > 0 {
			status = "degraded"
		}
		if m.EmergencyShutdown || (m.CyclesRun > 10 && float64(m.CycleErrors)/float64(m.CyclesRun) > 0.1) {
			status = "failed"
		}

		code := http.StatusOK
		switch status {
		case "degraded":
			code = http.StatusPartialContent
		case "failed":
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(HealthStatus{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Metrics:   m,
		})
	})
}
