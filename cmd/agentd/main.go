package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rkundel/pm-agents/internal/agent"
	"github.com/rkundel/pm-agents/internal/config"
	"github.com/rkundel/pm-agents/internal/execution"
	"github.com/rkundel/pm-agents/internal/marketdata"
	"github.com/rkundel/pm-agents/internal/monitor"
	"github.com/rkundel/pm-agents/internal/notify"
	"github.com/rkundel/pm-agents/internal/observ"
	"github.com/rkundel/pm-agents/internal/portfolio"
	"github.com/rkundel/pm-agents/internal/recommend"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	feed := marketdata.NewCachedFeed(
		marketdata.NewSimFeed(simAssets(cfg), cfg.MarketData.Seed),
		time.Duration(cfg.MarketData.MinFetchIntervalSecs)*time.Second,
	)
	executor := execution.NewSimulator(cfg.SimulatorConfig())
	source := recommend.NewRuleSource()

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.NotifyWebhook != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhook)
	}

	mon := monitor.New(cfg.MonitorConfig(), feed, source, executor, notifier)

	for _, entry := range cfg.Agents {
		a, err := mon.Create(entry.AgentConfig(), entry.Portfolio)
		if err != nil {
			log.Fatalf("create agent %s: %v", entry.ID, err)
		}
		if entry.Enabled {
			if err := a.Start(); err != nil {
				observ.LogError("agent_start_failed", err, map[string]any{"agent": entry.ID})
			}
		}
	}
	if err := mon.Start(); err != nil {
		log.Fatalf("start monitor: %v", err)
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: newMux(mon),
	}
	go func() {
		observ.Log("http_listening", map[string]any{"addr": cfg.Server.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	observ.Log("shutting_down", nil)
	mon.Stop()
	for _, entry := range cfg.Agents {
		_ = mon.Control(entry.ID, "STOP")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// simAssets seeds the sim feed with every asset held across configured
// portfolios.
func simAssets(cfg config.Root) []marketdata.SimAsset {
	seen := map[string]bool{}
	var out []marketdata.SimAsset
	for _, entry := range cfg.Agents {
		for _, a := range entry.Portfolio.Assets {
			if seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			out = append(out, marketdata.SimAsset{
				ID:         a.ID,
				Price:      a.Price,
				Volatility: volatilityFor(a.Class),
				Liquidity:  a.LiquidityScore,
				YieldPct:   a.YieldPct,
			})
		}
	}
	return out
}

func volatilityFor(class portfolio.AssetClass) float64 {
	switch class {
	case portfolio.ClassTreasury:
		return 0.004
	case portfolio.ClassCorporateBond, portfolio.ClassMunicipalBond:
		return 0.008
	case portfolio.ClassMBS, portfolio.ClassABS:
		return 0.012
	case portfolio.ClassLoan:
		return 0.010
	case portfolio.ClassStock:
		return 0.025
	default:
		return 0.001
	}
}

type createRequest struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Enabled       bool                    `json:"enabled"`
	Autonomy      string                  `json:"autonomy"`
	CycleSeconds  int                     `json:"cycle_interval_seconds"`
	RiskLimits    agent.RiskLimits        `json:"risk_limits"`
	TradingLimits agent.TradingLimits     `json:"trading_limits"`
	Execution     agent.ExecutionSettings `json:"execution"`
	Portfolio     portfolio.Portfolio     `json:"portfolio"`
}

type controlRequest struct {
	Action string `json:"action"`
}

type shutdownRequest struct {
	Reason string `json:"reason"`
}

func newMux(mon *monitor.Monitor) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", observ.Handler())
	mux.Handle("GET /health", observ.HealthHandler())

	mux.HandleFunc("POST /agents", func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cfg := agent.Config{
			ID:            req.ID,
			Name:          req.Name,
			Enabled:       req.Enabled,
			Autonomy:      agent.AutonomyLevel(req.Autonomy),
			RiskLimits:    req.RiskLimits,
			TradingLimits: req.TradingLimits,
			Execution:     req.Execution,
			CycleInterval: time.Duration(req.CycleSeconds) * time.Second,
		}
		a, err := mon.Create(cfg, req.Portfolio)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, a.State())
	})

	mux.HandleFunc("GET /agents/{id}/state", func(w http.ResponseWriter, r *http.Request) {
		snap, err := mon.State(r.PathValue("id"))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("GET /agents/{id}/decisions", func(w http.ResponseWriter, r *http.Request) {
		history, err := mon.DecisionHistory(r.PathValue("id"))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	})

	mux.HandleFunc("POST /agents/{id}/control", func(w http.ResponseWriter, r *http.Request) {
		var req controlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := mon.Control(r.PathValue("id"), req.Action); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /agents/{id}/alerts/{alertID}/ack", func(w http.ResponseWriter, r *http.Request) {
		if err := mon.AcknowledgeAlert(r.PathValue("id"), r.PathValue("alertID")); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /shutdown", func(w http.ResponseWriter, r *http.Request) {
		var req shutdownRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Reason == "" {
			req.Reason = "manual"
		}
		mon.EmergencyShutdown(r.Context(), req.Reason)
		writeJSON(w, http.StatusOK, map[string]string{"status": "shutdown"})
	})

	return mux
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, monitor.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, monitor.ErrShuttingDown):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": fmt.Sprintf("%v", err)})
}
