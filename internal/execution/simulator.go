package execution

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rkundel/pm-agents/internal/observ"
	"github.com/rkundel/pm-agents/internal/portfolio"
)

// Config tunes the execution simulator.
type Config struct {
	FailureProb     float64 `yaml:"failure_prob"`      // independent failure probability per order
	BaseSlippage    float64 `yaml:"base_slippage"`     // before order-type scaling
	PricePrecision  int     `yaml:"price_precision"`   // decimal places for execution prices
	LoanMinNotional float64 `yaml:"loan_min_notional"` // minimum loan trade size
	LatencyMsMin    int     `yaml:"latency_ms_min"`
	LatencyMsMax    int     `yaml:"latency_ms_max"`
	MarketLocation  string  `yaml:"market_location"` // tz for the stock market-hours check
	MaxConcurrent   int     `yaml:"max_concurrent"`  // batch submission parallelism
	Seed            int64   `yaml:"-"`
}

// DefaultConfig returns production-like simulator settings.
func DefaultConfig() Config {
	return Config{
		FailureProb:     0.05,
		BaseSlippage:    0.001,
		PricePrecision:  4,
		LoanMinNotional: 100000,
		LatencyMsMin:    10,
		LatencyMsMax:    120,
		MarketLocation:  "America/New_York",
		MaxConcurrent:   8,
	}
}

// Simulator models market impact, slippage and fills for simulated orders.
type Simulator struct {
	cfg Config
	loc *time.Location

	mu     sync.Mutex
	random *rand.Rand

	now func() time.Time
}

// NewSimulator builds a simulator; seed 0 means time-based.
func NewSimulator(cfg Config) *Simulator {
	if cfg.PricePrecision <= 0 {
		cfg.PricePrecision = 4
	}
	if cfg.BaseSlippage <= 0 {
		cfg.BaseSlippage = 0.001
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	loc, err := time.LoadLocation(cfg.MarketLocation)
	if err != nil {
		loc = time.UTC
	}
	return &Simulator{
		cfg:    cfg,
		loc:    loc,
		random: rand.New(rand.NewSource(seed)),
		now:    time.Now,
	}
}

// SetClock overrides the wall clock, used by tests for the market-hours rule.
func (s *Simulator) SetClock(now func() time.Time) { s.now = now }

// Validate applies all pre-submission checks. A violation is returned as a
// *ValidationError and the order is never submitted.
func (s *Simulator) Validate(order Order, asset AssetContext) error {
	if order.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if order.OrderType == OrderLimit && order.LimitPrice <= 0 {
		return &ValidationError{Field: "limit_price", Reason: "required for LIMIT orders"}
	}
	if order.SlippageTolerance < 0 || order.SlippageTolerance > 0.10 {
		return &ValidationError{Field: "slippage_tolerance", Reason: "must be within [0, 0.10]"}
	}
	if asset.Class == portfolio.ClassLoan {
		if order.Quantity*asset.CurrentPrice < s.cfg.LoanMinNotional {
			return &ValidationError{Field: "quantity", Reason: "loan orders below minimum notional"}
		}
	}
	if asset.Class == portfolio.ClassStock && !s.inMarketHours(s.now()) {
		return &ValidationError{Field: "order", Reason: "stock orders only accepted during market hours"}
	}
	return nil
}

// inMarketHours: 09:30-16:00 exchange-local, Monday through Friday.
func (s *Simulator) inMarketHours(t time.Time) bool {
	lt := t.In(s.loc)
	switch lt.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	mins := lt.Hour()*60 + lt.Minute()
	return mins >= 9*60+30 && mins < 16*60
}

// Submit validates and executes one order. A non-nil error is always a
// validation rejection; simulated execution failures come back as an
// Execution with status FAILED.
func (s *Simulator) Submit(ctx context.Context, order Order, asset AssetContext) (Execution, error) {
	if err := s.Validate(order, asset); err != nil {
		observ.IncCounter("executions_total", map[string]string{"status": "REJECTED"})
		return Execution{}, err
	}

	latency := s.latency()
	if latency > 0 {
		select {
		case <-ctx.Done():
			return Execution{}, ctx.Err()
		case <-time.After(latency):
		}
	}

	exec := s.execute(order, asset)
	exec.LatencyMs = latency.Milliseconds()

	observ.IncCounter("executions_total", map[string]string{"status": string(exec.Status)})
	observ.Log("order_executed", map[string]any{
		"order_id": order.ID,
		"asset_id": order.AssetID,
		"side":     string(order.Side),
		"status":   string(exec.Status),
		"filled":   exec.FilledQuantity,
		"price":    exec.Price,
		"impact":   exec.Impact,
		"slippage": exec.Slippage,
	})
	return exec, nil
}

func (s *Simulator) execute(order Order, asset AssetContext) Execution {
	exec := Execution{
		OrderID: order.ID,
		AssetID: order.AssetID,
		Side:    order.Side,
	}

	s.mu.Lock()
	failRoll := s.random.Float64()
	slipJitter := s.random.Float64()
	fillRoll := s.random.Float64()
	s.mu.Unlock()

	// fixed failure probability independent of order size
	if failRoll < s.cfg.FailureProb {
		exec.Status = StatusFailed
		exec.Err = "simulated execution failure"
		return exec
	}

	notional := order.Quantity * asset.CurrentPrice
	estDailyVolume := estimatedDailyVolume(asset)

	impact := 0.0
	if estDailyVolume > 0 {
		impact = math.Min(notional/estDailyVolume*0.001, 0.05)
	}
	impact *= classImpactAdjustment(asset.Class)

	slippage := s.cfg.BaseSlippage
	switch order.OrderType {
	case OrderMarket:
		slippage *= 1.5
	case OrderSmart:
		slippage *= 0.7
	}
	// +/-20% jitter for intraday volatility
	slippage *= 0.8 + slipJitter*0.4
	// a zero tolerance is a cap at zero, not an uncapped order
	if slippage > order.SlippageTolerance {
		slippage = order.SlippageTolerance
	}

	// price moves against the trader
	adj := impact + slippage
	price := asset.CurrentPrice
	if order.Side == SideBuy {
		price *= 1 + adj
	} else {
		price *= 1 - adj
	}
	if order.OrderType == OrderLimit {
		if order.Side == SideBuy && price > order.LimitPrice {
			price = order.LimitPrice
		}
		if order.Side == SideSell && price < order.LimitPrice {
			price = order.LimitPrice
		}
	}
	price = roundTo(price, s.cfg.PricePrecision)

	filled := order.Quantity
	status := StatusFilled
	if estDailyVolume > 0 && notional > 0.1*estDailyVolume {
		// oversized order: 60-100% fill
		filled = order.Quantity * (0.6 + fillRoll*0.4)
		status = StatusPartial
	}

	exec.Status = status
	exec.FilledQuantity = filled
	exec.Price = price
	exec.Impact = impact
	exec.Slippage = slippage
	return exec
}

// estimatedDailyVolume is a heuristic: 10% of the holding's market value
// scaled by an asset-class liquidity multiplier.
func estimatedDailyVolume(asset AssetContext) float64 {
	base := asset.MarketValue * 0.10
	switch asset.Class {
	case portfolio.ClassTreasury:
		return base * 10
	case portfolio.ClassStock:
		return base * 5
	case portfolio.ClassCorporateBond, portfolio.ClassMunicipalBond:
		return base * 2
	case portfolio.ClassMBS, portfolio.ClassABS:
		return base * 0.5
	case portfolio.ClassLoan:
		return base * 0.1
	default:
		return base
	}
}

func classImpactAdjustment(class portfolio.AssetClass) float64 {
	switch class {
	case portfolio.ClassLoan:
		return 3.0
	case portfolio.ClassTreasury:
		return 0.3
	case portfolio.ClassMBS, portfolio.ClassABS:
		return 2.0
	default:
		return 1.0
	}
}

func (s *Simulator) latency() time.Duration {
	if s.cfg.LatencyMsMax <= 0 {
		return 0
	}
	span := s.cfg.LatencyMsMax - s.cfg.LatencyMsMin
	if span <= 0 {
		return time.Duration(s.cfg.LatencyMsMin) * time.Millisecond
	}
	s.mu.Lock()
	ms := s.cfg.LatencyMsMin + s.random.Intn(span)
	s.mu.Unlock()
	return time.Duration(ms) * time.Millisecond
}

func roundTo(v float64, places int) float64 {
	f := math.Pow10(places)
	return math.Round(v*f) / f
}

// BatchItem pairs an order with its asset context for batch submission.
type BatchItem struct {
	Order Order
	Asset AssetContext
}

// SubmitBatch executes all orders independently and concurrently. Results
// align with the input by index; a failing or invalid order never blocks the
// others, and all executions are terminal before SubmitBatch returns.
func (s *Simulator) SubmitBatch(ctx context.Context, items []BatchItem) []Execution {
	results := make([]Execution, len(items))

	g := &errgroup.Group{}
	g.SetLimit(s.cfg.MaxConcurrent)
	for i, item := range items {
		g.Go(func() error {
			exec, err := s.Submit(ctx, item.Order, item.Asset)
			if err != nil {
				// validation rejection: terminal without execution
				status := StatusFailed
				if IsValidationError(err) {
					status = StatusCancelled
				}
				results[i] = Execution{
					OrderID: item.Order.ID,
					AssetID: item.Order.AssetID,
					Side:    item.Order.Side,
					Status:  status,
					Err:     err.Error(),
				}
				return nil
			}
			results[i] = exec
			return nil
		})
	}
	_ = g.Wait()
	return results
}
