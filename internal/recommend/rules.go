package recommend

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rkundel/pm-agents/internal/portfolio"
)

// RuleSource is the reference recommendation source: allocation-deviation
// checks against the configured limits. It stands in for the full analytics
// engine behind the same interface.
type RuleSource struct{}

func NewRuleSource() *RuleSource { return &RuleSource{} }

// Generate inspects the analysis and emits ranked recommendations, most
// urgent first.
func (s *RuleSource) Generate(ctx context.Context, a Analysis) ([]Recommendation, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var recs []Recommendation
	now := time.Now().UTC()

	recs = append(recs, s.concentrationRecs(a, now)...)
	if r, ok := s.varRec(a, now); ok {
		recs = append(recs, r)
	}
	if r, ok := s.sectorRec(a, now); ok {
		recs = append(recs, r)
	}
	if r, ok := s.liquidityRec(a, now); ok {
		recs = append(recs, r)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Priority.Rank() > recs[j].Priority.Rank()
	})
	return recs, nil
}

func (s *RuleSource) concentrationRecs(a Analysis, now time.Time) []Recommendation {
	limit := a.Limits.MaxSingleAssetWeight
	if limit <= 0 {
		return nil
	}
	var recs []Recommendation
	for _, asset := range a.Portfolio.Assets {
		if asset.Weight <= limit || asset.Class == portfolio.ClassCash {
			continue
		}
		prio := PriorityHigh
		if asset.Weight >= limit*1.5 {
			prio = PriorityCritical
		}
		excessNotional := (asset.Weight - limit) * a.Portfolio.TotalValue
		qty := 0.0
		if asset.Price > 0 {
			qty = excessNotional / asset.Price
		}
		recs = append(recs, Recommendation{
			ID:       uuid.NewString(),
			Type:     TypeReduceConcentration,
			Priority: prio,
			Summary:  fmt.Sprintf("%s weight %.1f%% exceeds %.1f%% cap", asset.ID, asset.Weight*100, limit*100),
			Rationale: fmt.Sprintf("single-asset exposure to %s is %.2fx the configured cap; trim to restore the allocation policy",
				asset.ID, asset.Weight/limit),
			Actions: []Action{{
				AssetID:  asset.ID,
				Side:     "SELL",
				Quantity: qty,
				Reason:   "reduce single-asset concentration to cap",
			}},
			EstimatedImpact: Impact{
				RiskReduction: clamp01((asset.Weight - limit) / asset.Weight),
				ReturnChange:  -0.001,
				CostEstimate:  excessNotional * 0.0015,
			},
			GeneratedAt: now,
		})
	}
	return recs
}

func (s *RuleSource) varRec(a Analysis, now time.Time) (Recommendation, bool) {
	if a.Limits.MaxDailyVaR <= 0 || a.DailyVaR <= a.Limits.MaxDailyVaR {
		return Recommendation{}, false
	}
	// hedge by trimming the largest non-treasury, non-cash holding
	var target *portfolio.Asset
	for i := range a.Portfolio.Assets {
		asset := &a.Portfolio.Assets[i]
		if asset.Class == portfolio.ClassTreasury || asset.Class == portfolio.ClassCash {
			continue
		}
		if target == nil || asset.MarketValue > target.MarketValue {
			target = asset
		}
	}
	if target == nil || target.Price <= 0 {
		return Recommendation{}, false
	}
	excessFrac := clamp01((a.DailyVaR - a.Limits.MaxDailyVaR) / a.DailyVaR)
	qty := target.Quantity * excessFrac
	return Recommendation{
		ID:       uuid.NewString(),
		Type:     TypeEmergencyHedge,
		Priority: PriorityCritical,
		Summary:  fmt.Sprintf("daily VaR %.0f breaches limit %.0f", a.DailyVaR, a.Limits.MaxDailyVaR),
		Rationale: fmt.Sprintf("estimated one-day VaR is %.1f%% over the limit; reduce %s exposure to bring risk back inside the budget",
			(a.DailyVaR/a.Limits.MaxDailyVaR-1)*100, target.ID),
		Actions: []Action{{
			AssetID:  target.ID,
			Side:     "SELL",
			Quantity: qty,
			Reason:   "emergency risk reduction",
		}},
		EstimatedImpact: Impact{
			RiskReduction: clamp01(excessFrac + 0.1),
			ReturnChange:  -0.002,
			CostEstimate:  qty * target.Price * 0.002,
		},
		GeneratedAt: now,
	}, true
}

func (s *RuleSource) sectorRec(a Analysis, now time.Time) (Recommendation, bool) {
	limit := a.Limits.MaxSectorConcentration
	if limit <= 0 {
		return Recommendation{}, false
	}
	var worstSector string
	var worstWeight float64
	for sector, w := range a.Portfolio.SectorWeights() {
		if w > limit && w > worstWeight {
			worstSector, worstWeight = sector, w
		}
	}
	if worstSector == "" {
		return Recommendation{}, false
	}
	// trim the largest holding in the over-concentrated sector
	var target *portfolio.Asset
	for i := range a.Portfolio.Assets {
		asset := &a.Portfolio.Assets[i]
		if asset.Sector != worstSector {
			continue
		}
		if target == nil || asset.MarketValue > target.MarketValue {
			target = asset
		}
	}
	if target == nil || target.Price <= 0 {
		return Recommendation{}, false
	}
	excessNotional := (worstWeight - limit) * a.Portfolio.TotalValue
	return Recommendation{
		ID:       uuid.NewString(),
		Type:     TypeRebalance,
		Priority: PriorityHigh,
		Summary:  fmt.Sprintf("sector %s at %.1f%% exceeds %.1f%% cap", worstSector, worstWeight*100, limit*100),
		Rationale: fmt.Sprintf("sector %s concentration breaches policy; rotate out of the largest position (%s)",
			worstSector, target.ID),
		Actions: []Action{{
			AssetID:  target.ID,
			Side:     "SELL",
			Quantity: excessNotional / target.Price,
			Reason:   "reduce sector concentration",
		}},
		EstimatedImpact: Impact{
			RiskReduction: clamp01((worstWeight - limit) / worstWeight),
			ReturnChange:  0,
			CostEstimate:  excessNotional * 0.0015,
		},
		GeneratedAt: now,
	}, true
}

func (s *RuleSource) liquidityRec(a Analysis, now time.Time) (Recommendation, bool) {
	min := a.Limits.MinLiquidityRatio
	if min <= 0 {
		return Recommendation{}, false
	}
	ratio := a.Portfolio.LiquidityRatio()
	if ratio >= min {
		return Recommendation{}, false
	}
	// sell a slice of the least liquid holding
	var target *portfolio.Asset
	for i := range a.Portfolio.Assets {
		asset := &a.Portfolio.Assets[i]
		if asset.Class == portfolio.ClassCash {
			continue
		}
		if target == nil || asset.LiquidityScore < target.LiquidityScore {
			target = asset
		}
	}
	if target == nil || target.Price <= 0 {
		return Recommendation{}, false
	}
	shortfall := (min - ratio) * a.Portfolio.TotalValue
	return Recommendation{
		ID:        uuid.NewString(),
		Type:      TypeImproveLiquidity,
		Priority:  PriorityMedium,
		Summary:   fmt.Sprintf("liquidity ratio %.1f%% below %.1f%% floor", ratio*100, min*100),
		Rationale: fmt.Sprintf("raise cash by trimming the least liquid holding (%s)", target.ID),
		Actions: []Action{{
			AssetID:  target.ID,
			Side:     "SELL",
			Quantity: shortfall / target.Price,
			Reason:   "raise liquidity buffer",
		}},
		EstimatedImpact: Impact{
			RiskReduction: 0.1,
			ReturnChange:  -0.0005,
			CostEstimate:  shortfall * 0.003,
		},
		GeneratedAt: now,
	}, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
