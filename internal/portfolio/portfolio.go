package portfolio

import (
	"fmt"
	"sync"
	"time"
)

// AssetClass identifies the instrument type for liquidity and impact modeling.
type AssetClass string

const (
	ClassTreasury      AssetClass = "treasury"
	ClassCorporateBond AssetClass = "corporate_bond"
	ClassMunicipalBond AssetClass = "municipal_bond"
	ClassStock         AssetClass = "stock"
	ClassMBS           AssetClass = "mbs"
	ClassABS           AssetClass = "abs"
	ClassLoan          AssetClass = "loan"
	ClassCash          AssetClass = "cash"
)

// Asset is one holding in a portfolio.
type Asset struct {
	ID             string     `json:"id" yaml:"id"`
	Name           string     `json:"name" yaml:"name"`
	Class          AssetClass `json:"class" yaml:"class"`
	Sector         string     `json:"sector" yaml:"sector"`
	Quantity       float64    `json:"quantity" yaml:"quantity"`
	Price          float64    `json:"price" yaml:"price"`
	MarketValue    float64    `json:"market_value" yaml:"market_value"`
	Weight         float64    `json:"weight" yaml:"weight"` // market value / portfolio total
	YieldPct       float64    `json:"yield_pct" yaml:"yield_pct"`
	LiquidityScore float64    `json:"liquidity_score" yaml:"liquidity_score"` // [0..1], 1 = most liquid
}

// Portfolio is a point-in-time valuation. Values handed out of the Book are
// always deep copies; callers may mutate them freely.
type Portfolio struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	TotalValue float64   `json:"total_value" yaml:"total_value"`
	Cash       float64   `json:"cash" yaml:"cash"`
	Assets     []Asset   `json:"assets" yaml:"assets"`
	RepricedAt time.Time `json:"repriced_at" yaml:"repriced_at"`
}

// Clone returns a deep copy.
func (p Portfolio) Clone() Portfolio {
	out := p
	out.Assets = make([]Asset, len(p.Assets))
	copy(out.Assets, p.Assets)
	return out
}

// AssetByID returns the asset with the given id.
func (p Portfolio) AssetByID(id string) (Asset, bool) {
	for _, a := range p.Assets {
		if a.ID == id {
			return a, true
		}
	}
	return Asset{}, false
}

// LiquidityRatio is the share of total value held in cash plus assets with
// liquidity score >= 0.8.
func (p Portfolio) LiquidityRatio() float64 {
	if p.TotalValue <= 0 {
		return 0
	}
	liquid := p.Cash
	for _, a := range p.Assets {
		if a.LiquidityScore >= 0.8 {
			liquid += a.MarketValue
		}
	}
	return liquid / p.TotalValue
}

// SectorWeights aggregates asset weights by sector.
func (p Portfolio) SectorWeights() map[string]float64 {
	out := map[string]float64{}
	for _, a := range p.Assets {
		if a.Sector == "" {
			continue
		}
		out[a.Sector] += a.Weight
	}
	return out
}

// Book owns the mutable portfolio for one agent. Repricing and reads are
// serialized so no reader ever observes a half-updated valuation.
type Book struct {
	mu        sync.RWMutex
	portfolio Portfolio
}

// NewBook normalizes the initial portfolio (market values and weights are
// recomputed from quantity x price) and wraps it in a Book.
func NewBook(p Portfolio) (*Book, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("portfolio id required")
	}
	total := p.Cash
	for i := range p.Assets {
		p.Assets[i].MarketValue = p.Assets[i].Quantity * p.Assets[i].Price
		total += p.Assets[i].MarketValue
	}
	p.TotalValue = total
	for i := range p.Assets {
		if total > 0 {
			p.Assets[i].Weight = p.Assets[i].MarketValue / total
		}
	}
	return &Book{portfolio: p.Clone()}, nil
}

// Snapshot returns a deep copy of the current valuation.
func (b *Book) Snapshot() Portfolio {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.portfolio.Clone()
}

// TotalValue returns the current portfolio total.
func (b *Book) TotalValue() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.portfolio.TotalValue
}

// Reprice updates every asset with a known current price, then recomputes the
// portfolio total and each asset's weight against the new total. The whole
// revaluation happens under one write lock.
func (b *Book) Reprice(prices map[string]float64, asOf time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := b.portfolio.Cash
	for i := range b.portfolio.Assets {
		a := &b.portfolio.Assets[i]
		if px, ok := prices[a.ID]; ok && px > 0 {
			a.Price = px
			a.MarketValue = a.Quantity * px
		}
		total += a.MarketValue
	}
	b.portfolio.TotalValue = total
	for i := range b.portfolio.Assets {
		if total > 0 {
			b.portfolio.Assets[i].Weight = b.portfolio.Assets[i].MarketValue / total
		} else {
			b.portfolio.Assets[i].Weight = 0
		}
	}
	b.portfolio.RepricedAt = asOf
}

// ApplyFill adjusts a holding after a trade execution. BUY increases quantity
// and spends cash, SELL the reverse. Weights are recomputed against the new
// total.
func (b *Book) ApplyFill(assetID string, side string, quantity, price float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := -1
	for i := range b.portfolio.Assets {
		if b.portfolio.Assets[i].ID == assetID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("asset %s not in portfolio", assetID)
	}

	a := &b.portfolio.Assets[idx]
	notional := quantity * price
	switch side {
	case "BUY":
		a.Quantity += quantity
		b.portfolio.Cash -= notional
	case "SELL":
		a.Quantity -= quantity
		b.portfolio.Cash += notional
	default:
		return fmt.Errorf("unknown side %q", side)
	}
	a.MarketValue = a.Quantity * a.Price

	total := b.portfolio.Cash
	for _, asset := range b.portfolio.Assets {
		total += asset.MarketValue
	}
	b.portfolio.TotalValue = total
	for i := range b.portfolio.Assets {
		if total > 0 {
			b.portfolio.Assets[i].Weight = b.portfolio.Assets[i].MarketValue / total
		}
	}
	return nil
}
