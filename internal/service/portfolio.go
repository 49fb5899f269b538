package service

import (
	"sort"
	"sync"
	"time"

	"coinvest/internal/domain"

	"github.com/shopspring/decimal"
)

// ValuePoint is a mark-to-market snapshot of the total portfolio value.
type ValuePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}

// AssetValuation is the per-asset line of the portfolio view.
type AssetValuation struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"` // available + locked
	Price  decimal.Decimal `json:"price"`
	Value  decimal.Decimal `json:"value"`
}

// Portfolio derives mark-to-market value from ledger balances and feed
// prices. It recomputes on notify; the engine pushes balance snapshots and
// the feed pushes price maps.
type Portfolio struct {
	mu        sync.RWMutex
	quote     string
	epsilon   decimal.Decimal
	maxPoints int

	balances map[string]domain.Balance
	prices   map[string]decimal.Decimal

	total      decimal.Decimal
	valuations []AssetValuation
	history    []ValuePoint
}

// NewPortfolio creates a valuator. quote is the asset valued at 1 (USDT);
// epsilon suppresses history points for near-duplicate values; maxPoints
// bounds the value series.
func NewPortfolio(quote string, epsilon decimal.Decimal, maxPoints int) *Portfolio {
	return &Portfolio{
		quote:     quote,
		epsilon:   epsilon,
		maxPoints: maxPoints,
		balances:  make(map[string]domain.Balance),
		prices:    make(map[string]decimal.Decimal),
	}
}

// UpdateBalances replaces the balance inputs and recomputes.
func (p *Portfolio) UpdateBalances(balances map[string]domain.Balance) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.balances = balances
	p.recompute()
}

// UpdatePrices replaces the price inputs and recomputes.
func (p *Portfolio) UpdatePrices(prices map[string]decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prices = prices
	p.recompute()
}

// recompute derives per-asset and total value. Must be called with lock held.
func (p *Portfolio) recompute() {
	total := decimal.Zero
	valuations := make([]AssetValuation, 0, len(p.balances))

	for symbol, b := range p.balances {
		amount := b.Total()
		price := p.prices[symbol]
		if symbol == p.quote {
			price = decimal.NewFromInt(1)
		}
		value := amount.Mul(price)
		total = total.Add(value)
		valuations = append(valuations, AssetValuation{
			Symbol: symbol,
			Amount: amount,
			Price:  price,
			Value:  value,
		})
	}

	// Sort by symbol for consistent ordering
	sort.Slice(valuations, func(i, j int) bool {
		return valuations[i].Symbol < valuations[j].Symbol
	})

	p.valuations = valuations
	p.total = total
	p.record(total)
}

// record appends a history point unless the value moved less than epsilon
// since the last recorded point. High-frequency ticks would otherwise flood
// the series with near-duplicates.
func (p *Portfolio) record(value decimal.Decimal) {
	if n := len(p.history); n > 0 {
		last := p.history[n-1].Value
		if value.Sub(last).Abs().LessThanOrEqual(p.epsilon) {
			return
		}
	}
	if len(p.history) >= p.maxPoints {
		p.history = p.history[len(p.history)-p.maxPoints+1:]
	}
	p.history = append(p.history, ValuePoint{Timestamp: time.Now(), Value: value})
}

// TotalValue returns the current mark-to-market total in the quote asset.
func (p *Portfolio) TotalValue() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total
}

// Valuations returns the per-asset view sorted by symbol.
func (p *Portfolio) Valuations() []AssetValuation {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]AssetValuation, len(p.valuations))
	copy(result, p.valuations)
	return result
}

// History returns a copy of the bounded value series.
func (p *Portfolio) History() []ValuePoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]ValuePoint, len(p.history))
	copy(result, p.history)
	return result
}
