package service

import (
	"testing"

	"coinvest/internal/domain"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPortfolio_Valuation(t *testing.T) {
	p := NewPortfolio("USDT", d("0.01"), 100)

	p.UpdateBalances(map[string]domain.Balance{
		"BTC":  {Asset: "BTC", Available: d("0.5"), Locked: d("0.5")},
		"USDT": {Asset: "USDT", Available: d("1000"), Locked: decimal.Zero},
	})
	p.UpdatePrices(map[string]decimal.Decimal{
		"BTC":  d("50000"),
		"USDT": d("1"),
	})

	// 1 BTC * 50000 + 1000 USDT * 1
	if got := p.TotalValue(); !got.Equal(d("51000")) {
		t.Errorf("Expected total 51000, got %s", got)
	}

	vals := p.Valuations()
	if len(vals) != 2 {
		t.Fatalf("Expected 2 valuations, got %d", len(vals))
	}
	// Sorted by symbol
	if vals[0].Symbol != "BTC" || vals[1].Symbol != "USDT" {
		t.Errorf("Unexpected ordering: %s, %s", vals[0].Symbol, vals[1].Symbol)
	}
	if !vals[0].Amount.Equal(d("1")) {
		t.Errorf("Expected locked funds counted in amount, got %s", vals[0].Amount)
	}
}

func TestPortfolio_QuotePinnedAtOne(t *testing.T) {
	p := NewPortfolio("USDT", d("0.01"), 100)

	p.UpdateBalances(map[string]domain.Balance{
		"USDT": {Asset: "USDT", Available: d("500"), Locked: decimal.Zero},
	})
	// No price published for the quote asset at all
	p.UpdatePrices(map[string]decimal.Decimal{"BTC": d("50000")})

	if got := p.TotalValue(); !got.Equal(d("500")) {
		t.Errorf("Expected quote valued at 1, got total %s", got)
	}
}

func TestPortfolio_UnpricedAssetValuesZero(t *testing.T) {
	p := NewPortfolio("USDT", d("0.01"), 100)

	p.UpdateBalances(map[string]domain.Balance{
		"XYZ": {Asset: "XYZ", Available: d("100"), Locked: decimal.Zero},
	})

	if got := p.TotalValue(); !got.IsZero() {
		t.Errorf("Expected 0 without a price, got %s", got)
	}
	vals := p.Valuations()
	if len(vals) != 1 || !vals[0].Value.IsZero() {
		t.Errorf("Expected a zero-valued line, got %+v", vals)
	}
}

func TestPortfolio_HistoryEpsilonGate(t *testing.T) {
	p := NewPortfolio("USDT", d("0.01"), 100)
	p.UpdateBalances(map[string]domain.Balance{
		"BTC": {Asset: "BTC", Available: d("1"), Locked: decimal.Zero},
	})

	p.UpdatePrices(map[string]decimal.Decimal{"BTC": d("50000")})
	if n := len(p.History()); n != 1 {
		t.Fatalf("Expected 1 point, got %d", n)
	}

	// Within epsilon of the last point: suppressed
	p.UpdatePrices(map[string]decimal.Decimal{"BTC": d("50000.005")})
	if n := len(p.History()); n != 1 {
		t.Errorf("Near-duplicate recorded, got %d points", n)
	}

	// Past epsilon: recorded
	p.UpdatePrices(map[string]decimal.Decimal{"BTC": d("50001")})
	if n := len(p.History()); n != 2 {
		t.Errorf("Expected 2 points, got %d", n)
	}
}

func TestPortfolio_HistoryBounded(t *testing.T) {
	p := NewPortfolio("USDT", d("0.01"), 5)
	p.UpdateBalances(map[string]domain.Balance{
		"BTC": {Asset: "BTC", Available: d("1"), Locked: decimal.Zero},
	})

	for i := 0; i < 20; i++ {
		p.UpdatePrices(map[string]decimal.Decimal{
			"BTC": d("50000").Add(decimal.NewFromInt(int64(i))),
		})
	}

	hist := p.History()
	if len(hist) != 5 {
		t.Fatalf("Expected history capped at 5, got %d", len(hist))
	}
	// Oldest points evicted, newest kept
	if !hist[len(hist)-1].Value.Equal(d("50019")) {
		t.Errorf("Expected newest value 50019, got %s", hist[len(hist)-1].Value)
	}
}
