package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is anything the engine loop can process from its inbox.
type Event interface {
	Name() string
}

// MarketUpdate carries a single-symbol price from a streaming source.
// Instances are pooled; acquire via AcquireMarketUpdate.
type MarketUpdate struct {
	Symbol string
	Price  decimal.Decimal
	Ts     time.Time
	Source string // e.g. "BINANCE_WS"
}

func (*MarketUpdate) Name() string { return "market_update" }

// PriceSnapshot carries the full price map published by the polling feed.
// Degraded marks synthetic fallback prices.
type PriceSnapshot struct {
	Prices   map[string]decimal.Decimal
	At       time.Time
	Degraded bool
}

func (*PriceSnapshot) Name() string { return "price_snapshot" }

// CommitmentSettled signals that the transaction log advanced an InProgress
// commitment (arbitrage/staking) to Completed and its principal can settle.
type CommitmentSettled struct {
	TxID string
	At   time.Time
}

func (*CommitmentSettled) Name() string { return "commitment_settled" }
