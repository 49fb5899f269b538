package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger-affecting event.
type TransactionType string

// TransactionStatus models the settlement lifecycle. InProgress entries carry
// a duration and are advanced by the transaction log sweep.
type TransactionStatus string

const (
	TxTrade      TransactionType = "Trade"
	TxDeposit    TransactionType = "Deposit"
	TxWithdrawal TransactionType = "Withdrawal"
	TxArbitrage  TransactionType = "Arbitrage"
	TxStaking    TransactionType = "Staking"
	TxSwap       TransactionType = "Swap"
	TxOptions    TransactionType = "Options"

	TxStatusInProgress TransactionStatus = "InProgress"
	TxStatusCompleted  TransactionStatus = "Completed"
	TxStatusClosed     TransactionStatus = "Closed"
	TxStatusFailed     TransactionStatus = "Failed"
)

// Transaction is an immutable audit record of a ledger-affecting event.
// Only the status advances, driven by time-based settlement.
type Transaction struct {
	ID       string            `json:"id"`
	Type     TransactionType   `json:"type"`
	Asset    string            `json:"asset"`
	Amount   decimal.Decimal   `json:"amount"`
	Status   TransactionStatus `json:"status"`
	Date     time.Time         `json:"date"`
	PnL      *decimal.Decimal  `json:"pnl,omitempty"`
	Category string            `json:"category,omitempty"`
	Details  map[string]string `json:"details,omitempty"`

	// Duration applies to InProgress entries: the sweep marks them Completed
	// once Date+Duration has passed.
	Duration    time.Duration `json:"duration,omitempty"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
}

// TransactionFilter selects transactions in a query. Zero values match all.
type TransactionFilter struct {
	Type     TransactionType
	Status   TransactionStatus
	Asset    string
	Category string
	From     time.Time
	To       time.Time
}

// Matches reports whether the transaction passes every set filter field.
func (f TransactionFilter) Matches(tx *Transaction) bool {
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if f.Asset != "" && tx.Asset != f.Asset {
		return false
	}
	if f.Category != "" && tx.Category != f.Category {
		return false
	}
	if !f.From.IsZero() && tx.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && tx.Date.After(f.To) {
		return false
	}
	return true
}
