package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource supplies current marks for the fixed asset universe. The map is
// always complete for every configured symbol, falling back to synthetic
// prices when the upstream feed is unreachable.
type PriceSource interface {
	Prices() map[string]decimal.Decimal
	LastUpdated() time.Time
	Degraded() bool
	Refresh(ctx context.Context)
}

// WalletStore is the persistence contract behind the ledger. A failed call
// must leave no partial state; adjustments are idempotent by reference.
type WalletStore interface {
	SaveBalance(userID string, b Balance) error
	LoadBalances(userID string) ([]Balance, error)

	SaveOrder(userID string, o *Order) error
	LoadOrders(userID string) (open []*Order, closed []*Order, err error)

	SaveTransaction(userID string, tx *Transaction) error
	LoadTransactions(userID string, since time.Time) ([]*Transaction, error)

	// RecordAdjustment registers an admin/remote balance adjustment. It
	// returns ErrDuplicateReference when the reference was already applied.
	RecordAdjustment(userID, reference, asset, kind, reason string, amount decimal.Decimal) error
}
