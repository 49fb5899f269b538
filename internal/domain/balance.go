package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Balance holds the funds of a single asset, split into the spendable portion
// and the portion reserved against open orders. The total is always derived
// so the available+locked invariant holds mechanically.
type Balance struct {
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// Total returns available + locked.
func (b *Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// VerifyInvariant checks that the record satisfies the non-negativity
// invariants. A violation indicates a bug in the caller, not bad input.
func (b *Balance) VerifyInvariant() error {
	if b.Available.IsNegative() {
		return fmt.Errorf("balance invariant violated: %s available=%s", b.Asset, b.Available)
	}
	if b.Locked.IsNegative() {
		return fmt.Errorf("balance invariant violated: %s locked=%s", b.Asset, b.Locked)
	}
	return nil
}

// Ledger is the single source of truth for per-asset balances. Records are
// created on first reference with zero balances and never deleted.
//
// The ledger is not safe for concurrent use on its own; the order engine
// serializes every mutation on its event loop.
type Ledger struct {
	balances map[string]*Balance
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]*Balance),
	}
}

func (l *Ledger) get(asset string) *Balance {
	b, ok := l.balances[asset]
	if !ok {
		b = &Balance{Asset: asset}
		l.balances[asset] = b
	}
	return b
}

// Credit increases the available balance. The amount must be positive.
func (l *Ledger) Credit(asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("credit %s: %w: %s", asset, ErrInvalidAmount, amount)
	}
	b := l.get(asset)
	b.Available = b.Available.Add(amount)
	return nil
}

// Debit decreases the available balance. It fails without mutating when the
// amount exceeds what is available.
func (l *Ledger) Debit(asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("debit %s: %w: %s", asset, ErrInvalidAmount, amount)
	}
	b := l.get(asset)
	if amount.GreaterThan(b.Available) {
		return fmt.Errorf("debit %s: %w: need %s, available %s",
			asset, ErrInsufficientBalance, amount, b.Available)
	}
	b.Available = b.Available.Sub(amount)
	return nil
}

// Lock moves funds from available to locked, reserving them for an order.
func (l *Ledger) Lock(asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("lock %s: %w: %s", asset, ErrInvalidAmount, amount)
	}
	b := l.get(asset)
	if amount.GreaterThan(b.Available) {
		return fmt.Errorf("lock %s: %w: need %s, available %s",
			asset, ErrInsufficientBalance, amount, b.Available)
	}
	b.Available = b.Available.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	return nil
}

// Unlock returns reserved funds to available.
func (l *Ledger) Unlock(asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("unlock %s: %w: %s", asset, ErrInvalidAmount, amount)
	}
	b := l.get(asset)
	if amount.GreaterThan(b.Locked) {
		return fmt.Errorf("unlock %s: %w: release %s, locked %s",
			asset, ErrInsufficientLocked, amount, b.Locked)
	}
	b.Locked = b.Locked.Sub(amount)
	b.Available = b.Available.Add(amount)
	return nil
}

// SettleLockedDebit consumes reserved funds permanently. Used on order fill
// where the reservation is spent rather than returned.
func (l *Ledger) SettleLockedDebit(asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("settle %s: %w: %s", asset, ErrInvalidAmount, amount)
	}
	b := l.get(asset)
	if amount.GreaterThan(b.Locked) {
		return fmt.Errorf("settle %s: %w: consume %s, locked %s",
			asset, ErrInsufficientLocked, amount, b.Locked)
	}
	b.Locked = b.Locked.Sub(amount)
	return nil
}

// Available returns the spendable balance for an asset.
func (l *Ledger) Available(asset string) decimal.Decimal {
	if b, ok := l.balances[asset]; ok {
		return b.Available
	}
	return decimal.Zero
}

// Locked returns the reserved balance for an asset.
func (l *Ledger) Locked(asset string) decimal.Decimal {
	if b, ok := l.balances[asset]; ok {
		return b.Locked
	}
	return decimal.Zero
}

// Total returns available + locked for an asset.
func (l *Ledger) Total(asset string) decimal.Decimal {
	if b, ok := l.balances[asset]; ok {
		return b.Total()
	}
	return decimal.Zero
}

// Snapshot returns a copy of all balances (for external readers).
func (l *Ledger) Snapshot() map[string]Balance {
	result := make(map[string]Balance, len(l.balances))
	for k, v := range l.balances {
		result[k] = *v
	}
	return result
}

// Restore replaces the ledger contents, used when reloading a session from
// the persistence layer.
func (l *Ledger) Restore(balances []Balance) error {
	restored := make(map[string]*Balance, len(balances))
	for i := range balances {
		b := balances[i]
		if err := b.VerifyInvariant(); err != nil {
			return err
		}
		restored[b.Asset] = &b
	}
	l.balances = restored
	return nil
}

// VerifyAll checks invariants on all balances.
func (l *Ledger) VerifyAll() error {
	for _, b := range l.balances {
		if err := b.VerifyInvariant(); err != nil {
			return err
		}
	}
	return nil
}
