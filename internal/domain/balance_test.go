package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestLedger_CreditDebit(t *testing.T) {
	l := NewLedger()

	if err := l.Credit("USDT", d("100")); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if got := l.Available("USDT"); !got.Equal(d("100")) {
		t.Errorf("Expected available 100, got %s", got)
	}

	if err := l.Debit("USDT", d("30")); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if got := l.Available("USDT"); !got.Equal(d("70")) {
		t.Errorf("Expected available 70, got %s", got)
	}
}

func TestLedger_DebitInsufficient(t *testing.T) {
	l := NewLedger()
	l.Credit("USDT", d("50"))

	err := l.Debit("USDT", d("50.01"))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}

	// Failed debit must not mutate
	if got := l.Available("USDT"); !got.Equal(d("50")) {
		t.Errorf("Balance changed after failed debit: %s", got)
	}
}

func TestLedger_UnknownAssetIsZero(t *testing.T) {
	l := NewLedger()

	if !l.Available("BTC").IsZero() || !l.Locked("BTC").IsZero() || !l.Total("BTC").IsZero() {
		t.Error("Unknown asset should read as zero")
	}

	err := l.Debit("BTC", d("1"))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance on unknown asset, got %v", err)
	}
}

func TestLedger_LockUnlockConservesTotal(t *testing.T) {
	l := NewLedger()
	l.Credit("BTC", d("2"))

	if err := l.Lock("BTC", d("0.5")); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if got := l.Available("BTC"); !got.Equal(d("1.5")) {
		t.Errorf("Expected available 1.5, got %s", got)
	}
	if got := l.Locked("BTC"); !got.Equal(d("0.5")) {
		t.Errorf("Expected locked 0.5, got %s", got)
	}
	if got := l.Total("BTC"); !got.Equal(d("2")) {
		t.Errorf("Lock changed total: %s", got)
	}

	if err := l.Unlock("BTC", d("0.5")); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if got := l.Available("BTC"); !got.Equal(d("2")) {
		t.Errorf("Expected available 2 after unlock, got %s", got)
	}
	if got := l.Locked("BTC"); !got.IsZero() {
		t.Errorf("Expected locked 0 after unlock, got %s", got)
	}
}

func TestLedger_LockExceedsAvailable(t *testing.T) {
	l := NewLedger()
	l.Credit("ETH", d("1"))
	l.Lock("ETH", d("0.8"))

	err := l.Lock("ETH", d("0.3"))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}
	if got := l.Available("ETH"); !got.Equal(d("0.2")) {
		t.Errorf("Failed lock mutated available: %s", got)
	}
	if got := l.Locked("ETH"); !got.Equal(d("0.8")) {
		t.Errorf("Failed lock mutated locked: %s", got)
	}
}

func TestLedger_UnlockExceedsLocked(t *testing.T) {
	l := NewLedger()
	l.Credit("ETH", d("1"))
	l.Lock("ETH", d("0.4"))

	err := l.Unlock("ETH", d("0.5"))
	if !errors.Is(err, ErrInsufficientLocked) {
		t.Fatalf("Expected ErrInsufficientLocked, got %v", err)
	}
	if got := l.Locked("ETH"); !got.Equal(d("0.4")) {
		t.Errorf("Failed unlock mutated locked: %s", got)
	}
}

func TestLedger_SettleLockedDebit(t *testing.T) {
	l := NewLedger()
	l.Credit("USDT", d("1000"))
	l.Lock("USDT", d("600"))

	if err := l.SettleLockedDebit("USDT", d("600")); err != nil {
		t.Fatalf("SettleLockedDebit failed: %v", err)
	}
	if got := l.Available("USDT"); !got.Equal(d("400")) {
		t.Errorf("Settlement touched available: %s", got)
	}
	if got := l.Locked("USDT"); !got.IsZero() {
		t.Errorf("Expected locked 0 after settlement, got %s", got)
	}

	err := l.SettleLockedDebit("USDT", d("1"))
	if !errors.Is(err, ErrInsufficientLocked) {
		t.Fatalf("Expected ErrInsufficientLocked, got %v", err)
	}
}

func TestLedger_InvalidAmounts(t *testing.T) {
	l := NewLedger()
	l.Credit("BTC", d("1"))

	ops := map[string]func() error{
		"credit": func() error { return l.Credit("BTC", decimal.Zero) },
		"debit":  func() error { return l.Debit("BTC", d("-1")) },
		"lock":   func() error { return l.Lock("BTC", decimal.Zero) },
		"unlock": func() error { return l.Unlock("BTC", d("-0.1")) },
		"settle": func() error { return l.SettleLockedDebit("BTC", decimal.Zero) },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			if err := op(); !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("Expected ErrInvalidAmount, got %v", err)
			}
		})
	}
}

func TestLedger_SnapshotIsCopy(t *testing.T) {
	l := NewLedger()
	l.Credit("BTC", d("1"))

	snap := l.Snapshot()
	b := snap["BTC"]
	b.Available = d("999")
	snap["BTC"] = b

	if got := l.Available("BTC"); !got.Equal(d("1")) {
		t.Errorf("Snapshot mutation leaked into ledger: %s", got)
	}
}

func TestLedger_Restore(t *testing.T) {
	l := NewLedger()
	err := l.Restore([]Balance{
		{Asset: "BTC", Available: d("1.5"), Locked: d("0.5")},
		{Asset: "USDT", Available: d("100"), Locked: decimal.Zero},
	})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if got := l.Total("BTC"); !got.Equal(d("2")) {
		t.Errorf("Expected BTC total 2, got %s", got)
	}

	err = l.Restore([]Balance{{Asset: "BTC", Available: d("-1")}})
	if err == nil {
		t.Error("Restore should reject negative balances")
	}
}

func TestBalance_VerifyInvariant(t *testing.T) {
	b := Balance{Asset: "BTC", Available: d("1"), Locked: d("0.2")}
	if err := b.VerifyInvariant(); err != nil {
		t.Errorf("Valid balance flagged: %v", err)
	}
	if got := b.Total(); !got.Equal(d("1.2")) {
		t.Errorf("Expected total 1.2, got %s", got)
	}

	bad := Balance{Asset: "BTC", Available: d("-0.1")}
	if err := bad.VerifyInvariant(); err == nil {
		t.Error("Negative available should violate the invariant")
	}
}
