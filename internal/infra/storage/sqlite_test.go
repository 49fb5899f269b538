package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"coinvest/internal/domain"

	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *Storage {
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	return s
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestSaveAndLoadBalances(t *testing.T) {
	s := setupTestDB(t)

	if err := s.SaveBalance("u1", domain.Balance{Asset: "BTC", Available: d("1.5"), Locked: d("0.5")}); err != nil {
		t.Fatalf("SaveBalance failed: %v", err)
	}
	if err := s.SaveBalance("u1", domain.Balance{Asset: "USDT", Available: d("1000"), Locked: decimal.Zero}); err != nil {
		t.Fatalf("SaveBalance failed: %v", err)
	}
	// Other sessions stay invisible
	s.SaveBalance("u2", domain.Balance{Asset: "BTC", Available: d("9")})

	// Upsert overwrites
	if err := s.SaveBalance("u1", domain.Balance{Asset: "BTC", Available: d("2"), Locked: decimal.Zero}); err != nil {
		t.Fatalf("SaveBalance upsert failed: %v", err)
	}

	balances, err := s.LoadBalances("u1")
	if err != nil {
		t.Fatalf("LoadBalances failed: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(balances))
	}
	byAsset := make(map[string]domain.Balance)
	for _, b := range balances {
		byAsset[b.Asset] = b
	}
	if !byAsset["BTC"].Available.Equal(d("2")) || !byAsset["BTC"].Locked.IsZero() {
		t.Errorf("unexpected BTC balance: %+v", byAsset["BTC"])
	}
}

func TestSaveAndLoadOrders(t *testing.T) {
	s := setupTestDB(t)

	now := time.Now().Truncate(time.Second)
	price := d("50000")
	open := &domain.Order{
		ID: "o-open", Type: domain.OrderTypeLimit, Side: domain.SideBuy,
		Asset: "BTC", Price: &price, Amount: d("1"),
		Status: domain.OrderStatusOpen, Reserved: d("50000"), ReservedAsset: "USDT",
		CreatedAt: now.Add(-time.Minute), UpdatedAt: now,
	}
	closed := &domain.Order{
		ID: "o-closed", Type: domain.OrderTypeMarket, Side: domain.SideSell,
		Asset: "ETH", Amount: d("2"), Filled: d("2"),
		Status: domain.OrderStatusFilled, Reserved: d("2"), ReservedAsset: "ETH",
		CreatedAt: now, UpdatedAt: now,
	}

	if err := s.SaveOrder("u1", open); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}
	if err := s.SaveOrder("u1", closed); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}

	gotOpen, gotClosed, err := s.LoadOrders("u1")
	if err != nil {
		t.Fatalf("LoadOrders failed: %v", err)
	}
	if len(gotOpen) != 1 || gotOpen[0].ID != "o-open" {
		t.Fatalf("expected 1 open order, got %+v", gotOpen)
	}
	if len(gotClosed) != 1 || gotClosed[0].ID != "o-closed" {
		t.Fatalf("expected 1 closed order, got %+v", gotClosed)
	}

	if gotOpen[0].Price == nil || !gotOpen[0].Price.Equal(d("50000")) {
		t.Errorf("limit price not restored: %+v", gotOpen[0].Price)
	}
	if !gotOpen[0].Reserved.Equal(d("50000")) || gotOpen[0].ReservedAsset != "USDT" {
		t.Errorf("reservation not restored: %s %s", gotOpen[0].Reserved, gotOpen[0].ReservedAsset)
	}
	// Market orders carry no price
	if gotClosed[0].Price != nil {
		t.Errorf("expected nil price on market order, got %s", gotClosed[0].Price)
	}
}

func TestSaveAndLoadTransactions(t *testing.T) {
	s := setupTestDB(t)

	now := time.Now().Truncate(time.Second)
	pnl := d("5")
	tx := &domain.Transaction{
		ID: "t1", Type: domain.TxStaking, Asset: "USDT", Amount: d("500"),
		Status: domain.TxStatusInProgress, Date: now, PnL: &pnl,
		Category: "staking", Duration: time.Hour,
		Details: map[string]string{"rate": "0.01"},
	}
	if err := s.SaveTransaction("u1", tx); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}

	stale := &domain.Transaction{
		ID: "t-old", Type: domain.TxTrade, Asset: "BTC", Amount: d("1"),
		Status: domain.TxStatusClosed, Date: now.Add(-8 * 24 * time.Hour),
	}
	s.SaveTransaction("u1", stale)

	since := now.Add(-7 * 24 * time.Hour)
	txs, err := s.LoadTransactions("u1", since)
	if err != nil {
		t.Fatalf("LoadTransactions failed: %v", err)
	}
	if len(txs) != 1 || txs[0].ID != "t1" {
		t.Fatalf("expected only the recent entry, got %+v", txs)
	}

	got := txs[0]
	if got.PnL == nil || !got.PnL.Equal(d("5")) {
		t.Errorf("PnL not restored: %+v", got.PnL)
	}
	if got.Duration != time.Hour {
		t.Errorf("duration not restored: %v", got.Duration)
	}
	if got.Details["rate"] != "0.01" {
		t.Errorf("details not restored: %+v", got.Details)
	}
}

func TestPruneTransactions(t *testing.T) {
	s := setupTestDB(t)

	now := time.Now().Truncate(time.Second)
	s.SaveTransaction("u1", &domain.Transaction{
		ID: "keep", Type: domain.TxTrade, Asset: "BTC", Amount: d("1"),
		Status: domain.TxStatusCompleted, Date: now,
	})
	s.SaveTransaction("u1", &domain.Transaction{
		ID: "drop", Type: domain.TxTrade, Asset: "BTC", Amount: d("1"),
		Status: domain.TxStatusClosed, Date: now.Add(-10 * 24 * time.Hour),
	})

	if err := s.PruneTransactions("u1", now.Add(-7*24*time.Hour)); err != nil {
		t.Fatalf("PruneTransactions failed: %v", err)
	}

	txs, err := s.LoadTransactions("u1", time.Time{})
	if err != nil {
		t.Fatalf("LoadTransactions failed: %v", err)
	}
	if len(txs) != 1 || txs[0].ID != "keep" {
		t.Fatalf("expected only 'keep' to survive, got %+v", txs)
	}
}

func TestRecordAdjustmentIdempotency(t *testing.T) {
	s := setupTestDB(t)

	if err := s.RecordAdjustment("u1", "ref-1", "USDT", "Deposit", "promo", d("100")); err != nil {
		t.Fatalf("RecordAdjustment failed: %v", err)
	}

	err := s.RecordAdjustment("u1", "ref-1", "USDT", "Deposit", "promo", d("100"))
	if !errors.Is(err, domain.ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference on replay, got %v", err)
	}

	// A different reference goes through
	if err := s.RecordAdjustment("u1", "ref-2", "USDT", "Withdrawal", "", d("50")); err != nil {
		t.Fatalf("RecordAdjustment failed: %v", err)
	}

	// Empty references are rejected outright
	if err := s.RecordAdjustment("u1", "", "USDT", "Deposit", "", d("1")); err == nil {
		t.Error("expected error on empty reference")
	}
}

func TestUpsertAndGetCoin(t *testing.T) {
	s := setupTestDB(t)

	coin := &domain.CoinInfo{
		Symbol:    "TEST",
		Name:      "Test Coin",
		IsActive:  true,
		UpdatedAt: time.Now(),
	}

	// 1. Create
	if err := s.UpsertCoin(coin); err != nil {
		t.Fatalf("UpsertCoin failed: %v", err)
	}

	// 2. Get
	fetched, err := s.GetCoin("TEST")
	if err != nil {
		t.Fatalf("GetCoin failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("fetched coin is nil")
	}
	if fetched.Symbol != "TEST" {
		t.Errorf("expected symbol TEST, got %s", fetched.Symbol)
	}
}

func TestDeleteCoin(t *testing.T) {
	s := setupTestDB(t)
	s.UpsertCoin(&domain.CoinInfo{Symbol: "DEL", Name: "Delete Me"})

	if err := s.DeleteCoin("DEL"); err != nil {
		t.Fatalf("DeleteCoin failed: %v", err)
	}

	fetched, err := s.GetCoin("DEL")
	if err != nil {
		t.Fatalf("GetCoin after delete failed: %v", err)
	}
	if fetched != nil {
		t.Error("expected coin to be deleted, but found record")
	}
}

func TestToggleFavorite(t *testing.T) {
	s := setupTestDB(t)
	s.UpsertCoin(&domain.CoinInfo{Symbol: "FAV", IsFavorite: false})

	isFav, err := s.ToggleFavorite("FAV")
	if err != nil {
		t.Fatalf("ToggleFavorite failed: %v", err)
	}
	if !isFav {
		t.Error("expected IsFavorite to be true")
	}

	isFav, _ = s.ToggleFavorite("FAV")
	if isFav {
		t.Error("expected IsFavorite to be false")
	}
}

func TestConfigRoundtrip(t *testing.T) {
	s := setupTestDB(t)

	if err := s.SaveConfig("theme", "dark"); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	if err := s.SaveConfig("theme", "light"); err != nil {
		t.Fatalf("SaveConfig upsert failed: %v", err)
	}

	cfg, err := s.LoadConfigMap()
	if err != nil {
		t.Fatalf("LoadConfigMap failed: %v", err)
	}
	if cfg["theme"] != "light" {
		t.Errorf("expected theme=light, got %s", cfg["theme"])
	}
}
