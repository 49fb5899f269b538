package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"coinvest/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists the wallet session: balances keyed by asset, orders split
// into open/closed by status, transactions with a retention cutoff, and the
// applied adjustment references. It satisfies domain.WalletStore.
type Storage struct {
	db *gorm.DB
}

var _ domain.WalletStore = (*Storage)(nil)

type balanceRow struct {
	UserID    string          `gorm:"primaryKey;size:64"`
	Asset     string          `gorm:"primaryKey;size:16"`
	Available decimal.Decimal `gorm:"type:text"`
	Locked    decimal.Decimal `gorm:"type:text"`
	UpdatedAt time.Time
}

func (balanceRow) TableName() string { return "balances" }

type orderRow struct {
	ID            string `gorm:"primaryKey"`
	UserID        string `gorm:"index"`
	Type          string
	Side          string
	Asset         string
	Price         decimal.NullDecimal `gorm:"type:text"`
	Amount        decimal.Decimal     `gorm:"type:text"`
	Filled        decimal.Decimal     `gorm:"type:text"`
	Status        string              `gorm:"index"`
	Reserved      decimal.Decimal     `gorm:"type:text"`
	ReservedAsset string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (orderRow) TableName() string { return "orders" }

type transactionRow struct {
	ID          string `gorm:"primaryKey"`
	UserID      string `gorm:"index"`
	Type        string
	Asset       string
	Amount      decimal.Decimal `gorm:"type:text"`
	Status      string
	Date        time.Time `gorm:"index"`
	PnL         decimal.NullDecimal
	Category    string
	Details     string // JSON-encoded key/value details
	DurationMS  int64
	CompletedAt time.Time
}

func (transactionRow) TableName() string { return "transactions" }

type adjustmentRow struct {
	Reference string `gorm:"primaryKey;size:128"`
	UserID    string `gorm:"index"`
	Asset     string
	Kind      string
	Reason    string
	Amount    decimal.Decimal `gorm:"type:text"`
	CreatedAt time.Time
}

func (adjustmentRow) TableName() string { return "adjustments" }

// NewStorage creates a new SQLite storage instance. An empty path resolves
// under the OS user config dir.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		resolved, err := getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		dbPath = resolved
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(
		&domain.CoinInfo{}, &domain.AppConfig{},
		&balanceRow{}, &orderRow{}, &transactionRow{}, &adjustmentRow{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "Coinvest", "data", "coinvest.db"), nil
}

// ======================================================================================
// Balance Operations
// ======================================================================================

// SaveBalance upserts a single asset record.
func (s *Storage) SaveBalance(userID string, b domain.Balance) error {
	row := balanceRow{
		UserID:    userID,
		Asset:     b.Asset,
		Available: b.Available,
		Locked:    b.Locked,
		UpdatedAt: time.Now(),
	}
	return s.db.Save(&row).Error
}

// LoadBalances returns every balance record of a session.
func (s *Storage) LoadBalances(userID string) ([]domain.Balance, error) {
	var rows []balanceRow
	if err := s.db.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]domain.Balance, 0, len(rows))
	for _, r := range rows {
		result = append(result, domain.Balance{
			Asset:     r.Asset,
			Available: r.Available,
			Locked:    r.Locked,
		})
	}
	return result, nil
}

// ======================================================================================
// Order Operations
// ======================================================================================

// SaveOrder upserts an order.
func (s *Storage) SaveOrder(userID string, o *domain.Order) error {
	row := orderRow{
		ID:            o.ID,
		UserID:        userID,
		Type:          string(o.Type),
		Side:          string(o.Side),
		Asset:         o.Asset,
		Amount:        o.Amount,
		Filled:        o.Filled,
		Status:        string(o.Status),
		Reserved:      o.Reserved,
		ReservedAsset: o.ReservedAsset,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.Price != nil {
		row.Price = decimal.NullDecimal{Decimal: *o.Price, Valid: true}
	}
	return s.db.Save(&row).Error
}

// LoadOrders returns open and closed orders in placement order.
func (s *Storage) LoadOrders(userID string) ([]*domain.Order, []*domain.Order, error) {
	var rows []orderRow
	if err := s.db.Where("user_id = ?", userID).Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	var open, closed []*domain.Order
	for _, r := range rows {
		o := &domain.Order{
			ID:            r.ID,
			Type:          domain.OrderType(r.Type),
			Side:          domain.OrderSide(r.Side),
			Asset:         r.Asset,
			Amount:        r.Amount,
			Filled:        r.Filled,
			Status:        domain.OrderStatus(r.Status),
			Reserved:      r.Reserved,
			ReservedAsset: r.ReservedAsset,
			CreatedAt:     r.CreatedAt,
			UpdatedAt:     r.UpdatedAt,
		}
		if r.Price.Valid {
			p := r.Price.Decimal
			o.Price = &p
		}
		if o.IsOpen() {
			open = append(open, o)
		} else {
			closed = append(closed, o)
		}
	}
	return open, closed, nil
}

// ======================================================================================
// Transaction Operations
// ======================================================================================

// SaveTransaction upserts an audit record.
func (s *Storage) SaveTransaction(userID string, tx *domain.Transaction) error {
	details := ""
	if len(tx.Details) > 0 {
		data, err := json.Marshal(tx.Details)
		if err != nil {
			return fmt.Errorf("encode transaction details: %w", err)
		}
		details = string(data)
	}

	row := transactionRow{
		ID:          tx.ID,
		UserID:      userID,
		Type:        string(tx.Type),
		Asset:       tx.Asset,
		Amount:      tx.Amount,
		Status:      string(tx.Status),
		Date:        tx.Date,
		Category:    tx.Category,
		Details:     details,
		DurationMS:  tx.Duration.Milliseconds(),
		CompletedAt: tx.CompletedAt,
	}
	if tx.PnL != nil {
		row.PnL = decimal.NullDecimal{Decimal: *tx.PnL, Valid: true}
	}
	return s.db.Save(&row).Error
}

// LoadTransactions returns records dated after the cutoff, newest first.
func (s *Storage) LoadTransactions(userID string, since time.Time) ([]*domain.Transaction, error) {
	var rows []transactionRow
	err := s.db.Where("user_id = ? AND date > ?", userID, since).
		Order("date desc").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]*domain.Transaction, 0, len(rows))
	for _, r := range rows {
		tx := &domain.Transaction{
			ID:          r.ID,
			Type:        domain.TransactionType(r.Type),
			Asset:       r.Asset,
			Amount:      r.Amount,
			Status:      domain.TransactionStatus(r.Status),
			Date:        r.Date,
			Category:    r.Category,
			Duration:    time.Duration(r.DurationMS) * time.Millisecond,
			CompletedAt: r.CompletedAt,
		}
		if r.PnL.Valid {
			p := r.PnL.Decimal
			tx.PnL = &p
		}
		if r.Details != "" {
			if err := json.Unmarshal([]byte(r.Details), &tx.Details); err != nil {
				return nil, fmt.Errorf("decode transaction details: %w", err)
			}
		}
		result = append(result, tx)
	}
	return result, nil
}

// PruneTransactions deletes records dated at or before the cutoff.
func (s *Storage) PruneTransactions(userID string, cutoff time.Time) error {
	return s.db.Where("user_id = ? AND date <= ?", userID, cutoff).
		Delete(&transactionRow{}).Error
}

// ======================================================================================
// Adjustment Operations
// ======================================================================================

// RecordAdjustment registers a balance adjustment by its unique reference.
// A reference seen before returns ErrDuplicateReference and writes nothing,
// making retried requests idempotent.
func (s *Storage) RecordAdjustment(userID, reference, asset, kind, reason string, amount decimal.Decimal) error {
	if reference == "" {
		return fmt.Errorf("record adjustment: empty reference")
	}

	var count int64
	if err := s.db.Model(&adjustmentRow{}).Where("reference = ?", reference).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("record adjustment %s: %w", reference, domain.ErrDuplicateReference)
	}

	row := adjustmentRow{
		Reference: reference,
		UserID:    userID,
		Asset:     asset,
		Kind:      kind,
		Reason:    reason,
		Amount:    amount,
		CreatedAt: time.Now(),
	}
	return s.db.Create(&row).Error
}

// ======================================================================================
// Coin Operations
// ======================================================================================

// UpsertCoin creates or updates coin metadata
func (s *Storage) UpsertCoin(coin *domain.CoinInfo) error {
	return s.db.Save(coin).Error
}

// GetCoin retrieves coin metadata by symbol
func (s *Storage) GetCoin(symbol string) (*domain.CoinInfo, error) {
	var coin domain.CoinInfo
	err := s.db.First(&coin, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &coin, err
}

// GetAllCoins retrieves all coins
func (s *Storage) GetAllCoins() ([]domain.CoinInfo, error) {
	var coins []domain.CoinInfo
	err := s.db.Find(&coins).Error
	return coins, err
}

// ToggleFavorite toggles the favorite status of a coin
func (s *Storage) ToggleFavorite(symbol string) (bool, error) {
	var coin domain.CoinInfo
	if err := s.db.First(&coin, "symbol = ?", symbol).Error; err != nil {
		return false, err
	}

	coin.IsFavorite = !coin.IsFavorite
	err := s.db.Save(&coin).Error
	return coin.IsFavorite, err
}

// DeleteCoin removes coin metadata
func (s *Storage) DeleteCoin(symbol string) error {
	return s.db.Where("symbol = ?", symbol).Delete(&domain.CoinInfo{}).Error
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves a user configuration
func (s *Storage) SaveConfig(key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&config).Error
}

// LoadConfigMap loads all user configurations as a map
func (s *Storage) LoadConfigMap() (map[string]string, error) {
	var configs []domain.AppConfig
	if err := s.db.Find(&configs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}
