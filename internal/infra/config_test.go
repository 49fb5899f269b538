package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

const validYAML = `
app:
  name: "Coinvest"
  version: "test"
session:
  user_id: "local"
feed:
  url: "https://example.com/price"
  poll_interval_sec: 15
  request_timeout_sec: 10
  assets:
    - { symbol: "BTC", id: "bitcoin", base_price: 45000 }
stream:
  enabled: false
trading:
  quote_asset: "USDT"
  retention_days: 7
  sweep_interval_ms: 1000
  close_grace_sec: 60
  history_points: 100
  value_epsilon: 0.01
logging:
  level: "info"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Trading.QuoteAsset != "USDT" {
		t.Errorf("Expected quote USDT, got %s", cfg.Trading.QuoteAsset)
	}
	if len(cfg.Feed.Assets) != 1 || cfg.Feed.Assets[0].Symbol != "BTC" {
		t.Errorf("Unexpected assets: %+v", cfg.Feed.Assets)
	}
	if !cfg.Feed.Assets[0].BasePrice.Equal(decimal.NewFromInt(45000)) {
		t.Errorf("Expected base price 45000, got %s", cfg.Feed.Assets[0].BasePrice)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("COINVEST_FEED_URL", "https://override.example.com")
	t.Setenv("COINVEST_USER_ID", "env-user")

	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Feed.URL != "https://override.example.com" {
		t.Errorf("Env override not applied: %s", cfg.Feed.URL)
	}
	if cfg.Session.UserID != "env-user" {
		t.Errorf("Env override not applied: %s", cfg.Session.UserID)
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig(writeConfig(t, validYAML))
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		return cfg
	}

	t.Run("bad feed url", func(t *testing.T) {
		cfg := base()
		cfg.Feed.URL = "ftp://nope"
		if err := cfg.Validate(); err == nil {
			t.Error("Expected validation error")
		}
	})
	t.Run("no assets", func(t *testing.T) {
		cfg := base()
		cfg.Feed.Assets = nil
		if err := cfg.Validate(); err == nil {
			t.Error("Expected validation error")
		}
	})
	t.Run("missing quote", func(t *testing.T) {
		cfg := base()
		cfg.Trading.QuoteAsset = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Expected validation error")
		}
	})
	t.Run("stream url when enabled", func(t *testing.T) {
		cfg := base()
		cfg.Stream.Enabled = true
		cfg.Stream.WSURL = "http://not-ws"
		if err := cfg.Validate(); err == nil {
			t.Error("Expected validation error")
		}
	})
}
