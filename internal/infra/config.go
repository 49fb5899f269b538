package infra

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// AssetConfig describes one symbol of the fixed asset universe.
type AssetConfig struct {
	Symbol    string          `yaml:"symbol"`     // e.g. "BTC"
	ID        string          `yaml:"id"`         // upstream feed identifier, e.g. "bitcoin"
	BasePrice decimal.Decimal `yaml:"base_price"` // seed for the synthetic fallback generator
	StreamSym string          `yaml:"stream_sym"` // websocket stream symbol, e.g. "btcusdt"
}

// Config holds every application setting. Sensitive or environment-specific
// values can be overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Session struct {
		UserID string `yaml:"user_id"`
	} `yaml:"session"`

	Feed struct {
		URL               string        `yaml:"url"`
		PollIntervalSec   int           `yaml:"poll_interval_sec"`
		RequestTimeoutSec int           `yaml:"request_timeout_sec"`
		Assets            []AssetConfig `yaml:"assets"`
	} `yaml:"feed"`

	Stream struct {
		Enabled bool   `yaml:"enabled"`
		WSURL   string `yaml:"ws_url"`
	} `yaml:"stream"`

	Trading struct {
		QuoteAsset      string          `yaml:"quote_asset"`
		RetentionDays   int             `yaml:"retention_days"`
		SweepIntervalMS int             `yaml:"sweep_interval_ms"`
		CloseGraceSec   int             `yaml:"close_grace_sec"`
		HistoryPoints   int             `yaml:"history_points"`
		ValueEpsilon    decimal.Decimal `yaml:"value_epsilon"`
	} `yaml:"trading"`

	Storage struct {
		Path string `yaml:"path"` // empty means the OS user config dir
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	// Feed
	if !hasPrefix(c.Feed.URL, "http://") && !hasPrefix(c.Feed.URL, "https://") {
		return fmt.Errorf("invalid feed URL: %s", c.Feed.URL)
	}
	if len(c.Feed.Assets) == 0 {
		return fmt.Errorf("at least one feed asset is required")
	}
	for _, a := range c.Feed.Assets {
		if a.Symbol == "" || a.ID == "" {
			return fmt.Errorf("feed asset requires symbol and id: %+v", a)
		}
		if !a.BasePrice.IsPositive() {
			return fmt.Errorf("feed asset %s requires a positive base price", a.Symbol)
		}
	}
	if c.Feed.PollIntervalSec <= 0 {
		return fmt.Errorf("feed poll interval must be positive")
	}

	// Stream
	if c.Stream.Enabled && !hasPrefix(c.Stream.WSURL, "ws://") && !hasPrefix(c.Stream.WSURL, "wss://") {
		return fmt.Errorf("invalid stream WS URL: %s", c.Stream.WSURL)
	}

	// Trading
	if c.Trading.QuoteAsset == "" {
		return fmt.Errorf("quote asset is required")
	}
	if c.Trading.RetentionDays <= 0 {
		return fmt.Errorf("retention must be positive")
	}
	if c.Trading.HistoryPoints <= 0 {
		return fmt.Errorf("history points must be positive")
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv applies environment variable overrides when present.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("COINVEST_FEED_URL"); url != "" {
		cfg.Feed.URL = url
	}
	if user := os.Getenv("COINVEST_USER_ID"); user != "" {
		cfg.Session.UserID = user
	}
	if path := os.Getenv("COINVEST_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if ws := os.Getenv("COINVEST_STREAM_URL"); ws != "" {
		cfg.Stream.WSURL = ws
	}
}
