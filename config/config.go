package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// TokenConfig declares one collateral token the daemon admits at startup,
// together with the account its liquidity pool holds funds under. Native
// marks the wrapped-native token; PriceUSD seeds the manual oracle feed and
// is expressed in 18-decimal USD per whole token.
type TokenConfig struct {
	Address     string `toml:"Address"`
	Symbol      string `toml:"Symbol"`
	Decimals    uint8  `toml:"Decimals"`
	PoolAddress string `toml:"PoolAddress"`
	Native      bool   `toml:"Native"`
	PriceUSD    string `toml:"PriceUSD"`
}

type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	MetricsPath string `toml:"MetricsPath"`
	DataDir     string `toml:"DataDir"`
	Environment string `toml:"Environment"`

	Treasury string `toml:"Treasury"`
	Reserve  string `toml:"Reserve"`

	// AuthToken guards the admin RPC methods. Empty disables them.
	AuthToken string `toml:"AuthToken"`
	// RateLimitPerMinute bounds JSON-RPC calls per client IP. Zero disables.
	RateLimitPerMinute int `toml:"RateLimitPerMinute"`

	CollateralRatio            uint64 `toml:"CollateralRatio"`
	InterestPerDay             string `toml:"InterestPerDay"`
	PenalizationPerDay         string `toml:"PenalizationPerDay"`
	MaxLoanDays                uint64 `toml:"MaxLoanDays"`
	LockDurationSeconds        int64  `toml:"LockDurationSeconds"`
	RepaidSplitLPPercent       uint64 `toml:"RepaidSplitLPPercent"`
	RepaidSplitDevPercent      uint64 `toml:"RepaidSplitDevPercent"`
	CalledSplitLPPercent       uint64 `toml:"CalledSplitLPPercent"`
	CalledSplitDevPercent      uint64 `toml:"CalledSplitDevPercent"`
	CalledSplitRecallerPercent uint64 `toml:"CalledSplitRecallerPercent"`

	CollateralTokens []TokenConfig `toml:"CollateralTokens"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	defaults := defaultConfig()
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = defaults.RPCAddress
	}
	if strings.TrimSpace(c.MetricsPath) == "" {
		c.MetricsPath = defaults.MetricsPath
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaults.DataDir
	}
	if c.CollateralRatio == 0 {
		c.CollateralRatio = defaults.CollateralRatio
	}
	if strings.TrimSpace(c.InterestPerDay) == "" {
		c.InterestPerDay = defaults.InterestPerDay
	}
	if strings.TrimSpace(c.PenalizationPerDay) == "" {
		c.PenalizationPerDay = defaults.PenalizationPerDay
	}
	if c.MaxLoanDays == 0 {
		c.MaxLoanDays = defaults.MaxLoanDays
	}
	if c.LockDurationSeconds == 0 {
		c.LockDurationSeconds = defaults.LockDurationSeconds
	}
	if c.RepaidSplitLPPercent == 0 && c.RepaidSplitDevPercent == 0 {
		c.RepaidSplitLPPercent = defaults.RepaidSplitLPPercent
		c.RepaidSplitDevPercent = defaults.RepaidSplitDevPercent
	}
	if c.CalledSplitLPPercent == 0 && c.CalledSplitDevPercent == 0 && c.CalledSplitRecallerPercent == 0 {
		c.CalledSplitLPPercent = defaults.CalledSplitLPPercent
		c.CalledSplitDevPercent = defaults.CalledSplitDevPercent
		c.CalledSplitRecallerPercent = defaults.CalledSplitRecallerPercent
	}
}

// Validate rejects configurations that cannot produce a working ledger.
func (c *Config) Validate() error {
	if c.CollateralRatio < 100 {
		return fmt.Errorf("config: CollateralRatio must be at least 100, got %d", c.CollateralRatio)
	}
	if c.MaxLoanDays == 0 {
		return fmt.Errorf("config: MaxLoanDays must be positive")
	}
	if c.LockDurationSeconds < 0 {
		return fmt.Errorf("config: LockDurationSeconds must not be negative")
	}
	if c.RepaidSplitLPPercent+c.RepaidSplitDevPercent != 100 {
		return fmt.Errorf("config: repaid split percentages must sum to 100")
	}
	if c.CalledSplitLPPercent+c.CalledSplitDevPercent+c.CalledSplitRecallerPercent != 100 {
		return fmt.Errorf("config: called split percentages must sum to 100")
	}
	if strings.TrimSpace(c.Treasury) == "" {
		return fmt.Errorf("config: Treasury address is required")
	}
	if strings.TrimSpace(c.Reserve) == "" {
		return fmt.Errorf("config: Reserve address is required")
	}
	natives := 0
	for i, tok := range c.CollateralTokens {
		if strings.TrimSpace(tok.Address) == "" {
			return fmt.Errorf("config: CollateralTokens[%d] missing Address", i)
		}
		if strings.TrimSpace(tok.PoolAddress) == "" {
			return fmt.Errorf("config: CollateralTokens[%d] missing PoolAddress", i)
		}
		if strings.TrimSpace(tok.PriceUSD) == "" {
			return fmt.Errorf("config: CollateralTokens[%d] missing PriceUSD", i)
		}
		if tok.Native {
			natives++
		}
	}
	if natives > 1 {
		return fmt.Errorf("config: at most one collateral token may be Native")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		RPCAddress:  ":8080",
		MetricsPath: "/metrics",
		DataDir:     "./cdl-data",

		Treasury: "0x0000000000000000000000000000000000000002",
		Reserve:  "0x0000000000000000000000000000000000000001",

		CollateralRatio:     140,
		InterestPerDay:      "4000000000000000",
		PenalizationPerDay:  "1000000000000000",
		MaxLoanDays:         30,
		LockDurationSeconds: 365 * 24 * 3600,

		RepaidSplitLPPercent:       80,
		RepaidSplitDevPercent:      20,
		CalledSplitLPPercent:       80,
		CalledSplitDevPercent:      10,
		CalledSplitRecallerPercent: 10,

		CollateralTokens: []TokenConfig{},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
