package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the top-level node configuration, loaded from TOML.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	Environment string `toml:"Environment"`
	LogLevel    string `toml:"LogLevel"`
	LocalDomain uint32 `toml:"LocalDomain"`

	// OwnerAddress may perform admin operations (fee withdrawal, pause).
	OwnerAddress string `toml:"OwnerAddress"`
	// TreasuryAddress receives protocol borrow fees.
	TreasuryAddress string `toml:"TreasuryAddress"`
	// FeeAsset is the asset borrowers pay cross-domain messaging fees in.
	FeeAsset string `toml:"FeeAsset"`

	Pools   []Pool   `toml:"Pool"`
	Oracles []Oracle `toml:"Oracle"`
	Bridges []Bridge `toml:"Bridge"`

	RateLimit RateLimit `toml:"RateLimit"`
}

// Pool declares one lending pool.
type Pool struct {
	ID              string `toml:"ID"`
	CollateralAsset string `toml:"CollateralAsset"`
	BorrowAsset     string `toml:"BorrowAsset"`
	// LTV is the maximum loan-to-value ratio on a 1e18 basis, given as a
	// decimal string.
	LTV string `toml:"LTV"`
	// InterestRateBps overrides the default annual borrow rate when
	// non-zero.
	InterestRateBps uint64 `toml:"InterestRateBps"`
}

// Oracle declares the price feed serving one asset.
type Oracle struct {
	Asset string `toml:"Asset"`
	// Kind selects the feed implementation: "manual" or "http".
	Kind     string `toml:"Kind"`
	Decimals uint8  `toml:"Decimals"`
	// OwnerAddress gates writes on manual feeds.
	OwnerAddress string `toml:"OwnerAddress"`
	// Endpoint and APIKeyEnv configure http feeds. The API key is read
	// from the named environment variable, never from the file.
	Endpoint  string `toml:"Endpoint"`
	APIKeyEnv string `toml:"APIKeyEnv"`
}

// Bridge declares one outbound lane to a remote domain.
type Bridge struct {
	DestinationDomain uint32 `toml:"DestinationDomain"`
	SenderIndex       int    `toml:"SenderIndex"`
	// PaymasterAddress collects messaging fees quoted by the mailbox.
	PaymasterAddress string `toml:"PaymasterAddress"`
	// MessagingFee is the flat fee quoted per dispatch, decimal string.
	MessagingFee string `toml:"MessagingFee"`
	// OutboxPath overrides the default dispatch journal location.
	OutboxPath string `toml:"OutboxPath"`
}

// RateLimit bounds inbound RPC traffic.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = 50
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 100
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if len(c.Pools) == 0 {
		return fmt.Errorf("config: at least one [[Pool]] is required")
	}
	seen := make(map[string]struct{}, len(c.Pools))
	for i, pool := range c.Pools {
		if strings.TrimSpace(pool.ID) == "" {
			return fmt.Errorf("config: pool %d: ID required", i)
		}
		if _, ok := seen[pool.ID]; ok {
			return fmt.Errorf("config: duplicate pool ID %q", pool.ID)
		}
		seen[pool.ID] = struct{}{}
		if strings.TrimSpace(pool.CollateralAsset) == "" || strings.TrimSpace(pool.BorrowAsset) == "" {
			return fmt.Errorf("config: pool %q: both assets required", pool.ID)
		}
		if _, err := pool.ParseLTV(); err != nil {
			return err
		}
	}
	for _, oracle := range c.Oracles {
		kind := strings.ToLower(strings.TrimSpace(oracle.Kind))
		switch kind {
		case "manual":
			if strings.TrimSpace(oracle.OwnerAddress) == "" {
				return fmt.Errorf("config: manual oracle for %q: OwnerAddress required", oracle.Asset)
			}
		case "http":
			if strings.TrimSpace(oracle.Endpoint) == "" {
				return fmt.Errorf("config: http oracle for %q: Endpoint required", oracle.Asset)
			}
		default:
			return fmt.Errorf("config: oracle for %q: unknown Kind %q", oracle.Asset, oracle.Kind)
		}
	}
	for _, bridge := range c.Bridges {
		if bridge.DestinationDomain == c.LocalDomain {
			return fmt.Errorf("config: bridge to domain %d targets the local domain", bridge.DestinationDomain)
		}
		if strings.TrimSpace(bridge.PaymasterAddress) == "" {
			return fmt.Errorf("config: bridge to domain %d: PaymasterAddress required", bridge.DestinationDomain)
		}
		if _, err := bridge.ParseMessagingFee(); err != nil {
			return err
		}
	}
	return nil
}

// ParseLTV returns the pool's LTV on a 1e18 basis.
func (p Pool) ParseLTV() (*big.Int, error) {
	raw := strings.TrimSpace(p.LTV)
	if raw == "" {
		return nil, fmt.Errorf("config: pool %q: LTV required", p.ID)
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() <= 0 {
		return nil, fmt.Errorf("config: pool %q: invalid LTV %q", p.ID, p.LTV)
	}
	return value, nil
}

// ParseMessagingFee returns the flat dispatch fee.
func (b Bridge) ParseMessagingFee() (*big.Int, error) {
	raw := strings.TrimSpace(b.MessagingFee)
	if raw == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("config: bridge to domain %d: invalid MessagingFee %q", b.DestinationDomain, b.MessagingFee)
	}
	return value, nil
}

// APIKey resolves the configured environment variable, or empty.
func (o Oracle) APIKey() string {
	name := strings.TrimSpace(o.APIKeyEnv)
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
