package config

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
RPCAddress = "127.0.0.1:9000"
LocalDomain = 1
TreasuryAddress = "cl1treasury"
FeeAsset = "CLGAS"

[[Pool]]
ID = "cusd-main"
CollateralAsset = "CLT"
BorrowAsset = "CUSD"
LTV = "750000000000000000"

[[Oracle]]
Asset = "CLT"
Kind = "manual"
Decimals = 8
OwnerAddress = "cl1owner"

[[Oracle]]
Asset = "CUSD"
Kind = "http"
Decimals = 6
Endpoint = "https://price.example/v1/quote"
APIKeyEnv = "PRICE_API_KEY"

[[Bridge]]
DestinationDomain = 2
PaymasterAddress = "cl1paymaster"
MessagingFee = "5"
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "127.0.0.1:9000" {
		t.Fatalf("unexpected rpc address %q", cfg.RPCAddress)
	}
	if len(cfg.Pools) != 1 || cfg.Pools[0].ID != "cusd-main" {
		t.Fatalf("unexpected pools: %+v", cfg.Pools)
	}
	ltv, err := cfg.Pools[0].ParseLTV()
	if err != nil {
		t.Fatalf("parse ltv: %v", err)
	}
	want, _ := new(big.Int).SetString("750000000000000000", 10)
	if ltv.Cmp(want) != 0 {
		t.Fatalf("unexpected ltv %s", ltv)
	}
	fee, err := cfg.Bridges[0].ParseMessagingFee()
	if err != nil {
		t.Fatalf("parse fee: %v", err)
	}
	if fee.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("unexpected fee %s", fee)
	}
	// Defaults fill the gaps.
	if cfg.LogLevel != "info" || cfg.RateLimit.Burst != 100 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRejectsMissingPools(t *testing.T) {
	if _, err := Load(writeConfig(t, `RPCAddress = "x"`)); err == nil {
		t.Fatal("expected pool requirement error")
	}
}

func TestLoadRejectsBadLTV(t *testing.T) {
	body := strings.Replace(validConfig, `LTV = "750000000000000000"`, `LTV = "zero"`, 1)
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected LTV parse error")
	}
}

func TestLoadRejectsLoopbackBridge(t *testing.T) {
	body := strings.Replace(validConfig, "DestinationDomain = 2", "DestinationDomain = 1", 1)
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected local-domain bridge rejection")
	}
}

func TestOracleAPIKeyFromEnv(t *testing.T) {
	t.Setenv("PRICE_API_KEY", "hunter2")
	oracle := Oracle{APIKeyEnv: "PRICE_API_KEY"}
	if got := oracle.APIKey(); got != "hunter2" {
		t.Fatalf("expected env key, got %q", got)
	}
	if got := (Oracle{}).APIKey(); got != "" {
		t.Fatalf("expected empty key, got %q", got)
	}
}
