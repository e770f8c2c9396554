package config

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, "config.toml", `
TokenSymbol = "RSV"
StakeSymbol = "STK"
OracleErrorBps = 100
MaxSlippageBps = 200
MinTradeVolume = "10"
RewardPeriod = "2h"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service != "rtokend" || cfg.ListenAddress != ":8551" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.RewardPeriod.Duration != 2*time.Hour {
		t.Fatalf("reward period = %v", cfg.RewardPeriod.Duration)
	}
	want := new(big.Int).Mul(big.NewInt(10), wad)
	if cfg.MinVolume().Cmp(want) != 0 {
		t.Fatalf("min volume = %s, want %s", cfg.MinVolume(), want)
	}
	if cfg.MaxVolume() != nil {
		t.Fatalf("unset max volume should be nil")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "config.toml", `
TokenSymbol = "RSV"
StakeSymbol = "STK"
Slipage = 10
`)
	if _, err := Load(path); !errors.Is(err, errUnknownKey) {
		t.Fatalf("expected unknown key rejection, got %v", err)
	}
}

func TestLoadRejectsMissingSymbols(t *testing.T) {
	path := writeFile(t, "config.toml", `StakeSymbol = "STK"`)
	if _, err := Load(path); !errors.Is(err, errMissingField) {
		t.Fatalf("expected missing field, got %v", err)
	}
}

func TestValidateStalenessOrdering(t *testing.T) {
	path := writeFile(t, "config.toml", `
TokenSymbol = "RSV"
StakeSymbol = "STK"
PriceTimeout = "1h"
PriceStaleness = "10m"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected staleness ordering rejection")
	}
}

func TestParseWad(t *testing.T) {
	got, err := ParseWad("0.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Cmp(new(big.Int).Rsh(wad, 1)) != 0 {
		t.Fatalf("0.5 = %s", got)
	}
	if _, err := ParseWad("0.0000000000000000001"); err == nil {
		t.Fatalf("expected sub-wei rejection")
	}
	if _, err := ParseWad("not-a-number"); err == nil {
		t.Fatalf("expected parse failure")
	}
}

func TestLoadBasket(t *testing.T) {
	path := writeFile(t, "basket.yaml", `
collateral:
  - id: USDC
    token: USDC
    target: USD
    peg: "1"
    defaultThresholdBps: 500
    defaultDelay: 24h
  - id: DAI
    token: DAI
    target: USD
    peg: "1"
    defaultThresholdBps: 500
    defaultDelay: 24h
prime:
  - id: USDC
    quantity: "0.5"
  - id: DAI
    quantity: "0.5"
`)
	def, err := LoadBasket(path)
	if err != nil {
		t.Fatalf("load basket: %v", err)
	}
	if len(def.Collateral) != 2 || len(def.Prime) != 2 {
		t.Fatalf("unexpected definition %+v", def)
	}
}

func TestLoadBasketRejectsUnknownPrime(t *testing.T) {
	path := writeFile(t, "basket.yaml", `
collateral:
  - id: USDC
    token: USDC
    target: USD
prime:
  - id: GHOST
    quantity: "1"
`)
	if _, err := LoadBasket(path); !errors.Is(err, ErrInvalidBasket) {
		t.Fatalf("expected invalid basket, got %v", err)
	}
}
