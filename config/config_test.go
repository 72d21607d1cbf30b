package config

import (
	"os"
	"path/filepath"
	"testing"

	"bakedbeans/crypto"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "127.0.0.1:8645" {
		t.Fatalf("unexpected rpc address: %s", cfg.RPCAddress)
	}
	if cfg.MetricsAddress != "127.0.0.1:9645" {
		t.Fatalf("unexpected metrics address: %s", cfg.MetricsAddress)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}

	// Loading the written file again yields the same settings.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *reloaded != *cfg {
		t.Fatalf("reload mismatch: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadAppliesDefaultsToSparseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("MetricsAddress = \"127.0.0.1:9001\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "127.0.0.1:8645" {
		t.Fatalf("rpc address default not applied: %s", cfg.RPCAddress)
	}
	if cfg.MetricsAddress != "127.0.0.1:9001" {
		t.Fatalf("metrics address overridden: %s", cfg.MetricsAddress)
	}
	if cfg.DataDir != "./beansd-data" || cfg.NetworkName != "beans-local" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("Authority = \"not-an-address\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected invalid Authority to be rejected")
	}
}

func TestFeeAccounts(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address().String()

	cfg := &Config{}
	if _, _, _, _, _, ok, err := cfg.FeeAccounts(); err != nil || ok {
		t.Fatalf("empty config should report unset accounts: ok=%v err=%v", ok, err)
	}

	cfg = &Config{
		Authority:        addr,
		DevAccount:       addr,
		MarketingAccount: addr,
		CeoAccount:       addr,
		GiveawayAccount:  addr,
	}
	authority, dev, _, _, _, ok, err := cfg.FeeAccounts()
	if err != nil {
		t.Fatalf("fee accounts: %v", err)
	}
	if !ok {
		t.Fatal("expected accounts to decode")
	}
	if authority.String() != addr || dev.String() != addr {
		t.Fatalf("decoded addresses mismatch: %s", authority)
	}
}
