package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"bakedbeans/crypto"
)

type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	NetworkName    string `toml:"NetworkName"`

	// Fee recipient accounts handed to the initialize operation. Left empty,
	// the node starts without initializing the registry and waits for an
	// authority-signed initialize call over RPC.
	Authority        string `toml:"Authority"`
	DevAccount       string `toml:"DevAccount"`
	MarketingAccount string `toml:"MarketingAccount"`
	CeoAccount       string `toml:"CeoAccount"`
	GiveawayAccount  string `toml:"GiveawayAccount"`
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

	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./beansd-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "beans-local"
	}

	if err := cfg.validateAddresses(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validateAddresses() error {
	fields := map[string]string{
		"Authority":        c.Authority,
		"DevAccount":       c.DevAccount,
		"MarketingAccount": c.MarketingAccount,
		"CeoAccount":       c.CeoAccount,
		"GiveawayAccount":  c.GiveawayAccount,
	}
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := crypto.DecodeAddress(value); err != nil {
			return fmt.Errorf("config: invalid %s: %w", name, err)
		}
	}
	return nil
}

// FeeAccounts decodes the configured recipient addresses. It returns false
// when any of them is unset.
func (c *Config) FeeAccounts() (authority, dev, marketing, ceo, giveaway crypto.Address, ok bool, err error) {
	raw := []string{c.Authority, c.DevAccount, c.MarketingAccount, c.CeoAccount, c.GiveawayAccount}
	decoded := make([]crypto.Address, len(raw))
	for i, value := range raw {
		if strings.TrimSpace(value) == "" {
			return crypto.Address{}, crypto.Address{}, crypto.Address{}, crypto.Address{}, crypto.Address{}, false, nil
		}
		decoded[i], err = crypto.DecodeAddress(value)
		if err != nil {
			return crypto.Address{}, crypto.Address{}, crypto.Address{}, crypto.Address{}, crypto.Address{}, false, err
		}
	}
	return decoded[0], decoded[1], decoded[2], decoded[3], decoded[4], true, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     "127.0.0.1:8645",
		MetricsAddress: "127.0.0.1:9645",
		DataDir:        "./beansd-data",
		NetworkName:    "beans-local",
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
