package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"deedmarket/crypto"
)

// Config is the daemon configuration, decoded from TOML.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	RPCToken    string `toml:"RPCToken"`
	DataDir     string `toml:"DataDir"`
	NetworkName string `toml:"NetworkName"`
	Environment string `toml:"Environment"`
	LogFile     string `toml:"LogFile"`

	Market  MarketConfig   `toml:"market"`
	Admin   AdminConfig    `toml:"admin"`
	Genesis []GenesisAlloc `toml:"genesis"`
}

// AdminConfig seeds the development role/KYC provider.
type AdminConfig struct {
	Admins       []string `toml:"Admins"`
	MarketAdmins []string `toml:"MarketAdmins"`
	KYCOpen      bool     `toml:"KYCOpen"`
	KYCVerified  []string `toml:"KYCVerified"`
}

// MarketConfig carries marketplace engine tunables.
type MarketConfig struct {
	FeeRateBps       uint32 `toml:"FeeRateBps"`
	FeeBase          uint32 `toml:"FeeBase"`
	FeeCollector     string `toml:"FeeCollector"`
	CleanupThreshold int    `toml:"CleanupThreshold"`
}

// GenesisAlloc seeds a native balance on first start.
type GenesisAlloc struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

// Load loads the configuration from the given path, writing a default file
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
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8645"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./deedmarket-data"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "deedmarket-local"
	}
	if c.Market.FeeBase == 0 {
		c.Market.FeeBase = 10_000
	}
}

// Validate checks address fields and fee bounds.
func (c *Config) Validate() error {
	if c.Market.FeeRateBps > c.Market.FeeBase {
		return fmt.Errorf("config: fee rate %d exceeds base %d", c.Market.FeeRateBps, c.Market.FeeBase)
	}
	if strings.TrimSpace(c.Market.FeeCollector) != "" {
		if _, err := crypto.DecodeAddress(c.Market.FeeCollector); err != nil {
			return fmt.Errorf("config: invalid fee collector: %w", err)
		}
	}
	for _, group := range [][]string{c.Admin.Admins, c.Admin.MarketAdmins, c.Admin.KYCVerified} {
		for _, entry := range group {
			if _, err := crypto.DecodeAddress(entry); err != nil {
				return fmt.Errorf("config: invalid admin address %q: %w", entry, err)
			}
		}
	}
	for _, alloc := range c.Genesis {
		if _, err := crypto.DecodeAddress(alloc.Address); err != nil {
			return fmt.Errorf("config: invalid genesis address %q: %w", alloc.Address, err)
		}
		if _, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Balance), 10); !ok {
			return fmt.Errorf("config: invalid genesis balance %q", alloc.Balance)
		}
	}
	return nil
}

// FeeCollectorAddress decodes the configured fee collector, zero when unset.
func (c *Config) FeeCollectorAddress() ([20]byte, error) {
	if strings.TrimSpace(c.Market.FeeCollector) == "" {
		return [20]byte{}, nil
	}
	addr, err := crypto.DecodeAddress(c.Market.FeeCollector)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Bytes(), nil
}

// DecodeAddresses parses a list of bech32 addresses.
func DecodeAddresses(entries []string) ([][20]byte, error) {
	out := make([][20]byte, 0, len(entries))
	for _, entry := range entries {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(entry))
		if err != nil {
			return nil, err
		}
		out = append(out, addr.Bytes())
	}
	return out, nil
}

// GenesisAllocations decodes the configured genesis balances.
func (c *Config) GenesisAllocations() (map[[20]byte]*big.Int, error) {
	alloc := make(map[[20]byte]*big.Int, len(c.Genesis))
	for _, entry := range c.Genesis {
		addr, err := crypto.DecodeAddress(entry.Address)
		if err != nil {
			return nil, err
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(entry.Balance), 10)
		if !ok {
			return nil, fmt.Errorf("config: invalid genesis balance %q", entry.Balance)
		}
		alloc[addr.Bytes()] = balance
	}
	return alloc, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
