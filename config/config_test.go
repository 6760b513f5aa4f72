package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"deedmarket/crypto"
)

func bech32Addr(fill byte) string {
	var raw [20]byte
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(crypto.DeedPrefix, raw).String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8645" {
		t.Fatalf("rpc address = %q", cfg.RPCAddress)
	}
	if cfg.DataDir != "./deedmarket-data" {
		t.Fatalf("data dir = %q", cfg.DataDir)
	}
	if cfg.NetworkName != "deedmarket-local" {
		t.Fatalf("network = %q", cfg.NetworkName)
	}
	if cfg.Market.FeeBase != 10_000 {
		t.Fatalf("fee base = %d", cfg.Market.FeeBase)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8645" {
		t.Fatalf("rpc address = %q", cfg.RPCAddress)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	// The written file must load back cleanly.
	if _, err := Load(path); err != nil {
		t.Fatalf("reload: %v", err)
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	collector := bech32Addr(0xFC)
	admin := bech32Addr(0x01)
	alloc := bech32Addr(0x02)
	body := `
RPCAddress = ":9999"
RPCToken = "secret"
DataDir = "/tmp/deedmarket"
Environment = "production"

[market]
FeeRateBps = 250
FeeBase = 10000
FeeCollector = "` + collector + `"
CleanupThreshold = 50

[admin]
Admins = ["` + admin + `"]
KYCOpen = true

[[genesis]]
Address = "` + alloc + `"
Balance = "1000000000000000000"
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":9999" || cfg.RPCToken != "secret" {
		t.Fatalf("rpc fields wrong: %+v", cfg)
	}
	if cfg.Market.FeeRateBps != 250 || cfg.Market.CleanupThreshold != 50 {
		t.Fatalf("market fields wrong: %+v", cfg.Market)
	}
	if !cfg.Admin.KYCOpen || len(cfg.Admin.Admins) != 1 {
		t.Fatalf("admin fields wrong: %+v", cfg.Admin)
	}

	got, err := cfg.FeeCollectorAddress()
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	want, err := crypto.DecodeAddress(collector)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want.Bytes() {
		t.Fatalf("collector mismatch")
	}

	allocs, err := cfg.GenesisAllocations()
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	decoded, err := crypto.DecodeAddress(alloc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	balance, ok := allocs[decoded.Bytes()]
	if !ok {
		t.Fatalf("genesis allocation missing")
	}
	if balance.String() != "1000000000000000000" {
		t.Fatalf("balance = %s", balance)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "fee rate above base",
			body: "[market]\nFeeRateBps = 20000\nFeeBase = 10000\n",
			want: "fee rate",
		},
		{
			name: "bad collector",
			body: "[market]\nFeeCollector = \"nonsense\"\n",
			want: "fee collector",
		},
		{
			name: "bad admin address",
			body: "[admin]\nAdmins = [\"nonsense\"]\n",
			want: "admin address",
		},
		{
			name: "bad genesis balance",
			body: "[[genesis]]\nAddress = \"" + bech32Addr(0x02) + "\"\nBalance = \"many\"\n",
			want: "genesis balance",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("load succeeded, want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestDecodeAddresses(t *testing.T) {
	addrs, err := DecodeAddresses([]string{" " + bech32Addr(0x01) + " ", bech32Addr(0x02)})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("len = %d", len(addrs))
	}
	if _, err := DecodeAddresses([]string{"nope"}); err == nil {
		t.Fatalf("expected error for invalid entry")
	}
}
