package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stakeledger/crypto"
	"stakeledger/native/staking"
)

func testAuthority() string {
	return crypto.MustNewAddress(crypto.AuthorityPrefix, bytes.Repeat([]byte{0xAB}, crypto.AddressLength)).String()
}

func TestLoadCreatesDefaultWithKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stakingd.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthorityKeystorePath != filepath.Join(dir, "authority.keystore") {
		t.Fatalf("unexpected keystore path %q", cfg.AuthorityKeystorePath)
	}
	if _, err := os.Stat(cfg.AuthorityKeystorePath); err != nil {
		t.Fatalf("keystore not written: %v", err)
	}
	if len(cfg.Authorities) != 1 || !strings.HasPrefix(cfg.Authorities[0], string(crypto.AuthorityPrefix)) {
		t.Fatalf("authority not derived: %v", cfg.Authorities)
	}
	if len(cfg.Auth.HMACSecret) != 64 {
		t.Fatalf("expected generated auth secret, got %q", cfg.Auth.HMACSecret)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Authorities[0] != cfg.Authorities[0] {
		t.Fatalf("authority changed across reload")
	}
	if reloaded.RelockPolicy != string(staking.RelockReset) {
		t.Fatalf("relock policy = %q", reloaded.RelockPolicy)
	}
}

func TestLoadParsesSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stakingd.toml")
	contents := `ListenAddress = "127.0.0.1:9000"
DataDir = "./data"
Environment = "prod"
Authorities = ["` + testAuthority() + `"]
RelockPolicy = "extend"
ReadTimeout = 20

[tiers]
HolderMin = 500
PremiumMin = 5000
VIPMin = 50000
FeeNoneBps = 600
FeeHolderBps = 450
FeePremiumBps = 250
FeeVIPBps = 10

[pauses]
Staking = true

[rate_limit]
RequestsPerSecond = 5
Burst = 10

[logging]
File = "/var/log/stakingd.log"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9000" || cfg.Environment != "prod" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.RelockPolicy != "extend" {
		t.Fatalf("relock policy = %q", cfg.RelockPolicy)
	}
	// Unset fields keep their defaults.
	if cfg.WriteTimeout != 15 || cfg.ReadTimeout != 20 {
		t.Fatalf("timeouts = %d/%d", cfg.ReadTimeout, cfg.WriteTimeout)
	}
	schedule := cfg.Tiers.Schedule()
	if schedule.Resolve(500) != staking.TierHolder || schedule.Fee(staking.TierVIP) != 10 {
		t.Fatalf("tiers not applied: %+v", schedule)
	}
	if !cfg.Pauses.IsPaused(staking.ModuleName) || cfg.Pauses.IsPaused("other") {
		t.Fatalf("pause toggles not applied")
	}
	if cfg.AuthorityKeystorePath != "" {
		t.Fatalf("keystore should not be generated when authorities are configured")
	}
	addrs, err := cfg.AuthorityAddresses()
	if err != nil || len(addrs) != 1 {
		t.Fatalf("authority addresses: %v, %v", addrs, err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stakingd.toml")
	contents := `Authorities = ["` + testAuthority() + `"]
ValidatorKey = "deadbeef"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "ValidatorKey") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"relock policy":    func(c *Config) { c.RelockPolicy = "sometimes" },
		"tier order":       func(c *Config) { c.Tiers.PremiumMin = c.Tiers.VIPMin + 1 },
		"rising fee":       func(c *Config) { c.Tiers.FeeVIPBps = 900 },
		"bad authority":    func(c *Config) { c.Authorities = []string{"not-an-address"} },
		"burst":            func(c *Config) { c.RateLimit.Burst = 0 },
		"route cost":       func(c *Config) { c.RateLimit.RouteTokens["POST /v1/pools"] = c.RateLimit.Burst + 1 },
		"default cost":     func(c *Config) { c.RateLimit.DefaultTokens = -1 },
		"sampling":         func(c *Config) { c.Telemetry.Sampling = 2 },
		"listen address":   func(c *Config) { c.ListenAddress = " " },
		"negative timeout": func(c *Config) { c.IdleTimeout = -1 },
	}
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestJWTSecretPrefersEnvironment(t *testing.T) {
	cfg := Default()
	cfg.Auth.HMACSecret = "file-secret"
	cfg.Auth.HMACSecretEnv = "STAKELEDGER_TEST_SECRET"
	if got := cfg.JWTSecret(); got != "file-secret" {
		t.Fatalf("secret = %q", got)
	}
	t.Setenv("STAKELEDGER_TEST_SECRET", "env-secret")
	if got := cfg.JWTSecret(); got != "env-secret" {
		t.Fatalf("secret = %q", got)
	}
}
