package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stakeledger/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress         string   `toml:"ListenAddress"`
	DataDir               string   `toml:"DataDir"`
	Environment           string   `toml:"Environment"`
	AuthorityKeystorePath string   `toml:"AuthorityKeystorePath"`
	Authorities           []string `toml:"Authorities"`
	RelockPolicy          string   `toml:"RelockPolicy"`

	ReadHeaderTimeout int `toml:"ReadHeaderTimeout"`
	ReadTimeout       int `toml:"ReadTimeout"`
	WriteTimeout      int `toml:"WriteTimeout"`
	IdleTimeout       int `toml:"IdleTimeout"`
	StreamBuffer      int `toml:"StreamBuffer"`

	// AllowedOrigins enables CORS for browser clients; "*" allows any origin.
	AllowedOrigins []string `toml:"AllowedOrigins"`

	Tiers     Tiers     `toml:"tiers"`
	Pauses    Pauses    `toml:"pauses"`
	Auth      Auth      `toml:"auth"`
	RateLimit RateLimit `toml:"rate_limit"`
	Logging   Logging   `toml:"logging"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Load loads the configuration from the given path. A default configuration
// together with a fresh authority keystore is written when the file is
// missing.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	cfg.Authorities = nil
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}

	if len(cfg.Authorities) == 0 {
		if err := ensureKeystore(path, cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Authorities == nil {
		cfg.Authorities = []string{}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used for a fresh install.
func Default() *Config {
	return &Config{
		ListenAddress:     ":8646",
		DataDir:           "./stake-data",
		Environment:       "dev",
		Authorities:       []string{},
		RelockPolicy:      "reset",
		ReadHeaderTimeout: 5,
		ReadTimeout:       15,
		WriteTimeout:      15,
		IdleTimeout:       60,
		StreamBuffer:      256,
		Tiers:             DefaultTiers(),
		Auth: Auth{
			HMACSecretEnv:           "STAKELEDGER_JWT_SECRET",
			Issuer:                  "stakeledger",
			Audience:                "stakeledger-api",
			AllowedClockSkewSeconds: 30,
		},
		RateLimit: RateLimit{
			RequestsPerSecond: 20,
			Burst:             40,
			DefaultTokens:     1,
			RouteTokens:       map[string]int{"POST /v1/pools": 5},
		},
		Logging:   Logging{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14},
		Telemetry: Telemetry{Sampling: 1},
	}
}

// ensureKeystore creates the authority keystore when missing and records the
// derived address as the sole pool authority.
func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.AuthorityKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	var key *crypto.PrivateKey
	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		generated, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, generated, ""); err != nil {
			return err
		}
		key = generated
	} else if err != nil {
		return err
	} else {
		loaded, err := crypto.LoadFromKeystore(keystorePath, "")
		if err != nil {
			return fmt.Errorf("config: open authority keystore: %w", err)
		}
		key = loaded
	}

	cfg.AuthorityKeystorePath = keystorePath
	cfg.Authorities = []string{key.PubKey().Address(crypto.AuthorityPrefix).String()}
	return persist(configPath, cfg)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("config: generate auth secret: %w", err)
	}
	cfg.Auth.HMACSecret = hex.EncodeToString(secret)
	if err := ensureKeystore(path, cfg); err != nil {
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

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "authority.keystore")
}

// AuthorityAddresses decodes the configured pool authorities.
func (c *Config) AuthorityAddresses() ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(c.Authorities))
	for _, raw := range c.Authorities {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("config: authority %q: %w", raw, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// JWTSecret resolves the HMAC secret, preferring the environment variable.
func (c *Config) JWTSecret() string {
	if env := strings.TrimSpace(c.Auth.HMACSecretEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(c.Auth.HMACSecret)
}

func seconds(v int) time.Duration { return time.Duration(v) * time.Second }

// ReadHeaderTimeoutDuration returns the header read timeout.
func (c *Config) ReadHeaderTimeoutDuration() time.Duration { return seconds(c.ReadHeaderTimeout) }

// ReadTimeoutDuration returns the request read timeout.
func (c *Config) ReadTimeoutDuration() time.Duration { return seconds(c.ReadTimeout) }

// WriteTimeoutDuration returns the response write timeout.
func (c *Config) WriteTimeoutDuration() time.Duration { return seconds(c.WriteTimeout) }

// IdleTimeoutDuration returns the keep-alive idle timeout.
func (c *Config) IdleTimeoutDuration() time.Duration { return seconds(c.IdleTimeout) }
