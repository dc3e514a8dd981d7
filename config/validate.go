package config

import (
	"fmt"
	"strings"

	"stakeledger/native/staking"
)

// Validate checks a loaded configuration for values the daemon cannot run
// with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress must be set")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config: DataDir must be set")
	}
	if !staking.RelockPolicy(cfg.RelockPolicy).Valid() {
		return fmt.Errorf("config: RelockPolicy must be %q or %q", staking.RelockReset, staking.RelockExtend)
	}
	if err := cfg.Tiers.Schedule().Validate(); err != nil {
		return fmt.Errorf("config: tiers: %w", err)
	}
	if _, err := cfg.AuthorityAddresses(); err != nil {
		return err
	}
	if cfg.ReadHeaderTimeout < 0 || cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 || cfg.IdleTimeout < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate_limit values must not be negative")
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		return fmt.Errorf("config: rate_limit.Burst must be positive when a rate is set")
	}
	if cfg.RateLimit.DefaultTokens < 0 {
		return fmt.Errorf("config: rate_limit.DefaultTokens must not be negative")
	}
	for route, tokens := range cfg.RateLimit.RouteTokens {
		if tokens <= 0 || (cfg.RateLimit.RequestsPerSecond > 0 && tokens > cfg.RateLimit.Burst) {
			return fmt.Errorf("config: rate_limit.RouteTokens[%q] must be within [1,Burst]", route)
		}
	}
	if cfg.Auth.AllowedClockSkewSeconds < 0 {
		return fmt.Errorf("config: auth.AllowedClockSkewSeconds must not be negative")
	}
	if cfg.Telemetry.Sampling < 0 || cfg.Telemetry.Sampling > 1 {
		return fmt.Errorf("config: telemetry.Sampling must be within [0,1]")
	}
	return nil
}
