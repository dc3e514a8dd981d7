package config

import "stakeledger/native/staking"

// Tiers configures the weighted-stake thresholds and per-tier fees.
type Tiers struct {
	HolderMin  uint64 `toml:"HolderMin"`
	PremiumMin uint64 `toml:"PremiumMin"`
	VIPMin     uint64 `toml:"VIPMin"`

	FeeNoneBps    uint64 `toml:"FeeNoneBps"`
	FeeHolderBps  uint64 `toml:"FeeHolderBps"`
	FeePremiumBps uint64 `toml:"FeePremiumBps"`
	FeeVIPBps     uint64 `toml:"FeeVIPBps"`
}

// DefaultTiers mirrors staking.DefaultTierSchedule.
func DefaultTiers() Tiers {
	d := staking.DefaultTierSchedule()
	return Tiers{
		HolderMin:     d.HolderMin,
		PremiumMin:    d.PremiumMin,
		VIPMin:        d.VIPMin,
		FeeNoneBps:    d.Fee(staking.TierNone),
		FeeHolderBps:  d.Fee(staking.TierHolder),
		FeePremiumBps: d.Fee(staking.TierPremium),
		FeeVIPBps:     d.Fee(staking.TierVIP),
	}
}

// Schedule converts the configuration into the ledger's tier schedule. The
// display multipliers always come from the defaults.
func (t Tiers) Schedule() staking.TierSchedule {
	schedule := staking.DefaultTierSchedule()
	schedule.HolderMin = t.HolderMin
	schedule.PremiumMin = t.PremiumMin
	schedule.VIPMin = t.VIPMin
	schedule.FeeBps[staking.TierNone] = t.FeeNoneBps
	schedule.FeeBps[staking.TierHolder] = t.FeeHolderBps
	schedule.FeeBps[staking.TierPremium] = t.FeePremiumBps
	schedule.FeeBps[staking.TierVIP] = t.FeeVIPBps
	return schedule
}

// Pauses holds the module-level pause toggles.
type Pauses struct {
	Staking bool `toml:"Staking"`
}

// IsPaused implements the native pause view.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case staking.ModuleName:
		return p.Staking
	default:
		return false
	}
}

// Auth configures bearer-token verification for the HTTP API.
type Auth struct {
	Disabled      bool   `toml:"Disabled"`
	HMACSecret    string `toml:"HMACSecret"`
	HMACSecretEnv string `toml:"HMACSecretEnv"`
	Issuer        string `toml:"Issuer"`
	Audience      string `toml:"Audience"`
	// AllowedClockSkewSeconds tolerates drift between token issuers and the daemon.
	AllowedClockSkewSeconds int `toml:"AllowedClockSkewSeconds"`
}

// RateLimit throttles API calls per client. Authenticated callers are keyed
// on their token subject.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
	// DefaultTokens is the bucket cost of a request; RouteTokens overrides
	// it for "METHOD /path" keys.
	DefaultTokens int            `toml:"DefaultTokens"`
	RouteTokens   map[string]int `toml:"RouteTokens"`
	// TrustProxyHeaders keys anonymous callers on X-Real-IP or
	// X-Forwarded-For instead of the connection address.
	TrustProxyHeaders bool `toml:"TrustProxyHeaders"`
}

// Logging configures the optional rotating log file.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint string  `toml:"Endpoint"`
	Insecure bool    `toml:"Insecure"`
	Traces   bool    `toml:"Traces"`
	Metrics  bool    `toml:"Metrics"`
	Sampling float64 `toml:"Sampling"`
}
