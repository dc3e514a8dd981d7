package staking

import (
	"fmt"
	"strings"
)

// Tier is the discount level derived from a position's weighted stake.
type Tier uint8

const (
	TierNone Tier = iota
	TierHolder
	TierPremium
	TierVIP

	tierCount
)

var tierNames = [tierCount]string{"NONE", "HOLDER", "PREMIUM", "VIP"}

func (t Tier) String() string {
	if t >= tierCount {
		return fmt.Sprintf("Tier(%d)", uint8(t))
	}
	return tierNames[t]
}

// ParseTier resolves a tier from its case-insensitive name.
func ParseTier(name string) (Tier, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, candidate := range tierNames {
		if candidate == upper {
			return Tier(i), nil
		}
	}
	return TierNone, fmt.Errorf("staking: unknown tier %q", name)
}

// TierSchedule holds the inclusive weighted-stake thresholds for each tier
// and the per-tier fee and display multipliers, indexed by Tier.
type TierSchedule struct {
	HolderMin  uint64
	PremiumMin uint64
	VIPMin     uint64

	FeeBps [tierCount]uint64
	// RewardMultiplierBps is informational. Reward payouts are always
	// proportional to weighted stake alone.
	RewardMultiplierBps [tierCount]uint64
}

// DefaultTierSchedule returns the stock thresholds (1k/10k/100k units) and
// fees (5%/4%/2%/0%).
func DefaultTierSchedule() TierSchedule {
	return TierSchedule{
		HolderMin:           1_000,
		PremiumMin:          10_000,
		VIPMin:              100_000,
		FeeBps:              [tierCount]uint64{500, 400, 200, 0},
		RewardMultiplierBps: [tierCount]uint64{10_000, 11_000, 12_500, 15_000},
	}
}

// Validate ensures thresholds ascend and fees never increase with tier.
func (s TierSchedule) Validate() error {
	if s.HolderMin == 0 {
		return fmt.Errorf("%w: holder threshold must be positive", ErrInvalidConfiguration)
	}
	if s.HolderMin > s.PremiumMin || s.PremiumMin > s.VIPMin {
		return fmt.Errorf("%w: tier thresholds must ascend", ErrInvalidConfiguration)
	}
	for i := range s.FeeBps {
		if s.FeeBps[i] > BasisPoints {
			return fmt.Errorf("%w: fee for %s exceeds 100%%", ErrInvalidConfiguration, Tier(i))
		}
		if i > 0 && s.FeeBps[i] > s.FeeBps[i-1] {
			return fmt.Errorf("%w: fee for %s exceeds fee for %s", ErrInvalidConfiguration, Tier(i), Tier(i-1))
		}
	}
	return nil
}

// Resolve maps a weighted stake onto its tier. Thresholds are inclusive.
func (s TierSchedule) Resolve(weighted uint64) Tier {
	switch {
	case weighted >= s.VIPMin:
		return TierVIP
	case weighted >= s.PremiumMin:
		return TierPremium
	case weighted >= s.HolderMin:
		return TierHolder
	default:
		return TierNone
	}
}

// Fee returns the fee in basis points charged to holders of the tier.
func (s TierSchedule) Fee(t Tier) uint64 {
	if t >= tierCount {
		return s.FeeBps[TierNone]
	}
	return s.FeeBps[t]
}

// RewardMultiplier returns the display multiplier for the tier.
func (s TierSchedule) RewardMultiplier(t Tier) uint64 {
	if t >= tierCount {
		return BasisPoints
	}
	return s.RewardMultiplierBps[t]
}
