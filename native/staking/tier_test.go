package staking

import (
	"errors"
	"testing"
)

func TestTierBoundaries(t *testing.T) {
	schedule := DefaultTierSchedule()
	cases := []struct {
		weighted uint64
		tier     Tier
		fee      uint64
	}{
		{0, TierNone, 500},
		{999, TierNone, 500},
		{1_000, TierHolder, 400},
		{9_999, TierHolder, 400},
		{10_000, TierPremium, 200},
		{99_999, TierPremium, 200},
		{100_000, TierVIP, 0},
		{^uint64(0), TierVIP, 0},
	}
	for _, tc := range cases {
		tier := schedule.Resolve(tc.weighted)
		if tier != tc.tier {
			t.Fatalf("Resolve(%d) = %s, want %s", tc.weighted, tier, tc.tier)
		}
		if fee := schedule.Fee(tier); fee != tc.fee {
			t.Fatalf("Fee(%s) = %d, want %d", tier, fee, tc.fee)
		}
	}
}

func TestTierScheduleValidate(t *testing.T) {
	if err := DefaultTierSchedule().Validate(); err != nil {
		t.Fatalf("default schedule invalid: %v", err)
	}

	unordered := DefaultTierSchedule()
	unordered.PremiumMin = unordered.VIPMin + 1
	if err := unordered.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}

	risingFee := DefaultTierSchedule()
	risingFee.FeeBps[TierVIP] = 300
	if err := risingFee.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}

	zero := DefaultTierSchedule()
	zero.HolderMin = 0
	if err := zero.Validate(); err == nil {
		t.Fatalf("expected zero holder threshold to be rejected")
	}
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier(" premium ")
	if err != nil || tier != TierPremium {
		t.Fatalf("ParseTier = %v, %v", tier, err)
	}
	if _, err := ParseTier("gold"); err == nil {
		t.Fatalf("expected unknown tier error")
	}
	if TierVIP.String() != "VIP" {
		t.Fatalf("unexpected name %q", TierVIP.String())
	}
}
