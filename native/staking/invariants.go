package staking

import "fmt"

// verifyTransition checks a pool/position mutation before it is committed.
// Every other position is untouched by a single operation, so matching the
// pool deltas against the position deltas preserves the aggregate sums.
func verifyTransition(before, after *StakePool, prev, next *UserStake) error {
	if accOrZero(after.AccRewardPerWeighted).Lt(accOrZero(before.AccRewardPerWeighted)) {
		return violation("accumulator decreased")
	}
	if after.LastAccrualTime < before.LastAccrualTime {
		return violation("accrual time moved backwards")
	}
	if !sameDelta(before.TotalStaked, after.TotalStaked, prev.StakedAmount, next.StakedAmount) {
		return violation("staked delta mismatch")
	}
	if !sameDelta(before.TotalWeightedStake, after.TotalWeightedStake, prev.WeightedStake, next.WeightedStake) {
		return violation("weighted delta mismatch")
	}
	if next.WeightedStake < next.StakedAmount {
		return violation("weighted stake below staked amount")
	}
	if (next.WeightedStake == 0) != (next.StakedAmount == 0) {
		return violation("weighted stake inconsistent with staked amount")
	}
	if after.TotalStaked < next.StakedAmount || after.TotalWeightedStake < next.WeightedStake {
		return violation("position exceeds pool totals")
	}
	if next.TotalClaimed < prev.TotalClaimed {
		return violation("claimed total decreased")
	}
	if !sameDelta(before.TotalRewardsPaid, after.TotalRewardsPaid, prev.TotalClaimed, next.TotalClaimed) {
		return violation("payout delta mismatch")
	}
	if !sameDelta(after.RewardReserve, before.RewardReserve, prev.TotalClaimed, next.TotalClaimed) {
		return violation("reserve delta mismatch")
	}
	if accOrZero(next.RewardDebt).Gt(accOrZero(after.AccRewardPerWeighted)) {
		return violation("reward debt ahead of accumulator")
	}
	return nil
}

func violation(detail string) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, detail)
}

// sameDelta reports whether b-a == d-c over the integers.
func sameDelta(a, b, c, d uint64) bool {
	if b >= a {
		return d >= c && b-a == d-c
	}
	return c > d && a-b == c-d
}
