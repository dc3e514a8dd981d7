package staking

import "github.com/holiman/uint256"

// settlePool advances the accumulator to now. The accrual timestamp always
// moves to now, so intervals with no weighted stake emit nothing and are
// never re-priced later.
func settlePool(pool *StakePool, now int64) error {
	acc, err := projectedAccumulator(pool, now)
	if err != nil {
		return err
	}
	pool.AccRewardPerWeighted = acc
	if now > pool.LastAccrualTime {
		pool.LastAccrualTime = now
	}
	return nil
}

// projectedAccumulator returns the accumulator value at now without
// mutating the pool.
func projectedAccumulator(pool *StakePool, now int64) (*uint256.Int, error) {
	acc := cloneAcc(pool.AccRewardPerWeighted)
	if now <= pool.LastAccrualTime || pool.TotalWeightedStake == 0 || pool.RewardRatePerSecond == 0 {
		return acc, nil
	}
	elapsed := uint64(now - pool.LastAccrualTime)
	inc, err := accumulatorIncrement(elapsed, pool.RewardRatePerSecond, pool.TotalWeightedStake)
	if err != nil {
		return nil, err
	}
	return addAccumulator(acc, inc)
}

// settlePosition credits the rewards earned since the position's last
// checkpoint and moves the checkpoint to the pool accumulator. It must run
// after settlePool.
func settlePosition(pool *StakePool, pos *UserStake) error {
	owed, err := owedRewards(pos.WeightedStake, pool.AccRewardPerWeighted, pos.RewardDebt)
	if err != nil {
		return err
	}
	pending, err := checkedAdd(pos.PendingRewards, owed)
	if err != nil {
		return err
	}
	pos.PendingRewards = pending
	pos.RewardDebt = cloneAcc(pool.AccRewardPerWeighted)
	return nil
}

// PendingRewards reports what the position could claim at now without
// mutating either record.
func PendingRewards(pool *StakePool, pos *UserStake, now int64) (uint64, error) {
	if pool == nil || pos == nil {
		return 0, nil
	}
	acc, err := projectedAccumulator(pool, now)
	if err != nil {
		return 0, err
	}
	owed, err := owedRewards(pos.WeightedStake, acc, pos.RewardDebt)
	if err != nil {
		return 0, err
	}
	return checkedAdd(pos.PendingRewards, owed)
}
