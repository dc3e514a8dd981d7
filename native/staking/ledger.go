package staking

// applyStake settles both records and folds a deposit of amount with the
// supplied lock into them. Both records must be working copies.
func applyStake(pool *StakePool, pos *UserStake, amount uint64, lock, now int64, policy RelockPolicy) error {
	if err := settlePool(pool, now); err != nil {
		return err
	}
	if err := settlePosition(pool, pos); err != nil {
		return err
	}

	clamped := ClampLock(lock, pool.MinLockDuration, pool.MaxLockDuration)
	multiplier := WeightMultiplier(clamped, pool.MinLockDuration, pool.MaxLockDuration)

	staked, err := checkedAdd(pos.StakedAmount, amount)
	if err != nil {
		return err
	}
	weighted, err := WeightedAmount(staked, multiplier)
	if err != nil {
		return err
	}
	totalStaked, err := checkedAdd(pool.TotalStaked, amount)
	if err != nil {
		return err
	}
	totalWeighted, err := checkedSub(pool.TotalWeightedStake, pos.WeightedStake)
	if err != nil {
		return err
	}
	totalWeighted, err = checkedAdd(totalWeighted, weighted)
	if err != nil {
		return err
	}
	lockEnd, err := checkedAddInt(now, clamped)
	if err != nil {
		return err
	}
	if policy == RelockExtend && pos.LockEndTime > lockEnd {
		lockEnd = pos.LockEndTime
	}

	if pos.StakedAmount == 0 && pos.StakeStartTime == 0 {
		pos.StakeStartTime = now
	}
	pos.StakedAmount = staked
	pos.WeightedStake = weighted
	pos.LockDuration = clamped
	pos.LockEndTime = lockEnd
	pool.TotalStaked = totalStaked
	pool.TotalWeightedStake = totalWeighted
	return nil
}

// applyUnstake settles both records and withdraws amount from the position.
// The weighted stake shrinks proportionally so the lock multiplier chosen at
// stake time is preserved.
func applyUnstake(pool *StakePool, pos *UserStake, amount uint64, now int64) (uint64, error) {
	if pos.StakedAmount > 0 && now < pos.LockEndTime {
		return 0, ErrStillLocked
	}
	if amount > pos.StakedAmount {
		return 0, ErrInsufficientBalance
	}
	if err := settlePool(pool, now); err != nil {
		return 0, err
	}
	if err := settlePosition(pool, pos); err != nil {
		return 0, err
	}

	remaining := pos.StakedAmount - amount
	var weighted uint64
	if remaining > 0 {
		var err error
		weighted, err = mulDiv(pos.WeightedStake, remaining, pos.StakedAmount)
		if err != nil {
			return 0, err
		}
	}
	removed := pos.WeightedStake - weighted

	totalStaked, err := checkedSub(pool.TotalStaked, amount)
	if err != nil {
		return 0, err
	}
	totalWeighted, err := checkedSub(pool.TotalWeightedStake, removed)
	if err != nil {
		return 0, err
	}
	pos.StakedAmount = remaining
	pos.WeightedStake = weighted
	pool.TotalStaked = totalStaked
	pool.TotalWeightedStake = totalWeighted
	return removed, nil
}

// applyClaim settles both records and pays out the pending rewards from the
// pool reserve. It returns the amount paid, which may be zero.
func applyClaim(pool *StakePool, pos *UserStake, now int64) (uint64, error) {
	if err := settlePool(pool, now); err != nil {
		return 0, err
	}
	if err := settlePosition(pool, pos); err != nil {
		return 0, err
	}
	amount := pos.PendingRewards
	if amount == 0 {
		return 0, nil
	}
	if pool.RewardReserve < amount {
		return 0, ErrInsufficientRewardReserve
	}
	claimed, err := checkedAdd(pos.TotalClaimed, amount)
	if err != nil {
		return 0, err
	}
	paid, err := checkedAdd(pool.TotalRewardsPaid, amount)
	if err != nil {
		return 0, err
	}
	pool.RewardReserve -= amount
	pool.TotalRewardsPaid = paid
	pos.TotalClaimed = claimed
	pos.PendingRewards = 0
	return amount, nil
}
