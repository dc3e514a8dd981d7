package staking

// ClampLock bounds lock into [minLock, maxLock].
func ClampLock(lock, minLock, maxLock int64) int64 {
	if lock < minLock {
		return minLock
	}
	if lock > maxLock {
		return maxLock
	}
	return lock
}

// WeightMultiplier returns the stake weight multiplier in basis points for a
// lock of the given duration. The multiplier grows linearly from 1x at
// minLock to 2x at maxLock; durations outside the range are clamped first.
// Intermediate ratios are floored to whole basis points.
func WeightMultiplier(lock, minLock, maxLock int64) uint64 {
	if maxLock <= minLock {
		return MinWeightMultiplierBps
	}
	clamped := ClampLock(lock, minLock, maxLock)
	progress := uint64(clamped - minLock)
	span := uint64(maxLock - minLock)
	// progress <= span and span fits in int64, so the product fits in 128
	// bits; mulDiv handles it without loss.
	progressBps, err := mulDiv(progress, BasisPoints, span)
	if err != nil {
		return MinWeightMultiplierBps
	}
	bonus := (MaxWeightMultiplierBps - MinWeightMultiplierBps) * progressBps / BasisPoints
	return MinWeightMultiplierBps + bonus
}

// WeightedAmount applies a multiplier to a raw stake amount.
func WeightedAmount(amount, multiplierBps uint64) (uint64, error) {
	return mulDiv(amount, multiplierBps, BasisPoints)
}
