package staking

import "github.com/holiman/uint256"

func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}

func checkedAddInt(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

// mulDiv computes floor(a*b/d) with a 256-bit intermediate.
func mulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrArithmeticOverflow
	}
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	product.Div(product, uint256.NewInt(d))
	if !product.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return product.Uint64(), nil
}

// accumulatorIncrement returns elapsed*rate*precision/totalWeighted.
func accumulatorIncrement(elapsed, rate, totalWeighted uint64) (*uint256.Int, error) {
	if totalWeighted == 0 {
		return new(uint256.Int), nil
	}
	emitted, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(elapsed), uint256.NewInt(rate))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	scaled, overflow := new(uint256.Int).MulOverflow(emitted, accPrecision)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return scaled.Div(scaled, uint256.NewInt(totalWeighted)), nil
}

// addAccumulator returns acc+inc, rejecting values beyond 128 bits.
func addAccumulator(acc, inc *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(accOrZero(acc), inc)
	if overflow || sum.Gt(maxAccumulator) {
		return nil, ErrArithmeticOverflow
	}
	return sum, nil
}

// owedRewards returns weighted*(acc-debt)/precision.
func owedRewards(weighted uint64, acc, debt *uint256.Int) (uint64, error) {
	acc = accOrZero(acc)
	debt = accOrZero(debt)
	if acc.Lt(debt) {
		return 0, ErrInvariantViolation
	}
	if weighted == 0 || acc.Eq(debt) {
		return 0, nil
	}
	delta := new(uint256.Int).Sub(acc, debt)
	product, overflow := new(uint256.Int).MulOverflow(delta, uint256.NewInt(weighted))
	if overflow {
		return 0, ErrArithmeticOverflow
	}
	product.Div(product, accPrecision)
	if !product.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return product.Uint64(), nil
}

func accOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func cloneAcc(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
