package staking

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ModuleName identifies the staking module for pause toggles and logging.
const ModuleName = "staking"

const (
	// BasisPoints is the denominator for every *Bps quantity in the ledger.
	BasisPoints uint64 = 10_000

	// MinWeightMultiplierBps applies to the shortest permitted lock.
	MinWeightMultiplierBps uint64 = 10_000
	// MaxWeightMultiplierBps applies to the longest permitted lock.
	MaxWeightMultiplierBps uint64 = 20_000

	// DefaultMinLockDuration is seven days in seconds.
	DefaultMinLockDuration int64 = 7 * 24 * 60 * 60
	// DefaultMaxLockDuration is 365 days in seconds.
	DefaultMaxLockDuration int64 = 365 * 24 * 60 * 60

	accPrecisionValue uint64 = 1_000_000_000_000
)

var (
	// accPrecision scales the reward accumulator so that small per-second
	// emissions over large weighted supplies do not truncate to zero.
	accPrecision = uint256.NewInt(accPrecisionValue)

	// maxAccumulator bounds the accumulator to 128 bits.
	maxAccumulator = new(uint256.Int).Sub(
		new(uint256.Int).Lsh(uint256.NewInt(1), 128),
		uint256.NewInt(1),
	)
)

// RelockPolicy controls how a new deposit into an existing position moves its
// lock end time.
type RelockPolicy string

const (
	// RelockReset re-bases the lock to now plus the newly supplied duration,
	// even when that shortens the remaining lock.
	RelockReset RelockPolicy = "reset"
	// RelockExtend keeps whichever of the existing and the new lock end is
	// later.
	RelockExtend RelockPolicy = "extend"
)

// Valid reports whether the policy is one of the supported values.
func (p RelockPolicy) Valid() bool {
	switch p {
	case RelockReset, RelockExtend:
		return true
	default:
		return false
	}
}

// InitializeParams configures a new pool.
type InitializeParams struct {
	StakeAsset          string
	RewardAsset         string
	RewardRatePerSecond uint64
	MinLockDuration     int64
	MaxLockDuration     int64
	// InitialReserve seeds the reward reserve backing future claims.
	InitialReserve uint64
}

func (p InitializeParams) validate() error {
	if strings.TrimSpace(p.StakeAsset) == "" || strings.TrimSpace(p.RewardAsset) == "" {
		return fmt.Errorf("%w: stake and reward assets are required", ErrInvalidConfiguration)
	}
	if p.MinLockDuration < 0 {
		return fmt.Errorf("%w: negative minimum lock", ErrInvalidConfiguration)
	}
	if p.MinLockDuration >= p.MaxLockDuration {
		return fmt.Errorf("%w: minimum lock must be below maximum lock", ErrInvalidConfiguration)
	}
	return nil
}
