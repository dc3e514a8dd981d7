package staking

import (
	"github.com/holiman/uint256"

	"stakeledger/crypto"
)

// StakePool captures the aggregate accounting for one stake/reward asset pair.
type StakePool struct {
	ID        PoolID
	Authority crypto.Address
	// StakeAsset and RewardAsset are upper-cased symbols.
	StakeAsset  string
	RewardAsset string
	// TotalStaked is the sum of StakedAmount over every position.
	TotalStaked uint64
	// TotalWeightedStake is the sum of WeightedStake over every position.
	TotalWeightedStake  uint64
	RewardRatePerSecond uint64
	MinLockDuration     int64
	MaxLockDuration     int64
	// LastAccrualTime is the unix second the accumulator was last advanced to.
	LastAccrualTime int64
	// AccRewardPerWeighted is the cumulative reward per unit of weighted
	// stake scaled by 1e12. It never decreases.
	AccRewardPerWeighted *uint256.Int
	// RewardReserve holds the rewards still available for claims.
	RewardReserve    uint64
	TotalRewardsPaid uint64
	Paused           bool
	CreatedAt        int64
}

// Clone returns a deep copy of the pool.
func (p *StakePool) Clone() *StakePool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.AccRewardPerWeighted = cloneAcc(p.AccRewardPerWeighted)
	return &clone
}

// UserStake is one owner's position within a pool.
type UserStake struct {
	Pool          PoolID
	Owner         crypto.Address
	StakedAmount  uint64
	WeightedStake uint64
	// LockDuration is the clamped duration supplied by the last stake.
	LockDuration int64
	LockEndTime  int64
	// RewardDebt is the accumulator value at which the position was last
	// settled.
	RewardDebt     *uint256.Int
	PendingRewards uint64
	TotalClaimed   uint64
	// StakeStartTime is the unix second of the first deposit.
	StakeStartTime int64
}

// Clone returns a deep copy of the position.
func (s *UserStake) Clone() *UserStake {
	if s == nil {
		return nil
	}
	clone := *s
	clone.RewardDebt = cloneAcc(s.RewardDebt)
	return &clone
}

// Tier derives the position's tier under the schedule.
func (s *UserStake) Tier(schedule TierSchedule) Tier {
	if s == nil {
		return TierNone
	}
	return schedule.Resolve(s.WeightedStake)
}

// LockState describes whether a position can be withdrawn.
type LockState string

const (
	LockStateEmpty    LockState = "empty"
	LockStateLocked   LockState = "locked"
	LockStateUnlocked LockState = "unlocked"
)

// LockStateAt reports the lock state at the supplied unix second.
func (s *UserStake) LockStateAt(now int64) LockState {
	switch {
	case s == nil || s.StakedAmount == 0:
		return LockStateEmpty
	case now < s.LockEndTime:
		return LockStateLocked
	default:
		return LockStateUnlocked
	}
}

func newPosition(pool *StakePool, owner crypto.Address) *UserStake {
	return &UserStake{
		Pool:       pool.ID,
		Owner:      owner,
		RewardDebt: cloneAcc(pool.AccRewardPerWeighted),
	}
}

// StakeResult is returned by Engine.Stake.
type StakeResult struct {
	StakedAmount  uint64
	WeightedStake uint64
	Tier          Tier
	LockEndTime   int64
}

// UnstakeResult is returned by Engine.Unstake.
type UnstakeResult struct {
	RemainingStakedAmount uint64
	WeightedStake         uint64
	Tier                  Tier
}

// ClaimResult is returned by Engine.ClaimRewards.
type ClaimResult struct {
	ClaimedAmount uint64
	TotalClaimed  uint64
}

// PoolView is a read-only snapshot of a pool with its accumulator projected
// to the time of the read.
type PoolView struct {
	Pool *StakePool
	// ProjectedAccRewardPerWeighted includes emissions since LastAccrualTime.
	ProjectedAccRewardPerWeighted *uint256.Int
	AsOf                          int64
}

// PositionView is a read-only snapshot of a position with derived fields.
type PositionView struct {
	Position            *UserStake
	Tier                Tier
	FeeBps              uint64
	RewardMultiplierBps uint64
	LockState           LockState
	// PendingRewards includes rewards accrued since the last settlement.
	PendingRewards uint64
	AsOf           int64
}

// AuditReport compares the pool aggregates against a rescan of positions.
type AuditReport struct {
	Pool              PoolID
	Positions         int
	SumStaked         uint64
	SumWeighted       uint64
	PoolTotalStaked   uint64
	PoolTotalWeighted uint64
	Consistent        bool
}
