package events

import (
	"strconv"

	"stakeledger/core/types"
	"stakeledger/crypto"
)

const (
	// TypeStakePoolInitialized is emitted once when a pool is created.
	TypeStakePoolInitialized = "stake.poolInitialized"
	// TypeStakeStaked captures a deposit into a time-locked position.
	TypeStakeStaked = "stake.staked"
	// TypeStakeUnstaked captures a withdrawal from an unlocked position.
	TypeStakeUnstaked = "stake.unstaked"
	// TypeStakeRewardsClaimed is emitted when accrued rewards are paid out.
	TypeStakeRewardsClaimed = "stake.rewardsClaimed"
	// TypeStakePoolPaused is emitted when the authority toggles the pool pause flag.
	TypeStakePoolPaused = "stake.poolPaused"
	// TypeStakeRewardsFunded is emitted when the reward reserve is topped up.
	TypeStakeRewardsFunded = "stake.rewardsFunded"
	// TypeStakeRewardRateChanged is emitted when the emission rate is updated.
	TypeStakeRewardRateChanged = "stake.rewardRateChanged"
)

// StakePoolInitialized describes a freshly created pool.
type StakePoolInitialized struct {
	Pool                string
	Authority           crypto.Address
	StakeAsset          string
	RewardAsset         string
	RewardRatePerSecond uint64
	MinLockDuration     int64
	MaxLockDuration     int64
	InitialReserve      uint64
	Timestamp           int64
}

// EventType satisfies the Event interface.
func (StakePoolInitialized) EventType() string { return TypeStakePoolInitialized }

// Event converts the structured payload into a broadcastable event.
func (e StakePoolInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeStakePoolInitialized,
		Attributes: map[string]string{
			"pool":                e.Pool,
			"authority":           e.Authority.String(),
			"stakeAsset":          normalizeAsset(e.StakeAsset),
			"rewardAsset":         normalizeAsset(e.RewardAsset),
			"rewardRatePerSecond": formatUint(e.RewardRatePerSecond),
			"minLockDuration":     intToString(e.MinLockDuration),
			"maxLockDuration":     intToString(e.MaxLockDuration),
			"initialReserve":      formatUint(e.InitialReserve),
			"timestamp":           intToString(e.Timestamp),
		},
	}
}

// StakeStaked captures the state of a position after a deposit.
type StakeStaked struct {
	Pool          string
	Owner         crypto.Address
	Amount        uint64
	LockDuration  int64
	WeightedStake uint64
	StakedAmount  uint64
	LockEndTime   int64
	PreviousTier  string
	Tier          string
	Timestamp     int64
}

// EventType satisfies the Event interface.
func (StakeStaked) EventType() string { return TypeStakeStaked }

// Event converts the structured payload into a broadcastable event.
func (e StakeStaked) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeStaked,
		Attributes: map[string]string{
			"pool":          e.Pool,
			"owner":         e.Owner.String(),
			"amount":        formatUint(e.Amount),
			"lockDuration":  intToString(e.LockDuration),
			"weightedStake": formatUint(e.WeightedStake),
			"stakedAmount":  formatUint(e.StakedAmount),
			"lockEndTime":   intToString(e.LockEndTime),
			"previousTier":  e.PreviousTier,
			"tier":          e.Tier,
			"timestamp":     intToString(e.Timestamp),
		},
	}
}

// StakeUnstaked captures the state of a position after a withdrawal.
type StakeUnstaked struct {
	Pool            string
	Owner           crypto.Address
	Amount          uint64
	WeightedRemoved uint64
	RemainingStake  uint64
	PreviousTier    string
	Tier            string
	Timestamp       int64
}

// EventType satisfies the Event interface.
func (StakeUnstaked) EventType() string { return TypeStakeUnstaked }

// Event converts the structured payload into a broadcastable event.
func (e StakeUnstaked) Event() *types.Event {
	attrs := map[string]string{
		"pool":            e.Pool,
		"owner":           e.Owner.String(),
		"amount":          formatUint(e.Amount),
		"weightedRemoved": formatUint(e.WeightedRemoved),
		"remainingStake":  formatUint(e.RemainingStake),
		"tier":            e.Tier,
		"timestamp":       intToString(e.Timestamp),
	}
	if e.PreviousTier != "" && e.PreviousTier != e.Tier {
		attrs["previousTier"] = e.PreviousTier
	}
	return &types.Event{Type: TypeStakeUnstaked, Attributes: attrs}
}

// StakeRewardsClaimed records a reward payout to a position owner.
type StakeRewardsClaimed struct {
	Pool         string
	Owner        crypto.Address
	Amount       uint64
	TotalClaimed uint64
	Timestamp    int64
}

// EventType satisfies the Event interface.
func (StakeRewardsClaimed) EventType() string { return TypeStakeRewardsClaimed }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardsClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeRewardsClaimed,
		Attributes: map[string]string{
			"pool":         e.Pool,
			"owner":        e.Owner.String(),
			"amount":       formatUint(e.Amount),
			"totalClaimed": formatUint(e.TotalClaimed),
			"timestamp":    intToString(e.Timestamp),
		},
	}
}

// StakePoolPaused records a pause toggle by the pool authority.
type StakePoolPaused struct {
	Pool      string
	Authority crypto.Address
	Paused    bool
	Timestamp int64
}

// EventType satisfies the Event interface.
func (StakePoolPaused) EventType() string { return TypeStakePoolPaused }

// Event converts the structured payload into a broadcastable event.
func (e StakePoolPaused) Event() *types.Event {
	return &types.Event{
		Type: TypeStakePoolPaused,
		Attributes: map[string]string{
			"pool":      e.Pool,
			"authority": e.Authority.String(),
			"paused":    strconv.FormatBool(e.Paused),
			"timestamp": intToString(e.Timestamp),
		},
	}
}

// StakeRewardsFunded records a reward reserve top-up.
type StakeRewardsFunded struct {
	Pool      string
	Funder    crypto.Address
	Amount    uint64
	Reserve   uint64
	Timestamp int64
}

// EventType satisfies the Event interface.
func (StakeRewardsFunded) EventType() string { return TypeStakeRewardsFunded }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardsFunded) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeRewardsFunded,
		Attributes: map[string]string{
			"pool":      e.Pool,
			"funder":    e.Funder.String(),
			"amount":    formatUint(e.Amount),
			"reserve":   formatUint(e.Reserve),
			"timestamp": intToString(e.Timestamp),
		},
	}
}

// StakeRewardRateChanged records an emission rate update.
type StakeRewardRateChanged struct {
	Pool      string
	Authority crypto.Address
	Previous  uint64
	Rate      uint64
	Timestamp int64
}

// EventType satisfies the Event interface.
func (StakeRewardRateChanged) EventType() string { return TypeStakeRewardRateChanged }

// Event converts the structured payload into a broadcastable event.
func (e StakeRewardRateChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeRewardRateChanged,
		Attributes: map[string]string{
			"pool":      e.Pool,
			"authority": e.Authority.String(),
			"previous":  formatUint(e.Previous),
			"rate":      formatUint(e.Rate),
			"timestamp": intToString(e.Timestamp),
		},
	}
}
