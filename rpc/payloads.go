package rpc

import (
	"strconv"

	"stakeledger/native/staking"
)

type initializeRequest struct {
	Caller              string `json:"caller,omitempty"`
	StakeAsset          string `json:"stakeAsset"`
	RewardAsset         string `json:"rewardAsset"`
	RewardRatePerSecond string `json:"rewardRatePerSecond"`
	MinLockDuration     *int64 `json:"minLockDuration,omitempty"`
	MaxLockDuration     *int64 `json:"maxLockDuration,omitempty"`
	InitialReserve      string `json:"initialReserve,omitempty"`
}

type stakeRequest struct {
	Owner        string `json:"owner,omitempty"`
	Amount       string `json:"amount"`
	LockDuration int64  `json:"lockDuration"`
}

type unstakeRequest struct {
	Owner  string `json:"owner,omitempty"`
	Amount string `json:"amount"`
}

type claimRequest struct {
	Owner string `json:"owner,omitempty"`
}

type adminRequest struct {
	Caller string `json:"caller,omitempty"`
	Amount string `json:"amount,omitempty"`
	Rate   string `json:"rewardRatePerSecond,omitempty"`
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type healthPayload struct {
	Status        string `json:"status"`
	LastSequence  uint64 `json:"lastSequence"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

type poolPayload struct {
	ID                   string `json:"id"`
	Authority            string `json:"authority"`
	StakeAsset           string `json:"stakeAsset"`
	RewardAsset          string `json:"rewardAsset"`
	TotalStaked          string `json:"totalStaked"`
	TotalWeightedStake   string `json:"totalWeightedStake"`
	RewardRatePerSecond  string `json:"rewardRatePerSecond"`
	MinLockDuration      int64  `json:"minLockDuration"`
	MaxLockDuration      int64  `json:"maxLockDuration"`
	LastAccrualTime      int64  `json:"lastAccrualTime"`
	AccRewardPerWeighted string `json:"accRewardPerWeighted"`
	RewardReserve        string `json:"rewardReserve"`
	TotalRewardsPaid     string `json:"totalRewardsPaid"`
	Paused               bool   `json:"paused"`
	CreatedAt            int64  `json:"createdAt"`
	AsOf                 int64  `json:"asOf,omitempty"`
}

type positionPayload struct {
	Pool                string `json:"pool"`
	Owner               string `json:"owner"`
	StakedAmount        string `json:"stakedAmount"`
	WeightedStake       string `json:"weightedStake"`
	LockDuration        int64  `json:"lockDuration"`
	LockEndTime         int64  `json:"lockEndTime"`
	StakeStartTime      int64  `json:"stakeStartTime"`
	TotalClaimed        string `json:"totalClaimed"`
	PendingRewards      string `json:"pendingRewards"`
	Tier                string `json:"tier"`
	FeeBps              uint64 `json:"feeBps"`
	RewardMultiplierBps uint64 `json:"rewardMultiplierBps"`
	LockState           string `json:"lockState"`
	AsOf                int64  `json:"asOf"`
}

type stakePayload struct {
	StakedAmount  string `json:"stakedAmount"`
	WeightedStake string `json:"weightedStake"`
	Tier          string `json:"tier"`
	LockEndTime   int64  `json:"lockEndTime"`
}

type unstakePayload struct {
	RemainingStakedAmount string `json:"remainingStakedAmount"`
	WeightedStake         string `json:"weightedStake"`
	Tier                  string `json:"tier"`
}

type claimPayload struct {
	ClaimedAmount string `json:"claimedAmount"`
	TotalClaimed  string `json:"totalClaimed"`
}

type auditPayload struct {
	Pool              string `json:"pool"`
	Positions         int    `json:"positions"`
	SumStaked         string `json:"sumStaked"`
	SumWeighted       string `json:"sumWeighted"`
	PoolTotalStaked   string `json:"poolTotalStaked"`
	PoolTotalWeighted string `json:"poolTotalWeighted"`
	Consistent        bool   `json:"consistent"`
}

func formatAmount(v uint64) string { return strconv.FormatUint(v, 10) }

func poolPayloadFrom(pool *staking.StakePool) poolPayload {
	acc := "0"
	if pool.AccRewardPerWeighted != nil {
		acc = pool.AccRewardPerWeighted.Dec()
	}
	return poolPayload{
		ID:                   pool.ID.String(),
		Authority:            pool.Authority.String(),
		StakeAsset:           pool.StakeAsset,
		RewardAsset:          pool.RewardAsset,
		TotalStaked:          formatAmount(pool.TotalStaked),
		TotalWeightedStake:   formatAmount(pool.TotalWeightedStake),
		RewardRatePerSecond:  formatAmount(pool.RewardRatePerSecond),
		MinLockDuration:      pool.MinLockDuration,
		MaxLockDuration:      pool.MaxLockDuration,
		LastAccrualTime:      pool.LastAccrualTime,
		AccRewardPerWeighted: acc,
		RewardReserve:        formatAmount(pool.RewardReserve),
		TotalRewardsPaid:     formatAmount(pool.TotalRewardsPaid),
		Paused:               pool.Paused,
		CreatedAt:            pool.CreatedAt,
	}
}

func poolViewPayload(view *staking.PoolView) poolPayload {
	payload := poolPayloadFrom(view.Pool)
	if view.ProjectedAccRewardPerWeighted != nil {
		payload.AccRewardPerWeighted = view.ProjectedAccRewardPerWeighted.Dec()
	}
	payload.AsOf = view.AsOf
	return payload
}

func positionPayloadFrom(view *staking.PositionView) positionPayload {
	pos := view.Position
	return positionPayload{
		Pool:                pos.Pool.String(),
		Owner:               pos.Owner.String(),
		StakedAmount:        formatAmount(pos.StakedAmount),
		WeightedStake:       formatAmount(pos.WeightedStake),
		LockDuration:        pos.LockDuration,
		LockEndTime:         pos.LockEndTime,
		StakeStartTime:      pos.StakeStartTime,
		TotalClaimed:        formatAmount(pos.TotalClaimed),
		PendingRewards:      formatAmount(view.PendingRewards),
		Tier:                view.Tier.String(),
		FeeBps:              view.FeeBps,
		RewardMultiplierBps: view.RewardMultiplierBps,
		LockState:           string(view.LockState),
		AsOf:                view.AsOf,
	}
}

func auditPayloadFrom(report *staking.AuditReport) auditPayload {
	return auditPayload{
		Pool:              report.Pool.String(),
		Positions:         report.Positions,
		SumStaked:         formatAmount(report.SumStaked),
		SumWeighted:       formatAmount(report.SumWeighted),
		PoolTotalStaked:   formatAmount(report.PoolTotalStaked),
		PoolTotalWeighted: formatAmount(report.PoolTotalWeighted),
		Consistent:        report.Consistent,
	}
}
