package staking

import (
	"errors"

	nativecommon "stakeledger/native/common"
)

var (
	ErrPoolExists                = errors.New("staking: pool already initialized")
	ErrPoolNotFound              = errors.New("staking: pool not found")
	ErrPoolPaused                = errors.New("staking: pool paused")
	ErrInvalidAmount             = errors.New("staking: amount must be positive")
	ErrInvalidConfiguration      = errors.New("staking: invalid pool configuration")
	ErrInvalidLockDuration       = errors.New("staking: invalid lock duration")
	ErrInvalidOwner              = errors.New("staking: owner address required")
	ErrStillLocked               = errors.New("staking: position still locked")
	ErrInsufficientBalance       = errors.New("staking: insufficient staked balance")
	ErrInsufficientRewardReserve = errors.New("staking: insufficient reward reserve")
	ErrArithmeticOverflow        = errors.New("staking: arithmetic overflow")
	ErrUnauthorized              = errors.New("staking: unauthorized")
	ErrInvariantViolation        = errors.New("staking: invariant violation")
	ErrStoreUnavailable          = errors.New("staking: store not configured")
)

// Error codes surfaced to API clients.
const (
	CodePoolExists                = "POOL_EXISTS"
	CodePoolNotFound              = "POOL_NOT_FOUND"
	CodePoolPaused                = "POOL_PAUSED"
	CodeInvalidAmount             = "INVALID_AMOUNT"
	CodeInvalidConfiguration      = "INVALID_CONFIGURATION"
	CodeInvalidLockDuration       = "INVALID_LOCK_DURATION"
	CodeInvalidOwner              = "INVALID_OWNER"
	CodeStillLocked               = "STILL_LOCKED"
	CodeInsufficientBalance       = "INSUFFICIENT_BALANCE"
	CodeInsufficientRewardReserve = "INSUFFICIENT_REWARD_RESERVE"
	CodeArithmeticOverflow        = "ARITHMETIC_OVERFLOW"
	CodeUnauthorized              = "UNAUTHORIZED"
	CodeInvariantViolation        = "INVARIANT_VIOLATION"
	CodeInternal                  = "INTERNAL"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrPoolExists, CodePoolExists},
	{ErrPoolNotFound, CodePoolNotFound},
	{ErrPoolPaused, CodePoolPaused},
	{nativecommon.ErrModulePaused, CodePoolPaused},
	{ErrInvalidAmount, CodeInvalidAmount},
	{ErrInvalidConfiguration, CodeInvalidConfiguration},
	{ErrInvalidLockDuration, CodeInvalidLockDuration},
	{ErrInvalidOwner, CodeInvalidOwner},
	{ErrStillLocked, CodeStillLocked},
	{ErrInsufficientBalance, CodeInsufficientBalance},
	{ErrInsufficientRewardReserve, CodeInsufficientRewardReserve},
	{ErrArithmeticOverflow, CodeArithmeticOverflow},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrInvariantViolation, CodeInvariantViolation},
}

// Code maps a ledger error onto its stable API code. Unknown errors map to
// CodeInternal and nil maps to the empty string.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}
