package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"stakeledger/crypto"
	"stakeledger/gateway/middleware"
	"stakeledger/native/staking"
)

const codeInvalidRequest = "INVALID_REQUEST"

var errInvalidRequest = errors.New("invalid request")

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, err := s.resolveIdentity(r, req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rate, err := parseAmount(req.RewardRatePerSecond, true)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: rewardRatePerSecond: %v", staking.ErrInvalidConfiguration, err))
		return
	}
	reserve, err := parseAmount(req.InitialReserve, true)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: initialReserve: %v", staking.ErrInvalidConfiguration, err))
		return
	}
	params := staking.InitializeParams{
		StakeAsset:          req.StakeAsset,
		RewardAsset:         req.RewardAsset,
		RewardRatePerSecond: rate,
		MinLockDuration:     staking.DefaultMinLockDuration,
		MaxLockDuration:     staking.DefaultMaxLockDuration,
		InitialReserve:      reserve,
	}
	if req.MinLockDuration != nil {
		params.MinLockDuration = *req.MinLockDuration
	}
	if req.MaxLockDuration != nil {
		params.MaxLockDuration = *req.MaxLockDuration
	}
	pool, err := s.ledger.Initialize(caller, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, poolPayloadFrom(pool))
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := s.poolParam(w, r)
	if !ok {
		return
	}
	view, err := s.ledger.Pool(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poolViewPayload(view))
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := s.poolParam(w, r)
	if !ok {
		return
	}
	owner, err := crypto.DecodeAddress(strings.TrimSpace(chi.URLParam(r, "owner")))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", staking.ErrInvalidOwner, err))
		return
	}
	view, err := s.ledger.Position(id, owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positionPayloadFrom(view))
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	id, ok := s.poolParam(w, r)
	if !ok {
		return
	}
	var req stakeRequest
	if !s.decode(w, r, &req) {
		return
	}
	owner, err := s.resolveIdentity(r, req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount, false)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", staking.ErrInvalidAmount, err))
		return
	}
	result, err := s.ledger.Stake(id, owner, amount, req.LockDuration)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stakePayload{
		StakedAmount:  formatAmount(result.StakedAmount),
		WeightedStake: formatAmount(result.WeightedStake),
		Tier:          result.Tier.String(),
		LockEndTime:   result.LockEndTime,
	})
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	id, ok := s.poolParam(w, r)
	if !ok {
		return
	}
	var req unstakeRequest
	if !s.decode(w, r, &req) {
		return
	}
	owner, err := s.resolveIdentity(r, req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount, false)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", staking.ErrInvalidAmount, err))
		return
	}
	result, err := s.ledger.Unstake(id, owner, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unstakePayload{
		RemainingStakedAmount: formatAmount(result.RemainingStakedAmount),
		WeightedStake:         formatAmount(result.WeightedStake),
		Tier:                  result.Tier.String(),
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := s.poolParam(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}
	owner, err := s.resolveIdentity(r, req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.ledger.ClaimRewards(id, owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimPayload{
		ClaimedAmount: formatAmount(result.ClaimedAmount),
		TotalClaimed:  formatAmount(result.TotalClaimed),
	})
}

func (s *Server) handlePause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.poolParam(w, r)
		if !ok {
			return
		}
		var req adminRequest
		if !s.decode(w, r, &req) {
			return
		}
		caller, err := s.resolveIdentity(r, req.Caller)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		pool, err := s.ledger.SetPaused(id, caller, paused)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, poolPayloadFrom(pool))
	}
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	id, ok := s.poolParam(w, r)
	if !ok {
		return
	}
	var req adminRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, err := s.resolveIdentity(r, req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount, false)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", staking.ErrInvalidAmount, err))
		return
	}
	pool, err := s.ledger.FundRewards(id, caller, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poolPayloadFrom(pool))
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.poolParam(w, r)
	if !ok {
		return
	}
	var req adminRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, err := s.resolveIdentity(r, req.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rate, err := parseAmount(req.Rate, true)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: rewardRatePerSecond: %v", staking.ErrInvalidConfiguration, err))
		return
	}
	pool, err := s.ledger.SetRewardRate(id, caller, rate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poolPayloadFrom(pool))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.poolParam(w, r)
	if !ok {
		return
	}
	report, err := s.ledger.Audit(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auditPayloadFrom(report))
}

// resolveIdentity returns the address an operation acts for. With auth
// enabled the token subject is authoritative and a conflicting claimed
// address is rejected; otherwise the claimed address is used as is.
func (s *Server) resolveIdentity(r *http.Request, claimed string) (crypto.Address, error) {
	claimed = strings.TrimSpace(claimed)
	if s.auth.Enabled() {
		subject, ok := middleware.Subject(r.Context())
		if !ok {
			return crypto.Address{}, fmt.Errorf("%w: token has no subject", staking.ErrUnauthorized)
		}
		if claimed != "" && claimed != subject {
			return crypto.Address{}, fmt.Errorf("%w: token subject does not match %s", staking.ErrUnauthorized, claimed)
		}
		claimed = subject
	}
	if claimed == "" {
		return crypto.Address{}, staking.ErrInvalidOwner
	}
	addr, err := crypto.DecodeAddress(claimed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", staking.ErrInvalidOwner, err)
	}
	return addr, nil
}

func (s *Server) poolParam(w http.ResponseWriter, r *http.Request) (staking.PoolID, bool) {
	id, err := staking.ParsePoolID(chi.URLParam(r, "pool"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: pool id: %v", errInvalidRequest, err))
		return staking.PoolID{}, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return false
	}
	return true
}

// parseAmount parses a base-unit decimal string. Empty input is zero when
// allowEmpty is set.
func parseAmount(raw string, allowEmpty bool) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if allowEmpty {
			return 0, nil
		}
		return 0, errors.New("amount is required")
	}
	value, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", trimmed)
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("staking request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", code),
			slog.Any("error", err))
		if code == staking.CodeInternal {
			message = "internal error"
		}
	}
	writeJSON(w, status, errorResponse{Code: code, Error: message})
}

func statusFor(err error) (int, string) {
	if errors.Is(err, errInvalidRequest) {
		return http.StatusBadRequest, codeInvalidRequest
	}
	code := staking.Code(err)
	switch code {
	case staking.CodeInvalidAmount, staking.CodeInvalidConfiguration,
		staking.CodeInvalidLockDuration, staking.CodeInvalidOwner:
		return http.StatusBadRequest, code
	case staking.CodeUnauthorized:
		return http.StatusForbidden, code
	case staking.CodePoolNotFound:
		return http.StatusNotFound, code
	case staking.CodePoolExists, staking.CodePoolPaused, staking.CodeStillLocked:
		return http.StatusConflict, code
	case staking.CodeInsufficientBalance, staking.CodeInsufficientRewardReserve,
		staking.CodeArithmeticOverflow:
		return http.StatusUnprocessableEntity, code
	default:
		return http.StatusInternalServerError, code
	}
}
