package staking

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stakeledger/core/events"
	"stakeledger/core/types"
	"stakeledger/crypto"
	nativecommon "stakeledger/native/common"
	"stakeledger/observability/metrics"
)

// Engine executes ledger operations against a Store. All state transitions
// read the clock once, mutate working copies, verify the ledger invariants
// and persist the result in a single atomic commit.
type Engine struct {
	store       Store
	pauses      nativecommon.PauseView
	schedule    TierSchedule
	policy      RelockPolicy
	authorities []crypto.Address
	clock       func() time.Time
	logger      *slog.Logger
	metrics     *metrics.StakingMetrics
	publisher   Publisher

	mu    sync.RWMutex
	pools map[PoolID]*poolLocks
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock used to timestamp operations.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.StakingMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTierSchedule replaces the default tier thresholds and fees.
func WithTierSchedule(schedule TierSchedule) Option {
	return func(e *Engine) { e.schedule = schedule }
}

// WithRelockPolicy selects how re-staking moves the lock end.
func WithRelockPolicy(policy RelockPolicy) Option {
	return func(e *Engine) { e.policy = policy }
}

// WithAuthorities lists the identities allowed to initialise pools.
func WithAuthorities(authorities ...crypto.Address) Option {
	return func(e *Engine) {
		e.authorities = append(e.authorities[:0:0], authorities...)
	}
}

// WithPublisher receives committed outbox records.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// NewEngine builds an engine over store.
func NewEngine(store Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	e := &Engine{
		store:    store,
		schedule: DefaultTierSchedule(),
		policy:   RelockReset,
		clock:    time.Now,
		logger:   slog.Default(),
		pools:    make(map[PoolID]*poolLocks),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.schedule.Validate(); err != nil {
		return nil, err
	}
	if !e.policy.Valid() {
		return nil, fmt.Errorf("%w: unknown relock policy %q", ErrInvalidConfiguration, e.policy)
	}
	return e, nil
}

// SetPauses wires the module-level pause toggles.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// TierSchedule returns the schedule the engine resolves tiers with.
func (e *Engine) TierSchedule() TierSchedule { return e.schedule }

func (e *Engine) now() int64 { return e.clock().Unix() }

func (e *Engine) isAuthority(caller crypto.Address) bool {
	if caller.IsZero() {
		return false
	}
	for _, authority := range e.authorities {
		if authority.Equal(caller) {
			return true
		}
	}
	return false
}

// locksFor returns the lock set of an existing pool.
func (e *Engine) locksFor(id PoolID) (*poolLocks, error) {
	e.mu.RLock()
	locks, ok := e.pools[id]
	e.mu.RUnlock()
	if ok {
		return locks, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if locks, ok = e.pools[id]; ok {
		return locks, nil
	}
	_, exists, err := e.store.LoadPool(id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrPoolNotFound
	}
	locks = &poolLocks{}
	e.pools[id] = locks
	return locks, nil
}

func (e *Engine) loadPool(id PoolID) (*StakePool, error) {
	pool, ok, err := e.store.LoadPool(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

func (e *Engine) loadPosition(pool *StakePool, owner crypto.Address) (*UserStake, bool, error) {
	pos, ok, err := e.store.LoadPosition(pool.ID, owner)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return newPosition(pool, owner), false, nil
	}
	return pos, true, nil
}

func (e *Engine) commit(pool *StakePool, positions []*UserStake, now int64, evts ...*types.Event) error {
	records, err := e.store.Commit(&Changeset{
		Pool:      pool,
		Positions: positions,
		Events:    evts,
		Timestamp: now,
	})
	if err != nil {
		return fmt.Errorf("staking: commit: %w", err)
	}
	e.metrics.RecordPool(pool.ID.String(), pool.TotalStaked, pool.TotalWeightedStake, pool.RewardReserve)
	if e.publisher != nil && len(records) > 0 {
		e.publisher.Publish(records...)
	}
	return nil
}

func (e *Engine) observe(op string, started time.Time, err *error) {
	e.metrics.ObserveOperation(op, Code(*err), time.Since(started))
}

// Initialize creates the pool for the asset pair. The caller must be one of
// the configured authorities and becomes the pool authority.
func (e *Engine) Initialize(caller crypto.Address, params InitializeParams) (pool *StakePool, err error) {
	defer e.observe("initialize", time.Now(), &err)
	if !e.isAuthority(caller) {
		return nil, ErrUnauthorized
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	id := DerivePoolID(params.StakeAsset, params.RewardAsset)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pools[id]; ok {
		return nil, ErrPoolExists
	}
	_, exists, err := e.store.LoadPool(id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrPoolExists
	}

	now := e.now()
	pool = &StakePool{
		ID:                   id,
		Authority:            caller,
		StakeAsset:           normalizeAsset(params.StakeAsset),
		RewardAsset:          normalizeAsset(params.RewardAsset),
		RewardRatePerSecond:  params.RewardRatePerSecond,
		MinLockDuration:      params.MinLockDuration,
		MaxLockDuration:      params.MaxLockDuration,
		LastAccrualTime:      now,
		AccRewardPerWeighted: cloneAcc(nil),
		RewardReserve:        params.InitialReserve,
		CreatedAt:            now,
	}
	evt := events.StakePoolInitialized{
		Pool:                id.String(),
		Authority:           caller,
		StakeAsset:          pool.StakeAsset,
		RewardAsset:         pool.RewardAsset,
		RewardRatePerSecond: pool.RewardRatePerSecond,
		MinLockDuration:     pool.MinLockDuration,
		MaxLockDuration:     pool.MaxLockDuration,
		InitialReserve:      pool.RewardReserve,
		Timestamp:           now,
	}.Event()
	if err := e.commit(pool, nil, now, evt); err != nil {
		return nil, err
	}
	e.pools[id] = &poolLocks{}
	e.logger.Info("staking pool initialized",
		slog.String("pool", id.String()),
		slog.String("stake_asset", pool.StakeAsset),
		slog.String("reward_asset", pool.RewardAsset),
		slog.Uint64("reward_rate", pool.RewardRatePerSecond))
	return pool.Clone(), nil
}

// Stake deposits amount into the owner's position with the requested lock.
// The whole position is re-weighted with the new lock and the lock end moves
// according to the relock policy.
func (e *Engine) Stake(id PoolID, owner crypto.Address, amount uint64, lockDuration int64) (result *StakeResult, err error) {
	defer e.observe("stake", time.Now(), &err)
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if lockDuration < 0 {
		return nil, ErrInvalidLockDuration
	}
	if owner.IsZero() {
		return nil, ErrInvalidOwner
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPoolPaused, err)
	}
	locks, err := e.locksFor(id)
	if err != nil {
		return nil, err
	}
	release := locks.positions.Lock(string(owner.Bytes()))
	defer release()
	locks.mu.Lock()
	defer locks.mu.Unlock()

	now := e.now()
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if pool.Paused {
		return nil, ErrPoolPaused
	}
	prev, _, err := e.loadPosition(pool, owner)
	if err != nil {
		return nil, err
	}
	nextPool, next := pool.Clone(), prev.Clone()
	if err := applyStake(nextPool, next, amount, lockDuration, now, e.policy); err != nil {
		return nil, err
	}
	if next.LockEndTime < now {
		return nil, violation("lock ends before now")
	}
	if err := verifyTransition(pool, nextPool, prev, next); err != nil {
		return nil, err
	}

	prevTier := prev.Tier(e.schedule)
	tier := next.Tier(e.schedule)
	evt := events.StakeStaked{
		Pool:          id.String(),
		Owner:         owner,
		Amount:        amount,
		LockDuration:  next.LockDuration,
		WeightedStake: next.WeightedStake,
		StakedAmount:  next.StakedAmount,
		LockEndTime:   next.LockEndTime,
		PreviousTier:  prevTier.String(),
		Tier:          tier.String(),
		Timestamp:     now,
	}.Event()
	if err := e.commit(nextPool, []*UserStake{next}, now, evt); err != nil {
		return nil, err
	}
	return &StakeResult{
		StakedAmount:  next.StakedAmount,
		WeightedStake: next.WeightedStake,
		Tier:          tier,
		LockEndTime:   next.LockEndTime,
	}, nil
}

// Unstake withdraws amount from an unlocked position.
func (e *Engine) Unstake(id PoolID, owner crypto.Address, amount uint64) (result *UnstakeResult, err error) {
	defer e.observe("unstake", time.Now(), &err)
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if owner.IsZero() {
		return nil, ErrInvalidOwner
	}
	locks, err := e.locksFor(id)
	if err != nil {
		return nil, err
	}
	release := locks.positions.Lock(string(owner.Bytes()))
	defer release()
	locks.mu.Lock()
	defer locks.mu.Unlock()

	now := e.now()
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	prev, _, err := e.loadPosition(pool, owner)
	if err != nil {
		return nil, err
	}
	nextPool, next := pool.Clone(), prev.Clone()
	removed, err := applyUnstake(nextPool, next, amount, now)
	if err != nil {
		return nil, err
	}
	if err := verifyTransition(pool, nextPool, prev, next); err != nil {
		return nil, err
	}

	prevTier := prev.Tier(e.schedule)
	tier := next.Tier(e.schedule)
	evt := events.StakeUnstaked{
		Pool:            id.String(),
		Owner:           owner,
		Amount:          amount,
		WeightedRemoved: removed,
		RemainingStake:  next.StakedAmount,
		PreviousTier:    prevTier.String(),
		Tier:            tier.String(),
		Timestamp:       now,
	}.Event()
	if err := e.commit(nextPool, []*UserStake{next}, now, evt); err != nil {
		return nil, err
	}
	return &UnstakeResult{
		RemainingStakedAmount: next.StakedAmount,
		WeightedStake:         next.WeightedStake,
		Tier:                  tier,
	}, nil
}

// ClaimRewards pays out every reward the position has accrued. Claiming with
// nothing pending succeeds with a zero amount and emits no event. Claims are
// never short-paid: an underfunded reserve rejects the whole claim.
func (e *Engine) ClaimRewards(id PoolID, owner crypto.Address) (result *ClaimResult, err error) {
	defer e.observe("claim", time.Now(), &err)
	if owner.IsZero() {
		return nil, ErrInvalidOwner
	}
	locks, err := e.locksFor(id)
	if err != nil {
		return nil, err
	}
	release := locks.positions.Lock(string(owner.Bytes()))
	defer release()
	locks.mu.Lock()
	defer locks.mu.Unlock()

	now := e.now()
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	prev, exists, err := e.loadPosition(pool, owner)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &ClaimResult{}, nil
	}
	nextPool, next := pool.Clone(), prev.Clone()
	amount, err := applyClaim(nextPool, next, now)
	if errors.Is(err, ErrInsufficientRewardReserve) {
		e.metrics.RecordReserveShortfall(id.String())
		e.logger.Error("staking reward reserve underfunded",
			slog.String("pool", id.String()),
			slog.String("owner", owner.String()),
			slog.Uint64("pending", next.PendingRewards),
			slog.Uint64("reserve", nextPool.RewardReserve))
	}
	if err != nil {
		return nil, err
	}
	if err := verifyTransition(pool, nextPool, prev, next); err != nil {
		return nil, err
	}

	var evts []*types.Event
	if amount > 0 {
		evts = append(evts, events.StakeRewardsClaimed{
			Pool:         id.String(),
			Owner:        owner,
			Amount:       amount,
			TotalClaimed: next.TotalClaimed,
			Timestamp:    now,
		}.Event())
	}
	if err := e.commit(nextPool, []*UserStake{next}, now, evts...); err != nil {
		return nil, err
	}
	e.metrics.AddRewardsPaid(id.String(), amount)
	return &ClaimResult{ClaimedAmount: amount, TotalClaimed: next.TotalClaimed}, nil
}

// SetPaused toggles the pool pause flag. Only the pool authority may call it.
// Paused pools reject new stakes; withdrawals and claims keep working.
func (e *Engine) SetPaused(id PoolID, caller crypto.Address, paused bool) (pool *StakePool, err error) {
	op := "resume"
	if paused {
		op = "pause"
	}
	defer e.observe(op, time.Now(), &err)
	return e.mutatePool(id, caller, func(pool *StakePool, now int64) (*types.Event, error) {
		if pool.Paused == paused {
			return nil, nil
		}
		pool.Paused = paused
		e.logger.Info("staking pool pause toggled",
			slog.String("pool", id.String()),
			slog.Bool("paused", paused))
		return events.StakePoolPaused{
			Pool:      id.String(),
			Authority: caller,
			Paused:    paused,
			Timestamp: now,
		}.Event(), nil
	})
}

// FundRewards adds amount to the pool's reward reserve.
func (e *Engine) FundRewards(id PoolID, caller crypto.Address, amount uint64) (pool *StakePool, err error) {
	defer e.observe("fund", time.Now(), &err)
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	return e.mutatePool(id, caller, func(pool *StakePool, now int64) (*types.Event, error) {
		reserve, err := checkedAdd(pool.RewardReserve, amount)
		if err != nil {
			return nil, err
		}
		pool.RewardReserve = reserve
		return events.StakeRewardsFunded{
			Pool:      id.String(),
			Funder:    caller,
			Amount:    amount,
			Reserve:   reserve,
			Timestamp: now,
		}.Event(), nil
	})
}

// SetRewardRate changes the emission rate. Emissions up to now are settled
// at the previous rate.
func (e *Engine) SetRewardRate(id PoolID, caller crypto.Address, rate uint64) (pool *StakePool, err error) {
	defer e.observe("rate", time.Now(), &err)
	return e.mutatePool(id, caller, func(pool *StakePool, now int64) (*types.Event, error) {
		if err := settlePool(pool, now); err != nil {
			return nil, err
		}
		previous := pool.RewardRatePerSecond
		pool.RewardRatePerSecond = rate
		return events.StakeRewardRateChanged{
			Pool:      id.String(),
			Authority: caller,
			Previous:  previous,
			Rate:      rate,
			Timestamp: now,
		}.Event(), nil
	})
}

// mutatePool runs an authority-only mutation under the pool lock. A nil
// event means the mutation was a no-op and nothing is committed.
func (e *Engine) mutatePool(id PoolID, caller crypto.Address, fn func(pool *StakePool, now int64) (*types.Event, error)) (*StakePool, error) {
	locks, err := e.locksFor(id)
	if err != nil {
		return nil, err
	}
	locks.mu.Lock()
	defer locks.mu.Unlock()

	now := e.now()
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if caller.IsZero() || !pool.Authority.Equal(caller) {
		return nil, ErrUnauthorized
	}
	next := pool.Clone()
	evt, err := fn(next, now)
	if err != nil {
		return nil, err
	}
	if evt == nil {
		return pool, nil
	}
	if err := e.commit(next, nil, now, evt); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Pool returns the pool with its accumulator projected to now.
func (e *Engine) Pool(id PoolID) (*PoolView, error) {
	locks, err := e.locksFor(id)
	if err != nil {
		return nil, err
	}
	locks.mu.Lock()
	defer locks.mu.Unlock()

	now := e.now()
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	acc, err := projectedAccumulator(pool, now)
	if err != nil {
		return nil, err
	}
	return &PoolView{Pool: pool, ProjectedAccRewardPerWeighted: acc, AsOf: now}, nil
}

// Position returns the owner's position with derived tier, fee, lock state
// and rewards pending as of now. Owners that never staked get an empty view.
func (e *Engine) Position(id PoolID, owner crypto.Address) (*PositionView, error) {
	if owner.IsZero() {
		return nil, ErrInvalidOwner
	}
	locks, err := e.locksFor(id)
	if err != nil {
		return nil, err
	}
	release := locks.positions.Lock(string(owner.Bytes()))
	defer release()
	locks.mu.Lock()
	defer locks.mu.Unlock()

	now := e.now()
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	pos, _, err := e.loadPosition(pool, owner)
	if err != nil {
		return nil, err
	}
	pending, err := PendingRewards(pool, pos, now)
	if err != nil {
		return nil, err
	}
	tier := pos.Tier(e.schedule)
	return &PositionView{
		Position:            pos,
		Tier:                tier,
		FeeBps:              e.schedule.Fee(tier),
		RewardMultiplierBps: e.schedule.RewardMultiplier(tier),
		LockState:           pos.LockStateAt(now),
		PendingRewards:      pending,
		AsOf:                now,
	}, nil
}

// Audit rescans every position of the pool and compares the sums with the
// pool aggregates. Mutations of the pool are blocked while it runs.
func (e *Engine) Audit(id PoolID) (report *AuditReport, err error) {
	defer e.observe("audit", time.Now(), &err)
	locks, err := e.locksFor(id)
	if err != nil {
		return nil, err
	}
	locks.mu.Lock()
	defer locks.mu.Unlock()

	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	report = &AuditReport{
		Pool:              id,
		PoolTotalStaked:   pool.TotalStaked,
		PoolTotalWeighted: pool.TotalWeightedStake,
	}
	overflow := false
	iterErr := e.store.IteratePositions(id, func(pos *UserStake) bool {
		report.Positions++
		staked, err := checkedAdd(report.SumStaked, pos.StakedAmount)
		if err != nil {
			overflow = true
			return false
		}
		weighted, err := checkedAdd(report.SumWeighted, pos.WeightedStake)
		if err != nil {
			overflow = true
			return false
		}
		report.SumStaked, report.SumWeighted = staked, weighted
		return true
	})
	if iterErr != nil {
		return nil, iterErr
	}
	report.Consistent = !overflow &&
		report.SumStaked == report.PoolTotalStaked &&
		report.SumWeighted == report.PoolTotalWeighted
	if !report.Consistent {
		e.logger.Error("staking pool audit mismatch",
			slog.String("pool", id.String()),
			slog.Uint64("sum_staked", report.SumStaked),
			slog.Uint64("total_staked", report.PoolTotalStaked),
			slog.Uint64("sum_weighted", report.SumWeighted),
			slog.Uint64("total_weighted", report.PoolTotalWeighted))
	}
	return report, nil
}
