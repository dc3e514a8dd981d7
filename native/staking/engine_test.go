package staking

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"testing"

	"stakeledger/core/events"
	"stakeledger/crypto"
)

func TestInitializeValidation(t *testing.T) {
	store := newMockStore()
	engine, err := NewEngine(store, WithAuthorities(testAuthority))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	if _, err := engine.Initialize(alice, defaultPoolParams()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	bad := defaultPoolParams()
	bad.MinLockDuration = bad.MaxLockDuration
	if _, err := engine.Initialize(testAuthority, bad); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}

	pool, err := engine.Initialize(testAuthority, defaultPoolParams())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if pool.ID != DerivePoolID("KR8", "KR8R") {
		t.Fatalf("pool id not derived from the asset pair")
	}
	if _, err := engine.Initialize(testAuthority, defaultPoolParams()); !errors.Is(err, ErrPoolExists) {
		t.Fatalf("expected pool exists, got %v", err)
	}
	if got := store.eventTypes(); !reflect.DeepEqual(got, []string{events.TypeStakePoolInitialized}) {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestNewEngineRejectsUnknownRelockPolicy(t *testing.T) {
	if _, err := NewEngine(newMockStore(), WithRelockPolicy("sometimes")); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
	if _, err := NewEngine(nil); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestStakeNinetyDayExample(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	res := h.stake(t, alice, 1_000, 90*day)
	if res.StakedAmount != 1_000 || res.WeightedStake != 1_231 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Tier != TierHolder {
		t.Fatalf("tier = %s, want HOLDER", res.Tier)
	}
	if res.LockEndTime != startUnix+90*day {
		t.Fatalf("lock end = %d", res.LockEndTime)
	}

	view, err := h.engine.Position(h.pool, alice)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if view.FeeBps != 400 || view.LockState != LockStateLocked {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Position.StakeStartTime != startUnix {
		t.Fatalf("stake start = %d", view.Position.StakeStartTime)
	}

	poolView, err := h.engine.Pool(h.pool)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if poolView.Pool.TotalStaked != 1_000 || poolView.Pool.TotalWeightedStake != 1_231 {
		t.Fatalf("unexpected pool totals %+v", poolView.Pool)
	}
}

func TestStakeRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	if _, err := h.engine.Stake(h.pool, alice, 0, 30*day); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := h.engine.Stake(h.pool, alice, 10, -1); !errors.Is(err, ErrInvalidLockDuration) {
		t.Fatalf("expected invalid lock, got %v", err)
	}
	if _, err := h.engine.Stake(PoolID{1}, alice, 10, 30*day); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("expected pool not found, got %v", err)
	}
	if _, err := h.engine.Stake(h.pool, crypto.Address{}, 10, 30*day); !errors.Is(err, ErrInvalidOwner) {
		t.Fatalf("expected invalid owner, got %v", err)
	}
}

func TestStakeClampsLockIntoPoolRange(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	res := h.stake(t, alice, 1_000, 1)
	if res.WeightedStake != 1_000 || res.LockEndTime != startUnix+DefaultMinLockDuration {
		t.Fatalf("short lock not clamped: %+v", res)
	}
	res = h.stake(t, bob, 1_000, 10*DefaultMaxLockDuration)
	if res.WeightedStake != 2_000 || res.LockEndTime != startUnix+DefaultMaxLockDuration {
		t.Fatalf("long lock not clamped: %+v", res)
	}
}

func TestUnstakeEnforcesLock(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	h.stake(t, alice, 1_000, 90*day)

	if _, err := h.engine.Unstake(h.pool, alice, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	h.clock.Advance(90*day - 1)
	if _, err := h.engine.Unstake(h.pool, alice, 100); !errors.Is(err, ErrStillLocked) {
		t.Fatalf("expected still locked, got %v", err)
	}
	h.clock.Advance(1)
	if _, err := h.engine.Unstake(h.pool, alice, 1_001); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	res, err := h.engine.Unstake(h.pool, alice, 400)
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if res.RemainingStakedAmount != 600 || res.WeightedStake != 738 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Tier != TierNone {
		t.Fatalf("tier = %s, want NONE", res.Tier)
	}

	res, err = h.engine.Unstake(h.pool, alice, 600)
	if err != nil {
		t.Fatalf("unstake rest: %v", err)
	}
	if res.RemainingStakedAmount != 0 || res.WeightedStake != 0 {
		t.Fatalf("position not emptied: %+v", res)
	}
	view, err := h.engine.Pool(h.pool)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if view.Pool.TotalStaked != 0 || view.Pool.TotalWeightedStake != 0 {
		t.Fatalf("pool totals not drained: %+v", view.Pool)
	}
}

func TestUnstakeWithoutPosition(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	if _, err := h.engine.Unstake(h.pool, bob, 1); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestRestakeRebasesLock(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	h.stake(t, alice, 1_000, DefaultMaxLockDuration)
	h.clock.Advance(10 * day)

	res := h.stake(t, alice, 1, DefaultMinLockDuration)
	want := startUnix + 10*day + DefaultMinLockDuration
	if res.LockEndTime != want {
		t.Fatalf("lock end = %d, want %d", res.LockEndTime, want)
	}
	if res.WeightedStake != 1_001 {
		t.Fatalf("weighted = %d, want 1001", res.WeightedStake)
	}

	h.clock.Advance(DefaultMinLockDuration)
	if _, err := h.engine.Unstake(h.pool, alice, 1_001); err != nil {
		t.Fatalf("unstake after re-based lock: %v", err)
	}
}

func TestRestakeExtendPolicyKeepsLaterLock(t *testing.T) {
	h := newHarness(t, defaultPoolParams(), WithRelockPolicy(RelockExtend))
	h.stake(t, alice, 1_000, DefaultMaxLockDuration)
	h.clock.Advance(10 * day)

	res := h.stake(t, alice, 1, DefaultMinLockDuration)
	if res.LockEndTime != startUnix+DefaultMaxLockDuration {
		t.Fatalf("lock end = %d, want original end", res.LockEndTime)
	}
	if res.WeightedStake != 1_001 {
		t.Fatalf("weighted = %d, want 1001", res.WeightedStake)
	}
}

func TestRewardConservationExact(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	h.stake(t, alice, 1_000, DefaultMinLockDuration)
	h.stake(t, bob, 3_000, DefaultMaxLockDuration)

	h.clock.Advance(700)
	a := h.claim(t, alice)
	b := h.claim(t, bob)
	if a != 10_000 || b != 60_000 {
		t.Fatalf("claims = %d, %d; want 10000, 60000", a, b)
	}
	view, err := h.engine.Pool(h.pool)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if view.Pool.TotalRewardsPaid != 70_000 {
		t.Fatalf("paid = %d", view.Pool.TotalRewardsPaid)
	}
	if view.Pool.RewardReserve != defaultPoolParams().InitialReserve-70_000 {
		t.Fatalf("reserve = %d", view.Pool.RewardReserve)
	}
}

func TestRewardConservationWithRounding(t *testing.T) {
	params := defaultPoolParams()
	params.RewardRatePerSecond = 7
	h := newHarness(t, params)

	owners := make([]crypto.Address, 5)
	for i := range owners {
		owners[i] = makeAddress(crypto.StakerPrefix, byte(0x10+i))
	}
	var emitted, claimed uint64
	elapsedWithStake := int64(0)
	for round, owner := range owners {
		h.stake(t, owner, uint64(1_333+round*977), int64(round+1)*37*day)
		h.clock.Advance(3_601)
		elapsedWithStake += 3_601
	}
	h.clock.Advance(86_399)
	elapsedWithStake += 86_399
	emitted = uint64(elapsedWithStake) * params.RewardRatePerSecond

	for _, owner := range owners {
		claimed += h.claim(t, owner)
	}
	if claimed > emitted {
		t.Fatalf("claimed %d exceeds emitted %d", claimed, emitted)
	}
	// Each settlement floors once per position, plus accumulator truncation.
	if emitted-claimed > uint64(len(owners)*len(owners)+len(owners)) {
		t.Fatalf("rounding loss too large: emitted %d claimed %d", emitted, claimed)
	}
}

func TestRewardsIgnoreIntervalsWithoutStake(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	h.clock.Advance(1_000)
	h.stake(t, alice, 1_000, DefaultMinLockDuration)
	h.clock.Advance(10)
	if got := h.claim(t, alice); got != 1_000 {
		t.Fatalf("claimed %d, want 1000", got)
	}
}

func TestClaimIsIdempotent(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	h.stake(t, alice, 1_000, DefaultMinLockDuration)
	h.clock.Advance(50)
	if got := h.claim(t, alice); got != 5_000 {
		t.Fatalf("first claim = %d", got)
	}
	before := len(h.store.eventTypes())
	if got := h.claim(t, alice); got != 0 {
		t.Fatalf("second claim = %d, want 0", got)
	}
	if after := len(h.store.eventTypes()); after != before {
		t.Fatalf("zero claim emitted an event")
	}

	res, err := h.engine.ClaimRewards(h.pool, bob)
	if err != nil || res.ClaimedAmount != 0 {
		t.Fatalf("claim without position = %+v, %v", res, err)
	}
}

func TestClaimRejectsUnderfundedReserve(t *testing.T) {
	params := defaultPoolParams()
	params.InitialReserve = 100
	h := newHarness(t, params)
	h.stake(t, alice, 1_000, DefaultMinLockDuration)
	h.clock.Advance(10)

	if _, err := h.engine.ClaimRewards(h.pool, alice); !errors.Is(err, ErrInsufficientRewardReserve) {
		t.Fatalf("expected insufficient reserve, got %v", err)
	}
	view, err := h.engine.Position(h.pool, alice)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if view.PendingRewards != 1_000 {
		t.Fatalf("pending after failed claim = %d", view.PendingRewards)
	}

	if _, err := h.engine.FundRewards(h.pool, testAuthority, 900); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if got := h.claim(t, alice); got != 1_000 {
		t.Fatalf("claim after funding = %d", got)
	}
}

func TestClaimAfterFullUnstake(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	h.stake(t, alice, 1_000, DefaultMinLockDuration)
	h.clock.Advance(DefaultMinLockDuration)
	if _, err := h.engine.Unstake(h.pool, alice, 1_000); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	h.clock.Advance(100)
	want := uint64(DefaultMinLockDuration) * 100
	if got := h.claim(t, alice); got != want {
		t.Fatalf("claim = %d, want %d", got, want)
	}
}

func TestPausedPoolAllowsExit(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	h.stake(t, alice, 1_000, DefaultMinLockDuration)

	if _, err := h.engine.SetPaused(h.pool, alice, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	pool, err := h.engine.SetPaused(h.pool, testAuthority, true)
	if err != nil || !pool.Paused {
		t.Fatalf("pause: %+v, %v", pool, err)
	}
	if _, err := h.engine.Stake(h.pool, bob, 10, DefaultMinLockDuration); !errors.Is(err, ErrPoolPaused) {
		t.Fatalf("expected paused, got %v", err)
	}

	h.clock.Advance(DefaultMinLockDuration)
	if _, err := h.engine.Unstake(h.pool, alice, 1_000); err != nil {
		t.Fatalf("unstake while paused: %v", err)
	}
	if h.claim(t, alice) == 0 {
		t.Fatalf("claim while paused paid nothing")
	}

	if _, err := h.engine.SetPaused(h.pool, testAuthority, false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	h.stake(t, bob, 10, DefaultMinLockDuration)
}

func TestModulePauseBlocksStake(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	h.engine.SetPauses(staticPauses{ModuleName: true})
	_, err := h.engine.Stake(h.pool, alice, 10, DefaultMinLockDuration)
	if !errors.Is(err, ErrPoolPaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	if Code(err) != CodePoolPaused {
		t.Fatalf("code = %s", Code(err))
	}
}

func TestSetRewardRateSettlesAtPreviousRate(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	h.stake(t, alice, 1_000, DefaultMinLockDuration)
	h.clock.Advance(10)
	if _, err := h.engine.SetRewardRate(h.pool, bob, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := h.engine.SetRewardRate(h.pool, testAuthority, 1); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	h.clock.Advance(10)
	if got := h.claim(t, alice); got != 10*100+10*1 {
		t.Fatalf("claim = %d, want 1010", got)
	}
}

func TestFundRewardsValidation(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	if _, err := h.engine.FundRewards(h.pool, testAuthority, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := h.engine.FundRewards(h.pool, testAuthority, ^uint64(0)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestCommitFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	h.stake(t, alice, 1_000, DefaultMinLockDuration)
	h.store.commitErr = errors.New("disk full")

	if _, err := h.engine.Stake(h.pool, alice, 500, DefaultMaxLockDuration); err == nil {
		t.Fatalf("expected commit error")
	}
	h.store.commitErr = nil
	view, err := h.engine.Position(h.pool, alice)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if view.Position.StakedAmount != 1_000 || view.Position.WeightedStake != 1_000 {
		t.Fatalf("state changed after failed commit: %+v", view.Position)
	}
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	publisher := &recordingPublisher{}
	h := newHarness(t, defaultPoolParams(), WithPublisher(publisher))
	h.stake(t, alice, 1_000, 90*day)
	h.clock.Advance(90 * day)
	if _, err := h.engine.Unstake(h.pool, alice, 1_000); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	h.claim(t, alice)

	want := []string{
		events.TypeStakePoolInitialized,
		events.TypeStakeStaked,
		events.TypeStakeUnstaked,
		events.TypeStakeRewardsClaimed,
	}
	if got := h.store.eventTypes(); !reflect.DeepEqual(got, want) {
		t.Fatalf("outbox = %v, want %v", got, want)
	}
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.records) != len(want) {
		t.Fatalf("published %d records", len(publisher.records))
	}
	for i, rec := range publisher.records {
		if rec.Sequence != uint64(i+1) {
			t.Fatalf("record %d has sequence %d", i, rec.Sequence)
		}
	}
	staked := publisher.records[1].Event.Attributes
	if staked["previousTier"] != "NONE" || staked["tier"] != "HOLDER" || staked["weightedStake"] != "1231" {
		t.Fatalf("unexpected staked attributes %v", staked)
	}
}

func TestConcurrentStakesKeepTotalsConsistent(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	const owners = 16
	const rounds = 20

	var wg sync.WaitGroup
	errs := make(chan error, owners*rounds)
	for i := 0; i < owners; i++ {
		owner := makeAddress(crypto.StakerPrefix, byte(0x40+i))
		wg.Add(1)
		go func(owner crypto.Address, i int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				if _, err := h.engine.Stake(h.pool, owner, uint64(100+i), int64(i+1)*day*7); err != nil {
					errs <- fmt.Errorf("owner %d round %d: %w", i, r, err)
					return
				}
				if _, err := h.engine.ClaimRewards(h.pool, owner); err != nil {
					errs <- err
					return
				}
			}
		}(owner, i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent operation failed: %v", err)
	}

	report, err := h.engine.Audit(h.pool)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !report.Consistent || report.Positions != owners {
		t.Fatalf("audit report %+v", report)
	}
	var wantStaked uint64
	for i := 0; i < owners; i++ {
		wantStaked += uint64((100 + i) * rounds)
	}
	if report.PoolTotalStaked != wantStaked {
		t.Fatalf("total staked = %d, want %d", report.PoolTotalStaked, wantStaked)
	}
}

func TestConcurrentOperationsOnOnePositionPayOnce(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	h.stake(t, alice, 1_000, DefaultMinLockDuration)
	h.stake(t, bob, 1_000, DefaultMinLockDuration)
	h.clock.Advance(DefaultMinLockDuration + 60)

	const (
		rounds  = 5
		workers = 16
		unstake = 10
	)
	var (
		mu      sync.Mutex
		claimed uint64
	)
	errs := make(chan error, rounds*workers)
	for r := 0; r < rounds; r++ {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					if _, err := h.engine.Unstake(h.pool, alice, unstake); err != nil {
						errs <- fmt.Errorf("unstake: %w", err)
					}
					return
				}
				res, err := h.engine.ClaimRewards(h.pool, alice)
				if err != nil {
					errs <- fmt.Errorf("claim: %w", err)
					return
				}
				mu.Lock()
				claimed += res.ClaimedAmount
				mu.Unlock()
			}(i)
		}
		wg.Wait()
		h.clock.Advance(60)
	}
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent operation failed: %v", err)
	}

	var emitted uint64
	h.store.mu.Lock()
	for _, rec := range h.store.outbox {
		if rec.Event.Type != events.TypeStakeRewardsClaimed {
			continue
		}
		if rec.Event.Attributes["owner"] != alice.String() {
			t.Fatalf("unexpected claim for %s", rec.Event.Attributes["owner"])
		}
		amount, err := strconv.ParseUint(rec.Event.Attributes["amount"], 10, 64)
		if err != nil {
			t.Fatalf("parse amount: %v", err)
		}
		emitted += amount
	}
	h.store.mu.Unlock()
	if claimed == 0 || claimed != emitted {
		t.Fatalf("paid %d, events report %d", claimed, emitted)
	}

	view, err := h.engine.Position(h.pool, alice)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	wantStaked := uint64(1_000 - rounds*(workers/2)*unstake)
	if view.Position.StakedAmount != wantStaked || view.Position.TotalClaimed != claimed {
		t.Fatalf("position %+v, want staked %d claimed %d", view.Position, wantStaked, claimed)
	}
	poolView, err := h.engine.Pool(h.pool)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if poolView.Pool.TotalRewardsPaid != claimed || poolView.Pool.RewardReserve != defaultPoolParams().InitialReserve-claimed {
		t.Fatalf("pool paid %d reserve %d, claimed %d", poolView.Pool.TotalRewardsPaid, poolView.Pool.RewardReserve, claimed)
	}

	report, err := h.engine.Audit(h.pool)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !report.Consistent || report.PoolTotalStaked != wantStaked+1_000 {
		t.Fatalf("audit report %+v", report)
	}
}

func TestAuditDetectsDrift(t *testing.T) {
	h := newHarness(t, defaultPoolParams())
	h.stake(t, alice, 1_000, DefaultMinLockDuration)

	h.store.mu.Lock()
	h.store.pools[h.pool].TotalStaked++
	h.store.mu.Unlock()

	report, err := h.engine.Audit(h.pool)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if report.Consistent {
		t.Fatalf("expected drift to be reported: %+v", report)
	}
}

func TestCodeMapping(t *testing.T) {
	cases := map[error]string{
		nil:            "",
		ErrStillLocked: CodeStillLocked,
		fmt.Errorf("wrap: %w", ErrInsufficientBalance): CodeInsufficientBalance,
		ErrInsufficientRewardReserve:                   CodeInsufficientRewardReserve,
		errors.New("boom"):                             CodeInternal,
	}
	for err, want := range cases {
		if got := Code(err); got != want {
			t.Fatalf("Code(%v) = %q, want %q", err, got, want)
		}
	}
}
