package staking

import (
	"bytes"
	"sort"
	"sync"
	"testing"
	"time"

	"stakeledger/core/events"
	"stakeledger/crypto"
)

const (
	day       int64 = 24 * 60 * 60
	startUnix int64 = 1_700_000_000
)

type mockStore struct {
	mu        sync.Mutex
	pools     map[PoolID]*StakePool
	positions map[PoolID]map[string]*UserStake
	outbox    []events.Record
	commitErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		pools:     make(map[PoolID]*StakePool),
		positions: make(map[PoolID]map[string]*UserStake),
	}
}

func (m *mockStore) LoadPool(id PoolID) (*StakePool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[id]
	if !ok {
		return nil, false, nil
	}
	return pool.Clone(), true, nil
}

func (m *mockStore) LoadPosition(id PoolID, owner crypto.Address) (*UserStake, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id][string(owner.Bytes())]
	if !ok {
		return nil, false, nil
	}
	return pos.Clone(), true, nil
}

func (m *mockStore) IteratePositions(id PoolID, fn func(*UserStake) bool) error {
	m.mu.Lock()
	keys := make([]string, 0, len(m.positions[id]))
	for key := range m.positions[id] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	snapshot := make([]*UserStake, len(keys))
	for i, key := range keys {
		snapshot[i] = m.positions[id][key].Clone()
	}
	m.mu.Unlock()
	for _, pos := range snapshot {
		if !fn(pos) {
			break
		}
	}
	return nil
}

func (m *mockStore) Commit(cs *Changeset) ([]events.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return nil, m.commitErr
	}
	if cs.Pool != nil {
		m.pools[cs.Pool.ID] = cs.Pool.Clone()
	}
	for _, pos := range cs.Positions {
		if m.positions[pos.Pool] == nil {
			m.positions[pos.Pool] = make(map[string]*UserStake)
		}
		m.positions[pos.Pool][string(pos.Owner.Bytes())] = pos.Clone()
	}
	records := make([]events.Record, 0, len(cs.Events))
	for _, evt := range cs.Events {
		rec := events.Record{Sequence: uint64(len(m.outbox) + 1), Timestamp: cs.Timestamp, Event: evt}
		m.outbox = append(m.outbox, rec)
		records = append(records, rec)
	}
	return records, nil
}

func (m *mockStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.outbox))
	for i, rec := range m.outbox {
		out[i] = rec.Event.Type
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(startUnix, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(seconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Duration(seconds) * time.Second)
}

type staticPauses map[string]bool

func (p staticPauses) IsPaused(module string) bool { return p[module] }

type recordingPublisher struct {
	mu      sync.Mutex
	records []events.Record
}

func (p *recordingPublisher) Publish(records ...events.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, records...)
}

func makeAddress(prefix crypto.AddressPrefix, suffix byte) crypto.Address {
	return crypto.MustNewAddress(prefix, bytes.Repeat([]byte{suffix}, crypto.AddressLength))
}

var (
	testAuthority = makeAddress(crypto.AuthorityPrefix, 0xAA)
	alice         = makeAddress(crypto.StakerPrefix, 0x01)
	bob           = makeAddress(crypto.StakerPrefix, 0x02)
)

type harness struct {
	engine *Engine
	store  *mockStore
	clock  *testClock
	pool   PoolID
}

func defaultPoolParams() InitializeParams {
	return InitializeParams{
		StakeAsset:          "kr8",
		RewardAsset:         "kr8r",
		RewardRatePerSecond: 100,
		MinLockDuration:     DefaultMinLockDuration,
		MaxLockDuration:     DefaultMaxLockDuration,
		InitialReserve:      1_000_000_000,
	}
}

func newHarness(t *testing.T, params InitializeParams, opts ...Option) *harness {
	t.Helper()
	store := newMockStore()
	clock := newTestClock()
	base := []Option{WithClock(clock.Now), WithAuthorities(testAuthority)}
	engine, err := NewEngine(store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	pool, err := engine.Initialize(testAuthority, params)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return &harness{engine: engine, store: store, clock: clock, pool: pool.ID}
}

func (h *harness) stake(t *testing.T, owner crypto.Address, amount uint64, lock int64) *StakeResult {
	t.Helper()
	res, err := h.engine.Stake(h.pool, owner, amount, lock)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	return res
}

func (h *harness) claim(t *testing.T, owner crypto.Address) uint64 {
	t.Helper()
	res, err := h.engine.ClaimRewards(h.pool, owner)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return res.ClaimedAmount
}
