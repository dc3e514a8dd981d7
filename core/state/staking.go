package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"stakeledger/core/events"
	"stakeledger/crypto"
	"stakeledger/native/staking"
)

var poolListPrefix = []byte("stake_pool/")

// storedPool is the RLP layout of a staking.StakePool. RLP has no signed
// integers; timestamps and durations are never negative.
type storedPool struct {
	ID                   []byte
	AuthorityPrefix      string
	Authority            []byte
	StakeAsset           string
	RewardAsset          string
	TotalStaked          uint64
	TotalWeightedStake   uint64
	RewardRatePerSecond  uint64
	MinLockDuration      uint64
	MaxLockDuration      uint64
	LastAccrualTime      uint64
	AccRewardPerWeighted []byte
	RewardReserve        uint64
	TotalRewardsPaid     uint64
	Paused               bool
	CreatedAt            uint64
}

type storedPosition struct {
	Pool           []byte
	OwnerPrefix    string
	Owner          []byte
	StakedAmount   uint64
	WeightedStake  uint64
	LockDuration   uint64
	LockEndTime    uint64
	RewardDebt     []byte
	PendingRewards uint64
	TotalClaimed   uint64
	StakeStartTime uint64
}

func encodeAcc(v *uint256.Int) []byte {
	if v == nil || v.IsZero() {
		return nil
	}
	return v.Bytes()
}

func decodeAcc(b []byte) *uint256.Int {
	return new(uint256.Int).SetBytes(b)
}

func decodeAddress(prefix string, raw []byte) (crypto.Address, error) {
	if len(raw) == 0 {
		return crypto.Address{}, nil
	}
	return crypto.NewAddress(crypto.AddressPrefix(prefix), raw)
}

func nonNegative(name string, v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("state: negative %s %d", name, v)
	}
	return uint64(v), nil
}

func signed(name string, v uint64) (int64, error) {
	if v > 1<<63-1 {
		return 0, fmt.Errorf("state: %s %d out of range", name, v)
	}
	return int64(v), nil
}

func poolToStored(p *staking.StakePool) (*storedPool, error) {
	minLock, err := nonNegative("min lock", p.MinLockDuration)
	if err != nil {
		return nil, err
	}
	maxLock, err := nonNegative("max lock", p.MaxLockDuration)
	if err != nil {
		return nil, err
	}
	last, err := nonNegative("accrual time", p.LastAccrualTime)
	if err != nil {
		return nil, err
	}
	created, err := nonNegative("creation time", p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &storedPool{
		ID:                   append([]byte(nil), p.ID[:]...),
		AuthorityPrefix:      string(p.Authority.Prefix()),
		Authority:            p.Authority.Bytes(),
		StakeAsset:           p.StakeAsset,
		RewardAsset:          p.RewardAsset,
		TotalStaked:          p.TotalStaked,
		TotalWeightedStake:   p.TotalWeightedStake,
		RewardRatePerSecond:  p.RewardRatePerSecond,
		MinLockDuration:      minLock,
		MaxLockDuration:      maxLock,
		LastAccrualTime:      last,
		AccRewardPerWeighted: encodeAcc(p.AccRewardPerWeighted),
		RewardReserve:        p.RewardReserve,
		TotalRewardsPaid:     p.TotalRewardsPaid,
		Paused:               p.Paused,
		CreatedAt:            created,
	}, nil
}

func (s *storedPool) toPool() (*staking.StakePool, error) {
	var id staking.PoolID
	if len(s.ID) != len(id) {
		return nil, fmt.Errorf("state: pool id has %d bytes", len(s.ID))
	}
	copy(id[:], s.ID)
	authority, err := decodeAddress(s.AuthorityPrefix, s.Authority)
	if err != nil {
		return nil, err
	}
	minLock, err := signed("min lock", s.MinLockDuration)
	if err != nil {
		return nil, err
	}
	maxLock, err := signed("max lock", s.MaxLockDuration)
	if err != nil {
		return nil, err
	}
	last, err := signed("accrual time", s.LastAccrualTime)
	if err != nil {
		return nil, err
	}
	created, err := signed("creation time", s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &staking.StakePool{
		ID:                   id,
		Authority:            authority,
		StakeAsset:           s.StakeAsset,
		RewardAsset:          s.RewardAsset,
		TotalStaked:          s.TotalStaked,
		TotalWeightedStake:   s.TotalWeightedStake,
		RewardRatePerSecond:  s.RewardRatePerSecond,
		MinLockDuration:      minLock,
		MaxLockDuration:      maxLock,
		LastAccrualTime:      last,
		AccRewardPerWeighted: decodeAcc(s.AccRewardPerWeighted),
		RewardReserve:        s.RewardReserve,
		TotalRewardsPaid:     s.TotalRewardsPaid,
		Paused:               s.Paused,
		CreatedAt:            created,
	}, nil
}

func positionToStored(p *staking.UserStake) (*storedPosition, error) {
	lock, err := nonNegative("lock duration", p.LockDuration)
	if err != nil {
		return nil, err
	}
	end, err := nonNegative("lock end", p.LockEndTime)
	if err != nil {
		return nil, err
	}
	start, err := nonNegative("stake start", p.StakeStartTime)
	if err != nil {
		return nil, err
	}
	return &storedPosition{
		Pool:           append([]byte(nil), p.Pool[:]...),
		OwnerPrefix:    string(p.Owner.Prefix()),
		Owner:          p.Owner.Bytes(),
		StakedAmount:   p.StakedAmount,
		WeightedStake:  p.WeightedStake,
		LockDuration:   lock,
		LockEndTime:    end,
		RewardDebt:     encodeAcc(p.RewardDebt),
		PendingRewards: p.PendingRewards,
		TotalClaimed:   p.TotalClaimed,
		StakeStartTime: start,
	}, nil
}

func (s *storedPosition) toPosition() (*staking.UserStake, error) {
	var pool staking.PoolID
	if len(s.Pool) != len(pool) {
		return nil, fmt.Errorf("state: position pool id has %d bytes", len(s.Pool))
	}
	copy(pool[:], s.Pool)
	owner, err := decodeAddress(s.OwnerPrefix, s.Owner)
	if err != nil {
		return nil, err
	}
	lock, err := signed("lock duration", s.LockDuration)
	if err != nil {
		return nil, err
	}
	end, err := signed("lock end", s.LockEndTime)
	if err != nil {
		return nil, err
	}
	start, err := signed("stake start", s.StakeStartTime)
	if err != nil {
		return nil, err
	}
	return &staking.UserStake{
		Pool:           pool,
		Owner:          owner,
		StakedAmount:   s.StakedAmount,
		WeightedStake:  s.WeightedStake,
		LockDuration:   lock,
		LockEndTime:    end,
		RewardDebt:     decodeAcc(s.RewardDebt),
		PendingRewards: s.PendingRewards,
		TotalClaimed:   s.TotalClaimed,
		StakeStartTime: start,
	}, nil
}

// LoadPool implements staking.Store.
func (m *Manager) LoadPool(id staking.PoolID) (*staking.StakePool, bool, error) {
	var stored storedPool
	ok, err := m.KVGet(staking.PoolKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	pool, err := stored.toPool()
	if err != nil {
		return nil, false, err
	}
	return pool, true, nil
}

// LoadPosition implements staking.Store.
func (m *Manager) LoadPosition(id staking.PoolID, owner crypto.Address) (*staking.UserStake, bool, error) {
	var stored storedPosition
	ok, err := m.KVGet(staking.PositionKey(id, owner), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	pos, err := stored.toPosition()
	if err != nil {
		return nil, false, err
	}
	return pos, true, nil
}

// IteratePositions implements staking.Store.
func (m *Manager) IteratePositions(id staking.PoolID, fn func(*staking.UserStake) bool) error {
	return m.kvIterate(staking.PositionPrefix(id), func(value []byte) (bool, error) {
		var stored storedPosition
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return false, err
		}
		pos, err := stored.toPosition()
		if err != nil {
			return false, err
		}
		return fn(pos), nil
	})
}

// Pools returns every initialised pool.
func (m *Manager) Pools() ([]*staking.StakePool, error) {
	var pools []*staking.StakePool
	err := m.kvIterate(poolListPrefix, func(value []byte) (bool, error) {
		var stored storedPool
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return false, err
		}
		pool, err := stored.toPool()
		if err != nil {
			return false, err
		}
		pools = append(pools, pool)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return pools, nil
}

// Commit implements staking.Store. The pool, the positions and the outbox
// records land in one batch; sequence numbers are only consumed when the
// batch is written.
func (m *Manager) Commit(cs *staking.Changeset) ([]events.Record, error) {
	if cs == nil {
		return nil, nil
	}
	batch := m.db.NewBatch()
	if cs.Pool != nil {
		stored, err := poolToStored(cs.Pool)
		if err != nil {
			return nil, err
		}
		if err := putEncoded(batch, staking.PoolKey(cs.Pool.ID), stored); err != nil {
			return nil, err
		}
	}
	for _, pos := range cs.Positions {
		if pos == nil {
			continue
		}
		stored, err := positionToStored(pos)
		if err != nil {
			return nil, err
		}
		if err := putEncoded(batch, staking.PositionKey(pos.Pool, pos.Owner), stored); err != nil {
			return nil, err
		}
	}

	m.outboxMu.Lock()
	defer m.outboxMu.Unlock()
	records, err := m.appendOutbox(batch, cs.Events, cs.Timestamp)
	if err != nil {
		return nil, err
	}
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("state: write batch: %w", err)
	}
	if len(records) > 0 {
		m.lastSeq = records[len(records)-1].Sequence
	}
	return records, nil
}
