package staking

import (
	"stakeledger/core/events"
	"stakeledger/core/types"
	"stakeledger/crypto"
)

// Store persists pools, positions and the event outbox.
type Store interface {
	// LoadPool returns the pool or ok=false when it does not exist.
	LoadPool(id PoolID) (pool *StakePool, ok bool, err error)
	// LoadPosition returns the owner's position or ok=false when the owner
	// never staked in the pool.
	LoadPosition(id PoolID, owner crypto.Address) (pos *UserStake, ok bool, err error)
	// IteratePositions visits every position of the pool until fn returns
	// false.
	IteratePositions(id PoolID, fn func(*UserStake) bool) error
	// Commit writes the changeset atomically and returns the outbox records
	// assigned to its events.
	Commit(cs *Changeset) ([]events.Record, error)
}

// Changeset is the unit of atomic persistence produced by one operation.
type Changeset struct {
	Pool      *StakePool
	Positions []*UserStake
	Events    []*types.Event
	Timestamp int64
}

// Publisher receives outbox records after they are durably committed.
type Publisher interface {
	Publish(records ...events.Record)
}
