package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CursorStream names the cursor row tracking the ledger outbox.
const CursorStream = "ledger-outbox"

// Cursor stores the last outbox sequence applied to the read model.
type Cursor struct {
	Name      string `gorm:"primaryKey;size:64"`
	Sequence  uint64
	UpdatedAt time.Time
}

// Event is the append-only copy of every outbox record.
type Event struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	PoolID     string    `gorm:"size:64;index"`
	Owner      string    `gorm:"size:128;index"`
	Attributes string    `gorm:"type:text"`
	// Digest is the hex blake3 hash of the canonical record encoding.
	Digest     string `gorm:"size:64"`
	OccurredAt time.Time
	CreatedAt  time.Time
}

// Pool mirrors the ledger's pool aggregates as of LastSequence.
type Pool struct {
	ID                  string `gorm:"primaryKey;size:64"`
	Authority           string `gorm:"size:128"`
	StakeAsset          string `gorm:"size:32"`
	RewardAsset         string `gorm:"size:32"`
	RewardRatePerSecond uint64
	MinLockDuration     int64
	MaxLockDuration     int64
	TotalStaked         uint64
	TotalWeightedStake  uint64
	RewardReserve       uint64
	TotalRewardsPaid    uint64
	Paused              bool
	LastSequence        uint64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Position mirrors one owner's stake within a pool.
type Position struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	PoolID        string    `gorm:"size:64;uniqueIndex:idx_positions_pool_owner"`
	Owner         string    `gorm:"size:128;uniqueIndex:idx_positions_pool_owner"`
	StakedAmount  uint64
	WeightedStake uint64
	LockEndTime   int64
	Tier          string `gorm:"size:16;index"`
	TotalClaimed  uint64
	LastSequence  uint64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var positionNamespace = uuid.MustParse("5b0e6a4e-2f4c-4d8e-9a53-6f3f1c0d7e21")

// PositionID derives the stable identifier of a pool/owner pair.
func PositionID(poolID, owner string) uuid.UUID {
	return uuid.NewSHA1(positionNamespace, []byte(poolID+"/"+owner))
}

// AutoMigrate creates or updates the read-model tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Cursor{}, &Event{}, &Pool{}, &Position{})
}
