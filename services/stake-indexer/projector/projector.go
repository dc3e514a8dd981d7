package projector

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"lukechampine.com/blake3"

	"stakeledger/core/events"
	"stakeledger/native/staking"
	"stakeledger/services/stake-indexer/models"
)

// ErrSequenceGap is returned when a record does not directly follow the
// applied cursor. The caller should resume the stream from Cursor.
var ErrSequenceGap = errors.New("projector: outbox sequence gap")

var eventNamespace = uuid.MustParse("a3c1f0d2-8b7e-4f61-9d2a-0c5e7b4f1a90")

// Projector folds outbox records into the SQL read model. Each record is
// applied in its own transaction together with the cursor advance, so a
// replayed record is skipped.
type Projector struct {
	db     *gorm.DB
	logger *slog.Logger
}

func New(db *gorm.DB, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{db: db, logger: logger}
}

// Cursor returns the last applied outbox sequence.
func (p *Projector) Cursor(ctx context.Context) (uint64, error) {
	var cursor models.Cursor
	err := p.db.WithContext(ctx).Where("name = ?", models.CursorStream).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cursor.Sequence, nil
}

// Apply projects a single record.
func (p *Projector) Apply(ctx context.Context, record events.Record) error {
	if record.Event == nil {
		return fmt.Errorf("projector: record %d has no event", record.Sequence)
	}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cursor models.Cursor
		err := tx.Where("name = ?", models.CursorStream).First(&cursor).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			cursor = models.Cursor{Name: models.CursorStream}
		case err != nil:
			return err
		}
		if record.Sequence <= cursor.Sequence {
			return nil
		}
		if record.Sequence != cursor.Sequence+1 {
			return fmt.Errorf("%w: have %d, got %d", ErrSequenceGap, cursor.Sequence, record.Sequence)
		}

		row, err := eventRow(record)
		if err != nil {
			return err
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		if err := project(tx, record); err != nil {
			return fmt.Errorf("projector: %s #%d: %w", record.EventType(), record.Sequence, err)
		}
		cursor.Sequence = record.Sequence
		return tx.Save(&cursor).Error
	})
	if err != nil {
		return err
	}
	p.logger.Debug("projected ledger event",
		slog.Uint64("sequence", record.Sequence),
		slog.String("type", record.Event.Type))
	return nil
}

func eventRow(record events.Record) (*models.Event, error) {
	attrs, err := json.Marshal(record.Event.Attributes)
	if err != nil {
		return nil, err
	}
	digest := Digest(record)
	return &models.Event{
		ID:         uuid.NewSHA1(eventNamespace, digest[:]),
		Sequence:   record.Sequence,
		Type:       record.Event.Type,
		PoolID:     record.Event.Attributes["pool"],
		Owner:      record.Event.Attributes["owner"],
		Attributes: string(attrs),
		Digest:     hex.EncodeToString(digest[:]),
		OccurredAt: time.Unix(record.Timestamp, 0).UTC(),
	}, nil
}

// Digest hashes the canonical encoding of a record: sequence, timestamp,
// type and the attributes in key order, each length-prefixed.
func Digest(record events.Record) [32]byte {
	h := blake3.New(32, nil)
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], record.Sequence)
	h.Write(num[:])
	binary.BigEndian.PutUint64(num[:], uint64(record.Timestamp))
	h.Write(num[:])
	writeField := func(s string) {
		binary.BigEndian.PutUint64(num[:], uint64(len(s)))
		h.Write(num[:])
		h.Write([]byte(s))
	}
	if record.Event != nil {
		writeField(record.Event.Type)
		for _, key := range record.Event.Keys() {
			writeField(key)
			writeField(record.Event.Attributes[key])
		}
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func project(tx *gorm.DB, record events.Record) error {
	attrs := attributes(record.Event.Attributes)
	switch record.Event.Type {
	case events.TypeStakePoolInitialized:
		pool := models.Pool{
			ID:                  attrs.str("pool"),
			Authority:           attrs.str("authority"),
			StakeAsset:          attrs.str("stakeAsset"),
			RewardAsset:         attrs.str("rewardAsset"),
			RewardRatePerSecond: attrs.unsigned("rewardRatePerSecond"),
			MinLockDuration:     attrs.signed("minLockDuration"),
			MaxLockDuration:     attrs.signed("maxLockDuration"),
			RewardReserve:       attrs.unsigned("initialReserve"),
			LastSequence:        record.Sequence,
		}
		if attrs.err != nil {
			return attrs.err
		}
		return tx.Create(&pool).Error

	case events.TypeStakeStaked:
		return withPosition(tx, attrs, record.Sequence, func(pool *models.Pool, pos *models.Position) {
			pool.TotalStaked += attrs.unsigned("amount")
			weighted := attrs.unsigned("weightedStake")
			pool.TotalWeightedStake = pool.TotalWeightedStake - pos.WeightedStake + weighted
			pos.StakedAmount = attrs.unsigned("stakedAmount")
			pos.WeightedStake = weighted
			pos.LockEndTime = attrs.signed("lockEndTime")
			pos.Tier = attrs.tier("tier")
		})

	case events.TypeStakeUnstaked:
		return withPosition(tx, attrs, record.Sequence, func(pool *models.Pool, pos *models.Position) {
			removed := attrs.unsigned("weightedRemoved")
			pool.TotalStaked -= attrs.unsigned("amount")
			pool.TotalWeightedStake -= removed
			pos.StakedAmount = attrs.unsigned("remainingStake")
			pos.WeightedStake -= removed
			pos.Tier = attrs.tier("tier")
		})

	case events.TypeStakeRewardsClaimed:
		return withPosition(tx, attrs, record.Sequence, func(pool *models.Pool, pos *models.Position) {
			amount := attrs.unsigned("amount")
			pool.RewardReserve -= amount
			pool.TotalRewardsPaid += amount
			pos.TotalClaimed = attrs.unsigned("totalClaimed")
		})

	case events.TypeStakePoolPaused:
		return withPool(tx, attrs, record.Sequence, func(pool *models.Pool) {
			pool.Paused = attrs.flag("paused")
		})

	case events.TypeStakeRewardsFunded:
		return withPool(tx, attrs, record.Sequence, func(pool *models.Pool) {
			pool.RewardReserve = attrs.unsigned("reserve")
		})

	case events.TypeStakeRewardRateChanged:
		return withPool(tx, attrs, record.Sequence, func(pool *models.Pool) {
			pool.RewardRatePerSecond = attrs.unsigned("rate")
		})
	}
	return nil
}

func loadPool(tx *gorm.DB, id string) (*models.Pool, error) {
	var pool models.Pool
	if err := tx.Where("id = ?", id).First(&pool).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("pool %s not projected", id)
		}
		return nil, err
	}
	return &pool, nil
}

func withPool(tx *gorm.DB, attrs *attributeReader, seq uint64, fn func(*models.Pool)) error {
	pool, err := loadPool(tx, attrs.str("pool"))
	if err != nil {
		return err
	}
	fn(pool)
	if attrs.err != nil {
		return attrs.err
	}
	pool.LastSequence = seq
	return tx.Save(pool).Error
}

func withPosition(tx *gorm.DB, attrs *attributeReader, seq uint64, fn func(*models.Pool, *models.Position)) error {
	pool, err := loadPool(tx, attrs.str("pool"))
	if err != nil {
		return err
	}
	owner := attrs.str("owner")
	var pos models.Position
	err = tx.Where("pool_id = ? AND owner = ?", pool.ID, owner).First(&pos).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		pos = models.Position{ID: models.PositionID(pool.ID, owner), PoolID: pool.ID, Owner: owner}
	case err != nil:
		return err
	}
	fn(pool, &pos)
	if attrs.err != nil {
		return attrs.err
	}
	pool.LastSequence = seq
	pos.LastSequence = seq
	if err := tx.Save(pool).Error; err != nil {
		return err
	}
	return tx.Save(&pos).Error
}

// attributeReader parses event attributes, remembering the first failure.
type attributeReader struct {
	values map[string]string
	err    error
}

func attributes(values map[string]string) *attributeReader {
	return &attributeReader{values: values}
}

func (a *attributeReader) str(key string) string {
	value, ok := a.values[key]
	if !ok && a.err == nil {
		a.err = fmt.Errorf("missing attribute %q", key)
	}
	return value
}

func (a *attributeReader) unsigned(key string) uint64 {
	raw := a.str(key)
	if a.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		a.err = fmt.Errorf("attribute %q: %w", key, err)
	}
	return v
}

func (a *attributeReader) signed(key string) int64 {
	raw := a.str(key)
	if a.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		a.err = fmt.Errorf("attribute %q: %w", key, err)
	}
	return v
}

// tier returns the canonical tier name so the read model never stores an
// unknown or differently cased tier.
func (a *attributeReader) tier(key string) string {
	raw := a.str(key)
	if a.err != nil {
		return ""
	}
	t, err := staking.ParseTier(raw)
	if err != nil {
		a.err = fmt.Errorf("attribute %q: %w", key, err)
		return ""
	}
	return t.String()
}

func (a *attributeReader) flag(key string) bool {
	raw := a.str(key)
	if a.err != nil {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		a.err = fmt.Errorf("attribute %q: %w", key, err)
	}
	return v
}
