package export

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"
	"lukechampine.com/blake3"

	"stakeledger/services/stake-indexer/models"
)

// Config captures the dependencies required to construct an Exporter.
type Config struct {
	DB        *gorm.DB
	OutputDir string
	Now       func() time.Time
	Logger    *slog.Logger
}

// Exporter writes point-in-time parquet snapshots of the position table.
type Exporter struct {
	db        *gorm.DB
	outputDir string
	now       func() time.Time
	logger    *slog.Logger
}

// Snapshot references the files written by one export.
type Snapshot struct {
	Path       string
	DigestPath string
	Rows       int
	Sequence   uint64
}

func New(cfg Config) (*Exporter, error) {
	if cfg.DB == nil {
		return nil, errors.New("export: db is required")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "stake-exports"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Exporter{db: cfg.DB, outputDir: cfg.OutputDir, now: cfg.Now, logger: cfg.Logger}, nil
}

// positionRow columns are signed; read-model amounts stay within int64.
type positionRow struct {
	Pool          string `parquet:"name=pool, type=BYTE_ARRAY, convertedtype=UTF8"`
	StakeAsset    string `parquet:"name=stake_asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Owner         string `parquet:"name=owner, type=BYTE_ARRAY, convertedtype=UTF8"`
	StakedAmount  int64  `parquet:"name=staked_amount, type=INT64"`
	WeightedStake int64  `parquet:"name=weighted_stake, type=INT64"`
	LockEndTime   int64  `parquet:"name=lock_end_time, type=INT64"`
	Tier          string `parquet:"name=tier, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalClaimed  int64  `parquet:"name=total_claimed, type=INT64"`
	LastSequence  int64  `parquet:"name=last_sequence, type=INT64"`
	UpdatedAt     string `parquet:"name=updated_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Snapshot exports every position with a non-zero stake or claim history.
func (e *Exporter) Snapshot(ctx context.Context) (*Snapshot, error) {
	state, err := e.readState(ctx)
	if err != nil {
		return nil, err
	}
	cursor, assets, positions := state.cursor, state.assets, state.positions

	stamp := e.now().UTC()
	dir := filepath.Join(e.outputDir, stamp.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create dir: %w", err)
	}
	name := fmt.Sprintf("positions-%s-seq%d", stamp.Format("20060102T150405Z"), cursor.Sequence)
	path := filepath.Join(dir, name+".parquet")

	rows := make([]*positionRow, 0, len(positions))
	for _, pos := range positions {
		if pos.StakedAmount == 0 && pos.TotalClaimed == 0 {
			continue
		}
		rows = append(rows, &positionRow{
			Pool:          pos.PoolID,
			StakeAsset:    assets[pos.PoolID],
			Owner:         pos.Owner,
			StakedAmount:  int64(pos.StakedAmount),
			WeightedStake: int64(pos.WeightedStake),
			LockEndTime:   pos.LockEndTime,
			Tier:          pos.Tier,
			TotalClaimed:  int64(pos.TotalClaimed),
			LastSequence:  int64(pos.LastSequence),
			UpdatedAt:     pos.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	if err := writeParquet(path, rows); err != nil {
		return nil, err
	}
	digestPath, err := writeDigest(path)
	if err != nil {
		return nil, err
	}
	e.logger.Info("export: wrote position snapshot",
		slog.String("path", path),
		slog.Int("rows", len(rows)),
		slog.Uint64("sequence", cursor.Sequence))
	return &Snapshot{Path: path, DigestPath: digestPath, Rows: len(rows), Sequence: cursor.Sequence}, nil
}

// Run exports a snapshot every interval until ctx is cancelled.
func (e *Exporter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Snapshot(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("export: snapshot failed", slog.Any("error", err))
			}
		}
	}
}

type snapshotState struct {
	cursor    models.Cursor
	assets    map[string]string
	positions []models.Position
}

// readState loads the cursor, pools and positions in one read transaction so
// the rows match the sequence the file is labelled with.
func (e *Exporter) readState(ctx context.Context) (*snapshotState, error) {
	state := &snapshotState{}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ?", models.CursorStream).First(&state.cursor).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("export: load cursor: %w", err)
		}
		var pools []models.Pool
		if err := tx.Find(&pools).Error; err != nil {
			return fmt.Errorf("export: load pools: %w", err)
		}
		state.assets = make(map[string]string, len(pools))
		for _, pool := range pools {
			state.assets[pool.ID] = pool.StakeAsset
		}
		if err := tx.Order("pool_id, owner").Find(&state.positions).Error; err != nil {
			return fmt.Errorf("export: load positions: %w", err)
		}
		return nil
	}, snapshotTxOptions(e.db))
	if err != nil {
		return nil, err
	}
	return state, nil
}

// snapshotTxOptions asks Postgres for a single snapshot across statements.
// SQLite transactions already read from one snapshot.
func snapshotTxOptions(db *gorm.DB) *sql.TxOptions {
	if db.Dialector != nil && db.Dialector.Name() == "postgres" {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

func writeParquet(path string, rows []*positionRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(positionRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}

// writeDigest stores the hex blake3 checksum of path next to it.
func writeDigest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("export: open for digest: %w", err)
	}
	defer file.Close()
	hasher := blake3.New(32, nil)
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("export: digest: %w", err)
	}
	digestPath := path + ".blake3"
	line := hex.EncodeToString(hasher.Sum(nil)) + "  " + filepath.Base(path) + "\n"
	if err := os.WriteFile(digestPath, []byte(line), 0o644); err != nil {
		return "", fmt.Errorf("export: write digest: %w", err)
	}
	return digestPath, nil
}
