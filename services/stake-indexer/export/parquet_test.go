package export

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"gorm.io/gorm"
	"lukechampine.com/blake3"

	"stakeledger/services/stake-indexer/models"
)

func setupExportDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "export.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSnapshotWritesPositionsAndDigest(t *testing.T) {
	db := setupExportDB(t)
	seed := []interface{}{
		&models.Cursor{Name: models.CursorStream, Sequence: 42},
		&models.Pool{ID: "kr8-gold", StakeAsset: "KR8", RewardAsset: "KR8"},
		&models.Position{ID: models.PositionID("kr8-gold", "alice"), PoolID: "kr8-gold", Owner: "alice",
			StakedAmount: 1000, WeightedStake: 1231, LockEndTime: 7776100, Tier: "HOLDER", TotalClaimed: 999, LastSequence: 3},
		&models.Position{ID: models.PositionID("kr8-gold", "bob"), PoolID: "kr8-gold", Owner: "bob", Tier: "NONE"},
	}
	for _, row := range seed {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	dir := t.TempDir()
	exporter, err := New(Config{
		DB:        db,
		OutputDir: dir,
		Now:       func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	snap, err := exporter.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Rows != 1 || snap.Sequence != 42 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	want := filepath.Join(dir, "2025-03-01", "positions-20250301T120000Z-seq42.parquet")
	if snap.Path != want {
		t.Fatalf("unexpected path %s", snap.Path)
	}

	data, err := os.ReadFile(snap.Path)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	sum := blake3.Sum256(data)
	digest, err := os.ReadFile(snap.DigestPath)
	if err != nil {
		t.Fatalf("read digest: %v", err)
	}
	if !strings.HasPrefix(string(digest), hex.EncodeToString(sum[:])) {
		t.Fatalf("digest mismatch: %s", digest)
	}

	fr, err := local.NewLocalFileReader(snap.Path)
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(positionRow), 1)
	if err != nil {
		t.Fatalf("parquet reader: %v", err)
	}
	defer pr.ReadStop()
	if n := pr.GetNumRows(); n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
	rows := make([]positionRow, 1)
	if err := pr.Read(&rows); err != nil {
		t.Fatalf("read rows: %v", err)
	}
	got := rows[0]
	if got.Owner != "alice" || got.StakeAsset != "KR8" || got.StakedAmount != 1000 || got.WeightedStake != 1231 || got.Tier != "HOLDER" {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestSnapshotReadsInOneTransaction(t *testing.T) {
	db := setupExportDB(t)
	seed := []interface{}{
		&models.Cursor{Name: models.CursorStream, Sequence: 7},
		&models.Pool{ID: "kr8-gold", StakeAsset: "KR8", RewardAsset: "KR8"},
		&models.Position{ID: models.PositionID("kr8-gold", "alice"), PoolID: "kr8-gold", Owner: "alice", StakedAmount: 5, Tier: "NONE"},
	}
	for _, row := range seed {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	pools := map[gorm.ConnPool]int{}
	var outside int
	err := db.Callback().Query().After("gorm:query").Register("export_test:conn", func(tx *gorm.DB) {
		if _, ok := tx.Statement.ConnPool.(gorm.TxCommitter); !ok {
			outside++
			return
		}
		pools[tx.Statement.ConnPool]++
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	exporter, err := New(Config{DB: db, OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	snap, err := exporter.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Sequence != 7 || snap.Rows != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if outside != 0 || len(pools) != 1 {
		t.Fatalf("reads outside a transaction: %d, transactions: %d", outside, len(pools))
	}
	for _, queries := range pools {
		if queries != 3 {
			t.Fatalf("expected 3 reads in the transaction, got %d", queries)
		}
	}
}

func TestNewRequiresDB(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without db")
	}
}
