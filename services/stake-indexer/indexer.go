package indexer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"gorm.io/gorm"

	"stakeledger/services/stake-indexer/export"
	"stakeledger/services/stake-indexer/projector"
	"stakeledger/services/stake-indexer/stream"
)

// Service follows the ledger event stream into the SQL read model and
// periodically exports position snapshots.
type Service struct {
	cfg       Config
	db        *gorm.DB
	projector *projector.Projector
	client    *stream.Client
	exporter  *export.Exporter
	logger    *slog.Logger
}

// NewService wires the indexer components against an open database.
func NewService(cfg Config, db *gorm.DB, logger *slog.Logger) (*Service, error) {
	if db == nil {
		return nil, errors.New("indexer: database is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := stream.NewClient(stream.Config{
		URL:     cfg.Source.URL,
		Token:   cfg.Source.Token,
		Backoff: cfg.Source.ReconnectBackoff.Duration,
		Logger:  logger.With(slog.String("component", "stream")),
	})
	if err != nil {
		return nil, err
	}
	exporter, err := export.New(export.Config{
		DB:        db,
		OutputDir: cfg.Export.Dir,
		Logger:    logger.With(slog.String("component", "export")),
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:       cfg,
		db:        db,
		projector: projector.New(db, logger.With(slog.String("component", "projector"))),
		client:    client,
		exporter:  exporter,
		logger:    logger,
	}, nil
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if s.cfg.Export.Interval.Duration > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.exporter.Run(ctx, s.cfg.Export.Interval.Duration)
		}()
	}
	s.logger.Info("stake indexer running",
		slog.String("source", s.cfg.Source.URL),
		slog.String("driver", s.cfg.Database.Driver))
	err := s.client.Run(ctx, s.projector)
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Export writes a snapshot immediately.
func (s *Service) Export(ctx context.Context) (*export.Snapshot, error) {
	return s.exporter.Snapshot(ctx)
}
