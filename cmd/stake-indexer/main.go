package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"stakeledger/observability/logging"
	indexer "stakeledger/services/stake-indexer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stake-indexer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "services/stake-indexer/config.yaml", "path to stake-indexer configuration")
	exportOnce := flag.Bool("export", false, "write a single position snapshot and exit")
	flag.Parse()

	cfg, err := indexer.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closer := logging.SetupWithOptions("stake-indexer", cfg.Environment, logging.Options{
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
	})
	defer closer.Close()

	db, err := indexer.OpenDatabase(cfg.Database)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	svc, err := indexer.NewService(cfg, db, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *exportOnce {
		snap, err := svc.Export(ctx)
		if err != nil {
			return err
		}
		logger.Info("snapshot written", slog.String("path", snap.Path), slog.Int("rows", snap.Rows))
		return nil
	}
	return svc.Run(ctx)
}
