package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stakeledger/config"
	"stakeledger/core/events"
	"stakeledger/core/state"
	"stakeledger/gateway/middleware"
	"stakeledger/native/staking"
	"stakeledger/observability/logging"
	"stakeledger/observability/metrics"
	telemetry "stakeledger/observability/otel"
	"stakeledger/rpc"
	"stakeledger/storage"
)

const serviceName = "stakingd"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stakingd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "./stakingd.toml", "Path to the configuration file")
	dataDirOverride := flag.String("data-dir", "", "Override the configured data directory")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dir := strings.TrimSpace(*dataDirOverride); dir != "" {
		cfg.DataDir = dir
	}

	logger, logCloser := logging.SetupWithOptions(serviceName, cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.Sampling,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open ledger database: %w", err)
	}
	defer db.Close()

	manager, err := state.NewManager(db)
	if err != nil {
		return fmt.Errorf("init state: %w", err)
	}

	authorities, err := cfg.AuthorityAddresses()
	if err != nil {
		return err
	}
	hub := events.NewHub(cfg.StreamBuffer)
	defer hub.Close()

	engine, err := staking.NewEngine(manager,
		staking.WithLogger(logger.With(slog.String("module", staking.ModuleName))),
		staking.WithMetrics(metrics.Staking()),
		staking.WithTierSchedule(cfg.Tiers.Schedule()),
		staking.WithRelockPolicy(staking.RelockPolicy(cfg.RelockPolicy)),
		staking.WithAuthorities(authorities...),
		staking.WithPublisher(hub),
	)
	if err != nil {
		return fmt.Errorf("init staking engine: %w", err)
	}
	engine.SetPauses(cfg.Pauses)

	pools, err := manager.Pools()
	if err != nil {
		return fmt.Errorf("load pools: %w", err)
	}
	for _, pool := range pools {
		metrics.Staking().RecordPool(pool.ID.String(), pool.TotalStaked, pool.TotalWeightedStake, pool.RewardReserve)
	}
	logger.Info("staking ledger loaded",
		slog.Int("pools", len(pools)),
		slog.Uint64("outbox_sequence", manager.LastSequence()))

	authEnabled := !cfg.Auth.Disabled
	secret := cfg.JWTSecret()
	if authEnabled && secret == "" {
		return errors.New("auth is enabled but no HMAC secret is configured")
	}
	if !authEnabled {
		logger.Warn("API authentication disabled; request bodies name the caller")
	}
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    authEnabled,
		HMACSecret: secret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  time.Duration(cfg.Auth.AllowedClockSkewSeconds) * time.Second,
	}, logger)

	limit := middleware.RateLimit{
		RatePerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:         cfg.RateLimit.Burst,
		DefaultTokens: cfg.RateLimit.DefaultTokens,
		Tokens:        cfg.RateLimit.RouteTokens,
	}
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"read":  limit,
		"write": limit,
	}, logger).TrustProxyHeaders(cfg.RateLimit.TrustProxyHeaders)

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: serviceName,
		Enabled:     true,
		LogRequests: strings.EqualFold(cfg.Logging.Level, "debug"),
	}, logger)

	server := rpc.NewServer(rpc.Config{
		Ledger:        engine,
		Outbox:        manager,
		Hub:           hub,
		Authenticator: auth,
		RateLimiter:   limiter,
		Observability: obs,
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.AllowedOrigins},
		Logger:        logger,
		ServiceName:   serviceName,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeoutDuration(),
		ReadTimeout:       cfg.ReadTimeoutDuration(),
		WriteTimeout:      cfg.WriteTimeoutDuration(),
		IdleTimeout:       cfg.IdleTimeoutDuration(),
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("stakingd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("data_dir", cfg.DataDir),
			slog.Int("authorities", len(authorities)),
			slog.Bool("auth", authEnabled))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("stakingd shutting down")
		// Closing the hub ends every open event stream so Shutdown does not
		// wait on hijacked connections.
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
