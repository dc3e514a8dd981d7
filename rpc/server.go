package rpc

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakeledger/core/events"
	"stakeledger/crypto"
	"stakeledger/gateway/middleware"
	"stakeledger/native/staking"
)

const (
	maxRequestBody        = 1 << 20
	defaultStreamPageSize = 500

	rateLimitRead  = "read"
	rateLimitWrite = "write"
)

// Ledger is the subset of the staking engine served over HTTP.
type Ledger interface {
	Initialize(caller crypto.Address, params staking.InitializeParams) (*staking.StakePool, error)
	Stake(id staking.PoolID, owner crypto.Address, amount uint64, lockDuration int64) (*staking.StakeResult, error)
	Unstake(id staking.PoolID, owner crypto.Address, amount uint64) (*staking.UnstakeResult, error)
	ClaimRewards(id staking.PoolID, owner crypto.Address) (*staking.ClaimResult, error)
	SetPaused(id staking.PoolID, caller crypto.Address, paused bool) (*staking.StakePool, error)
	FundRewards(id staking.PoolID, caller crypto.Address, amount uint64) (*staking.StakePool, error)
	SetRewardRate(id staking.PoolID, caller crypto.Address, rate uint64) (*staking.StakePool, error)
	Pool(id staking.PoolID) (*staking.PoolView, error)
	Position(id staking.PoolID, owner crypto.Address) (*staking.PositionView, error)
	Audit(id staking.PoolID) (*staking.AuditReport, error)
}

// OutboxReader replays committed ledger events by sequence number.
type OutboxReader interface {
	OutboxSince(after uint64, limit int) ([]events.Record, error)
	LastSequence() uint64
}

type Config struct {
	Ledger        Ledger
	Outbox        OutboxReader
	Hub           *events.Hub
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
	// ServiceName names the otelhttp server spans. Tracing is skipped when
	// empty.
	ServiceName    string
	StreamPageSize int
}

type Server struct {
	ledger   Ledger
	outbox   OutboxReader
	hub      *events.Hub
	auth     *middleware.Authenticator
	limiter  *middleware.RateLimiter
	obs      *middleware.Observability
	cors     middleware.CORSConfig
	logger   *slog.Logger
	service  string
	pageSize int
	started  time.Time
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := cfg.StreamPageSize
	if pageSize <= 0 {
		pageSize = defaultStreamPageSize
	}
	return &Server{
		ledger:   cfg.Ledger,
		outbox:   cfg.Outbox,
		hub:      cfg.Hub,
		auth:     cfg.Authenticator,
		limiter:  cfg.RateLimiter,
		obs:      cfg.Observability,
		cors:     cfg.CORS,
		logger:   logger,
		service:  cfg.ServiceName,
		pageSize: pageSize,
		started:  time.Now(),
	}
}

// Handler builds the HTTP routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(s.cors))
	if s.obs != nil {
		r.Use(s.obs.Middleware(""))
	}

	r.Get("/healthz", s.handleHealth)
	if s.obs != nil {
		r.Handle("/metrics", s.obs.MetricsHandler())
	}

	// Authentication runs before rate limiting so buckets follow the token
	// subject.
	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(read chi.Router) {
			read.Use(s.requireScopes())
			read.Use(s.rateLimit(rateLimitRead))
			read.Get("/pools/{pool}", s.handleGetPool)
			read.Get("/pools/{pool}/positions/{owner}", s.handleGetPosition)
			read.Get("/events/stream", s.handleEventStream)
		})
		v1.Group(func(write chi.Router) {
			write.Use(s.requireScopes(middleware.ScopeWrite))
			write.Use(s.rateLimit(rateLimitWrite))
			write.Post("/pools/{pool}/stake", s.handleStake)
			write.Post("/pools/{pool}/unstake", s.handleUnstake)
			write.Post("/pools/{pool}/claim", s.handleClaim)
		})
		v1.Group(func(admin chi.Router) {
			admin.Use(s.requireScopes(middleware.ScopeAdmin))
			admin.Use(s.rateLimit(rateLimitWrite))
			admin.Post("/pools", s.handleInitialize)
			admin.Post("/pools/{pool}/pause", s.handlePause(true))
			admin.Post("/pools/{pool}/resume", s.handlePause(false))
			admin.Post("/pools/{pool}/fund", s.handleFund)
			admin.Post("/pools/{pool}/rate", s.handleRate)
			admin.Get("/pools/{pool}/audit", s.handleAudit)
		})
	})

	if s.service == "" {
		return r
	}
	return otelhttp.NewHandler(r, s.service)
}

func (s *Server) rateLimit(group string) func(http.Handler) http.Handler {
	if s.limiter == nil {
		return passthrough
	}
	return s.limiter.Middleware(group)
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	if s.auth == nil {
		return passthrough
	}
	return s.auth.Middleware(scopes...)
}

func passthrough(next http.Handler) http.Handler { return next }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := healthPayload{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.outbox != nil {
		payload.LastSequence = s.outbox.LastSequence()
	}
	writeJSON(w, http.StatusOK, payload)
}
