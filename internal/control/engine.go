// Package control wires the recovery engine together: catalogs,
// breaker, selector, coordinator, health server and the optional
// archive collaborators.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/relink/internal/core/config"
	"github.com/vietddude/relink/internal/core/domain"
	"github.com/vietddude/relink/internal/events"
	"github.com/vietddude/relink/internal/health"
	redisclient "github.com/vietddude/relink/internal/infra/redis"
	"github.com/vietddude/relink/internal/infra/storage"
	"github.com/vietddude/relink/internal/infra/storage/postgres"
	"github.com/vietddude/relink/internal/infra/transport"
	"github.com/vietddude/relink/internal/recovery/breaker"
	"github.com/vietddude/relink/internal/recovery/coordinator"
	"github.com/vietddude/relink/internal/recovery/metrics"
	"github.com/vietddude/relink/internal/recovery/retry"
	"github.com/vietddude/relink/internal/recovery/strategy"
)

// Config holds the application configuration.
type Config struct {
	Port       int
	Recovery   config.RecoveryConfig
	Transport  config.TransportConfig
	Redis      redisclient.Config
	Database   postgres.Config
	Policies   []domain.RetryPolicy
	Strategies []domain.RecoveryStrategy

	// Link and Source override the gRPC bridge for embedders that
	// bring their own transport (and for tests).
	Link   transport.Transport
	Source transport.EventSource
}

// Engine is the top-level application object.
type Engine struct {
	cfg Config
	log *slog.Logger

	bus        *events.Bus
	breaker    *breaker.Breaker
	policies   *retry.PolicyRegistry
	retry      *retry.Engine
	strategies *strategy.Registry
	selector   *strategy.Selector
	coord      *coordinator.Coordinator

	healthServer *health.Server
	bridge       *transport.Bridge
	archivers    []storage.SessionArchiver
	db           *postgres.DB
	redis        *redisclient.Client
}

// NewEngine creates an engine with all dependencies initialized.
func NewEngine(cfg Config) (*Engine, error) {
	log := slog.Default()
	bus := events.NewBus()

	// Circuit breaker; transitions feed the bus and metrics.
	brk := breaker.New(func(key string, from, to breaker.State, failures int) {
		metrics.CircuitState.WithLabelValues(key).Set(float64(to))
		metrics.CircuitTransitions.WithLabelValues(key, to.String()).Inc()

		payload := events.CircuitPayload{OperationKey: key, FailureCount: failures}
		switch to {
		case breaker.StateOpen:
			bus.Publish(events.CircuitOpened, payload)
		case breaker.StateHalfOpen:
			bus.Publish(events.CircuitHalfOpen, payload)
		case breaker.StateClosed:
			bus.Publish(events.CircuitClosed, payload)
		}
	})

	// Seed catalogs.
	policyReg := retry.NewPolicyRegistry(bus)
	for i := range cfg.Policies {
		if err := policyReg.Add(&cfg.Policies[i]); err != nil {
			return nil, fmt.Errorf("failed to seed retry policy: %w", err)
		}
	}
	strategyReg := strategy.NewRegistry(bus)
	for i := range cfg.Strategies {
		if err := strategyReg.Add(&cfg.Strategies[i]); err != nil {
			return nil, fmt.Errorf("failed to seed recovery strategy: %w", err)
		}
	}

	e := &Engine{
		cfg:        cfg,
		log:        log,
		bus:        bus,
		breaker:    brk,
		policies:   policyReg,
		retry:      retry.NewEngine(policyReg, brk),
		strategies: strategyReg,
	}

	// Transport: programmatic override first, bridge second.
	link := cfg.Link
	source := cfg.Source
	if link == nil {
		if cfg.Transport.Endpoint == "" {
			return nil, fmt.Errorf("no transport: set transport.endpoint or inject a Link")
		}
		bridge, err := transport.NewBridge(context.Background(), cfg.Transport.Endpoint, cfg.Transport.DialTimeout, log)
		if err != nil {
			return nil, fmt.Errorf("failed to init link bridge: %w", err)
		}
		e.bridge = bridge
		link = bridge
		source = bridge
		slog.Info("Using gRPC link bridge", "endpoint", cfg.Transport.Endpoint)
	}
	if source == nil {
		return nil, fmt.Errorf("no event source for injected transport")
	}

	// Archive collaborators (durable history is theirs, not the core's).
	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		e.redis = rc
		e.archivers = append(e.archivers, redisclient.NewSessionArchive(rc))
		slog.Info("Using Redis session archive")
	}
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		e.db = db
		e.archivers = append(e.archivers, postgres.NewSessionRepo(db))
		slog.Info("Using PostgreSQL session archive")
	}

	history := coordinator.NewHistory(cfg.Recovery.FailureHistoryCap, cfg.Recovery.MetricsHistoryCap)
	e.selector = strategy.NewSelector(strategyReg, history, cfg.Recovery.Adaptive)

	coordCfg := coordinator.Config{
		MaxConcurrentSessions: cfg.Recovery.MaxConcurrentSessions,
		FailureWindow:         cfg.Recovery.FailureWindow,
		Retention:             cfg.Recovery.Retention,
		FailureHistoryCap:     cfg.Recovery.FailureHistoryCap,
		MetricsHistoryCap:     cfg.Recovery.MetricsHistoryCap,
		OnComplete:            e.archive,
	}
	e.coord = coordinator.New(coordCfg, link, source, e.selector, strategyReg, brk, history, bus, log)

	monitor := health.NewMonitor(e.coord, brk, cfg.Recovery.MaxConcurrentSessions, cfg.Recovery.FailureWindow)
	e.healthServer = health.NewServer(monitor, cfg.Port)

	return e, nil
}

// Start launches the bridge stream, the coordinator and the health
// server.
func (e *Engine) Start(ctx context.Context) error {
	if e.bridge != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := e.bridge.Healthy(probeCtx); err != nil {
			e.log.Warn("Link bridge health probe failed", "error", err)
		}
		cancel()
		e.bridge.Start(ctx)
	}
	if err := e.coord.Start(ctx); err != nil {
		return err
	}

	go func() {
		if err := e.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("Health server failed", "error", err)
		}
	}()

	e.log.Info("Recovery engine started",
		"max_sessions", e.cfg.Recovery.MaxConcurrentSessions,
		"strategies", len(e.strategies.List()),
		"policies", len(e.policies.List()))
	return nil
}

// Stop cancels active sessions and shuts everything down.
func (e *Engine) Stop(ctx context.Context) error {
	e.coord.Stop()

	var firstErr error
	if err := e.healthServer.Stop(ctx); err != nil {
		firstErr = err
	}
	if e.bridge != nil {
		if err := e.bridge.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.bus.Close()
	return firstErr
}

// archive fans a terminal session record out to every configured
// archiver. Failures are logged, never propagated: archiving is
// best-effort by contract.
func (e *Engine) archive(rec *domain.SessionRecord) {
	for _, a := range e.archivers {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.Archive(ctx, rec); err != nil {
			e.log.Warn("Failed to archive session", "session", rec.ID, "error", err)
		}
		cancel()
	}
}

// Bus exposes the engine's event bus for monitoring collaborators.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Retry exposes the retry engine for embedders running their own
// operations under the shared policies and breaker.
func (e *Engine) Retry() *retry.Engine { return e.retry }

// Policies exposes the retry policy catalog for runtime CRUD.
func (e *Engine) Policies() *retry.PolicyRegistry { return e.policies }

// Strategies exposes the strategy catalog for runtime CRUD.
func (e *Engine) Strategies() *strategy.Registry { return e.strategies }

// Coordinator exposes the session coordinator.
func (e *Engine) Coordinator() *coordinator.Coordinator { return e.coord }
