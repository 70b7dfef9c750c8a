// hived is the hive coordination daemon: it serves the REST and WebSocket
// API, routes agent memory across the configured backends and hosts the
// agent coordinator.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrelworks/hive/internal/adapter/collabbus"
	hivehttp "github.com/kestrelworks/hive/internal/adapter/http"
	"github.com/kestrelworks/hive/internal/adapter/jsonstore"
	"github.com/kestrelworks/hive/internal/adapter/mcp"
	"github.com/kestrelworks/hive/internal/adapter/memstore"
	"github.com/kestrelworks/hive/internal/adapter/natsbus"
	hiveotel "github.com/kestrelworks/hive/internal/adapter/otel"
	"github.com/kestrelworks/hive/internal/adapter/postgres"
	"github.com/kestrelworks/hive/internal/adapter/ristretto"
	"github.com/kestrelworks/hive/internal/adapter/sqlitestore"
	"github.com/kestrelworks/hive/internal/adapter/ws"
	"github.com/kestrelworks/hive/internal/bus"
	"github.com/kestrelworks/hive/internal/config"
	"github.com/kestrelworks/hive/internal/logger"
	portbus "github.com/kestrelworks/hive/internal/port/collabbus"
	portstore "github.com/kestrelworks/hive/internal/port/memstore"
	"github.com/kestrelworks/hive/internal/resilience"
	"github.com/kestrelworks/hive/internal/service"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"volatile_backend", cfg.Memory.VolatileBackend,
		"durable_backend", cfg.Memory.DurableBackend,
		"nats", cfg.NATS.URL != "",
	)

	ctx := context.Background()

	// --- Observability ---
	shutdownOtel, err := hiveotel.Init(ctx, cfg.OTLP, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOtel(shutdownCtx)
	}()

	metrics, err := hiveotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Event bus ---
	b := bus.NewWithTimeout(cfg.Bus.WaitTimeout)

	// --- Memory backends ---
	volatile, err := buildVolatileStore(cfg)
	if err != nil {
		return fmt.Errorf("volatile store: %w", err)
	}

	durable, breakerState, cleanup, err := buildDurableStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("durable store: %w", err)
	}
	defer cleanup()

	cache, err := ristretto.New(cfg.Memory.CacheMaxCost, cfg.Memory.CacheCounters)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	composite := service.NewDefaultComposite(volatile, durable, b, log,
		service.WithCache(cache),
		service.WithMetrics(metrics),
	)
	if err := composite.Initialize(ctx); err != nil {
		return fmt.Errorf("memory init: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := composite.Close(closeCtx); err != nil {
			slog.Error("memory close", "error", err)
		}
	}()

	// --- Collaboration bus ---
	var msgBus portbus.Bus
	if cfg.NATS.URL != "" {
		nb, err := natsbus.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nb.Close()
		msgBus = nb
		slog.Info("nats collaboration bus connected", "stream", cfg.NATS.Stream)
	} else {
		msgBus = collabbus.NewInProc()
	}

	// --- Coordinator ---
	coord := service.NewCoordinator(service.HierarchyConstraints{
		MaxDepth:       cfg.Hierarchy.MaxDepth,
		MaxChildren:    cfg.Hierarchy.MaxChildren,
		MaxTotalAgents: cfg.Hierarchy.MaxTotalAgents,
	}, b, msgBus, service.NewRetryAnalyzer(cfg.Retry.MaxTotalRetries), log,
		service.WithCoordinatorMetrics(metrics),
	)

	// --- Transports ---
	hub := ws.NewHub()
	stopMirror := hub.Mirror(b)
	defer stopMirror()

	handlers := hivehttp.NewHandlers(composite, coord)
	handlers.BreakerState = breakerState

	router := hivehttp.NewRouter(handlers, cfg.Server.CORSOrigin, hub.HandleWS)
	traced := hiveotel.HTTPMiddleware(cfg.Logging.Service)(router)

	if cfg.MCP.Addr != "" {
		mcpSrv := mcp.NewServer(mcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    "hive",
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, mcp.ServerDeps{Memory: composite, Swarm: coord})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mcpSrv.Stop(stopCtx)
		}()
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           traced,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildVolatileStore(cfg *config.Config) (portstore.Store, error) {
	switch cfg.Memory.VolatileBackend {
	case "json":
		return jsonstore.New(cfg.Memory.JSONPath+".volatile", cfg.Memory.FlushDebounce), nil
	default:
		return memstore.NewInMemory(), nil
	}
}

// buildDurableStore returns the durable backend, an optional breaker state
// reporter and a cleanup releasing backend resources the composite does not
// own.
func buildDurableStore(ctx context.Context, cfg *config.Config) (portstore.Store, func() string, func(), error) {
	noop := func() {}
	switch cfg.Memory.DurableBackend {
	case "sqlite":
		s, err := sqlitestore.Open(cfg.Memory.SQLitePath)
		if err != nil {
			return nil, nil, noop, err
		}
		return s, nil, func() { _ = s.Close() }, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, noop, err
		}
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			pool.Close()
			return nil, nil, noop, err
		}
		breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		s := postgres.NewStore(pool, breaker)
		return s, s.BreakerState, pool.Close, nil
	default:
		return jsonstore.New(cfg.Memory.JSONPath, cfg.Memory.FlushDebounce), nil, noop, nil
	}
}
