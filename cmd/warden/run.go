package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	warden "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/app"
	"github.com/eugener/warden/internal/cache"
	"github.com/eugener/warden/internal/circuitbreaker"
	"github.com/eugener/warden/internal/config"
	"github.com/eugener/warden/internal/metrics"
	"github.com/eugener/warden/internal/server"
	"github.com/eugener/warden/internal/storage/sqlite"
	"github.com/eugener/warden/internal/telemetry"
	"github.com/eugener/warden/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting warden", "version", version, "addr", cfg.Server.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Open database only when a component needs it
	var store *sqlite.Store
	if cfg.NeedsDatabase() {
		store, err = sqlite.New(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint,
			cfg.Telemetry.Tracing.SampleRate, version)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("tracer shutdown", "error", err)
			}
		}()
	}

	// Prometheus sink
	var (
		sink           warden.Sink
		tm             *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Prometheus.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		tm = telemetry.NewMetrics(reg)
		sink = tm
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Cache
	backend, err := openBackend(cfg, store)
	if err != nil {
		return err
	}
	var breaker *circuitbreaker.Breaker
	if cfg.Storage.Breaker.Enabled {
		breaker = circuitbreaker.NewBreaker(cfg.Storage.Breaker.Config, nil)
		backend = circuitbreaker.Guard(backend, breaker)
	}
	table, err := cfg.Cache.Policy()
	if err != nil {
		return err
	}
	schema := cfg.Cache.SchemaVersion
	if schema == "" {
		schema = version
	}
	pc, err := cache.New(backend, table, cache.Options{
		Namespace: cfg.Cache.Namespace,
		Version:   schema,
		Timeout:   cfg.Storage.Timeout,
	})
	if err != nil {
		return err
	}
	slog.Info("cache ready",
		"backend", cfg.Storage.Backend,
		"namespace", cfg.Cache.Namespace,
		"schema_version", schema,
		"policies", len(cfg.Cache.Policies),
	)

	collector := metrics.New(metrics.Options{
		MaxSamples: cfg.Metrics.MaxSamples,
		Sink:       sink,
	})

	deps := server.Deps{
		Cache:          pc,
		Metrics:        collector,
		Loader:         app.NewLoader(pc, collector, nil),
		Telemetry:      tm,
		MetricsHandler: metricsHandler,
	}
	if store != nil {
		deps.Snapshots = store
	}
	deps.ReadyCheck = readyCheck(cfg, store, breaker)

	// Background workers
	var workers []worker.Worker
	if cfg.Metrics.SnapshotInterval > 0 {
		workers = append(workers, worker.NewSnapshotWorker(collector, store,
			cfg.Metrics.SnapshotInterval, cfg.Metrics.SnapshotKeep))
	}
	runner := worker.NewRunner(workers...)
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	workerDone := make(chan error, 1)
	go func() { workerDone <- runner.Run(workerCtx) }()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("warden ready", "addr", cfg.Server.Addr, "workers", runner.Len())

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		runErr = err
	case err := <-workerDone:
		if err != nil {
			runErr = err
		}
		workerDone = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}

	// Workers write a final snapshot before the store is closed.
	cancelWorkers()
	if workerDone != nil {
		if err := <-workerDone; err != nil && runErr == nil {
			runErr = err
		}
	}

	slog.Info("warden stopped")
	return runErr
}

// readyCheck fails while the SQLite backend is unreachable or the backend
// breaker is open.
func readyCheck(cfg *config.Config, store *sqlite.Store, breaker *circuitbreaker.Breaker) server.ReadyChecker {
	return func(ctx context.Context) error {
		if breaker != nil {
			if err := breaker.Ready(ctx); err != nil {
				return err
			}
		}
		if cfg.Storage.Backend == "sqlite" {
			return store.Ping(ctx)
		}
		return nil
	}
}

// openBackend returns the raw blob store selected by storage.backend.
func openBackend(cfg *config.Config, store *sqlite.Store) (warden.Backend, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		return store, nil
	default:
		return cache.NewMemory(cfg.Storage.MaxSize, cfg.Storage.Retention)
	}
}
