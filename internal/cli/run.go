package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vjranagit/hktrend/internal/config"
	"github.com/vjranagit/hktrend/pkg/api"
	"github.com/vjranagit/hktrend/pkg/ingest"
	"github.com/vjranagit/hktrend/pkg/routine"
	"github.com/vjranagit/hktrend/pkg/storage"
	"github.com/vjranagit/hktrend/pkg/types"
)

const shutdownTimeout = 30 * time.Second

// Env carries the process-wide dependencies of a command
type Env struct {
	Config   *config.Config
	Log      *slog.Logger
	Registry *prometheus.Registry
}

// Result is the outcome of one command
type Result struct {
	ExitCode  int
	Summaries []*routine.Summary
}

// Execute runs inv. serve blocks until ctx is cancelled.
func Execute(ctx context.Context, inv Invocation, env Env) (Result, error) {
	if env.Log == nil {
		env.Log = slog.Default()
	}
	if env.Registry == nil {
		env.Registry = prometheus.NewRegistry()
	}

	switch inv.Command {
	case CommandProcess:
		return process(ctx, inv, env)
	case CommandServe:
		return serve(ctx, env)
	}
	return Result{ExitCode: ExitInvalidInvocation}, invalidInvocationf("unknown command %q", inv.Command)
}

// days groups the input files into the days of a process run
func (inv Invocation) days() [][]string {
	if inv.Merge {
		return [][]string{inv.Files}
	}
	out := make([][]string, len(inv.Files))
	for i, f := range inv.Files {
		out[i] = []string{f}
	}
	return out
}

func process(ctx context.Context, inv Invocation, env Env) (res Result, err error) {
	cfg, log := env.Config, env.Log
	res.ExitCode = ExitInternalError

	table, err := routine.Resolve(cfg.Routine.File, cfg.Routine.Instrument)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	runner, err := routine.NewRunner(table,
		routine.RunnerConfig{Workers: cfg.Routine.Workers}, log, routine.NewMetrics(env.Registry))
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	store, err := OpenStorage(ctx, cfg, log)
	if err != nil {
		return res, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			res.ExitCode = ExitInternalError
			err = fmt.Errorf("failed to close storage: %w", cerr)
		}
	}()

	reader := ingest.NewReader(ingest.Columns{})
	days := inv.days()
	failed := 0
	for _, files := range days {
		if err := ctx.Err(); err != nil {
			res.ExitCode = ExitRunFailure
			return res, err
		}

		day, stats, err := reader.ReadDay(files...)
		if err != nil {
			failed++
			log.ErrorContext(ctx, "failed to read telemetry", "files", files, "error", err)
			continue
		}
		log.InfoContext(ctx, "telemetry loaded",
			"files", files, "rows", stats.Rows, "skipped", stats.Skipped, "streams", stats.Streams)

		runCtx := types.WithRunID(ctx, uuid.NewString())
		sum, err := runner.Run(runCtx, day, store)
		if err != nil {
			res.ExitCode = ExitRunFailure
			return res, err
		}
		res.Summaries = append(res.Summaries, sum)
	}

	if err := store.Flush(); err != nil {
		return res, fmt.Errorf("failed to flush storage: %w", err)
	}
	if failed > 0 {
		res.ExitCode = ExitRunFailure
		return res, fmt.Errorf("%d of %d inputs could not be read", failed, len(days))
	}
	res.ExitCode = ExitSuccess
	return res, nil
}

func serve(ctx context.Context, env Env) (Result, error) {
	cfg, log := env.Config, env.Log
	res := Result{ExitCode: ExitInternalError}

	store, err := OpenStorage(ctx, cfg, log)
	if err != nil {
		return res, err
	}
	cached := storage.NewCachedStorage(store, cfg.Server.CacheCapacity, cfg.Server.CacheTTL)
	defer cached.Close()

	server := api.NewServer(cfg.Server.ListenAddr, cached, env.Registry, log)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return res, fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping server")
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Stop(stopCtx); err != nil {
			return res, fmt.Errorf("server shutdown: %w", err)
		}
	}

	res.ExitCode = ExitSuccess
	return res, nil
}

// OpenStorage opens the sink selected by cfg. A postgres sink migrates its
// tables before returning.
func OpenStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	switch cfg.Storage.Sink {
	case config.SinkPostgres:
		pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		pg := storage.NewPostgresStorage(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &pooledStorage{PostgresStorage: pg, pool: pool}, nil
	case config.SinkBadger, "":
		return storage.NewStorage(cfg.ToStorageConfig(), log)
	}
	return nil, errors.New("unknown sink " + cfg.Storage.Sink)
}

type pooledStorage struct {
	*storage.PostgresStorage
	pool *pgxpool.Pool
}

func (p *pooledStorage) Close() error {
	p.pool.Close()
	return nil
}
