// Package app opens the process-wide resources shared by the API server
// and the worker, in dependency order, and closes them in reverse.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/config"
	"github.com/diewo77/quotemaster/internal/db"
	"github.com/diewo77/quotemaster/internal/jobs"
	"github.com/diewo77/quotemaster/internal/logging"
	"github.com/diewo77/quotemaster/internal/tracing"
)

// Runtime holds the opened resources.
type Runtime struct {
	Config *config.Config
	Log    *slog.Logger
	DB     *gorm.DB
	Queue  jobs.Queue

	closers []func(context.Context) error
}

// LoadConfig reads .env when present, then the environment.
func LoadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Open connects the database, applies migrations, installs the tracer and
// builds the queue. service names the process in traces and logs.
func Open(ctx context.Context, cfg *config.Config, service string) (*Runtime, error) {
	log := logging.New(cfg.App.LogLevel, cfg.App.Env).With(slog.String("service", service))
	rt := &Runtime{Config: cfg, Log: log}

	gdb, err := db.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	rt.DB = gdb
	rt.onClose(func(context.Context) error { return db.Close(gdb) })

	if err := db.Migrate(gdb, cfg, log); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	if cfg.App.Seed {
		if err := db.Seed(ctx, gdb, db.DemoTenant, log); err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	shutdown, err := tracing.Init(ctx, log, cfg.Observability.OTLPEndpoint, cfg.Observability.ServiceName+"-"+service, cfg.App.Env)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("tracing: %w", err)
	}
	rt.onClose(shutdown)

	q, err := jobs.New(cfg.Queue, gdb, log)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	rt.Queue = q
	return rt, nil
}

func (rt *Runtime) onClose(fn func(context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

// StartQueue starts the queue and registers its Stop for Close.
func (rt *Runtime) StartQueue(ctx context.Context) error {
	if err := rt.Queue.Start(ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	rt.onClose(rt.Queue.Stop)
	return nil
}

// Close releases everything in reverse order of opening.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
