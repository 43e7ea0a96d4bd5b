package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/diewo77/quotemaster/internal/app"
	"github.com/diewo77/quotemaster/internal/auth"
	"github.com/diewo77/quotemaster/internal/handlers"
	"github.com/diewo77/quotemaster/internal/ratelimit"
	"github.com/diewo77/quotemaster/internal/server"
)

const shutdownTimeout = 10 * time.Second

// attemptCounter returns the Redis counter when REDIS_URL is set, the
// in-memory one otherwise. The returned Pinger is nil for memory.
func attemptCounter(ctx context.Context, rt *app.Runtime) (ratelimit.AttemptCounter, handlers.Pinger, func(), error) {
	cfg := rt.Config
	if cfg.Redis.URL == "" {
		mc := ratelimit.NewMemoryCounter(cfg.Admin.MaxAttempts, cfg.Admin.Lockout)
		return mc, nil, mc.Stop, nil
	}
	rdb, err := ratelimit.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	rc := ratelimit.NewRedisCounter(rdb, "quotemaster:attempts:", cfg.Admin.MaxAttempts, cfg.Admin.Lockout)
	ping := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	return rc, ping, func() { _ = rdb.Close() }, nil
}

// serve runs the API until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func serve(ctx context.Context, rt *app.Runtime) error {
	cfg, log := rt.Config, rt.Log

	if err := rt.StartQueue(ctx); err != nil {
		return err
	}

	attempts, cache, stopCounter, err := attemptCounter(ctx, rt)
	if err != nil {
		return err
	}
	defer stopCounter()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	resolver, err := auth.NewChain(cfg.Auth.Providers, tokens, cfg.Auth.SessionSecret, cfg.App.Dev)
	if err != nil {
		return err
	}

	handler, err := server.New(server.Deps{
		DB:       rt.DB,
		Config:   cfg,
		Log:      log,
		Queue:    rt.Queue,
		Attempts: attempts,
		Tokens:   tokens,
		Resolver: resolver,
		Cache:    cache,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			slog.String("port", cfg.Server.Port),
			slog.Bool("dev", cfg.App.Dev),
			slog.String("queue", cfg.Queue.Driver),
			slog.Any("auth", cfg.Auth.Providers))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("error during shutdown", slog.String("error", err.Error()))
	}
	log.Info("server stopped gracefully")
	return nil
}
