// Command worker consumes the job queues: email delivery, invoice PDFs,
// payment bookkeeping and notifications.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diewo77/quotemaster/internal/app"
	"github.com/diewo77/quotemaster/internal/jobs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	rt, err := app.Open(ctx, cfg, "worker")
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			rt.Log.Error("close failed", slog.String("error", err.Error()))
		}
	}()
	if err := rt.StartQueue(ctx); err != nil {
		return err
	}

	mailer := jobs.NewMailer(cfg.Email.ResendAPIKey, cfg.Email.From, rt.Log)
	if !mailer.Enabled() {
		rt.Log.Warn("RESEND_API_KEY not set, email jobs will be skipped")
	}
	w := jobs.NewWorker(rt.Queue, rt.Log, cfg.Queue.PollInterval)
	jobs.NewHandlers(rt.DB, mailer, cfg.PDF.OutputDir, rt.Log).Register(w)

	return w.Run(ctx)
}
