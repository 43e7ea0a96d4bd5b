package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/diewo77/quotemaster/internal/metrics"
	"github.com/diewo77/quotemaster/internal/tracing"
)

// HandlerFunc runs one job. A returned error triggers Queue.Fail.
type HandlerFunc func(ctx context.Context, job *Job) error

// Purger is implemented by queues that keep finished jobs around.
type Purger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

type registration struct {
	handler     HandlerFunc
	concurrency int
}

// Worker polls each registered queue and runs its handler with bounded
// concurrency. Stop it by cancelling the context given to Run.
type Worker struct {
	queue     Queue
	log       *slog.Logger
	poll      time.Duration
	retention time.Duration
	handlers  map[string]registration
	tracer    trace.Tracer

	wg sync.WaitGroup
}

func NewWorker(q Queue, log *slog.Logger, poll time.Duration) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Worker{
		queue:     q,
		log:       log,
		poll:      poll,
		retention: 7 * 24 * time.Hour,
		handlers:  make(map[string]registration),
		tracer:    tracing.Tracer("jobs"),
	}
}

// Register binds a handler to a queue name. concurrency below 1 means 1.
func (w *Worker) Register(name string, concurrency int, h HandlerFunc) {
	if concurrency < 1 {
		concurrency = 1
	}
	w.handlers[name] = registration{handler: h, concurrency: concurrency}
}

// Queues returns the registered queue names.
func (w *Worker) Queues() []string {
	out := make([]string, 0, len(w.handlers))
	for _, name := range Names {
		if _, ok := w.handlers[name]; ok {
			out = append(out, name)
		}
	}
	for name := range w.handlers {
		if !contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Run starts one poller per queue and blocks until ctx is cancelled.
// In-flight jobs are allowed to finish before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.handlers) == 0 {
		return errors.New("jobs: no handlers registered")
	}
	for _, name := range w.Queues() {
		reg := w.handlers[name]
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.pollQueue(ctx, name, reg)
		}()
	}
	if p, ok := w.queue.(Purger); ok {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.purgeLoop(ctx, p)
		}()
	}
	w.log.Info("worker started", slog.Any("queues", w.Queues()), slog.Duration("poll_interval", w.poll))

	<-ctx.Done()
	w.log.Info("worker stopping, waiting for in-flight jobs")
	w.wg.Wait()
	w.log.Info("worker stopped")
	return nil
}

func (w *Worker) pollQueue(ctx context.Context, name string, reg registration) {
	sem := make(chan struct{}, reg.concurrency)
	var inflight sync.WaitGroup
	defer inflight.Wait()

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		if free := reg.concurrency - len(sem); free > 0 {
			jobs, err := w.queue.Fetch(ctx, name, free)
			if err != nil && ctx.Err() == nil {
				w.log.Error("fetch failed", slog.String("queue", name), slog.String("error", err.Error()))
			}
			for _, job := range jobs {
				sem <- struct{}{}
				inflight.Add(1)
				go func() {
					defer func() {
						<-sem
						inflight.Done()
					}()
					w.process(context.WithoutCancel(ctx), reg.handler, job)
				}()
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) purgeLoop(ctx context.Context, p Purger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Purge(ctx, w.retention)
			if err != nil {
				w.log.Error("purge failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				w.log.Info("purged finished jobs", slog.Int64("count", n))
			}
		}
	}
}

// RunOnce fetches and handles up to n jobs of one queue synchronously.
// It returns the number of jobs handled.
func (w *Worker) RunOnce(ctx context.Context, name string, n int) (int, error) {
	reg, ok := w.handlers[name]
	if !ok {
		return 0, fmt.Errorf("jobs: no handler for %s", name)
	}
	jobs, err := w.queue.Fetch(ctx, name, n)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		w.process(ctx, reg.handler, job)
	}
	return len(jobs), nil
}

func (w *Worker) process(ctx context.Context, h HandlerFunc, job *Job) {
	if job.ExpireIn > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.ExpireIn)
		defer cancel()
	}
	ctx, span := w.tracer.Start(ctx, "job "+job.Name, trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.queue", job.Name),
		attribute.Int("job.retry_count", job.RetryCount),
	))
	defer span.End()

	log := w.log.With(slog.String("queue", job.Name), slog.String("job_id", job.ID), slog.Int("attempt", job.RetryCount+1))
	metrics.JobStarted()
	defer metrics.JobFinished()
	start := time.Now()

	err := w.safeRun(ctx, h, job)
	if err == nil {
		if cerr := w.queue.Complete(ctx, job); cerr != nil {
			log.Error("complete failed", slog.String("error", cerr.Error()))
		}
		metrics.ObserveJob(job.Name, "completed", time.Since(start))
		log.Info("job completed", slog.Duration("duration", time.Since(start)))
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	result := "retry"
	if job.RetryCount >= job.RetryLimit {
		result = "failed"
	}
	// the handler context may be past its deadline
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if ferr := w.queue.Fail(failCtx, job, err); ferr != nil {
		log.Error("fail failed", slog.String("error", ferr.Error()))
	}
	metrics.ObserveJob(job.Name, result, time.Since(start))
	log.Warn("job failed", slog.String("error", err.Error()), slog.String("result", result))
}

func (w *Worker) safeRun(ctx context.Context, h HandlerFunc, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("job panic", slog.String("queue", job.Name), slog.String("job_id", job.ID),
				slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, job)
}
