package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/diewo77/quotemaster/internal/metrics"
)

// Dispatcher is the handlers' entry point to the queue. Enqueue never
// fails the caller: errors are logged and counted.
type Dispatcher struct {
	queue   Queue
	log     *slog.Logger
	timeout time.Duration
}

func NewDispatcher(q Queue, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{queue: q, log: log, timeout: 5 * time.Second}
}

// Enqueue sends a job and returns its id, or "" when the send failed.
// The send is detached from ctx cancellation so a client disconnect after
// the write committed does not drop the side effect.
func (d *Dispatcher) Enqueue(ctx context.Context, name string, payload any, opts ...SendOptions) string {
	if d == nil || d.queue == nil {
		return ""
	}
	var o SendOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	id, err := d.queue.Send(ctx, name, payload, o)
	if err != nil {
		metrics.IncEnqueueFailure(name)
		d.log.ErrorContext(ctx, "enqueue failed", slog.String("queue", name), slog.String("error", err.Error()))
		return ""
	}
	metrics.IncJobsEnqueued(name)
	d.log.DebugContext(ctx, "job enqueued", slog.String("queue", name), slog.String("job_id", id))
	return id
}
