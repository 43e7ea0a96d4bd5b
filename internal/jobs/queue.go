// Package jobs is the asynchronous side-effect pipeline: a Queue with a
// Postgres table driver and a RabbitMQ driver, a Dispatcher used by the
// HTTP handlers, and a Worker that runs registered handlers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/config"
	"github.com/diewo77/quotemaster/internal/retry"
)

// Job names.
const (
	SendEmail          = "send_email"
	SendInvoiceEmail   = "send_invoice_email"
	SendEstimateEmail  = "send_estimate_email"
	GenerateInvoicePDF = "generate_invoice_pdf"
	ProcessPayment     = "process_payment"
	SendNotification   = "send_notification"
)

// Names lists every queue the worker consumes, in display order.
var Names = []string{
	SendEmail,
	SendInvoiceEmail,
	SendEstimateEmail,
	GenerateInvoicePDF,
	ProcessPayment,
	SendNotification,
}

var (
	ErrQueueStopped = errors.New("jobs: queue not started")
	ErrJobNotFound  = errors.New("jobs: job not found")
)

// Defaults are applied to every job unless SendOptions overrides them.
type Defaults struct {
	RetryLimit   int
	RetryDelay   time.Duration
	RetryBackoff bool
	ExpireIn     time.Duration
}

// DefaultsFromConfig reads QUEUE_RETRY_LIMIT and friends.
func DefaultsFromConfig(cfg config.QueueConfig) Defaults {
	return Defaults{
		RetryLimit:   cfg.RetryLimit,
		RetryDelay:   cfg.RetryDelay,
		RetryBackoff: cfg.RetryBackoff,
		ExpireIn:     cfg.ExpireIn,
	}
}

// SendOptions tune a single job. Zero fields fall back to Defaults.
type SendOptions struct {
	RetryLimit   *int
	RetryDelay   time.Duration
	RetryBackoff *bool
	ExpireIn     time.Duration
	// StartAfter delays the first run.
	StartAfter time.Duration
	// SingletonKey drops the send while a pending job of the same name
	// carries the same key; the pending job's id is returned instead.
	SingletonKey string
}

func (d Defaults) resolve(o SendOptions) (limit int, delay time.Duration, backoff bool, expire time.Duration) {
	limit, delay, backoff, expire = d.RetryLimit, d.RetryDelay, d.RetryBackoff, d.ExpireIn
	if o.RetryLimit != nil {
		limit = *o.RetryLimit
	}
	if o.RetryDelay > 0 {
		delay = o.RetryDelay
	}
	if o.RetryBackoff != nil {
		backoff = *o.RetryBackoff
	}
	if o.ExpireIn > 0 {
		expire = o.ExpireIn
	}
	return
}

// Job is a claimed unit of work handed to a handler.
type Job struct {
	ID         string
	Name       string
	Payload    json.RawMessage
	RetryCount int
	RetryLimit int
	ExpireIn   time.Duration

	delivery *amqp.Delivery
	envelope *envelope
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// QueueStats counts the jobs of one queue by state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Created   int64  `json:"created"`
	Active    int64  `json:"active"`
	Retry     int64  `json:"retry"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Expired   int64  `json:"expired"`
}

// Queue is implemented by PgQueue and AMQPQueue.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, name string, payload any, opts SendOptions) (string, error)
	// Fetch claims up to n runnable jobs of one queue.
	Fetch(ctx context.Context, name string, n int) ([]*Job, error)
	Complete(ctx context.Context, job *Job) error
	// Fail schedules a retry, or parks the job as failed once its retry
	// limit is spent.
	Fail(ctx context.Context, job *Job, cause error) error
	Stats(ctx context.Context) ([]QueueStats, error)
	Ping(ctx context.Context) error
}

// retryDelay is the wait before attempt n+1 (n counts finished attempts
// starting at 0). With backoff the delay doubles on every attempt.
func retryDelay(delay time.Duration, backoff bool, n int) time.Duration {
	if !backoff {
		return delay
	}
	return retry.Backoff(delay, 2, n, 0)
}

// New builds the queue selected by QUEUE_DRIVER.
func New(cfg config.QueueConfig, db *gorm.DB, log *slog.Logger) (Queue, error) {
	defaults := DefaultsFromConfig(cfg)
	switch cfg.Driver {
	case "", "postgres":
		return NewPgQueue(db, defaults, log), nil
	case "amqp":
		return NewAMQPQueue(cfg.RabbitMQURL, defaults, log), nil
	default:
		return nil, errors.New("jobs: unknown queue driver " + cfg.Driver)
	}
}
