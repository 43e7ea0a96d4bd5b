package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	retryCountHeader = "x-retry-count"
	lastErrorHeader  = "x-last-error"
)

// envelope is the message body published for every job.
type envelope struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload"`
	RetryCount   int             `json:"retry_count"`
	RetryLimit   int             `json:"retry_limit"`
	RetryDelay   time.Duration   `json:"retry_delay"`
	RetryBackoff bool            `json:"retry_backoff"`
	ExpireIn     time.Duration   `json:"expire_in"`
	CreatedAt    time.Time       `json:"created_at"`
}

func retryQueue(name string) string  { return name + ".retry" }
func failedQueue(name string) string { return name + ".failed" }

// AMQPQueue runs the job pipeline on RabbitMQ. Every job name maps to a
// durable queue. A failed job is republished to <name>.retry with a
// per-message TTL; the retry queue dead-letters back into <name> when the
// TTL elapses. Exhausted jobs land in <name>.failed.
//
// Singleton keys are not supported on this driver and are ignored.
type AMQPQueue struct {
	url      string
	defaults Defaults
	log      *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPQueue(url string, defaults Defaults, log *slog.Logger) *AMQPQueue {
	if log == nil {
		log = slog.Default()
	}
	return &AMQPQueue{url: url, defaults: defaults, log: log}
}

func (q *AMQPQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.connect(); err != nil {
		return err
	}
	q.log.Info("job queue started", slog.String("driver", "amqp"))
	return nil
}

// connect dials and declares the topology. Callers hold q.mu.
func (q *AMQPQueue) connect() error {
	conn, err := amqp.Dial(q.url)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	for _, name := range Names {
		if err := declare(ch, name); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return err
		}
	}
	q.conn, q.ch = conn, ch
	return nil
}

func declare(ch *amqp.Channel, name string) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", name, err)
	}
	_, err := ch.QueueDeclare(retryQueue(name), true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": name,
	})
	if err != nil {
		return fmt.Errorf("declare %s: %w", retryQueue(name), err)
	}
	if _, err := ch.QueueDeclare(failedQueue(name), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", failedQueue(name), err)
	}
	return nil
}

// channel returns the live channel, reconnecting once after a broker drop.
func (q *AMQPQueue) channel() (*amqp.Channel, error) {
	if q.conn == nil {
		return nil, ErrQueueStopped
	}
	if q.conn.IsClosed() || q.ch.IsClosed() {
		q.log.Warn("rabbitmq connection lost, reconnecting")
		if err := q.connect(); err != nil {
			return nil, err
		}
	}
	return q.ch, nil
}

func (q *AMQPQueue) Stop(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.conn == nil {
		return nil
	}
	var errs []error
	if q.ch != nil {
		errs = append(errs, q.ch.Close())
	}
	errs = append(errs, q.conn.Close())
	q.conn, q.ch = nil, nil
	q.log.Info("job queue stopped", slog.String("driver", "amqp"))
	return errors.Join(ignoreClosed(errs)...)
}

func ignoreClosed(errs []error) []error {
	out := errs[:0]
	for _, err := range errs {
		if err != nil && !errors.Is(err, amqp.ErrClosed) {
			out = append(out, err)
		}
	}
	return out
}

func (q *AMQPQueue) Send(ctx context.Context, name string, payload any, opts SendOptions) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", name, err)
	}
	limit, delay, backoff, expire := q.defaults.resolve(opts)
	env := envelope{
		ID:           uuid.NewString(),
		Name:         name,
		Payload:      body,
		RetryLimit:   limit,
		RetryDelay:   delay,
		RetryBackoff: backoff,
		ExpireIn:     expire,
		CreatedAt:    time.Now().UTC(),
	}
	target := name
	var ttl time.Duration
	if opts.StartAfter > 0 {
		target, ttl = retryQueue(name), opts.StartAfter
	}
	if err := q.publish(ctx, target, env, ttl, nil); err != nil {
		return "", fmt.Errorf("send %s: %w", name, err)
	}
	return env.ID, nil
}

func (q *AMQPQueue) publish(ctx context.Context, queue string, env envelope, ttl time.Duration, extra amqp.Table) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	headers := amqp.Table{retryCountHeader: int32(env.RetryCount)}
	for k, v := range extra {
		headers[k] = v
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Type:         env.Name,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	}
	if ttl > 0 {
		msg.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	ch, err := q.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", queue, false, false, msg)
}

func (q *AMQPQueue) Fetch(_ context.Context, name string, n int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, err := q.channel()
	if err != nil {
		return nil, err
	}

	var out []*Job
	for len(out) < n {
		d, ok, err := ch.Get(name, false)
		if err != nil {
			return out, fmt.Errorf("fetch %s: %w", name, err)
		}
		if !ok {
			break
		}
		var env envelope
		if err := json.Unmarshal(d.Body, &env); err != nil {
			q.log.Error("dropping undecodable message", slog.String("queue", name), slog.String("error", err.Error()))
			_ = d.Reject(false)
			continue
		}
		env.RetryCount = headerRetryCount(d.Headers, env.RetryCount)
		delivery := d
		out = append(out, &Job{
			ID:         env.ID,
			Name:       name,
			Payload:    env.Payload,
			RetryCount: env.RetryCount,
			RetryLimit: env.RetryLimit,
			ExpireIn:   env.ExpireIn,
			delivery:   &delivery,
			envelope:   &env,
		})
	}
	return out, nil
}

// headerRetryCount reads x-retry-count, falling back to the body value.
func headerRetryCount(h amqp.Table, fallback int) int {
	switch v := h[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func (q *AMQPQueue) Complete(_ context.Context, job *Job) error {
	if job.delivery == nil {
		return ErrJobNotFound
	}
	return job.delivery.Ack(false)
}

func (q *AMQPQueue) Fail(ctx context.Context, job *Job, cause error) error {
	if job.delivery == nil || job.envelope == nil {
		return ErrJobNotFound
	}
	env := *job.envelope
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	var err error
	if env.RetryCount < env.RetryLimit {
		wait := retryDelay(env.RetryDelay, env.RetryBackoff, env.RetryCount)
		env.RetryCount++
		err = q.publish(ctx, retryQueue(env.Name), env, wait, amqp.Table{lastErrorHeader: msg})
	} else {
		err = q.publish(ctx, failedQueue(env.Name), env, 0, amqp.Table{lastErrorHeader: msg})
	}
	if err != nil {
		// leave the original for redelivery
		_ = job.delivery.Nack(false, true)
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	return job.delivery.Ack(false)
}

func (q *AMQPQueue) Stats(context.Context) ([]QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, err := q.channel()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*QueueStats, len(Names))
	for _, name := range Names {
		s := &QueueStats{Queue: name}
		depth := func(queue string) (int64, error) {
			info, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
			return int64(info.Messages), err
		}
		if s.Created, err = depth(name); err != nil {
			return nil, fmt.Errorf("inspect %s: %w", name, err)
		}
		if s.Retry, err = depth(retryQueue(name)); err != nil {
			return nil, fmt.Errorf("inspect %s: %w", retryQueue(name), err)
		}
		if s.Failed, err = depth(failedQueue(name)); err != nil {
			return nil, fmt.Errorf("inspect %s: %w", failedQueue(name), err)
		}
		byName[name] = s
	}
	return sortedStats(byName), nil
}

func (q *AMQPQueue) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.conn == nil || q.conn.IsClosed() {
		return ErrQueueStopped
	}
	return nil
}
