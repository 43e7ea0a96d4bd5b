package jobs

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diewo77/quotemaster/internal/logging"
	"github.com/diewo77/quotemaster/internal/models"
)

func TestWorkerRunOnceCompletes(t *testing.T) {
	ctx := context.Background()
	q, _ := startedQueue(t)
	w := NewWorker(q, logging.Discard(), time.Millisecond)

	var seen []string
	w.Register(SendEmail, 1, func(_ context.Context, job *Job) error {
		var p EmailPayload
		require.NoError(t, job.Decode(&p))
		seen = append(seen, p.Subject)
		return nil
	})
	id, err := q.Send(ctx, SendEmail, EmailPayload{Subject: "welcome"}, SendOptions{})
	require.NoError(t, err)

	n, err := w.RunOnce(ctx, SendEmail, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"welcome"}, seen)

	row, _ := q.Get(ctx, id)
	assert.Equal(t, models.JobStateCompleted, row.State)
}

func TestWorkerHandlerErrorSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	q, _ := startedQueue(t)
	w := NewWorker(q, logging.Discard(), time.Millisecond)
	w.Register(SendEmail, 1, func(context.Context, *Job) error { return errors.New("provider down") })

	id, _ := q.Send(ctx, SendEmail, EmailPayload{}, SendOptions{})
	_, err := w.RunOnce(ctx, SendEmail, 1)
	require.NoError(t, err)

	row, _ := q.Get(ctx, id)
	assert.Equal(t, models.JobStateRetry, row.State)
	assert.Equal(t, 1, row.RetryCount)
}

func TestWorkerRecoversPanics(t *testing.T) {
	ctx := context.Background()
	q, _ := startedQueue(t)
	w := NewWorker(q, logging.Discard(), time.Millisecond)
	w.Register(ProcessPayment, 1, func(context.Context, *Job) error { panic("nil map") })

	id, _ := q.Send(ctx, ProcessPayment, PaymentPayload{}, SendOptions{RetryLimit: intPtr(0)})
	_, err := w.RunOnce(ctx, ProcessPayment, 1)
	require.NoError(t, err)

	row, _ := q.Get(ctx, id)
	assert.Equal(t, models.JobStateFailed, row.State)
	require.NotNil(t, row.LastError)
	assert.True(t, strings.HasPrefix(*row.LastError, "panic: nil map"))
}

func TestWorkerRunOnceUnknownQueue(t *testing.T) {
	q, _ := startedQueue(t)
	w := NewWorker(q, logging.Discard(), time.Millisecond)
	_, err := w.RunOnce(context.Background(), SendEmail, 1)
	assert.Error(t, err)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	q, _ := startedQueue(t)
	q.now = func() time.Time { return time.Now().UTC() }
	w := NewWorker(q, logging.Discard(), 5*time.Millisecond)

	var handled atomic.Int32
	w.Register(SendNotification, 2, func(context.Context, *Job) error {
		handled.Add(1)
		return nil
	})
	_, err := q.Send(context.Background(), SendNotification, NotificationPayload{Title: "x"}, SendOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return handled.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerRunWithoutHandlers(t *testing.T) {
	q, _ := startedQueue(t)
	err := NewWorker(q, logging.Discard(), time.Millisecond).Run(context.Background())
	assert.Error(t, err)
}

type failingQueue struct {
	PgQueue
	sends atomic.Int32
}

func (f *failingQueue) Send(context.Context, string, any, SendOptions) (string, error) {
	f.sends.Add(1)
	return "", errors.New("queue unavailable")
}

func TestDispatcherSwallowsErrors(t *testing.T) {
	fq := &failingQueue{}
	d := NewDispatcher(fq, logging.Discard())
	id := d.Enqueue(context.Background(), SendEmail, EmailPayload{})
	assert.Empty(t, id)
	assert.Equal(t, int32(1), fq.sends.Load())

	var nilDispatcher *Dispatcher
	assert.Empty(t, nilDispatcher.Enqueue(context.Background(), SendEmail, nil))
}

func TestDispatcherEnqueue(t *testing.T) {
	q, _ := startedQueue(t)
	d := NewDispatcher(q, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	id := d.Enqueue(ctx, GenerateInvoicePDF, InvoicePayload{UserID: "t", InvoiceID: 3})
	require.NotEmpty(t, id, "a cancelled request context still enqueues")
	row, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, GenerateInvoicePDF, row.Name)
}
