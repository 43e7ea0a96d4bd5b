package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/diewo77/quotemaster/internal/models"
)

var pendingStates = []models.JobState{models.JobStateCreated, models.JobStateRetry, models.JobStateActive}

// PgQueue stores jobs in the jobs table. Rows are claimed with
// SELECT ... FOR UPDATE SKIP LOCKED so several workers can poll the same
// queue without handing out a job twice.
type PgQueue struct {
	db       *gorm.DB
	defaults Defaults
	log      *slog.Logger
	now      func() time.Time
	started  atomic.Bool
}

func NewPgQueue(db *gorm.DB, defaults Defaults, log *slog.Logger) *PgQueue {
	if log == nil {
		log = slog.Default()
	}
	return &PgQueue{
		db:       db,
		defaults: defaults,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (q *PgQueue) Start(ctx context.Context) error {
	if err := q.Ping(ctx); err != nil {
		return fmt.Errorf("start job queue: %w", err)
	}
	q.started.Store(true)
	q.log.Info("job queue started", slog.String("driver", "postgres"),
		slog.Int("retry_limit", q.defaults.RetryLimit),
		slog.Duration("retry_delay", q.defaults.RetryDelay),
		slog.Bool("retry_backoff", q.defaults.RetryBackoff),
		slog.Duration("expire_in", q.defaults.ExpireIn))
	return nil
}

func (q *PgQueue) Stop(context.Context) error {
	if q.started.Swap(false) {
		q.log.Info("job queue stopped", slog.String("driver", "postgres"))
	}
	return nil
}

func (q *PgQueue) Send(ctx context.Context, name string, payload any, opts SendOptions) (string, error) {
	if !q.started.Load() {
		return "", ErrQueueStopped
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", name, err)
	}
	limit, delay, backoff, expire := q.defaults.resolve(opts)
	now := q.now()
	row := models.Job{
		ID:           uuid.NewString(),
		Name:         name,
		State:        models.JobStateCreated,
		Payload:      datatypes.JSON(body),
		RetryLimit:   limit,
		RetryDelay:   delay,
		RetryBackoff: backoff,
		ExpireIn:     expire,
		StartAfter:   now.Add(opts.StartAfter),
	}
	if opts.SingletonKey != "" {
		key := opts.SingletonKey
		row.SingletonKey = &key
	}

	err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if row.SingletonKey != nil {
			var existing models.Job
			err := tx.Select("id").
				Where("name = ? AND singleton_key = ? AND state IN ?", name, *row.SingletonKey, pendingStates).
				Take(&existing).Error
			if err == nil {
				row.ID = existing.ID
				return errDuplicate
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		return tx.Create(&row).Error
	})
	if errors.Is(err, errDuplicate) {
		q.log.Debug("singleton job already pending", slog.String("queue", name), slog.String("job_id", row.ID))
		return row.ID, nil
	}
	if err != nil {
		return "", fmt.Errorf("send %s: %w", name, err)
	}
	return row.ID, nil
}

var errDuplicate = errors.New("duplicate singleton")

func (q *PgQueue) Fetch(ctx context.Context, name string, n int) ([]*Job, error) {
	if n <= 0 {
		return nil, nil
	}
	now := q.now()
	if err := q.expireStale(ctx, name, now); err != nil {
		return nil, err
	}

	var rows []models.Job
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("name = ? AND state IN ? AND start_after <= ?", name,
				[]models.JobState{models.JobStateCreated, models.JobStateRetry}, now).
			Order("start_after ASC, created_at ASC").
			Limit(n).
			Find(&rows).Error
		if err != nil || len(rows) == 0 {
			return err
		}
		ids := make([]string, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
			rows[i].State = models.JobStateActive
			rows[i].StartedAt = &now
		}
		return tx.Model(&models.Job{}).Where("id IN ?", ids).
			Updates(map[string]any{"state": models.JobStateActive, "started_at": now, "updated_at": now}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}

	out := make([]*Job, len(rows))
	for i, r := range rows {
		out[i] = &Job{
			ID:         r.ID,
			Name:       r.Name,
			Payload:    json.RawMessage(r.Payload),
			RetryCount: r.RetryCount,
			RetryLimit: r.RetryLimit,
			ExpireIn:   r.ExpireIn,
		}
	}
	return out, nil
}

func (q *PgQueue) Complete(ctx context.Context, job *Job) error {
	now := q.now()
	res := q.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND state = ?", job.ID, models.JobStateActive).
		Updates(map[string]any{"state": models.JobStateCompleted, "completed_at": now, "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (q *PgQueue) Fail(ctx context.Context, job *Job, cause error) error {
	_, err := q.settle(ctx, job.ID, cause, models.JobStateFailed, q.now())
	return err
}

// settle moves an active job to retry, or to terminal once the retry
// limit is reached. It reports whether a retry was scheduled.
func (q *PgQueue) settle(ctx context.Context, id string, cause error, terminal models.JobState, now time.Time) (bool, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	retried := false
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Job
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND state = ?", id, models.JobStateActive).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}

		updates := map[string]any{"last_error": msg, "updated_at": now}
		if row.RetryCount < row.RetryLimit {
			retried = true
			updates["state"] = models.JobStateRetry
			updates["retry_count"] = row.RetryCount + 1
			updates["start_after"] = now.Add(retryDelay(row.RetryDelay, row.RetryBackoff, row.RetryCount))
		} else {
			updates["state"] = terminal
			updates["completed_at"] = now
		}
		return tx.Model(&models.Job{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return false, err
		}
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}
	return retried, nil
}

// expireStale fails active jobs that outlived their expire_in, which
// happens when a worker died while holding them.
func (q *PgQueue) expireStale(ctx context.Context, name string, now time.Time) error {
	var active []models.Job
	err := q.db.WithContext(ctx).
		Select("id", "started_at", "expire_in").
		Where("name = ? AND state = ? AND expire_in > 0", name, models.JobStateActive).
		Find(&active).Error
	if err != nil {
		return fmt.Errorf("scan active %s jobs: %w", name, err)
	}
	for _, row := range active {
		if row.StartedAt == nil || now.Sub(*row.StartedAt) < row.ExpireIn {
			continue
		}
		retried, err := q.settle(ctx, row.ID, errors.New("job expired"), models.JobStateExpired, now)
		if err != nil && !errors.Is(err, ErrJobNotFound) {
			return err
		}
		q.log.Warn("job expired", slog.String("queue", name), slog.String("job_id", row.ID), slog.Bool("retried", retried))
	}
	return nil
}

func (q *PgQueue) Stats(ctx context.Context) ([]QueueStats, error) {
	var rows []struct {
		Name  string
		State models.JobState
		Count int64
	}
	err := q.db.WithContext(ctx).Model(&models.Job{}).
		Select("name, state, count(*) AS count").
		Group("name, state").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	byName := make(map[string]*QueueStats, len(Names))
	for _, name := range Names {
		byName[name] = &QueueStats{Queue: name}
	}
	for _, r := range rows {
		s, ok := byName[r.Name]
		if !ok {
			s = &QueueStats{Queue: r.Name}
			byName[r.Name] = s
		}
		switch r.State {
		case models.JobStateCreated:
			s.Created += r.Count
		case models.JobStateActive:
			s.Active += r.Count
		case models.JobStateRetry:
			s.Retry += r.Count
		case models.JobStateCompleted:
			s.Completed += r.Count
		case models.JobStateFailed:
			s.Failed += r.Count
		case models.JobStateExpired:
			s.Expired += r.Count
		}
	}
	return sortedStats(byName), nil
}

// sortedStats keeps the known queues first, in Names order.
func sortedStats(byName map[string]*QueueStats) []QueueStats {
	rank := make(map[string]int, len(Names))
	for i, n := range Names {
		rank[n] = i
	}
	out := make([]QueueStats, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iok := rank[out[i].Queue]
		rj, jok := rank[out[j].Queue]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i].Queue < out[j].Queue
		}
	})
	return out
}

func (q *PgQueue) Ping(ctx context.Context) error {
	sqlDB, err := q.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Get loads one job row.
func (q *PgQueue) Get(ctx context.Context, id string) (*models.Job, error) {
	var row models.Job
	err := q.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Purge deletes finished jobs whose completion is older than retention.
func (q *PgQueue) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := q.now().Add(-retention)
	res := q.db.WithContext(ctx).
		Where("state IN ? AND completed_at < ?",
			[]models.JobState{models.JobStateCompleted, models.JobStateFailed, models.JobStateExpired}, cutoff).
		Delete(&models.Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
