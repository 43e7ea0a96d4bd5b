package models

import (
	"time"

	"gorm.io/datatypes"
)

// JobState is the lifecycle state of a queued job.
type JobState string

const (
	JobStateCreated   JobState = "created"
	JobStateActive    JobState = "active"
	JobStateRetry     JobState = "retry"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateExpired   JobState = "expired"
)

// Job is a row of the database-backed queue.
type Job struct {
	ID    string   `gorm:"primaryKey;size:36" json:"id"`
	Name  string   `gorm:"size:100;not null;index:idx_jobs_fetch,priority:1" json:"name"`
	State JobState `gorm:"size:20;not null;default:created;index:idx_jobs_fetch,priority:2" json:"state"`

	Payload datatypes.JSON `json:"payload"`

	RetryCount   int           `gorm:"not null;default:0" json:"retry_count"`
	RetryLimit   int           `gorm:"not null" json:"retry_limit"`
	RetryDelay   time.Duration `gorm:"not null;default:0" json:"retry_delay"`
	RetryBackoff bool          `gorm:"not null;default:false" json:"retry_backoff"`
	ExpireIn     time.Duration `gorm:"not null;default:0" json:"expire_in"`

	SingletonKey *string `gorm:"size:255;index" json:"singleton_key,omitempty"`
	LastError    *string `gorm:"type:text" json:"last_error,omitempty"`

	StartAfter  time.Time  `gorm:"not null;index:idx_jobs_fetch,priority:3" json:"start_after"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Terminal reports whether the job will not run again.
func (j *Job) Terminal() bool {
	switch j.State {
	case JobStateCompleted, JobStateFailed, JobStateExpired:
		return true
	}
	return false
}
