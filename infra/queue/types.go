// Package queue runs background jobs (webhook processing) with retries and
// dead-lettering. Handlers must be idempotent: a job may run more than once.
package queue

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// JobType defines the type of job
type JobType string

const (
	JobTypePayment             JobType = "payment"
	JobTypeSubscriptionPayment JobType = "subscription_authorized_payment"
	JobTypeSubscription        JobType = "subscription_preapproval"
	JobTypeClaim               JobType = "claim"
	JobTypeChargeback          JobType = "chargeback"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusDead       JobStatus = "dead"
)

const DefaultMaxRetries = 5

// Job represents a background job
type Job struct {
	ID          string            `json:"id"`
	Type        JobType           `json:"type"`
	ResourceID  string            `json:"resource_id"`
	Status      JobStatus         `json:"status"`
	Meta        map[string]string `json:"meta,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty"`
	ErrorMsg    string            `json:"error_msg,omitempty"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
}

func (j *Job) markProcessing(now time.Time) {
	j.Status = JobStatusProcessing
	j.ProcessedAt = &now
	j.UpdatedAt = now
}

func (j *Job) markFailed(err error, now time.Time) {
	j.RetryCount++
	j.ErrorMsg = err.Error()
	j.UpdatedAt = now
	if j.RetryCount > j.MaxRetries {
		j.Status = JobStatusDead
		return
	}
	j.Status = JobStatusRetrying
}

func (j *Job) markCompleted(now time.Time) {
	j.Status = JobStatusCompleted
	j.ErrorMsg = ""
	j.UpdatedAt = now
}

// Handler processes one job.
type Handler func(ctx context.Context, job *Job) error

// Listener observes job status changes.
type Listener func(job Job)

// Queue accepts jobs.
type Queue interface {
	Enqueue(ctx context.Context, jobType JobType, resourceID string, meta map[string]string) (*Job, error)
}

// retryDelay returns the wait before attempt n (1-based) using an exponential
// schedule without jitter.
func retryDelay(n int, initial time.Duration) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 10 * time.Minute
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}
