package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/mstgnz/coursepay/infra/metrics"
)

// Dispatcher routes jobs to handlers by type. Both queue implementations share it.
type Dispatcher struct {
	mu         sync.RWMutex
	handlers   map[JobType]Handler
	listeners  []Listener
	metrics    *metrics.Metrics
	jobTimeout time.Duration
}

func NewDispatcher(m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		handlers:   make(map[JobType]Handler),
		metrics:    m,
		jobTimeout: 2 * time.Minute,
	}
}

// Handle registers h for jobType, replacing any previous handler.
func (d *Dispatcher) Handle(jobType JobType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[jobType] = h
}

// OnStatus registers a listener notified on every job status change.
func (d *Dispatcher) OnStatus(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

func (d *Dispatcher) notify(job Job) {
	d.mu.RLock()
	listeners := d.listeners
	d.mu.RUnlock()
	for _, l := range listeners {
		l(job)
	}
}

// run executes the handler for job and updates its status in place.
func (d *Dispatcher) run(ctx context.Context, job *Job) {
	d.mu.RLock()
	h, ok := d.handlers[job.Type]
	d.mu.RUnlock()

	job.markProcessing(time.Now())
	d.notify(*job)

	var err error
	if !ok {
		err = fmt.Errorf("no handler for job type %q", job.Type)
		// retrying cannot help
		job.RetryCount = job.MaxRetries
	} else {
		jobCtx, cancel := context.WithTimeout(ctx, d.jobTimeout)
		err = safeCall(jobCtx, h, job)
		cancel()
	}

	logCtx := logger.LogContext{
		Operation: "job." + string(job.Type),
		Fields:    map[string]any{"job_id": job.ID, "resource_id": job.ResourceID, "attempt": job.RetryCount + 1},
	}

	if err != nil {
		job.markFailed(err, time.Now())
		if job.Status == JobStatusDead {
			logger.Error("job dead-lettered", err, logCtx)
			d.metrics.IncWebhookJob(string(job.Type), "dead")
		} else {
			logger.Warn("job failed, will retry: "+err.Error(), logCtx)
			d.metrics.IncWebhookJob(string(job.Type), "retry")
		}
	} else {
		job.markCompleted(time.Now())
		logger.Debug("job completed", logCtx)
		d.metrics.IncWebhookJob(string(job.Type), "ok")
	}

	d.notify(*job)
}

func safeCall(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}
