package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrQueueFull = errors.New("job queue is full")

// MemoryQueue is an in-process queue for development and tests. Jobs are lost
// on restart.
type MemoryQueue struct {
	*Dispatcher
	jobs         chan *Job
	workers      int
	maxRetries   int
	initialDelay time.Duration

	mu   sync.Mutex
	dead []Job
	wg   sync.WaitGroup
}

func NewMemoryQueue(d *Dispatcher, workers, maxRetries, buffer int) *MemoryQueue {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryQueue{
		Dispatcher:   d,
		jobs:         make(chan *Job, buffer),
		workers:      workers,
		maxRetries:   maxRetries,
		initialDelay: time.Second,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobType JobType, resourceID string, meta map[string]string) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		ResourceID: resourceID,
		Status:     JobStatusPending,
		Meta:       meta,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: q.maxRetries,
	}

	select {
	case q.jobs <- job:
		return job, nil
	default:
		return nil, ErrQueueFull
	}
}

// Start runs the workers until ctx is done. Wait blocks until they exit.
func (q *MemoryQueue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-q.jobs:
					q.process(ctx, job)
				}
			}
		}()
	}
}

func (q *MemoryQueue) Wait() {
	q.wg.Wait()
}

func (q *MemoryQueue) process(ctx context.Context, job *Job) {
	q.run(ctx, job)

	switch job.Status {
	case JobStatusRetrying:
		delay := retryDelay(job.RetryCount, q.initialDelay)
		time.AfterFunc(delay, func() {
			select {
			case q.jobs <- job:
			case <-ctx.Done():
			}
		})
	case JobStatusDead:
		q.mu.Lock()
		q.dead = append(q.dead, *job)
		q.mu.Unlock()
	}
}

// DeadJobs returns jobs that exhausted their retries.
func (q *MemoryQueue) DeadJobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.dead))
	copy(out, q.dead)
	return out
}
