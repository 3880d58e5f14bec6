package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix  = "job:"
	pendingKey    = "jobs:pending"
	processingKey = "jobs:processing"
	delayedKey    = "jobs:delayed"
	deadKey       = "jobs:dead"

	jobTTL = 7 * 24 * time.Hour
)

// RedisQueue stores jobs in Redis lists so they survive restarts and can be
// consumed by several instances. Failed jobs wait in a sorted set until their
// retry time, then move back to the pending list.
type RedisQueue struct {
	*Dispatcher
	client       redis.UniversalClient
	prefix       string
	workers      int
	maxRetries   int
	initialDelay time.Duration
	stuckAfter   time.Duration
	wg           sync.WaitGroup
}

func NewRedisQueue(client redis.UniversalClient, d *Dispatcher, prefix string, workers, maxRetries int) *RedisQueue {
	if workers <= 0 {
		workers = 3
	}
	return &RedisQueue{
		Dispatcher:   d,
		client:       client,
		prefix:       prefix,
		workers:      workers,
		maxRetries:   maxRetries,
		initialDelay: 5 * time.Second,
		stuckAfter:   10 * time.Minute,
	}
}

func (q *RedisQueue) key(k string) string { return q.prefix + k }

// Enqueue adds a new job to the queue
func (q *RedisQueue) Enqueue(ctx context.Context, jobType JobType, resourceID string, meta map[string]string) (*Job, error) {
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

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.key(jobKeyPrefix+job.ID), data, jobTTL)
	pipe.LPush(ctx, q.key(pendingKey), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job, nil
}

// Start launches the workers, the delayed-job promoter and the stuck sweeper.
func (q *RedisQueue) Start(ctx context.Context) {
	logger.Info(fmt.Sprintf("starting %d queue workers", q.workers))

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}

	q.wg.Add(2)
	go q.every(ctx, time.Second, q.promoteDue)
	go q.every(ctx, time.Minute, q.sweepStuck)
}

// Wait blocks until all workers have stopped.
func (q *RedisQueue) Wait() {
	q.wg.Wait()
}

func (q *RedisQueue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := q.dequeue(ctx)
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				logger.Error("dequeue failed", err)
				time.Sleep(time.Second)
			}
			continue
		}

		q.process(ctx, job)
	}
}

func (q *RedisQueue) dequeue(ctx context.Context) (*Job, error) {
	id, err := q.client.BLMove(ctx, q.key(pendingKey), q.key(processingKey), "RIGHT", "LEFT", time.Second).Result()
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		q.client.LRem(ctx, q.key(processingKey), 1, id)
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return job, nil
}

func (q *RedisQueue) process(ctx context.Context, job *Job) {
	job.markProcessing(time.Now())
	q.save(ctx, job)

	q.run(ctx, job)

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.key(processingKey), 1, job.ID)
	switch job.Status {
	case JobStatusCompleted:
		pipe.Del(ctx, q.key(jobKeyPrefix+job.ID))
	case JobStatusRetrying:
		due := time.Now().Add(retryDelay(job.RetryCount, q.initialDelay))
		pipe.ZAdd(ctx, q.key(delayedKey), redis.Z{Score: float64(due.UnixMilli()), Member: job.ID})
	case JobStatusDead:
		pipe.LPush(ctx, q.key(deadKey), job.ID)
	}
	if data, err := json.Marshal(job); err == nil && job.Status != JobStatusCompleted {
		pipe.Set(ctx, q.key(jobKeyPrefix+job.ID), data, jobTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("failed to record job outcome", err, logger.LogContext{Fields: map[string]any{"job_id": job.ID}})
	}
}

// promoteDue moves delayed jobs whose retry time has passed back to pending.
// ZRem decides ownership so concurrent promoters never push a job twice.
func (q *RedisQueue) promoteDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.key(delayedKey), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.key(delayedKey), id).Result()
		if err != nil || removed == 0 {
			continue
		}
		q.client.LPush(ctx, q.key(pendingKey), id)
	}
}

// sweepStuck requeues jobs left in processing by a crashed worker.
func (q *RedisQueue) sweepStuck(ctx context.Context) {
	ids, err := q.client.LRange(ctx, q.key(processingKey), 0, -1).Result()
	if err != nil {
		return
	}

	now := time.Now()
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			q.client.LRem(ctx, q.key(processingKey), 1, id)
			continue
		}
		if job.ProcessedAt == nil || now.Sub(*job.ProcessedAt) < q.stuckAfter {
			continue
		}

		logger.Warn("recovering stuck job", logger.LogContext{Fields: map[string]any{"job_id": id, "type": string(job.Type)}})
		job.Status = JobStatusPending
		job.UpdatedAt = now
		q.save(ctx, job)
		if removed, _ := q.client.LRem(ctx, q.key(processingKey), 1, id).Result(); removed > 0 {
			q.client.RPush(ctx, q.key(pendingKey), id)
		}
	}
}

func (q *RedisQueue) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (q *RedisQueue) save(ctx context.Context, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := q.client.Set(ctx, q.key(jobKeyPrefix+job.ID), data, jobTTL).Err(); err != nil {
		logger.Error("failed to update job", err, logger.LogContext{Fields: map[string]any{"job_id": job.ID}})
	}
}

// GetJob retrieves a job by ID
func (q *RedisQueue) GetJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, q.key(jobKeyPrefix+id)).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Sizes reports pending, delayed and dead counts.
func (q *RedisQueue) Sizes(ctx context.Context) (pending, delayed, dead int64, err error) {
	pipe := q.client.Pipeline()
	p := pipe.LLen(ctx, q.key(pendingKey))
	d := pipe.ZCard(ctx, q.key(delayedKey))
	x := pipe.LLen(ctx, q.key(deadKey))
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return p.Val(), d.Val(), x.Val(), nil
}
