package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/leadflow/outreach/internal/pkg/logger"
)

// =============================================================================
// DELAYED JOB QUEUE - Redis sorted set scheduler with at-least-once delivery
// =============================================================================
// Jobs carry an explicit delay and are dispatched when due. Delivery is
// at-least-once: handlers must be idempotent. Failures retry with
// exponential backoff unless marked Permanent, in which case the job goes
// straight to the dead-letter list.

const (
	scheduledKey = "outreach:jobs:scheduled"
	deadKey      = "outreach:jobs:dead"

	defaultMaxAttempts = 5
	defaultPollEvery   = 250 * time.Millisecond
	retryBackoffBase   = 30 * time.Second
)

// Job is one durably-queued unit of work.
type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Handler processes one job. Returning an error wrapped with Permanent
// dead-letters the job; any other error triggers a backoff retry.
type Handler func(ctx context.Context, job Job) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable (missing data, malformed
// payload). The job transport records it and does not retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err is marked non-retryable.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type registration struct {
	handler Handler
	sem     chan struct{}
}

// Queue is the durable delayed scheduler backing all job contracts.
type Queue struct {
	rdb         *redis.Client
	log         *logger.Logger
	maxAttempts int
	pollEvery   time.Duration
	backoffBase time.Duration

	mu       sync.RWMutex
	handlers map[string]*registration

	wg sync.WaitGroup
}

// New creates a queue on the given Redis client.
func New(rdb *redis.Client) *Queue {
	return &Queue{
		rdb:         rdb,
		log:         logger.With("queue"),
		maxAttempts: defaultMaxAttempts,
		pollEvery:   defaultPollEvery,
		backoffBase: retryBackoffBase,
		handlers:    make(map[string]*registration),
	}
}

// Register installs the handler for a job type with a concurrency bound.
// Jobs of an unregistered type are left in the scheduled set untouched.
func (q *Queue) Register(jobType string, concurrency int, h Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.mu.Lock()
	q.handlers[jobType] = &registration{handler: h, sem: make(chan struct{}, concurrency)}
	q.mu.Unlock()
}

// Enqueue validates and schedules a job to run after delay. A zero delay
// makes it due immediately.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload Payload, delay time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", jobType, err)
	}
	if err := validate(jobType, raw); err != nil {
		return err
	}

	job := Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
	return q.schedule(ctx, job, delay)
}

func (q *Queue) schedule(ctx context.Context, job Job, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	runAt := time.Now().Add(delay)
	if err := q.rdb.ZAdd(ctx, scheduledKey, redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: data,
	}).Err(); err != nil {
		return fmt.Errorf("schedule job %s: %w", job.Type, err)
	}
	return nil
}

// popDue atomically claims up to n due jobs.
var popDueScript = redis.NewScript(`
	local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
	for _, member in ipairs(due) do
		redis.call('ZREM', KEYS[1], member)
	end
	return due
`)

func (q *Queue) popDue(ctx context.Context, n int) ([]Job, error) {
	res, err := popDueScript.Run(ctx, q.rdb, []string{scheduledKey},
		time.Now().UnixMilli(), n).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(res))
	for _, raw := range res {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			// Unparseable members can never run; dead-letter the raw bytes.
			q.rdb.LPush(ctx, deadKey, raw)
			q.log.Error("dead-lettered unparseable job", "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Run polls for due jobs and dispatches them until ctx is cancelled. It
// blocks; callers run it in a goroutine and wait for Run to return on
// shutdown.
func (q *Queue) Run(ctx context.Context) {
	q.log.Info("queue dispatcher started")
	ticker := time.NewTicker(q.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.wg.Wait()
			q.log.Info("queue dispatcher stopped")
			return
		case <-ticker.C:
			jobs, err := q.popDue(ctx, 100)
			if err != nil {
				q.log.Error("claim due jobs", "error", err)
				continue
			}
			for _, job := range jobs {
				q.dispatch(ctx, job)
			}
		}
	}
}

func (q *Queue) dispatch(ctx context.Context, job Job) {
	q.mu.RLock()
	reg, ok := q.handlers[job.Type]
	q.mu.RUnlock()
	if !ok {
		// No handler in this process; put it back for whichever worker
		// owns the type.
		if err := q.schedule(ctx, job, q.pollEvery*4); err != nil {
			q.log.Error("requeue unhandled job type", "type", job.Type, "error", err)
		}
		return
	}

	// The semaphore wait happens off the dispatch loop so one saturated
	// job type cannot stall dispatch of every other type.
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		select {
		case reg.sem <- struct{}{}:
		case <-ctx.Done():
			// Claimed but never run; put it back so it survives shutdown.
			if err := q.schedule(context.WithoutCancel(ctx), job, 0); err != nil {
				q.log.Error("requeue unstarted job", "type", job.Type, "job_id", job.ID, "error", err)
			}
			return
		}
		defer func() { <-reg.sem }()
		q.runJob(ctx, reg.handler, job)
	}()
}

func (q *Queue) runJob(ctx context.Context, h Handler, job Job) {
	err := h(ctx, job)
	if err == nil {
		return
	}

	if IsPermanent(err) {
		q.deadLetter(ctx, job, err)
		return
	}

	job.Attempts++
	if job.Attempts >= q.maxAttempts {
		q.deadLetter(ctx, job, fmt.Errorf("max attempts reached: %w", err))
		return
	}

	backoff := q.backoffBase * time.Duration(1<<(job.Attempts-1))
	q.log.Warn("job failed, retrying",
		"type", job.Type, "job_id", job.ID, "attempt", job.Attempts, "backoff", backoff.String(), "error", err)
	if rerr := q.schedule(ctx, job, backoff); rerr != nil {
		q.log.Error("requeue failed job", "type", job.Type, "job_id", job.ID, "error", rerr)
	}
}

func (q *Queue) deadLetter(ctx context.Context, job Job, cause error) {
	q.log.Error("job dead-lettered", "type", job.Type, "job_id", job.ID, "error", cause)
	entry := struct {
		Job   Job    `json:"job"`
		Error string `json:"error"`
	}{Job: job, Error: cause.Error()}
	data, _ := json.Marshal(entry)
	if err := q.rdb.LPush(ctx, deadKey, data).Err(); err != nil {
		q.log.Error("dead-letter push failed", "job_id", job.ID, "error", err)
	}
}

// Depth returns the number of scheduled jobs, for monitoring.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, scheduledKey).Result()
}
