// Package orchestrator owns the job lifecycle: admission into the
// queue, attempt execution against pooled browser engines, retry
// scheduling and final outcome delivery.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scraperd/internal/browser"
	"scraperd/internal/entity"
	"scraperd/internal/queue"
	"scraperd/internal/retry"
	"scraperd/internal/sink"
)

var (
	ErrNotFound = errors.New("job not found")
	// ErrTerminal is returned by Cancel for jobs that already finished.
	ErrTerminal = errors.New("job already finished")
)

type Config struct {
	// Workers is the number of concurrent executors, normally equal to
	// the pool's slot count.
	Workers               int
	DefaultAttemptTimeout time.Duration
	DefaultMaxAttempts    int
	// ArchiveSize caps how many finished jobs stay queryable through
	// Job. The oldest terminal records are evicted first.
	ArchiveSize int
}

func DefaultConfig() Config {
	return Config{
		Workers:               2,
		DefaultAttemptTimeout: time.Minute,
		DefaultMaxAttempts:    3,
		ArchiveSize:           1024,
	}
}

type Orchestrator struct {
	cfg   Config
	log   *zap.Logger
	pool  *browser.Pool
	queue *queue.Queue
	coord *retry.Coordinator
	sched *retry.Scheduler
	out   sink.Sink

	mu      sync.Mutex
	jobs    map[string]*jobRecord
	archive []string // terminal job IDs, oldest first

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	started   bool
	stopped   bool
}

// jobRecord is the mutable state of one job. Its mutex is never held
// across queue, pool, scheduler or sink calls.
type jobRecord struct {
	mu            sync.Mutex
	job           entity.Job
	script        browser.Script
	cancelled     bool
	cancelAttempt context.CancelFunc
	delivered     bool
}

func New(cfg Config, pool *browser.Pool, q *queue.Queue, coord *retry.Coordinator, sched *retry.Scheduler, out sink.Sink, log *zap.Logger) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.DefaultAttemptTimeout <= 0 {
		cfg.DefaultAttemptTimeout = DefaultConfig().DefaultAttemptTimeout
	}
	if cfg.DefaultMaxAttempts < 1 {
		cfg.DefaultMaxAttempts = DefaultConfig().DefaultMaxAttempts
	}
	if cfg.ArchiveSize < 1 {
		cfg.ArchiveSize = DefaultConfig().ArchiveSize
	}
	return &Orchestrator{
		cfg:   cfg,
		log:   log,
		pool:  pool,
		queue: q,
		coord: coord,
		sched: sched,
		out:   out,
		jobs:  make(map[string]*jobRecord),
	}
}

// Start spawns the worker loops. ctx bounds their lifetime; Shutdown
// is the normal way to stop them.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.runCtx, o.runCancel = context.WithCancel(ctx)
	o.mu.Unlock()

	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	o.log.Info("orchestrator started", zap.Int("workers", o.cfg.Workers))
}

type SubmitRequest struct {
	Script         browser.Script
	Priority       int
	AttemptTimeout time.Duration
	MaxAttempts    int
}

// Submit registers a job and enqueues it. A full queue rejects the
// submission outright; the job is never registered.
func (o *Orchestrator) Submit(req SubmitRequest) (entity.Job, error) {
	if req.Script == nil {
		return entity.Job{}, errors.New("script required")
	}

	timeout := req.AttemptTimeout
	if timeout <= 0 {
		timeout = o.cfg.DefaultAttemptTimeout
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = o.cfg.DefaultMaxAttempts
	}

	job := entity.Job{
		ID:             uuid.NewString(),
		Priority:       req.Priority,
		Status:         entity.JobStatusPending,
		MaxAttempts:    maxAttempts,
		AttemptTimeout: timeout,
		SubmittedAt:    time.Now(),
	}
	rec := &jobRecord{job: job, script: req.Script}

	o.mu.Lock()
	o.jobs[job.ID] = rec
	o.mu.Unlock()

	if err := o.queue.Submit(job.ID, job.Priority); err != nil {
		o.mu.Lock()
		delete(o.jobs, job.ID)
		o.mu.Unlock()
		return entity.Job{}, fmt.Errorf("submit job: %w", err)
	}

	o.log.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.Int("priority", job.Priority),
		zap.Int("max_attempts", maxAttempts))
	return job, nil
}

// Job returns a snapshot of the job's current state.
func (o *Orchestrator) Job(jobID string) (entity.Job, error) {
	rec := o.lookup(jobID)
	if rec == nil {
		return entity.Job{}, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.job, nil
}

// Cancel stops a job wherever it currently is: queued jobs leave the
// queue, scheduled retries are dropped, running attempts are
// interrupted. Finished jobs cannot be cancelled.
func (o *Orchestrator) Cancel(jobID string) error {
	rec := o.lookup(jobID)
	if rec == nil {
		return ErrNotFound
	}

	rec.mu.Lock()
	if rec.job.Status.Terminal() {
		rec.mu.Unlock()
		return ErrTerminal
	}
	rec.cancelled = true
	status := rec.job.Status
	cancelAttempt := rec.cancelAttempt
	rec.mu.Unlock()

	switch status {
	case entity.JobStatusPending:
		o.queue.Remove(jobID)
		o.finishCancelled(rec)
	case entity.JobStatusRetryScheduled:
		o.sched.Cancel(jobID)
		o.finishCancelled(rec)
	case entity.JobStatusRunning:
		// The attempt notices the cancel and delivers the outcome.
		if cancelAttempt != nil {
			cancelAttempt()
		}
	}

	o.log.Info("job cancelled", zap.String("job_id", jobID), zap.String("was", string(status)))
	return nil
}

func (o *Orchestrator) QueueLen() int {
	return o.queue.Len()
}

// Shutdown closes the queue, waits for in-flight attempts up to the
// context deadline, then interrupts whatever is left. Every job that
// never finished gets a cancelled outcome.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if !o.started || o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	o.mu.Unlock()

	o.queue.Close()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		o.log.Warn("shutdown grace expired, interrupting attempts")
		o.runCancel()
		<-done
	}
	o.runCancel()
	o.sched.Stop()

	o.mu.Lock()
	records := make([]*jobRecord, 0, len(o.jobs))
	for _, rec := range o.jobs {
		records = append(records, rec)
	}
	o.mu.Unlock()

	for _, rec := range records {
		rec.mu.Lock()
		terminal := rec.job.Status.Terminal()
		if !terminal {
			rec.cancelled = true
		}
		rec.mu.Unlock()
		if !terminal {
			o.finishCancelled(rec)
		}
	}

	o.log.Info("orchestrator stopped")
	return nil
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		item, err := o.queue.Dequeue(o.runCtx)
		if err != nil {
			return
		}
		rec := o.lookup(item.ID)
		if rec == nil {
			continue
		}
		o.runJob(rec)
	}
}

func (o *Orchestrator) runJob(rec *jobRecord) {
	rec.mu.Lock()
	if rec.cancelled || rec.job.Status.Terminal() {
		rec.mu.Unlock()
		return
	}
	rec.job.Status = entity.JobStatusRunning
	jobCtx, cancel := context.WithCancel(o.runCtx)
	rec.cancelAttempt = cancel
	jobID := rec.job.ID
	timeout := rec.job.AttemptTimeout
	script := rec.script
	rec.mu.Unlock()

	defer func() {
		cancel()
		rec.mu.Lock()
		rec.cancelAttempt = nil
		rec.mu.Unlock()
	}()

	lease, err := o.pool.Acquire(jobCtx)
	if err != nil {
		if jobCtx.Err() != nil {
			o.finishCancelled(rec)
			return
		}
		// A failed acquire consumed this attempt.
		o.recordFailure(rec, err)
		return
	}

	attemptCtx, attemptCancel := context.WithTimeout(jobCtx, timeout)
	start := time.Now()
	payload, runErr := script.Run(attemptCtx, lease.Context())
	timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
	attemptCancel()

	o.log.Debug("attempt finished",
		zap.String("job_id", jobID),
		zap.Duration("took", time.Since(start)),
		zap.Bool("timed_out", timedOut),
		zap.Error(runErr))

	switch {
	case runErr == nil:
		lease.Release()
		o.finishSucceeded(rec, payload)
	case timedOut:
		// The engine may still be executing the stuck operation;
		// killing it is the only safe way to reclaim the slot.
		lease.Destroy()
		o.recordFailure(rec, entity.Classified(entity.ErrorKindTimeout, runErr))
	case jobCtx.Err() != nil:
		lease.Destroy()
		o.finishCancelled(rec)
	default:
		if retry.Classify(runErr) == entity.ErrorKindCorrupted {
			lease.Destroy()
		} else {
			lease.Release()
		}
		o.recordFailure(rec, runErr)
	}
}

// recordFailure counts the attempt and either schedules a retry or
// finishes the job, per the coordinator's decision.
func (o *Orchestrator) recordFailure(rec *jobRecord, attemptErr error) {
	rec.mu.Lock()
	rec.job.Attempts++
	attempts := rec.job.Attempts
	maxAttempts := rec.job.MaxAttempts
	cancelled := rec.cancelled
	rec.mu.Unlock()

	if cancelled {
		o.finishCancelled(rec)
		return
	}

	d := o.coord.Decide(attemptErr, attempts, maxAttempts)
	if !d.Retry {
		o.finishFailed(rec, d.Kind, attemptErr)
		return
	}

	rec.mu.Lock()
	rec.job.Status = entity.JobStatusRetryScheduled
	jobID := rec.job.ID
	rec.mu.Unlock()

	o.log.Info("retry scheduled",
		zap.String("job_id", jobID),
		zap.String("kind", string(d.Kind)),
		zap.Int("attempts", attempts),
		zap.Duration("delay", d.Delay))

	o.sched.Schedule(jobID, d.Delay, func() { o.requeue(rec) })
}

func (o *Orchestrator) requeue(rec *jobRecord) {
	rec.mu.Lock()
	if rec.cancelled || rec.job.Status.Terminal() {
		rec.mu.Unlock()
		return
	}
	rec.job.Status = entity.JobStatusPending
	jobID := rec.job.ID
	priority := rec.job.Priority
	rec.mu.Unlock()

	if err := o.queue.Submit(jobID, priority); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			// The shutdown sweep owns the outcome now.
			return
		}
		o.finishFailed(rec, entity.ErrorKindQueueFull, fmt.Errorf("requeue: %w", err))
	}
}

func (o *Orchestrator) finishSucceeded(rec *jobRecord, payload json.RawMessage) {
	rec.mu.Lock()
	rec.job.Attempts++
	rec.job.Status = entity.JobStatusSucceeded
	out := entity.Outcome{
		JobID:      rec.job.ID,
		Status:     entity.JobStatusSucceeded,
		Payload:    payload,
		Attempts:   rec.job.Attempts,
		Elapsed:    time.Since(rec.job.SubmittedAt),
		FinishedAt: time.Now(),
	}
	deliver := !rec.delivered
	rec.delivered = true
	rec.mu.Unlock()

	if deliver {
		o.archiveJob(out.JobID)
		o.out.OnOutcome(out)
	}
}

func (o *Orchestrator) finishFailed(rec *jobRecord, kind entity.ErrorKind, attemptErr error) {
	rec.mu.Lock()
	rec.job.Status = entity.JobStatusFailed
	out := entity.Outcome{
		JobID:      rec.job.ID,
		Status:     entity.JobStatusFailed,
		ErrorKind:  kind,
		Error:      attemptErr.Error(),
		Attempts:   rec.job.Attempts,
		Elapsed:    time.Since(rec.job.SubmittedAt),
		FinishedAt: time.Now(),
	}
	deliver := !rec.delivered
	rec.delivered = true
	rec.mu.Unlock()

	if deliver {
		o.archiveJob(out.JobID)
		o.out.OnOutcome(out)
	}
}

func (o *Orchestrator) finishCancelled(rec *jobRecord) {
	rec.mu.Lock()
	rec.job.Status = entity.JobStatusCancelled
	out := entity.Outcome{
		JobID:      rec.job.ID,
		Status:     entity.JobStatusCancelled,
		Attempts:   rec.job.Attempts,
		Elapsed:    time.Since(rec.job.SubmittedAt),
		FinishedAt: time.Now(),
	}
	deliver := !rec.delivered
	rec.delivered = true
	rec.mu.Unlock()

	if deliver {
		o.archiveJob(out.JobID)
		o.out.OnOutcome(out)
	}
}

// archiveJob runs once per job, right before its terminal outcome is
// delivered. Evicting the oldest finished records keeps the registry
// bounded; evicted jobs are unknown to Job and Cancel afterwards.
func (o *Orchestrator) archiveJob(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.archive = append(o.archive, jobID)
	for len(o.archive) > o.cfg.ArchiveSize {
		evicted := o.archive[0]
		o.archive = o.archive[1:]
		delete(o.jobs, evicted)
	}
}

func (o *Orchestrator) lookup(jobID string) *jobRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.jobs[jobID]
}
