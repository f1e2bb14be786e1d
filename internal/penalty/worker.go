package penalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/scrollguard/internal/metrics"
	"github.com/mbd888/scrollguard/internal/retry"
	"github.com/mbd888/scrollguard/internal/traces"
)

// Executor is the external penalty-executor capability. It reduces the
// custodial balance of an identity and returns a settlement reference.
// Transient failures are plain errors; business failures that can never
// succeed (e.g. no custodial balance) must be wrapped with retry.Permanent.
type Executor interface {
	Execute(ctx context.Context, identityKey, amount string) (txRef string, err error)
}

// Notifier receives job outcome events (for the realtime feed). Optional.
type Notifier interface {
	PenaltyExecuted(job *Job)
}

// Worker polls the queue and drives jobs through their state machine.
// Delivery to the worker is at-least-once; the terminal-state re-check in
// Process is what keeps real-world execution at-most-once per job.
type Worker struct {
	queue    Queue
	executor Executor
	logger   *slog.Logger

	pollInterval time.Duration
	execTimeout  time.Duration
	maxAttempts  int
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	notifier     Notifier

	stop chan struct{}
	done chan struct{}
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPollInterval sets how often the worker polls for due jobs.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.pollInterval = d }
}

// WithExecTimeout bounds a single executor call.
func WithExecTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.execTimeout = d }
}

// WithMaxAttempts bounds retries before a job is failed permanently.
func WithMaxAttempts(n int) WorkerOption {
	return func(w *Worker) { w.maxAttempts = n }
}

// WithBackoff sets the retry backoff base and cap.
func WithBackoff(base, max time.Duration) WorkerOption {
	return func(w *Worker) { w.baseBackoff = base; w.maxBackoff = max }
}

// WithNotifier sets the outcome notifier.
func WithNotifier(n Notifier) WorkerOption {
	return func(w *Worker) { w.notifier = n }
}

// NewWorker creates a penalty worker.
func NewWorker(queue Queue, executor Executor, logger *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:        queue,
		executor:     executor,
		logger:       logger,
		pollInterval: 2 * time.Second,
		execTimeout:  30 * time.Second,
		maxAttempts:  5,
		baseBackoff:  5 * time.Second,
		maxBackoff:   5 * time.Minute,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the poll loop until Stop is called or ctx is cancelled.
// Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("penalty worker started", "poll_interval", w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// Stop signals the worker to exit and waits for the loop to finish.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

// drain processes due jobs until the queue is empty.
func (w *Worker) drain(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if errors.Is(err, ErrNoJob) {
			w.observeDepth(ctx)
			return
		}
		if err != nil {
			w.logger.Error("penalty dequeue failed", "error", err)
			return
		}
		w.Process(ctx, job)

		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}
	}
}

// Process runs one delivered job to an outcome. The job may be a stale
// redelivery, so the current state is re-read by ID first: a job already
// in a terminal state is never executed again.
func (w *Worker) Process(ctx context.Context, job *Job) {
	ctx, span := traces.StartSpan(ctx, "penalty.process",
		traces.JobID(job.ID), traces.IdentityKey(job.IdentityKey), traces.Amount(job.Amount))
	defer span.End()

	current, err := w.queue.Get(ctx, job.ID)
	if err != nil {
		w.logger.Error("penalty job lookup failed", "job_id", job.ID, "error", err)
		return
	}
	if current.Status.Terminal() {
		w.logger.Info("skipping terminal penalty job", "job_id", job.ID, "status", current.Status)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, w.execTimeout)
	txRef, execErr := w.executor.Execute(execCtx, current.IdentityKey, current.Amount)
	cancel()

	switch {
	case execErr == nil:
		if err := w.queue.Complete(ctx, current.ID, txRef); err != nil {
			w.logger.Error("penalty completion not recorded", "job_id", current.ID, "error", err)
			return
		}
		metrics.PenaltyJobsTotal.WithLabelValues(string(StatusSucceeded)).Inc()
		w.logger.Info("penalty executed",
			"job_id", current.ID, "identity", current.IdentityKey,
			"amount", current.Amount, "tx_ref", txRef)
		if w.notifier != nil {
			current.Status = StatusSucceeded
			current.TxRef = txRef
			w.notifier.PenaltyExecuted(current)
		}

	case retry.IsPermanent(execErr):
		w.failPermanent(ctx, current, execErr)

	case current.Attempts >= w.maxAttempts:
		w.failPermanent(ctx, current, fmt.Errorf("attempts exhausted: %w", execErr))

	default:
		retryAt := time.Now().Add(retry.Backoff(current.Attempts, w.baseBackoff, w.maxBackoff))
		if err := w.queue.Fail(ctx, current.ID, execErr.Error(), false, retryAt); err != nil {
			w.logger.Error("penalty retry not recorded", "job_id", current.ID, "error", err)
			return
		}
		metrics.PenaltyJobsTotal.WithLabelValues(string(StatusFailedRetryable)).Inc()
		w.logger.Warn("penalty execution failed, will retry",
			"job_id", current.ID, "attempt", current.Attempts, "retry_at", retryAt, "error", execErr)
	}
}

func (w *Worker) failPermanent(ctx context.Context, job *Job, cause error) {
	if err := w.queue.Fail(ctx, job.ID, cause.Error(), true, time.Time{}); err != nil {
		w.logger.Error("penalty permanent failure not recorded", "job_id", job.ID, "error", err)
		return
	}
	metrics.PenaltyJobsTotal.WithLabelValues(string(StatusFailedPermanent)).Inc()
	w.logger.Error("penalty failed permanently",
		"job_id", job.ID, "identity", job.IdentityKey, "error", cause)
}

func (w *Worker) observeDepth(ctx context.Context) {
	if depth, err := w.queue.Depth(ctx); err == nil {
		metrics.PenaltyQueueDepth.Set(float64(depth))
	}
}
