package penalty

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/scrollguard/internal/retry"
)

type fakeExecutor struct {
	calls  atomic.Int64
	txRef  string
	err    error
	failN  int64 // fail the first N calls, then succeed
}

func (f *fakeExecutor) Execute(ctx context.Context, identityKey, amount string) (string, error) {
	n := f.calls.Add(1)
	if f.err != nil && (f.failN == 0 || n <= f.failN) {
		return "", f.err
	}
	return f.txRef, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enqueueTestJob(t *testing.T, q Queue, id string) *Job {
	t.Helper()
	job := &Job{
		ID:              id,
		IdentityKey:     "0x1111111111111111111111111111111111111111",
		TriggeringScore: 105,
		Amount:          "0.50",
	}
	require.NoError(t, q.Enqueue(context.Background(), job))
	return job
}

func TestWorkerExecutesAndCompletes(t *testing.T) {
	q := NewMemoryQueue()
	exec := &fakeExecutor{txRef: "0xfeed"}
	w := NewWorker(q, exec, testLogger())
	ctx := context.Background()

	enqueueTestJob(t, q, "job_1")

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	w.Process(ctx, job)

	got, err := q.Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, "0xfeed", got.TxRef)
	assert.EqualValues(t, 1, exec.calls.Load())
}

// Redelivering a job that already succeeded must not invoke the executor
// a second time.
func TestWorkerIdempotencyOnRedelivery(t *testing.T) {
	q := NewMemoryQueue()
	exec := &fakeExecutor{txRef: "0xfeed"}
	w := NewWorker(q, exec, testLogger())
	ctx := context.Background()

	enqueueTestJob(t, q, "job_1")

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	w.Process(ctx, job)
	require.EqualValues(t, 1, exec.calls.Load())

	// Simulate crash-and-redelivery of the same claimed job.
	stale := *job
	w.Process(ctx, &stale)
	w.Process(ctx, &stale)

	assert.EqualValues(t, 1, exec.calls.Load(), "executor must run exactly once per job")

	got, err := q.Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	q := NewMemoryQueue()
	exec := &fakeExecutor{txRef: "0xfeed", err: errors.New("rpc timeout"), failN: 1}
	w := NewWorker(q, exec, testLogger(), WithBackoff(time.Millisecond, time.Millisecond))
	ctx := context.Background()

	enqueueTestJob(t, q, "job_1")

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	w.Process(ctx, job)

	got, err := q.Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status, "transient failure returns the job to the queue")
	assert.Contains(t, got.LastError, "rpc timeout")

	// Second delivery succeeds.
	time.Sleep(5 * time.Millisecond)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	w.Process(ctx, job)

	got, err = q.Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.EqualValues(t, 2, exec.calls.Load())
}

func TestWorkerPermanentFailureDoesNotRetry(t *testing.T) {
	q := NewMemoryQueue()
	exec := &fakeExecutor{err: retry.Permanent(errors.New("no custodial balance"))}
	w := NewWorker(q, exec, testLogger())
	ctx := context.Background()

	enqueueTestJob(t, q, "job_1")

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	w.Process(ctx, job)

	got, err := q.Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailedPermanent, got.Status)
	assert.Contains(t, got.LastError, "no custodial balance")

	// Nothing left to dequeue.
	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
	assert.EqualValues(t, 1, exec.calls.Load())
}

func TestWorkerExhaustsAttempts(t *testing.T) {
	q := NewMemoryQueue()
	exec := &fakeExecutor{err: errors.New("rpc down")}
	w := NewWorker(q, exec, testLogger(),
		WithMaxAttempts(2), WithBackoff(time.Millisecond, time.Millisecond))
	ctx := context.Background()

	enqueueTestJob(t, q, "job_1")

	for i := 0; i < 2; i++ {
		time.Sleep(5 * time.Millisecond)
		job, err := q.Dequeue(ctx)
		require.NoError(t, err, "delivery %d", i)
		w.Process(ctx, job)
	}

	got, err := q.Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailedPermanent, got.Status)
	assert.EqualValues(t, 2, exec.calls.Load())
}

func TestMemoryQueueOrderAndDepth(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	first := enqueueTestJob(t, q, "job_a")
	first.EnqueuedAt = time.Now().Add(-time.Minute)
	require.NoError(t, q.Enqueue(ctx, first)) // re-enqueue with older timestamp
	enqueueTestJob(t, q, "job_b")

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_a", job.ID, "oldest job is delivered first")
	assert.Equal(t, 1, job.Attempts)
}
