//go:build integration

package penalty

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/scrollguard/internal/testutil"
)

func setupTestQueue(t *testing.T) (*PostgresQueue, func()) {
	t.Helper()

	db, cleanup := testutil.PGTest(t)
	queue := NewPostgresQueue(db)

	if err := queue.Migrate(context.Background()); err != nil {
		cleanup()
		t.Fatalf("Failed to migrate: %v", err)
	}
	return queue, cleanup
}

func testJob(id, addr string) *Job {
	return &Job{
		ID:              id,
		IdentityKey:     addr,
		TriggeringScore: 120.5,
		Amount:          "0.500000",
	}
}

func TestPostgres_EnqueueDequeue(t *testing.T) {
	queue, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	addr := "0xaaaa000000000000000000000000000000000001"

	if err := queue.Enqueue(ctx, testJob("job_pg_test_000000000000000000000001", addr)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	job, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	if job.IdentityKey != addr {
		t.Errorf("Expected identity %s, got %s", addr, job.IdentityKey)
	}
	if job.Status != StatusInProgress {
		t.Errorf("Expected status in_progress after claim, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Errorf("Expected 1 attempt after claim, got %d", job.Attempts)
	}
	if job.Amount != "0.500000" {
		t.Errorf("Expected amount 0.500000, got %s", job.Amount)
	}
}

func TestPostgres_DequeueEmpty(t *testing.T) {
	queue, cleanup := setupTestQueue(t)
	defer cleanup()

	_, err := queue.Dequeue(context.Background())
	if err != ErrNoJob {
		t.Errorf("Expected ErrNoJob on empty queue, got %v", err)
	}
}

func TestPostgres_ClaimedJobNotRedelivered(t *testing.T) {
	queue, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	queue.Enqueue(ctx, testJob("job_pg_test_000000000000000000000002", "0xaaaa000000000000000000000000000000000002"))

	if _, err := queue.Dequeue(ctx); err != nil {
		t.Fatalf("First dequeue failed: %v", err)
	}

	// The claimed job is in_progress, so a second dequeue finds nothing
	if _, err := queue.Dequeue(ctx); err != ErrNoJob {
		t.Errorf("Expected ErrNoJob for claimed job, got %v", err)
	}
}

func TestPostgres_CompleteJob(t *testing.T) {
	queue, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	queue.Enqueue(ctx, testJob("job_pg_test_000000000000000000000003", "0xaaaa000000000000000000000000000000000003"))

	job, _ := queue.Dequeue(ctx)
	if err := queue.Complete(ctx, job.ID, "0xtxhash"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	got, err := queue.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Errorf("Expected status succeeded, got %s", got.Status)
	}
	if got.TxRef != "0xtxhash" {
		t.Errorf("Expected tx ref 0xtxhash, got %s", got.TxRef)
	}
}

func TestPostgres_FailRetryable(t *testing.T) {
	queue, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	queue.Enqueue(ctx, testJob("job_pg_test_000000000000000000000004", "0xaaaa000000000000000000000000000000000004"))

	job, _ := queue.Dequeue(ctx)

	// Retry scheduled in the past so it is immediately due again
	if err := queue.Fail(ctx, job.ID, "transient settle error", false, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	retried, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue after retryable failure failed: %v", err)
	}
	if retried.ID != job.ID {
		t.Errorf("Expected same job redelivered, got %s", retried.ID)
	}
	if retried.Attempts != 2 {
		t.Errorf("Expected 2 attempts after redelivery, got %d", retried.Attempts)
	}
	if retried.LastError != "transient settle error" {
		t.Errorf("Expected last error preserved, got %q", retried.LastError)
	}
}

func TestPostgres_FailPermanent(t *testing.T) {
	queue, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	queue.Enqueue(ctx, testJob("job_pg_test_000000000000000000000005", "0xaaaa000000000000000000000000000000000005"))

	job, _ := queue.Dequeue(ctx)
	if err := queue.Fail(ctx, job.ID, "no balance", true, time.Time{}); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	got, _ := queue.Get(ctx, job.ID)
	if got.Status != StatusFailedPermanent {
		t.Errorf("Expected status failed_permanent, got %s", got.Status)
	}

	// Permanently failed jobs never come back
	if _, err := queue.Dequeue(ctx); err != ErrNoJob {
		t.Errorf("Expected ErrNoJob, got %v", err)
	}
}

func TestPostgres_RetryNotDueYet(t *testing.T) {
	queue, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	queue.Enqueue(ctx, testJob("job_pg_test_000000000000000000000006", "0xaaaa000000000000000000000000000000000006"))

	job, _ := queue.Dequeue(ctx)
	queue.Fail(ctx, job.ID, "rpc timeout", false, time.Now().Add(time.Hour))

	if _, err := queue.Dequeue(ctx); err != ErrNoJob {
		t.Errorf("Expected ErrNoJob for job with future retry, got %v", err)
	}
}

func TestPostgres_ListByIdentityAndStatus(t *testing.T) {
	queue, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	addr := "0xAAAA000000000000000000000000000000000007"

	queue.Enqueue(ctx, testJob("job_pg_test_000000000000000000000007", addr))
	queue.Enqueue(ctx, testJob("job_pg_test_000000000000000000000008", addr))

	job, _ := queue.Dequeue(ctx)
	queue.Fail(ctx, job.ID, "no balance", true, time.Time{})

	// Address lookup normalizes case
	jobs, err := queue.ListByIdentity(ctx, addr, 10)
	if err != nil {
		t.Fatalf("ListByIdentity failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs for identity, got %d", len(jobs))
	}

	failed, err := queue.ListByStatus(ctx, StatusFailedPermanent, 10)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(failed) != 1 {
		t.Errorf("Expected 1 failed_permanent job, got %d", len(failed))
	}
}

func TestPostgres_Depth(t *testing.T) {
	queue, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	queue.Enqueue(ctx, testJob("job_pg_test_000000000000000000000009", "0xaaaa000000000000000000000000000000000009"))
	queue.Enqueue(ctx, testJob("job_pg_test_00000000000000000000000a", "0xaaaa00000000000000000000000000000000000a"))

	n, err := queue.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected depth 2, got %d", n)
	}

	// in_progress still counts toward depth
	queue.Dequeue(ctx)
	n, _ = queue.Depth(ctx)
	if n != 2 {
		t.Errorf("Expected depth 2 with one claimed, got %d", n)
	}
}

func TestPostgres_RequeueStale(t *testing.T) {
	queue, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	queue.Enqueue(ctx, testJob("job_pg_test_00000000000000000000000b", "0xaaaa00000000000000000000000000000000000b"))
	queue.Dequeue(ctx)

	// Freshly claimed jobs are not stale
	n, err := queue.RequeueStale(ctx, time.Minute)
	if err != nil {
		t.Fatalf("RequeueStale failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 stale jobs, got %d", n)
	}

	// With a zero cutoff the claimed job counts as stale and comes back
	n, err = queue.RequeueStale(ctx, 0)
	if err != nil {
		t.Fatalf("RequeueStale failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 requeued job, got %d", n)
	}

	job, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue after requeue failed: %v", err)
	}
	if job.Attempts != 2 {
		t.Errorf("Expected 2 attempts after requeue and reclaim, got %d", job.Attempts)
	}
}
