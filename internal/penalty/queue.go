package penalty

import (
	"context"
	"time"
)

// Queue is the durable penalty work queue. The ingestion service is the
// only producer and the worker the only consumer. Dequeue claims a job
// exclusively; redelivery after a crash is possible (at-least-once), so the
// worker re-checks terminal state by ID before executing.
type Queue interface {
	// Enqueue durably appends a new job in state queued.
	Enqueue(ctx context.Context, job *Job) error

	// Dequeue claims the oldest due job and marks it in_progress.
	// Returns ErrNoJob when nothing is due.
	Dequeue(ctx context.Context) (*Job, error)

	// Get returns a job by ID.
	Get(ctx context.Context, id string) (*Job, error)

	// Complete marks a job succeeded with the executor's transaction ref.
	Complete(ctx context.Context, id, txRef string) error

	// Fail records a failed attempt. Permanent failures are terminal;
	// retryable ones return to queued and become due at retryAt.
	Fail(ctx context.Context, id, reason string, permanent bool, retryAt time.Time) error

	// ListByIdentity returns jobs for one identity, newest first.
	ListByIdentity(ctx context.Context, identityKey string, limit int) ([]*Job, error)

	// ListByStatus returns jobs in a given state, newest first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error)

	// Depth returns the number of jobs queued or in progress.
	Depth(ctx context.Context) (int, error)
}
