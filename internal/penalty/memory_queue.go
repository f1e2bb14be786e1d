package penalty

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Compile-time check that MemoryQueue implements Queue.
var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is an in-memory penalty queue for demo/development mode.
// Durable only for the life of the process.
type MemoryQueue struct {
	jobs map[string]*Job
	mu   sync.Mutex
}

// NewMemoryQueue creates a new in-memory penalty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[string]*Job)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cp := *job
	cp.Status = StatusQueued
	if cp.EnqueuedAt.IsZero() {
		cp.EnqueuedAt = time.Now()
	}
	cp.UpdatedAt = cp.EnqueuedAt
	cp.NextAttemptAt = cp.EnqueuedAt
	q.jobs[cp.ID] = &cp
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var due []*Job
	for _, j := range q.jobs {
		if j.Status == StatusQueued && !j.NextAttemptAt.After(now) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return nil, ErrNoJob
	}
	sort.Slice(due, func(i, k int) bool { return due[i].EnqueuedAt.Before(due[k].EnqueuedAt) })

	j := due[0]
	j.Status = StatusInProgress
	j.Attempts++
	j.UpdatedAt = now
	cp := *j
	return &cp, nil
}

func (q *MemoryQueue) Get(ctx context.Context, id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (q *MemoryQueue) Complete(ctx context.Context, id, txRef string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.Status = StatusSucceeded
	j.TxRef = txRef
	j.LastError = ""
	j.UpdatedAt = time.Now()
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, id, reason string, permanent bool, retryAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.LastError = reason
	j.UpdatedAt = time.Now()
	if permanent {
		j.Status = StatusFailedPermanent
	} else {
		j.Status = StatusQueued
		j.NextAttemptAt = retryAt
	}
	return nil
}

func (q *MemoryQueue) ListByIdentity(ctx context.Context, identityKey string, limit int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := strings.ToLower(identityKey)
	var out []*Job
	for _, j := range q.jobs {
		if strings.ToLower(j.IdentityKey) == key {
			cp := *j
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return truncate(out, limit), nil
}

func (q *MemoryQueue) ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*Job
	for _, j := range q.jobs {
		if j.Status == status {
			cp := *j
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return truncate(out, limit), nil
}

func (q *MemoryQueue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, j := range q.jobs {
		if j.Status == StatusQueued || j.Status == StatusInProgress {
			n++
		}
	}
	return n, nil
}

func sortNewestFirst(jobs []*Job) {
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].EnqueuedAt.After(jobs[k].EnqueuedAt) })
}

func truncate(jobs []*Job, limit int) []*Job {
	if limit > 0 && len(jobs) > limit {
		return jobs[:limit]
	}
	return jobs
}
