package penalty

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Compile-time check that PostgresQueue implements Queue.
var _ Queue = (*PostgresQueue)(nil)

// PostgresQueue implements Queue backed by PostgreSQL. Claiming uses
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers never receive
// the same job at the same time.
type PostgresQueue struct {
	db *sql.DB
}

// NewPostgresQueue creates a new PostgreSQL-backed penalty queue.
func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

// Migrate creates the penalty_jobs table if it doesn't exist.
func (p *PostgresQueue) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS penalty_jobs (
			id               VARCHAR(36) PRIMARY KEY,
			identity_key     VARCHAR(42) NOT NULL,
			triggering_score DOUBLE PRECISION NOT NULL,
			amount           NUMERIC(20,6) NOT NULL,
			status           VARCHAR(20) NOT NULL DEFAULT 'queued',
			attempts         INT NOT NULL DEFAULT 0,
			last_error       TEXT NOT NULL DEFAULT '',
			tx_ref           TEXT NOT NULL DEFAULT '',
			enqueued_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			next_attempt_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_penalty_jobs_due ON penalty_jobs(status, next_attempt_at);
		CREATE INDEX IF NOT EXISTS idx_penalty_jobs_identity ON penalty_jobs(identity_key);
	`)
	return err
}

func (p *PostgresQueue) Enqueue(ctx context.Context, job *Job) error {
	now := time.Now()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO penalty_jobs (id, identity_key, triggering_score, amount, status, enqueued_at, updated_at, next_attempt_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,6), 'queued', $5, $5, $5)
	`, job.ID, strings.ToLower(job.IdentityKey), job.TriggeringScore, job.Amount, job.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("enqueue penalty job: %w", err)
	}
	return nil
}

func (p *PostgresQueue) Dequeue(ctx context.Context) (*Job, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, identity_key, triggering_score, amount, status, attempts,
			last_error, tx_ref, enqueued_at, updated_at, next_attempt_at
		FROM penalty_jobs
		WHERE status = 'queued' AND next_attempt_at <= NOW()
		ORDER BY enqueued_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue penalty job: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE penalty_jobs
		SET status = 'in_progress', attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1
	`, job.ID)
	if err != nil {
		return nil, fmt.Errorf("claim penalty job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job.Status = StatusInProgress
	job.Attempts++
	return job, nil
}

func (p *PostgresQueue) Get(ctx context.Context, id string) (*Job, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, identity_key, triggering_score, amount, status, attempts,
			last_error, tx_ref, enqueued_at, updated_at, next_attempt_at
		FROM penalty_jobs WHERE id = $1
	`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get penalty job: %w", err)
	}
	return job, nil
}

func (p *PostgresQueue) Complete(ctx context.Context, id, txRef string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE penalty_jobs
		SET status = 'succeeded', tx_ref = $2, last_error = '', updated_at = NOW()
		WHERE id = $1
	`, id, txRef)
	if err != nil {
		return fmt.Errorf("complete penalty job: %w", err)
	}
	return requireRow(result)
}

func (p *PostgresQueue) Fail(ctx context.Context, id, reason string, permanent bool, retryAt time.Time) error {
	var (
		result sql.Result
		err    error
	)
	if permanent {
		result, err = p.db.ExecContext(ctx, `
			UPDATE penalty_jobs
			SET status = 'failed_permanent', last_error = $2, updated_at = NOW()
			WHERE id = $1
		`, id, reason)
	} else {
		result, err = p.db.ExecContext(ctx, `
			UPDATE penalty_jobs
			SET status = 'queued', last_error = $2, next_attempt_at = $3, updated_at = NOW()
			WHERE id = $1
		`, id, reason, retryAt)
	}
	if err != nil {
		return fmt.Errorf("fail penalty job: %w", err)
	}
	return requireRow(result)
}

func (p *PostgresQueue) ListByIdentity(ctx context.Context, identityKey string, limit int) ([]*Job, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, identity_key, triggering_score, amount, status, attempts,
			last_error, tx_ref, enqueued_at, updated_at, next_attempt_at
		FROM penalty_jobs WHERE identity_key = $1
		ORDER BY enqueued_at DESC LIMIT $2
	`, strings.ToLower(identityKey), limit)
	if err != nil {
		return nil, fmt.Errorf("list by identity: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanJobs(rows)
}

func (p *PostgresQueue) ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, identity_key, triggering_score, amount, status, attempts,
			last_error, tx_ref, enqueued_at, updated_at, next_attempt_at
		FROM penalty_jobs WHERE status = $1
		ORDER BY enqueued_at DESC LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanJobs(rows)
}

func (p *PostgresQueue) Depth(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM penalty_jobs WHERE status IN ('queued', 'in_progress')
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// RequeueStale returns in-progress jobs older than the cutoff to the queue.
// Recovers jobs orphaned by a worker crash between claim and outcome.
func (p *PostgresQueue) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE penalty_jobs
		SET status = 'queued', next_attempt_at = NOW(), updated_at = NOW()
		WHERE status = 'in_progress' AND updated_at < NOW() - $1::INTERVAL
	`, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("requeue stale: %w", err)
	}
	return result.RowsAffected()
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scannable) (*Job, error) {
	var j Job
	var status string
	err := row.Scan(
		&j.ID, &j.IdentityKey, &j.TriggeringScore, &j.Amount, &status, &j.Attempts,
		&j.LastError, &j.TxRef, &j.EnqueuedAt, &j.UpdatedAt, &j.NextAttemptAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = Status(status)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}
