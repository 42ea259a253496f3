package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/gsarma/mailer/internal/mail"
	"github.com/gsarma/mailer/internal/metrics"
	"github.com/gsarma/mailer/internal/store"
)

const (
	jobsTable       = "mail_jobs"
	jobStatusFailed = "failed"
)

// claimNextJobSQL leases the oldest ready job. SKIP LOCKED lets concurrent
// workers claim different rows without blocking each other; pushing run_at
// forward by the lease hides the row until it is completed, retried or the
// lease expires.
const claimNextJobSQL = `
UPDATE mail_jobs
SET attempt = attempt + 1,
    run_at = now() + make_interval(secs => $1),
    updated_at = now()
WHERE log_id = (
    SELECT log_id FROM mail_jobs
    WHERE status = 'pending' AND run_at <= now()
    ORDER BY run_at
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING log_id, payload, attempt, max_attempts, last_error`

// Postgres keeps jobs in the mail_jobs table next to the mail logs.
type Postgres struct {
	db     store.DBTX
	sb     sq.StatementBuilderType
	policy Policy
}

func NewPostgres(db store.DBTX, policy Policy) *Postgres {
	return &Postgres{
		db:     db,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		policy: policy.withDefaults(),
	}
}

var (
	_ Backend   = (*Postgres)(nil)
	_ Inspector = (*Postgres)(nil)
)

func (q *Postgres) Name() string { return "postgres" }

func (q *Postgres) enqueueQuery(job mail.DispatchJob) (sq.InsertBuilder, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return sq.InsertBuilder{}, fmt.Errorf("encode job payload: %w", err)
	}
	return q.sb.
		Insert(jobsTable).
		Columns("log_id", "payload", "max_attempts").
		Values(job.LogID, payload, q.policy.MaxAttempts).
		Suffix("ON CONFLICT (log_id) DO NOTHING"), nil
}

func (q *Postgres) Enqueue(ctx context.Context, job mail.DispatchJob) error {
	ins, err := q.enqueueQuery(job)
	if err != nil {
		return err
	}
	sqlStr, args, err := ins.ToSql()
	if err != nil {
		return fmt.Errorf("build job insert: %w", err)
	}
	if _, err := q.db.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	metrics.QueueJobs.WithLabelValues(q.Name(), "enqueued").Inc()
	return nil
}

func (q *Postgres) Claim(ctx context.Context) (*Job, error) {
	var (
		id        pgtype.UUID
		payload   []byte
		lastError pgtype.Text
		job       Job
	)
	err := q.db.QueryRow(ctx, claimNextJobSQL, q.policy.Lease.Seconds()).
		Scan(&id, &payload, &job.Attempt, &job.MaxAttempts, &lastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	job.ID = uuid.UUID(id.Bytes)
	if lastError.Valid {
		job.LastError = lastError.String
	}
	if err := json.Unmarshal(payload, &job.Payload); err != nil {
		// Leave the row leased; a malformed payload cannot be delivered anyway.
		return nil, fmt.Errorf("decode job %s payload: %w", job.ID, err)
	}
	return &job, nil
}

func (q *Postgres) Complete(ctx context.Context, job *Job) error {
	sqlStr, args, err := q.sb.Delete(jobsTable).Where(sq.Eq{"log_id": job.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("build job delete: %w", err)
	}
	if _, err := q.db.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	metrics.QueueJobs.WithLabelValues(q.Name(), "completed").Inc()
	return nil
}

func (q *Postgres) retryQuery(job *Job, delay time.Duration, lastError string) sq.UpdateBuilder {
	return q.sb.
		Update(jobsTable).
		Set("run_at", sq.Expr("now() + make_interval(secs => ?)", delay.Seconds())).
		Set("last_error", lastError).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"log_id": job.ID})
}

func (q *Postgres) Retry(ctx context.Context, job *Job, delay time.Duration, lastError string) error {
	sqlStr, args, err := q.retryQuery(job, delay, lastError).ToSql()
	if err != nil {
		return fmt.Errorf("build job retry: %w", err)
	}
	if _, err := q.db.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	metrics.QueueJobs.WithLabelValues(q.Name(), "retried").Inc()
	return nil
}

func (q *Postgres) Exhaust(ctx context.Context, job *Job, lastError string) error {
	sqlStr, args, err := q.sb.
		Update(jobsTable).
		Set("status", jobStatusFailed).
		Set("last_error", lastError).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"log_id": job.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build job exhaust: %w", err)
	}
	if _, err := q.db.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("exhaust job: %w", err)
	}
	metrics.QueueJobs.WithLabelValues(q.Name(), "exhausted").Inc()
	return nil
}

func (q *Postgres) Has(ctx context.Context, logID uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM mail_jobs WHERE log_id = $1)", logID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check job: %w", err)
	}
	return exists, nil
}

func (q *Postgres) failedQuery(limit int) sq.SelectBuilder {
	if limit <= 0 {
		limit = DefaultFailedLimit
	}
	return q.sb.
		Select("log_id", "payload", "attempt", "max_attempts", "last_error", "updated_at").
		From(jobsTable).
		Where(sq.Eq{"status": jobStatusFailed}).
		OrderBy("updated_at DESC").
		Limit(uint64(limit))
}

func (q *Postgres) Failed(ctx context.Context, limit int) ([]FailedJob, error) {
	sqlStr, args, err := q.failedQuery(limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build failed jobs select: %w", err)
	}
	rows, err := q.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed jobs: %w", err)
	}
	defer rows.Close()

	var out []FailedJob
	for rows.Next() {
		var (
			id        pgtype.UUID
			payload   []byte
			lastError pgtype.Text
			job       FailedJob
		)
		if err := rows.Scan(&id, &payload, &job.Attempt, &job.MaxAttempts, &lastError, &job.FailedAt); err != nil {
			return nil, fmt.Errorf("scan failed job row: %w", err)
		}
		job.ID = uuid.UUID(id.Bytes)
		job.LastError = lastError.String
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("decode job %s payload: %w", job.ID, err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed job rows: %w", err)
	}
	return out, nil
}
