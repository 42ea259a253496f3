package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsarma/mailer/internal/store"
)

func TestPostgres_EnqueueQuery(t *testing.T) {
	q := NewPostgres(nil, Policy{})
	dj := testJob()

	ins, err := q.enqueueQuery(dj)
	require.NoError(t, err)
	sqlStr, args, err := ins.ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"INSERT INTO mail_jobs (log_id,payload,max_attempts) VALUES ($1,$2,$3) ON CONFLICT (log_id) DO NOTHING",
		sqlStr)
	assert.Equal(t, dj.LogID, args[0])
	assert.Contains(t, string(args[1].([]byte)), `"log_id":"`+dj.LogID.String()+`"`)
	assert.Equal(t, 3, args[2])
}

func TestPostgres_RetryQuery(t *testing.T) {
	q := NewPostgres(nil, Policy{})
	job := &Job{ID: uuid.New()}

	sqlStr, args, err := q.retryQuery(job, 10*time.Second, "boom").ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"UPDATE mail_jobs SET run_at = now() + make_interval(secs => $1), last_error = $2, updated_at = now() WHERE log_id = $3",
		sqlStr)
	assert.Equal(t, []any{10.0, "boom", job.ID.String()}, args)
}

func TestPostgres_FailedQuery(t *testing.T) {
	q := NewPostgres(nil, Policy{})

	sqlStr, args, err := q.failedQuery(20).ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT log_id, payload, attempt, max_attempts, last_error, updated_at FROM mail_jobs WHERE status = $1 ORDER BY updated_at DESC LIMIT 20",
		sqlStr)
	assert.Equal(t, []any{"failed"}, args)

	sqlStr, _, err = q.failedQuery(0).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "LIMIT 50")
}

func TestPostgres_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := store.NewPool(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, store.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, "DELETE FROM mail_jobs")
	require.NoError(t, err)

	q := NewPostgres(pool, Policy{MaxAttempts: 3, BaseDelay: time.Second, Lease: time.Minute})
	dj := testJob()

	require.NoError(t, q.Enqueue(ctx, dj))
	require.NoError(t, q.Enqueue(ctx, dj), "second enqueue of the same log is a no-op")

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, dj.LogID, job.ID)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, dj.RecipientEmail, job.Payload.RecipientEmail)

	_, err = q.Claim(ctx)
	assert.ErrorIs(t, err, ErrEmpty, "leased job is hidden")

	require.NoError(t, q.Retry(ctx, job, 0, "try again"))
	job, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempt)
	assert.Equal(t, "try again", job.LastError)

	require.NoError(t, q.Exhaust(ctx, job, "gave up"))
	has, err := q.Has(ctx, dj.LogID)
	require.NoError(t, err)
	assert.True(t, has)
	_, err = q.Claim(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, dj.LogID, failed[0].ID)
	assert.Equal(t, "gave up", failed[0].LastError)
	assert.Equal(t, 2, failed[0].Attempt)

	other := testJob()
	require.NoError(t, q.Enqueue(ctx, other))
	job, err = q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job))
	has, err = q.Has(ctx, other.LogID)
	require.NoError(t, err)
	assert.False(t, has)
}
