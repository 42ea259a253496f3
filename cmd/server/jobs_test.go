package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsarma/mailer/internal/mail"
	"github.com/gsarma/mailer/internal/queue"
)

func TestListFailedJobs(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q := queue.NewRedis(rdb, "cli", queue.Policy{MaxAttempts: 3})

	var out bytes.Buffer
	require.NoError(t, listFailedJobs(ctx, &out, q, 10))
	assert.Equal(t, "no failed jobs\n", out.String())

	dj := mail.DispatchJob{LogID: uuid.New(), RecipientEmail: "erin@example.com", Kind: mail.KindWelcome, Subject: "Welcome"}
	require.NoError(t, q.Enqueue(ctx, dj))
	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Exhaust(ctx, job, "delivered, status write failed: connection reset"))

	out.Reset()
	require.NoError(t, listFailedJobs(ctx, &out, q, 10))
	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "LOG ID")
	row := string(lines[1])
	assert.Contains(t, row, dj.LogID.String())
	assert.Contains(t, row, "WELCOME")
	assert.Contains(t, row, "erin@example.com")
	assert.Contains(t, row, "1/3")
	assert.Contains(t, row, "delivered, status write failed: connection reset")
}

type opaqueQueue struct{ queue.Backend }

func (opaqueQueue) Name() string { return "opaque" }

func TestListFailedJobs_UnsupportedBackend(t *testing.T) {
	err := listFailedJobs(context.Background(), &bytes.Buffer{}, opaqueQueue{}, 10)
	assert.EqualError(t, err, "opaque queue cannot list failed jobs")
}
