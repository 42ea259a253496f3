package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gsarma/mailer/internal/mail"
	"github.com/gsarma/mailer/internal/metrics"
)

const defaultRedisPrefix = "mailer"

// Every job is a hash; the ready set scores job ids by the unix millisecond
// they become claimable. Exhausted ids move to the failed list and keep their hash.
var (
	enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'payload', ARGV[2], 'attempt', '0', 'max_attempts', ARGV[3], 'status', 'pending')
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
return 1`)

	claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
local key = ARGV[3] .. id
redis.call('ZADD', KEYS[1], ARGV[2], id)
local attempt = redis.call('HINCRBY', key, 'attempt', 1)
local payload = redis.call('HGET', key, 'payload') or ''
local max = redis.call('HGET', key, 'max_attempts') or '0'
local lastError = redis.call('HGET', key, 'last_error') or ''
return {id, payload, attempt, max, lastError}`)
)

// Redis keeps jobs in Redis for deployments that want the queue off the
// primary database.
type Redis struct {
	rdb    *redis.Client
	prefix string
	policy Policy
	now    func() time.Time
}

func NewRedis(rdb *redis.Client, prefix string, policy Policy) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{
		rdb:    rdb,
		prefix: prefix,
		policy: policy.withDefaults(),
		now:    time.Now,
	}
}

var (
	_ Backend   = (*Redis)(nil)
	_ Inspector = (*Redis)(nil)
)

func (q *Redis) Name() string { return "redis" }

func (q *Redis) jobKeyPrefix() string { return q.prefix + ":job:" }

func (q *Redis) jobKey(id string) string { return q.jobKeyPrefix() + id }

func (q *Redis) readyKey() string { return q.prefix + ":jobs:ready" }

func (q *Redis) failedKey() string { return q.prefix + ":jobs:failed" }

func (q *Redis) Enqueue(ctx context.Context, job mail.DispatchJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}
	id := job.LogID.String()
	keys := []string{q.jobKey(id), q.readyKey()}
	if err := enqueueScript.Run(ctx, q.rdb, keys, id, payload, q.policy.MaxAttempts, q.now().UnixMilli()).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	metrics.QueueJobs.WithLabelValues(q.Name(), "enqueued").Inc()
	return nil
}

func (q *Redis) Claim(ctx context.Context) (*Job, error) {
	now := q.now()
	res, err := claimScript.Run(ctx, q.rdb, []string{q.readyKey()},
		now.UnixMilli(), now.Add(q.policy.Lease).UnixMilli(), q.jobKeyPrefix()).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if len(res) != 5 {
		return nil, fmt.Errorf("claim job: unexpected reply of %d elements", len(res))
	}

	id, err := uuid.Parse(fmt.Sprint(res[0]))
	if err != nil {
		return nil, fmt.Errorf("claim job: bad id %v: %w", res[0], err)
	}
	job := &Job{
		ID:          id,
		Attempt:     toInt(res[2]),
		MaxAttempts: toInt(res[3]),
		LastError:   fmt.Sprint(res[4]),
	}
	if err := json.Unmarshal([]byte(fmt.Sprint(res[1])), &job.Payload); err != nil {
		return nil, fmt.Errorf("decode job %s payload: %w", id, err)
	}
	return job, nil
}

func (q *Redis) Complete(ctx context.Context, job *Job) error {
	id := job.ID.String()
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.readyKey(), id)
		p.Del(ctx, q.jobKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	metrics.QueueJobs.WithLabelValues(q.Name(), "completed").Inc()
	return nil
}

func (q *Redis) Retry(ctx context.Context, job *Job, delay time.Duration, lastError string) error {
	id := job.ID.String()
	runAt := q.now().Add(delay).UnixMilli()
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(id), "last_error", lastError)
		p.ZAdd(ctx, q.readyKey(), redis.Z{Score: float64(runAt), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	metrics.QueueJobs.WithLabelValues(q.Name(), "retried").Inc()
	return nil
}

func (q *Redis) Exhaust(ctx context.Context, job *Job, lastError string) error {
	id := job.ID.String()
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(id),
			"status", jobStatusFailed,
			"last_error", lastError,
			"failed_at", q.now().UnixMilli())
		p.ZRem(ctx, q.readyKey(), id)
		p.LPush(ctx, q.failedKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("exhaust job: %w", err)
	}
	metrics.QueueJobs.WithLabelValues(q.Name(), "exhausted").Inc()
	return nil
}

func (q *Redis) Has(ctx context.Context, logID uuid.UUID) (bool, error) {
	n, err := q.rdb.Exists(ctx, q.jobKey(logID.String())).Result()
	if err != nil {
		return false, fmt.Errorf("check job: %w", err)
	}
	return n == 1, nil
}

func (q *Redis) Failed(ctx context.Context, limit int) ([]FailedJob, error) {
	if limit <= 0 {
		limit = DefaultFailedLimit
	}
	ids, err := q.rdb.LRange(ctx, q.failedKey(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	if _, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, q.jobKey(id))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("read failed jobs: %w", err)
	}

	out := make([]FailedJob, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		id, err := uuid.Parse(ids[i])
		if err != nil {
			return nil, fmt.Errorf("failed job: bad id %q: %w", ids[i], err)
		}
		job := FailedJob{
			ID:          id,
			Attempt:     toInt(fields["attempt"]),
			MaxAttempts: toInt(fields["max_attempts"]),
			LastError:   fields["last_error"],
		}
		if ms := toInt(fields["failed_at"]); ms > 0 {
			job.FailedAt = time.UnixMilli(int64(ms)).UTC()
		}
		if err := json.Unmarshal([]byte(fields["payload"]), &job.Payload); err != nil {
			return nil, fmt.Errorf("decode job %s payload: %w", id, err)
		}
		out = append(out, job)
	}
	return out, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}
