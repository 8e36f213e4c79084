package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AbdullahHassan176/hookrelay/internal/domain"
)

// JobDefaults are the per-queue defaults applied to jobs enqueued without
// explicit values.
type JobDefaults struct {
	// MaxAttempts caps queue-level redeliveries.
	MaxAttempts int
	// Retention keeps finished job metadata around for inspection.
	Retention time.Duration
}

// RedisConfig configures the Redis-backed broker.
type RedisConfig struct {
	// Prefix namespaces all keys, e.g. "hookrelay".
	Prefix string
	// PromoteBatch bounds how many due delayed jobs move per Promote call.
	PromoteBatch int
	// Defaults maps queue name to its job defaults; missing queues fall
	// back to DefaultJobDefaults.
	Defaults map[string]JobDefaults
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Prefix:       "hookrelay",
		PromoteBatch: 100,
		Defaults: map[string]JobDefaults{
			QueueDelivery: {MaxAttempts: 5, Retention: 24 * time.Hour},
			QueueRetry:    {MaxAttempts: 5, Retention: 24 * time.Hour},
			QueueCleanup:  {MaxAttempts: 2, Retention: 7 * 24 * time.Hour},
		},
	}
}

// RedisBroker is a durable Broker on Redis. Per queue it keeps a waiting
// list, a delayed sorted set scored by activation time, an active sorted
// set scored by visibility deadline, a dead-letter list, redelivery
// counters and one key per job body.
type RedisBroker struct {
	client *redis.Client
	config RedisConfig
}

func NewRedisBroker(client *redis.Client, config RedisConfig) *RedisBroker {
	if config.Prefix == "" {
		config.Prefix = "hookrelay"
	}
	if config.PromoteBatch <= 0 {
		config.PromoteBatch = 100
	}
	return &RedisBroker{client: client, config: config}
}

func (b *RedisBroker) key(queue, part string) string {
	return b.config.Prefix + ":q:" + queue + ":" + part
}

func (b *RedisBroker) jobKey(queue, jobID string) string {
	return b.config.Prefix + ":q:" + queue + ":job:" + jobID
}

func (b *RedisBroker) jobKeyPrefix(queue string) string {
	return b.config.Prefix + ":q:" + queue + ":job:"
}

func (b *RedisBroker) defaults(queue string) JobDefaults {
	if d, ok := b.config.Defaults[queue]; ok {
		return d
	}
	return JobDefaults{MaxAttempts: DefaultMaxAttempts, Retention: 24 * time.Hour}
}

// claimScript pops the next waiting job and moves it to the active set
// with a visibility deadline, bumping its redelivery counter. Paused
// queues claim nothing.
var claimScript = redis.NewScript(`
local paused = KEYS[1]
local waiting = KEYS[2]
local active = KEYS[3]
local attempts = KEYS[4]

if redis.call('EXISTS', paused) == 1 then
	return false
end
local id = redis.call('RPOP', waiting)
if not id then
	return false
end
local raw = redis.call('GET', ARGV[2] .. id)
if not raw then
	return false
end
redis.call('ZADD', active, ARGV[1], id)
local n = redis.call('HINCRBY', attempts, id, 1)
return {id, raw, n}
`)

// promoteScript moves due delayed jobs onto the waiting list.
var promoteScript = redis.NewScript(`
local delayed = KEYS[1]
local waiting = KEYS[2]

local ids = redis.call('ZRANGEBYSCORE', delayed, '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
	redis.call('ZREM', delayed, id)
	redis.call('LPUSH', waiting, id)
end
return #ids
`)

// reclaimScript requeues active jobs whose visibility deadline passed,
// dead-lettering jobs that exhausted their queue-level attempts.
var reclaimScript = redis.NewScript(`
local active = KEYS[1]
local waiting = KEYS[2]
local dead = KEYS[3]
local failed = KEYS[4]
local attempts = KEYS[5]

local ids = redis.call('ZRANGEBYSCORE', active, '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
	redis.call('ZREM', active, id)
	local key = ARGV[3] .. id
	local raw = redis.call('GET', key)
	if raw then
		local job = cjson.decode(raw)
		local max = tonumber(job['max_attempts']) or tonumber(ARGV[4])
		local n = tonumber(redis.call('HGET', attempts, id)) or 0
		if n >= max then
			redis.call('LPUSH', dead, id)
			redis.call('INCR', failed)
			redis.call('PEXPIRE', key, ARGV[5])
		else
			redis.call('LPUSH', waiting, id)
		end
	end
end
return #ids
`)

// failScript acknowledges a failed job: requeue with backoff, or
// dead-letter once queue-level attempts are exhausted.
var failScript = redis.NewScript(`
local active = KEYS[1]
local delayed = KEYS[2]
local dead = KEYS[3]
local failed = KEYS[4]
local attempts = KEYS[5]
local errs = KEYS[6]

local id = ARGV[1]
redis.call('ZREM', active, id)
redis.call('HSET', errs, id, ARGV[6])
local n = tonumber(redis.call('HGET', attempts, id)) or 0
if n >= tonumber(ARGV[3]) then
	redis.call('LPUSH', dead, id)
	redis.call('INCR', failed)
	redis.call('PEXPIRE', ARGV[4], tonumber(ARGV[5]))
	return 0
end
redis.call('ZADD', delayed, ARGV[2], id)
return 1
`)

func (b *RedisBroker) Enqueue(ctx context.Context, queue string, job *Job) error {
	return b.enqueue(ctx, queue, job, 0)
}

func (b *RedisBroker) EnqueueDelayed(ctx context.Context, queue string, job *Job, delay time.Duration) error {
	return b.enqueue(ctx, queue, job, delay)
}

func (b *RedisBroker) enqueue(ctx context.Context, queue string, job *Job, delay time.Duration) error {
	defaults := b.defaults(queue)
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = defaults.MaxAttempts
	}
	now := time.Now()
	job.EnqueuedAt = now
	job.AvailableAt = now.Add(delay)

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// Re-enqueueing an existing id (deterministic retry ids, force-retry)
	// resets its dead-letter and redelivery state.
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.jobKey(queue, job.ID), raw, 0)
	pipe.LRem(ctx, b.key(queue, "dead"), 0, job.ID)
	pipe.HDel(ctx, b.key(queue, "attempts"), job.ID)
	pipe.HDel(ctx, b.key(queue, "errors"), job.ID)
	if delay > 0 {
		pipe.ZAdd(ctx, b.key(queue, "delayed"), redis.Z{
			Score:  float64(job.AvailableAt.UnixMilli()),
			Member: job.ID,
		})
	} else {
		pipe.LPush(ctx, b.key(queue, "waiting"), job.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Claim(ctx context.Context, queue string, visibility time.Duration) (*Job, error) {
	deadline := time.Now().Add(visibility).UnixMilli()

	res, err := claimScript.Run(ctx, b.client,
		[]string{
			b.key(queue, "paused"),
			b.key(queue, "waiting"),
			b.key(queue, "active"),
			b.key(queue, "attempts"),
		},
		deadline, b.jobKeyPrefix(queue),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 3 {
		return nil, fmt.Errorf("unexpected claim result: %v", res)
	}

	var job Job
	if err := json.Unmarshal([]byte(arr[1].(string)), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %v: %w", arr[0], err)
	}
	job.Attempts = int(arr[2].(int64))
	return &job, nil
}

func (b *RedisBroker) Complete(ctx context.Context, queue string, job *Job) error {
	retention := b.defaults(queue).Retention

	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, b.key(queue, "active"), job.ID)
	pipe.Incr(ctx, b.key(queue, "completed"))
	pipe.HDel(ctx, b.key(queue, "attempts"), job.ID)
	pipe.HDel(ctx, b.key(queue, "errors"), job.ID)
	pipe.PExpire(ctx, b.jobKey(queue, job.ID), retention)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Fail(ctx context.Context, queue string, job *Job, reason string) error {
	// Queue-level redelivery backoff is linear and short; real backoff
	// policy lives in the retry scheduler, this only spaces out crashes.
	backoff := time.Duration(job.Attempts) * 5 * time.Second
	availableAt := time.Now().Add(backoff).UnixMilli()
	retention := b.defaults(queue).Retention

	return failScript.Run(ctx, b.client,
		[]string{
			b.key(queue, "active"),
			b.key(queue, "delayed"),
			b.key(queue, "dead"),
			b.key(queue, "failed"),
			b.key(queue, "attempts"),
			b.key(queue, "errors"),
		},
		job.ID, availableAt, job.MaxAttempts, b.jobKey(queue, job.ID), retention.Milliseconds(), reason,
	).Err()
}

func (b *RedisBroker) Release(ctx context.Context, queue string, job *Job, delay time.Duration) error {
	availableAt := time.Now().Add(delay)

	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, b.key(queue, "active"), job.ID)
	// Backpressure is not a redelivery; give the attempt back.
	pipe.HIncrBy(ctx, b.key(queue, "attempts"), job.ID, -1)
	pipe.ZAdd(ctx, b.key(queue, "delayed"), redis.Z{
		Score:  float64(availableAt.UnixMilli()),
		Member: job.ID,
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Promote(ctx context.Context, queue string) (int, error) {
	res, err := promoteScript.Run(ctx, b.client,
		[]string{b.key(queue, "delayed"), b.key(queue, "waiting")},
		time.Now().UnixMilli(), b.config.PromoteBatch,
	).Int()
	return res, err
}

func (b *RedisBroker) Reclaim(ctx context.Context, queue string) (int, error) {
	retention := b.defaults(queue).Retention
	res, err := reclaimScript.Run(ctx, b.client,
		[]string{
			b.key(queue, "active"),
			b.key(queue, "waiting"),
			b.key(queue, "dead"),
			b.key(queue, "failed"),
			b.key(queue, "attempts"),
		},
		time.Now().UnixMilli(), b.config.PromoteBatch, b.jobKeyPrefix(queue),
		DefaultMaxAttempts, retention.Milliseconds(),
	).Int()
	return res, err
}

func (b *RedisBroker) Pause(ctx context.Context, queue string) error {
	return b.client.Set(ctx, b.key(queue, "paused"), "1", 0).Err()
}

func (b *RedisBroker) Resume(ctx context.Context, queue string) error {
	return b.client.Del(ctx, b.key(queue, "paused")).Err()
}

func (b *RedisBroker) Paused(ctx context.Context, queue string) (bool, error) {
	n, err := b.client.Exists(ctx, b.key(queue, "paused")).Result()
	return n == 1, err
}

func (b *RedisBroker) Clear(ctx context.Context, queue string) (int64, error) {
	ids, err := b.allJobIDs(ctx, queue)
	if err != nil {
		return 0, err
	}

	pipe := b.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, b.jobKey(queue, id))
	}
	pipe.Del(ctx,
		b.key(queue, "waiting"),
		b.key(queue, "delayed"),
		b.key(queue, "active"),
		b.key(queue, "dead"),
		b.key(queue, "attempts"),
		b.key(queue, "errors"),
		b.key(queue, "completed"),
		b.key(queue, "failed"),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func (b *RedisBroker) allJobIDs(ctx context.Context, queue string) ([]string, error) {
	var ids []string

	waiting, err := b.client.LRange(ctx, b.key(queue, "waiting"), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ids = append(ids, waiting...)

	dead, err := b.client.LRange(ctx, b.key(queue, "dead"), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ids = append(ids, dead...)

	for _, part := range []string{"delayed", "active"} {
		members, err := b.client.ZRange(ctx, b.key(queue, part), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		ids = append(ids, members...)
	}
	return ids, nil
}

func (b *RedisBroker) Job(ctx context.Context, queue, jobID string) (*JobInfo, error) {
	raw, err := b.client.Get(ctx, b.jobKey(queue, jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}

	if n, err := b.client.HGet(ctx, b.key(queue, "attempts"), jobID).Result(); err == nil {
		if attempts, convErr := strconv.Atoi(n); convErr == nil {
			job.Attempts = attempts
		}
	}
	if lastErr, err := b.client.HGet(ctx, b.key(queue, "errors"), jobID).Result(); err == nil {
		job.LastError = lastErr
	}

	state, err := b.jobState(ctx, queue, jobID)
	if err != nil {
		return nil, err
	}
	return &JobInfo{Job: &job, State: state}, nil
}

func (b *RedisBroker) jobState(ctx context.Context, queue, jobID string) (string, error) {
	if err := b.client.ZScore(ctx, b.key(queue, "active"), jobID).Err(); err == nil {
		return StateActive, nil
	} else if !errors.Is(err, redis.Nil) {
		return "", err
	}
	if err := b.client.ZScore(ctx, b.key(queue, "delayed"), jobID).Err(); err == nil {
		return StateDelayed, nil
	} else if !errors.Is(err, redis.Nil) {
		return "", err
	}
	if _, err := b.client.LPos(ctx, b.key(queue, "waiting"), jobID, redis.LPosArgs{}).Result(); err == nil {
		return StateWaiting, nil
	} else if !errors.Is(err, redis.Nil) {
		return "", err
	}
	if _, err := b.client.LPos(ctx, b.key(queue, "dead"), jobID, redis.LPosArgs{}).Result(); err == nil {
		return StateDead, nil
	} else if !errors.Is(err, redis.Nil) {
		return "", err
	}
	return StateCompleted, nil
}

func (b *RedisBroker) Remove(ctx context.Context, queue, jobID string) (bool, error) {
	existed, err := b.client.Exists(ctx, b.jobKey(queue, jobID)).Result()
	if err != nil {
		return false, err
	}

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.jobKey(queue, jobID))
	pipe.LRem(ctx, b.key(queue, "waiting"), 0, jobID)
	pipe.LRem(ctx, b.key(queue, "dead"), 0, jobID)
	pipe.ZRem(ctx, b.key(queue, "delayed"), jobID)
	pipe.ZRem(ctx, b.key(queue, "active"), jobID)
	pipe.HDel(ctx, b.key(queue, "attempts"), jobID)
	pipe.HDel(ctx, b.key(queue, "errors"), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return existed == 1, nil
}

func (b *RedisBroker) PromoteJob(ctx context.Context, queue, jobID string) (bool, error) {
	removed, err := b.client.ZRem(ctx, b.key(queue, "delayed"), jobID).Result()
	if err != nil {
		return false, err
	}
	if removed == 1 {
		return true, b.client.LPush(ctx, b.key(queue, "waiting"), jobID).Err()
	}

	// Dead jobs get a fresh run with their redelivery counter reset.
	fromDead, err := b.client.LRem(ctx, b.key(queue, "dead"), 0, jobID).Result()
	if err != nil {
		return false, err
	}
	if fromDead > 0 {
		pipe := b.client.TxPipeline()
		pipe.HDel(ctx, b.key(queue, "attempts"), jobID)
		pipe.Persist(ctx, b.jobKey(queue, jobID))
		pipe.LPush(ctx, b.key(queue, "waiting"), jobID)
		_, err := pipe.Exec(ctx)
		return true, err
	}
	return false, nil
}

func (b *RedisBroker) Stats(ctx context.Context, queue string) (Stats, error) {
	pipe := b.client.Pipeline()
	waiting := pipe.LLen(ctx, b.key(queue, "waiting"))
	delayed := pipe.ZCard(ctx, b.key(queue, "delayed"))
	active := pipe.ZCard(ctx, b.key(queue, "active"))
	completed := pipe.Get(ctx, b.key(queue, "completed"))
	failed := pipe.Get(ctx, b.key(queue, "failed"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, err
	}

	stats := Stats{
		Waiting: waiting.Val(),
		Delayed: delayed.Val(),
		Active:  active.Val(),
	}
	if n, err := strconv.ParseInt(completed.Val(), 10, 64); err == nil {
		stats.Completed = n
	}
	if n, err := strconv.ParseInt(failed.Val(), 10, 64); err == nil {
		stats.Failed = n
	}
	return stats, nil
}
