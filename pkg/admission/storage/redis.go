package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"mercator-hq/saturn/pkg/rate"
)

// fixedWindowScript atomically records one fixed-window hit when it fits.
// ARGV: limit, window in milliseconds, elastic flag ("1" refreshes the TTL
// on every recorded hit). Returns {admitted, count}.
var fixedWindowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
    return {0, current}
end
current = redis.call('INCR', KEYS[1])
if current == 1 or ARGV[3] == '1' then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, current}
`)

// fixedWindowRecordScript records one fixed-window hit unconditionally.
// ARGV: window in milliseconds, elastic flag.
var fixedWindowRecordScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 or ARGV[2] == '1' then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// movingWindowScript atomically records one moving-window hit when it
// fits. Expired entries are pruned first, so the sorted set never counts
// hits older than the window. ARGV: now in milliseconds, window in
// milliseconds, limit, member. Returns {admitted, count}.
var movingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, now - window)

local count = redis.call('ZCARD', KEYS[1])
if count >= limit then
    return {0, count}
end

redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return {1, count + 1}
`)

// movingWindowRecordScript records one moving-window hit unconditionally.
// ARGV: now in milliseconds, window in milliseconds, member.
var movingWindowRecordScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, now - window)
redis.call('ZADD', KEYS[1], now, ARGV[3])
redis.call('PEXPIRE', KEYS[1], window)
return redis.call('ZCARD', KEYS[1])
`)

// RedisBackend implements Backend on a Redis server, sharing counters
// between processes. Atomicity of CheckAndIncrement comes from server-side
// Lua scripts: the check and the mutation execute as one unit.
type RedisBackend struct {
	client   *redis.Client
	strategy Strategy

	// nonce makes moving-window members unique across processes.
	nonce string

	// seq makes moving-window members unique within this process.
	seq atomic.Uint64

	// now is the clock; tests substitute it to cross windows instantly.
	now func() time.Time
}

// NewRedisBackend connects to the Redis server described by a
// redis:// or rediss:// URL. Recognized options: "pool_size".
func NewRedisBackend(url string, strategy Strategy, opts Options) (*RedisBackend, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if size := opts.integer("pool_size", 0); size > 0 {
		ropts.PoolSize = size
	}
	return NewRedisBackendFromClient(redis.NewClient(ropts), strategy), nil
}

// NewRedisBackendFromClient wraps an existing client. The backend takes
// ownership of the client and closes it on Close.
func NewRedisBackendFromClient(client *redis.Client, strategy Strategy) *RedisBackend {
	if strategy == "" {
		strategy = FixedWindow
	}

	nonce := make([]byte, 4)
	_, _ = rand.Read(nonce)

	return &RedisBackend{
		client:   client,
		strategy: strategy,
		nonce:    hex.EncodeToString(nonce),
		now:      time.Now,
	}
}

// CanIncrement reports whether one more hit would fit, without recording.
func (r *RedisBackend) CanIncrement(ctx context.Context, key string, item rate.Item) (bool, error) {
	ck := counterKey(key, item)

	if r.strategy == MovingWindow {
		cutoff := r.now().Add(-item.Window()).UnixMilli()
		count, err := r.client.ZCount(ctx, ck, "("+strconv.FormatInt(cutoff, 10), "+inf").Result()
		if err != nil {
			return false, fmt.Errorf("failed to count hits: %w", err)
		}
		return uint64(count) < item.Amount, nil
	}

	count, err := r.client.Get(ctx, ck).Uint64()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load counter: %w", err)
	}
	return count < item.Amount, nil
}

// Increment registers one hit unconditionally.
func (r *RedisBackend) Increment(ctx context.Context, key string, item rate.Item) error {
	ck := counterKey(key, item)
	windowMs := item.Window().Milliseconds()

	var err error
	if r.strategy == MovingWindow {
		err = movingWindowRecordScript.Run(ctx, r.client, []string{ck},
			r.now().UnixMilli(), windowMs, r.member()).Err()
	} else {
		err = fixedWindowRecordScript.Run(ctx, r.client, []string{ck},
			windowMs, r.elasticFlag()).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to record hit: %w", err)
	}
	return nil
}

// CheckAndIncrement atomically registers one hit only if it fits.
func (r *RedisBackend) CheckAndIncrement(ctx context.Context, key string, item rate.Item) (bool, error) {
	ck := counterKey(key, item)
	windowMs := item.Window().Milliseconds()

	var cmd *redis.Cmd
	if r.strategy == MovingWindow {
		cmd = movingWindowScript.Run(ctx, r.client, []string{ck},
			r.now().UnixMilli(), windowMs, item.Amount, r.member())
	} else {
		cmd = fixedWindowScript.Run(ctx, r.client, []string{ck},
			item.Amount, windowMs, r.elasticFlag())
	}

	raw, err := cmd.Result()
	if err != nil {
		return false, fmt.Errorf("failed to check and record hit: %w", err)
	}
	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return false, fmt.Errorf("unexpected script reply %v", raw)
	}
	admitted, ok := reply[0].(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script reply %v", raw)
	}
	return admitted == 1, nil
}

// WindowStats returns remaining capacity and reset time for (key, item).
func (r *RedisBackend) WindowStats(ctx context.Context, key string, item rate.Item) (WindowStats, error) {
	ck := counterKey(key, item)
	now := r.now()

	if r.strategy == MovingWindow {
		cutoff := now.Add(-item.Window()).UnixMilli()
		min := "(" + strconv.FormatInt(cutoff, 10)

		var (
			countCmd  *redis.IntCmd
			oldestCmd *redis.ZSliceCmd
		)
		_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			countCmd = pipe.ZCount(ctx, ck, min, "+inf")
			oldestCmd = pipe.ZRangeByScoreWithScores(ctx, ck, &redis.ZRangeBy{
				Min: min, Max: "+inf", Offset: 0, Count: 1,
			})
			return nil
		})
		if err != nil {
			return WindowStats{}, fmt.Errorf("failed to load window stats: %w", err)
		}

		count := uint64(countCmd.Val())
		stats := WindowStats{Remaining: 0, ResetAt: now}
		if count < item.Amount {
			stats.Remaining = item.Amount - count
		}
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			stats.ResetAt = time.UnixMilli(int64(oldest[0].Score)).Add(item.Window())
		}
		return stats, nil
	}

	var (
		getCmd *redis.StringCmd
		ttlCmd *redis.DurationCmd
	)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, ck)
		ttlCmd = pipe.PTTL(ctx, ck)
		return nil
	})
	if err != nil && err != redis.Nil {
		return WindowStats{}, fmt.Errorf("failed to load window stats: %w", err)
	}

	count, err := getCmd.Uint64()
	if err == redis.Nil {
		return WindowStats{Remaining: item.Amount, ResetAt: now}, nil
	}
	if err != nil {
		return WindowStats{}, fmt.Errorf("failed to load counter: %w", err)
	}

	stats := WindowStats{Remaining: 0, ResetAt: now}
	if count < item.Amount {
		stats.Remaining = item.Amount - count
	}
	if ttl := ttlCmd.Val(); ttl > 0 {
		stats.ResetAt = now.Add(ttl)
	}
	return stats, nil
}

// Check verifies the server is reachable.
func (r *RedisBackend) Check(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the client connection pool.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

// member builds a sorted-set member unique across processes and within
// this process, so two hits in the same millisecond never collapse into
// one entry.
func (r *RedisBackend) member() string {
	return fmt.Sprintf("%d-%s-%d", r.now().UnixMilli(), r.nonce, r.seq.Add(1))
}

func (r *RedisBackend) elasticFlag() string {
	if r.strategy == FixedWindowElasticExpiry {
		return "1"
	}
	return "0"
}
