package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript implements an atomic token-bucket check: refill since
// the last observed timestamp, admit if at least one token is available,
// and persist the updated bucket state with a TTL long enough to survive
// between refills.
const tokenBucketScript = `
local key = KEYS[1]
local rps = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(bucket[1])
local ts = tonumber(bucket[2])

if tokens == nil then
	tokens = burst
	ts = now
end

local delta = math.max(0, now - ts)
tokens = math.min(burst, tokens + delta * rps)

local admitted = 0
if tokens >= 1 then
	admitted = 1
	tokens = tokens - 1
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("EXPIRE", key, math.ceil(burst / rps) + 1)

return {admitted, math.floor(tokens)}
`

// RedisStore is the production Store backed by a single Redis instance or
// cluster, via go-redis/v9's redis.UniversalClient so the same code serves
// both a standalone REDIS_URL and a cluster deployment.
type RedisStore struct {
	client redis.UniversalClient
	script *redis.Script
}

// NewRedisStore connects to the Redis endpoint described by redisURL
// (a redis:// or rediss:// URL, per go-redis's ParseURL).
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return &RedisStore{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}, nil
}

// NewRedisStoreFromClient wraps an already-constructed client, primarily
// for tests driven against miniredis.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, script: redis.NewScript(tokenBucketScript)}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, &ErrUnavailable{Op: "get", Err: err}
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return &ErrUnavailable{Op: "set", Err: err}
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return &ErrUnavailable{Op: "del", Err: err}
	}
	return nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	v, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, &ErrUnavailable{Op: "incr", Err: err}
	}
	if ttl > 0 {
		s.client.Expire(ctx, key, ttl)
	}
	return v, nil
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SAdd(ctx, key, args...).Err(); err != nil {
		return &ErrUnavailable{Op: "sadd", Err: err}
	}
	return nil
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	v, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, &ErrUnavailable{Op: "smembers", Err: err}
	}
	return v, nil
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SRem(ctx, key, args...).Err(); err != nil {
		return &ErrUnavailable{Op: "srem", Err: err}
	}
	return nil
}

func (s *RedisStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 1000).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, &ErrUnavailable{Op: "scan", Err: err}
	}
	return keys, nil
}

func (s *RedisStore) EvalTokenBucket(ctx context.Context, key string, rps float64, burst int, now time.Time) (bool, int, error) {
	res, err := s.script.Run(ctx, s.client, []string{key},
		strconv.FormatFloat(rps, 'f', -1, 64),
		strconv.Itoa(burst),
		strconv.FormatInt(now.Unix(), 10),
	).Result()
	if err != nil {
		return false, 0, &ErrUnavailable{Op: "eval_token_bucket", Err: err}
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("unexpected token bucket script result: %v", res)
	}
	admitted, _ := vals[0].(int64)
	remaining, _ := vals[1].(int64)
	return admitted == 1, int(remaining), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
