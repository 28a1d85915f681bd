package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ AtomicStore = (*RedisStore)(nil)

// keyGrace keeps a record alive slightly past its reset time so the
// "now > resetAt" comparison, not key expiry, decides the window edge.
const keyGrace = time.Second

// hitScript performs the fixed-window decision atomically inside Redis
var hitScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local max = tonumber(ARGV[3])
	local grace = tonumber(ARGV[4])

	local reset = tonumber(redis.call('HGET', key, 'reset_at') or '0')
	if reset == 0 or now > reset then
		redis.call('HSET', key, 'count', 1, 'reset_at', now + window)
		redis.call('PEXPIREAT', key, now + window + grace)
		return 1
	end

	local count = tonumber(redis.call('HGET', key, 'count') or '0')
	if count >= max then
		return 0
	end

	redis.call('HINCRBY', key, 'count', 1)
	return 1
`)

// RedisStore keeps records in Redis so several relay processes share one
// counter per client.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit:"}
}

// NewRedisStoreFromURL connects to the Redis instance at url
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}
	return NewRedisStore(client), nil
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("error reading rate limit record: %w", err)
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}
	rec, err := parseRecord(fields)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, rec Record) error {
	k := s.key(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, "count", rec.Count, "reset_at", rec.ResetAt.UnixMilli())
		pipe.PExpireAt(ctx, k, rec.ResetAt.Add(keyGrace))
		return nil
	})
	if err != nil {
		return fmt.Errorf("error writing rate limit record: %w", err)
	}
	return nil
}

func (s *RedisStore) Increment(ctx context.Context, key string) (Record, error) {
	k := s.key(key)
	exists, err := s.client.Exists(ctx, k).Result()
	if err != nil {
		return Record{}, fmt.Errorf("error checking rate limit record: %w", err)
	}
	if exists == 0 {
		return Record{}, fmt.Errorf("no rate limit record for %q", key)
	}
	if err := s.client.HIncrBy(ctx, k, "count", 1).Err(); err != nil {
		return Record{}, fmt.Errorf("error incrementing rate limit record: %w", err)
	}
	rec, _, err := s.Get(ctx, key)
	return rec, err
}

// Hit makes the allow decision in a single script call
func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (bool, error) {
	allowed, err := hitScript.Run(ctx, s.client, []string{s.key(key)},
		now.UnixMilli(), window.Milliseconds(), max, keyGrace.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("error running rate limit script: %w", err)
	}
	return allowed == 1, nil
}

func parseRecord(fields map[string]string) (Record, error) {
	count, err := strconv.Atoi(fields["count"])
	if err != nil {
		return Record{}, errors.New("malformed rate limit count")
	}
	resetMs, err := strconv.ParseInt(fields["reset_at"], 10, 64)
	if err != nil {
		return Record{}, errors.New("malformed rate limit reset time")
	}
	return Record{Count: count, ResetAt: time.UnixMilli(resetMs)}, nil
}
