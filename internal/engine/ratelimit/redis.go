package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"zyphon/internal/platform/config"
)

// hitScript runs the fixed window in one round trip.
// KEYS[1] counter key, ARGV[1] max, ARGV[2] window in ms.
// Returns {count, pttl, admitted}.
var hitScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local count = tonumber(redis.call("GET", KEYS[1]))

if count == nil then
	redis.call("SET", KEYS[1], 1, "PX", window)
	local admitted = 0
	if max > 0 then admitted = 1 end
	return {1, window, admitted}
end

local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], window)
	ttl = window
end

if count >= max then
	return {count, ttl, 0}
end

count = redis.call("INCR", KEYS[1])
return {count, ttl, 1}
`)

// RedisStore shares counters between replicas.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// NewRedisClient builds a client from config and checks the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func (s *RedisStore) Hit(ctx context.Context, key string, max int, window time.Duration) (Window, error) {
	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + key}, max, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 3 {
		return Window{}, fmt.Errorf("%w: unexpected script reply %v", ErrStoreUnavailable, res)
	}

	return Window{
		Count:    int(res[0]),
		ResetAt:  s.now().Add(time.Duration(res[1]) * time.Millisecond),
		Admitted: res[2] == 1,
	}, nil
}
