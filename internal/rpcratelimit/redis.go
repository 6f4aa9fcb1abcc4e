package rpcratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls the shared sliding-window limit kept in Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Requests int
	Window   time.Duration
}

// slidingWindowScript atomically drops expired entries, counts what's left
// in the window, and admits the call only if it still fits under Requests.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local now_ms = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)
	local current = redis.call('ZCARD', key)
	if current < limit then
		redis.call('ZADD', key, now_ms, now_ms .. ':' .. math.random())
		redis.call('PEXPIRE', key, window_ms)
		return 1
	end
	return 0
`)

// RedisLimiter shares one limit across every rpchost process pointed at the
// same Redis instance and key prefix, for a fleet that wants one combined
// rate ceiling rather than one per process.
type RedisLimiter struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedisLimiter dials Redis and verifies connectivity with a PING.
func NewRedisLimiter(ctx context.Context, cfg RedisConfig) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("rpcratelimit: redis ping failed: %w", err)
	}

	return &RedisLimiter{client: client, cfg: cfg}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := "rpchost:ratelimit:" + key
	now := time.Now().UnixMilli()
	window := l.cfg.Window.Milliseconds()

	result, err := slidingWindowScript.Run(ctx, l.client, []string{redisKey}, l.cfg.Requests, window, now).Int()
	if err != nil {
		return false, fmt.Errorf("rpcratelimit: redis script error: %w", err)
	}
	return result == 1, nil
}

// Close releases the underlying Redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
