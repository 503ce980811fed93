package httpx

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// redisWindowGrace keeps a window's counter around briefly after the window
// closes so replicas with slightly skewed clocks still see it.
const redisWindowGrace = 5 * time.Second

// redisRateLimiter counts requests in clock-aligned windows shared by every
// API replica. Each window has its own key, created and given its expiry
// in one MULTI, so a counter can never outlive its window by more than the
// grace period.
type redisRateLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewRedisRateLimiter connects to Redis and returns a limiter shared by
// every API replica pointing at the same instance.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newRedisRateLimiter(client, logger), nil
}

func newRedisRateLimiter(client *redis.Client, logger *slog.Logger) *redisRateLimiter {
	return &redisRateLimiter{
		client:  client,
		logger:  logger,
		prefix:  "sphere:ratelimit:",
		timeout: 250 * time.Millisecond,
		now:     time.Now,
	}
}

// redisWindow names the counter for key in the window containing now and
// returns when that window ends.
func redisWindow(prefix, key string, now time.Time, window time.Duration) (string, time.Time) {
	start := now.Truncate(window)
	return prefix + key + ":" + strconv.FormatInt(start.UnixMilli(), 10), start.Add(window)
}

// Allow fails open when Redis is unreachable.
func (rl *redisRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = rateWindowDefault
	}
	redisKey, windowEnd := redisWindow(rl.prefix, key, rl.now(), window)

	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()
	var incr *redis.IntCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.PExpireAt(ctx, redisKey, windowEnd.Add(redisWindowGrace))
		return nil
	})
	if err != nil {
		rl.logRedisError(key, err)
		return rateDecision{allowed: true, windowEnd: windowEnd}
	}
	count := int(incr.Val())
	return rateDecision{allowed: count <= limit, count: count, windowEnd: windowEnd}
}

func (rl *redisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}

func (rl *redisRateLimiter) logRedisError(key string, err error) {
	if rl.logger == nil {
		return
	}
	rl.logger.Error("redis rate limiter unavailable, allowing request", "key", key, "error", err)
}
