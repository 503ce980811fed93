package httpx

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func TestRedisWindowAlignsToClock(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first, end := redisWindow("sphere:ratelimit:", "write:ip:10.0.0.7", base.Add(5*time.Second), time.Minute)
	second, sameEnd := redisWindow("sphere:ratelimit:", "write:ip:10.0.0.7", base.Add(59*time.Second), time.Minute)
	if first != second || !end.Equal(sameEnd) {
		t.Fatalf("requests in one window got different counters: %s/%s", first, second)
	}
	if !end.Equal(base.Add(time.Minute)) {
		t.Fatalf("window end = %s, want %s", end, base.Add(time.Minute))
	}
	if !strings.HasPrefix(first, "sphere:ratelimit:write:ip:10.0.0.7:") {
		t.Fatalf("unexpected key %q", first)
	}

	next, nextEnd := redisWindow("sphere:ratelimit:", "write:ip:10.0.0.7", base.Add(time.Minute), time.Minute)
	if next == first || !nextEnd.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("next window reused counter %s (end %s)", next, nextEnd)
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	rl := newRedisRateLimiter(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer rl.Close()
	rl.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC) }

	decision := rl.Allow("read:ip:10.0.0.7", 1, time.Minute)
	if !decision.allowed {
		t.Fatal("limiter should allow requests when redis is unreachable")
	}
	if !decision.windowEnd.Equal(time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)) {
		t.Fatalf("unexpected window end %s", decision.windowEnd)
	}
}
