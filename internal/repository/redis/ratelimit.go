package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// attemptScript keeps one sorted set per client, scored by attempt time in
// milliseconds. Only admitted attempts are stored: a client hammering the buy
// endpoint while blocked does not push its own window forward.
//
//	KEYS[1] attempts of one client
//	ARGV    now_ms, window_ms, limit, attempt id
//
// Returns {admitted (0|1), attempts in window, retry_after_ms}.
const attemptScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local used = redis.call('ZCARD', KEYS[1])

if used >= limit then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  local wait = window
  if oldest[2] then wait = tonumber(oldest[2]) + window - now end
  if wait < 0 then wait = 0 end
  return {0, used, wait}
end

redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return {1, used + 1, 0}
`

// AttemptLimiter caps purchase attempts per client over a sliding window.
type AttemptLimiter struct {
	rdb    *redis.Client
	scope  string
	limit  int
	window time.Duration
	script *redis.Script

	now       func() time.Time
	attemptID func() string
}

func NewAttemptLimiter(rdb *redis.Client, scope string, limit int, window time.Duration) *AttemptLimiter {
	return &AttemptLimiter{
		rdb:       rdb,
		scope:     scope,
		limit:     limit,
		window:    window,
		script:    redis.NewScript(attemptScript),
		now:       time.Now,
		attemptID: func() string { return randomHex(12) },
	}
}

// Allow records an attempt by client and reports whether it is admitted.
//
// Parameters:
//   - client: caller identity, usually the remote IP.
//
// Returns:
//   - allowed: false once client used up its window.
//   - current: admitted attempts in the window, this one included.
//   - retryAfter: when the oldest admitted attempt leaves the window.
//   - error: Redis failure or a reply the script could not have produced.
func (l *AttemptLimiter) Allow(ctx context.Context, client string) (allowed bool, current int64, retryAfter time.Duration, err error) {
	const op = "redis.AttemptLimiter.Allow"

	res, err := l.script.Run(ctx, l.rdb,
		[]string{KeyRateLimit(l.scope, client)},
		l.now().UnixMilli(), l.window.Milliseconds(), l.limit, l.attemptID(),
	).Result()
	if err != nil {
		return false, 0, 0, fmt.Errorf("%s:%w", op, err)
	}

	allowed, current, retryAfter, err = parseVerdict(res)
	if err != nil {
		return false, 0, 0, fmt.Errorf("%s:%w", op, err)
	}

	return allowed, current, retryAfter, nil
}

func parseVerdict(res any) (bool, int64, time.Duration, error) {
	arr, ok := res.([]any)
	if !ok || len(arr) != 3 {
		return false, 0, 0, fmt.Errorf("unexpected limiter reply %v", res)
	}

	return toInt(arr[0]) == 1, toInt(arr[1]), time.Duration(toInt(arr[2])) * time.Millisecond, nil
}

func toInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
