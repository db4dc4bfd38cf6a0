package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idemNS = ns + ":idem"

	lockValue    = "LOCK"
	resultPrefix = "RES:"
)

func KeyIdemPurchase(clientKey string) string {
	return fmt.Sprintf("%s:purchase:%s", idemNS, clientKey)
}

// IdempotencyStore keeps the response of a completed request under the
// client's idempotency key. While the request is in flight the key holds a
// short lived lock marker instead.
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

func (s *IdempotencyStore) AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, lockValue, lockTTL).Result()
}

func (s *IdempotencyStore) SaveResult(ctx context.Context, key string, jsonPayload string) error {
	return s.rdb.Set(ctx, key, resultPrefix+jsonPayload, s.ttl).Err()
}

func (s *IdempotencyStore) GetResult(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if payload, ok := strings.CutPrefix(v, resultPrefix); ok {
		return payload, true, nil
	}

	return "", false, nil
}

func (s *IdempotencyStore) IsLocked(ctx context.Context, key string) (bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == lockValue, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// unlockScript deletes the lock only while it still holds the caller's token,
// so a worker whose lock expired cannot free a lock taken by another one.
const unlockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// PaymentLocker orders concurrent deliveries of the same payment
// notification. The ticket store stays the real guard against double sales.
type PaymentLocker struct {
	rdb      *redis.Client
	ttl      time.Duration
	unlock   *redis.Script
	newToken func() string
}

func NewPaymentLocker(rdb *redis.Client, ttl time.Duration) *PaymentLocker {
	return &PaymentLocker{
		rdb:      rdb,
		ttl:      ttl,
		unlock:   redis.NewScript(unlockScript),
		newToken: func() string { return randomHex(16) },
	}
}

// Lock returns ok=false when another worker holds paymentID. On success the
// token must be handed back to Unlock.
func (l *PaymentLocker) Lock(ctx context.Context, paymentID string) (string, bool, error) {
	token := l.newToken()

	ok, err := l.rdb.SetNX(ctx, KeyWebhookLock(paymentID), token, l.ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}

	return token, true, nil
}

// Unlock is a no-op when the lock expired and now belongs to someone else.
func (l *PaymentLocker) Unlock(ctx context.Context, paymentID, token string) error {
	return l.unlock.Run(ctx, l.rdb, []string{KeyWebhookLock(paymentID)}, token).Err()
}
