package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pointledger/internal/config"
	"go.uber.org/zap"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestTokenBucketDeniesAfterBurst(t *testing.T) {
	bucket := NewTokenBucket(newRedis(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := bucket.Allow(ctx, "bucket:a", 0.01, 2)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d should be allowed", i)
		}
	}

	res, err := bucket.Allow(ctx, "bucket:a", 0.01, 2)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if res.Allowed {
		t.Fatalf("third call should be denied")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("expected a retry-after, got %s", res.RetryAfter)
	}

	other, err := bucket.Allow(ctx, "bucket:b", 0.01, 2)
	if err != nil || !other.Allowed {
		t.Fatalf("separate keys must not share tokens: %+v %v", other, err)
	}
}

func TestTokenBucketValidation(t *testing.T) {
	var unset *TokenBucket
	if _, err := unset.Allow(context.Background(), "k", 1, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	bucket := NewTokenBucket(newRedis(t))
	if _, err := bucket.Allow(context.Background(), "", 1, 1); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := bucket.Allow(context.Background(), "k", 0, 1); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate, got %v", err)
	}
}

func TestLockerWithLock(t *testing.T) {
	locker := NewLocker(newRedis(t))
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "sweep", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed: %v", err)
	}

	ran := false
	err = locker.WithLock(ctx, "sweep", time.Minute, func(context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, ErrLockHeld) || ran {
		t.Fatalf("expected ErrLockHeld without running, got %v ran=%v", err, ran)
	}

	if err := locker.Release(ctx, "sweep", "not-the-token"); err != nil {
		t.Fatalf("release with wrong token: %v", err)
	}
	if _, ok, _ := locker.TryLock(ctx, "sweep", time.Minute); ok {
		t.Fatalf("a foreign token must not release the lock")
	}

	if err := locker.Release(ctx, "sweep", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	err = locker.WithLock(ctx, "sweep", time.Minute, func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("expected lock to run fn after release: %v", err)
	}
}

func TestLockerWithoutRedisRunsUnguarded(t *testing.T) {
	var locker *Locker
	ran := false
	if err := locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error {
		ran = true
		return nil
	}); err != nil || !ran {
		t.Fatalf("expected fn to run, err=%v ran=%v", err, ran)
	}
}

func consumeConfig(enabled bool) config.Config {
	return config.Config{RateLimit: config.RateLimitConfig{Enabled: enabled, ConsumeRate: 0.01, ConsumeBurst: 2}}
}

func TestConsumeLimiterLocalFallback(t *testing.T) {
	limiter := NewConsumeLimiter(ConsumeLimiterParams{Config: consumeConfig(true), Log: zap.NewNop()})
	ctx := context.Background()

	if !limiter.Allow(ctx, "1").Allowed || !limiter.Allow(ctx, "1").Allowed {
		t.Fatalf("burst calls should be allowed")
	}
	res := limiter.Allow(ctx, "1")
	if res.Allowed {
		t.Fatalf("third call should be denied")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("expected retry-after on denial")
	}
	if !limiter.Allow(ctx, "2").Allowed {
		t.Fatalf("another account has its own bucket")
	}
}

func TestConsumeLimiterRedis(t *testing.T) {
	limiter := NewConsumeLimiter(ConsumeLimiterParams{Config: consumeConfig(true), Log: zap.NewNop(), Redis: newRedis(t)})
	ctx := context.Background()

	limiter.Allow(ctx, "1")
	limiter.Allow(ctx, "1")
	if limiter.Allow(ctx, "1").Allowed {
		t.Fatalf("third call should be denied")
	}
}

func TestConsumeLimiterDisabled(t *testing.T) {
	limiter := NewConsumeLimiter(ConsumeLimiterParams{Config: consumeConfig(false), Log: zap.NewNop()})
	for i := 0; i < 10; i++ {
		if !limiter.Allow(context.Background(), "1").Allowed {
			t.Fatalf("disabled limiter must allow")
		}
	}
}
