package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pointledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const keyConsumeAccount = "pointledger:ratelimit:consume:%s"

type ConsumeLimiterParams struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

// ConsumeLimiter throttles consume calls per account. With redis the bucket is
// shared by every API instance; without it each process keeps its own
// buckets. A redis failure falls back to the local bucket.
type ConsumeLimiter struct {
	enabled bool
	log     *zap.Logger

	bucket *TokenBucket
	rate   float64
	burst  int

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func NewConsumeLimiter(p ConsumeLimiterParams) *ConsumeLimiter {
	cfg := p.Config.RateLimit
	limiter := &ConsumeLimiter{
		enabled: cfg.Enabled && cfg.ConsumeRate > 0 && cfg.ConsumeBurst > 0,
		log:     p.Log.Named("ratelimit.consume"),
		bucket:  NewTokenBucket(p.Redis),
		rate:    cfg.ConsumeRate,
		burst:   cfg.ConsumeBurst,
		local:   make(map[string]*rate.Limiter),
	}
	if cfg.Enabled && !limiter.enabled {
		limiter.log.Warn("consume rate limit disabled, rate and burst must be positive",
			zap.Float64("rate", cfg.ConsumeRate),
			zap.Int("burst", cfg.ConsumeBurst),
		)
	}
	return limiter
}

func (l *ConsumeLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow reports whether accountID may consume now.
func (l *ConsumeLimiter) Allow(ctx context.Context, accountID string) Result {
	if !l.Enabled() {
		return Result{Allowed: true}
	}
	accountID = strings.TrimSpace(accountID)

	if l.bucket != nil {
		res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyConsumeAccount, accountID), l.rate, l.burst)
		if err == nil {
			return res
		}
		l.log.Warn("redis rate limit failed, using local bucket", zap.Error(err))
	}
	return l.allowLocal(accountID)
}

func (l *ConsumeLimiter) allowLocal(accountID string) Result {
	l.mu.Lock()
	limiter, ok := l.local[accountID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.rate), l.burst)
		l.local[accountID] = limiter
	}
	l.mu.Unlock()

	now := time.Now()
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Result{Limit: l.burst}
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Result{Limit: l.burst, RetryAfter: delay}
	}
	return Result{
		Allowed:   true,
		Limit:     l.burst,
		Remaining: int(limiter.TokensAt(now)),
	}
}
