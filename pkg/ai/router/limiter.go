package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter enforces the per-provider RPM/TPM/daily-budget limits described in
// the pre-call rate check. It layers a process-local token bucket
// (golang.org/x/time/rate) in front of shared Redis counters so a single
// process sheds load before round-tripping to Redis, while the Redis
// counters keep the limit accurate across a fleet of router instances.
//
// Redis is optional: a nil client degrades the Limiter to process-local-only
// enforcement, which is sufficient for a single-instance deployment or tests.
type Limiter struct {
	redis   *redis.Client
	localMu sync.Mutex
	local   map[string]*rate.Limiter
}

// NewLimiter builds a Limiter. redisClient may be nil.
func NewLimiter(redisClient *redis.Client) *Limiter {
	return &Limiter{redis: redisClient, local: make(map[string]*rate.Limiter)}
}

func (l *Limiter) localBucket(providerID string, rpm int) *rate.Limiter {
	l.localMu.Lock()
	defer l.localMu.Unlock()
	b, ok := l.local[providerID]
	if !ok {
		ratePerSec := rate.Limit(float64(rpm) / 60.0)
		b = rate.NewLimiter(ratePerSec, maxInt(rpm, 1))
		l.local[providerID] = b
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// AllowRequest reports whether providerID may place another request right
// now given its configured RPM. It never blocks; callers that get false
// should re-select a different provider.
func (l *Limiter) AllowRequest(ctx context.Context, providerID string, rpm int) bool {
	if rpm <= 0 {
		return true
	}
	if !l.localBucket(providerID, rpm).Allow() {
		return false
	}
	if l.redis == nil {
		return true
	}
	key := fmt.Sprintf("ai:rpm:%s:%d", providerID, time.Now().Unix()/60)
	n, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		// Redis unavailable: fail open on the shared counter, the local
		// bucket already shed load for this process.
		return true
	}
	if n == 1 {
		l.redis.Expire(ctx, key, 90*time.Second)
	}
	return int(n) <= rpm
}

// ReserveTokens records tpm usage against a per-minute Redis counter and
// reports whether the provider is still within its TPM budget.
func (l *Limiter) ReserveTokens(ctx context.Context, providerID string, tokens, tpm int) bool {
	if tpm <= 0 || l.redis == nil {
		return true
	}
	key := fmt.Sprintf("ai:tpm:%s:%d", providerID, time.Now().Unix()/60)
	n, err := l.redis.IncrBy(ctx, key, int64(tokens)).Result()
	if err != nil {
		return true
	}
	if n == int64(tokens) {
		l.redis.Expire(ctx, key, 90*time.Second)
	}
	return int(n) <= tpm
}

// ReserveBudget records a cost against the provider's daily budget and
// reports whether the provider is still within DailyBudget. It is advisory:
// the daily budget is advisory and allows the counter to overshoot by at most one
// in-flight request's cost, since the INCRBYFLOAT and the check are not a
// single atomic compare-and-set.
func (l *Limiter) ReserveBudget(ctx context.Context, providerID string, cost, dailyBudget float64) bool {
	if dailyBudget <= 0 || l.redis == nil {
		return true
	}
	key := fmt.Sprintf("ai:cost:%s:%s", providerID, time.Now().UTC().Format("2006-01-02"))
	total, err := l.redis.IncrByFloat(ctx, key, cost).Result()
	if err != nil {
		return true
	}
	if total == cost {
		l.redis.Expire(ctx, key, 48*time.Hour)
	}
	return total <= dailyBudget+cost
}

// SpentToday returns the provider's recorded cost for the current UTC day.
func (l *Limiter) SpentToday(ctx context.Context, providerID string) float64 {
	if l.redis == nil {
		return 0
	}
	key := fmt.Sprintf("ai:cost:%s:%s", providerID, time.Now().UTC().Format("2006-01-02"))
	v, err := l.redis.Get(ctx, key).Float64()
	if err != nil {
		return 0
	}
	return v
}
