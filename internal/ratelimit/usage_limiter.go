package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/carbonledger/internal/config"
)

const (
	keyUsageUser = "carbonledger:usage:user:%s"
	keyUsageLock = "carbonledger:usage:lock:%s:%d"
)

// UsageLimiter throttles usage ingestion per user and serializes concurrent
// writes to the same (user, year) ledger. A nil limiter allows everything.
type UsageLimiter struct {
	client redis.UniversalClient
	bucket *TokenBucket
	locker *Locker

	rate    float64
	burst   int
	lockTTL time.Duration
}

func NewUsageLimiter(cfg config.Config) (*UsageLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	return newUsageLimiter(client, limitCfg)
}

func newUsageLimiter(client redis.UniversalClient, limitCfg config.RateLimitConfig) (*UsageLimiter, error) {
	if limitCfg.PerUserRate <= 0 || limitCfg.PerUserBurst <= 0 {
		return nil, errors.New("usage per-user rate limit must be positive")
	}
	if limitCfg.LockTTL <= 0 {
		return nil, ErrInvalidLockTTL
	}
	return &UsageLimiter{
		client:  client,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    limitCfg.PerUserRate,
		burst:   limitCfg.PerUserBurst,
		lockTTL: limitCfg.LockTTL,
	}, nil
}

func (l *UsageLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *UsageLimiter) AllowUser(ctx context.Context, userID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, UserKey(userID), l.rate, l.burst)
}

func (l *UsageLimiter) TryLockLedger(ctx context.Context, userID string, year int) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, LedgerLockKey(userID, year), l.lockTTL)
}

func (l *UsageLimiter) ReleaseLedger(ctx context.Context, userID string, year int, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, LedgerLockKey(userID, year), token)
}

func (l *UsageLimiter) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

func UserKey(userID string) string {
	return fmt.Sprintf(keyUsageUser, strings.TrimSpace(userID))
}

func LedgerLockKey(userID string, year int) string {
	return fmt.Sprintf(keyUsageLock, strings.TrimSpace(userID), year)
}
