package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/carbonledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	limiter, err := NewUsageLimiter(config.Config{})
	require.NoError(t, err)
	assert.Nil(t, limiter)
	assert.False(t, limiter.Enabled())

	ctx := context.Background()
	res, err := limiter.AllowUser(ctx, "42")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	token, ok, err := limiter.TryLockLedger(ctx, "42", 2024)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)
	assert.NoError(t, limiter.ReleaseLedger(ctx, "42", 2024, token))
	assert.NoError(t, limiter.Close())
}

func TestNewUsageLimiterValidatesLimits(t *testing.T) {
	_, err := NewUsageLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true}})
	assert.Error(t, err)

	_, err = newUsageLimiter(nil, config.RateLimitConfig{PerUserRate: 1, PerUserBurst: 1})
	assert.ErrorIs(t, err, ErrInvalidLockTTL)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "carbonledger:usage:user:42", UserKey(" 42 "))
	assert.Equal(t, "carbonledger:usage:lock:42:2024", LedgerLockKey("42", 2024))
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 8*time.Second, bucketTTL(5, 20))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 0))
}

func TestParseResult(t *testing.T) {
	allowed, err := parseResult([]any{int64(1), "3.5", int64(1700000000000)}, 2, 10)
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)
	assert.Equal(t, 3, allowed.Remaining)
	assert.Equal(t, 10, allowed.Limit)
	assert.Zero(t, allowed.RetryAfter)

	denied, err := parseResult([]any{int64(0), "0.5", int64(1700000000000)}, 2, 10)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 250*time.Millisecond, denied.RetryAfter)

	_, err = parseResult([]any{int64(1)}, 2, 10)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestUnconfiguredPrimitives(t *testing.T) {
	var bucket *TokenBucket
	_, err := bucket.Allow(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrBucketNotConfigured)

	var locker *Locker
	_, _, err = locker.TryLock(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.NoError(t, locker.Release(context.Background(), "k", "t"))
}
