package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/carbonledger/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	rateLimitReasonUserRate         = "user-rate"
	rateLimitReasonLedgerConcurrent = "ledger-concurrency"
)

type usageRateLimitKey struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`
}

// UsageRateLimit applies the per-user token bucket and serializes concurrent
// ingestion into the same (user, year) ledger.
func (s *Server) UsageRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.usageLimiter == nil || !s.usageLimiter.Enabled() {
			c.Next()
			return
		}

		actor, ok := mustActor(c)
		if !ok {
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		userID, year, err := readUsageRateLimitKey(c)
		if err != nil {
			log.Warn("usage rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if userID == "" {
			userID = actor.UserID.String()
		}

		result, err := s.usageLimiter.AllowUser(ctx, userID)
		if err != nil {
			log.Warn("usage rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			s.denyUsageRateLimit(c, endpoint, rateLimitReasonUserRate, result.RetryAfter)
			return
		}

		if year > 0 {
			token, locked, err := s.usageLimiter.TryLockLedger(ctx, userID, year)
			if err != nil {
				log.Warn("usage ledger lock failed", zap.Error(err))
				AbortWithError(c, ErrServiceUnavailable)
				return
			}
			if !locked {
				s.denyUsageRateLimit(c, endpoint, rateLimitReasonLedgerConcurrent, time.Second)
				return
			}
			defer func() {
				if err := s.usageLimiter.ReleaseLedger(ctx, userID, year, token); err != nil {
					log.Warn("usage ledger unlock failed", zap.Error(err))
				}
			}()
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		}
		c.Next()
	}
}

func (s *Server) denyUsageRateLimit(c *gin.Context, endpoint, reason string, retryAfter time.Duration) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("usage rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, reason)
	}

	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

// readUsageRateLimitKey peeks at the body and restores it for the handler.
func readUsageRateLimitKey(c *gin.Context) (string, int, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", 0, err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", 0, nil
	}

	var payload usageRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", 0, nil
	}

	year := 0
	if date, err := time.Parse(dateOnlyLayout, strings.TrimSpace(payload.Date)); err == nil {
		year = date.Year()
	}
	return strings.TrimSpace(payload.UserID), year, nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
