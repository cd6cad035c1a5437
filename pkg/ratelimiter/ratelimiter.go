// Package ratelimiter enforces per-principal cooldowns with Redis SETNX keys.
// Without a Redis client every action is allowed.
package ratelimiter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"anoa.com/fellowship/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return e.Message
}

type Limiter struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, prefix: "rate_limit:user:"}
}

func (l *Limiter) key(userID, action string) string {
	return fmt.Sprintf("%s%s:%s", l.prefix, userID, action)
}

// Acquire claims the cooldown window for userID and action. It returns a
// *RateLimitError while a previous window is still open.
func (l *Limiter) Acquire(ctx context.Context, userID, action string, window time.Duration) error {
	if l == nil || l.rdb == nil || window <= 0 {
		return nil
	}

	key := l.key(userID, action)
	wasSet, err := l.rdb.SetNX(ctx, key, "locked", window).Result()
	if err != nil {
		return fmt.Errorf("check rate limit: %w", err)
	}
	if wasSet {
		return nil
	}

	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return &RateLimitError{
		Message:    fmt.Sprintf("too many %s requests, retry in %.0fs", action, ttl.Seconds()),
		RetryAfter: ttl,
	}
}

// Release drops an open window, e.g. after the guarded command failed.
func (l *Limiter) Release(ctx context.Context, userID, action string) error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Del(ctx, l.key(userID, action)).Err()
}

// Cooldown guards a route per authenticated principal. The window is released
// again when the handler answers with a client or server error, so a rejected
// command does not cost the caller a turn. A Redis failure lets the request
// through.
func Cooldown(l *Limiter, action string, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.Next()
			return
		}

		err := l.Acquire(c.Request.Context(), userID, action, window)
		if rl, ok := err.(*RateLimitError); ok {
			c.Header("Retry-After", fmt.Sprintf("%.0f", rl.RetryAfter.Seconds()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": rl.Message, "retryable": true})
			return
		}
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("action", action), zap.Error(err))
			c.Next()
			return
		}

		c.Next()
		if c.Writer.Status() >= http.StatusBadRequest {
			_ = l.Release(context.WithoutCancel(c.Request.Context()), userID, action)
		}
	}
}
