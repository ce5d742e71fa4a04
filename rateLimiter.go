package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/card_audit_backend/utils"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter per owner (or client IP when anonymous).
type RateLimiter struct {
	client func() *redis.Client
	limit  int64
	window time.Duration
}

// NewRateLimiter takes a client getter so the limiter works once redis connects after startup.
func NewRateLimiter(client func() *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (rl *RateLimiter) key(c *gin.Context) string {
	if ownerId, ok := utils.GetOwnerIdFromContext(c.Request.Context()); ok {
		return "ratelimit:owner:" + ownerId
	}
	return "ratelimit:ip:" + c.ClientIP()
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	client := rl.client()
	if client == nil {
		// no redis, no limiting
		c.Next()
		return
	}
	ctx := c.Request.Context()
	key := rl.key(c)

	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		_ = c.Error(err)
		c.Next()
		return
	}
	if count == 1 {
		if err := client.Expire(ctx, key, rl.window).Err(); err != nil {
			_ = c.Error(err)
		}
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
}
