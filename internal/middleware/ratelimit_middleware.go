package middleware

import (
	"context"
	"net/http"
	"strconv"

	"matjip-chat/internal/events"
	"matjip-chat/internal/redis"
	"matjip-chat/internal/services"
	"matjip-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// MessageLimiter is satisfied by *redis.RateLimiter.
type MessageLimiter interface {
	AllowMessage(ctx context.Context, userID int64) (*redis.RateLimitResult, error)
}

// ConnectLimiter is satisfied by *redis.RateLimiter.
type ConnectLimiter interface {
	AllowConnect(ctx context.Context, userID int64) (*redis.RateLimitResult, error)
}

// MessageRateLimitMiddleware limits REST sends per user. Apply after AuthMiddleware.
func MessageRateLimitMiddleware(limiter MessageLimiter) gin.HandlerFunc {
	return userLimit(func(ctx context.Context, userID int64) (*redis.RateLimitResult, error) {
		return limiter.AllowMessage(ctx, userID)
	}, "message rate limit exceeded")
}

// WebSocketRateLimitMiddleware limits live connection attempts per user. Apply after AuthMiddleware.
func WebSocketRateLimitMiddleware(limiter ConnectLimiter) gin.HandlerFunc {
	return userLimit(func(ctx context.Context, userID int64) (*redis.RateLimitResult, error) {
		return limiter.AllowConnect(ctx, userID)
	}, "connection rate limit exceeded")
}

func userLimit(allow func(context.Context, int64) (*redis.RateLimitResult, error), message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := services.UserIDFromContext(c.Request.Context())
		if !ok {
			c.Next()
			return
		}

		result, err := allow(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("rate limit error", events.CodeInternal))
			c.Abort()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse(message, events.CodeRateLimited))
			c.Abort()
			return
		}

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
