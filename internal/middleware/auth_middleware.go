package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"matjip-chat/internal/domain"
	"matjip-chat/internal/events"
	"matjip-chat/internal/services"
	"matjip-chat/internal/transport/httpdto"
	"matjip-chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

// UserRecorder stores the identity carried by a verified token.
type UserRecorder interface {
	EnsureUser(ctx context.Context, u domain.User) error
}

func AuthMiddleware(service *services.AuthService, users UserRecorder) gin.HandlerFunc {
	var seen sync.Map
	return func(c *gin.Context) {
		claims, err := service.ParseAccessToken(ExtractToken(c))
		if err != nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", events.CodeUnauthorized))
			c.Abort()
			return
		}
		u, err := claims.User()
		if err != nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", events.CodeUnauthorized))
			c.Abort()
			return
		}

		if users != nil {
			if _, ok := seen.Load(u); !ok {
				if err := users.EnsureUser(c.Request.Context(), u); err != nil {
					c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("failed to record user", events.CodeInternal))
					c.Abort()
					return
				}
				seen.Store(u, struct{}{})
			}
		}

		ctx := services.WithUserContext(c.Request.Context(), u)
		ctx = context.WithValue(ctx, logger.UserIdKey, u.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ExtractToken reads a bearer token from the Authorization header, falling back to the token
// query parameter for websocket clients that cannot set headers.
func ExtractToken(c *gin.Context) string {
	if token := extractBearer(c); token != "" {
		return token
	}
	return strings.TrimSpace(c.Query("token"))
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
