package middleware

import (
	"matjip-chat/internal/services"
	"matjip-chat/internal/transport/httpdto"
	"matjip-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error attached with c.Error as the response envelope.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status := services.HTTPStatus(err)
		if l != nil && status >= 500 {
			l.WithContext(c.Request.Context()).Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		}
		c.JSON(status, httpdto.NewErrorResponse(err.Error(), services.ErrorCode(err)))
	}
}
