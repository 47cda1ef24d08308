package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/parlor/pkg/errors"
	"github.com/charlesng35/parlor/pkg/logger"
	"github.com/charlesng35/parlor/pkg/response"
)

// Recovery converts a panicking handler into a JSON 500 so one broken
// request cannot take the gateway process down. Websocket pumps have their
// own teardown; this covers the plain HTTP surface.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithModule("http").Error("handler panic",
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("client_ip", c.ClientIP()),
					zap.Any("panic", r),
				)
				c.Abort()
				// The panic value stays in the logs only.
				response.Error(c, apperrors.ErrInternalServer)
			}
		}()
		c.Next()
	}
}

// NotFoundHandler answers unknown routes with the standard error envelope.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, apperrors.ErrNotFound)
}
