package middleware

import (
	"net/http"

	"market-booking/internal/transport/httpdto"
	"market-booking/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler logs errors attached with c.Error and answers with a generic
// 500 when the handler wrote nothing.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := c.Writer.Status()
		log := l.WithContext(c.Request.Context())
		if status >= http.StatusInternalServerError || !c.Writer.Written() {
			log.Error("request error", zap.String("route", c.FullPath()), zap.Int("status", status), zap.Error(err))
		} else {
			log.Debug("request rejected", zap.String("route", c.FullPath()), zap.Int("status", status), zap.Error(err))
		}

		if !c.Writer.Written() {
			c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("internal server error", "INTERNAL_ERROR"))
		}
	}
}

// Recovery turns a handler panic into a 500 response.
func Recovery(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				l.WithContext(c.Request.Context()).Error("recovered from panic",
					zap.Any("panic", r), zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					httpdto.NewErrorResponse("internal server error", "INTERNAL_ERROR"))
			}
		}()
		c.Next()
	}
}
