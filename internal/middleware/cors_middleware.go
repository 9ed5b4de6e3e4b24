package middleware

import (
	"slices"
	"time"

	"market-booking/config"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewCORSMiddleware allows browser clients on the configured origins. A "*"
// entry allows every origin.
func NewCORSMiddleware(cfg config.AppConfig) gin.HandlerFunc {
	origins := cfg.CORSAllowOrigins
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")
	if allowAll {
		origins = nil
	}
	return cors.New(cors.Config{
		AllowAllOrigins:  allowAll,
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID", RequestIDHeader},
		ExposeHeaders:    []string{RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}
