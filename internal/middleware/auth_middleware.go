package middleware

import (
	"context"
	"net/http"
	"strings"

	"market-booking/internal/domain/identity"
	"market-booking/internal/services"
	"market-booking/internal/transport/httpdto"
	"market-booking/pkg/logger"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(service *services.AuthService) gin.HandlerFunc {
	return authenticate(service, false, true)
}

// RequireStreamAuth is RequireAuth that also accepts a "token" query
// parameter, since browser EventSource cannot set headers.
func RequireStreamAuth(service *services.AuthService) gin.HandlerFunc {
	return authenticate(service, true, true)
}

// OptionalAuth attaches the identity when a valid token is present and lets
// anonymous requests through. A malformed token is still rejected.
func OptionalAuth(service *services.AuthService) gin.HandlerFunc {
	return authenticate(service, false, false)
}

func authenticate(service *services.AuthService, allowQuery, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" && allowQuery {
			token = c.Query("token")
		}
		if token == "" && !required {
			c.Next()
			return
		}

		id, err := service.ParseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			return
		}

		c.Set(identityKey, id)
		ctx := context.WithValue(c.Request.Context(), logger.UserIdKey, id.UserID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// IdentityFrom returns the caller set by one of the auth middlewares.
func IdentityFrom(c *gin.Context) (identity.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return identity.Identity{}, false
	}
	id, ok := v.(identity.Identity)
	return id, ok
}

// SetIdentity stores id on the context. Used by tests that bypass token parsing.
func SetIdentity(c *gin.Context, id identity.Identity) {
	c.Set(identityKey, id)
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
