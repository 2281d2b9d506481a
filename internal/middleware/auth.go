package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ctdms/internal/domain"
	"ctdms/internal/port"
	"ctdms/internal/requestctx"
)

const (
	ContextKeyActor     = "actor"
	ContextKeyRequestID = "request_id"
)

// AuthMiddleware returns Gin middleware that verifies the bearer token and
// injects the authenticated actor.
func AuthMiddleware(verifier port.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"code": "UNAUTHORIZED", "message": "missing or invalid authorization header"},
			})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		actor, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"code": "UNAUTHORIZED", "message": "invalid or expired token"},
			})
			return
		}

		ctx := c.Request.Context()
		if actor.SessionID != "" && requestctx.FromContext(ctx).SessionID == "" {
			c.Request = c.Request.WithContext(requestctx.WithSessionID(ctx, actor.SessionID))
		}
		c.Set(ContextKeyActor, *actor)
		c.Next()
	}
}

// RequireRole returns middleware that lets the request through when the actor
// holds at least one of roles.
func RequireRole(roles ...domain.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := GetActor(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   gin.H{"code": "FORBIDDEN", "message": "actor not found in context"},
			})
			return
		}

		if actor.HasAnyRole(roles...) {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   gin.H{"code": "FORBIDDEN", "message": "insufficient permissions"},
		})
	}
}

// GetActor extracts the authenticated actor from the Gin context.
func GetActor(c *gin.Context) (domain.Actor, error) {
	val, exists := c.Get(ContextKeyActor)
	if !exists {
		return domain.Actor{}, domain.ErrUnauthorized
	}
	actor, ok := val.(domain.Actor)
	if !ok {
		return domain.Actor{}, domain.ErrUnauthorized
	}
	return actor, nil
}
