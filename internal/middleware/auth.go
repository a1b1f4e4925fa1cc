package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/internal/auditctx"
	iauth "github.com/carebridge/carebridge/internal/auth"
	"github.com/carebridge/carebridge/pkg/errors"
	"github.com/carebridge/carebridge/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)

		c.Request = c.Request.WithContext(auditctx.WithIdentity(c.Request.Context(), claims.UserID, claims.HealthID))

		c.Next()
	}
}

// AuditContext seeds the request context with the caller's network identity so
// services can attribute audit entries even before authentication.
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := auditctx.Actor{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		c.Request = c.Request.WithContext(auditctx.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// CurrentUserID returns the authenticated user's ID, or "" outside Auth.
func CurrentUserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}
