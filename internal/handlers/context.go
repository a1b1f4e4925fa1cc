package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/middleware"
	appErrors "github.com/carebridge/carebridge/pkg/errors"
	"github.com/carebridge/carebridge/pkg/logger"
	"github.com/carebridge/carebridge/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUser returns the authenticated user ID, writing a 401 when it is missing.
func currentUser(c *gin.Context) (string, bool) {
	userID := middleware.CurrentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

// respondError writes err using the API envelope. Errors that are not
// application errors are logged and reported as a generic 500.
func respondError(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr.StatusCode >= 500 {
		logger.WithModule("handlers").Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
		_ = c.Error(err)
	}
	response.Error(c, appErr)
}
