package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	userIDKey    = "userID"
	requestIDKey = "requestID"
)

// accessTokenMiddleware admits requests carrying a valid bearer access token
// and stores the token's user id in the gin context.
func (s *HTTPServer) accessTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(common.AccessTokenHeaderName)
		if !strings.HasPrefix(header, common.BearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, messageResponse{Message: "Unauthorized"})
			return
		}

		userID, err := s.verifier.Verify(strings.TrimPrefix(header, common.BearerPrefix))
		if err != nil {
			s.logger.Debug(c.Request.Context(), "access token rejected", "error", err, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, messageResponse{Message: "Unauthorized"})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

func userIDFrom(c *gin.Context) (int64, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// requestIDMiddleware keeps an incoming X-Request-ID or assigns a new one and
// echoes it in the response.
func (s *HTTPServer) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(common.RequestIDHeaderName)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(common.RequestIDHeaderName, id)
		c.Next()
	}
}

func (s *HTTPServer) accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if path == "/healthz" {
			return
		}

		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString(requestIDKey),
		}

		ctx := c.Request.Context()
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Error(ctx, "Server error", args...)
		case status >= http.StatusBadRequest:
			s.logger.Warn(ctx, "Client error", args...)
		default:
			s.logger.Info(ctx, "Request", args...)
		}
	}
}

// recoveryMiddleware turns a handler panic into a 500 and reports it.
func (s *HTTPServer) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				ctx := c.Request.Context()
				err := fmt.Errorf("panic: %v", p)
				s.logger.Error(ctx, "handler panic", "error", err, "path", c.Request.URL.Path)
				s.reporter.CaptureError(ctx, err, map[string]string{
					"path":       c.Request.URL.Path,
					"request_id": c.GetString(requestIDKey),
				})
				c.AbortWithStatusJSON(http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
			}
		}()
		c.Next()
	}
}
