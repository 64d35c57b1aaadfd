package httpapi

import (
	"net/http"
	"slices"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *HTTPServer) newRouter() *gin.Engine {
	r := gin.New()
	// ClientIP must come from the socket, not from spoofable forwarding headers.
	_ = r.SetTrustedProxies(nil)

	r.Use(s.requestIDMiddleware())
	r.Use(s.accessLogMiddleware())
	r.Use(s.recoveryMiddleware())
	r.Use(cors.New(s.corsConfig()))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	users := r.Group("/users")
	{
		users.POST("/register", s.register)
		users.POST("/authenticate", s.authenticate)
		users.POST("/refresh-token", s.refreshToken)

		protected := users.Group("")
		protected.Use(s.accessTokenMiddleware())
		protected.POST("/revoke-token", s.revokeToken)
		protected.GET("", s.getAll)
		protected.GET("/:id", s.getByID)
		protected.GET("/:id/refresh-tokens", s.refreshTokens)
	}

	return r
}

func (s *HTTPServer) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", common.AccessTokenHeaderName, common.RequestIDHeaderName},
		ExposeHeaders:    []string{"Content-Length", common.RequestIDHeaderName},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(s.origins) == 0 || slices.Contains(s.origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.origins
	}
	return cfg
}
