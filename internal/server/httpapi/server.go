// Package httpapi exposes the user service over HTTP with gin: the /users
// routes, bearer token middleware, CORS and cookie delivery of refresh tokens.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/reporting"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/gin-gonic/gin"
)

// userService is the part of services.UserService the handlers call.
type userService interface {
	Authenticate(ctx context.Context, username, password, ip string) (*services.AuthResult, error)
	RefreshToken(ctx context.Context, token, ip string) (*services.AuthResult, error)
	RevokeUserToken(ctx context.Context, userID int64, token, ip string) (bool, error)
	Register(ctx context.Context, draft services.UserDraft) error
	GetAll(ctx context.Context) ([]*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	RefreshTokens(ctx context.Context, userID int64) ([]models.RefreshToken, error)
}

// tokenVerifier resolves an access token to a user id.
type tokenVerifier interface {
	Verify(token string) (int64, error)
}

const shutdownTimeout = 5 * time.Second

type HTTPServer struct {
	address       string
	origins       []string
	secureCookies bool

	users    userService
	verifier tokenVerifier
	logger   logging.Logger
	reporter reporting.Reporter

	router *gin.Engine
}

func NewHTTPServer(cfg *config.Config, l logging.Logger, us userService, v tokenVerifier, r reporting.Reporter) *HTTPServer {
	s := &HTTPServer{
		address:       cfg.EndpointAddrHTTP,
		origins:       cfg.AllowedOrigins,
		secureCookies: cfg.SecureCookies,
		users:         us,
		verifier:      v,
		logger:        l.With("module", "http_server"),
		reporter:      r,
	}
	s.router = s.newRouter()
	return s
}

// Handler returns the routed gin engine.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *HTTPServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
