package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/client/client"
	"github.com/dmitrijs2005/authkeeper/internal/client/config"
)

var errNotLoggedIn = errors.New("not logged in")

// apiClient is the subset of client.Client the commands use.
type apiClient interface {
	Register(ctx context.Context, req client.RegisterRequest) error
	Authenticate(ctx context.Context, username string, password []byte) (*client.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*client.Session, error)
	Revoke(ctx context.Context, accessToken, refreshToken string) error
	ListUsers(ctx context.Context, accessToken string) ([]client.User, error)
	RefreshTokens(ctx context.Context, accessToken string, userID int64) ([]client.RefreshToken, error)
}

type App struct {
	config  *config.Config
	api     apiClient
	reader  *bufio.Reader
	out     io.Writer
	session *client.Session
	now     func() time.Time
}

func NewApp(c *config.Config) *App {
	return &App{
		config: c,
		api:    client.New(c.ServerAddr, c.RequestTimeout),
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		now:    time.Now,
	}
}

// Run starts the REPL and blocks until the user exits or input ends.
func (a *App) Run(ctx context.Context) {
	fmt.Fprintf(a.out, "Welcome to authkeeper CLI, server %s (type 'help' for commands)\n", a.config.ServerAddr)
	runREPL(ctx, a, a.getStatus, a.reader, a.out)
}

func (a *App) isLoggedIn() bool {
	return a.session != nil
}

func (a *App) getStatus() string {
	if a.session == nil {
		return ""
	}
	return fmt.Sprintf("(%s)", a.session.Username)
}

// withAuth runs fn with the current access token. On ErrUnauthorized the
// session is refreshed once and fn is retried.
func (a *App) withAuth(ctx context.Context, fn func(accessToken string) error) error {
	if a.session == nil {
		return errNotLoggedIn
	}

	err := fn(a.session.AccessToken)
	if !errors.Is(err, client.ErrUnauthorized) {
		return err
	}

	if err := a.rotate(ctx); err != nil {
		return err
	}
	return fn(a.session.AccessToken)
}

// rotate redeems the current refresh token. A rejected token ends the
// session.
func (a *App) rotate(ctx context.Context) error {
	s, err := a.api.Refresh(ctx, a.session.RefreshToken)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			a.session = nil
			return fmt.Errorf("session expired, please log in again: %w", err)
		}
		return err
	}
	a.session = s
	return nil
}
