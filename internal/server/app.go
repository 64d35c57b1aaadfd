// Package server wires the authkeeper server together: configuration,
// logging, error reporting, the credential store, the user service and the
// HTTP transport, and runs it until a termination signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/authkeeper/internal/server/reporting"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/dmitrijs2005/authkeeper/internal/server/store"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	reporter    reporting.Reporter
	db          *sql.DB
	userService *services.UserService
	httpServer  *httpapi.HTTPServer
}

// NewApp builds every component from c. Logs go to out.
func NewApp(ctx context.Context, c *config.Config, out io.Writer) (*App, error) {
	logger := logging.New(c.LogFormat, out, false)

	reporter, err := reporting.New(c.SentryDSN, "authkeeper")
	if err != nil {
		return nil, fmt.Errorf("reporter init error: %w", err)
	}

	app := &App{config: c, logger: logger, reporter: reporter}

	st, err := app.initStore(ctx)
	if err != nil {
		return nil, err
	}

	us, err := services.NewUserService(st, c, logger, reporter)
	if err != nil {
		app.closeDB()
		return nil, fmt.Errorf("user service init error: %w", err)
	}
	app.userService = us
	app.httpServer = httpapi.NewHTTPServer(c, logger, us, us.Signer(), reporter)

	if c.SecretKey == config.DefaultSecretKey {
		logger.Warn(ctx, "default signing secret in use, set AUTH_SECRET_KEY")
	}

	return app, nil
}

func (app *App) initStore(ctx context.Context) (store.Store, error) {
	if app.config.DatabaseDSN == "" {
		app.logger.Info(ctx, "using in-memory credential store")
		return store.NewMemoryStore(), nil
	}

	db, err := dbx.Open(ctx, app.config.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.db = db

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		app.closeDB()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	app.logger.Info(ctx, "using postgres credential store")
	return store.NewPostgresStore(db, rm), nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.httpServer.Run(ctx); err != nil {
		app.logger.Error(ctx, "HTTP server failed", "error", err)
		cancelFunc()
	}
}

// Run blocks until ctx is cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.reporter.Flush(2 * time.Second)
	app.closeDB()
	app.logger.Info(context.Background(), "App stopped")
}

func (app *App) closeDB() {
	if app.db == nil {
		return
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close", "error", err)
	}
	app.db = nil
}
