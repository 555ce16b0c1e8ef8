// Package server initializes and runs the vault server: it wires storage,
// the crypto-backed services, and the HTTP endpoint, and handles graceful
// shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dzaharov/passvault/internal/logging"
	"github.com/dzaharov/passvault/internal/server/config"
	"github.com/dzaharov/passvault/internal/server/db"
	"github.com/dzaharov/passvault/internal/server/entries"
	"github.com/dzaharov/passvault/internal/server/locks"
	"github.com/dzaharov/passvault/internal/server/ratelimit"
	"github.com/dzaharov/passvault/internal/server/rest"
	"github.com/dzaharov/passvault/internal/server/vault"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	manager db.RepositoryManager
	server  *rest.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	manager, err := db.NewPostgresRepositoryManager(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	userLocks := locks.NewPerUser()
	validator := vault.NewValidator(manager.Entries(), logger)
	rotator := vault.NewRotator(manager.Entries(), userLocks, logger)
	limiter := ratelimit.New(cfg.UnlockMaxAttempts, cfg.UnlockWindow)
	entryService := entries.NewService(manager.Entries(), validator, userLocks, cfg, logger)

	srv := rest.NewServer(cfg.EndpointAddr, logger, entryService, validator, rotator, limiter, cfg.SecretKey)

	return &App{
		config:  cfg,
		logger:  logger,
		manager: manager,
		server:  srv,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Wait()

	if err := app.manager.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
}
