// Package app wires the run store and REST server into one process.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/chrissnell/alphastep/internal/controllers/restserver"
	"github.com/chrissnell/alphastep/internal/log"
	"github.com/chrissnell/alphastep/internal/storage"
	"github.com/chrissnell/alphastep/pkg/config"
	"go.uber.org/zap"
)

// App represents the server application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := OpenStore(ctx, a.configProvider)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	} else {
		log.Info("no storage driver configured; runs will not be persisted")
	}

	serverCfg, err := a.configProvider.GetServerConfig()
	if err != nil {
		return fmt.Errorf("error loading server configuration: %w", err)
	}

	ctrl, err := restserver.NewController(ctx, &wg, a.configProvider, *serverCfg, store, log.Named("restserver"))
	if err != nil {
		return err
	}
	if err := ctrl.StartController(); err != nil {
		return err
	}

	log.Infof("alphastep server listening on %s", ctrl.Server.Addr)

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for the server and run recorder to finish
	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}

// OpenStore opens the configured run store. It returns nil, nil when no
// driver is configured.
func OpenStore(ctx context.Context, provider config.ConfigProvider) (*storage.Store, error) {
	sc, err := provider.GetStorageConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading storage configuration: %w", err)
	}
	if sc.Driver == "" {
		return nil, nil
	}
	store, err := storage.Open(ctx, sc.Driver, sc.DSN, log.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("error opening run store: %w", err)
	}
	return store, nil
}
