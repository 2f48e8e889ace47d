// Package restserver exposes the step-detection engine over HTTP.
package restserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chrissnell/alphastep/internal/log"
	"github.com/chrissnell/alphastep/internal/storage"
	"github.com/chrissnell/alphastep/pkg/config"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	recorderBuffer = 64
	healthInterval = 30 * time.Second
)

// Controller represents the REST server controller
type Controller struct {
	wg             *sync.WaitGroup
	configProvider config.ConfigProvider
	serverConfig   config.ServerData
	Server         http.Server
	store          *storage.Store
	recorder       *storage.Recorder
	health         *storage.HealthMonitor
	logger         *zap.SugaredLogger
	handlers       *Handlers
}

// NewController creates a new REST server controller. store may be nil, in
// which case analyses are not persisted and the run endpoints report 503.
func NewController(ctx context.Context, wg *sync.WaitGroup, configProvider config.ConfigProvider, sc config.ServerData, store *storage.Store, logger *zap.SugaredLogger) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctrl := &Controller{
		wg:             wg,
		configProvider: configProvider,
		store:          store,
		logger:         logger,
	}

	// The default profile must produce a valid engine config before we serve.
	analysis, err := configProvider.GetAnalysis(config.DefaultProfile)
	if err != nil {
		return nil, fmt.Errorf("error loading analysis configuration: %v", err)
	}
	if _, err := analysis.EngineConfig(); err != nil {
		return nil, fmt.Errorf("invalid analysis configuration: %w", err)
	}

	// If a ListenAddr was not provided, listen on all interfaces
	if sc.ListenAddr == "" {
		logger.Info("server.listen_addr not provided; defaulting to 0.0.0.0 (all interfaces)")
		sc.ListenAddr = "0.0.0.0"
	}
	if sc.Port == 0 {
		logger.Info("server.port not provided; defaulting to 8080")
		sc.Port = 8080
	}
	ctrl.serverConfig = sc

	// The recorder outlives ctx until the HTTP server has drained, so runs
	// queued by in-flight requests are still saved.
	stopRecorder := func() {}
	if store != nil {
		var recCtx context.Context
		recCtx, stopRecorder = context.WithCancel(context.WithoutCancel(ctx))
		ctrl.recorder = store.StartRecorder(recCtx, wg, recorderBuffer)
		ctrl.health = store.StartHealthMonitor(ctx, healthInterval)
	}

	ctrl.handlers = NewHandlers(ctrl)

	router := ctrl.setupRouter()
	ctrl.Server.Addr = fmt.Sprintf("%v:%v", sc.ListenAddr, sc.Port)
	ctrl.Server.Handler = router

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stopRecorder()
		<-ctx.Done()
		log.Info("Shutting down the REST server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ctrl.Server.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("REST server shutdown: %v", err)
		}
	}()

	return ctrl, nil
}

// StartController starts the REST server
func (c *Controller) StartController() error {
	log.Info("Starting REST server controller...")
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		if c.serverConfig.Cert != "" && c.serverConfig.Key != "" {
			if err := c.Server.ListenAndServeTLS(c.serverConfig.Cert, c.serverConfig.Key); err != http.ErrServerClosed {
				log.Errorf("REST server error: %v", err)
			}
		} else {
			if err := c.Server.ListenAndServe(); err != http.ErrServerClosed {
				log.Errorf("REST server error: %v", err)
			}
		}
	}()

	return nil
}

// setupRouter configures the HTTP router with all endpoints
func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(log.HTTPMiddleware)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/analyze", c.handlers.Analyze).Methods(http.MethodPost)
	api.HandleFunc("/windows", c.handlers.SelectWindows).Methods(http.MethodPost)
	api.HandleFunc("/runs", c.handlers.ListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", c.handlers.GetRun).Methods(http.MethodGet)

	router.HandleFunc("/healthz", c.handlers.Health).Methods(http.MethodGet)

	return router
}

// maxSamples is the largest trace accepted in one request; zero disables the limit.
func (c *Controller) maxSamples() int {
	return c.serverConfig.MaxSamples
}
