package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/sessiond/internal/auth/http"
	"github.com/aussiebroadwan/sessiond/internal/auth/metrics"
	"github.com/aussiebroadwan/sessiond/internal/auth/service"
	"github.com/aussiebroadwan/sessiond/internal/auth/session"
	"github.com/aussiebroadwan/sessiond/internal/auth/store"
	"github.com/aussiebroadwan/sessiond/internal/auth/store/drivers/memory"
	"github.com/aussiebroadwan/sessiond/internal/auth/store/drivers/redis"
	"github.com/aussiebroadwan/sessiond/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/sessiond/pkg/cryptox"
	"github.com/aussiebroadwan/sessiond/pkg/jwtx"
	"github.com/aussiebroadwan/sessiond/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the session service with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db       *sqlite.Store // user directory, and the KV for the sqlite backend
	kv       store.KV
	codec    *jwtx.Codec
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// Services
	userService         *service.UserService
	sessionService      *service.SessionService
	housekeepingService *service.HousekeepingService // nil for backends with native expiry
	housekeepingRunning bool

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "sessiond",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	secrets, err := InitSecrets(cfg, app.logger)
	if err != nil {
		return nil, err
	}

	if err := cryptox.LoadPepper(cfg.PepperFile); err != nil {
		return nil, fmt.Errorf("failed to load pepper: %w", err)
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initSessionStore(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	if err := app.initServices(secrets); err != nil {
		app.closeStores()
		return nil, err
	}

	if err := app.seed(); err != nil {
		app.closeStores()
		return nil, err
	}

	app.initHTTP()

	return app, nil
}

// Handler returns the fully wired HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.router
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	if app.housekeepingService != nil {
		app.housekeepingService.Start()
		app.housekeepingRunning = true
	}

	app.logger.Info("session service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"session_backend", app.cfg.SessionBackend,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down session service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if app.housekeepingRunning {
		app.housekeepingService.Stop()
		app.housekeepingRunning = false
	}

	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("session service stopped")
	return nil
}

// closeStores closes the KV backend and the directory. The sqlite backend
// shares one handle for both and is closed once.
func (app *Application) closeStores() error {
	var errs []error
	if app.kv != nil && app.kv != store.KV(app.db) {
		if err := app.kv.Close(); err != nil {
			app.logger.Error("error closing session store", "error", err)
			errs = append(errs, err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(sqlite.FileDSN(app.cfg.DatabaseFile))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initSessionStore selects the KV backend behind the session store.
func (app *Application) initSessionStore() error {
	switch app.cfg.SessionBackend {
	case BackendMemory:
		app.kv = memory.NewStore()
		app.logger.Warn("using in-memory session store, sessions will not survive a restart")
	case BackendRedis:
		kv, err := redis.NewStore(app.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to initialize redis session store: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), app.cfg.SessionCommandTimeout)
		defer cancel()
		if err := kv.Ping(ctx); err != nil {
			// Readiness reports this until redis comes up
			app.logger.Warn("redis not reachable at startup", "error", err)
		}
		app.kv = kv
	default:
		app.kv = app.db
	}
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices(secrets Secrets) error {
	codec, err := jwtx.NewCodec(jwtx.CodecOptions{
		AccessSecret:  secrets.Access,
		RefreshSecret: secrets.Refresh,
		AccessTTL:     app.cfg.AccessTokenTTL,
		RefreshTTL:    app.cfg.RefreshTokenTTL,
		Issuer:        app.cfg.Issuer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}
	app.codec = codec

	app.registry, app.metrics = metrics.NewRegistry()

	app.userService = &service.UserService{Store: app.db}
	app.sessionService = &service.SessionService{
		Codec: codec,
		Sessions: &session.Store{
			KV:             app.kv,
			Secret:         secrets.TokenHMAC,
			CommandTimeout: app.cfg.SessionCommandTimeout,
			Recorder:       app.metrics,
		},
		Users:   app.userService,
		Roles:   app.userService,
		Metrics: app.metrics,
	}

	if sweeper, ok := app.kv.(store.Sweeper); ok {
		app.housekeepingService = service.NewHousekeepingService(
			sweeper,
			app.logger,
			app.cfg.HousekeepingInterval,
		)
	}
	return nil
}

// seed creates the configured first user on an empty directory.
func (app *Application) seed() error {
	if app.cfg.SeedUserEmail == "" {
		return nil
	}

	ctx := slogx.WithContext(context.Background(), app.logger)
	if _, err := app.userService.SeedUser(ctx, app.cfg.SeedUserEmail, app.cfg.SeedUserPassword); err != nil {
		return fmt.Errorf("failed to seed user: %w", err)
	}
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(app.codec, BuildVersion, app.logger)

	// Wire services to router
	router.SessionService = app.sessionService
	router.SessionStore = app.kv
	router.Directory = app.db
	router.Limits = app.cfg.RateLimits
	router.Metrics = app.metrics
	router.Gatherer = app.registry
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
