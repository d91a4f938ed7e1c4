package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/taskdeps/internal/config"
	"github.com/phrazzld/taskdeps/internal/events"
	"github.com/phrazzld/taskdeps/internal/platform/metrics"
	"github.com/phrazzld/taskdeps/internal/platform/postgres"
	"github.com/phrazzld/taskdeps/internal/service"
	"github.com/phrazzld/taskdeps/internal/store"
	"github.com/phrazzld/taskdeps/internal/sweep"
)

// application holds the shared dependencies of the engine so they can be
// wired once and released together.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	dependencyStore store.DependencyStore
	taskStore       store.TaskStore

	metrics      *metrics.Metrics
	eventEmitter events.EventEmitter

	dependencyService service.DependencyService
	statusService     service.StatusService

	sweeper *sweep.Runner
}

// newApplication wires stores, services and background workers on top of an
// open database connection. Nothing is started until Run.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}

	app := &application{
		config:  cfg,
		logger:  logger,
		db:      db,
		metrics: metrics.New(),
	}

	app.dependencyStore = postgres.NewPostgresDependencyStore(db, logger)
	app.taskStore = postgres.NewPostgresTaskStore(db, logger)

	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(events.NewLoggingHandler(logger))
	emitter.RegisterHandler(app.metrics.EventHandler())
	app.eventEmitter = emitter

	var err error
	app.dependencyService, err = service.NewDependencyService(
		app.dependencyStore,
		app.taskStore,
		app.eventEmitter,
		app.metrics,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dependency service: %w", err)
	}

	app.statusService, err = service.NewStatusService(
		app.dependencyStore,
		app.taskStore,
		app.eventEmitter,
		app.metrics,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create status service: %w", err)
	}

	app.sweeper = sweep.NewRunner(app.statusService, cfg.Sweep, logger)

	logger.Info("application initialized")
	return app, nil
}

// Run starts the sweep runner (when enabled) and the operational HTTP
// server, and blocks until ctx is canceled or the server fails.
func (app *application) Run(ctx context.Context) error {
	if app.config.Sweep.Enabled {
		app.sweeper.Start()
	} else {
		app.logger.Info("periodic sweep disabled")
	}
	defer app.cleanup()

	router := newRouter(app.db, app.metrics, app.logger)
	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup stops background work. The database is closed by its owner.
func (app *application) cleanup() {
	if app.sweeper != nil {
		app.sweeper.Stop()
	}
	app.logger.Info("application shutdown completed")
}
