package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/phrazzld/taskdeps/internal/config"
	"github.com/phrazzld/taskdeps/internal/platform/logger"
	"github.com/phrazzld/taskdeps/internal/platform/postgres"
	"github.com/spf13/cobra"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "taskdeps",
		Short: "Task dependency graph engine",
		Long: `taskdeps maintains the dependency graph between tasks, rejects edges
that would create cycles, and promotes pending tasks once their
predecessors allow them to start.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"path to a config file (defaults to ./config.yaml when present)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newSweepCmd(opts),
	)
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sweep runner and the health and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withRuntime(ctx, opts, func(rt *runtime) error {
				if rt.cfg.Database.AutoMigrate {
					if err := postgres.Migrate(ctx, rt.db, postgres.MigrateUp, rt.logger); err != nil {
						return fmt.Errorf("failed to apply migrations: %w", err)
					}
				}

				app, err := newApplication(rt.cfg, rt.logger, rt.db)
				if err != nil {
					return fmt.Errorf("failed to initialize application: %w", err)
				}
				return app.Run(ctx)
			})
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|reset]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{postgres.MigrateUp, postgres.MigrateDown, postgres.MigrateStatus, postgres.MigrateReset},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), opts, func(rt *runtime) error {
				files, err := postgres.MigrationFiles()
				if err != nil {
					return fmt.Errorf("failed to read embedded migrations: %w", err)
				}
				rt.logger.Debug("embedded migrations", "count", len(files), "files", files)
				return postgres.Migrate(cmd.Context(), rt.db, args[0], rt.logger)
			})
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Promote every pending task whose dependencies are satisfied, once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), opts, func(rt *runtime) error {
				app, err := newApplication(rt.cfg, rt.logger, rt.db)
				if err != nil {
					return fmt.Errorf("failed to initialize application: %w", err)
				}
				promoted, err := app.sweeper.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "promoted %d tasks\n", promoted)
				return err
			})
		},
	}
}

// runtime carries what every database-backed subcommand needs.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB
}

// withRuntime loads configuration, sets up logging and opens the database,
// runs fn, then releases everything it opened.
func withRuntime(ctx context.Context, opts *rootOptions, fn func(rt *runtime) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, logCloser, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	defer closeQuietly(logCloser)

	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"sweep_enabled", cfg.Sweep.Enabled,
		"sweep_interval", cfg.Sweep.Interval.String())

	db, err := setupDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database connection", "error", err)
		}
	}()

	return fn(&runtime{cfg: cfg, logger: log, db: db})
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
