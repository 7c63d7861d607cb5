package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatherly/backend/internal/auth"
	"github.com/gatherly/backend/internal/config"
	"github.com/gatherly/backend/internal/db"
	"github.com/gatherly/backend/internal/logger"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "gatherly",
		Short:        "Events and venues backend",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database schema",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "sweep-tokens",
			Short: "Delete expired refresh tokens",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := runSweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired refresh tokens\n", n)
				return nil
			},
		},
	)
	return root
}

func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(&logger.Config{
		Output:      os.Stdout,
		Level:       logger.ParseLevel(cfg.LogLevel),
		Development: cfg.LogDev,
	})
	logger.SetDefault(log)
	return cfg, log, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	if cfg.Store != config.StorePostgres {
		return nil, fmt.Errorf("STORE=%s has no schema to manage", cfg.Store)
	}
	database, err := db.New(ctx, cfg.DatabaseDSN())
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return database, nil
}

func runMigrate(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	database, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	log.Info(ctx, "migrations applied")
	return nil
}

func runSweep(ctx context.Context) (int64, error) {
	cfg, log, err := setup()
	if err != nil {
		return 0, err
	}
	defer log.Sync()

	database, err := openPostgres(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer database.Close()

	issuer, err := auth.NewIssuer(cfg.JWT)
	if err != nil {
		return 0, err
	}
	return auth.NewService(db.NewStore(database), issuer, cfg.BcryptCost, log, nil).SweepExpired(ctx)
}
