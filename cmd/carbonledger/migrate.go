package main

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/carbonledger/internal/audit"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	"github.com/smallbiznis/carbonledger/internal/clock"
	"github.com/smallbiznis/carbonledger/internal/config"
	"github.com/smallbiznis/carbonledger/internal/conversionrate"
	"github.com/smallbiznis/carbonledger/internal/migration"
	"github.com/smallbiznis/carbonledger/internal/observability"
	"github.com/smallbiznis/carbonledger/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var migrateTimeout time.Duration

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and provision conversion rates",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().DurationVar(&migrateTimeout, "timeout", time.Minute, "give up after this long")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		authorization.Module,
		audit.Module,
		conversionrate.Module,
		migration.Module,
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return app.Stop(ctx)
}
