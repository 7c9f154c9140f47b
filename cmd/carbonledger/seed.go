package main

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/carbonledger/internal/audit"
	"github.com/smallbiznis/carbonledger/internal/auth"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	"github.com/smallbiznis/carbonledger/internal/clock"
	"github.com/smallbiznis/carbonledger/internal/config"
	"github.com/smallbiznis/carbonledger/internal/conversionrate"
	"github.com/smallbiznis/carbonledger/internal/events"
	"github.com/smallbiznis/carbonledger/internal/ledger"
	ledgerdomain "github.com/smallbiznis/carbonledger/internal/ledger/domain"
	"github.com/smallbiznis/carbonledger/internal/migration"
	"github.com/smallbiznis/carbonledger/internal/observability"
	"github.com/smallbiznis/carbonledger/internal/seed"
	"github.com/smallbiznis/carbonledger/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	seedUsers      int
	seedWithTokens bool
	seedTimeout    time.Duration
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo usage for a handful of citizens",
	Long: `Migrates the database and records a sample usage profile for demo citizens in
the current year. Safe to run repeatedly.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().IntVar(&seedUsers, "users", 3, "number of demo citizens")
	seedCmd.Flags().BoolVar(&seedWithTokens, "tokens", false, "print a bearer token per demo citizen")
	seedCmd.Flags().DurationVar(&seedTimeout, "timeout", time.Minute, "give up after this long")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	var (
		ledgers ledgerdomain.Service
		clk     clock.Clock
		tokens  *auth.Tokens
	)
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		authorization.Module,
		audit.Module,
		events.Module,
		auth.Module,
		conversionrate.Module,
		ledger.Module,
		migration.Module,
		fx.Populate(&ledgers, &clk, &tokens),
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), seedTimeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	defer app.Stop(context.Background())

	users, err := seed.EnsureDemoLedgers(ctx, ledgers, clk, seedUsers)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, user := range users {
		state := "existing"
		if user.Created {
			state = "created"
		}
		fmt.Fprintf(out, "%s year=%d co2=%s units=%d status=%s (%s)\n",
			user.UserID, user.Ledger.Year, user.Ledger.TotalCO2Tonnes, user.Ledger.RequiredOffsetUnits, user.Ledger.Status, state)
		if !seedWithTokens {
			continue
		}
		token, err := tokens.Issue(authorization.Actor{UserID: user.UserID, Role: authorization.RoleCitizen}, auth.DefaultTokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  token=%s\n", token)
	}
	return nil
}
