package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"CollateralLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

type options struct {
	dsn string
	dir string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or roll back CollateralLedger schema migrations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.dsn, "dsn",
		envOrDefault("COLLATERAL_POSTGRES_DSN", "postgres://localhost:5432/collateralledger?sslmode=disable"),
		"Postgres connection string")
	root.PersistentFlags().StringVar(&opts.dir, "dir",
		envOrDefault("COLLATERAL_MIGRATIONS_DIR", "migrations"),
		"path to migrations directory")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *persistence.Migrator) error {
					if err := m.Up(ctx); err != nil {
						return fmt.Errorf("migrate up: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "all migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *persistence.Migrator) error {
					if err := m.Down(ctx); err != nil {
						return fmt.Errorf("migrate down: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "last migration rolled back")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *persistence.Migrator) error {
					applied, err := m.Applied(ctx)
					if err != nil {
						return err
					}
					pending, err := m.Pending(ctx)
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					for _, v := range applied {
						fmt.Fprintf(out, "applied  %s\n", v)
					}
					for _, f := range pending {
						fmt.Fprintf(out, "pending  %s\n", f)
					}
					return nil
				})
			},
		},
	)
	return root
}

func withMigrator(ctx context.Context, opts *options, fn func(context.Context, *persistence.Migrator) error) error {
	db, err := sql.Open("postgres", opts.dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	return fn(ctx, persistence.NewMigrator(db, opts.dir))
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
