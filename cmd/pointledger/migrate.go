package main

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/pointledger/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(cmd.Context(), func(conn *gorm.DB) error {
					if err := migration.Apply(conn); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
					return nil
				})
			},
		},
		newMigrateDownCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied migration version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(cmd.Context(), func(conn *gorm.DB) error {
					sqlDB, err := conn.DB()
					if err != nil {
						return err
					}
					version, dirty, err := migration.Version(sqlDB)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", version, dirty)
					return nil
				})
			},
		},
	)
	return cmd
}

func newMigrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(conn *gorm.DB) error {
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				return migration.Rollback(sqlDB, steps)
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to revert")
	return cmd
}

// withDB starts just enough of the app to hold a database handle.
func withDB(ctx context.Context, fn func(conn *gorm.DB) error) error {
	var conn *gorm.DB
	app := fx.New(core(), fx.Populate(&conn), fx.NopLogger)
	if err := app.Err(); err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		_ = app.Stop(stopCtx)
	}()
	return fn(conn)
}
