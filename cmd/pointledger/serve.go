package main

import (
	"github.com/smallbiznis/pointledger/internal/ledgermetrics"
	"github.com/smallbiznis/pointledger/internal/migration"
	"github.com/smallbiznis/pointledger/internal/scheduler"
	"github.com/smallbiznis/pointledger/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newServeCmd() *cobra.Command {
	var withScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{
				core(),
				migration.Module,
				server.Module,
			}
			if withScheduler {
				opts = append(opts, ledgermetrics.Module, scheduler.Loop)
			}
			fx.New(opts...).Run()
			return nil
		},
	}
	cmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "also run the period reset loop and metrics push in this process")
	return cmd
}
