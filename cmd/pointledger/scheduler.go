package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smallbiznis/pointledger/internal/authorization"
	"github.com/smallbiznis/pointledger/internal/clock"
	ledgerrepository "github.com/smallbiznis/pointledger/internal/ledger/repository"
	"github.com/smallbiznis/pointledger/internal/ledgermetrics"
	"github.com/smallbiznis/pointledger/internal/ratelimit"
	"github.com/smallbiznis/pointledger/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// schedulerDeps is what the period reset needs without the HTTP stack.
func schedulerDeps() fx.Option {
	return fx.Options(
		core(),
		ratelimit.Module,
		authorization.Module,
		fx.Provide(ledgerrepository.Provide),
		scheduler.Module,
	)
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the periodic period reset sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(schedulerDeps(), ledgermetrics.Module, scheduler.Loop).Run()
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	var timeout time.Duration
	var at string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one period reset sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched *scheduler.Scheduler
			var clk clock.Clock
			app := fx.New(schedulerDeps(), fx.Populate(&sched, &clk))
			if err := app.Err(); err != nil {
				return err
			}
			now, err := sweepTime(clk.Now(), at)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
				defer stop()
				_ = app.Stop(stopCtx)
			}()

			result, err := sched.Sweep(ctx, now)
			if err != nil {
				return err
			}
			out, err := json.Marshal(result)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "abort the sweep after this long")
	cmd.Flags().StringVar(&at, "at", "", "sweep as of this RFC3339 time instead of now")
	return cmd
}

// sweepTime resolves --at against the current time. Sweeping as of a future
// instant would roll wallets into a month that has not started, so it is
// refused.
func sweepTime(now time.Time, at string) (time.Time, error) {
	now = now.UTC()
	if at == "" {
		return now, nil
	}
	parsed, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at: %w", err)
	}
	parsed = parsed.UTC()
	if parsed.After(now) {
		return time.Time{}, fmt.Errorf("invalid --at: %s is in the future", at)
	}
	return parsed, nil
}
