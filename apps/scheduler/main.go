package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pointledger/internal/authorization"
	"github.com/smallbiznis/pointledger/internal/clock"
	"github.com/smallbiznis/pointledger/internal/config"
	ledgerrepository "github.com/smallbiznis/pointledger/internal/ledger/repository"
	"github.com/smallbiznis/pointledger/internal/ledgermetrics"
	"github.com/smallbiznis/pointledger/internal/observability"
	"github.com/smallbiznis/pointledger/internal/ratelimit"
	"github.com/smallbiznis/pointledger/internal/scheduler"
	"github.com/smallbiznis/pointledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Redis lease and the system policy check.
		ratelimit.Module,
		authorization.Module,
		fx.Provide(ledgerrepository.Provide),

		// No server module!
		scheduler.Module,
		scheduler.Loop,
		ledgermetrics.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
