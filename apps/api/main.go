package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pointledger/internal/clock"
	"github.com/smallbiznis/pointledger/internal/config"
	"github.com/smallbiznis/pointledger/internal/migration"
	"github.com/smallbiznis/pointledger/internal/observability"
	"github.com/smallbiznis/pointledger/internal/server"
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
		migration.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
