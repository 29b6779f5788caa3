package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/postloop/postloop/internal/clock"
	"github.com/postloop/postloop/internal/config"
	"github.com/postloop/postloop/internal/connectstate"
	"github.com/postloop/postloop/internal/connectstate/janitor"
	"github.com/postloop/postloop/internal/migration"
	"github.com/postloop/postloop/internal/observability"
	"github.com/postloop/postloop/internal/platform"
	"github.com/postloop/postloop/internal/ratelimit"
	"github.com/postloop/postloop/internal/server"
	"github.com/postloop/postloop/pkg/db"
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

		platform.Module,
		connectstate.Module,
		janitor.Module,
		ratelimit.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
