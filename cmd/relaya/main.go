package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/relaya/internal/clock"
	"github.com/smallbiznis/relaya/internal/config"
	"github.com/smallbiznis/relaya/internal/credit"
	"github.com/smallbiznis/relaya/internal/feature"
	"github.com/smallbiznis/relaya/internal/migration"
	"github.com/smallbiznis/relaya/internal/observability"
	"github.com/smallbiznis/relaya/internal/outbound"
	"github.com/smallbiznis/relaya/internal/preference"
	"github.com/smallbiznis/relaya/internal/provider"
	"github.com/smallbiznis/relaya/internal/ratelimit"
	"github.com/smallbiznis/relaya/internal/router"
	"github.com/smallbiznis/relaya/internal/scheduler"
	"github.com/smallbiznis/relaya/internal/server"
	"github.com/smallbiznis/relaya/internal/template"
	"github.com/smallbiznis/relaya/pkg/cache"
	"github.com/smallbiznis/relaya/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		cache.Module,
		clock.Module,
		migration.Module,

		// Messaging domains
		credit.Module,
		outbound.Module,
		template.Module,
		preference.Module,
		feature.Module,
		provider.Module,
		ratelimit.Module,
		router.Module,
		scheduler.Module,

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
