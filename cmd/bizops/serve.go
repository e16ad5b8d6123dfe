package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/systemshift/bizops/internal/server/api"
	"github.com/systemshift/bizops/internal/server/config"
	"github.com/systemshift/bizops/internal/server/crud"
	"github.com/systemshift/bizops/internal/server/cypher"
	"github.com/systemshift/bizops/internal/server/events"
	"github.com/systemshift/bizops/internal/server/graph"
	"github.com/systemshift/bizops/internal/server/logging"
	"github.com/systemshift/bizops/internal/server/metrics"
	"github.com/systemshift/bizops/internal/server/sanitize"
	"github.com/systemshift/bizops/internal/server/schema"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. Configuration comes from the environment
(NEO4J_URI, SCHEMA_DIR, KINESIS_STREAM_NAME, ...), optionally loaded
from .env and .env.local.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	app := fx.New(
		fx.WithLogger(logging.FxLogger),

		// Infrastructure
		config.Module,
		logging.Module,
		metrics.Module,

		// Domain
		schema.Module,
		cypher.Module,
		graph.Module,
		events.Module,
		sanitize.Module,
		crud.Module,

		// HTTP
		api.Module,
	)

	if err := app.Start(cmd.Context()); err != nil {
		return err
	}
	<-cmd.Context().Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	return app.Stop(stopCtx)
}
