package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"teraresolve/internal"
	"teraresolve/resolver"
	"teraresolve/server"
)

var port string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the resolution HTTP API",
	Long: `Serve the resolution API:

  GET /                       service information
  GET /health                 liveness probe
  GET /api?url=<share>[&proxy=<proxy>]
  GET /metrics                Prometheus metrics

Examples:
  teraresolve serve
  teraresolve serve --port 8080 --workers 8`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return executeServe(ctx)
	},
}

func executeServe(ctx context.Context) error {
	teraboxResolver, err := resolver.NewTeraboxResolver(config)
	if err != nil {
		internal.LogResolutionError(err)
		return err
	}

	var shareResolver internal.ShareResolver = teraboxResolver
	if config.CacheTTL > 0 {
		internal.LogInfo("Caching resolutions for %s", config.CacheTTL)
		shareResolver = resolver.NewCachedResolver(teraboxResolver, config.CacheTTL)
	}

	internal.LogInfo("Starting server on port %s", config.Port)
	if err := server.New(config, shareResolver).Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func init() {
	serveCmd.Flags().StringVarP(&port, "port", "p", internal.DefaultConfig().Port, "Port to listen on (env: TERARESOLVE_PORT)")
}
