package main

import (
	"context"
	"fmt"

	apihttp "github.com/artpar/docstream/adapters/http"
	"github.com/artpar/docstream/bootstrap"
	"github.com/spf13/cobra"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the document server",
	Long: `Start the docstream HTTP server.

The server will:
  - Load configuration from docstream.yaml (or --config)
  - Or load configuration from DOCSTREAM_* environment variables
  - Open the document store (sqlite, postgres or memory)
  - Serve the document API with streamed list endpoints

Environment variables (for Docker deployments):
  DOCSTREAM_DATABASE_DRIVER  - sqlite, postgres or memory
  DOCSTREAM_DATABASE_DSN     - Database path or URL
  DOCSTREAM_SERVER_PORT      - Server port (default: 8080)
  DOCSTREAM_AUTH_KEY_HASHES  - Comma-separated bcrypt API key hashes
  DOCSTREAM_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  docstream serve
  docstream serve --config /etc/docstream/config.yaml
  docstream serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	apihttp.BuildVersion = version

	app, err := bootstrap.New(context.Background(), bootstrap.Options{
		ConfigPath: cfgFile,
		Watch:      hotReload,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
