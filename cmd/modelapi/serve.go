package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/modelapi/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the modelapi server.

The server will:
  - Load configuration from modelapi.yaml (or --config)
  - Or load configuration from MODELAPI_* environment variables
  - Parse the model descriptions and connect to the database
  - Create missing tables when database.auto_create_tables is set
  - Publish every configured resource

Environment variables:
  MODELAPI_DATABASE_DRIVER  - memory, sqlite or postgres
  MODELAPI_DATABASE_DSN     - Database DSN (default: modelapi.db)
  MODELAPI_SERVER_PORT      - Server port (default: 8080)
  MODELAPI_MODELS_DIR       - Model description directory (default: models)
  MODELAPI_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  modelapi serve
  modelapi serve --config /etc/modelapi/config.yaml
  MODELAPI_DATABASE_DRIVER=memory modelapi serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
