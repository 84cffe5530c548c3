package cmd

import (
	"context"
	"fmt"

	"odatamcp/internal/app"

	"github.com/spf13/cobra"
)

// serveCmd starts the gateway.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the auth gateway and the MCP endpoint",
	Long: `Starts the HTTP auth gateway with the MCP streamable HTTP endpoint mounted.

Configuration is loaded in three layers: built-in defaults, the YAML file
given by --config (a missing file is not an error), then environment
variables such as PORT, SAP_IAS_URL, SAP_IAS_CLIENT_ID, SAP_IAS_CLIENT_SECRET,
SAP_DESIGNTIME_DESTINATION, SAP_RUNTIME_DESTINATION, destinations,
DESTINATION_SERVICE_URL, SESSION_STORE and REDIS_ADDR.

The server runs until interrupted (SIGINT or SIGTERM) and then drains
in-flight requests before exiting.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	application, err := app.NewApplication(ctx, app.NewConfig(debug, configPath, GetVersion()))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
