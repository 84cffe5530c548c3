package cmd

import (
	"errors"
	"fmt"
	"os"

	"odatamcp/internal/api"
	"odatamcp/internal/config"
	"odatamcp/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConfiguration indicates missing or invalid configuration.
	ExitCodeConfiguration = 2
	// ExitCodeAuthFailed indicates the identity provider rejected the credentials.
	ExitCodeAuthFailed = 3
)

// Flags shared by all subcommands.
var (
	configPath string
	debug      bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "odatamcp",
	Short: "MCP gateway for SAP OData services",
	Long: `odatamcp exposes SAP OData services as MCP tools.

It authenticates users against SAP Identity Authentication Service, keeps
their sessions in a token store and resolves BTP destinations per call, so
reads run against the design-time destination and writes run as the signed-in
user through principal propagation.`,
	// Errors are reported by Execute; usage only helps for flag mistakes.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a code derived from the error.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "odatamcp version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var validation config.ValidationErrors
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, api.ErrConfiguration), errors.As(err, &validation):
		return ExitCodeConfiguration
	case errors.Is(err, api.ErrTokenExchangeFailed), errors.Is(err, api.ErrInvalidToken):
		return ExitCodeAuthFailed
	default:
		return ExitCodeError
	}
}

// loadConfig loads and validates the configuration for one-shot commands and
// sets up logging on stderr so stdout stays machine readable.
func loadConfig() (config.Config, error) {
	level := logging.LevelWarn
	if debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, os.Stderr)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "odatamcp.yaml", "Path to the YAML configuration file (missing file means defaults plus environment)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
}
