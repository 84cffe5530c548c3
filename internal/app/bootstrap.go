package app

import (
	"context"
	"fmt"
	"os"

	"odatamcp/internal/config"
	"odatamcp/pkg/logging"
)

// Application is a bootstrapped gateway ready to run.
//
// Example usage:
//
//	application, err := app.NewApplication(ctx, app.NewConfig(false, "odatamcp.yaml", version))
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads and validates the configuration, initializes logging
// and builds all services. Nothing listens until Run.
func NewApplication(ctx context.Context, cfg *Config) (*Application, error) {
	// Bootstrap logging so config loading can report; reconfigured below.
	bootLevel := logging.LevelInfo
	if cfg.Debug {
		bootLevel = logging.LevelDebug
	}
	logging.InitForCLI(bootLevel, os.Stderr)

	gatewayCfg, err := loadGatewayConfig(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load configuration")
		return nil, err
	}

	level := logging.ParseLevel(gatewayCfg.Logging.Level)
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.Init(level, logging.Format(gatewayCfg.Logging.Format), os.Stderr)

	services, err := InitializeServices(ctx, gatewayCfg, cfg.Version)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

func loadGatewayConfig(cfg *Config) (config.Config, error) {
	var gatewayCfg config.Config
	if cfg.Gateway != nil {
		gatewayCfg = *cfg.Gateway
	} else {
		loaded, err := config.LoadConfig(cfg.ConfigPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
		}
		gatewayCfg = loaded
	}

	if err := gatewayCfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return gatewayCfg, nil
}

// Services exposes the application's components.
func (a *Application) Services() *Services {
	return a.services
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully.
func (a *Application) Run(ctx context.Context) error {
	return runServer(ctx, a.services)
}
