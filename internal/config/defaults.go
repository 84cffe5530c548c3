package config

import "time"

const (
	// DefaultCallbackPath is the default path for OAuth callbacks.
	DefaultCallbackPath = "/callback"

	// DefaultDesignTimeDestination is used when SAP_DESIGNTIME_DESTINATION is unset.
	DefaultDesignTimeDestination = "SAP_DESIGNTIME"

	// DefaultRuntimeDestination is used when SAP_RUNTIME_DESTINATION is unset.
	DefaultRuntimeDestination = "SAP_RUNTIME"

	// DefaultCatalogPath is the OData V2 service catalog on SAP Gateway.
	DefaultCatalogPath = "/sap/opu/odata/IWFND/CATALOGSERVICE;v=2/ServiceCollection"
)

// GetDefaultConfig returns the configuration used when no file is present.
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            3000,
			MCPPath:         "/mcp",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 5,
				Burst:             20,
			},
			MinAvailableMemoryMB: 64,
		},
		IAS: IASConfig{
			Scopes:       []string{"openid", "email", "profile"},
			CallbackPath: DefaultCallbackPath,
			Timeout:      30 * time.Second,
		},
		Destinations: DestinationsConfig{
			DesignTime: DefaultDesignTimeDestination,
			Runtime:    DefaultRuntimeDestination,
			Timeout:    30 * time.Second,
		},
		OData: ODataConfig{
			Timeout:     60 * time.Second,
			CatalogPath: DefaultCatalogPath,
		},
		Session: SessionConfig{
			Store:         SessionStoreMemory,
			SweepInterval: 5 * time.Minute,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "odatamcp:",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
