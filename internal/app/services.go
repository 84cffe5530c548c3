package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"odatamcp/internal/config"
	"odatamcp/internal/destination"
	"odatamcp/internal/ias"
	"odatamcp/internal/mcpserver"
	"odatamcp/internal/metrics"
	"odatamcp/internal/odata"
	"odatamcp/internal/server"
	"odatamcp/internal/session"
	"odatamcp/pkg/logging"
)

// statsTimeout bounds the store scan behind the session gauges.
const statsTimeout = 5 * time.Second

// Services holds every component of a running gateway. Each one is built
// here and handed to its dependents; nothing is a package-level singleton.
type Services struct {
	Config config.Config

	Metrics  *metrics.Metrics
	Store    *session.Store
	Identity *ias.Client
	Resolver *destination.Resolver
	OData    *odata.Client
	MCP      *mcpserver.Server
	Gateway  *server.Server
}

// InitializeServices builds the component graph for cfg in dependency order:
// metrics, token store, IAS client, destination resolver, OData client, MCP
// tools, gateway. cfg must already be validated.
func InitializeServices(ctx context.Context, cfg config.Config, version string) (*Services, error) {
	m := metrics.New()

	backend, err := NewSessionBackend(ctx, cfg.Session)
	if err != nil {
		return nil, err
	}
	store := session.NewStore(backend, session.WithSweepInterval(cfg.Session.SweepInterval))
	m.RegisterSessionStats(sessionStats(store))

	identity := ias.NewClient(cfg.IAS, ias.WithMetrics(m))
	if !identity.IsProperlyConfigured() {
		logging.Warn("Services", "IAS is not configured; login and token endpoints will return configuration errors")
	}

	resolver, err := NewResolver(cfg.Destinations, m)
	if err != nil {
		_ = store.Shutdown()
		return nil, err
	}

	client := odata.NewClient(resolver,
		odata.WithTimeout(cfg.OData.Timeout),
		odata.WithCatalogPath(cfg.OData.CatalogPath),
		odata.WithMetrics(m),
	)

	tools := mcpserver.New(client, store, version, mcpserver.WithTokenValidator(identity))

	gateway, err := server.New(server.Deps{
		Server:       cfg.Server,
		CallbackPath: cfg.IAS.CallbackPath,
		Store:        store,
		Identity:     identity,
		Metrics:      m,
		MCP:          tools.Handler(),
	})
	if err != nil {
		_ = store.Shutdown()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &Services{
		Config:   cfg,
		Metrics:  m,
		Store:    store,
		Identity: identity,
		Resolver: resolver,
		OData:    client,
		MCP:      tools,
		Gateway:  gateway,
	}, nil
}

// NewSessionBackend returns the token store backend selected by cfg.Store.
func NewSessionBackend(ctx context.Context, cfg config.SessionConfig) (session.Backend, error) {
	switch cfg.Store {
	case "", config.SessionStoreMemory:
		logging.Info("Services", "Using in-memory session store")
		return session.NewMemoryBackend(), nil
	case config.SessionStoreRedis:
		backend, err := session.NewRedisBackend(ctx, session.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis session store: %w", err)
		}
		logging.Info("Services", "Using redis session store at %s", cfg.Redis.Addr)
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}

// NewResolver builds the destination resolver. Without a destination service
// binding only local destinations resolve.
func NewResolver(cfg config.DestinationsConfig, m *metrics.Metrics) (*destination.Resolver, error) {
	if !cfg.Service.Configured() {
		logging.Info("Services", "No destination service bound; %d local destination(s)", len(cfg.Local))
		return destination.NewResolver(cfg, nil, destination.WithMetrics(m)), nil
	}

	provider, err := destination.NewServiceProvider(cfg.Service, destination.WithTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create destination service provider: %w", err)
	}
	logging.Info("Services", "Resolving destinations through %s", cfg.Service.URL)
	return destination.NewResolver(cfg, provider, destination.WithMetrics(m)), nil
}

func sessionStats(store *session.Store) metrics.SessionStatsFunc {
	return func() (total, expired, activeUsers int) {
		ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
		defer cancel()

		stats, err := store.Stats(ctx)
		if err != nil {
			logging.Debug("Services", "Session stats unavailable: %v", err)
			return 0, 0, 0
		}
		return stats.TotalSessions, stats.ExpiredSessions, stats.ActiveUsers
	}
}

// Close releases the token store. The gateway must be shut down first.
func (s *Services) Close() error {
	var errs []error
	if err := s.Store.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close session store: %w", err))
	}
	return errors.Join(errs...)
}
