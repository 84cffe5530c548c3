package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"odatamcp/pkg/logging"
)

const defaultShutdownTimeout = 15 * time.Second

// runServer runs the gateway until ctx is done or the process is signalled.
//
// Signal Handling:
//   - SIGINT (Ctrl+C): Triggers graceful shutdown
//   - SIGTERM: Triggers graceful shutdown (common in container environments)
//
// In-flight requests get Server.ShutdownTimeout to finish; the token store is
// closed after the listener.
func runServer(ctx context.Context, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return services.Gateway.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Lifecycle", "Shutting down")

		timeout := services.Config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := services.Gateway.Shutdown(shutdownCtx); err != nil {
			logging.Error("Lifecycle", err, "Gateway did not shut down cleanly")
			return err
		}
		return nil
	})

	err := g.Wait()
	if closeErr := services.Close(); closeErr != nil {
		logging.Error("Lifecycle", closeErr, "Failed to release services")
		if err == nil {
			err = closeErr
		}
	}
	return err
}
