package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/tiergate/internal/config"
	"github.com/vyrodovalexey/tiergate/internal/observability"
)

// runGateway runs the gateway until a shutdown signal arrives.
func runGateway(app *application, flags cliFlags, logger observability.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.gateway.Start(ctx); err != nil {
		fatalWithSync(logger, "failed to start gateway", observability.Error(err))
		return // unreachable in production; allows test to continue
	}

	var watcher *config.Watcher
	if flags.watchConfig {
		watcher = startConfigWatcher(app, flags.configPath, logger)
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownApplication(app, watcher, logger)
}

// startConfigWatcher reloads the service registry whenever the file
// changes. Rejected files leave the running registry in place.
func startConfigWatcher(app *application, configPath string, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.GatewayConfig) {
		if reloadErr := app.gateway.Reload(newCfg); reloadErr != nil {
			logger.Error("failed to reload configuration", observability.Error(reloadErr))
		}
	}, config.WithLogger(logger))
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		return nil
	}

	return watcher
}

// shutdownApplication stops the watcher, drains the gateway and flushes
// the tracer, all within the configured shutdown timeout.
func shutdownApplication(app *application, watcher *config.Watcher, logger observability.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout.Duration())
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := app.gateway.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop gateway gracefully", observability.Error(err))
	}

	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("gateway stopped")
}
