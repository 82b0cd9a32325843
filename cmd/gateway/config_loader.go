package main

import (
	"github.com/vyrodovalexey/tiergate/internal/config"
	"github.com/vyrodovalexey/tiergate/internal/observability"
)

// loadAndValidateConfig loads the configuration file. Any error is fatal.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.GatewayConfig {
	logger.Info("starting tiergate",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fatalWithSync(logger, "failed to load configuration", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	logger.Info("configuration loaded",
		observability.String("listen", cfg.Listen),
		observability.Int("services", len(cfg.Services)),
		observability.Int("tiers", len(cfg.Tiers)),
		observability.String("tier_provider", cfg.TierProvider.Type),
		observability.String("rate_limit_store", cfg.RateLimit.Store),
		observability.String("usage_store", cfg.Usage.Store),
	)

	return cfg
}
