package main

import (
	"github.com/vyrodovalexey/tiergate/internal/config"
	"github.com/vyrodovalexey/tiergate/internal/gateway"
	"github.com/vyrodovalexey/tiergate/internal/observability"
)

// application holds all application components.
type application struct {
	gateway *gateway.Gateway
	metrics *observability.Metrics
	tracer  *observability.Tracer
	config  *config.GatewayConfig
}

// initApplication initializes all application components.
func initApplication(cfg *config.GatewayConfig, logger observability.Logger) *application {
	metrics := observability.NewMetrics("tiergate")
	metrics.SetBuildInfo(version, gitCommit)

	tracer := initTracer(cfg, logger)

	gw, err := gateway.New(cfg,
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
		gateway.WithTracer(tracer),
		gateway.WithVersion(version),
		gateway.WithShutdownTimeout(cfg.ShutdownTimeout.Duration()),
	)
	if err != nil {
		fatalWithSync(logger, "failed to create gateway", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	return &application{
		gateway: gw,
		metrics: metrics,
		tracer:  tracer,
		config:  cfg,
	}
}

// initTracer initializes the tracer.
func initTracer(cfg *config.GatewayConfig, logger observability.Logger) *observability.Tracer {
	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		fatalWithSync(logger, "failed to initialize tracer", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	return tracer
}
