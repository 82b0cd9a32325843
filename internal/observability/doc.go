// Package observability provides logging, metrics, and tracing
// functionality for the gateway.
//
// # Logging
//
// The Logger interface provides structured logging backed by zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("request admitted",
//	    observability.String("service", "quantum"),
//	    observability.Int("remaining", 49),
//	)
//
// # Metrics
//
// HTTP request metrics live on a private registry; Handler merges it with
// the default registry that component packages register into via promauto.
//
// # Tracing
//
// OpenTelemetry tracing with OTLP gRPC export. A disabled tracer hands out
// spans from the global no-op provider.
package observability
