// Package gateway provides the core API Gateway functionality.
//
// The Gateway owns every piece of shared mutable state the request path
// touches: the service registry, the tier resolver and its cache, the rate
// counter store, the per-service circuit breakers and the usage meter. It
// hands them to the proxy pipeline and serves the management routes.
//
// # Usage
//
// Create and start a gateway:
//
//	gw, err := gateway.New(cfg, gateway.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := gw.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer gw.Stop(ctx)
//
// # Configuration Reload
//
// Reload swaps the service registry atomically. Rate counters, circuit
// states and usage buckets survive the swap:
//
//	if err := gw.Reload(newConfig); err != nil {
//	    logger.Error("reload failed", observability.Error(err))
//	}
package gateway
