// Package proxy forwards admitted requests to backend services.
//
// For each request under a registered service prefix the Handler resolves
// the caller's identity and tier, asks the rate limiter for admission,
// and forwards the call through the service's circuit breaker. Denials
// and failures are answered with a JSON error body; successful responses
// are relayed unchanged and counted by the usage meter.
package proxy
