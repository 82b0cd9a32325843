// Package health reports whether the gateway's backends are reachable.
//
// The Aggregator probes every registered service in parallel, each probe
// bounded by its own timeout, so a full report never takes longer than the
// slowest single probe. The overall status is "healthy" only when every
// service probe succeeds and "degraded" otherwise. Shared dependencies such
// as Redis are reported alongside without affecting the overall status.
package health
