// Package cache provides the byte-oriented TTL cache used to remember
// resolved tiers between provider lookups.
//
// Two backends are available: an in-process LRU and a Redis-backed cache
// that shares entries across gateway instances. Both report hits, misses
// and operation latency to Prometheus.
package cache
