// Package health provides health status tracking for shards and managers.
//
// # Overview
//
// Every shard reports a Status carrying a coarse state (healthy, degraded,
// unhealthy), a human-readable message, and optional connection metrics.
// A Monitor aggregates per-shard statuses into a single system status,
// with unhealthy taking precedence over degraded and degraded over healthy.
//
// Status messages pass through SanitizeMessage before they are stored so
// that connection URLs and OAuth tokens never leak into health endpoints
// or logs.
//
// # Usage
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("main-shard", "connected, 25 channels")
//	monitor.UpdateDegraded("extended-shard-1", "reconnecting")
//
//	overall := monitor.AggregateHealth("shard-manager")
//	if !overall.IsHealthy() {
//		// report or alert
//	}
package health
