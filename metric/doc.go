// Package metric provides prometheus metric registration and exposition for
// the shard management library.
//
// # Overview
//
// MetricsRegistry wraps a dedicated prometheus registry with duplicate
// detection keyed by component and metric name. Core shard metrics (per-shard
// connection state, tracked channel counts, reconnect cycles, frame
// throughput, assignment outcomes) are created and registered up front;
// components register their own additional collectors through the
// MetricsRegistrar interface.
//
// # Usage
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordShardState("initial-shard-1", 4)
//
//	// Exposition
//	server := metric.NewServer(9090, "/metrics", registry)
//	go server.Start()
//	defer server.Stop()
//
// The registry also exports Go runtime and process collectors so a single
// scrape covers both domain and runtime health.
package metric
