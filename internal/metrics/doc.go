// Package metrics provides Prometheus metrics for chunklogd.
//
// Three recorders are exported, each satisfying the recorder interface of
// the package it observes:
//   - ScavengeMetrics: chunk outcomes, bytes saved, records kept and
//     discarded, run status and checkpoint progress (scavenge.MetricsRecorder)
//   - MetadataMetrics: latency of scavenge state operations against the
//     metadata store (metadata.MetricsRecorder)
//   - ObjectStoreMetrics: latency and bytes moved to and from the chunk
//     archive (objectstore.MetricsRecorder)
//
// Handler exposes a registry on /metrics. Server serves it on a dedicated
// address; otherwise it is mounted on the probe server.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	scavengeMetrics := metrics.NewScavengeMetricsWithRegistry(reg)
//	reporter := scavenge.NewReporter(logger, scavengeMetrics)
//
//	meta := metadata.NewInstrumentedStore(store, metrics.NewMetadataMetricsWithRegistry(reg))
//
//	srv := metrics.NewServer(":9090", reg, logger)
//	srv.Start()
//	defer srv.Close()
package metrics
