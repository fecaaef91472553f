// Package server exposes the kubefs process over HTTP for probes and
// scraping.
//
// Endpoints:
//
//   - /healthz: liveness; answers as long as the process runs
//   - /readyz: readiness; ok once the tree is loaded and the filesystem is
//     mounted
//   - /healthz/detailed: uptime, mount point, tree size and instrumentation
//     status
//   - /metrics: Prometheus exposition, when the prometheus exporter is active
//
// The server is optional and only started when a listen address is set.
package server
