// Package instrumentation provides OpenTelemetry metrics and tracing for
// kubefs.
//
// # Metrics
//
// FUSE request metrics:
//   - kubefs_fuse_operations_total: Counter of requests by operation and status
//   - kubefs_fuse_operation_duration_seconds: Histogram of request durations
//
// Kubernetes fetch metrics:
//   - kubernetes_fetch_total: Counter of list calls by operation and status
//   - kubernetes_fetch_duration_seconds: Histogram of list call durations
//
// Tree metrics:
//   - kubefs_namespaces_populated_total: Counter of namespace directories filled
//   - kubefs_pods_discovered_total: Counter of pod files added
//
// # Cardinality Considerations
//
// Operation and status labels are bounded. Namespace names are not, so the
// tree metrics carry a namespace_class label (system, default, user) and add
// the namespace itself only when METRICS_DETAILED_LABELS is set.
//
// # Tracing
//
// Spans are created for every Kubernetes list call (k8s.ListNamespaces,
// k8s.ListPods) and for the initial tree load.
//
// # Configuration
//
// Instrumentation is configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: false)
//   - METRICS_EXPORTER: prometheus, otlp or stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout or none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_EXPORTER_OTLP_INSECURE: Use plain HTTP for OTLP
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: kubefs)
//   - METRICS_DETAILED_LABELS: Record namespace names on tree metrics
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	metrics := provider.Metrics()
//	metrics.RecordFetch(ctx, "list_pods", instrumentation.StatusSuccess, time.Since(start))
package instrumentation
