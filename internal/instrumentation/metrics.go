package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrOperation      = "operation"
	attrStatus         = "status"
	attrNamespace      = "namespace"
	attrNamespaceClass = "namespace_class"
)

// Metrics provides methods for recording observability metrics.
type Metrics struct {
	// FUSE request metrics
	fuseOperationsTotal   metric.Int64Counter
	fuseOperationDuration metric.Float64Histogram

	// Kubernetes fetch metrics
	fetchTotal    metric.Int64Counter
	fetchDuration metric.Float64Histogram

	// Tree metrics
	namespacesPopulated metric.Int64Counter
	podsDiscovered      metric.Int64Counter

	// detailedLabels controls whether the namespace label is recorded
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.fuseOperationsTotal, err = meter.Int64Counter(
		"kubefs_fuse_operations_total",
		metric.WithDescription("Total number of FUSE requests served"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubefs_fuse_operations_total counter: %w", err)
	}

	m.fuseOperationDuration, err = meter.Float64Histogram(
		"kubefs_fuse_operation_duration_seconds",
		metric.WithDescription("FUSE request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubefs_fuse_operation_duration_seconds histogram: %w", err)
	}

	m.fetchTotal, err = meter.Int64Counter(
		"kubernetes_fetch_total",
		metric.WithDescription("Total number of Kubernetes list calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes_fetch_total counter: %w", err)
	}

	m.fetchDuration, err = meter.Float64Histogram(
		"kubernetes_fetch_duration_seconds",
		metric.WithDescription("Kubernetes list call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes_fetch_duration_seconds histogram: %w", err)
	}

	m.namespacesPopulated, err = meter.Int64Counter(
		"kubefs_namespaces_populated_total",
		metric.WithDescription("Total number of namespace directories populated with pods"),
		metric.WithUnit("{namespace}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubefs_namespaces_populated_total counter: %w", err)
	}

	m.podsDiscovered, err = meter.Int64Counter(
		"kubefs_pods_discovered_total",
		metric.WithDescription("Total number of pod files added to the tree"),
		metric.WithUnit("{pod}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubefs_pods_discovered_total counter: %w", err)
	}

	return m, nil
}

// RecordFuseOperation records one served FUSE request.
func (m *Metrics) RecordFuseOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if m.fuseOperationsTotal == nil || m.fuseOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := metric.WithAttributes(
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)
	m.fuseOperationsTotal.Add(ctx, 1, attrs)
	m.fuseOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordFetch records one Kubernetes list call.
func (m *Metrics) RecordFetch(ctx context.Context, operation, status string, duration time.Duration) {
	if m.fetchTotal == nil || m.fetchDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := metric.WithAttributes(
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)
	m.fetchTotal.Add(ctx, 1, attrs)
	m.fetchDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordNamespacePopulated records a namespace directory being filled with
// pods.
//
// CARDINALITY NOTE: the namespace label is only recorded with detailed
// labels enabled; otherwise the namespace is reduced to its class.
func (m *Metrics) RecordNamespacePopulated(ctx context.Context, namespace string, pods int) {
	if m.namespacesPopulated == nil || m.podsDiscovered == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrNamespaceClass, ClassifyNamespace(namespace)),
	}
	if m.detailedLabels {
		attrs = append(attrs, attribute.String(attrNamespace, namespace))
	}

	m.namespacesPopulated.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.podsDiscovered.Add(ctx, int64(pods), metric.WithAttributes(attrs...))
}
