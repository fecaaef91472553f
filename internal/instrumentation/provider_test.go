package instrumentation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, provider.Enabled())
	require.NotNil(t, provider.Metrics())
	assert.Nil(t, provider.PrometheusHandler())
	assert.NotNil(t, provider.Meter("x"))
	assert.NotPanics(t, func() {
		provider.Metrics().RecordFetch(context.Background(), "list_pods", StatusSuccess, time.Millisecond)
	})
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProviderInvalidConfig(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{
		Enabled:         true,
		MetricsExporter: "statsd",
	})
	assert.ErrorContains(t, err, "invalid instrumentation config")
}

func TestPrometheusExposesAllMetrics(t *testing.T) {
	ctx := context.Background()
	provider, err := NewProvider(ctx, Config{
		ServiceName:     "kubefs-test",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
	})
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(ctx) }()

	metrics := provider.Metrics()
	metrics.RecordFuseOperation(ctx, "lookup", "ok", time.Millisecond)
	metrics.RecordFetch(ctx, "list_pods", StatusSuccess, 10*time.Millisecond)
	metrics.RecordNamespacePopulated(ctx, "default", 2)

	handler := provider.PrometheusHandler()
	require.NotNil(t, handler)
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	output := string(body)

	for _, name := range []string{
		"kubefs_fuse_operations_total",
		"kubefs_fuse_operation_duration_seconds_bucket",
		"kubernetes_fetch_total",
		"kubernetes_fetch_duration_seconds_bucket",
		"kubefs_namespaces_populated_total",
		"kubefs_pods_discovered_total",
	} {
		assert.Contains(t, output, name)
	}
	assert.Contains(t, output, `operation="lookup"`)
}

func TestNewProviderStdoutTracing(t *testing.T) {
	ctx := context.Background()
	provider, err := NewProvider(ctx, Config{
		Enabled:           true,
		MetricsExporter:   ExporterPrometheus,
		TracingExporter:   ExporterStdout,
		TraceSamplingRate: 1,
	})
	require.NoError(t, err)
	assert.NotNil(t, provider.tracerProvider)
	assert.NoError(t, provider.Shutdown(ctx))
}
