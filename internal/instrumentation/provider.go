package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Provider owns the meter and tracer providers and the Metrics built on them.
type Provider struct {
	config Config

	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	registry       *prometheus.Registry
	metrics        *Metrics
}

// NewProvider builds the exporters selected by config and installs the
// tracer provider globally. A disabled config yields a provider whose
// Metrics record into a no-op meter.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	p := &Provider{config: config}

	if !config.Enabled {
		m, err := NewMetrics(noop.NewMeterProvider().Meter(TracerName), false)
		if err != nil {
			return nil, err
		}
		p.metrics = m
		return p, nil
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instrumentation config: %w", err)
	}

	res := sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	)

	if err := p.initMeterProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	if err := p.initTracerProvider(ctx, res); err != nil {
		_ = p.meterProvider.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	m, err := NewMetrics(p.meterProvider.Meter(TracerName), config.DetailedLabels)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	p.metrics = m
	return p, nil
}

func (p *Provider) initMeterProvider(ctx context.Context, res *sdkresource.Resource) error {
	var reader sdkmetric.Reader

	switch p.config.MetricsExporter {
	case ExporterPrometheus:
		p.registry = prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(p.registry))
		if err != nil {
			return err
		}
		reader = exporter
	case ExporterOTLP:
		var opts []otlpmetrichttp.Option
		if p.config.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpointURL(p.config.OTLPEndpoint))
		}
		if p.config.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return err
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(DefaultMetricInterval))
	case ExporterStdout:
		exporter, err := stdoutmetric.New()
		if err != nil {
			return err
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(DefaultMetricInterval))
	default:
		return fmt.Errorf("unknown metrics exporter %q", p.config.MetricsExporter)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initTracerProvider(ctx context.Context, res *sdkresource.Resource) error {
	var exporter sdktrace.SpanExporter

	switch p.config.TracingExporter {
	case ExporterNone, "":
		return nil
	case ExporterOTLP:
		var opts []otlptracehttp.Option
		if p.config.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(p.config.OTLPEndpoint))
		}
		if p.config.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return err
		}
		exporter = exp
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return err
		}
		exporter = exp
	default:
		return fmt.Errorf("unknown tracing exporter %q", p.config.TracingExporter)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(p.config.TraceSamplingRate))),
	)
	otel.SetTracerProvider(p.tracerProvider)
	return nil
}

// Enabled reports whether instrumentation is active.
func (p *Provider) Enabled() bool {
	return p.config.Enabled
}

// Metrics returns the metrics recorder. It is never nil.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// Meter returns a meter from the provider, or a no-op meter when disabled.
func (p *Provider) Meter(name string) metric.Meter {
	if p.meterProvider == nil {
		return noop.NewMeterProvider().Meter(name)
	}
	return p.meterProvider.Meter(name)
}

// PrometheusHandler serves the Prometheus registry. It returns nil unless
// the prometheus exporter is active.
func (p *Provider) PrometheusHandler() http.Handler {
	if p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracer provider: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
