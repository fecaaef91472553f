package k8s

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/kubefs/internal/instrumentation"
	"github.com/giantswarm/kubefs/internal/logging"
)

// FetchRecorder receives one observation per fetch call. It is satisfied by
// *instrumentation.Metrics.
type FetchRecorder interface {
	RecordFetch(ctx context.Context, operation, status string, duration time.Duration)
}

type noopFetchRecorder struct{}

func (noopFetchRecorder) RecordFetch(context.Context, string, string, time.Duration) {}

// InstrumentedFetcher records a metric observation, a trace span and a debug
// log line for every call to the wrapped Fetcher.
type InstrumentedFetcher struct {
	next     Fetcher
	recorder FetchRecorder
	logger   *slog.Logger
}

var _ Fetcher = (*InstrumentedFetcher)(nil)

// NewInstrumentedFetcher wraps next. A nil recorder or logger disables the
// respective output.
func NewInstrumentedFetcher(next Fetcher, recorder FetchRecorder, logger *slog.Logger) *InstrumentedFetcher {
	if recorder == nil {
		recorder = noopFetchRecorder{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &InstrumentedFetcher{
		next:     next,
		recorder: recorder,
		logger:   logger,
	}
}

func (f *InstrumentedFetcher) ListNamespaces(ctx context.Context) ([]string, error) {
	ctx, span := instrumentation.StartClientSpan(ctx, "k8s.ListNamespaces",
		attribute.String(instrumentation.SpanAttrOperation, OperationListNamespaces))
	defer span.End()

	start := time.Now()
	names, err := f.next.ListNamespaces(ctx)
	f.observe(ctx, span, OperationListNamespaces, "", len(names), time.Since(start), err)
	return names, err
}

func (f *InstrumentedFetcher) ListPods(ctx context.Context, namespace string) ([]string, error) {
	ctx, span := instrumentation.StartClientSpan(ctx, "k8s.ListPods",
		attribute.String(instrumentation.SpanAttrOperation, OperationListPods),
		attribute.String(instrumentation.SpanAttrNamespace, namespace))
	defer span.End()

	start := time.Now()
	names, err := f.next.ListPods(ctx, namespace)
	f.observe(ctx, span, OperationListPods, namespace, len(names), time.Since(start), err)
	return names, err
}

func (f *InstrumentedFetcher) observe(ctx context.Context, span trace.Span, op, namespace string, count int, duration time.Duration, err error) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		span.SetAttributes(attribute.Int(instrumentation.SpanAttrItemCount, count))
	}
	f.recorder.RecordFetch(ctx, op, status, duration)

	f.logger.Debug("fetch completed",
		logging.Operation(op),
		logging.Namespace(namespace),
		logging.Status(status),
		slog.Int("count", count),
		logging.Duration(duration))
}
