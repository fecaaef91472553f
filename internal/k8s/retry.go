package k8s

import (
	"context"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"github.com/giantswarm/kubefs/internal/logging"
)

// RetryingFetcher retries transient failures of the wrapped Fetcher with
// exponential backoff. Only errors for which IsRetryable is true are retried;
// the last error is returned once attempts are exhausted.
type RetryingFetcher struct {
	next    Fetcher
	backoff wait.Backoff
	logger  *slog.Logger
}

var _ Fetcher = (*RetryingFetcher)(nil)

// NewRetryingFetcher wraps next with up to retries additional attempts per
// call. With retries <= 0 it returns next unchanged.
func NewRetryingFetcher(next Fetcher, retries int, logger *slog.Logger) Fetcher {
	if retries <= 0 {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingFetcher{
		next: next,
		backoff: wait.Backoff{
			Steps:    retries + 1,
			Duration: DefaultRetryInitialDelay,
			Factor:   DefaultRetryFactor,
			Jitter:   DefaultRetryJitter,
		},
		logger: logger,
	}
}

// withBackoff overrides the backoff schedule; used by tests.
func (r *RetryingFetcher) withBackoff(initial time.Duration) *RetryingFetcher {
	r.backoff.Duration = initial
	r.backoff.Jitter = 0
	return r
}

func (r *RetryingFetcher) ListNamespaces(ctx context.Context) ([]string, error) {
	var names []string
	err := r.do(ctx, OperationListNamespaces, "", func() error {
		var err error
		names, err = r.next.ListNamespaces(ctx)
		return err
	})
	return names, err
}

func (r *RetryingFetcher) ListPods(ctx context.Context, namespace string) ([]string, error) {
	var names []string
	err := r.do(ctx, OperationListPods, namespace, func() error {
		var err error
		names, err = r.next.ListPods(ctx, namespace)
		return err
	})
	return names, err
}

func (r *RetryingFetcher) do(ctx context.Context, op, namespace string, fn func() error) error {
	attempt := 0
	return retry.OnError(r.backoff, func(err error) bool {
		if ctx.Err() != nil || !IsRetryable(err) {
			return false
		}
		r.logger.Warn("transient fetch failure",
			logging.Operation(op),
			logging.Namespace(namespace),
			slog.Int("attempt", attempt),
			logging.SanitizedErr(err))
		return true
	}, func() error {
		attempt++
		return fn()
	})
}
