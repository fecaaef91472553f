package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/giantswarm/kubefs/internal/logging"
)

// Fetcher lists the cluster objects kubefs renders. Implementations perform a
// full remote query on every call and block until it completes.
type Fetcher interface {
	// ListNamespaces returns the names of all namespaces.
	ListNamespaces(ctx context.Context) ([]string, error)

	// ListPods returns the names of all pods in namespace.
	ListPods(ctx context.Context, namespace string) ([]string, error)
}

// ClientFetcher implements Fetcher with client-go.
type ClientFetcher struct {
	newClientset func() (kubernetes.Interface, error)
	clientset    lazyValue[kubernetes.Interface]

	timeout  time.Duration
	pageSize int64
	logger   *slog.Logger
}

var _ Fetcher = (*ClientFetcher)(nil)

// ClientFetcherOption configures a ClientFetcher.
type ClientFetcherOption func(*ClientFetcher)

// WithTimeout bounds each fetch call. Zero disables the bound.
func WithTimeout(timeout time.Duration) ClientFetcherOption {
	return func(f *ClientFetcher) {
		f.timeout = timeout
	}
}

// WithPageSize sets the list page size. Values <= 0 fetch everything in one
// request.
func WithPageSize(size int64) ClientFetcherOption {
	return func(f *ClientFetcher) {
		f.pageSize = size
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(logger *slog.Logger) ClientFetcherOption {
	return func(f *ClientFetcher) {
		f.logger = logger
	}
}

// NewClientFetcher returns a fetcher that builds its clientset with
// newClientset on first use. A failed build is retried on the next call.
func NewClientFetcher(newClientset func() (kubernetes.Interface, error), opts ...ClientFetcherOption) *ClientFetcher {
	f := &ClientFetcher{
		newClientset: newClientset,
		timeout:      DefaultTimeout,
		pageSize:     DefaultPageSize,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewClientFetcherForClientset returns a fetcher bound to an existing
// clientset.
func NewClientFetcherForClientset(clientset kubernetes.Interface, opts ...ClientFetcherOption) *ClientFetcher {
	return NewClientFetcher(func() (kubernetes.Interface, error) {
		return clientset, nil
	}, opts...)
}

// ListNamespaces returns all namespace names sorted by name.
func (f *ClientFetcher) ListNamespaces(ctx context.Context) ([]string, error) {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	clientset, err := f.client()
	if err != nil {
		return nil, &FetchError{Op: OperationListNamespaces, Reason: ReasonUnavailable, Err: err}
	}

	var names []string
	opts := metav1.ListOptions{Limit: f.pageSize}
	for {
		list, err := clientset.CoreV1().Namespaces().List(ctx, opts)
		if err != nil {
			return nil, classifyError(OperationListNamespaces, "", err)
		}
		for i := range list.Items {
			names = append(names, list.Items[i].Name)
		}
		if list.Continue == "" {
			break
		}
		opts.Continue = list.Continue
	}

	sort.Strings(names)
	f.logger.Debug("listed namespaces", slog.Int("count", len(names)))
	return names, nil
}

// ListPods returns the pod names in namespace sorted by name. An empty result
// is double-checked against the namespace itself so that a deleted namespace
// is reported as ReasonNamespaceNotFound rather than as an empty directory.
func (f *ClientFetcher) ListPods(ctx context.Context, namespace string) ([]string, error) {
	if namespace == "" {
		return nil, &FetchError{
			Op:     OperationListPods,
			Reason: ReasonNamespaceNotFound,
			Err:    fmt.Errorf("namespace name is empty"),
		}
	}

	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	clientset, err := f.client()
	if err != nil {
		return nil, &FetchError{Op: OperationListPods, Namespace: namespace, Reason: ReasonUnavailable, Err: err}
	}

	var names []string
	opts := metav1.ListOptions{Limit: f.pageSize}
	for {
		list, err := clientset.CoreV1().Pods(namespace).List(ctx, opts)
		if err != nil {
			return nil, classifyError(OperationListPods, namespace, err)
		}
		for i := range list.Items {
			names = append(names, list.Items[i].Name)
		}
		if list.Continue == "" {
			break
		}
		opts.Continue = list.Continue
	}

	if len(names) == 0 {
		if _, err := clientset.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{}); err != nil {
			if apierrors.IsNotFound(err) {
				return nil, &FetchError{
					Op:        OperationListPods,
					Namespace: namespace,
					Reason:    ReasonNamespaceNotFound,
					Err:       err,
				}
			}
			// The pod list itself succeeded; an unreadable namespace
			// object is not a reason to fail it.
			f.logger.Debug("namespace check failed", logging.Namespace(namespace), logging.SanitizedErr(err))
		}
	}

	sort.Strings(names)
	f.logger.Debug("listed pods", logging.Namespace(namespace), slog.Int("count", len(names)))
	return names, nil
}

func (f *ClientFetcher) client() (kubernetes.Interface, error) {
	if f.newClientset == nil {
		return nil, fmt.Errorf("no clientset factory configured")
	}
	return f.clientset.Get(f.newClientset)
}

func (f *ClientFetcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.timeout)
}
