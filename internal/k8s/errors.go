package k8s

import (
	"context"
	"errors"
	"fmt"
	"net"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Reason classifies a fetch failure.
type Reason string

const (
	// ReasonUnavailable covers connection and authentication failures:
	// the API server could not be reached or refused our credentials.
	ReasonUnavailable Reason = "Unavailable"

	// ReasonNamespaceNotFound means the namespace being listed does not
	// exist (any more).
	ReasonNamespaceNotFound Reason = "NamespaceNotFound"

	// ReasonRemote is any other failure reported by the API server.
	ReasonRemote Reason = "RemoteFailure"
)

// FetchError is returned by every Fetcher in this package.
type FetchError struct {
	// Op is the fetch operation, OperationListNamespaces or OperationListPods.
	Op string
	// Namespace is set for namespace-scoped operations.
	Namespace string
	Reason    Reason
	Err       error
}

func (e *FetchError) Error() string {
	if e.Namespace != "" {
		return fmt.Sprintf("%s %q: %s: %v", e.Op, e.Namespace, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is plausibly transient. Rejected
// credentials and missing namespaces are not.
func (e *FetchError) Retryable() bool {
	switch e.Reason {
	case ReasonNamespaceNotFound:
		return false
	case ReasonUnavailable:
		return !apierrors.IsUnauthorized(e.Err) && !apierrors.IsForbidden(e.Err)
	case ReasonRemote:
		return apierrors.IsTimeout(e.Err) ||
			apierrors.IsServerTimeout(e.Err) ||
			apierrors.IsTooManyRequests(e.Err) ||
			apierrors.IsServiceUnavailable(e.Err) ||
			apierrors.IsInternalError(e.Err)
	default:
		return false
	}
}

// ReasonOf returns the Reason of a *FetchError anywhere in err's chain, or ""
// when err is not a fetch error.
func ReasonOf(err error) Reason {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Reason
	}
	return ""
}

// IsRetryable reports whether err is a retryable *FetchError.
func IsRetryable(err error) bool {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Retryable()
	}
	return false
}

// classifyError wraps err in a *FetchError for op. It returns nil for a nil
// err and leaves existing fetch errors untouched.
func classifyError(op, namespace string, err error) error {
	if err == nil {
		return nil
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return err
	}

	reason := ReasonRemote
	switch {
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		reason = ReasonUnavailable
	case apierrors.IsNotFound(err) && namespace != "":
		reason = ReasonNamespaceNotFound
	case isConnectionError(err):
		reason = ReasonUnavailable
	}

	return &FetchError{Op: op, Namespace: namespace, Reason: reason, Err: err}
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
