package k8s

import "time"

const (
	// Service account paths - default Kubernetes in-cluster locations
	DefaultServiceAccountPath = "/var/run/secrets/kubernetes.io/serviceaccount"
	DefaultTokenPath          = DefaultServiceAccountPath + "/token"
	DefaultCACertPath         = DefaultServiceAccountPath + "/ca.crt"
	DefaultNamespacePath      = DefaultServiceAccountPath + "/namespace"

	// Default performance settings
	DefaultQPSLimit   = 20.0
	DefaultBurstLimit = 30
	DefaultTimeout    = 30 * time.Second

	// DefaultPageSize bounds the number of items requested per list call.
	DefaultPageSize = 500

	// In-cluster context name
	InClusterContext = "in-cluster"

	// Retry defaults for RetryingFetcher.
	DefaultRetryInitialDelay = 200 * time.Millisecond
	DefaultRetryFactor       = 2.0
	DefaultRetryJitter       = 0.1
)

// Fetch operation names, used in errors, logs and metrics.
const (
	OperationListNamespaces = "list_namespaces"
	OperationListPods       = "list_pods"
)
