// Package k8s is the boundary between kubefs and the Kubernetes API.
//
// The filesystem core only ever needs two questions answered: which
// namespaces exist, and which pods live in a given namespace. Fetcher
// captures exactly that:
//
//	names, err := fetcher.ListNamespaces(ctx)
//	pods, err := fetcher.ListPods(ctx, "default")
//
// Every call performs a full remote query; caching is the tree's job. Calls
// block until the API server answers, fails, or the fetcher's own per-call
// timeout expires, so callers never deal with asynchronous execution.
//
// ClientFetcher implements Fetcher on top of a client-go clientset built from
// a kubeconfig or from in-cluster service-account credentials (see
// ClientConfig). Failures are reported as *FetchError, classified into
// connection/authentication problems, missing namespaces and generic remote
// failures.
//
// Two decorators compose around any Fetcher:
//
//   - RetryingFetcher retries transient failures with exponential backoff.
//     It is opt-in; without it no call is ever retried.
//   - InstrumentedFetcher records metrics, trace spans and debug logs.
package k8s
