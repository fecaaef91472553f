package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/giantswarm/kubefs/internal/instrumentation"
	"github.com/giantswarm/kubefs/internal/tree"
)

// TreeStatus is the view of the tree store the health checks need.
// *tree.Store implements it.
type TreeStatus interface {
	Initialized() bool
	Stats() tree.Stats
}

// HealthOptions configures a HealthChecker.
type HealthOptions struct {
	Version    string
	Mountpoint string
	Tree       TreeStatus
	// Provider is optional.
	Provider *instrumentation.Provider
}

// HealthChecker provides health check endpoints for probes.
type HealthChecker struct {
	// mounted is set once the kernel mount is up and cleared on unmount
	mounted atomic.Bool
	// shuttingDown is set when the process starts tearing down
	shuttingDown atomic.Bool

	opts      HealthOptions
	startTime time.Time
}

// NewHealthChecker creates a new HealthChecker. It reports not ready until
// SetMounted(true) is called.
func NewHealthChecker(opts HealthOptions) *HealthChecker {
	return &HealthChecker{
		opts:      opts,
		startTime: time.Now(),
	}
}

// SetMounted records whether the filesystem is mounted.
func (h *HealthChecker) SetMounted(mounted bool) {
	h.mounted.Store(mounted)
}

// SetShuttingDown marks the process as tearing down.
func (h *HealthChecker) SetShuttingDown() {
	h.shuttingDown.Store(true)
}

// IsReady returns whether the filesystem is serving.
func (h *HealthChecker) IsReady() bool {
	ok, _ := h.readiness()
	return ok
}

// HealthResponse represents the JSON response for health endpoints.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// DetailedHealthResponse provides comprehensive health information.
type DetailedHealthResponse struct {
	Status          string                      `json:"status"`
	Version         string                      `json:"version,omitempty"`
	Uptime          string                      `json:"uptime"`
	Mountpoint      string                      `json:"mountpoint,omitempty"`
	Tree            *TreeHealthStatus           `json:"tree,omitempty"`
	Instrumentation *InstrumentationHealthCheck `json:"instrumentation"`
}

// TreeHealthStatus summarizes the tree store.
type TreeHealthStatus struct {
	Initialized         bool `json:"initialized"`
	Namespaces          int  `json:"namespaces"`
	PopulatedNamespaces int  `json:"populated_namespaces"`
	Pods                int  `json:"pods"`
}

// InstrumentationHealthCheck provides health information about instrumentation.
type InstrumentationHealthCheck struct {
	Enabled bool `json:"enabled"`
}

// LivenessHandler returns an HTTP handler for the /healthz endpoint.
// If we can respond, we're alive.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: h.opts.Version,
		})
	})
}

// ReadinessHandler returns an HTTP handler for the /readyz endpoint.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allOk, checks := h.readiness()

		response := HealthResponse{Checks: checks}
		status := http.StatusOK
		if allOk {
			response.Status = "ok"
		} else {
			response.Status = "not ready"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, response)
	})
}

// DetailedHealthHandler returns an HTTP handler for the /healthz/detailed endpoint.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := DetailedHealthResponse{
			Status:          "ok",
			Version:         h.opts.Version,
			Uptime:          time.Since(h.startTime).Truncate(time.Second).String(),
			Mountpoint:      h.opts.Mountpoint,
			Instrumentation: &InstrumentationHealthCheck{Enabled: h.opts.Provider != nil && h.opts.Provider.Enabled()},
		}
		if h.opts.Tree != nil {
			stats := h.opts.Tree.Stats()
			response.Tree = &TreeHealthStatus{
				Initialized:         h.opts.Tree.Initialized(),
				Namespaces:          stats.Namespaces,
				PopulatedNamespaces: stats.PopulatedNamespaces,
				Pods:                stats.Pods,
			}
		}

		status := http.StatusOK
		switch {
		case h.shuttingDown.Load():
			response.Status = "shutting down"
			status = http.StatusServiceUnavailable
		case !h.IsReady():
			response.Status = "not ready"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, response)
	})
}

// RegisterHealthEndpoints registers health check endpoints on the given mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}

func (h *HealthChecker) readiness() (bool, map[string]string) {
	checks := make(map[string]string)
	allOk := true

	switch {
	case h.opts.Tree == nil || !h.opts.Tree.Initialized():
		checks["tree"] = "not loaded"
		allOk = false
	default:
		checks["tree"] = "ok"
	}

	if h.mounted.Load() {
		checks["mount"] = "ok"
	} else {
		checks["mount"] = "not mounted"
		allOk = false
	}

	if h.shuttingDown.Load() {
		checks["shutdown"] = "shutting down"
		allOk = false
	} else {
		checks["shutdown"] = "ok"
	}

	if h.opts.Provider != nil {
		if h.opts.Provider.Enabled() {
			checks["instrumentation"] = "ok"
		} else {
			checks["instrumentation"] = "disabled"
		}
	}

	return allOk, checks
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
