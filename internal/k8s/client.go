package k8s

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ClientConfig holds configuration for the Kubernetes client.
type ClientConfig struct {
	// Kubeconfig settings
	KubeconfigPath string
	Context        string

	// InCluster uses the pod's service account instead of a kubeconfig.
	InCluster bool

	// Performance settings
	QPSLimit   float32
	BurstLimit int
	Timeout    time.Duration

	// Debug settings
	DebugMode bool

	// Logging
	Logger Logger
}

// Logger is the logging interface used by the client. logging.SlogAdapter
// implements it.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// applyDefaults fills zero-valued performance settings.
func (c *ClientConfig) applyDefaults() {
	if c.QPSLimit == 0 {
		c.QPSLimit = DefaultQPSLimit
	}
	if c.BurstLimit == 0 {
		c.BurstLimit = DefaultBurstLimit
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

// ContextName returns the context the client talks to, for logging.
func (c *ClientConfig) ContextName() string {
	if c.InCluster {
		return InClusterContext
	}
	return c.Context
}

// RestConfig builds the rest.Config described by config. Performance
// settings are applied on top of whatever the kubeconfig specifies.
func RestConfig(config *ClientConfig) (*rest.Config, error) {
	if config == nil {
		return nil, fmt.Errorf("client configuration is required")
	}
	config.applyDefaults()

	var restConfig *rest.Config
	var err error

	if config.InCluster {
		if err := validateInClusterEnvironment(); err != nil {
			return nil, fmt.Errorf("in-cluster authentication not available: %w", err)
		}
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create in-cluster rest config: %w", err)
		}
		config.log().Info("Using in-cluster authentication")
	} else {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		if path := kubeconfigPath(config.KubeconfigPath); path != "" {
			loadingRules.ExplicitPath = path
		}

		contextConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			loadingRules,
			&clientcmd.ConfigOverrides{
				CurrentContext: config.Context,
			},
		)

		restConfig, err = contextConfig.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create rest config for context %q: %w", config.Context, err)
		}
		config.log().Info("Using kubeconfig authentication", "context", config.Context)
	}

	restConfig.QPS = config.QPSLimit
	restConfig.Burst = config.BurstLimit
	restConfig.Timeout = config.Timeout

	if config.DebugMode {
		config.log().Debug("built REST config", "host", restConfig.Host, "qps", restConfig.QPS, "burst", restConfig.Burst)
	}

	return restConfig, nil
}

// NewClientset returns a clientset for config.
func NewClientset(config *ClientConfig) (kubernetes.Interface, error) {
	restConfig, err := RestConfig(config)
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return clientset, nil
}

// ClientsetFactory returns a factory that builds the clientset for config on
// first use.
func ClientsetFactory(config *ClientConfig) func() (kubernetes.Interface, error) {
	return func() (kubernetes.Interface, error) {
		return NewClientset(config)
	}
}

// kubeconfigPath resolves the kubeconfig location: an explicit path wins,
// then $KUBECONFIG with a leading "~/" expanded.
func kubeconfigPath(explicit string) string {
	if explicit != "" {
		return expandHome(explicit)
	}
	kconf := os.Getenv("KUBECONFIG")
	// A KUBECONFIG list is left to the default loading rules.
	if strings.Contains(kconf, string(os.PathListSeparator)) {
		return ""
	}
	return expandHome(kconf)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		uhd, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(uhd, path[2:])
	}
	return path
}

// validateInClusterEnvironment checks if the required in-cluster authentication files are present.
func validateInClusterEnvironment() error {
	if _, err := os.Stat(DefaultTokenPath); os.IsNotExist(err) {
		return fmt.Errorf("service account token not found at %s", DefaultTokenPath)
	}
	if _, err := os.Stat(DefaultCACertPath); os.IsNotExist(err) {
		return fmt.Errorf("service account CA certificate not found at %s", DefaultCACertPath)
	}
	return nil
}

func (c *ClientConfig) log() Logger {
	if c.Logger == nil {
		return nopLogger{}
	}
	return c.Logger
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
