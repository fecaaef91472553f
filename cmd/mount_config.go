package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/kubefs/internal/k8s"
	"github.com/giantswarm/kubefs/internal/kubefs"
	"github.com/giantswarm/kubefs/internal/logging"
)

// envValueTrue is the string value used to enable boolean environment variables.
const envValueTrue = "true"

// MountConfig holds all configuration for the mount command.
type MountConfig struct {
	Mountpoint string `yaml:"mountpoint"`

	// Kubernetes client settings
	Kubeconfig   string        `yaml:"kubeconfig"`
	Context      string        `yaml:"context"`
	InCluster    bool          `yaml:"inCluster"`
	QPS          float32       `yaml:"qps"`
	Burst        int           `yaml:"burst"`
	Timeout      time.Duration `yaml:"timeout"`
	FetchRetries int           `yaml:"fetchRetries"`

	// Kernel cache settings
	EntryTimeout    time.Duration `yaml:"entryTimeout"`
	AttrTimeout     time.Duration `yaml:"attrTimeout"`
	NegativeTimeout time.Duration `yaml:"negativeTimeout"`

	// Mount settings
	AllowOther  bool `yaml:"allowOther"`
	AutoUnmount bool `yaml:"autoUnmount"`
	Debug       bool `yaml:"debug"`

	// MetricsAddr enables the health and metrics server when set.
	MetricsAddr string `yaml:"metricsAddr"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// DefaultMountConfig returns the built-in defaults.
func DefaultMountConfig() MountConfig {
	return MountConfig{
		QPS:          k8s.DefaultQPSLimit,
		Burst:        k8s.DefaultBurstLimit,
		Timeout:      k8s.DefaultTimeout,
		EntryTimeout: kubefs.DefaultEntryTimeout,
		AttrTimeout:  kubefs.DefaultAttrTimeout,
		AutoUnmount:  true,
		LogLevel:     "info",
		LogFormat:    logging.FormatText,
	}
}

// Validate checks ranges and required fields.
func (c *MountConfig) Validate() error {
	if c.Mountpoint == "" {
		return errors.New("mountpoint is required")
	}
	if c.InCluster && c.Kubeconfig != "" {
		return errors.New("in-cluster mode and an explicit kubeconfig are mutually exclusive")
	}
	if c.QPS <= 0 {
		return fmt.Errorf("qps must be positive, got %v", c.QPS)
	}
	if c.Burst <= 0 {
		return fmt.Errorf("burst must be positive, got %d", c.Burst)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.FetchRetries < 0 {
		return fmt.Errorf("fetch retries cannot be negative, got %d", c.FetchRetries)
	}
	if c.EntryTimeout < 0 || c.AttrTimeout < 0 || c.NegativeTimeout < 0 {
		return errors.New("cache timeouts cannot be negative")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("invalid log format %q: must be %s or %s", c.LogFormat, logging.FormatText, logging.FormatJSON)
	}
	return nil
}

// loadMountConfigFile overlays the YAML file at path onto config. Keys absent
// from the file keep their current values.
func loadMountConfigFile(path string, config *MountConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// loadMountEnvVars loads mount configuration from environment variables.
// Environment variables only override values when the corresponding flag
// was not explicitly set.
func loadMountEnvVars(cmd *cobra.Command, config *MountConfig) {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }

	if !changed("kubeconfig") {
		if v := os.Getenv("KUBEFS_KUBECONFIG"); v != "" {
			config.Kubeconfig = v
		}
	}
	if !changed("context") {
		if v := os.Getenv("KUBEFS_CONTEXT"); v != "" {
			config.Context = v
		}
	}
	if !changed("in-cluster") && os.Getenv("KUBEFS_IN_CLUSTER") == envValueTrue {
		config.InCluster = true
	}
	if !changed("qps") {
		if f, ok := parseFloat32Env(os.Getenv("KUBEFS_QPS"), "KUBEFS_QPS"); ok {
			config.QPS = f
		}
	}
	if !changed("burst") {
		if n, ok := parseIntEnv(os.Getenv("KUBEFS_BURST"), "KUBEFS_BURST"); ok {
			config.Burst = n
		}
	}
	if !changed("timeout") {
		if d, ok := parseDurationEnv(os.Getenv("KUBEFS_TIMEOUT"), "KUBEFS_TIMEOUT"); ok {
			config.Timeout = d
		}
	}
	if !changed("fetch-retries") {
		if n, ok := parseIntEnv(os.Getenv("KUBEFS_FETCH_RETRIES"), "KUBEFS_FETCH_RETRIES"); ok {
			config.FetchRetries = n
		}
	}
	if !changed("entry-timeout") {
		if d, ok := parseDurationEnv(os.Getenv("KUBEFS_ENTRY_TIMEOUT"), "KUBEFS_ENTRY_TIMEOUT"); ok {
			config.EntryTimeout = d
		}
	}
	if !changed("attr-timeout") {
		if d, ok := parseDurationEnv(os.Getenv("KUBEFS_ATTR_TIMEOUT"), "KUBEFS_ATTR_TIMEOUT"); ok {
			config.AttrTimeout = d
		}
	}
	if !changed("allow-other") && os.Getenv("KUBEFS_ALLOW_OTHER") == envValueTrue {
		config.AllowOther = true
	}
	if !changed("metrics-addr") {
		if v := os.Getenv("KUBEFS_METRICS_ADDR"); v != "" {
			config.MetricsAddr = v
		}
	}
	if !changed("log-level") {
		if v := os.Getenv("KUBEFS_LOG_LEVEL"); v != "" {
			config.LogLevel = v
		}
	}
	if !changed("log-format") {
		if v := os.Getenv("KUBEFS_LOG_FORMAT"); v != "" {
			config.LogFormat = v
		}
	}
}

// parseDurationEnv parses a duration from an environment variable value.
// Returns the parsed duration and true if successful, or zero and false if parsing fails.
// Logs a warning if the value is present but invalid.
func parseDurationEnv(value, envName string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("ignoring invalid duration", "env", envName, "value", value, logging.Err(err))
		return 0, false
	}
	return d, true
}

// parseIntEnv parses an integer from an environment variable value.
func parseIntEnv(value, envName string) (int, bool) {
	if value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("ignoring invalid integer", "env", envName, "value", value, logging.Err(err))
		return 0, false
	}
	return n, true
}

// parseFloat32Env parses a float32 from an environment variable value.
func parseFloat32Env(value, envName string) (float32, bool) {
	if value == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		slog.Warn("ignoring invalid float", "env", envName, "value", value, logging.Err(err))
		return 0, false
	}
	return float32(f), true
}
