package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/kubefs/internal/instrumentation"
	"github.com/giantswarm/kubefs/internal/k8s"
	"github.com/giantswarm/kubefs/internal/kubefs"
	"github.com/giantswarm/kubefs/internal/logging"
	"github.com/giantswarm/kubefs/internal/server"
	"github.com/giantswarm/kubefs/internal/tree"
)

// shutdownTimeout bounds flushing telemetry and stopping the metrics server.
const shutdownTimeout = 5 * time.Second

// mountFlagSetters copies an explicitly set flag from the flag-bound config
// into the resolved config.
var mountFlagSetters = map[string]func(dst *MountConfig, src MountConfig){
	"kubeconfig":       func(d *MountConfig, s MountConfig) { d.Kubeconfig = s.Kubeconfig },
	"context":          func(d *MountConfig, s MountConfig) { d.Context = s.Context },
	"in-cluster":       func(d *MountConfig, s MountConfig) { d.InCluster = s.InCluster },
	"qps":              func(d *MountConfig, s MountConfig) { d.QPS = s.QPS },
	"burst":            func(d *MountConfig, s MountConfig) { d.Burst = s.Burst },
	"timeout":          func(d *MountConfig, s MountConfig) { d.Timeout = s.Timeout },
	"fetch-retries":    func(d *MountConfig, s MountConfig) { d.FetchRetries = s.FetchRetries },
	"entry-timeout":    func(d *MountConfig, s MountConfig) { d.EntryTimeout = s.EntryTimeout },
	"attr-timeout":     func(d *MountConfig, s MountConfig) { d.AttrTimeout = s.AttrTimeout },
	"negative-timeout": func(d *MountConfig, s MountConfig) { d.NegativeTimeout = s.NegativeTimeout },
	"allow-other":      func(d *MountConfig, s MountConfig) { d.AllowOther = s.AllowOther },
	"auto-unmount":     func(d *MountConfig, s MountConfig) { d.AutoUnmount = s.AutoUnmount },
	"fuse-debug":       func(d *MountConfig, s MountConfig) { d.Debug = s.Debug },
	"metrics-addr":     func(d *MountConfig, s MountConfig) { d.MetricsAddr = s.MetricsAddr },
	"log-level":        func(d *MountConfig, s MountConfig) { d.LogLevel = s.LogLevel },
	"log-format":       func(d *MountConfig, s MountConfig) { d.LogFormat = s.LogFormat },
}

// newMountCmd creates the Cobra command that mounts the cluster.
func newMountCmd() *cobra.Command {
	var (
		configPath string
		flags      = DefaultMountConfig()
	)

	cmd := &cobra.Command{
		Use:   "mount [mountpoint]",
		Short: "Mount the cluster as a read-only filesystem",
		Long: `Mount the current Kubernetes cluster at the given directory.

The mount root lists one directory per namespace. Listing a namespace
directory lists its pods once; the result is cached until unmount. The
filesystem is read-only: writes, renames and deletions are refused.

Authentication modes:
  - Kubeconfig (default): $KUBECONFIG or ~/.kube/config, current context
    unless --context is given
  - In-cluster: the pod's service account (--in-cluster)

The filesystem is unmounted on SIGINT or SIGTERM.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := resolveMountConfig(cmd, args, configPath, flags)
			if err != nil {
				return err
			}
			if err := config.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runMount(cmd.Context(), config)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML file with mount settings (can also be set via KUBEFS_CONFIG env var)")

	cmd.Flags().StringVar(&flags.Kubeconfig, "kubeconfig", "", "Path to the kubeconfig file (default: $KUBECONFIG or ~/.kube/config)")
	cmd.Flags().StringVar(&flags.Context, "context", "", "Kubeconfig context to use (default: current context)")
	cmd.Flags().BoolVar(&flags.InCluster, "in-cluster", false, "Use in-cluster authentication (service account token) instead of kubeconfig")
	cmd.Flags().Float32Var(&flags.QPS, "qps", flags.QPS, "QPS limit for Kubernetes API calls")
	cmd.Flags().IntVar(&flags.Burst, "burst", flags.Burst, "Burst limit for Kubernetes API calls")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", flags.Timeout, "Timeout for a single Kubernetes list call")
	cmd.Flags().IntVar(&flags.FetchRetries, "fetch-retries", flags.FetchRetries, "Retries for transient Kubernetes API failures (0 disables)")

	cmd.Flags().DurationVar(&flags.EntryTimeout, "entry-timeout", flags.EntryTimeout, "How long the kernel may cache name lookups")
	cmd.Flags().DurationVar(&flags.AttrTimeout, "attr-timeout", flags.AttrTimeout, "How long the kernel may cache file attributes")
	cmd.Flags().DurationVar(&flags.NegativeTimeout, "negative-timeout", flags.NegativeTimeout, "How long the kernel may cache failed lookups (0 disables)")

	cmd.Flags().BoolVar(&flags.AllowOther, "allow-other", false, "Allow other users to access the mount (requires user_allow_other in /etc/fuse.conf)")
	cmd.Flags().BoolVar(&flags.AutoUnmount, "auto-unmount", flags.AutoUnmount, "Unmount automatically when the process exits")
	cmd.Flags().BoolVar(&flags.Debug, "fuse-debug", false, "Log every FUSE request and reply")

	cmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "Address for the health and metrics server, e.g. :9090 (disabled when empty)")
	cmd.Flags().StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "Log level: debug, info, warn or error (can also be set via KUBEFS_LOG_LEVEL env var)")
	cmd.Flags().StringVar(&flags.LogFormat, "log-format", flags.LogFormat, "Log format: text or json (can also be set via KUBEFS_LOG_FORMAT env var)")

	return cmd
}

// resolveMountConfig layers defaults, the config file, environment variables
// and explicitly set flags, in that order. A positional mountpoint wins over
// all of them.
func resolveMountConfig(cmd *cobra.Command, args []string, configPath string, flags MountConfig) (MountConfig, error) {
	config := DefaultMountConfig()

	if configPath == "" && !cmd.Flags().Changed("config") {
		configPath = os.Getenv("KUBEFS_CONFIG")
	}
	if configPath != "" {
		if err := loadMountConfigFile(configPath, &config); err != nil {
			return MountConfig{}, err
		}
	}

	loadMountEnvVars(cmd, &config)
	if v := os.Getenv("KUBEFS_MOUNTPOINT"); v != "" {
		config.Mountpoint = v
	}

	for name, set := range mountFlagSetters {
		if cmd.Flags().Changed(name) {
			set(&config, flags)
		}
	}

	if len(args) > 0 {
		config.Mountpoint = args[0]
	}
	return config, nil
}

// runMount loads the namespace list, mounts the filesystem and serves it
// until the kernel unmounts it or a termination signal arrives.
func runMount(ctx context.Context, config MountConfig) error {
	logger, err := logging.New(logging.Config{Level: config.LogLevel, Format: config.LogFormat})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	// Setup graceful shutdown - listen for both SIGINT and SIGTERM
	shutdownCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	instrumentationConfig := instrumentation.DefaultConfig()
	instrumentationConfig.ServiceVersion = rootCmd.Version
	provider, err := instrumentation.NewProvider(shutdownCtx, instrumentationConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer flushCancel()
		if err := provider.Shutdown(flushCtx); err != nil {
			logger.Warn("failed to shut down instrumentation", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	k8sConfig := &k8s.ClientConfig{
		KubeconfigPath: config.Kubeconfig,
		Context:        config.Context,
		InCluster:      config.InCluster,
		QPSLimit:       config.QPS,
		BurstLimit:     config.Burst,
		Timeout:        config.Timeout,
		DebugMode:      config.LogLevel == "debug",
		Logger:         logging.NewSlogAdapter(logger),
	}

	var fetcher k8s.Fetcher = k8s.NewClientFetcher(
		k8s.ClientsetFactory(k8sConfig),
		k8s.WithTimeout(config.Timeout),
		k8s.WithFetcherLogger(logger),
	)
	fetcher = k8s.NewRetryingFetcher(fetcher, config.FetchRetries, logger)
	fetcher = k8s.NewInstrumentedFetcher(fetcher, metrics, logger)

	store := tree.New(fetcher,
		tree.WithLogger(logger),
		tree.WithPopulateHook(metrics.RecordNamespacePopulated),
	)

	health := server.NewHealthChecker(server.HealthOptions{
		Version:    rootCmd.Version,
		Mountpoint: config.Mountpoint,
		Tree:       store,
		Provider:   provider,
	})
	if config.MetricsAddr != "" {
		stop, err := startMetricsServer(config.MetricsAddr, health, provider, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	if err := initializeTree(shutdownCtx, store, logger, k8sConfig.ContextName(), config.Mountpoint); err != nil {
		return err
	}

	fs := kubefs.New(store, kubefs.Options{
		EntryTimeout:    config.EntryTimeout,
		AttrTimeout:     config.AttrTimeout,
		NegativeTimeout: config.NegativeTimeout,
		Logger:          logger,
		Recorder:        metrics,
	})
	fuseServer, err := kubefs.Mount(fs, kubefs.MountOptions{
		Mountpoint:  config.Mountpoint,
		AllowOther:  config.AllowOther,
		AutoUnmount: config.AutoUnmount,
		Debug:       config.Debug,
	})
	if err != nil {
		return err
	}
	health.SetMounted(true)

	unmounted := make(chan struct{})
	go func() {
		select {
		case <-shutdownCtx.Done():
			health.SetShuttingDown()
			logger.Info("unmounting filesystem", logging.Mountpoint(config.Mountpoint))
			if err := fuseServer.Unmount(); err != nil {
				logger.Error("failed to unmount filesystem", logging.Mountpoint(config.Mountpoint), logging.Err(err))
			}
		case <-unmounted:
		}
	}()

	fuseServer.Wait()
	close(unmounted)
	health.SetMounted(false)
	logger.Info("filesystem unmounted", logging.Mountpoint(config.Mountpoint))
	return nil
}

// initializeTree lists the namespaces once. Failure is fatal: without a
// namespace list there is nothing to mount.
func initializeTree(ctx context.Context, store *tree.Store, logger *slog.Logger, kubeContext, mountpoint string) error {
	ctx, span := instrumentation.StartSpan(ctx, "kubefs.Initialize",
		attribute.String(instrumentation.SpanAttrMountpoint, mountpoint))
	defer span.End()

	start := time.Now()
	if err := store.Initialize(ctx); err != nil {
		instrumentation.SetSpanError(span, err)
		return fmt.Errorf("failed to load namespaces: %w", err)
	}
	stats := store.Stats()
	span.SetAttributes(attribute.Int(instrumentation.SpanAttrItemCount, stats.Namespaces))
	instrumentation.SetSpanSuccess(span)

	logger.Info("namespaces loaded",
		logging.KubeContext(kubeContext),
		slog.Int("namespaces", stats.Namespaces),
		logging.Duration(time.Since(start)))
	return nil
}

// startMetricsServer serves health and metrics in the background. The
// returned function stops the server.
func startMetricsServer(addr string, health *server.HealthChecker, provider *instrumentation.Provider, logger *slog.Logger) (func(), error) {
	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    addr,
		Health:                  health,
		InstrumentationProvider: provider,
		Logger:                  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.Error("metrics server failed", logging.Err(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Warn("failed to shut down metrics server", logging.Err(err))
		}
	}, nil
}
