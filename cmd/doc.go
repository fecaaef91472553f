// Package cmd provides the command-line interface for kubefs.
//
// Command Structure:
//
//	kubefs <mountpoint> [flags]         # Mounts the cluster (default)
//	kubefs mount <mountpoint> [flags]   # Explicitly mounts the cluster
//	kubefs version                      # Shows version information
//	kubefs self-update                  # Updates to latest release
//	kubefs help [command]               # Shows help information
//
// Mount settings are resolved from, in increasing precedence: built-in
// defaults, the YAML file given with --config, KUBEFS_* environment
// variables, and explicitly set flags.
package cmd
