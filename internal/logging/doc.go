// Package logging provides structured logging utilities for kubefs.
//
// It centralizes attribute naming so that FUSE request logs, fetch logs and
// lifecycle logs share keys, and it builds the process logger from the
// --log-level and --log-format settings.
//
// # Usage Patterns
//
//	logger := logging.WithMountpoint(slog.Default(), "/mnt/cluster")
//	logger.Debug("lookup",
//	    logging.Inode(parent),
//	    logging.ResourceName("web-1"))
//
// # Security Considerations
//
// Errors from the API server can carry its address. Log them with
// SanitizedErr, which redacts IPv4 and IPv6 addresses while keeping
// hostnames for debugging.
package logging
