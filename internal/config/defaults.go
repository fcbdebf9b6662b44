// Package config handles application configuration loading and validation.
package config

import "time"

// Default configuration values.
const (
	DefaultBackupLocalDir    = "./backups"
	DefaultBackupMode        = "service"
	DefaultBackupWorkers     = 1
	DefaultBackupMinFreeMB   = 1024
	DefaultBackupCompression = -1

	DefaultSSHUser           = "root"
	DefaultSSHPort           = 22
	DefaultSSHUseAgent       = true
	DefaultSSHConnectTimeout = 10 * time.Second
	DefaultSSHCommandTimeout = 2 * time.Hour

	DefaultRestoreRemoteTmpDir = "/tmp"

	DefaultMetricsEnabled        = false
	DefaultMetricsPushgatewayURL = ""

	DefaultRetryMaxAttempts  = 3
	DefaultRetryInitialDelay = 5 * time.Second
	DefaultRetryMaxDelay     = 30 * time.Second

	DefaultAppriseEnabled = false
	DefaultAppriseURL     = ""
	DefaultAppriseKey     = ""
	DefaultAppriseNotify  = NotifyError

	DefaultLogLevel     = "info"
	DefaultLogMaxSizeMB = 10
)

// NotifyLevel is the least severe outcome that still triggers a notification.
// Failures are always reported.
type NotifyLevel string

const (
	// NotifyError sends notifications only when a run fails.
	NotifyError NotifyLevel = "error"
	// NotifyWarning also notifies on runs that succeeded with warnings.
	NotifyWarning NotifyLevel = "warning"
	// NotifyAlways sends notifications on every run.
	NotifyAlways NotifyLevel = "always"
)

// IsValid returns true if the notify level is valid.
func (n NotifyLevel) IsValid() bool {
	switch n {
	case NotifyError, NotifyWarning, NotifyAlways:
		return true
	default:
		return false
	}
}

// Warnings reports whether runs that succeeded with warnings are notified.
func (n NotifyLevel) Warnings() bool {
	return n == NotifyWarning || n == NotifyAlways
}

// Successes reports whether clean runs are notified.
func (n NotifyLevel) Successes() bool {
	return n == NotifyAlways
}
