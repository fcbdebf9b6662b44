package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LogOutputAuto selects the per-OS default log file.
const LogOutputAuto = "auto"

// Config holds all application configuration.
type Config struct {
	DryRun  bool          `mapstructure:"dry_run"`
	Backup  BackupConfig  `mapstructure:"backup"`
	SSH     SSHConfig     `mapstructure:"ssh"`
	Restore RestoreConfig `mapstructure:"restore"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Apprise AppriseConfig `mapstructure:"apprise"`
	Log     LogConfig     `mapstructure:"log"`
}

// BackupConfig holds archive destination and scheduling settings.
type BackupConfig struct {
	LocalDir         string `mapstructure:"local_dir"`
	Mode             string `mapstructure:"mode"`
	Workers          int    `mapstructure:"workers"`
	MinFreeMB        int    `mapstructure:"min_free_mb"`
	CompressionLevel int    `mapstructure:"compression_level"`
}

// SSHConfig holds remote execution settings.
type SSHConfig struct {
	User                  string        `mapstructure:"user"`
	Port                  int           `mapstructure:"port"`
	IdentityFiles         []string      `mapstructure:"identity_files"`
	KnownHosts            []string      `mapstructure:"known_hosts"`
	InsecureIgnoreHostKey bool          `mapstructure:"insecure_ignore_host_key"`
	UseAgent              bool          `mapstructure:"use_agent"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout        time.Duration `mapstructure:"command_timeout"`
	Sudo                  bool          `mapstructure:"sudo"`
}

// RestoreConfig holds restore settings.
type RestoreConfig struct {
	RemoteTmpDir string `mapstructure:"remote_tmp_dir"`
}

// CatalogConfig points at an optional role catalog file that extends the
// built-in roles.
type CatalogConfig struct {
	File string `mapstructure:"file"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
}

// RetryConfig holds HTTP retry configuration.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// AppriseConfig holds Apprise notification configuration.
type AppriseConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	URL     string      `mapstructure:"url"`
	Key     string      `mapstructure:"key"`
	Notify  NotifyLevel `mapstructure:"notify"`
	Tag     string      `mapstructure:"tag"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configPath string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// WithConfigPath sets a specific config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// Load reads configuration from all sources and returns the merged config.
// Precedence (highest to lowest): CLI flags > environment > config file > defaults.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()
	l.setupEnvBindings()

	if err := l.loadConfigFile(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Log.Output == LogOutputAuto {
		logPath, err := DefaultLogPath()
		if err != nil {
			return nil, fmt.Errorf("failed to determine log path: %w", err)
		}
		cfg.Log.Output = logPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	l.v.SetDefault("dry_run", false)

	l.v.SetDefault("backup.local_dir", DefaultBackupLocalDir)
	l.v.SetDefault("backup.mode", DefaultBackupMode)
	l.v.SetDefault("backup.workers", DefaultBackupWorkers)
	l.v.SetDefault("backup.min_free_mb", DefaultBackupMinFreeMB)
	l.v.SetDefault("backup.compression_level", DefaultBackupCompression)

	l.v.SetDefault("ssh.user", DefaultSSHUser)
	l.v.SetDefault("ssh.port", DefaultSSHPort)
	l.v.SetDefault("ssh.identity_files", []string{})
	l.v.SetDefault("ssh.known_hosts", []string{})
	l.v.SetDefault("ssh.insecure_ignore_host_key", false)
	l.v.SetDefault("ssh.use_agent", DefaultSSHUseAgent)
	l.v.SetDefault("ssh.connect_timeout", DefaultSSHConnectTimeout)
	l.v.SetDefault("ssh.command_timeout", DefaultSSHCommandTimeout)
	l.v.SetDefault("ssh.sudo", false)

	l.v.SetDefault("restore.remote_tmp_dir", DefaultRestoreRemoteTmpDir)

	l.v.SetDefault("catalog.file", "")

	l.v.SetDefault("retry.max_attempts", DefaultRetryMaxAttempts)
	l.v.SetDefault("retry.initial_delay", DefaultRetryInitialDelay)
	l.v.SetDefault("retry.max_delay", DefaultRetryMaxDelay)

	l.v.SetDefault("metrics.enabled", DefaultMetricsEnabled)
	l.v.SetDefault("metrics.pushgateway_url", DefaultMetricsPushgatewayURL)

	l.v.SetDefault("apprise.enabled", DefaultAppriseEnabled)
	l.v.SetDefault("apprise.url", DefaultAppriseURL)
	l.v.SetDefault("apprise.key", DefaultAppriseKey)
	l.v.SetDefault("apprise.notify", string(DefaultAppriseNotify))
	l.v.SetDefault("apprise.tag", "")

	l.v.SetDefault("log.level", DefaultLogLevel)
	l.v.SetDefault("log.output", "")
	l.v.SetDefault("log.max_size_mb", DefaultLogMaxSizeMB)
}

// setupEnvBindings configures environment variable bindings.
func (l *Loader) setupEnvBindings() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

// loadConfigFile loads configuration from a file.
func (l *Loader) loadConfigFile() error {
	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("toml")
		for _, dir := range ConfigSearchPaths() {
			l.v.AddConfigPath(dir)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// Set sets a configuration value (for CLI flag overrides).
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// ConfigFileUsed returns the path of the config file used, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Backup.LocalDir == "" {
		return fmt.Errorf("backup.local_dir is required")
	}

	switch c.Backup.Mode {
	case "service", "role-agg", "system-full":
	default:
		return fmt.Errorf("backup.mode must be one of: service, role-agg, system-full")
	}

	if c.Backup.Workers < 1 {
		return fmt.Errorf("backup.workers must be at least 1")
	}

	if c.Backup.MinFreeMB < 0 {
		return fmt.Errorf("backup.min_free_mb cannot be negative")
	}

	if c.Backup.CompressionLevel < -1 || c.Backup.CompressionLevel > 9 {
		return fmt.Errorf("backup.compression_level must be between -1 and 9")
	}

	if c.SSH.Port < 1 || c.SSH.Port > 65535 {
		return fmt.Errorf("ssh.port must be between 1 and 65535")
	}

	if c.SSH.ConnectTimeout <= 0 {
		return fmt.Errorf("ssh.connect_timeout must be positive")
	}

	if c.SSH.CommandTimeout <= 0 {
		return fmt.Errorf("ssh.command_timeout must be positive")
	}

	if !strings.HasPrefix(c.Restore.RemoteTmpDir, "/") {
		return fmt.Errorf("restore.remote_tmp_dir must be an absolute path")
	}

	if c.Catalog.File != "" {
		if _, err := os.Stat(c.Catalog.File); err != nil {
			return fmt.Errorf("catalog.file does not exist: %s", c.Catalog.File)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.PushgatewayURL == "" {
			return fmt.Errorf("metrics.pushgateway_url is required when metrics is enabled")
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}

	if c.Retry.InitialDelay < 0 {
		return fmt.Errorf("retry.initial_delay cannot be negative")
	}

	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay must be >= retry.initial_delay")
	}

	if c.Apprise.Enabled {
		if c.Apprise.URL == "" {
			return fmt.Errorf("apprise.url is required when apprise is enabled")
		}
		if c.Apprise.Key == "" {
			return fmt.Errorf("apprise.key is required when apprise is enabled")
		}
		if !c.Apprise.Notify.IsValid() {
			return fmt.Errorf("apprise.notify must be one of: error, warning, always")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	if c.Log.MaxSizeMB < 1 {
		return fmt.Errorf("log.max_size_mb must be at least 1")
	}

	return nil
}

// MinFreeBytes returns backup.min_free_mb in bytes.
func (c *Config) MinFreeBytes() uint64 {
	if c.Backup.MinFreeMB <= 0 {
		return 0
	}
	return uint64(c.Backup.MinFreeMB) << 20
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// WriteExampleConfig writes an example config file to the given path.
func WriteExampleConfig(path string) error {
	content := `# fleet-backup configuration

[backup]
# Archives are written to <local_dir>/<hostname>/
local_dir = "./backups"
# Default mode for "backup csv": service, role-agg, system-full
mode = "service"
# Hosts backed up in parallel; jobs of one host always run in order
workers = 1
# Refuse to start an archive with less free space than this
min_free_mb = 1024
# gzip level, -1 for the default
compression_level = -1

[ssh]
user = "root"
port = 22
# Defaults to ~/.ssh/id_ed25519, id_ecdsa and id_rsa when empty
identity_files = []
# Defaults to ~/.ssh/known_hosts when empty
known_hosts = []
insecure_ignore_host_key = false
use_agent = true
connect_timeout = "10s"
command_timeout = "2h"
# Run remote commands through "sudo -n"
sudo = false

[restore]
# Where archives are staged on the target host
remote_tmp_dir = "/tmp"

[catalog]
# Optional YAML file adding or overriding roles
# file = "/etc/fleet-backup/roles.yaml"

# HTTP retry configuration
[retry]
max_attempts = 3
initial_delay = "5s"
max_delay = "30s"

# Prometheus metrics (optional, disabled by default)
[metrics]
enabled = false
pushgateway_url = "http://pushgateway:9091"

# Apprise notifications (optional, disabled by default)
[apprise]
enabled = false
url = "http://localhost:8000"
key = "fleet-backup"
# Notification level: "error", "warning", "always"
notify = "error"
# Only notify Apprise URLs carrying this tag (optional)
# tag = "hpc"

# Logging configuration
[log]
# Level: debug, info, warn, error
level = "info"
# Log file path in addition to stderr; "auto" uses the per-OS state directory
# output = "auto"
# Max log file size before rotation (MB)
max_size_mb = 10
`
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(content), 0600)
}
