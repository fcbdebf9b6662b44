package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyLevel_IsValid(t *testing.T) {
	tests := []struct {
		level NotifyLevel
		want  bool
	}{
		{NotifyError, true},
		{NotifyWarning, true},
		{NotifyAlways, true},
		{NotifyLevel("invalid"), false},
		{NotifyLevel(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.IsValid())
		})
	}
}

func TestNotifyLevel_Thresholds(t *testing.T) {
	assert.False(t, NotifyError.Warnings())
	assert.False(t, NotifyError.Successes())
	assert.True(t, NotifyWarning.Warnings())
	assert.False(t, NotifyWarning.Successes())
	assert.True(t, NotifyAlways.Warnings())
	assert.True(t, NotifyAlways.Successes())
}

func TestConfig_Validate(t *testing.T) {
	validConfig := func() *Config {
		return &Config{
			Backup: BackupConfig{
				LocalDir:         "/backups/daily",
				Mode:             "service",
				Workers:          1,
				MinFreeMB:        1024,
				CompressionLevel: -1,
			},
			SSH: SSHConfig{
				User:           "root",
				Port:           22,
				ConnectTimeout: 10 * time.Second,
				CommandTimeout: time.Hour,
			},
			Restore: RestoreConfig{RemoteTmpDir: "/tmp"},
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 5 * time.Second,
				MaxDelay:     30 * time.Second,
			},
			Metrics: MetricsConfig{
				Enabled:        true,
				PushgatewayURL: "http://pushgateway:9091",
			},
			Apprise: AppriseConfig{
				Enabled: true,
				URL:     "http://localhost:8000",
				Key:     "fleet-backup",
				Notify:  NotifyError,
			},
			Log: LogConfig{
				Level:     "info",
				MaxSizeMB: 10,
			},
		}
	}

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"empty local dir", func(c *Config) { c.Backup.LocalDir = "" }, "backup.local_dir is required"},
		{"unknown mode", func(c *Config) { c.Backup.Mode = "custom" }, "backup.mode must be one of"},
		{"zero workers", func(c *Config) { c.Backup.Workers = 0 }, "backup.workers must be at least 1"},
		{"negative min free", func(c *Config) { c.Backup.MinFreeMB = -1 }, "backup.min_free_mb cannot be negative"},
		{"compression out of range", func(c *Config) { c.Backup.CompressionLevel = 10 }, "backup.compression_level"},
		{"bad port", func(c *Config) { c.SSH.Port = 0 }, "ssh.port"},
		{"zero connect timeout", func(c *Config) { c.SSH.ConnectTimeout = 0 }, "ssh.connect_timeout"},
		{"zero command timeout", func(c *Config) { c.SSH.CommandTimeout = 0 }, "ssh.command_timeout"},
		{"relative staging dir", func(c *Config) { c.Restore.RemoteTmpDir = "tmp" }, "restore.remote_tmp_dir"},
		{"missing catalog file", func(c *Config) { c.Catalog.File = "/non/existent/roles.yaml" }, "catalog.file does not exist"},
		{"empty pushgateway URL when metrics enabled", func(c *Config) { c.Metrics.PushgatewayURL = "" }, "metrics.pushgateway_url is required when metrics is enabled"},
		{"retry max_attempts less than 1", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts must be at least 1"},
		{"retry max_delay less than initial_delay", func(c *Config) { c.Retry.MaxDelay = time.Second }, "retry.max_delay must be >= retry.initial_delay"},
		{"apprise enabled without URL", func(c *Config) { c.Apprise.URL = "" }, "apprise.url is required"},
		{"apprise enabled without key", func(c *Config) { c.Apprise.Key = "" }, "apprise.key is required"},
		{"invalid apprise notify level", func(c *Config) { c.Apprise.Notify = "invalid" }, "apprise.notify must be one of"},
		{"invalid log level", func(c *Config) { c.Log.Level = "invalid" }, "log.level must be one of"},
		{"log max_size_mb less than 1", func(c *Config) { c.Log.MaxSizeMB = 0 }, "log.max_size_mb must be at least 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	t.Run("disabled integrations skip validation", func(t *testing.T) {
		cfg := validConfig()
		cfg.Metrics = MetricsConfig{}
		cfg.Apprise = AppriseConfig{}
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoader_Load_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultBackupLocalDir, cfg.Backup.LocalDir)
	assert.Equal(t, DefaultBackupMode, cfg.Backup.Mode)
	assert.Equal(t, DefaultBackupWorkers, cfg.Backup.Workers)
	assert.Equal(t, DefaultSSHUser, cfg.SSH.User)
	assert.Equal(t, DefaultSSHPort, cfg.SSH.Port)
	assert.Equal(t, DefaultSSHConnectTimeout, cfg.SSH.ConnectTimeout)
	assert.Equal(t, DefaultSSHCommandTimeout, cfg.SSH.CommandTimeout)
	assert.True(t, cfg.SSH.UseAgent)
	assert.Empty(t, cfg.SSH.IdentityFiles)
	assert.Equal(t, DefaultRestoreRemoteTmpDir, cfg.Restore.RemoteTmpDir)
	assert.Equal(t, DefaultMetricsEnabled, cfg.Metrics.Enabled)
	assert.Equal(t, DefaultRetryMaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, DefaultRetryInitialDelay, cfg.Retry.InitialDelay)
	assert.Equal(t, DefaultRetryMaxDelay, cfg.Retry.MaxDelay)
	assert.Equal(t, DefaultAppriseEnabled, cfg.Apprise.Enabled)
	assert.Equal(t, DefaultAppriseNotify, cfg.Apprise.Notify)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, "", cfg.Log.Output)
	assert.Equal(t, DefaultLogMaxSizeMB, cfg.Log.MaxSizeMB)
	assert.Equal(t, uint64(1024)<<20, cfg.MinFreeBytes())
}

func TestLoader_Load_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	catalogPath := filepath.Join(tmpDir, "roles.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte("roles: {}\n"), 0600))

	content := `
[backup]
local_dir = "/backups/weekly"
mode = "role-agg"
workers = 8
min_free_mb = 0

[ssh]
user = "backup"
port = 2222
identity_files = ["/etc/fleet-backup/id_ed25519"]
known_hosts = ["/etc/ssh/ssh_known_hosts"]
command_timeout = "30m"
sudo = true

[restore]
remote_tmp_dir = "/var/tmp"

[catalog]
file = "` + filepath.ToSlash(catalogPath) + `"

[retry]
max_attempts = 5
initial_delay = "10s"
max_delay = "60s"

[metrics]
enabled = true
pushgateway_url = "http://custom-pushgateway:9091"

[apprise]
enabled = false
url = "http://apprise:8000"
key = "test"
notify = "always"

[log]
level = "debug"
max_size_mb = 20
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	loader := NewLoader().WithConfigPath(configPath)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, configPath, loader.ConfigFileUsed())
	assert.Equal(t, "/backups/weekly", cfg.Backup.LocalDir)
	assert.Equal(t, "role-agg", cfg.Backup.Mode)
	assert.Equal(t, 8, cfg.Backup.Workers)
	assert.Zero(t, cfg.MinFreeBytes())
	assert.Equal(t, "backup", cfg.SSH.User)
	assert.Equal(t, 2222, cfg.SSH.Port)
	assert.Equal(t, []string{"/etc/fleet-backup/id_ed25519"}, cfg.SSH.IdentityFiles)
	assert.Equal(t, []string{"/etc/ssh/ssh_known_hosts"}, cfg.SSH.KnownHosts)
	assert.Equal(t, 30*time.Minute, cfg.SSH.CommandTimeout)
	assert.True(t, cfg.SSH.Sudo)
	assert.Equal(t, "/var/tmp", cfg.Restore.RemoteTmpDir)
	assert.Equal(t, filepath.ToSlash(catalogPath), cfg.Catalog.File)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "http://custom-pushgateway:9091", cfg.Metrics.PushgatewayURL)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 60*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, NotifyAlways, cfg.Apprise.Notify)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 20, cfg.Log.MaxSizeMB)
}

func TestLoader_Load_EnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("FLEET_BACKUP_BACKUP_LOCAL_DIR", "/srv/backups")
	t.Setenv("FLEET_BACKUP_BACKUP_WORKERS", "4")
	t.Setenv("FLEET_BACKUP_SSH_USER", "svc-backup")
	t.Setenv("FLEET_BACKUP_LOG_LEVEL", "debug")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/backups", cfg.Backup.LocalDir)
	assert.Equal(t, 4, cfg.Backup.Workers)
	assert.Equal(t, "svc-backup", cfg.SSH.User)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_Set(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	loader := NewLoader()
	loader.Set("backup.local_dir", "/backups/monthly")
	loader.Set("log.level", "error")

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "/backups/monthly", cfg.Backup.LocalDir)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoader_Load_LogOutputAuto(t *testing.T) {
	state := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", state)

	loader := NewLoader()
	loader.Set("log.output", LogOutputAuto)
	cfg, err := loader.Load()
	require.NoError(t, err)

	want, err := DefaultLogPath()
	require.NoError(t, err)
	assert.Equal(t, want, cfg.Log.Output)
	assert.Contains(t, cfg.Log.Output, AppName+".log")
}

func TestWriteExampleConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.toml")

	require.NoError(t, WriteExampleConfig(configPath))

	_, err := os.Stat(configPath)
	require.NoError(t, err)

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultBackupLocalDir, cfg.Backup.LocalDir)
	assert.Equal(t, DefaultSSHCommandTimeout, cfg.SSH.CommandTimeout)
}

func TestDefaultConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/home/ops/.config")

	tests := []struct {
		name string
		uid  int
		want string
	}{
		{name: "root uses the system directory", uid: 0, want: SystemConfigDir},
		{name: "users use XDG", uid: 1000, want: filepath.Join("/home/ops/.config", AppName)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if runtime.GOOS == "windows" {
				t.Skip("no system config directory on windows")
			}
			withEUID(t, tt.uid)

			dir, err := DefaultConfigDir()
			require.NoError(t, err)
			assert.Equal(t, tt.want, dir)
		})
	}
}

func TestDefaultLogDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no system log directory on windows")
	}
	t.Setenv("XDG_STATE_HOME", "/home/ops/.local/state")

	withEUID(t, 0)
	dir, err := DefaultLogDir()
	require.NoError(t, err)
	assert.Equal(t, SystemLogDir, dir)

	withEUID(t, 1000)
	dir, err = DefaultLogDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/ops/.local/state", AppName), dir)
}

func TestConfigSearchPaths(t *testing.T) {
	paths := ConfigSearchPaths()

	require.NotEmpty(t, paths)
	assert.Equal(t, ".", paths[len(paths)-1])
	if runtime.GOOS != "windows" {
		assert.Contains(t, paths, SystemConfigDir)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path, err := DefaultConfigPath()
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.Contains(t, path, ConfigFileName)
}

func withEUID(t *testing.T, uid int) {
	t.Helper()
	orig := geteuid
	geteuid = func() int { return uid }
	t.Cleanup(func() { geteuid = orig })
}
