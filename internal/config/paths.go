package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	// AppName is the application name used for config directories.
	AppName = "fleet-backup"
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.toml"
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "FLEET_BACKUP"

	// SystemConfigDir holds the config of a backup head run from root's cron.
	SystemConfigDir = "/etc/" + AppName
	// SystemLogDir is where root's runs log by default.
	SystemLogDir = "/var/log/" + AppName
)

// geteuid is replaced in tests.
var geteuid = os.Geteuid

// DefaultConfigDir returns the directory "config init" writes to: the system
// directory for root, the per-user one otherwise.
func DefaultConfigDir() (string, error) {
	if runtime.GOOS != "windows" && geteuid() == 0 {
		return SystemConfigDir, nil
	}
	return userConfigDir()
}

// ConfigSearchPaths lists the directories searched for config.toml, highest
// priority first.
func ConfigSearchPaths() []string {
	var dirs []string
	if dir, err := userConfigDir(); err == nil {
		dirs = append(dirs, dir)
	}
	if runtime.GOOS != "windows" {
		dirs = append(dirs, SystemConfigDir)
	}
	return append(dirs, ".")
}

func userConfigDir() (string, error) {
	// $XDG_CONFIG_HOME/fleet-backup, ~/.config/fleet-backup or %APPDATA%\fleet-backup
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" && runtime.GOOS != "windows" {
		return filepath.Join(xdgConfig, AppName), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// DefaultLogDir returns /var/log/fleet-backup for root and the XDG state
// directory otherwise.
func DefaultLogDir() (string, error) {
	if runtime.GOOS == "windows" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, AppName, "logs"), nil
	}
	if geteuid() == 0 {
		return SystemLogDir, nil
	}
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		return filepath.Join(xdgState, AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", AppName), nil
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() (string, error) {
	dir, err := DefaultLogDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName+".log"), nil
}
