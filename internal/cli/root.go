// Package cli provides the command-line interface.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sharkusmanch/fleet-backup/internal/config"
	"github.com/sharkusmanch/fleet-backup/pkg/version"
)

var (
	cfgFile  string
	dryRun   bool
	logLevel string
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fleet-backup",
		Short: "Role-based backup and restore for HPC cluster nodes",
		Long: `fleet-backup archives the configuration of cluster nodes according to the
roles each host carries in a registry CSV, and restores selected roles from an
archive after the operator confirms the target hostname.

Archives are written to <local-dir>/<hostname>/ and are never overwritten.`,
		Version: version.Get().String(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "print what would run without touching any host or file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	_ = viper.BindPFlag("dry_run", rootCmd.PersistentFlags().Lookup("dry-run"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	// Add subcommands
	rootCmd.AddCommand(NewBackupCmd())
	rootCmd.AddCommand(NewRestoreCmd())
	rootCmd.AddCommand(NewRolesCmd())
	rootCmd.AddCommand(NewValidateCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// initConfig initializes the configuration.
func initConfig() error {
	// Set up basic logging to stderr initially
	// Full logging setup happens in setupLogging after config is loaded
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	})
	slog.SetDefault(slog.New(handler))

	return nil
}

// setupLogging configures logging based on the loaded config.
func setupLogging(cfg *config.Config) (*slog.Logger, error) {
	level := parseLevel(cfg.Log.Level)

	// CLI flag overrides config
	if logLevel != "" {
		level = parseLevel(logLevel)
	}

	// Determine output destination
	var output io.Writer = os.Stderr
	if cfg.Log.Output != "" {
		// Ensure directory exists
		dir := filepath.Dir(cfg.Log.Output)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, err
		}

		// Runs are attended often enough that errors still go to the terminal.
		output = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.Output,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	handler := slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfig loads the application configuration.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()

	if cfgFile != "" {
		loader = loader.WithConfigPath(cfgFile)
	}

	// Apply CLI flag overrides
	if dryRun {
		loader.Set("dry_run", true)
	}
	if logLevel != "" {
		loader.Set("log.level", logLevel)
	}

	return loader.Load()
}

// signalContext cancels on SIGINT or SIGTERM so the in-flight job can remove
// its partial archive before the process exits.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
