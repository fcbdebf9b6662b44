package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sharkusmanch/fleet-backup/internal/app"
	"github.com/sharkusmanch/fleet-backup/internal/config"
	"github.com/sharkusmanch/fleet-backup/internal/domain"
	"github.com/sharkusmanch/fleet-backup/internal/planner"
	"github.com/sharkusmanch/fleet-backup/internal/registry"
)

var (
	backupMode     string
	backupLocalDir string
	backupRoles    []string
	customHost     string
	customPaths    []string
)

// NewBackupCmd creates the backup command.
func NewBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create archives from the registry or an explicit path list",
	}

	cmd.PersistentFlags().StringVar(&backupLocalDir, "local-dir", "", "archive destination (default from config, ./backups)")

	cmd.AddCommand(newBackupCSVCmd())
	cmd.AddCommand(newBackupCustomCmd())

	return cmd
}

func newBackupCSVCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "csv <registry.csv>",
		Short: "Back up every host in a registry CSV",
		Long: `Back up every host listed in a registry CSV with Hostname and Type columns.
Type holds the host's roles separated by semicolons.

Modes:
  service      one archive per host and role
  role-agg     one archive per host holding all of its roles
  system-full  a whole-filesystem archive for hosts carrying the system-full role`,
		Args: cobra.ExactArgs(1),
		RunE: runBackupCSV,
	}

	cmd.Flags().StringVar(&backupMode, "mode", "", "backup mode: service, role-agg or system-full (default from config)")
	cmd.Flags().StringSliceVar(&backupRoles, "role", nil, "only back up these roles (repeatable)")

	return cmd
}

func newBackupCustomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "custom",
		Short: "Archive an explicit list of paths from one host",
		Args:  cobra.NoArgs,
		RunE:  runBackupCustom,
	}

	cmd.Flags().StringVar(&customHost, "hostname", "", "target host")
	cmd.Flags().StringArrayVar(&customPaths, "path", nil, "absolute path to archive (repeatable)")
	_ = cmd.MarkFlagRequired("hostname")
	_ = cmd.MarkFlagRequired("path")

	return cmd
}

func runBackupCSV(cmd *cobra.Command, args []string) error {
	cfg, logger, err := backupSetup()
	if err != nil {
		return err
	}

	modeName := cfg.Backup.Mode
	if backupMode != "" {
		modeName = backupMode
	}
	mode, err := domain.ParseMode(modeName)
	if err != nil {
		return err
	}
	if mode == domain.ModeCustom {
		return fmt.Errorf("custom mode takes an explicit path list, use \"backup custom\"")
	}

	hosts, err := registry.Load(args[0])
	if err != nil {
		return err
	}

	filter := make([]domain.Role, 0, len(backupRoles))
	for _, r := range backupRoles {
		filter = append(filter, domain.NormalizeRole(r))
	}

	runner, closeTransport, err := newRunner(cfg, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	result, runErr := runner.Run(ctx, hosts, mode, planner.NewFilter(filter...))
	printRunResult(cmd.OutOrStdout(), result)

	return runOutcome(result, runErr)
}

func runBackupCustom(cmd *cobra.Command, args []string) error {
	cfg, logger, err := backupSetup()
	if err != nil {
		return err
	}

	runner, closeTransport, err := newRunner(cfg, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	result, runErr := runner.RunCustom(ctx, customHost, customPaths)
	printRunResult(cmd.OutOrStdout(), result)

	return runOutcome(result, runErr)
}

func backupSetup() (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if backupLocalDir != "" {
		cfg.Backup.LocalDir = backupLocalDir
	}

	logger, err := setupLogging(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	return cfg, logger, nil
}

// newRunner wires the backup path. The returned func closes cached SSH connections.
func newRunner(cfg *config.Config, logger *slog.Logger) (*app.Runner, func(), error) {
	c, err := loadCatalog(cfg)
	if err != nil {
		return nil, nil, err
	}

	httpClient := newHTTPClient(cfg, logger)
	transport := newTransport(cfg, logger)

	runnerOpts := []app.RunnerOption{
		app.WithLogger(logger),
		app.WithNotifier(newNotifier(cfg, httpClient, logger)),
	}
	if pusher := newMetricsPusher(cfg, httpClient, logger); pusher != nil {
		runnerOpts = append(runnerOpts, app.WithMetricsPusher(pusher))
	}

	runner := app.NewRunner(cfg,
		planner.New(c, cfg.Backup.LocalDir),
		newBuilder(cfg, transport, c, logger),
		runnerOpts...,
	)

	closeTransport := func() {
		if err := transport.Close(); err != nil {
			logger.Debug("failed to close transport", "error", err)
		}
	}
	return runner, closeTransport, nil
}

// runOutcome maps a finished run to the process exit status.
func runOutcome(result *domain.RunResult, runErr error) error {
	if runErr != nil {
		return fmt.Errorf("backup interrupted: %w", runErr)
	}
	if !result.Success {
		return fmt.Errorf("backup completed with %d failed jobs", len(result.Failed()))
	}
	return nil
}
