package cli

import (
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/sharkusmanch/fleet-backup/internal/app"
	"github.com/sharkusmanch/fleet-backup/internal/domain"
	"github.com/sharkusmanch/fleet-backup/internal/restore"
)

var (
	restoreHost     string
	restoreSource   string
	restoreTypes    []string
	restoreRoot     string
	restoreConfirm  string
	restoreOperator string
)

// NewRestoreCmd creates the restore command.
func NewRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore selected roles from an archive onto a host",
		Long: `Restore selected roles from an archive onto a host.

Files are written back to their original absolute paths and existing files are
overwritten. The archive checksum is verified first, then the operator must type
the target hostname. Use --type all (or custom, system-full) to extract the whole archive.

For unattended use pass --confirm with the hostname and --operator with your name.
--root extracts on this machine under the given directory instead of the host.`,
		Args: cobra.NoArgs,
		RunE: runRestore,
	}

	cmd.Flags().StringVar(&restoreHost, "hostname", "", "host to restore onto")
	cmd.Flags().StringVar(&restoreSource, "source-file", "", "archive to restore from")
	cmd.Flags().StringArrayVar(&restoreTypes, "type", nil, "role to restore, or \"all\" (repeatable)")
	cmd.Flags().StringVar(&restoreRoot, "root", "", "extract locally under this directory")
	cmd.Flags().StringVar(&restoreConfirm, "confirm", "", "hostname confirmation for non-interactive restores")
	cmd.Flags().StringVar(&restoreOperator, "operator", "", "name of the operator confirming the restore")
	_ = cmd.MarkFlagRequired("hostname")
	_ = cmd.MarkFlagRequired("source-file")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := setupLogging(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	selectors := make([]domain.RoleSelector, 0, len(restoreTypes))
	for _, t := range restoreTypes {
		sel, err := domain.ParseRoleSelector(t)
		if err != nil {
			return err
		}
		selectors = append(selectors, sel)
	}

	c, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	var extractor restore.Extractor
	if restoreRoot != "" {
		extractor = restore.NewLocalExtractor(restoreRoot, logger)
	} else {
		transport := newTransport(cfg, logger)
		defer func() {
			if err := transport.Close(); err != nil {
				logger.Debug("failed to close transport", "error", err)
			}
		}()
		extractor = restore.NewRemoteExtractor(transport,
			restore.WithRemoteLogger(logger),
			restore.WithStagingDir(cfg.Restore.RemoteTmpDir),
			restore.WithExtractTimeout(cfg.SSH.CommandTimeout),
		)
	}

	operator := restoreOperator
	var confirmer restore.Confirmer
	if restoreConfirm != "" {
		confirmer = restore.NewFlagConfirmer(restoreConfirm, logger)
	} else {
		confirmer = restore.NewPromptConfirmer(os.Stdin, cmd.ErrOrStderr())
		if operator == "" {
			if u, err := user.Current(); err == nil {
				operator = u.Username
			}
		}
	}

	engine := restore.NewEngine(extractor, confirmer,
		restore.WithLogger(logger),
		restore.WithCatalog(c),
	)
	restorer := app.NewRestorer(cfg, engine,
		app.WithRestoreLogger(logger),
		app.WithRestoreNotifier(newNotifier(cfg, newHTTPClient(cfg, logger), logger)),
	)

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	result, err := restorer.Restore(ctx, domain.RestoreRequest{
		Host:        restoreHost,
		ArchivePath: restoreSource,
		Selectors:   selectors,
		Operator:    operator,
		DryRun:      cfg.DryRun,
	})
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	printRestoreResult(cmd.OutOrStdout(), result)

	if !result.Success() {
		return fmt.Errorf("restore ended in state %s", result.State)
	}
	return nil
}
