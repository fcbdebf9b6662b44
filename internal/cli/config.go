package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sharkusmanch/fleet-backup/internal/config"
)

var configForce bool

// NewConfigCmd creates the config command.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write an example configuration file",
		Long: `Write a commented example configuration file. Without a path the file is
created in the default config directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runConfigInit,
	}
	initCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)

	return cmd
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	} else {
		dir, err := config.EnsureConfigDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, config.ConfigFileName)
	}

	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.WriteExampleConfig(path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
