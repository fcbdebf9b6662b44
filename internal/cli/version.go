package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sharkusmanch/fleet-backup/pkg/version"
)

var (
	versionJSON  bool
	versionShort bool
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display detailed version and build information.`,
		Args:  cobra.NoArgs,
		RunE:  runVersion,
	}

	cmd.Flags().BoolVar(&versionJSON, "json", false, "output in JSON format")
	cmd.Flags().BoolVar(&versionShort, "short", false, "print only the version number")

	return cmd
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := version.Get()
	out := cmd.OutOrStdout()

	switch {
	case versionJSON:
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal version info: %w", err)
		}
		fmt.Fprintln(out, string(data))
	case versionShort:
		fmt.Fprintln(out, info.Short())
	default:
		fmt.Fprintln(out, info.String())
	}

	return nil
}
