package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var rolesVerbose bool

// NewRolesCmd creates the roles command.
func NewRolesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "List the roles known to the catalog",
		Long: `List every role tag that may appear in the registry Type column, with the
built-in roles extended by catalog.file.`,
		Args: cobra.NoArgs,
		RunE: runRoles,
	}

	cmd.Flags().BoolVarP(&rolesVerbose, "verbose", "v", false, "show paths and dump commands")

	return cmd
}

func runRoles(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	c, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, r := range c.Roles() {
		action, _ := c.Lookup(r)
		fmt.Fprintf(w, "%-20s %s\n", r, action.DisplayName())
		if !rolesVerbose {
			continue
		}
		if len(action.Paths) > 0 {
			fmt.Fprintf(w, "  paths:   %s\n", strings.Join(action.Paths, " "))
		}
		if len(action.Exclude) > 0 {
			fmt.Fprintf(w, "  exclude: %s\n", strings.Join(action.Exclude, " "))
		}
		if action.Dump != nil {
			kind := "fatal"
			if action.Dump.Advisory {
				kind = "advisory"
			}
			fmt.Fprintf(w, "  dump:    %s (%s)\n", action.Dump.Command, kind)
		}
	}

	return nil
}
