package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// printRunResult writes one line per job followed by a summary.
func printRunResult(w io.Writer, result *domain.RunResult) {
	if result == nil {
		return
	}

	for _, j := range result.Jobs {
		switch j.Status {
		case domain.JobSucceeded:
			path := ""
			if j.Archive != nil {
				path = j.Archive.Path
			}
			fmt.Fprintf(w, "  ✓ %s/%s: %s\n", j.Host, j.Target, path)
			for _, warning := range j.Warnings {
				fmt.Fprintf(w, "      warning: %s\n", warning)
			}
		case domain.JobSkipped:
			fmt.Fprintf(w, "  - %s/%s (dry run)\n", j.Host, j.Target)
			for _, c := range j.Commands {
				fmt.Fprintf(w, "      $ %s\n", c)
			}
		default:
			fmt.Fprintf(w, "  ✗ %s/%s [%s]: %s\n", j.Host, j.Target, j.Kind, j.Error)
		}
	}

	for _, e := range result.Errors {
		fmt.Fprintf(w, "  ✗ %s\n", e)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run %s (%s): %d succeeded, %d failed in %s\n",
		result.ID, result.Mode, result.Succeeded(), len(result.Failed()), result.Duration.Round(time.Second))
}

// printRestoreResult writes the state history and the per-role outcome.
func printRestoreResult(w io.Writer, result *domain.RestoreResult) {
	if result == nil {
		return
	}

	history := make([]string, len(result.History))
	for i, s := range result.History {
		history[i] = string(s)
	}
	fmt.Fprintf(w, "Restore %s on %s: %s\n", result.ArchivePath, result.Host, strings.Join(history, " -> "))

	if result.Error != "" {
		fmt.Fprintf(w, "  ✗ [%s] %s\n", result.Kind, result.Error)
	}
	for _, rr := range result.Roles {
		if rr.Success {
			fmt.Fprintf(w, "  ✓ %s: %d entries\n", rr.Role, rr.Entries)
		} else {
			fmt.Fprintf(w, "  ✗ %s [%s]: %s\n", rr.Role, rr.Kind, rr.Error)
		}
	}
}
