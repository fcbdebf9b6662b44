package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sharkusmanch/fleet-backup/internal/config"
	"github.com/sharkusmanch/fleet-backup/internal/domain"
	"github.com/sharkusmanch/fleet-backup/internal/http"
	"github.com/sharkusmanch/fleet-backup/internal/metrics"
	"github.com/sharkusmanch/fleet-backup/internal/notify"
	"github.com/sharkusmanch/fleet-backup/internal/registry"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [registry.csv]",
		Short: "Validate configuration and test connectivity",
		Long: `Validate the configuration file and test connectivity to external services.

This checks:
- Config file syntax
- Role catalog
- Registry roles resolve to catalog entries (if a registry is given)
- SSH reachability of every registry host (if a registry is given)
- Pushgateway connectivity (if enabled)
- Apprise server connectivity (if enabled)`,
		Args: cobra.MaximumNArgs(1),
		RunE: runValidate,
	}

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	out := cmd.OutOrStdout()
	failures := 0

	// Load config
	fmt.Fprintln(out, "Configuration:")
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "  ✗ Config file: %v\n", err)
		return err
	}
	fmt.Fprintf(out, "  ✓ Config file syntax valid\n")

	// Display config values
	configPath, _ := config.DefaultConfigPath()
	if cfgFile != "" {
		configPath = cfgFile
	}
	fmt.Fprintf(out, "  Config file: %s\n", configPath)
	fmt.Fprintf(out, "  Local dir: %s\n", cfg.Backup.LocalDir)
	fmt.Fprintf(out, "  Default mode: %s\n", cfg.Backup.Mode)
	fmt.Fprintf(out, "  Workers: %d\n", cfg.Backup.Workers)
	fmt.Fprintf(out, "  SSH: %s@*:%d (agent: %t)\n", cfg.SSH.User, cfg.SSH.Port, cfg.SSH.UseAgent)
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "  Metrics: enabled\n")
		fmt.Fprintf(out, "  Pushgateway URL: %s\n", cfg.Metrics.PushgatewayURL)
	} else {
		fmt.Fprintf(out, "  Metrics: disabled\n")
	}
	if cfg.Apprise.Enabled {
		fmt.Fprintf(out, "  Notifications: enabled\n")
		fmt.Fprintf(out, "  Apprise URL: %s\n", cfg.Apprise.URL)
		fmt.Fprintf(out, "  Notification level: %s\n", cfg.Apprise.Notify)
	} else {
		fmt.Fprintf(out, "  Notifications: disabled\n")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Checks:")
	logger, err := setupLogging(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	c, err := loadCatalog(cfg)
	if err != nil {
		fmt.Fprintf(out, "  ✗ Role catalog: %v\n", err)
		return err
	}
	fmt.Fprintf(out, "  ✓ Role catalog: %d roles\n", c.Len())

	if len(args) == 1 {
		hosts, err := registry.Load(args[0])
		if err != nil {
			fmt.Fprintf(out, "  ✗ Registry: %v\n", err)
			return err
		}
		fmt.Fprintf(out, "  ✓ Registry: %d hosts\n", len(hosts))

		for _, h := range hosts {
			for _, r := range h.Roles() {
				if r == domain.RoleCustom {
					fmt.Fprintf(out, "  ✗ %s: role %s needs an explicit path list\n", h.Name, r)
					failures++
					continue
				}
				if _, ok := c.Lookup(r); !ok {
					fmt.Fprintf(out, "  ✗ %s: unknown role %s\n", h.Name, r)
					failures++
				}
			}
		}

		transport := newTransport(cfg, logger)
		defer func() { _ = transport.Close() }()
		failures += checkHosts(ctx, out, transport, hosts, cfg.Backup.Workers)
	}

	httpClient := http.NewClient(
		http.WithRetryConfig(http.RetryConfig{MaxAttempts: 1}),
		http.WithTimeout(15*time.Second),
		http.WithLogger(logger),
	)

	// Check pushgateway if enabled
	if cfg.Metrics.Enabled {
		pushgatewayClient := metrics.NewPushgatewayClient(
			cfg.Metrics.PushgatewayURL,
			metrics.WithHTTPClient(httpClient),
			metrics.WithLogger(logger),
		)

		if err := pushgatewayClient.Validate(ctx); err != nil {
			fmt.Fprintf(out, "  ✗ Pushgateway: %v\n", err)
			failures++
		} else {
			fmt.Fprintf(out, "  ✓ Pushgateway reachable\n")
		}
	}

	// Check apprise if enabled
	if cfg.Apprise.Enabled {
		appriseClient := notify.NewAppriseClient(
			cfg.Apprise.URL,
			cfg.Apprise.Key,
			notify.WithHTTPClient(httpClient),
			notify.WithLogger(logger),
		)

		if err := appriseClient.Validate(ctx); err != nil {
			fmt.Fprintf(out, "  ✗ Apprise server: %v\n", err)
			failures++
		} else {
			fmt.Fprintf(out, "  ✓ Apprise server reachable\n")
		}
	}

	fmt.Fprintln(out)
	if failures > 0 {
		return fmt.Errorf("validation found %d problems", failures)
	}
	fmt.Fprintln(out, "Validation complete.")
	return nil
}

// checkHosts probes every host and prints the outcome in registry order. It
// returns the number of unreachable hosts.
func checkHosts(ctx context.Context, out io.Writer, exec domain.Executor, hosts []domain.Host, workers int) int {
	errs := make([]error, len(hosts))

	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, h := range hosts {
		g.Go(func() error {
			errs[i] = exec.Validate(ctx, h.Name)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, h := range hosts {
		if errs[i] != nil {
			fmt.Fprintf(out, "  ✗ %s: %v\n", h.Name, errs[i])
			failed++
			continue
		}
		fmt.Fprintf(out, "  ✓ %s reachable\n", h.Name)
	}
	return failed
}
