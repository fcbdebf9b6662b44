package cli

import (
	"fmt"
	"log/slog"

	"github.com/sharkusmanch/fleet-backup/internal/archive"
	"github.com/sharkusmanch/fleet-backup/internal/catalog"
	"github.com/sharkusmanch/fleet-backup/internal/config"
	"github.com/sharkusmanch/fleet-backup/internal/domain"
	"github.com/sharkusmanch/fleet-backup/internal/executor"
	"github.com/sharkusmanch/fleet-backup/internal/http"
	"github.com/sharkusmanch/fleet-backup/internal/metrics"
	"github.com/sharkusmanch/fleet-backup/internal/notify"
)

// newHTTPClient creates the retrying client shared by metrics and notifications.
func newHTTPClient(cfg *config.Config, logger *slog.Logger) *http.Client {
	return http.NewClient(
		http.WithRetryConfig(http.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
		}),
		http.WithLogger(logger),
	)
}

// newTransport routes localhost to a local shell and every other host over SSH.
func newTransport(cfg *config.Config, logger *slog.Logger) executor.Transport {
	remote := executor.NewSSHExecutor(executor.SSHConfig{
		User:                  cfg.SSH.User,
		Port:                  cfg.SSH.Port,
		IdentityFiles:         cfg.SSH.IdentityFiles,
		KnownHostsFiles:       cfg.SSH.KnownHosts,
		InsecureIgnoreHostKey: cfg.SSH.InsecureIgnoreHostKey,
		UseAgent:              cfg.SSH.UseAgent,
		ConnectTimeout:        cfg.SSH.ConnectTimeout,
		CommandTimeout:        cfg.SSH.CommandTimeout,
		Sudo:                  cfg.SSH.Sudo,
	}, executor.WithLogger(logger))

	local := executor.NewLocalExecutor(
		executor.WithLocalLogger(logger),
		executor.WithSudo(cfg.SSH.Sudo),
		executor.WithTimeout(cfg.SSH.CommandTimeout),
	)

	return executor.NewRouter(remote, local)
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	c, err := catalog.Load(cfg.Catalog.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load role catalog: %w", err)
	}
	return c, nil
}

func newBuilder(cfg *config.Config, exec domain.Executor, c *catalog.Catalog, logger *slog.Logger) *archive.Builder {
	return archive.NewBuilder(exec, c,
		archive.WithLogger(logger),
		archive.WithMinFreeBytes(cfg.MinFreeBytes()),
		archive.WithCompressionLevel(cfg.Backup.CompressionLevel),
		archive.WithCommandTimeout(cfg.SSH.CommandTimeout),
	)
}

// newMetricsPusher returns nil when metrics are disabled.
func newMetricsPusher(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) domain.MetricsPusher {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.NewPushgatewayClient(
		cfg.Metrics.PushgatewayURL,
		metrics.WithHTTPClient(httpClient),
		metrics.WithLogger(logger),
	)
}

// newNotifier always logs notifications and also sends them to Apprise when enabled.
func newNotifier(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) domain.Notifier {
	var apprise domain.Notifier
	if cfg.Apprise.Enabled {
		apprise = notify.NewAppriseClient(
			cfg.Apprise.URL,
			cfg.Apprise.Key,
			notify.WithHTTPClient(httpClient),
			notify.WithLogger(logger),
			notify.WithDefaultTag(cfg.Apprise.Tag),
		)
	}
	return notify.NewMultiNotifier(notify.NewLogNotifier(logger), apprise)
}
