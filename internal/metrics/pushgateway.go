// Package metrics provides implementations for pushing metrics to remote endpoints.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"runtime"
	"strings"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
	"github.com/sharkusmanch/fleet-backup/internal/http"
	"github.com/sharkusmanch/fleet-backup/pkg/version"
)

const (
	metricsJobName = "fleet_backup"
	contentType    = "text/plain; charset=utf-8"
)

// PushgatewayClient pushes metrics to a Prometheus Pushgateway.
type PushgatewayClient struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// PushgatewayOption configures a PushgatewayClient.
type PushgatewayOption func(*PushgatewayClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) PushgatewayOption {
	return func(p *PushgatewayClient) {
		p.httpClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PushgatewayOption {
	return func(p *PushgatewayClient) {
		p.logger = logger
	}
}

// NewPushgatewayClient creates a new PushgatewayClient.
func NewPushgatewayClient(url string, opts ...PushgatewayOption) *PushgatewayClient {
	p := &PushgatewayClient{
		url:        strings.TrimSuffix(url, "/"),
		httpClient: http.NewClient(),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Push replaces the metric group of this instance and mode. Each backup mode
// gets its own grouping key so daily service runs and weekly system-full runs
// do not overwrite each other, while hosts dropped from the registry vanish
// from the group on the next run.
func (p *PushgatewayClient) Push(ctx context.Context, metrics *domain.Metrics) error {
	body := p.buildMetrics(metrics)

	pushURL := fmt.Sprintf("%s/metrics/job/%s/instance/%s", p.url, metricsJobName, url.PathEscape(metrics.Instance))
	jobs := 0
	if metrics.Run != nil {
		pushURL += "/mode/" + url.PathEscape(string(metrics.Run.Mode))
		jobs = len(metrics.Run.Jobs)
	}

	p.logger.Debug("pushing metrics to pushgateway",
		"url", pushURL,
		"jobs", jobs,
	)

	resp, err := p.httpClient.Put(ctx, pushURL, contentType, []byte(body))
	if err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("pushgateway returned status %d: %s", resp.StatusCode, string(resp.Body))
	}

	p.logger.Debug("metrics pushed successfully")
	return nil
}

// Validate checks if the Pushgateway is reachable.
func (p *PushgatewayClient) Validate(ctx context.Context) error {
	readyURL := fmt.Sprintf("%s/-/ready", p.url)

	if err := p.httpClient.CheckConnectivity(ctx, readyURL); err != nil {
		// Older gateways have no readiness endpoint.
		if err2 := p.httpClient.CheckConnectivity(ctx, p.url); err2 != nil {
			return fmt.Errorf("pushgateway not reachable at %s: %w", p.url, err)
		}
	}

	return nil
}

// buildMetrics constructs the Prometheus text format metrics.
func (p *PushgatewayClient) buildMetrics(m *domain.Metrics) string {
	var b strings.Builder

	b.WriteString("# HELP fleet_backup_up Orchestrator completed its run\n")
	b.WriteString("# TYPE fleet_backup_up gauge\n")
	if m.Up {
		b.WriteString("fleet_backup_up 1\n")
	} else {
		b.WriteString("fleet_backup_up 0\n")
	}
	b.WriteString("\n")

	versionInfo := version.Get()
	b.WriteString("# HELP fleet_backup_info Build information\n")
	b.WriteString("# TYPE fleet_backup_info gauge\n")
	b.WriteString(fmt.Sprintf("fleet_backup_info{version=%q,go_version=%q} 1\n",
		versionInfo.Version, runtime.Version()))
	b.WriteString("\n")

	run := m.Run
	if run == nil {
		return b.String()
	}

	mode := string(run.Mode)
	b.WriteString("# HELP fleet_backup_last_run_timestamp_seconds Unix timestamp of the end of the last run\n")
	b.WriteString("# TYPE fleet_backup_last_run_timestamp_seconds gauge\n")
	b.WriteString(fmt.Sprintf("fleet_backup_last_run_timestamp_seconds{mode=%q} %d\n", mode, run.EndTime.Unix()))
	b.WriteString("# HELP fleet_backup_last_run_success Whether every job of the last run succeeded\n")
	b.WriteString("# TYPE fleet_backup_last_run_success gauge\n")
	b.WriteString(fmt.Sprintf("fleet_backup_last_run_success{mode=%q} %d\n", mode, boolValue(run.Success)))
	b.WriteString("# HELP fleet_backup_jobs_total Jobs in the last run\n")
	b.WriteString("# TYPE fleet_backup_jobs_total gauge\n")
	b.WriteString(fmt.Sprintf("fleet_backup_jobs_total{mode=%q} %d\n", mode, len(run.Jobs)))
	b.WriteString("# HELP fleet_backup_jobs_failed Failed jobs in the last run\n")
	b.WriteString("# TYPE fleet_backup_jobs_failed gauge\n")
	b.WriteString(fmt.Sprintf("fleet_backup_jobs_failed{mode=%q} %d\n", mode, len(run.Failed())))
	b.WriteString("\n")

	if len(run.Jobs) > 0 {
		b.WriteString("# HELP fleet_backup_job_success Whether the job wrote its archive\n")
		b.WriteString("# TYPE fleet_backup_job_success gauge\n")
		b.WriteString("# HELP fleet_backup_job_duration_seconds Duration of the job\n")
		b.WriteString("# TYPE fleet_backup_job_duration_seconds gauge\n")
		b.WriteString("# HELP fleet_backup_archive_bytes Size of the archive written by the job\n")
		b.WriteString("# TYPE fleet_backup_archive_bytes gauge\n")
		b.WriteString("\n")

		for _, job := range run.Jobs {
			p.writeJobMetrics(&b, job)
		}
	}

	return b.String()
}

// writeJobMetrics writes metric values for a single job.
func (p *PushgatewayClient) writeJobMetrics(b *strings.Builder, j *domain.JobResult) {
	labels := fmt.Sprintf("host=%q,mode=%q,target=%q", j.Host, string(j.Mode), j.Target)

	var size int64
	if j.Archive != nil {
		size = j.Archive.Size
	}

	b.WriteString(fmt.Sprintf("fleet_backup_job_success{%s} %d\n", labels, boolValue(j.Succeeded())))
	b.WriteString(fmt.Sprintf("fleet_backup_job_duration_seconds{%s} %.3f\n", labels, j.Duration.Seconds()))
	b.WriteString(fmt.Sprintf("fleet_backup_archive_bytes{%s} %d\n", labels, size))
}

func boolValue(v bool) int {
	if v {
		return 1
	}
	return 0
}

// Ensure PushgatewayClient implements domain.MetricsPusher.
var _ domain.MetricsPusher = (*PushgatewayClient)(nil)
