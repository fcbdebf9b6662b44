// Package app provides the core application logic.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sharkusmanch/fleet-backup/internal/config"
	"github.com/sharkusmanch/fleet-backup/internal/domain"
	"github.com/sharkusmanch/fleet-backup/internal/planner"
)

// Planner turns registry hosts into backup jobs.
type Planner interface {
	Plan(hosts []domain.Host, mode domain.Mode, filter planner.Filter) ([]domain.BackupJob, []planner.PlanFailure)
	PlanCustom(host string, paths []string) (domain.BackupJob, error)
}

// ArchiveBuilder executes backup jobs.
type ArchiveBuilder interface {
	Build(ctx context.Context, job domain.BackupJob) (*domain.Archive, error)
	Commands(job domain.BackupJob) ([]string, error)
}

// Runner orchestrates backup runs.
type Runner struct {
	planner       Planner
	builder       ArchiveBuilder
	metricsPusher domain.MetricsPusher
	notifier      domain.Notifier
	config        *config.Config
	logger        *slog.Logger
	hostname      string
	newID         func() string
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMetricsPusher sets the metrics pusher.
func WithMetricsPusher(m domain.MetricsPusher) RunnerOption {
	return func(r *Runner) {
		r.metricsPusher = m
	}
}

// WithNotifier sets the notifier.
func WithNotifier(n domain.Notifier) RunnerOption {
	return func(r *Runner) {
		r.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithHostname overrides the instance name reported in metrics and notifications.
func WithHostname(name string) RunnerOption {
	return func(r *Runner) {
		r.hostname = name
	}
}

// NewRunner creates a new Runner.
func NewRunner(cfg *config.Config, p Planner, b ArchiveBuilder, opts ...RunnerOption) *Runner {
	hostname, _ := os.Hostname()

	r := &Runner{
		planner:  p,
		builder:  b,
		config:   cfg,
		logger:   slog.Default(),
		hostname: hostname,
		notifier: &domain.NopNotifier{},
		newID:    uuid.NewString,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run plans and executes one backup run over the registry hosts. Per-job
// failures are recorded in the result; the error is only set when the run was
// cancelled.
func (r *Runner) Run(ctx context.Context, hosts []domain.Host, mode domain.Mode, filter planner.Filter) (*domain.RunResult, error) {
	result := domain.NewRunResult(r.newID(), mode, r.config.DryRun)
	logger := r.logger.With("run", result.ID, "mode", mode)

	jobs, failures := r.planner.Plan(hosts, mode, filter)
	logger.Info("starting backup run",
		"hosts", len(hosts),
		"jobs", len(jobs),
		"plan_failures", len(failures),
		"dry_run", r.config.DryRun,
	)

	for _, f := range failures {
		logger.Error("job could not be planned",
			"host", f.Host,
			"role", f.Role,
			"kind", domain.KindOf(f.Err),
			"error", f.Err,
		)
		result.AddJob(planFailure(f))
	}

	return r.execute(ctx, result, jobs, logger)
}

// RunCustom archives an explicit path list on one host.
func (r *Runner) RunCustom(ctx context.Context, host string, paths []string) (*domain.RunResult, error) {
	result := domain.NewRunResult(r.newID(), domain.ModeCustom, r.config.DryRun)
	logger := r.logger.With("run", result.ID, "mode", domain.ModeCustom)

	job, err := r.planner.PlanCustom(host, paths)
	if err != nil {
		logger.Error("custom job could not be planned", "host", host, "error", err)
		result.AddJob(planFailure(planner.PlanFailure{Host: host, Mode: domain.ModeCustom, Err: err}))
		return r.execute(ctx, result, nil, logger)
	}

	logger.Info("starting custom backup", "host", host, "paths", len(paths), "dry_run", r.config.DryRun)
	return r.execute(ctx, result, []domain.BackupJob{job}, logger)
}

func (r *Runner) execute(ctx context.Context, result *domain.RunResult, jobs []domain.BackupJob, logger *slog.Logger) (*domain.RunResult, error) {
	if r.config.DryRun {
		for i := range jobs {
			result.AddJob(r.dryRun(&jobs[i], logger))
		}
		result.Complete()
		logger.Info("dry run completed", "jobs", len(jobs))
		return result, nil
	}

	perHost := r.runHosts(ctx, groupByHost(jobs), logger)
	for _, hostJobs := range perHost {
		for _, j := range hostJobs {
			result.AddJob(j)
		}
	}

	runErr := ctx.Err()
	if runErr != nil {
		result.AddError(fmt.Errorf("run interrupted: %w", runErr))
	}
	result.Complete()

	// The final push must survive the cancellation that ended the run.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	if err := r.pushMetrics(pushCtx, result, runErr == nil); err != nil {
		logger.Error("failed to push metrics", "error", err)
	}

	if err := r.sendNotifications(pushCtx, result); err != nil {
		logger.Error("failed to send notification", "error", err)
	}

	logger.Info("backup run completed",
		"success", result.Success,
		"succeeded", result.Succeeded(),
		"failed", len(result.Failed()),
		"duration", result.Duration,
	)

	return result, runErr
}

// runHosts builds each host's jobs in order, running up to backup.workers hosts
// at a time. The returned slices follow the host order of the plan.
func (r *Runner) runHosts(ctx context.Context, hosts [][]domain.BackupJob, logger *slog.Logger) [][]*domain.JobResult {
	out := make([][]*domain.JobResult, len(hosts))

	workers := r.config.Backup.Workers
	if workers < 1 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, jobs := range hosts {
		g.Go(func() error {
			out[i] = r.runHost(ctx, jobs, logger)
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// runHost builds one host's jobs sequentially. Once the host proves
// unreachable its remaining jobs fail with the same error kind without being
// attempted.
func (r *Runner) runHost(ctx context.Context, jobs []domain.BackupJob, logger *slog.Logger) []*domain.JobResult {
	results := make([]*domain.JobResult, 0, len(jobs))

	var unreachable error
	for i := range jobs {
		job := &jobs[i]
		if ctx.Err() != nil {
			break
		}

		res := domain.NewJobResult(job)
		if unreachable != nil {
			res.Complete(nil, fmt.Errorf("skipped: %w", unreachable))
			logger.Warn("job skipped, host unreachable", "host", job.Host, "target", job.Target())
			results = append(results, res)
			continue
		}

		archive, err := r.builder.Build(ctx, *job)
		if err != nil && ctx.Err() != nil {
			logger.Warn("job interrupted", "host", job.Host, "target", job.Target())
			break
		}
		res.Complete(archive, err)
		if archive != nil {
			res.Warnings = append(res.Warnings, archive.Warnings...)
		}

		if err != nil {
			logger.Error("job failed",
				"host", job.Host,
				"target", job.Target(),
				"kind", res.Kind,
				"error", err,
			)
			if domain.IsConnectivity(err) {
				unreachable = err
			}
		}
		results = append(results, res)
	}

	return results
}

func (r *Runner) dryRun(job *domain.BackupJob, logger *slog.Logger) *domain.JobResult {
	res := domain.NewJobResult(job)
	cmds, err := r.builder.Commands(*job)
	if err != nil {
		res.Complete(nil, err)
		logger.Error("job would fail", "host", job.Host, "target", job.Target(), "error", err)
		return res
	}
	res.Commands = cmds
	res.Skip()
	logger.Info("dry run: would build archive",
		"host", job.Host,
		"target", job.Target(),
		"archive", job.ArchivePath(),
		"commands", len(cmds),
	)
	return res
}

// pushMetrics sends metrics to the metrics pusher.
func (r *Runner) pushMetrics(ctx context.Context, result *domain.RunResult, up bool) error {
	if r.metricsPusher == nil {
		return nil
	}

	metrics := domain.NewMetrics(r.hostname, result)
	metrics.Up = up

	return r.metricsPusher.Push(ctx, metrics)
}

// sendNotifications sends notifications based on the result and config.
func (r *Runner) sendNotifications(ctx context.Context, result *domain.RunResult) error {
	if r.notifier == nil {
		return nil
	}

	notifyLevel := r.config.Apprise.Notify
	failed := result.Failed()
	warned := result.Warned()

	var notification *domain.Notification
	switch {
	case !result.Success:
		notification = domain.NewNotification(
			fmt.Sprintf("Fleet backup failed (%s)", result.Mode),
			r.buildErrorMessage(result, failed),
			domain.NotificationLevelError,
		)

	case len(warned) > 0 && notifyLevel.Warnings():
		notification = domain.NewNotification(
			fmt.Sprintf("Fleet backup completed with warnings (%s)", result.Mode),
			r.buildWarningMessage(result, warned),
			domain.NotificationLevelWarning,
		)

	case notifyLevel.Successes():
		notification = domain.NewNotification(
			fmt.Sprintf("Fleet backup completed (%s)", result.Mode),
			r.buildSuccessMessage(result),
			domain.NotificationLevelSuccess,
		)
	}

	if notification == nil {
		return nil
	}

	return r.notifier.Notify(ctx, notification.WithTag(r.config.Apprise.Tag))
}

// buildErrorMessage lists every failed job with its kind.
func (r *Runner) buildErrorMessage(result *domain.RunResult, failed []*domain.JobResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Backup run %s from %s: %d of %d jobs failed.\n",
		result.ID, r.hostname, len(failed), len(result.Jobs))

	for _, j := range failed {
		fmt.Fprintf(&b, "%s/%s [%s]: %s\n", j.Host, j.Target, j.Kind, j.Error)
	}

	for _, err := range result.Errors {
		fmt.Fprintf(&b, "Error: %s\n", err)
	}

	fmt.Fprintf(&b, "Duration: %s", result.Duration.Round(100*time.Millisecond))

	return b.String()
}

// buildWarningMessage lists the jobs that succeeded with warnings.
func (r *Runner) buildWarningMessage(result *domain.RunResult, warned []*domain.JobResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Backup run %s from %s: %d archives written, %d with warnings.\n",
		result.ID, r.hostname, result.Succeeded(), len(warned))

	for _, j := range warned {
		fmt.Fprintf(&b, "%s/%s: %s\n", j.Host, j.Target, strings.Join(j.Warnings, "; "))
	}

	fmt.Fprintf(&b, "Duration: %s", result.Duration.Round(100*time.Millisecond))

	return b.String()
}

// buildSuccessMessage builds a success notification message.
func (r *Runner) buildSuccessMessage(result *domain.RunResult) string {
	var bytes int64
	for _, j := range result.Jobs {
		if j.Archive != nil {
			bytes += j.Archive.Size
		}
	}

	return fmt.Sprintf("Backup run %s from %s: %d archives written (%d bytes).\nDuration: %s",
		result.ID, r.hostname, result.Succeeded(), bytes, result.Duration.Round(100*time.Millisecond))
}

// groupByHost splits jobs per host, keeping the first-seen host order and the
// job order within each host.
func groupByHost(jobs []domain.BackupJob) [][]domain.BackupJob {
	index := make(map[string]int)
	var groups [][]domain.BackupJob
	for _, job := range jobs {
		i, ok := index[job.Host]
		if !ok {
			i = len(groups)
			index[job.Host] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], job)
	}
	return groups
}

func planFailure(f planner.PlanFailure) *domain.JobResult {
	res := &domain.JobResult{
		Host:      f.Host,
		Mode:      f.Mode,
		Target:    f.Target(),
		StartTime: time.Now(),
	}
	if f.Role != "" {
		res.Roles = []domain.Role{f.Role}
	}
	res.Complete(nil, f.Err)
	return res
}
