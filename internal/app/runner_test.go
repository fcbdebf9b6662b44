package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharkusmanch/fleet-backup/internal/catalog"
	"github.com/sharkusmanch/fleet-backup/internal/config"
	"github.com/sharkusmanch/fleet-backup/internal/domain"
	"github.com/sharkusmanch/fleet-backup/internal/metrics"
	"github.com/sharkusmanch/fleet-backup/internal/notify"
	"github.com/sharkusmanch/fleet-backup/internal/planner"
)

// mockBuilder is a hand-written ArchiveBuilder.
type mockBuilder struct {
	BuildFunc    func(ctx context.Context, job domain.BackupJob) (*domain.Archive, error)
	CommandsFunc func(job domain.BackupJob) ([]string, error)

	mu    sync.Mutex
	Built []domain.BackupJob
}

func (m *mockBuilder) Build(ctx context.Context, job domain.BackupJob) (*domain.Archive, error) {
	m.mu.Lock()
	m.Built = append(m.Built, job)
	m.mu.Unlock()
	if m.BuildFunc != nil {
		return m.BuildFunc(ctx, job)
	}
	return &domain.Archive{Path: job.ArchivePath(), Host: job.Host, Mode: job.Mode, Roles: job.Roles, Size: 1024}, nil
}

func (m *mockBuilder) Commands(job domain.BackupJob) ([]string, error) {
	if m.CommandsFunc != nil {
		return m.CommandsFunc(job)
	}
	return []string{"tar -C / -cf - " + job.Target()}, nil
}

func (m *mockBuilder) builtHosts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hosts []string
	for _, j := range m.Built {
		hosts = append(hosts, j.Host)
	}
	return hosts
}

var _ ArchiveBuilder = (*mockBuilder)(nil)

func testConfig() *config.Config {
	return &config.Config{
		Backup: config.BackupConfig{
			LocalDir: "/srv/backups",
			Mode:     "service",
			Workers:  1,
		},
		Retry: config.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 5 * time.Second,
			MaxDelay:     30 * time.Second,
		},
		Apprise: config.AppriseConfig{
			Enabled: true,
			URL:     "http://localhost:8000",
			Key:     "test",
			Notify:  config.NotifyError,
			Tag:     "hpc",
		},
		Log: config.LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

func testPlanner(t *testing.T) *planner.Planner {
	t.Helper()
	ts := time.Date(2024, 2, 29, 1, 2, 3, 0, time.Local)
	return planner.New(catalog.Default(), t.TempDir(), planner.WithClock(func() time.Time { return ts }))
}

func newTestRunner(t *testing.T, cfg *config.Config, b ArchiveBuilder, opts ...RunnerOption) *Runner {
	t.Helper()
	opts = append([]RunnerOption{WithHostname("backup-head")}, opts...)
	r := NewRunner(cfg, testPlanner(t), b, opts...)
	r.newID = func() string { return "run-1" }
	return r
}

func TestRunner_Run_Success(t *testing.T) {
	builder := &mockBuilder{}
	mockMetrics := &metrics.MockPusher{}
	mockNotifier := &notify.MockNotifier{}

	runner := newTestRunner(t, testConfig(), builder,
		WithMetricsPusher(mockMetrics),
		WithNotifier(mockNotifier),
	)

	hosts := []domain.Host{
		domain.NewHost("web01", "firewall", "mysql"),
		domain.NewHost("mgmt01", "pacemaker"),
	}
	result, err := runner.Run(context.Background(), hosts, domain.ModeService, nil)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "run-1", result.ID)
	require.Len(t, result.Jobs, 3)
	assert.Equal(t, []string{"web01", "web01", "mgmt01"}, builder.builtHosts())
	assert.Equal(t, "firewall", result.Jobs[0].Target)
	assert.Equal(t, "mysql", result.Jobs[1].Target)

	require.Len(t, mockMetrics.PushedMetrics, 1)
	assert.True(t, mockMetrics.PushedMetrics[0].Up)
	assert.Equal(t, "backup-head", mockMetrics.PushedMetrics[0].Instance)
	assert.Same(t, result, mockMetrics.LastRun())

	// No notification on success with NotifyError config
	assert.Empty(t, mockNotifier.Notifications)
}

func TestRunner_Run_RoleAggOneJobPerHost(t *testing.T) {
	builder := &mockBuilder{}
	runner := newTestRunner(t, testConfig(), builder)

	hosts := []domain.Host{domain.NewHost("web01", "firewall", "mysql")}
	result, err := runner.Run(context.Background(), hosts, domain.ModeRoleAgg, nil)

	require.NoError(t, err)
	require.Len(t, builder.Built, 1)
	assert.Equal(t, []domain.Role{"firewall", "mysql"}, builder.Built[0].Roles)
	assert.Equal(t, "web01_role_agg_backup_20240229-010203.tar.gz", builder.Built[0].ArchiveName())
	assert.True(t, result.Success)
}

func TestRunner_Run_OneUnreachableHostOfFifty(t *testing.T) {
	cfg := testConfig()
	cfg.Backup.Workers = 4

	builder := &mockBuilder{
		BuildFunc: func(ctx context.Context, job domain.BackupJob) (*domain.Archive, error) {
			if job.Host == "node17" {
				return nil, &domain.BuildError{Host: job.Host, Target: job.Target(),
					Err: &domain.ConnectivityError{Host: job.Host, Err: errors.New("i/o timeout")}}
			}
			return &domain.Archive{Path: job.ArchivePath(), Host: job.Host}, nil
		},
	}
	mockNotifier := &notify.MockNotifier{}
	runner := newTestRunner(t, cfg, builder, WithNotifier(mockNotifier))

	var hosts []domain.Host
	for i := 1; i <= 50; i++ {
		hosts = append(hosts, domain.NewHost(fmt.Sprintf("node%02d", i), "pacemaker", "firewall"))
	}

	result, err := runner.Run(context.Background(), hosts, domain.ModeService, nil)

	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Jobs, 100)
	assert.Equal(t, 98, result.Succeeded())

	failed := result.Failed()
	require.Len(t, failed, 2)
	for _, j := range failed {
		assert.Equal(t, "node17", j.Host)
		assert.Equal(t, domain.KindConnectivity, j.Kind)
	}

	// The second node17 job is not attempted once the host proved unreachable.
	attempts := 0
	for _, h := range builder.builtHosts() {
		if h == "node17" {
			attempts++
		}
	}
	assert.Equal(t, 1, attempts)

	// Results keep the registry order even with several workers.
	assert.Equal(t, "node01", result.Jobs[0].Host)
	assert.Equal(t, "node50", result.Jobs[99].Host)

	require.Len(t, mockNotifier.Notifications, 1)
	n := mockNotifier.Notifications[0]
	assert.Equal(t, domain.NotificationLevelError, n.Level)
	assert.Equal(t, "hpc", n.Tag)
	assert.Contains(t, n.Body, "2 of 100 jobs failed")
	assert.Contains(t, n.Body, "node17/pacemaker [ConnectivityError]")
}

func TestRunner_Run_PlanFailuresAreReported(t *testing.T) {
	builder := &mockBuilder{}
	runner := newTestRunner(t, testConfig(), builder)

	hosts := []domain.Host{domain.NewHost("web01", "firewall", "nosuchrole")}
	result, err := runner.Run(context.Background(), hosts, domain.ModeService, nil)

	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Jobs, 2)

	failed := result.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "nosuchrole", failed[0].Target)
	assert.Equal(t, domain.KindRegistry, failed[0].Kind)
	assert.Len(t, builder.Built, 1)
}

func TestRunner_Run_CommandFailureDoesNotSkipHost(t *testing.T) {
	builder := &mockBuilder{
		BuildFunc: func(ctx context.Context, job domain.BackupJob) (*domain.Archive, error) {
			if job.Target() == "firewall" {
				return nil, &domain.BuildError{Host: job.Host, Target: job.Target(),
					Err: &domain.CommandError{Host: job.Host, ExitCode: 2}}
			}
			return &domain.Archive{Path: job.ArchivePath()}, nil
		},
	}
	runner := newTestRunner(t, testConfig(), builder)

	hosts := []domain.Host{domain.NewHost("web01", "firewall", "mysql")}
	result, err := runner.Run(context.Background(), hosts, domain.ModeService, nil)

	require.NoError(t, err)
	assert.Len(t, builder.Built, 2)
	assert.Equal(t, domain.KindCommand, result.Jobs[0].Kind)
	assert.True(t, result.Jobs[1].Succeeded())
}

func TestRunner_Run_DryRun(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true

	builder := &mockBuilder{}
	mockMetrics := &metrics.MockPusher{}
	runner := newTestRunner(t, cfg, builder, WithMetricsPusher(mockMetrics))

	hosts := []domain.Host{domain.NewHost("web01", "firewall", "mysql")}
	result, err := runner.Run(context.Background(), hosts, domain.ModeService, nil)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.DryRun)
	assert.Empty(t, builder.Built)
	assert.Empty(t, mockMetrics.PushedMetrics)
	require.Len(t, result.Jobs, 2)
	for _, j := range result.Jobs {
		assert.Equal(t, domain.JobSkipped, j.Status)
		assert.NotEmpty(t, j.Commands)
	}
}

func TestRunner_Run_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	builder := &mockBuilder{
		BuildFunc: func(ctx context.Context, job domain.BackupJob) (*domain.Archive, error) {
			cancel()
			return nil, ctx.Err()
		},
	}
	mockMetrics := &metrics.MockPusher{}
	runner := newTestRunner(t, testConfig(), builder, WithMetricsPusher(mockMetrics))

	hosts := []domain.Host{
		domain.NewHost("web01", "firewall"),
		domain.NewHost("web02", "firewall"),
	}
	result, err := runner.Run(ctx, hosts, domain.ModeService, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.Success)
	assert.Len(t, builder.Built, 1)
	assert.Empty(t, result.Jobs)
	require.Len(t, mockMetrics.PushedMetrics, 1)
	assert.False(t, mockMetrics.PushedMetrics[0].Up)
}

func TestRunner_Run_Notifications(t *testing.T) {
	warnBuild := func(ctx context.Context, job domain.BackupJob) (*domain.Archive, error) {
		return &domain.Archive{Path: job.ArchivePath(), Warnings: []string{"file changed as we read it"}}, nil
	}

	tests := []struct {
		name      string
		notify    config.NotifyLevel
		build     func(ctx context.Context, job domain.BackupJob) (*domain.Archive, error)
		wantLevel domain.NotificationLevel
	}{
		{name: "error level ignores success", notify: config.NotifyError},
		{name: "error level ignores warnings", notify: config.NotifyError, build: warnBuild},
		{name: "warning level reports warnings", notify: config.NotifyWarning, build: warnBuild, wantLevel: domain.NotificationLevelWarning},
		{name: "warning level ignores success", notify: config.NotifyWarning},
		{name: "always reports success", notify: config.NotifyAlways, wantLevel: domain.NotificationLevelSuccess},
		{
			name:   "always reports failure as error",
			notify: config.NotifyAlways,
			build: func(ctx context.Context, job domain.BackupJob) (*domain.Archive, error) {
				return nil, errors.New("disk full")
			},
			wantLevel: domain.NotificationLevelError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Apprise.Notify = tt.notify
			mockNotifier := &notify.MockNotifier{}

			runner := newTestRunner(t, cfg, &mockBuilder{BuildFunc: tt.build}, WithNotifier(mockNotifier))
			_, err := runner.Run(context.Background(), []domain.Host{domain.NewHost("web01", "firewall")}, domain.ModeService, nil)
			require.NoError(t, err)

			if tt.wantLevel == "" {
				assert.Empty(t, mockNotifier.Notifications)
				return
			}
			assert.Equal(t, []domain.NotificationLevel{tt.wantLevel}, mockNotifier.Levels())
		})
	}
}

func TestRunner_RunCustom(t *testing.T) {
	builder := &mockBuilder{}
	runner := newTestRunner(t, testConfig(), builder)

	result, err := runner.RunCustom(context.Background(), "web01", []string{"/etc/hosts", "/opt/app"})

	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, builder.Built, 1)
	assert.Equal(t, domain.ModeCustom, builder.Built[0].Mode)
	assert.Equal(t, []string{"/etc/hosts", "/opt/app"}, builder.Built[0].Paths)
}

func TestRunner_RunCustom_RelativePath(t *testing.T) {
	builder := &mockBuilder{}
	runner := newTestRunner(t, testConfig(), builder)

	result, err := runner.RunCustom(context.Background(), "web01", []string{"etc/hosts"})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, builder.Built)
	require.Len(t, result.Failed(), 1)
	assert.Equal(t, "custom", result.Failed()[0].Target)
}

func TestRunner_MetricsPushFailureDoesNotFailRun(t *testing.T) {
	mockMetrics := &metrics.MockPusher{
		PushFunc: func(ctx context.Context, m *domain.Metrics) error {
			return errors.New("connection refused")
		},
	}
	runner := newTestRunner(t, testConfig(), &mockBuilder{}, WithMetricsPusher(mockMetrics))

	result, err := runner.Run(context.Background(), []domain.Host{domain.NewHost("web01", "firewall")}, domain.ModeService, nil)

	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestGroupByHost(t *testing.T) {
	jobs := []domain.BackupJob{
		{Host: "b", Roles: []domain.Role{"x"}},
		{Host: "a", Roles: []domain.Role{"x"}},
		{Host: "b", Roles: []domain.Role{"y"}},
	}

	groups := groupByHost(jobs)

	require.Len(t, groups, 2)
	assert.Equal(t, "b", groups[0][0].Host)
	assert.Equal(t, domain.Role("y"), groups[0][1].Roles[0])
	assert.Equal(t, "a", groups[1][0].Host)
}
