package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

func TestPrintRunResult(t *testing.T) {
	job := domain.BackupJob{Host: "web01", Mode: domain.ModeService, Roles: []domain.Role{"mysql"}}
	ok := domain.NewJobResult(&job)
	ok.Complete(&domain.Archive{Path: "/srv/backups/web01/a.tar.gz"}, nil)
	ok.AddWarning("file changed as we read it")

	bad := domain.NewJobResult(&domain.BackupJob{Host: "web02", Mode: domain.ModeService, Roles: []domain.Role{"firewall"}})
	bad.Complete(nil, &domain.ConnectivityError{Host: "web02", Err: errors.New("i/o timeout")})

	result := domain.NewRunResult("run-1", domain.ModeService, false)
	result.AddJob(ok)
	result.AddJob(bad)
	result.Complete()

	var buf bytes.Buffer
	printRunResult(&buf, result)

	out := buf.String()
	assert.Contains(t, out, "✓ web01/mysql: /srv/backups/web01/a.tar.gz")
	assert.Contains(t, out, "warning: file changed as we read it")
	assert.Contains(t, out, "✗ web02/firewall [ConnectivityError]: host web02 unreachable: i/o timeout")
	assert.Contains(t, out, "1 succeeded, 1 failed")
}

func TestPrintRunResult_DryRun(t *testing.T) {
	job := domain.BackupJob{Host: "web01", Mode: domain.ModeRoleAgg, Roles: []domain.Role{"mysql"}}
	res := domain.NewJobResult(&job)
	res.Commands = []string{"mysqldump --all-databases > /tmp/all_databases.sql"}
	res.Skip()

	result := domain.NewRunResult("run-1", domain.ModeRoleAgg, true)
	result.AddJob(res)
	result.Complete()

	var buf bytes.Buffer
	printRunResult(&buf, result)

	assert.Contains(t, buf.String(), "- web01/role-agg (dry run)")
	assert.Contains(t, buf.String(), "$ mysqldump --all-databases > /tmp/all_databases.sql")
}

func TestPrintRestoreResult(t *testing.T) {
	req := &domain.RestoreRequest{Host: "web01", ArchivePath: "a.tar.gz"}
	result := domain.NewRestoreResult(req)
	result.Transition(domain.RestoreConfirming)
	result.Transition(domain.RestoreExtracting)
	result.AddRole(domain.SelectRole("firewall"), 2, nil)
	result.AddRole(domain.SelectRole("mysql"), 0, &domain.RoleNotFoundInArchive{Role: "mysql", Archive: "a.tar.gz"})
	result.Finish()

	var buf bytes.Buffer
	printRestoreResult(&buf, result)

	out := buf.String()
	assert.Contains(t, out, "REQUESTED -> CONFIRMING -> EXTRACTING -> PARTIAL_FAILURE")
	assert.Contains(t, out, "✓ firewall: 2 entries")
	assert.Contains(t, out, "✗ mysql [RoleNotFoundInArchive]")
}

func TestRunOutcome(t *testing.T) {
	success := domain.NewRunResult("run-1", domain.ModeService, false)
	success.Complete()
	require.NoError(t, runOutcome(success, nil))

	failed := domain.NewRunResult("run-2", domain.ModeService, false)
	bad := domain.NewJobResult(&domain.BackupJob{Host: "web01", Mode: domain.ModeService, Roles: []domain.Role{"mysql"}})
	bad.Complete(nil, errors.New("boom"))
	failed.AddJob(bad)
	failed.Complete()
	assert.EqualError(t, runOutcome(failed, nil), "backup completed with 1 failed jobs")

	assert.ErrorIs(t, runOutcome(success, context.Canceled), context.Canceled)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
