package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharkusmanch/fleet-backup/internal/catalog"
	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

var fixedTime = time.Date(2024, 5, 1, 3, 0, 0, 0, time.Local)

func newPlanner() *Planner {
	return New(catalog.Default(), "/backups", WithClock(func() time.Time { return fixedTime }))
}

func testHosts() []domain.Host {
	return []domain.Host{
		domain.NewHost("web01", "firewall", "mysql"),
		domain.NewHost("mgmt01", "bright", "pacemaker", "net-bonding"),
		domain.NewHost("store01", "beegfs-storage", "system-full"),
	}
}

func TestPlan_ServiceOneJobPerHostRole(t *testing.T) {
	hosts := testHosts()
	jobs, failures := newPlanner().Plan(hosts, domain.ModeService, nil)

	require.Empty(t, failures)
	require.Len(t, jobs, 7)

	type pair struct {
		host string
		role domain.Role
	}
	got := make(map[pair]int)
	for _, j := range jobs {
		require.Len(t, j.Roles, 1)
		got[pair{j.Host, j.Roles[0]}]++
		assert.Equal(t, fixedTime, j.Timestamp)
		assert.NoError(t, j.Validate())
	}
	for _, h := range hosts {
		for _, r := range h.Roles() {
			assert.Equal(t, 1, got[pair{h.Name, r}], "%s/%s", h.Name, r)
		}
	}
}

func TestPlan_ServiceSystemFullRoleYieldsSystemFullJob(t *testing.T) {
	jobs, _ := newPlanner().Plan([]domain.Host{domain.NewHost("store01", "system-full")}, domain.ModeService, nil)

	require.Len(t, jobs, 1)
	assert.Equal(t, domain.ModeSystemFull, jobs[0].Mode)
	assert.Equal(t, "store01_system_full_backup_20240501-030000.tar.gz", jobs[0].ArchiveName())
}

func TestPlan_RoleAggOneJobPerHost(t *testing.T) {
	hosts := testHosts()
	jobs, failures := newPlanner().Plan(hosts, domain.ModeRoleAgg, nil)

	require.Empty(t, failures)
	require.Len(t, jobs, len(hosts))
	for i, j := range jobs {
		assert.Equal(t, hosts[i].Name, j.Host)
		assert.Equal(t, hosts[i].Roles(), j.Roles)
		assert.Equal(t, domain.ModeRoleAgg, j.Mode)
	}
}

func TestPlan_RoleAggWeb01(t *testing.T) {
	jobs, failures := newPlanner().Plan([]domain.Host{domain.NewHost("web01", "firewall", "mysql")}, domain.ModeRoleAgg, nil)

	require.Empty(t, failures)
	require.Len(t, jobs, 1)
	assert.Equal(t, []domain.Role{"firewall", "mysql"}, jobs[0].Roles)
	assert.Equal(t, "/backups/web01/web01_role_agg_backup_20240501-030000.tar.gz", jobs[0].ArchivePath())
}

func TestPlan_SystemFullSkipsHostsWithoutRole(t *testing.T) {
	jobs, failures := newPlanner().Plan(testHosts(), domain.ModeSystemFull, nil)

	require.Empty(t, failures)
	require.Len(t, jobs, 1)
	assert.Equal(t, "store01", jobs[0].Host)
	assert.Equal(t, []domain.Role{domain.RoleSystemFull}, jobs[0].Roles)
}

func TestPlan_Filter(t *testing.T) {
	jobs, _ := newPlanner().Plan(testHosts(), domain.ModeService, NewFilter("firewall", "bright"))
	require.Len(t, jobs, 2)
	assert.Equal(t, "web01", jobs[0].Host)
	assert.Equal(t, "mgmt01", jobs[1].Host)

	jobs, _ = newPlanner().Plan(testHosts(), domain.ModeRoleAgg, NewFilter("mysql"))
	require.Len(t, jobs, 1)
	assert.Equal(t, []domain.Role{"mysql"}, jobs[0].Roles)
}

func TestPlan_UnknownRoleService(t *testing.T) {
	hosts := []domain.Host{
		domain.NewHost("web01", "firewall", "nosuchrole", "mysql"),
		domain.NewHost("web02", "firewall"),
	}
	jobs, failures := newPlanner().Plan(hosts, domain.ModeService, nil)

	require.Len(t, jobs, 3)
	require.Len(t, failures, 1)
	assert.Equal(t, "web01", failures[0].Host)
	assert.Equal(t, domain.Role("nosuchrole"), failures[0].Role)
	assert.Equal(t, "nosuchrole", failures[0].Target())
	assert.Equal(t, domain.KindRegistry, domain.KindOf(failures[0].Err))
}

func TestPlan_UnknownRoleRoleAggFailsHost(t *testing.T) {
	hosts := []domain.Host{
		domain.NewHost("web01", "firewall", "nosuchrole"),
		domain.NewHost("web02", "firewall", "custom"),
		domain.NewHost("web03", "mysql"),
	}
	jobs, failures := newPlanner().Plan(hosts, domain.ModeRoleAgg, nil)

	require.Len(t, jobs, 1)
	assert.Equal(t, "web03", jobs[0].Host)
	require.Len(t, failures, 2)
	assert.Equal(t, "web01", failures[0].Host)
	assert.Equal(t, "role-agg", failures[0].Target())
	assert.Equal(t, "web02", failures[1].Host)
	assert.Equal(t, domain.Role("custom"), failures[1].Role)
}

func TestPlan_CustomModeIsNotPlannable(t *testing.T) {
	jobs, failures := newPlanner().Plan(testHosts(), domain.ModeCustom, nil)
	assert.Empty(t, jobs)
	assert.Len(t, failures, 3)
}

func TestPlan_HostWithoutRoles(t *testing.T) {
	jobs, failures := newPlanner().Plan([]domain.Host{domain.NewHost("idle01")}, domain.ModeRoleAgg, nil)
	assert.Empty(t, jobs)
	assert.Empty(t, failures)
}

func TestPlanCustom(t *testing.T) {
	job, err := newPlanner().PlanCustom("web01", []string{"/etc/hosts", "/opt/app"})
	require.NoError(t, err)
	assert.Equal(t, domain.ModeCustom, job.Mode)
	assert.Equal(t, []string{"/etc/hosts", "/opt/app"}, job.Paths)
	assert.Equal(t, "web01_custom_backup_20240501-030000.tar.gz", job.ArchiveName())

	_, err = newPlanner().PlanCustom("web01", nil)
	assert.Error(t, err)
	_, err = newPlanner().PlanCustom("web01", []string{"relative"})
	assert.Error(t, err)
	_, err = newPlanner().PlanCustom("bad_host", []string{"/etc"})
	assert.Error(t, err)
}
