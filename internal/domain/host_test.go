package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHost_CollapsesDuplicates(t *testing.T) {
	h := NewHost("web01", "firewall", "mysql", "", "firewall", "grafana")

	assert.Equal(t, []Role{"firewall", "mysql", "grafana"}, h.Roles())
	assert.True(t, h.HasRole("mysql"))
	assert.False(t, h.HasRole("bright"))
}

func TestHost_RolesIsCopy(t *testing.T) {
	h := NewHost("web01", "firewall")
	roles := h.Roles()
	roles[0] = "mutated"

	assert.Equal(t, []Role{"firewall"}, h.Roles())
}

func TestValidateHostname(t *testing.T) {
	for _, ok := range []string{"web01", "node-1.cluster.local", "A1", "10.0.0.1"} {
		assert.NoError(t, ValidateHostname(ok), ok)
	}
	for _, bad := range []string{"", " ", "web_01", "-web", "web-", "a..b", strings.Repeat("a", 254)} {
		assert.Error(t, ValidateHostname(bad), bad)
	}
}

func TestRole_Validate(t *testing.T) {
	require.NoError(t, Role("beegfs-meta").Validate())
	require.NoError(t, Role("net-bonding").Validate())
	assert.Error(t, Role("beegfs_meta").Validate())
	assert.Error(t, Role("-x").Validate())
	assert.Error(t, Role("MySQL").Validate())
}

func TestRoleAction_Validate(t *testing.T) {
	valid := RoleAction{Role: "mysql", Paths: []string{"/etc/my.cnf"}, Dump: &DumpAction{Command: "mysqldump", Output: "/tmp/all.sql"}}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		action RoleAction
	}{
		{"reserved", RoleAction{Role: RoleCustom, Paths: []string{"/etc"}}},
		{"empty", RoleAction{Role: "x"}},
		{"relative path", RoleAction{Role: "x", Paths: []string{"etc/x"}}},
		{"dump without command", RoleAction{Role: "x", Dump: &DumpAction{Output: "/tmp/x"}}},
		{"dump without output", RoleAction{Role: "x", Dump: &DumpAction{Command: "true"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.action.Validate())
		})
	}
}

func TestRoleAction_SourcePaths(t *testing.T) {
	a := RoleAction{Role: "mysql", Paths: []string{"/etc/my.cnf"}, Dump: &DumpAction{Command: "dump", Output: "/tmp/all.sql"}}

	assert.Equal(t, []string{"/etc/my.cnf", "/tmp/all.sql"}, a.SourcePaths(true))
	assert.Equal(t, []string{"/etc/my.cnf"}, a.SourcePaths(false))

	a.Paths = append(a.Paths, "/tmp/all.sql")
	assert.Equal(t, []string{"/etc/my.cnf", "/tmp/all.sql"}, a.SourcePaths(true))
}

func TestParseRoleSelector(t *testing.T) {
	sel, err := ParseRoleSelector(" MySQL ")
	require.NoError(t, err)
	assert.False(t, sel.IsAll())
	assert.Equal(t, Role("mysql"), sel.Role())

	for _, word := range []string{"all", "ALL", "custom", "system-full"} {
		sel, err := ParseRoleSelector(word)
		require.NoError(t, err)
		assert.True(t, sel.IsAll(), word)
		assert.Equal(t, "*", sel.String())
	}

	_, err = ParseRoleSelector("")
	assert.Error(t, err)
	_, err = ParseRoleSelector("bad_role")
	assert.Error(t, err)
}
