package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var hostnamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?)*$`)

// Host is a registry entry: a hostname and its ordered, de-duplicated roles.
type Host struct {
	Name  string
	roles []Role
}

// NewHost creates a Host. Duplicate and empty roles are dropped, keeping the
// first occurrence so aggregation order stays deterministic.
func NewHost(name string, roles ...Role) Host {
	h := Host{Name: name}
	seen := make(map[Role]bool, len(roles))
	for _, r := range roles {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		h.roles = append(h.roles, r)
	}
	return h
}

// Roles returns a copy of the host's roles in registry order.
func (h Host) Roles() []Role {
	out := make([]Role, len(h.roles))
	copy(out, h.roles)
	return out
}

// HasRole reports whether the host carries the given role.
func (h Host) HasRole(r Role) bool {
	for _, have := range h.roles {
		if have == r {
			return true
		}
	}
	return false
}

// ValidateHostname checks RFC 1123 syntax. Underscores are not allowed since
// they delimit archive name fields.
func ValidateHostname(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("hostname is empty")
	}
	if len(name) > 253 || !hostnamePattern.MatchString(name) {
		return fmt.Errorf("invalid hostname %q", name)
	}
	return nil
}
