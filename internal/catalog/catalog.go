// Package catalog maps role tags to their backup recipes.
package catalog

import (
	"fmt"
	"sort"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// Catalog resolves roles to RoleActions. It is read-only once built.
type Catalog struct {
	actions map[domain.Role]*domain.RoleAction
}

// New creates a catalog from the given actions. Later actions replace earlier
// ones with the same role.
func New(actions ...domain.RoleAction) (*Catalog, error) {
	c := &Catalog{actions: make(map[domain.Role]*domain.RoleAction, len(actions))}
	if err := c.merge(actions); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(builtin()...)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// Load returns the built-in catalog extended by the YAML file at path.
// An empty path yields the built-in catalog.
func Load(path string) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	actions, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := c.merge(actions); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

func (c *Catalog) merge(actions []domain.RoleAction) error {
	for i := range actions {
		a := clone(&actions[i])
		if err := a.Validate(); err != nil {
			return err
		}
		c.actions[a.Role] = a
	}
	return nil
}

// Lookup returns a copy of the action for the role.
func (c *Catalog) Lookup(r domain.Role) (*domain.RoleAction, bool) {
	a, ok := c.actions[r]
	if !ok {
		return nil, false
	}
	return clone(a), true
}

// Roles returns every known role, sorted.
func (c *Catalog) Roles() []domain.Role {
	roles := make([]domain.Role, 0, len(c.actions))
	for r := range c.actions {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Len returns the number of roles.
func (c *Catalog) Len() int {
	return len(c.actions)
}

func clone(a *domain.RoleAction) *domain.RoleAction {
	out := *a
	out.Paths = append([]string(nil), a.Paths...)
	out.Exclude = append([]string(nil), a.Exclude...)
	if a.Dump != nil {
		d := *a.Dump
		out.Dump = &d
	}
	return &out
}
