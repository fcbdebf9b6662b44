package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Role is a tag naming a service or subsystem whose configuration is backed up independently.
type Role string

const (
	// RoleSystemFull targets the whole filesystem minus a fixed set of volatile directories.
	RoleSystemFull Role = "system-full"
	// RoleCustom targets an explicit operator-supplied path list.
	RoleCustom Role = "custom"
)

var roleTagPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// String returns the role tag.
func (r Role) String() string {
	return string(r)
}

// IsSpecial reports whether the role bypasses per-role catalog content.
func (r Role) IsSpecial() bool {
	return r == RoleSystemFull || r == RoleCustom
}

// Validate checks the tag syntax. Underscores are rejected because they separate
// the fields of an archive file name.
func (r Role) Validate() error {
	if !roleTagPattern.MatchString(string(r)) {
		return fmt.Errorf("invalid role tag %q: must match %s", string(r), roleTagPattern.String())
	}
	return nil
}

// NormalizeRole trims and lower-cases a raw role tag.
func NormalizeRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// DumpAction describes a command run on the target host before archiving, whose
// output file is then collected with the role's paths.
type DumpAction struct {
	// Command is the shell command executed remotely.
	Command string `json:"command"`

	// Output is the remote path the command writes to.
	Output string `json:"output"`

	// Advisory marks the dump as best-effort. A failed fatal dump aborts the job.
	Advisory bool `json:"advisory,omitempty"`

	// Cleanup removes Output from the host once the archive is complete.
	Cleanup bool `json:"cleanup,omitempty"`
}

// Fatal reports whether a failure of this dump must abort the whole job.
func (d *DumpAction) Fatal() bool {
	return d != nil && !d.Advisory
}

// RoleAction is the backup recipe for a single role.
type RoleAction struct {
	Role    Role        `json:"role"`
	Name    string      `json:"name"`
	Paths   []string    `json:"paths"`
	Exclude []string    `json:"exclude,omitempty"`
	Dump    *DumpAction `json:"dump,omitempty"`
}

// DisplayName returns the human-readable name, falling back to the tag.
func (a *RoleAction) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return string(a.Role)
}

// SourcePaths returns the paths to collect. The dump output is appended when
// includeDump is set and it is not already listed.
func (a *RoleAction) SourcePaths(includeDump bool) []string {
	paths := make([]string, 0, len(a.Paths)+1)
	paths = append(paths, a.Paths...)
	if includeDump && a.Dump != nil && a.Dump.Output != "" {
		for _, p := range paths {
			if p == a.Dump.Output {
				return paths
			}
		}
		paths = append(paths, a.Dump.Output)
	}
	return paths
}

// Validate checks that the action can produce archive content.
func (a *RoleAction) Validate() error {
	if err := a.Role.Validate(); err != nil {
		return err
	}
	if a.Role == RoleCustom {
		return fmt.Errorf("role %q is reserved for operator-supplied paths", RoleCustom)
	}
	if len(a.Paths) == 0 && a.Dump == nil {
		return fmt.Errorf("role %q: at least one path or a dump is required", a.Role)
	}
	for _, p := range a.Paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("role %q: path %q must be absolute", a.Role, p)
		}
	}
	if a.Dump != nil {
		if strings.TrimSpace(a.Dump.Command) == "" {
			return fmt.Errorf("role %q: dump.command is required", a.Role)
		}
		if !strings.HasPrefix(a.Dump.Output, "/") {
			return fmt.Errorf("role %q: dump.output must be an absolute path", a.Role)
		}
	}
	return nil
}

// SystemFullExclusions returns the fixed exclusion set for system-full backups:
// kernel-virtual filesystems, temp directories, mount points and caches.
func SystemFullExclusions() []string {
	return []string{
		"/proc/*",
		"/sys/*",
		"/dev/*",
		"/tmp/*",
		"/var/tmp/*",
		"/run/*",
		"/var/run/*",
		"/mnt/*",
		"/media/*",
		"/lost+found",
		"/var/cache/*",
		".cache",
	}
}

// RoleSelector picks what to extract from an archive: one role, or everything.
type RoleSelector struct {
	role Role
	all  bool
}

// SelectRole returns a selector for a single role.
func SelectRole(r Role) RoleSelector {
	return RoleSelector{role: r}
}

// SelectAll returns the extract-everything selector.
func SelectAll() RoleSelector {
	return RoleSelector{all: true}
}

// selectAllWord is the --type value that extracts the whole archive.
const selectAllWord = "all"

// ParseRoleSelector converts a CLI --type value. The words "all", "custom"
// and "system-full" mean "extract every entry".
func ParseRoleSelector(s string) (RoleSelector, error) {
	r := NormalizeRole(s)
	if r == "" {
		return RoleSelector{}, fmt.Errorf("empty role selector")
	}
	if r == selectAllWord || r.IsSpecial() {
		return SelectAll(), nil
	}
	if err := r.Validate(); err != nil {
		return RoleSelector{}, err
	}
	return SelectRole(r), nil
}

// IsAll reports whether the selector extracts every entry.
func (s RoleSelector) IsAll() bool {
	return s.all
}

// Role returns the selected role; empty for the extract-all selector.
func (s RoleSelector) Role() Role {
	return s.role
}

// String returns a printable form.
func (s RoleSelector) String() string {
	if s.all {
		return "*"
	}
	return string(s.role)
}
