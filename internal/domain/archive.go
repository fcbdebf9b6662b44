package domain

import (
	"sort"
	"time"
)

// Archive is a finished, immutable backup artifact.
type Archive struct {
	Path      string    `json:"path"`
	Host      string    `json:"host"`
	Mode      Mode      `json:"mode"`
	Roles     []Role    `json:"roles"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	Entries   int       `json:"entries"`

	// Warnings lists non-fatal problems met while building, such as a failed
	// advisory dump or files that changed while being read.
	Warnings []string `json:"warnings,omitempty"`
}

// Manifest lists the role directories found at the top level of an archive.
type Manifest struct {
	Path    string
	Entries map[Role]int
}

// NewManifest creates an empty manifest for the archive at path.
func NewManifest(path string) *Manifest {
	return &Manifest{Path: path, Entries: make(map[Role]int)}
}

// Add records one entry under the given role directory.
func (m *Manifest) Add(r Role) {
	m.Entries[r]++
}

// Has reports whether the archive contains entries for the role.
func (m *Manifest) Has(r Role) bool {
	return m.Entries[r] > 0
}

// Roles returns the roles present, sorted.
func (m *Manifest) Roles() []Role {
	roles := make([]Role, 0, len(m.Entries))
	for r := range m.Entries {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Total returns the number of entries across all roles.
func (m *Manifest) Total() int {
	n := 0
	for _, c := range m.Entries {
		n += c
	}
	return n
}
