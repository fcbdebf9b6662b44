// Package registry loads the host-to-roles mapping from a CSV file.
package registry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

const (
	columnHostname = "hostname"
	columnType     = "type"

	// roleSeparator splits the type column into role tags.
	roleSeparator = ";"
)

// Load reads and validates the registry at path.
func Load(path string) ([]domain.Host, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.RegistryError{Path: path, Err: err}
	}
	defer f.Close()

	return Parse(f, path)
}

// Parse reads a registry from r. name is used in error messages only.
//
// The first non-comment record is the header and must contain hostname and
// type columns; extra columns are ignored. Role tags are trimmed, lower-cased
// and de-duplicated. Unknown tags are not rejected here.
func Parse(r io.Reader, name string) ([]domain.Host, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &domain.RegistryError{Path: name, Err: errors.New("file is empty")}
	}
	if err != nil {
		return nil, &domain.RegistryError{Path: name, Err: err}
	}

	hostCol, typeCol, err := columns(header)
	if err != nil {
		return nil, &domain.RegistryError{Path: name, Line: 1, Err: err}
	}

	var hosts []domain.Host
	seen := make(map[string]int)

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &domain.RegistryError{Path: name, Err: err}
		}
		line, _ := cr.FieldPos(0)

		if isBlank(record) {
			continue
		}

		hostname := strings.TrimSpace(field(record, hostCol))
		if hostname == "" {
			return nil, &domain.RegistryError{Path: name, Line: line, Err: errors.New("empty hostname")}
		}
		if err := domain.ValidateHostname(hostname); err != nil {
			return nil, &domain.RegistryError{Path: name, Line: line, Host: hostname, Err: err}
		}
		key := strings.ToLower(hostname)
		if first, dup := seen[key]; dup {
			return nil, &domain.RegistryError{
				Path: name,
				Line: line,
				Host: hostname,
				Err:  fmt.Errorf("duplicate hostname (first seen on line %d)", first),
			}
		}
		seen[key] = line

		hosts = append(hosts, domain.NewHost(hostname, parseRoles(field(record, typeCol))...))
	}

	return hosts, nil
}

// columns locates the hostname and type columns in the header.
func columns(header []string) (hostCol, typeCol int, err error) {
	hostCol, typeCol = -1, -1
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch h {
		case columnHostname:
			if hostCol < 0 {
				hostCol = i
			}
		case columnType:
			if typeCol < 0 {
				typeCol = i
			}
		}
	}
	var missing []string
	if hostCol < 0 {
		missing = append(missing, columnHostname)
	}
	if typeCol < 0 {
		missing = append(missing, columnType)
	}
	if len(missing) > 0 {
		return 0, 0, fmt.Errorf("header is missing column(s): %s", strings.Join(missing, ", "))
	}
	return hostCol, typeCol, nil
}

func parseRoles(s string) []domain.Role {
	var roles []domain.Role
	for _, part := range strings.Split(s, roleSeparator) {
		if r := domain.NormalizeRole(part); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

func field(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
