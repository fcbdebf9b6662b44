package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// fileFormat is the on-disk catalog layout:
//
//	roles:
//	  slurm:
//	    name: Slurm
//	    paths: [/etc/slurm]
//	    exclude: ["*.log"]
//	    dump:
//	      command: sacctmgr dump cluster file=/tmp/cluster.cfg
//	      output: /tmp/cluster.cfg
//	      fatal: false
//	      cleanup: true
type fileFormat struct {
	Roles map[string]fileRole `yaml:"roles"`
}

type fileRole struct {
	Name    string    `yaml:"name"`
	Paths   []string  `yaml:"paths"`
	Exclude []string  `yaml:"exclude"`
	Dump    *fileDump `yaml:"dump"`
}

type fileDump struct {
	Command string `yaml:"command"`
	Output  string `yaml:"output"`
	Fatal   *bool  `yaml:"fatal"`
	Cleanup bool   `yaml:"cleanup"`
}

// LoadFile reads role actions from a YAML catalog file. Unknown keys are rejected.
func LoadFile(path string) ([]domain.RoleAction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	actions, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return actions, nil
}

// Decode parses catalog YAML. Actions are returned sorted by role.
func Decode(data []byte) ([]domain.RoleAction, error) {
	var f fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	actions := make([]domain.RoleAction, 0, len(f.Roles))
	for tag, r := range f.Roles {
		a := domain.RoleAction{
			Role:    domain.Role(tag),
			Name:    r.Name,
			Paths:   r.Paths,
			Exclude: r.Exclude,
		}
		if r.Dump != nil {
			a.Dump = &domain.DumpAction{
				Command:  r.Dump.Command,
				Output:   r.Dump.Output,
				Advisory: r.Dump.Fatal != nil && !*r.Dump.Fatal,
				Cleanup:  r.Dump.Cleanup,
			}
		}
		if err := a.Validate(); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].Role < actions[j].Role })
	return actions, nil
}
