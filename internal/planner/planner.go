// Package planner turns registry hosts and a backup mode into archive jobs.
package planner

import (
	"errors"
	"fmt"
	"time"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// Catalog resolves role tags.
type Catalog interface {
	Lookup(r domain.Role) (*domain.RoleAction, bool)
}

// PlanFailure is a host, or a single role on a host, that could not be planned.
type PlanFailure struct {
	Host string
	Role domain.Role
	Mode domain.Mode
	Err  error
}

// Target returns the label the failed job would have had.
func (f PlanFailure) Target() string {
	if f.Mode == domain.ModeService && f.Role != "" {
		return string(f.Role)
	}
	return string(f.Mode)
}

// Planner builds BackupJobs. It performs no I/O.
type Planner struct {
	catalog     Catalog
	destination string
	now         func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		p.now = now
	}
}

// New creates a Planner writing archives under destination.
func New(catalog Catalog, destination string, opts ...Option) *Planner {
	p := &Planner{
		catalog:     catalog,
		destination: destination,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Filter restricts planning to a subset of roles. A nil or empty Filter
// keeps every role.
type Filter map[domain.Role]bool

// NewFilter builds a Filter from role tags.
func NewFilter(roles ...domain.Role) Filter {
	if len(roles) == 0 {
		return nil
	}
	f := make(Filter, len(roles))
	for _, r := range roles {
		f[r] = true
	}
	return f
}

func (f Filter) keep(r domain.Role) bool {
	return len(f) == 0 || f[r]
}

// Plan produces jobs for every host in registry order. One timestamp is used
// for the whole plan. Hosts that cannot be planned are reported as failures
// and never stop planning of the others.
func (p *Planner) Plan(hosts []domain.Host, mode domain.Mode, filter Filter) ([]domain.BackupJob, []PlanFailure) {
	ts := p.now()
	var (
		jobs     []domain.BackupJob
		failures []PlanFailure
	)

	for _, h := range hosts {
		var (
			hj []domain.BackupJob
			hf []PlanFailure
		)
		switch mode {
		case domain.ModeService:
			hj, hf = p.planService(h, filter, ts)
		case domain.ModeRoleAgg:
			hj, hf = p.planRoleAgg(h, filter, ts)
		case domain.ModeSystemFull:
			hj = p.planSystemFull(h, ts)
		default:
			hf = []PlanFailure{{Host: h.Name, Mode: mode, Err: fmt.Errorf("mode %q cannot be planned from the registry", mode)}}
		}
		jobs = append(jobs, hj...)
		failures = append(failures, hf...)
	}

	return jobs, failures
}

// PlanCustom produces the single job for an operator-supplied path list.
func (p *Planner) PlanCustom(host string, paths []string) (domain.BackupJob, error) {
	job := domain.BackupJob{
		Host:        host,
		Mode:        domain.ModeCustom,
		Roles:       []domain.Role{domain.RoleCustom},
		Paths:       append([]string(nil), paths...),
		Destination: p.destination,
		Timestamp:   p.now(),
	}
	for _, path := range paths {
		if len(path) == 0 || path[0] != '/' {
			return domain.BackupJob{}, fmt.Errorf("custom path %q must be absolute", path)
		}
	}
	if err := job.Validate(); err != nil {
		return domain.BackupJob{}, err
	}
	return job, nil
}

func (p *Planner) planService(h domain.Host, filter Filter, ts time.Time) ([]domain.BackupJob, []PlanFailure) {
	var (
		jobs     []domain.BackupJob
		failures []PlanFailure
	)
	for _, r := range h.Roles() {
		if !filter.keep(r) {
			continue
		}
		if err := p.resolve(h.Name, r); err != nil {
			failures = append(failures, PlanFailure{Host: h.Name, Role: r, Mode: domain.ModeService, Err: err})
			continue
		}
		if r == domain.RoleSystemFull {
			jobs = append(jobs, p.job(h.Name, domain.ModeSystemFull, []domain.Role{r}, ts))
			continue
		}
		jobs = append(jobs, p.job(h.Name, domain.ModeService, []domain.Role{r}, ts))
	}
	return jobs, failures
}

func (p *Planner) planRoleAgg(h domain.Host, filter Filter, ts time.Time) ([]domain.BackupJob, []PlanFailure) {
	var (
		roles []domain.Role
		errs  []error
		bad   domain.Role
	)
	for _, r := range h.Roles() {
		if !filter.keep(r) {
			continue
		}
		if err := p.resolve(h.Name, r); err != nil {
			if bad == "" {
				bad = r
			}
			errs = append(errs, err)
			continue
		}
		roles = append(roles, r)
	}

	if len(errs) > 0 {
		return nil, []PlanFailure{{Host: h.Name, Role: bad, Mode: domain.ModeRoleAgg, Err: errors.Join(errs...)}}
	}
	if len(roles) == 0 {
		return nil, nil
	}
	return []domain.BackupJob{p.job(h.Name, domain.ModeRoleAgg, roles, ts)}, nil
}

func (p *Planner) planSystemFull(h domain.Host, ts time.Time) []domain.BackupJob {
	if !h.HasRole(domain.RoleSystemFull) {
		return nil
	}
	return []domain.BackupJob{p.job(h.Name, domain.ModeSystemFull, []domain.Role{domain.RoleSystemFull}, ts)}
}

func (p *Planner) resolve(host string, r domain.Role) error {
	if r == domain.RoleCustom {
		return &domain.RegistryError{Host: host, Role: r, Err: errors.New("custom is only valid with an explicit path list")}
	}
	if _, ok := p.catalog.Lookup(r); !ok {
		return &domain.RegistryError{Host: host, Role: r, Err: errors.New("unknown role")}
	}
	return nil
}

func (p *Planner) job(host string, mode domain.Mode, roles []domain.Role, ts time.Time) domain.BackupJob {
	return domain.BackupJob{
		Host:        host,
		Mode:        mode,
		Roles:       roles,
		Destination: p.destination,
		Timestamp:   ts,
	}
}
