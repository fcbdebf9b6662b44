package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Mode selects how a host's roles are grouped into archives.
type Mode string

const (
	// ModeService produces one archive per role.
	ModeService Mode = "service"
	// ModeRoleAgg produces one archive aggregating all of a host's roles.
	ModeRoleAgg Mode = "role-agg"
	// ModeSystemFull produces a whole-filesystem archive.
	ModeSystemFull Mode = "system-full"
	// ModeCustom archives an explicit path list on a single host.
	ModeCustom Mode = "custom"
)

// TimestampLayout is the timestamp format embedded in archive names.
const TimestampLayout = "20060102-150405"

// ArchiveExtension is the suffix of every archive produced.
const ArchiveExtension = ".tar.gz"

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeService, ModeRoleAgg, ModeSystemFull, ModeCustom:
		return m, nil
	default:
		return "", fmt.Errorf("unknown backup mode %q (want service, role-agg, system-full or custom)", s)
	}
}

// String returns the mode name.
func (m Mode) String() string {
	return string(m)
}

// nameToken returns the mode as it appears in archive names.
func (m Mode) nameToken() string {
	return strings.ReplaceAll(string(m), "-", "_")
}

// BackupJob is one unit of work for the archive builder. Every job produces
// exactly one archive.
type BackupJob struct {
	Host        string
	Mode        Mode
	Roles       []Role
	Paths       []string
	Destination string
	Timestamp   time.Time
}

// Validate checks the job invariants.
func (j *BackupJob) Validate() error {
	if err := ValidateHostname(j.Host); err != nil {
		return err
	}
	if len(j.Roles) == 0 {
		return fmt.Errorf("job for %s has no roles", j.Host)
	}
	if j.Mode == ModeService && len(j.Roles) != 1 {
		return fmt.Errorf("service job for %s must target exactly one role, got %d", j.Host, len(j.Roles))
	}
	if j.Mode == ModeCustom && len(j.Paths) == 0 {
		return fmt.Errorf("custom job for %s has no paths", j.Host)
	}
	if j.Destination == "" {
		return fmt.Errorf("job for %s has no destination", j.Host)
	}
	return nil
}

// Target returns the label used in logs, reports and metrics: the role for a
// service job, the mode otherwise.
func (j *BackupJob) Target() string {
	if j.Mode == ModeService && len(j.Roles) == 1 {
		return string(j.Roles[0])
	}
	return string(j.Mode)
}

// ArchiveName returns the archive file name for the job.
func (j *BackupJob) ArchiveName() string {
	return ArchiveName(j.Host, j.Mode, j.Roles, j.Timestamp)
}

// ArchivePath returns where the finished archive is placed: <destination>/<host>/<name>.
func (j *BackupJob) ArchivePath() string {
	return filepath.Join(j.Destination, j.Host, j.ArchiveName())
}

// ArchiveName builds <host>_<role>_backup_<ts>.tar.gz for single-role service
// archives and <host>_<mode>_backup_<ts>.tar.gz otherwise. Role tags use
// hyphens and mode tokens use underscores, so the two forms never collide.
func ArchiveName(host string, mode Mode, roles []Role, ts time.Time) string {
	token := mode.nameToken()
	if mode == ModeService && len(roles) == 1 {
		token = string(roles[0])
	}
	return fmt.Sprintf("%s_%s_backup_%s%s", host, token, ts.Format(TimestampLayout), ArchiveExtension)
}

// ParseArchiveName extracts the host, target token and timestamp from an archive
// file name produced by ArchiveName.
func ParseArchiveName(name string) (host, target string, ts time.Time, err error) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, ArchiveExtension) {
		return "", "", time.Time{}, fmt.Errorf("%s: not a %s archive", base, ArchiveExtension)
	}
	stem := strings.TrimSuffix(base, ArchiveExtension)
	idx := strings.LastIndex(stem, "_backup_")
	if idx < 0 {
		return "", "", time.Time{}, fmt.Errorf("%s: missing _backup_ marker", base)
	}
	ts, err = time.ParseInLocation(TimestampLayout, stem[idx+len("_backup_"):], time.Local)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("%s: bad timestamp: %w", base, err)
	}
	head := stem[:idx]
	sep := strings.Index(head, "_")
	if sep <= 0 || sep == len(head)-1 {
		return "", "", time.Time{}, fmt.Errorf("%s: cannot split host and target", base)
	}
	return head[:sep], head[sep+1:], ts, nil
}
