// Package archive builds role-grouped tar.gz archives from remote hosts and
// reads them back for restore.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
	"github.com/sharkusmanch/fleet-backup/internal/executor"
)

// tarWarningExit is GNU tar's exit status for "file changed as we read it".
const tarWarningExit = 1

// Catalog resolves role tags.
type Catalog interface {
	Lookup(r domain.Role) (*domain.RoleAction, bool)
}

// Builder executes BackupJobs.
type Builder struct {
	exec           domain.Executor
	catalog        Catalog
	logger         *slog.Logger
	minFreeBytes   uint64
	compression    int
	commandTimeout time.Duration
	tarPath        string
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithMinFreeBytes refuses to start an archive when the destination has less
// free space than n.
func WithMinFreeBytes(n uint64) Option {
	return func(b *Builder) {
		b.minFreeBytes = n
	}
}

// WithCompressionLevel sets the gzip level.
func WithCompressionLevel(level int) Option {
	return func(b *Builder) {
		b.compression = level
	}
}

// WithCommandTimeout bounds each remote dump and tar call.
func WithCommandTimeout(d time.Duration) Option {
	return func(b *Builder) {
		b.commandTimeout = d
	}
}

// NewBuilder creates a Builder.
func NewBuilder(exec domain.Executor, catalog Catalog, opts ...Option) *Builder {
	b := &Builder{
		exec:        exec,
		catalog:     catalog,
		logger:      slog.Default(),
		compression: gzip.DefaultCompression,
		tarPath:     "tar",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// section is one top-level directory of an archive.
type section struct {
	role    domain.Role
	action  *domain.RoleAction
	paths   []string
	matcher *Matcher
}

// Build runs the job's dumps, collects every role into one archive and places
// it at job.ArchivePath(). No file is left at the final or temp path on error.
func (b *Builder) Build(ctx context.Context, job domain.BackupJob) (*domain.Archive, error) {
	if err := job.Validate(); err != nil {
		return nil, &domain.BuildError{Host: job.Host, Target: job.Target(), Err: err}
	}
	sections, err := b.sections(job)
	if err != nil {
		return nil, &domain.BuildError{Host: job.Host, Target: job.Target(), Err: err}
	}

	logger := b.logger.With("host", job.Host, "mode", job.Mode, "target", job.Target())
	archive := &domain.Archive{
		Path:      job.ArchivePath(),
		Host:      job.Host,
		Mode:      job.Mode,
		Roles:     job.Roles,
		Timestamp: job.Timestamp,
	}

	cleanups, err := b.runDumps(ctx, job, sections, archive, logger)
	defer b.cleanupDumps(job.Host, cleanups, logger)
	if err != nil {
		return nil, err
	}

	if err := b.write(ctx, job, sections, archive, logger); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &domain.BuildError{Host: job.Host, Target: job.Target(), Err: err}
	}

	logger.Info("archive written",
		"archive", archive.Path,
		"size", archive.Size,
		"entries", archive.Entries,
		"warnings", len(archive.Warnings),
	)
	return archive, nil
}

// Commands returns the remote commands Build would run, for dry runs.
func (b *Builder) Commands(job domain.BackupJob) ([]string, error) {
	sections, err := b.sections(job)
	if err != nil {
		return nil, err
	}
	var cmds []string
	for _, s := range sections {
		if s.action != nil && s.action.Dump != nil {
			cmds = append(cmds, s.action.Dump.Command)
		}
	}
	for _, s := range sections {
		cmds = append(cmds, b.tarScript(s.paths, s.matcher))
	}
	return cmds, nil
}

func (b *Builder) sections(job domain.BackupJob) ([]section, error) {
	if job.Mode == domain.ModeCustom {
		return []section{{
			role:    domain.RoleCustom,
			paths:   job.Paths,
			matcher: NewMatcher(),
		}}, nil
	}

	out := make([]section, 0, len(job.Roles))
	for _, r := range job.Roles {
		action, ok := b.catalog.Lookup(r)
		if !ok {
			return nil, &domain.RegistryError{Host: job.Host, Role: r, Err: errors.New("unknown role")}
		}
		excludes := action.Exclude
		if r == domain.RoleSystemFull {
			excludes = append(append([]string(nil), excludes...), domain.SystemFullExclusions()...)
		}
		out = append(out, section{
			role:    r,
			action:  action,
			paths:   action.SourcePaths(true),
			matcher: NewMatcher(excludes...),
		})
	}
	return out, nil
}

// runDumps executes dump commands in role order. A failed fatal dump aborts
// the job; a failed advisory dump drops its output from the role's paths.
func (b *Builder) runDumps(ctx context.Context, job domain.BackupJob, sections []section, archive *domain.Archive, logger *slog.Logger) ([]string, error) {
	var cleanups []string
	for i := range sections {
		s := &sections[i]
		if s.action == nil || s.action.Dump == nil {
			continue
		}
		dump := s.action.Dump
		logger.Info("running dump", "role", s.role, "output", dump.Output)

		_, err := b.exec.Execute(ctx, domain.Command{Host: job.Host, Script: dump.Command, Timeout: b.commandTimeout})
		if err == nil {
			if dump.Cleanup {
				cleanups = append(cleanups, dump.Output)
			}
			continue
		}
		if ctx.Err() != nil || domain.IsConnectivity(err) || dump.Fatal() {
			return cleanups, &domain.BuildError{
				Host:   job.Host,
				Target: job.Target(),
				Err:    fmt.Errorf("dump for role %s: %w", s.role, err),
			}
		}

		msg := fmt.Sprintf("advisory dump for role %s failed, %s omitted: %v", s.role, dump.Output, err)
		logger.Warn("advisory dump failed", "role", s.role, "error", err)
		archive.Warnings = append(archive.Warnings, msg)
		s.paths = s.action.SourcePaths(false)
	}
	return cleanups, nil
}

func (b *Builder) cleanupDumps(host string, outputs []string, logger *slog.Logger) {
	if len(outputs) == 0 {
		return
	}
	// Cleanup must run even when the job was cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	script := "rm -rf -- " + executor.ShellJoin(outputs...)
	if _, err := b.exec.Execute(ctx, domain.Command{Host: host, Script: script, Timeout: time.Minute}); err != nil {
		logger.Warn("failed to remove dump output", "outputs", outputs, "error", err)
	}
}

func (b *Builder) write(ctx context.Context, job domain.BackupJob, sections []section, archive *domain.Archive, logger *slog.Logger) (err error) {
	dir := filepath.Dir(archive.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	if _, err := os.Stat(archive.Path); err == nil {
		return fmt.Errorf("%w: %s", ErrArchiveExists, archive.Path)
	}
	if err := b.checkFreeSpace(dir); err != nil {
		return err
	}

	tmp := partialName(archive.Path)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
		if err != nil {
			if rmErr := os.Remove(tmp); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				logger.Warn("failed to remove partial archive", "path", tmp, "error", rmErr)
			}
		}
	}()

	hash := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(f, hash)}
	gz, err := gzip.NewWriterLevel(counter, b.compression)
	if err != nil {
		return fmt.Errorf("create gzip writer: %w", err)
	}
	gz.Name = filepath.Base(archive.Path)
	gz.ModTime = job.Timestamp
	tw := tar.NewWriter(gz)

	for _, s := range sections {
		if len(s.paths) == 0 {
			// Dump-only role whose advisory dump failed.
			logger.Warn("role has nothing to collect", "role", s.role)
			archive.Warnings = append(archive.Warnings, fmt.Sprintf("role %s: nothing collected", s.role))
			continue
		}
		stats, warn, err := b.collect(ctx, job.Host, s, tw, logger)
		if err != nil {
			return err
		}
		if warn != "" {
			archive.Warnings = append(archive.Warnings, warn)
		}
		archive.Entries += stats.Entries
		logger.Debug("role collected", "role", s.role, "entries", stats.Entries, "excluded", stats.Excluded, "bytes", stats.Bytes)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finish gzip stream: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}
	if err := f.Close(); err != nil {
		f = nil
		return fmt.Errorf("close archive: %w", err)
	}
	f = nil

	if err := publish(tmp, archive.Path); err != nil {
		return err
	}

	archive.Size = counter.n
	archive.SHA256 = hex.EncodeToString(hash.Sum(nil))
	if serr := WriteSidecar(archive.Path, archive.SHA256); serr != nil {
		logger.Warn("failed to write checksum sidecar", "archive", archive.Path, "error", serr)
		archive.Warnings = append(archive.Warnings, fmt.Sprintf("checksum sidecar not written: %v", serr))
	}
	return nil
}

// collect streams one role's remote tar output into tw.
func (b *Builder) collect(ctx context.Context, host string, s section, tw *tar.Writer, logger *slog.Logger) (streamStats, string, error) {
	pr, pw := io.Pipe()
	type copyResult struct {
		stats streamStats
		err   error
	}
	done := make(chan copyResult, 1)
	go func() {
		stats, err := rerootStream(tw, pr, string(s.role), s.matcher)
		// Unblock the executor if we stopped reading early.
		pr.CloseWithError(errOrClosed(err))
		done <- copyResult{stats, err}
	}()

	script := b.tarScript(s.paths, s.matcher)
	logger.Debug("collecting role", "role", s.role, "paths", s.paths)
	res, execErr := b.exec.Execute(ctx, domain.Command{Host: host, Script: script, Stdout: pw, Timeout: b.commandTimeout})
	_ = pw.Close()
	cr := <-done

	if ctx.Err() != nil {
		return cr.stats, "", ctx.Err()
	}

	var warn string
	var cmdErr *domain.CommandError
	if errors.As(execErr, &cmdErr) && cmdErr.ExitCode == tarWarningExit && cr.err == nil {
		warn = fmt.Sprintf("role %s: tar reported changed files: %s", s.role, lastStderrLine(res))
		logger.Warn("tar completed with warnings", "role", s.role, "stderr", lastStderrLine(res))
		execErr = nil
	}
	if execErr != nil {
		return cr.stats, "", fmt.Errorf("collect role %s: %w", s.role, execErr)
	}
	if cr.err != nil {
		return cr.stats, "", fmt.Errorf("collect role %s: %w", s.role, cr.err)
	}
	return cr.stats, warn, nil
}

// tarScript builds the remote tar command. Paths are made relative to / so
// member names carry no leading slash. Exclusions are passed to tar as well so
// excluded trees are never read; the local matcher remains authoritative.
func (b *Builder) tarScript(paths []string, m *Matcher) string {
	args := []string{b.tarPath, "-C", "/", "-cf", "-", "--ignore-failed-read"}

	anchored, unanchored := m.Patterns()
	if len(anchored) > 0 {
		args = append(args, "--anchored")
		for _, p := range anchored {
			rel := strings.TrimLeft(p, "/")
			args = append(args, "--exclude="+rel, "--exclude=./"+rel)
		}
	}
	if len(unanchored) > 0 {
		args = append(args, "--no-anchored")
		for _, p := range unanchored {
			args = append(args, "--exclude="+p)
		}
	}

	args = append(args, "--")
	for _, p := range paths {
		rel := strings.TrimLeft(p, "/")
		if rel == "" {
			rel = "."
		}
		args = append(args, rel)
	}
	return executor.ShellJoin(args...)
}

func (b *Builder) checkFreeSpace(dir string) error {
	if b.minFreeBytes == 0 {
		return nil
	}
	free, err := freeBytes(dir)
	if err != nil {
		b.logger.Debug("free space check unavailable", "dir", dir, "error", err)
		return nil
	}
	if free < b.minFreeBytes {
		return fmt.Errorf("insufficient free space in %s: %d MiB available, %d MiB required",
			dir, free/(1<<20), b.minFreeBytes/(1<<20))
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func errOrClosed(err error) error {
	if err != nil {
		return err
	}
	return io.ErrClosedPipe
}

func lastStderrLine(res *domain.CommandResult) string {
	if res == nil {
		return ""
	}
	s := strings.TrimSpace(res.Stderr)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
