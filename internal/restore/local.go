package restore

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sharkusmanch/fleet-backup/internal/archive"
	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

const permBits = os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky

// LocalExtractor writes archive entries below a root directory on this machine.
type LocalExtractor struct {
	root   string
	logger *slog.Logger
}

// NewLocalExtractor creates a LocalExtractor. Entries land at root joined
// with their original absolute path.
func NewLocalExtractor(root string, logger *slog.Logger) *LocalExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalExtractor{root: root, logger: logger}
}

// Open resolves the root directory.
func (l *LocalExtractor) Open(_ context.Context, host, archivePath string) (Extraction, error) {
	abs, err := filepath.Abs(l.root)
	if err != nil {
		return nil, fmt.Errorf("resolve restore root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve restore root: %w", err)
	}
	return &localExtraction{
		root:    resolved,
		archive: archivePath,
		logger:  l.logger.With("host", host, "root", resolved),
	}, nil
}

type localExtraction struct {
	root    string
	archive string
	logger  *slog.Logger
}

func (x *localExtraction) Close() error { return nil }

// Extract walks the archive and writes every entry the selector matches.
func (x *localExtraction) Extract(ctx context.Context, sel domain.RoleSelector) (int, error) {
	n := 0
	err := archive.Walk(ctx, x.archive, func(hdr *tar.Header, r io.Reader) error {
		role, rel := archive.SplitEntry(hdr.Name)
		if rel == "" || (!sel.IsAll() && role != sel.Role()) {
			return nil
		}
		if err := x.entry(hdr, rel, r); err != nil {
			return fmt.Errorf("%s: %w", hdr.Name, err)
		}
		n++
		return nil
	})
	return n, err
}

func (x *localExtraction) entry(hdr *tar.Header, rel string, r io.Reader) error {
	target, err := x.target(rel)
	if err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return x.directory(target, hdr)
	case tar.TypeReg:
		return x.regular(target, hdr, r)
	case tar.TypeSymlink:
		return x.symlink(target, hdr)
	case tar.TypeLink:
		return x.hardlink(target, hdr)
	default:
		x.logger.Debug("skipping unsupported entry type", "entry", hdr.Name, "type", hdr.Typeflag)
		return nil
	}
}

// target maps a root-relative entry path into the root. Parent directories
// are created and must resolve inside the root, so a symlink restored earlier
// cannot redirect later writes.
func (x *localExtraction) target(rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if clean == "/" {
		return "", fmt.Errorf("invalid entry path %q", rel)
	}
	target := filepath.Join(x.root, filepath.FromSlash(clean))

	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", fmt.Errorf("resolve parent directory: %w", err)
	}
	if !within(x.root, resolved) {
		return "", fmt.Errorf("illegal path: %s resolves outside %s", rel, x.root)
	}
	return filepath.Join(resolved, filepath.Base(target)), nil
}

func (x *localExtraction) directory(target string, hdr *tar.Header) error {
	mode := hdr.FileInfo().Mode() & permBits
	if info, err := os.Lstat(target); err == nil && !info.IsDir() {
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("replace %s with directory: %w", target, err)
		}
	}
	if err := os.MkdirAll(target, mode.Perm()|0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	x.chown(target, hdr)
	if err := os.Chmod(target, mode); err != nil {
		return fmt.Errorf("chmod directory: %w", err)
	}
	x.chtimes(target, hdr)
	return nil
}

func (x *localExtraction) regular(target string, hdr *tar.Header, r io.Reader) error {
	mode := hdr.FileInfo().Mode() & permBits
	if err := removeExisting(target); err != nil {
		return err
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode.Perm())
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write file content: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	x.chown(target, hdr)
	if err := os.Chmod(target, mode); err != nil {
		return fmt.Errorf("chmod file: %w", err)
	}
	x.chtimes(target, hdr)
	return nil
}

// symlink recreates the link verbatim. Absolute targets are kept as they are
// meaningful on the host; the parent check in target guards later entries.
func (x *localExtraction) symlink(target string, hdr *tar.Header) error {
	if hdr.Linkname == "" {
		return errors.New("symlink without target")
	}
	if err := removeExisting(target); err != nil {
		return err
	}
	if err := os.Symlink(hdr.Linkname, target); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}
	if err := os.Lchown(target, hdr.Uid, hdr.Gid); err != nil {
		x.logger.Debug("failed to lchown symlink", "path", target, "error", err)
	}
	return nil
}

// hardlink links to an entry extracted earlier. Link names inside the archive
// carry the role directory, which is dropped like for the entry itself.
func (x *localExtraction) hardlink(target string, hdr *tar.Header) error {
	_, rel := archive.SplitEntry(hdr.Linkname)
	if rel == "" {
		return fmt.Errorf("invalid hardlink target %q", hdr.Linkname)
	}
	source, err := x.target(rel)
	if err != nil {
		return fmt.Errorf("hardlink target: %w", err)
	}
	if err := removeExisting(target); err != nil {
		return err
	}
	if err := os.Link(source, target); err != nil {
		return fmt.Errorf("create hardlink: %w", err)
	}
	return nil
}

func (x *localExtraction) chown(target string, hdr *tar.Header) {
	if err := os.Lchown(target, hdr.Uid, hdr.Gid); err != nil {
		x.logger.Debug("failed to chown", "path", target, "error", err)
	}
}

func (x *localExtraction) chtimes(target string, hdr *tar.Header) {
	atime := hdr.AccessTime
	if atime.IsZero() {
		atime = hdr.ModTime
	}
	if err := os.Chtimes(target, atime, hdr.ModTime); err != nil {
		x.logger.Debug("failed to set timestamps", "path", target, "error", err)
	}
}

func removeExisting(target string) error {
	info, err := os.Lstat(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s exists and is a directory", target)
	}
	if err := os.Remove(target); err != nil {
		return fmt.Errorf("remove existing %s: %w", target, err)
	}
	return nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
