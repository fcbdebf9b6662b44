package restore

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
	"github.com/sharkusmanch/fleet-backup/internal/executor"
)

// RemoteExtractor uploads the archive to the host and extracts it there with
// tar, dropping the role directory so entries land at their original paths.
type RemoteExtractor struct {
	transport executor.Transport
	tmpDir    string
	timeout   time.Duration
	logger    *slog.Logger
}

// RemoteOption configures a RemoteExtractor.
type RemoteOption func(*RemoteExtractor)

// WithRemoteLogger sets the logger.
func WithRemoteLogger(l *slog.Logger) RemoteOption {
	return func(r *RemoteExtractor) {
		r.logger = l
	}
}

// WithStagingDir sets the remote directory the archive is uploaded to.
func WithStagingDir(dir string) RemoteOption {
	return func(r *RemoteExtractor) {
		r.tmpDir = dir
	}
}

// WithExtractTimeout bounds each remote tar call.
func WithExtractTimeout(d time.Duration) RemoteOption {
	return func(r *RemoteExtractor) {
		r.timeout = d
	}
}

// NewRemoteExtractor creates a RemoteExtractor.
func NewRemoteExtractor(t executor.Transport, opts ...RemoteOption) *RemoteExtractor {
	r := &RemoteExtractor{
		transport: t,
		tmpDir:    "/tmp",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open uploads the archive to a unique staging path on host.
func (r *RemoteExtractor) Open(ctx context.Context, host, archivePath string) (Extraction, error) {
	staged := path.Join(r.tmpDir, "restore_"+uuid.NewString()+".tar.gz")
	logger := r.logger.With("host", host, "staged", staged)

	logger.Info("uploading archive for restore", "archive", archivePath)
	if err := r.transport.Upload(ctx, host, archivePath, staged); err != nil {
		return nil, fmt.Errorf("stage archive on %s: %w", host, err)
	}
	return &remoteExtraction{r: r, host: host, staged: staged, logger: logger}, nil
}

type remoteExtraction struct {
	r      *RemoteExtractor
	host   string
	staged string
	logger *slog.Logger
}

// Extract runs tar on the host. Verbose output lists one member per line,
// which gives the entry count.
func (x *remoteExtraction) Extract(ctx context.Context, sel domain.RoleSelector) (int, error) {
	script := ExtractScript(x.staged, sel)
	x.logger.Debug("extracting", "role", sel.String(), "script", script)

	res, err := x.r.transport.Execute(ctx, domain.Command{Host: x.host, Script: script, Timeout: x.r.timeout})
	if err != nil {
		return 0, err
	}
	return countLines(res.Stdout), nil
}

// Close removes the staged archive. It runs on its own deadline so a
// cancelled restore still cleans up.
func (x *remoteExtraction) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return x.r.transport.Remove(ctx, x.host, x.staged)
}

// ExtractScript returns the remote tar command for one selector.
func ExtractScript(staged string, sel domain.RoleSelector) string {
	args := []string{"tar", "--numeric-owner", "-xzpvf", staged, "-C", "/", "--strip-components=1"}
	if !sel.IsAll() {
		args = append(args, "--", string(sel.Role()))
	}
	return executor.ShellJoin(args...)
}

func countLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

var _ Extractor = (*RemoteExtractor)(nil)
var _ Extractor = (*LocalExtractor)(nil)
var _ Confirmer = (*PromptConfirmer)(nil)
var _ Confirmer = (*FlagConfirmer)(nil)
