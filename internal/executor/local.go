package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// LocalExecutor runs commands on the orchestrator machine through /bin/sh.
type LocalExecutor struct {
	shell   string
	sudo    bool
	timeout time.Duration
	env     map[string]string
	logger  *slog.Logger
}

// LocalOption configures a LocalExecutor.
type LocalOption func(*LocalExecutor)

// WithLocalLogger sets the logger.
func WithLocalLogger(logger *slog.Logger) LocalOption {
	return func(e *LocalExecutor) {
		e.logger = logger
	}
}

// WithSudo runs commands under sudo -n.
func WithSudo(sudo bool) LocalOption {
	return func(e *LocalExecutor) {
		e.sudo = sudo
	}
}

// WithTimeout sets the default per-command timeout.
func WithTimeout(d time.Duration) LocalOption {
	return func(e *LocalExecutor) {
		e.timeout = d
	}
}

// WithShell overrides the shell binary.
func WithShell(path string) LocalOption {
	return func(e *LocalExecutor) {
		e.shell = path
	}
}

// WithEnv sets extra environment variables for every command.
func WithEnv(env map[string]string) LocalOption {
	return func(e *LocalExecutor) {
		e.env = env
	}
}

// NewLocalExecutor creates a new LocalExecutor.
func NewLocalExecutor(opts ...LocalOption) *LocalExecutor {
	e := &LocalExecutor{
		shell:   "/bin/sh",
		timeout: time.Hour,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs cmd.Script locally. cmd.Host is only used in results and errors.
func (e *LocalExecutor) Execute(ctx context.Context, cmd domain.Command) (*domain.CommandResult, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{e.shell, "-c", cmd.Script}
	if e.sudo {
		args = append([]string{"sudo", "-n"}, args...)
	}

	e.logger.Debug("executing local command", "host", cmd.Host, "command", cmd.Script)

	// #nosec G204 -- scripts come from the role catalog and operator flags
	c := exec.CommandContext(callCtx, args[0], args[1:]...)
	c.WaitDelay = 5 * time.Second
	if len(e.env) > 0 {
		c.Env = os.Environ()
		for k, v := range e.env {
			c.Env = append(c.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	sink := &errWriter{w: &stdout}
	if cmd.Stdout != nil {
		sink.w = cmd.Stdout
	}
	c.Stdin = cmd.Stdin
	c.Stdout = sink
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if callCtx.Err() != nil {
		return nil, &domain.ConnectivityError{
			Host: cmd.Host,
			Err:  fmt.Errorf("command timed out after %s: %w", timeout, callCtx.Err()),
		}
	}
	if sink.err != nil {
		return nil, fmt.Errorf("failed to write output of command on %s: %w", cmd.Host, sink.err)
	}

	result := &domain.CommandResult{
		Host:     cmd.Host,
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.Stdout == nil {
		result.Stdout = stdout.String()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &domain.CommandError{
				Host:     cmd.Host,
				Command:  cmd.Script,
				ExitCode: result.ExitCode,
				Stderr:   result.Stderr,
			}
		}
		return nil, &domain.ConnectivityError{Host: cmd.Host, Err: fmt.Errorf("start %s: %w", e.shell, err)}
	}

	return result, nil
}

// Validate checks that the shell can be started.
func (e *LocalExecutor) Validate(ctx context.Context, host string) error {
	_, err := e.Execute(ctx, domain.Command{Host: host, Script: "true", Timeout: 10 * time.Second})
	return err
}

// Upload copies localPath to remotePath on this machine.
func (e *LocalExecutor) Upload(_ context.Context, _ string, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer closeWithDebug(e.logger, "copy source", src)

	if err := os.MkdirAll(filepath.Dir(remotePath), 0o750); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	dst, err := os.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy to %s: %w", remotePath, err)
	}
	return dst.Close()
}

// Remove deletes path. A missing file is not an error.
func (e *LocalExecutor) Remove(_ context.Context, _ string, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Close is a no-op.
func (e *LocalExecutor) Close() error {
	return nil
}

var (
	_ domain.Executor     = (*LocalExecutor)(nil)
	_ domain.FileTransfer = (*LocalExecutor)(nil)
)
