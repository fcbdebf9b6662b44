package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// SSHConfig holds the transport settings for SSHExecutor.
type SSHConfig struct {
	User                  string
	Port                  int
	IdentityFiles         []string
	KnownHostsFiles       []string
	InsecureIgnoreHostKey bool
	UseAgent              bool
	ConnectTimeout        time.Duration
	CommandTimeout        time.Duration
	Sudo                  bool
}

// SSHExecutor runs commands over SSH with key authentication only. One
// connection per host is kept open until Close.
type SSHExecutor struct {
	cfg    SSHConfig
	logger *slog.Logger

	initOnce  sync.Once
	initErr   error
	clientCfg *ssh.ClientConfig
	agentConn net.Conn

	mu    sync.Mutex
	conns map[string]*ssh.Client
}

// SSHOption configures an SSHExecutor.
type SSHOption func(*SSHExecutor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SSHOption {
	return func(e *SSHExecutor) {
		e.logger = logger
	}
}

// WithClientConfig supplies a prepared client configuration, bypassing key
// and known_hosts discovery.
func WithClientConfig(cfg *ssh.ClientConfig) SSHOption {
	return func(e *SSHExecutor) {
		e.clientCfg = cfg
	}
}

// NewSSHExecutor creates a new SSHExecutor.
func NewSSHExecutor(cfg SSHConfig, opts ...SSHOption) *SSHExecutor {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = time.Hour
	}
	e := &SSHExecutor{
		cfg:    cfg,
		logger: slog.Default(),
		conns:  make(map[string]*ssh.Client),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs cmd on its host and waits for it to exit.
func (e *SSHExecutor) Execute(ctx context.Context, cmd domain.Command) (*domain.CommandResult, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = e.cfg.CommandTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	client, session, err := e.session(callCtx, cmd.Host)
	if err != nil {
		return nil, e.classify(ctx, cmd.Host, err)
	}
	defer closeWithDebug(e.logger, "ssh session", session)

	var stdout, stderr bytes.Buffer
	sink := &errWriter{w: &stdout}
	if cmd.Stdout != nil {
		sink.w = cmd.Stdout
	}
	session.Stdin = cmd.Stdin
	session.Stdout = sink
	session.Stderr = &stderr

	script := wrapScript(cmd.Script, e.cfg.Sudo)
	e.logger.Debug("executing remote command", "host", cmd.Host, "command", cmd.Script, "timeout", timeout)

	done := make(chan error, 1)
	go func() { done <- session.Run(script) }()

	select {
	case err = <-done:
	case <-callCtx.Done():
		// Dropping the connection is the only reliable way to stop a remote
		// command whose stdin copy may still be blocked.
		_ = session.Signal(ssh.SIGKILL)
		e.evict(cmd.Host, client)
		return nil, e.classify(ctx, cmd.Host, fmt.Errorf("command timed out after %s: %w", timeout, callCtx.Err()))
	}

	result := &domain.CommandResult{
		Host:     cmd.Host,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.Stdout != nil {
		result.Stdout = ""
	}

	if sink.err != nil {
		return nil, fmt.Errorf("failed to write output of command on %s: %w", cmd.Host, sink.err)
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, &domain.CommandError{
				Host:     cmd.Host,
				Command:  cmd.Script,
				ExitCode: result.ExitCode,
				Stderr:   result.Stderr,
			}
		}
		e.evict(cmd.Host, client)
		return nil, e.classify(ctx, cmd.Host, err)
	}

	return result, nil
}

// Validate checks that the host accepts a connection and runs a trivial command.
func (e *SSHExecutor) Validate(ctx context.Context, host string) error {
	_, err := e.Execute(ctx, domain.Command{Host: host, Script: "true", Timeout: e.cfg.ConnectTimeout * 2})
	return err
}

// Upload copies a local file to remotePath over SFTP with mode 0600.
func (e *SSHExecutor) Upload(ctx context.Context, host, localPath, remotePath string) error {
	client, err := e.client(ctx, host)
	if err != nil {
		return e.classify(ctx, host, err)
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		e.evict(host, client)
		return e.classify(ctx, host, fmt.Errorf("create sftp client: %w", err))
	}
	defer closeWithDebug(e.logger, "sftp client", sc)

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file %q: %w", localPath, err)
	}
	defer closeWithDebug(e.logger, "upload source", src)

	dst, err := sc.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("create remote file %s:%s: %w", host, remotePath, err)
	}
	if err := dst.Chmod(0o600); err != nil {
		e.logger.Debug("failed to chmod staged file", "host", host, "path", remotePath, "error", err)
	}

	copyDone := make(chan error, 1)
	go func() {
		_, err := io.Copy(dst, src)
		copyDone <- err
	}()

	select {
	case err = <-copyDone:
	case <-ctx.Done():
		e.evict(host, client)
		return ctx.Err()
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("upload %s to %s:%s: %w", filepath.Base(localPath), host, remotePath, err)
	}

	e.logger.Debug("uploaded file", "host", host, "path", remotePath)
	return nil
}

// Remove deletes remotePath over SFTP. A missing file is not an error.
func (e *SSHExecutor) Remove(ctx context.Context, host, remotePath string) error {
	client, err := e.client(ctx, host)
	if err != nil {
		return e.classify(ctx, host, err)
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		return e.classify(ctx, host, fmt.Errorf("create sftp client: %w", err))
	}
	defer closeWithDebug(e.logger, "sftp client", sc)

	if err := sc.Remove(remotePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s:%s: %w", host, remotePath, err)
	}
	return nil
}

// Close closes every cached connection.
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for host, c := range e.conns {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close %s: %w", host, err))
		}
		delete(e.conns, host)
	}
	if e.agentConn != nil {
		closeWithDebug(e.logger, "ssh agent", e.agentConn)
		e.agentConn = nil
	}
	return errors.Join(errs...)
}

// session opens a session, redialling once if the cached connection went stale.
func (e *SSHExecutor) session(ctx context.Context, host string) (*ssh.Client, *ssh.Session, error) {
	client, err := e.client(ctx, host)
	if err != nil {
		return nil, nil, err
	}
	session, err := client.NewSession()
	if err == nil {
		return client, session, nil
	}

	e.logger.Debug("cached connection unusable, redialling", "host", host, "error", err)
	e.evict(host, client)
	client, err = e.client(ctx, host)
	if err != nil {
		return nil, nil, err
	}
	session, err = client.NewSession()
	if err != nil {
		e.evict(host, client)
		return nil, nil, fmt.Errorf("open session: %w", err)
	}
	return client, session, nil
}

func (e *SSHExecutor) client(ctx context.Context, host string) (*ssh.Client, error) {
	e.mu.Lock()
	if c, ok := e.conns[host]; ok {
		e.mu.Unlock()
		return c, nil
	}
	e.mu.Unlock()

	c, err := e.dial(ctx, host)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.conns[host]; ok {
		closeWithDebug(e.logger, "duplicate ssh connection", c)
		return existing, nil
	}
	e.conns[host] = c
	return c, nil
}

func (e *SSHExecutor) dial(ctx context.Context, host string) (*ssh.Client, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(e.cfg.Port))
	d := net.Dialer{Timeout: e.cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	_ = conn.SetDeadline(time.Now().Add(e.cfg.ConnectTimeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		closeWithDebug(e.logger, "tcp connection", conn)
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	e.logger.Debug("ssh connection established", "host", host, "user", cfg.User)
	return ssh.NewClient(c, chans, reqs), nil
}

func (e *SSHExecutor) evict(host string, c *ssh.Client) {
	e.mu.Lock()
	if cur, ok := e.conns[host]; ok && cur == c {
		delete(e.conns, host)
	}
	e.mu.Unlock()
	closeWithDebug(e.logger, "ssh connection", c)
}

// classify maps transport failures to ConnectivityError. Cancellation of the
// caller's context is returned unchanged so runs can stop cleanly.
func (e *SSHExecutor) classify(ctx context.Context, host string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &domain.ConnectivityError{Host: host, Err: err}
}

func (e *SSHExecutor) config() (*ssh.ClientConfig, error) {
	e.initOnce.Do(func() {
		if e.clientCfg != nil {
			return
		}
		e.clientCfg, e.initErr = e.buildClientConfig()
	})
	return e.clientCfg, e.initErr
}

func (e *SSHExecutor) buildClientConfig() (*ssh.ClientConfig, error) {
	user := e.cfg.User
	if user == "" {
		user = os.Getenv("USER")
	}

	var auth []ssh.AuthMethod
	if e.cfg.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				e.logger.Warn("ssh agent unavailable", "socket", sock, "error", err)
			} else {
				e.agentConn = conn
				auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}
	}

	var signers []ssh.Signer
	for _, path := range e.cfg.IdentityFiles {
		signer, err := loadSigner(path)
		if err != nil {
			e.logger.Warn("skipping identity file", "path", path, "error", err)
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		auth = append(auth, ssh.PublicKeys(signers...))
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh credentials: enable ssh.use_agent or set ssh.identity_files")
	}

	hostKeys, err := e.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         e.cfg.ConnectTimeout,
	}, nil
}

func (e *SSHExecutor) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if e.cfg.InsecureIgnoreHostKey {
		e.logger.Warn("host key verification disabled")
		// #nosec G106 -- explicitly requested by configuration
		return ssh.InsecureIgnoreHostKey(), nil
	}

	var files []string
	for _, f := range e.cfg.KnownHostsFiles {
		if _, err := os.Stat(f); err == nil {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no readable known_hosts file among %v", e.cfg.KnownHostsFiles)
	}
	cb, err := knownhosts.New(files...)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

// loadSigner reads an unencrypted private key. Encrypted keys belong in the agent.
func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, errors.New("key is passphrase protected; load it into ssh-agent")
		}
		return nil, err
	}
	return signer, nil
}

// DefaultIdentityFiles returns the usual private key locations under ~/.ssh.
func DefaultIdentityFiles() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_ecdsa"),
		filepath.Join(home, ".ssh", "id_rsa"),
	}
}

// DefaultKnownHostsFiles returns the user and system known_hosts files.
func DefaultKnownHostsFiles() []string {
	files := []string{"/etc/ssh/ssh_known_hosts"}
	if home, err := os.UserHomeDir(); err == nil {
		files = append([]string{filepath.Join(home, ".ssh", "known_hosts")}, files...)
	}
	return files
}

var (
	_ domain.Executor     = (*SSHExecutor)(nil)
	_ domain.FileTransfer = (*SSHExecutor)(nil)
)
