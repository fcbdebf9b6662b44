// Package executor runs commands on fleet hosts and moves files to them.
package executor

import (
	"io"
	"log/slog"
	"strings"
)

// ShellQuote quotes s for a POSIX shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// ShellJoin quotes each argument and joins them with spaces.
func ShellJoin(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = ShellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:,+@%", r)
}

// wrapScript runs script through sh, optionally under non-interactive sudo
// so a missing sudoers entry fails instead of prompting.
func wrapScript(script string, sudo bool) string {
	if !sudo {
		return "/bin/sh -c " + ShellQuote(script)
	}
	return "sudo -n /bin/sh -c " + ShellQuote(script)
}

// IsLocalHost reports whether host names the machine running the orchestrator.
func IsLocalHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "localhost.localdomain", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func closeWithDebug(logger *slog.Logger, name string, closer io.Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Debug("failed to close", "what", name, "error", err)
	}
}

// errWriter remembers the first write error so local sink failures are not
// mistaken for transport failures.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil && e.err == nil {
		e.err = err
	}
	return n, err
}
