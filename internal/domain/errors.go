package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failure for reports, metrics and notifications.
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindRegistry              ErrorKind = "RegistryError"
	KindConnectivity          ErrorKind = "ConnectivityError"
	KindCommand               ErrorKind = "CommandError"
	KindBuild                 ErrorKind = "BuildError"
	KindConfirmationMismatch  ErrorKind = "ConfirmationMismatch"
	KindRoleNotFoundInArchive ErrorKind = "RoleNotFoundInArchive"
	KindUnknown               ErrorKind = "Error"
)

// RegistryError reports a malformed or missing registry, or a role that does
// not resolve to a catalog entry.
type RegistryError struct {
	Path string
	Line int
	Host string
	Role Role
	Err  error
}

func (e *RegistryError) Error() string {
	var b strings.Builder
	b.WriteString("registry")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
		}
	}
	if e.Host != "" {
		fmt.Fprintf(&b, " host %s", e.Host)
	}
	if e.Role != "" {
		fmt.Fprintf(&b, " role %s", e.Role)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *RegistryError) Unwrap() error { return e.Err }

// Kind returns KindRegistry.
func (e *RegistryError) Kind() ErrorKind { return KindRegistry }

// ConnectivityError means the channel to a host could not be established or
// timed out.
type ConnectivityError struct {
	Host string
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("host %s unreachable: %v", e.Host, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Kind returns KindConnectivity.
func (e *ConnectivityError) Kind() ErrorKind { return KindConnectivity }

// CommandError means the channel was fine but the remote command exited non-zero.
type CommandError struct {
	Host     string
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command on %s exited with status %d", e.Host, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

// Kind returns KindCommand.
func (e *CommandError) Kind() ErrorKind { return KindCommand }

// BuildError means an archive could not be produced. No partial artifact is left behind.
type BuildError struct {
	Host   string
	Target string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s/%s: %v", e.Host, e.Target, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Kind returns KindBuild.
func (e *BuildError) Kind() ErrorKind { return KindBuild }

// ConfirmationMismatch aborts a restore whose typed confirmation differs from the hostname.
type ConfirmationMismatch struct {
	Host string
	Got  string
}

func (e *ConfirmationMismatch) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("restore to %s not confirmed: no hostname entered", e.Host)
	}
	return fmt.Sprintf("restore to %s not confirmed: got %q", e.Host, e.Got)
}

// Kind returns KindConfirmationMismatch.
func (e *ConfirmationMismatch) Kind() ErrorKind { return KindConfirmationMismatch }

// RoleNotFoundInArchive is a per-role restore failure.
type RoleNotFoundInArchive struct {
	Role    Role
	Archive string
}

func (e *RoleNotFoundInArchive) Error() string {
	return fmt.Sprintf("role %s not found in archive %s", e.Role, e.Archive)
}

// Kind returns KindRoleNotFoundInArchive.
func (e *RoleNotFoundInArchive) Kind() ErrorKind { return KindRoleNotFoundInArchive }

// KindOf returns the most specific kind found in err's chain. Connectivity wins
// over everything so that an unreachable host is reported as such even when the
// failure surfaced while building.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		connErr     *ConnectivityError
		regErr      *RegistryError
		confirmErr  *ConfirmationMismatch
		notFoundErr *RoleNotFoundInArchive
		cmdErr      *CommandError
		buildErr    *BuildError
	)
	switch {
	case errors.As(err, &connErr):
		return KindConnectivity
	case errors.As(err, &regErr):
		return KindRegistry
	case errors.As(err, &confirmErr):
		return KindConfirmationMismatch
	case errors.As(err, &notFoundErr):
		return KindRoleNotFoundInArchive
	case errors.As(err, &cmdErr):
		return KindCommand
	case errors.As(err, &buildErr):
		return KindBuild
	default:
		return KindUnknown
	}
}

// IsConnectivity reports whether err was caused by an unreachable host.
func IsConnectivity(err error) bool {
	var connErr *ConnectivityError
	return errors.As(err, &connErr)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
