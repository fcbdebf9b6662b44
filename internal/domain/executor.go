package domain

import (
	"context"
	"io"
	"time"
)

// Command is a shell command to run on a target host.
type Command struct {
	// Host is the target hostname.
	Host string

	// Script is passed to the remote shell verbatim.
	Script string

	// Stdin, when set, is streamed to the command's standard input.
	Stdin io.Reader

	// Stdout, when set, receives the command's standard output instead of
	// CommandResult.Stdout.
	Stdout io.Writer

	// Timeout bounds the call. Zero uses the executor default.
	Timeout time.Duration
}

// CommandResult contains the outcome of a command that ran to completion.
type CommandResult struct {
	Host     string        `json:"host"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Executor runs commands on target hosts over an already-authenticated channel.
//
// Execute returns a *ConnectivityError when the channel cannot be established
// or the call times out, and a *CommandError together with the result when the
// command exits non-zero.
type Executor interface {
	// Execute runs a command and waits for it to finish.
	Execute(ctx context.Context, cmd Command) (*CommandResult, error)

	// Validate checks that the host can be reached.
	Validate(ctx context.Context, host string) error

	// Close releases any cached connections.
	Close() error
}

// FileTransfer copies files to and removes files from target hosts.
type FileTransfer interface {
	// Upload copies a local file to remotePath on host.
	Upload(ctx context.Context, host, localPath, remotePath string) error

	// Remove deletes remotePath on host.
	Remove(ctx context.Context, host, remotePath string) error
}
