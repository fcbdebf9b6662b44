package executor

import (
	"context"
	"errors"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// Transport is an Executor that can also move files.
type Transport interface {
	domain.Executor
	domain.FileTransfer
}

// Router sends localhost targets to a local transport and everything else to
// a remote one.
type Router struct {
	remote Transport
	local  Transport
}

// NewRouter creates a Router.
func NewRouter(remote, local Transport) *Router {
	return &Router{remote: remote, local: local}
}

func (r *Router) pick(host string) Transport {
	if IsLocalHost(host) && r.local != nil {
		return r.local
	}
	return r.remote
}

// Execute runs cmd through the transport for cmd.Host.
func (r *Router) Execute(ctx context.Context, cmd domain.Command) (*domain.CommandResult, error) {
	return r.pick(cmd.Host).Execute(ctx, cmd)
}

// Validate checks host through its transport.
func (r *Router) Validate(ctx context.Context, host string) error {
	return r.pick(host).Validate(ctx, host)
}

// Upload copies a file through the transport for host.
func (r *Router) Upload(ctx context.Context, host, localPath, remotePath string) error {
	return r.pick(host).Upload(ctx, host, localPath, remotePath)
}

// Remove deletes a file through the transport for host.
func (r *Router) Remove(ctx context.Context, host, remotePath string) error {
	return r.pick(host).Remove(ctx, host, remotePath)
}

// Close closes both transports.
func (r *Router) Close() error {
	var errs []error
	if r.remote != nil {
		errs = append(errs, r.remote.Close())
	}
	if r.local != nil {
		errs = append(errs, r.local.Close())
	}
	return errors.Join(errs...)
}

var _ Transport = (*Router)(nil)
