package executor

import (
	"context"
	"sync"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// MockExecutor is a mock implementation of Transport for testing.
type MockExecutor struct {
	ExecuteFunc  func(ctx context.Context, cmd domain.Command) (*domain.CommandResult, error)
	ValidateFunc func(ctx context.Context, host string) error
	UploadFunc   func(ctx context.Context, host, localPath, remotePath string) error
	RemoveFunc   func(ctx context.Context, host, remotePath string) error
	CloseFunc    func() error

	mu sync.Mutex
	// Commands stores every command passed to Execute.
	Commands []domain.Command
	// Uploads stores "host:remotePath" for every Upload call.
	Uploads []string
}

// Execute records the command and calls ExecuteFunc.
func (m *MockExecutor) Execute(ctx context.Context, cmd domain.Command) (*domain.CommandResult, error) {
	m.mu.Lock()
	m.Commands = append(m.Commands, cmd)
	m.mu.Unlock()
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, cmd)
	}
	return &domain.CommandResult{Host: cmd.Host}, nil
}

// Validate calls the mock ValidateFunc.
func (m *MockExecutor) Validate(ctx context.Context, host string) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, host)
	}
	return nil
}

// Upload records the call and calls UploadFunc.
func (m *MockExecutor) Upload(ctx context.Context, host, localPath, remotePath string) error {
	m.mu.Lock()
	m.Uploads = append(m.Uploads, host+":"+remotePath)
	m.mu.Unlock()
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, host, localPath, remotePath)
	}
	return nil
}

// Remove calls the mock RemoveFunc.
func (m *MockExecutor) Remove(ctx context.Context, host, remotePath string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, host, remotePath)
	}
	return nil
}

// Close calls the mock CloseFunc.
func (m *MockExecutor) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Scripts returns the scripts executed on host, in order.
func (m *MockExecutor) Scripts(host string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.Commands {
		if c.Host == host {
			out = append(out, c.Script)
		}
	}
	return out
}

var _ Transport = (*MockExecutor)(nil)
