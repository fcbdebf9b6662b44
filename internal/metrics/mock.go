package metrics

import (
	"context"
	"sync"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// MockPusher records pushes for tests.
type MockPusher struct {
	PushFunc     func(ctx context.Context, metrics *domain.Metrics) error
	ValidateFunc func(ctx context.Context) error

	mu sync.Mutex
	// PushedMetrics holds every push in order, including failed ones.
	PushedMetrics []*domain.Metrics
}

// Push records metrics and calls PushFunc.
func (m *MockPusher) Push(ctx context.Context, metrics *domain.Metrics) error {
	m.mu.Lock()
	m.PushedMetrics = append(m.PushedMetrics, metrics)
	m.mu.Unlock()
	if m.PushFunc != nil {
		return m.PushFunc(ctx, metrics)
	}
	return nil
}

// Validate calls ValidateFunc.
func (m *MockPusher) Validate(ctx context.Context) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx)
	}
	return nil
}

// LastRun returns the run carried by the most recent push, or nil.
func (m *MockPusher) LastRun() *domain.RunResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.PushedMetrics) == 0 {
		return nil
	}
	return m.PushedMetrics[len(m.PushedMetrics)-1].Run
}

var _ domain.MetricsPusher = (*MockPusher)(nil)
