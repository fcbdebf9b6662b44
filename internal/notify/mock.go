package notify

import (
	"context"
	"sync"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// MockNotifier records notifications for tests.
type MockNotifier struct {
	NotifyFunc   func(ctx context.Context, notification *domain.Notification) error
	ValidateFunc func(ctx context.Context) error

	mu sync.Mutex
	// Notifications holds every notification in order, including failed sends.
	Notifications []*domain.Notification
}

// Notify records the notification and calls NotifyFunc.
func (m *MockNotifier) Notify(ctx context.Context, notification *domain.Notification) error {
	m.mu.Lock()
	m.Notifications = append(m.Notifications, notification)
	m.mu.Unlock()
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, notification)
	}
	return nil
}

// Validate calls ValidateFunc.
func (m *MockNotifier) Validate(ctx context.Context) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx)
	}
	return nil
}

// Levels returns the level of each recorded notification.
func (m *MockNotifier) Levels() []domain.NotificationLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	levels := make([]domain.NotificationLevel, len(m.Notifications))
	for i, n := range m.Notifications {
		levels[i] = n.Level
	}
	return levels
}

var _ domain.Notifier = (*MockNotifier)(nil)
