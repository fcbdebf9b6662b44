package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// MultiNotifier fans a notification out to every configured channel. One
// channel failing never stops delivery to the others.
type MultiNotifier struct {
	notifiers []domain.Notifier
}

// NewMultiNotifier creates a MultiNotifier. Nil notifiers are skipped, which
// lets callers pass an optional Apprise client directly.
func NewMultiNotifier(notifiers ...domain.Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of channels.
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// Notify delivers to every channel and joins the failures.
func (m *MultiNotifier) Notify(ctx context.Context, notification *domain.Notification) error {
	return m.each(func(n domain.Notifier) error {
		return n.Notify(ctx, notification)
	})
}

// Validate checks every channel and joins the failures.
func (m *MultiNotifier) Validate(ctx context.Context) error {
	return m.each(func(n domain.Notifier) error {
		return n.Validate(ctx)
	})
}

func (m *MultiNotifier) each(fn func(domain.Notifier) error) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := fn(n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", channelName(n), err))
		}
	}
	return errors.Join(errs...)
}

func channelName(n domain.Notifier) string {
	switch n.(type) {
	case *AppriseClient:
		return "apprise"
	case *LogNotifier:
		return "log"
	default:
		return fmt.Sprintf("%T", n)
	}
}

var _ domain.Notifier = (*MultiNotifier)(nil)
