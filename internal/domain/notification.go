package domain

import "context"

// NotificationLevel represents the severity of a notification.
type NotificationLevel string

const (
	NotificationLevelInfo    NotificationLevel = "info"
	NotificationLevelSuccess NotificationLevel = "success"
	NotificationLevelWarning NotificationLevel = "warning"
	NotificationLevelError   NotificationLevel = "error"
)

// Notification is a message about a finished backup run or restore.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Level NotificationLevel `json:"level"`

	// Tag routes the notification on servers that support tagging.
	Tag string `json:"tag,omitempty"`
}

// NewNotification creates a new notification.
func NewNotification(title, body string, level NotificationLevel) *Notification {
	return &Notification{
		Title: title,
		Body:  body,
		Level: level,
	}
}

// WithTag returns the notification with its routing tag set.
func (n *Notification) WithTag(tag string) *Notification {
	n.Tag = tag
	return n
}

// Notifier defines the interface for sending notifications.
type Notifier interface {
	// Notify sends a notification.
	Notify(ctx context.Context, notification *Notification) error

	// Validate checks if the notifier is properly configured.
	Validate(ctx context.Context) error
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (n *NopNotifier) Notify(_ context.Context, _ *Notification) error { return nil }

func (n *NopNotifier) Validate(_ context.Context) error { return nil }
