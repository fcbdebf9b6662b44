package notify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// LogNotifier writes notifications to the log, so runs without a
// notification server still leave a summary behind.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the notification at a level matching its severity.
func (l *LogNotifier) Notify(ctx context.Context, notification *domain.Notification) error {
	level := slog.LevelInfo
	switch notification.Level {
	case domain.NotificationLevelWarning:
		level = slog.LevelWarn
	case domain.NotificationLevelError:
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, notification.Title,
		"summary", strings.TrimSpace(notification.Body),
		"tag", notification.Tag,
	)
	return nil
}

// Validate always succeeds.
func (l *LogNotifier) Validate(_ context.Context) error {
	return nil
}

var _ domain.Notifier = (*LogNotifier)(nil)
