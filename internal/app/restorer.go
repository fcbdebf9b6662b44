package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sharkusmanch/fleet-backup/internal/config"
	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// RestoreEngine performs a confirmation-gated restore.
type RestoreEngine interface {
	Restore(ctx context.Context, req domain.RestoreRequest) (*domain.RestoreResult, error)
}

// Restorer runs a restore and reports its outcome.
type Restorer struct {
	engine   RestoreEngine
	notifier domain.Notifier
	config   *config.Config
	logger   *slog.Logger
}

// RestorerOption configures a Restorer.
type RestorerOption func(*Restorer)

// WithRestoreNotifier sets the notifier.
func WithRestoreNotifier(n domain.Notifier) RestorerOption {
	return func(r *Restorer) {
		r.notifier = n
	}
}

// WithRestoreLogger sets the logger.
func WithRestoreLogger(l *slog.Logger) RestorerOption {
	return func(r *Restorer) {
		r.logger = l
	}
}

// NewRestorer creates a new Restorer.
func NewRestorer(cfg *config.Config, engine RestoreEngine, opts ...RestorerOption) *Restorer {
	r := &Restorer{
		engine:   engine,
		notifier: &domain.NopNotifier{},
		config:   cfg,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Restore runs the request. Dry runs and aborted confirmations are not notified.
func (r *Restorer) Restore(ctx context.Context, req domain.RestoreRequest) (*domain.RestoreResult, error) {
	req.DryRun = req.DryRun || r.config.DryRun

	result, err := r.engine.Restore(ctx, req)
	if err != nil {
		return nil, err
	}

	r.logger.Info("restore finished",
		"host", result.Host,
		"archive", result.ArchivePath,
		"state", result.State,
		"operator", result.Operator,
		"duration", result.Duration,
	)

	if req.DryRun || result.Kind == domain.KindConfirmationMismatch {
		return result, nil
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	if err := r.notify(notifyCtx, result); err != nil {
		r.logger.Error("failed to send notification", "error", err)
	}

	return result, nil
}

func (r *Restorer) notify(ctx context.Context, result *domain.RestoreResult) error {
	if r.notifier == nil {
		return nil
	}

	level := domain.NotificationLevelError
	switch {
	case result.Success() && !r.config.Apprise.Notify.Successes():
		return nil
	case result.Success():
		level = domain.NotificationLevelSuccess
	case result.State == domain.RestorePartialFailure && !r.config.Apprise.Notify.Warnings():
		return nil
	case result.State == domain.RestorePartialFailure:
		level = domain.NotificationLevelWarning
	}

	title := fmt.Sprintf("Restore on %s %s", result.Host, strings.ToLower(string(result.State)))
	return r.notifier.Notify(ctx, domain.NewNotification(title, restoreMessage(result), level).WithTag(r.config.Apprise.Tag))
}

func restoreMessage(result *domain.RestoreResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Archive: %s\n", result.ArchivePath)
	if result.Operator != "" {
		fmt.Fprintf(&b, "Operator: %s\n", result.Operator)
	}
	if result.Error != "" {
		fmt.Fprintf(&b, "Error [%s]: %s\n", result.Kind, result.Error)
	}
	for _, rr := range result.Roles {
		if rr.Success {
			fmt.Fprintf(&b, "%s: %d entries\n", rr.Role, rr.Entries)
		} else {
			fmt.Fprintf(&b, "%s [%s]: %s\n", rr.Role, rr.Kind, rr.Error)
		}
	}
	fmt.Fprintf(&b, "Duration: %s", result.Duration.Round(100*time.Millisecond))
	return b.String()
}
