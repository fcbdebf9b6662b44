// Package notify delivers run and restore notifications to operators.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
	"github.com/sharkusmanch/fleet-backup/internal/http"
)

// DefaultMaxBodyLength keeps bodies under the limit of the chattiest Apprise targets.
const DefaultMaxBodyLength = 1800

// AppriseClient posts notifications to an Apprise API server.
type AppriseClient struct {
	url        string
	key        string
	defaultTag string
	maxBody    int
	httpClient *http.Client
	logger     *slog.Logger
}

// AppriseOption configures an AppriseClient.
type AppriseOption func(*AppriseClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) AppriseOption {
	return func(a *AppriseClient) {
		a.httpClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AppriseOption {
	return func(a *AppriseClient) {
		a.logger = logger
	}
}

// WithDefaultTag routes untagged notifications to the given Apprise tag.
func WithDefaultTag(tag string) AppriseOption {
	return func(a *AppriseClient) {
		a.defaultTag = tag
	}
}

// WithMaxBodyLength caps the notification body. Values below 1 are ignored.
func WithMaxBodyLength(n int) AppriseOption {
	return func(a *AppriseClient) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// NewAppriseClient creates a client for the server at url using the stateful key.
func NewAppriseClient(url, key string, opts ...AppriseOption) *AppriseClient {
	a := &AppriseClient{
		url:        strings.TrimSuffix(url, "/"),
		key:        key,
		maxBody:    DefaultMaxBodyLength,
		httpClient: http.NewClient(),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

type appriseRequest struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Type   string `json:"type,omitempty"`
	Tag    string `json:"tag,omitempty"`
	Format string `json:"format,omitempty"`
}

// Notify posts the notification to /notify/{key}.
func (a *AppriseClient) Notify(ctx context.Context, notification *domain.Notification) error {
	tag := notification.Tag
	if tag == "" {
		tag = a.defaultTag
	}

	req := appriseRequest{
		Title:  notification.Title,
		Body:   truncateLines(notification.Body, a.maxBody),
		Type:   appriseType(notification.Level),
		Tag:    tag,
		Format: "text",
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	notifyURL := fmt.Sprintf("%s/notify/%s", a.url, a.key)

	a.logger.Debug("posting notification to apprise",
		"url", notifyURL,
		"title", notification.Title,
		"level", notification.Level,
		"tag", tag,
	)

	resp, err := a.httpClient.Post(ctx, notifyURL, "application/json", payload)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("apprise returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}

	return nil
}

// Validate checks if the Apprise server is reachable.
func (a *AppriseClient) Validate(ctx context.Context) error {
	detailsURL := fmt.Sprintf("%s/details/%s", a.url, a.key)

	if err := a.httpClient.CheckConnectivity(ctx, detailsURL); err != nil {
		// Stateless deployments have no per-key details page.
		if err2 := a.httpClient.CheckConnectivity(ctx, a.url); err2 != nil {
			return fmt.Errorf("apprise server not reachable at %s: %w", a.url, err)
		}
	}

	return nil
}

// truncateLines cuts body at a line boundary so that it fits in limit bytes,
// replacing the dropped lines with a count. A single oversized line is cut
// mid-line.
func truncateLines(body string, limit int) string {
	if len(body) <= limit {
		return body
	}

	lines := strings.SplitAfter(strings.TrimSuffix(body, "\n"), "\n")
	var b strings.Builder
	for i, line := range lines {
		footer := fmt.Sprintf("... %d more lines", len(lines)-i)
		if b.Len()+len(line)+len(footer) > limit {
			if b.Len() == 0 {
				cut := max(limit-3, 0)
				return body[:cut] + "..."
			}
			b.WriteString(footer)
			return b.String()
		}
		b.WriteString(line)
	}
	return b.String()
}

func appriseType(level domain.NotificationLevel) string {
	switch level {
	case domain.NotificationLevelSuccess:
		return "success"
	case domain.NotificationLevelWarning:
		return "warning"
	case domain.NotificationLevelError:
		return "failure"
	default:
		return "info"
	}
}

var _ domain.Notifier = (*AppriseClient)(nil)
