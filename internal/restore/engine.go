// Package restore applies archive roles back onto a host.
package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sharkusmanch/fleet-backup/internal/archive"
	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// Catalog resolves role display names for the confirmation banner.
type Catalog interface {
	Lookup(r domain.Role) (*domain.RoleAction, bool)
}

// Extractor prepares an archive for extraction onto a host.
type Extractor interface {
	Open(ctx context.Context, host, archivePath string) (Extraction, error)
}

// Extraction writes selected archive content to its original paths.
type Extraction interface {
	// Extract applies one selector and returns the number of entries written.
	Extract(ctx context.Context, sel domain.RoleSelector) (int, error)
	Close() error
}

// Engine drives a restore through REQUESTED, CONFIRMING and EXTRACTING.
type Engine struct {
	extractor Extractor
	confirmer Confirmer
	catalog   Catalog
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithCatalog sets the catalog used for role display names.
func WithCatalog(c Catalog) EngineOption {
	return func(e *Engine) {
		e.catalog = c
	}
}

// NewEngine creates an Engine.
func NewEngine(extractor Extractor, confirmer Confirmer, opts ...EngineOption) *Engine {
	e := &Engine{
		extractor: extractor,
		confirmer: confirmer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Restore runs the state machine to a terminal state. Nothing is written
// before the operator confirmed the exact hostname.
func (e *Engine) Restore(ctx context.Context, req domain.RestoreRequest) (*domain.RestoreResult, error) {
	result := domain.NewRestoreResult(&req)
	logger := e.logger.With("host", req.Host, "archive", req.ArchivePath)

	manifest, err := e.inspect(ctx, &req, logger)
	if err != nil {
		logger.Error("restore aborted", "error", err, "kind", domain.KindOf(err))
		result.Abort(err)
		return result, nil
	}

	if req.DryRun {
		for _, sel := range req.Selectors {
			n, err := planned(manifest, sel, req.ArchivePath)
			if err == nil {
				logger.Info("dry run: would extract", "role", sel.String(), "entries", n)
			}
			result.AddRole(sel, n, err)
		}
		result.Finish()
		return result, nil
	}

	result.Transition(domain.RestoreConfirming)
	prompt := e.prompt(&req)
	if err := e.confirmer.Confirm(ctx, prompt); err != nil {
		logger.Error("restore aborted", "error", err, "kind", domain.KindOf(err))
		result.Abort(err)
		return result, nil
	}
	logger.Info("restore confirmed", "operator", req.Operator, "roles", prompt.RoleTags())

	ex, err := e.extractor.Open(ctx, req.Host, req.ArchivePath)
	if err != nil {
		logger.Error("restore aborted", "error", err, "kind", domain.KindOf(err))
		result.Abort(err)
		return result, nil
	}
	defer func() {
		if cerr := ex.Close(); cerr != nil {
			logger.Warn("failed to clean up restore staging", "error", cerr)
		}
	}()

	result.Transition(domain.RestoreExtracting)
	for _, sel := range req.Selectors {
		n, err := e.extract(ctx, ex, manifest, sel, req.ArchivePath)
		if err != nil {
			logger.Error("role restore failed", "role", sel.String(), "error", err, "kind", domain.KindOf(err))
		} else {
			logger.Info("role restored", "role", sel.String(), "entries", n)
		}
		result.AddRole(sel, n, err)
	}
	result.Finish()

	logger.Info("restore finished", "state", result.State, "duration", result.Duration)
	return result, nil
}

// inspect is the REQUESTED state: validate, verify and list the archive.
func (e *Engine) inspect(ctx context.Context, req *domain.RestoreRequest, logger *slog.Logger) (*domain.Manifest, error) {
	if err := domain.ValidateHostname(req.Host); err != nil {
		return nil, err
	}
	if req.ArchivePath == "" {
		return nil, errors.New("no archive given")
	}
	if len(req.Selectors) == 0 {
		return nil, errors.New("no roles selected")
	}
	req.Selectors = dedupeSelectors(req.Selectors)

	if host, _, _, err := domain.ParseArchiveName(req.ArchivePath); err == nil && host != req.Host {
		logger.Warn("archive was taken from a different host", "archive_host", host)
	}

	verified, err := archive.VerifySidecar(ctx, req.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("verify archive: %w", err)
	}
	if !verified {
		logger.Warn("no checksum sidecar, archive integrity not verified")
	}

	manifest, err := archive.ReadManifest(ctx, req.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	logger.Debug("archive inspected", "roles", manifest.Roles(), "entries", manifest.Total())
	return manifest, nil
}

// dedupeSelectors drops repeated roles. Extract-all covers every role, so
// when it is present it is the only selector kept.
func dedupeSelectors(sels []domain.RoleSelector) []domain.RoleSelector {
	out := make([]domain.RoleSelector, 0, len(sels))
	seen := make(map[domain.Role]bool, len(sels))
	for _, sel := range sels {
		if sel.IsAll() {
			return []domain.RoleSelector{domain.SelectAll()}
		}
		if seen[sel.Role()] {
			continue
		}
		seen[sel.Role()] = true
		out = append(out, sel)
	}
	return out
}

func (e *Engine) extract(ctx context.Context, ex Extraction, m *domain.Manifest, sel domain.RoleSelector, archivePath string) (int, error) {
	if _, err := planned(m, sel, archivePath); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return ex.Extract(ctx, sel)
}

// planned returns how many entries sel would extract.
func planned(m *domain.Manifest, sel domain.RoleSelector, archivePath string) (int, error) {
	if sel.IsAll() {
		return m.Total(), nil
	}
	if !m.Has(sel.Role()) {
		return 0, &domain.RoleNotFoundInArchive{Role: sel.Role(), Archive: archivePath}
	}
	return m.Entries[sel.Role()], nil
}

func (e *Engine) prompt(req *domain.RestoreRequest) Prompt {
	p := Prompt{Host: req.Host, Archive: req.ArchivePath, Operator: req.Operator}
	for _, sel := range req.Selectors {
		if sel.IsAll() {
			p.ExtractAll = true
			continue
		}
		name := string(sel.Role())
		if e.catalog != nil {
			if action, ok := e.catalog.Lookup(sel.Role()); ok {
				name = action.DisplayName()
			}
		}
		p.Roles = append(p.Roles, PromptRole{Role: sel.Role(), Name: name})
	}
	return p
}
