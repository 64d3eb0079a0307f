package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/core/transform"
	"github.com/JonMunkholm/poimport/internal/ledger"
	"github.com/JonMunkholm/poimport/internal/logging"
	"github.com/JonMunkholm/poimport/internal/retry"
	"github.com/JonMunkholm/poimport/internal/target"
)

// StrategyKind names a workspace organization mode.
type StrategyKind string

const (
	// Standalone gives every project its own workspace next to a shared
	// catalog workspace.
	Standalone StrategyKind = "standalone"
	// Portfolio nests projects under a shared parent container. Not yet
	// supported.
	Portfolio StrategyKind = "portfolio"
)

// WorkspaceStrategy decides how target workspaces are organized.
type WorkspaceStrategy interface {
	Kind() StrategyKind
	CreateStandardsWorkspace(ctx context.Context) (*Catalog, error)
	CreateProjectWorkspace(ctx context.Context, req ProjectWorkspaceRequest) (*ProjectWorkspace, error)
}

// TemplatePrompter asks an operator for a template workspace id. It returns
// 0 for "no template".
type TemplatePrompter interface {
	PromptTemplate(ctx context.Context, projectName string) (int64, error)
}

// ProjectWorkspaceRequest identifies the project container to reconcile.
type ProjectWorkspaceRequest struct {
	ProjectID   string
	ProjectName string
	// WorkspaceID reuses an existing workspace when set.
	WorkspaceID *int64
	// TemplateID: nil asks the prompter (blank when there is none), 0 forces
	// a blank workspace, positive copies that template.
	TemplateID *int64
}

// ProjectWorkspace is the reconciled project container.
type ProjectWorkspace struct {
	Workspace    *target.Workspace
	Outcome      Outcome
	TemplateID   int64
	FromTemplate bool
	// Hint is set when the container was created differently than asked.
	Hint string
}

// ----------------------------------------------------------------------------
// Standalone
// ----------------------------------------------------------------------------

// StandaloneStrategy places each project in its own workspace.
type StandaloneStrategy struct {
	rec     *Reconciler
	catalog *CatalogManager
	ledger  ledger.Store
	prompt  TemplatePrompter
}

// NewStandaloneStrategy returns the standalone strategy. ledgerStore and
// prompt may be nil.
func NewStandaloneStrategy(rec *Reconciler, catalog *CatalogManager, ledgerStore ledger.Store, prompt TemplatePrompter) *StandaloneStrategy {
	if ledgerStore == nil {
		ledgerStore = ledger.Nop{}
	}
	return &StandaloneStrategy{rec: rec, catalog: catalog, ledger: ledgerStore, prompt: prompt}
}

func (s *StandaloneStrategy) Kind() StrategyKind { return Standalone }

func (s *StandaloneStrategy) CreateStandardsWorkspace(ctx context.Context) (*Catalog, error) {
	return s.catalog.Ensure(ctx)
}

// CreateProjectWorkspace resolves the project workspace in order: explicit
// id, ledger mapping, exact name match, template copy, blank workspace.
func (s *StandaloneStrategy) CreateProjectWorkspace(ctx context.Context, req ProjectWorkspaceRequest) (*ProjectWorkspace, error) {
	log := logging.FromContext(ctx)
	name := transform.SanitizeName(req.ProjectName)

	if req.WorkspaceID != nil {
		ws, err := s.rec.GetWorkspace(ctx, *req.WorkspaceID)
		if apperr.IsNotFound(err) {
			return nil, apperr.NewConfigurationError("WORKSPACE_ID", "workspace %d not found", *req.WorkspaceID)
		}
		if err != nil {
			return nil, err
		}
		return &ProjectWorkspace{Workspace: ws, Outcome: Existing}, nil
	}

	if m, err := s.ledger.GetMapping(ctx, req.ProjectID); err == nil {
		ws, err := retry.Run(ctx, s.rec.Retry(), "get mapped workspace", func(ctx context.Context) (*target.Workspace, error) {
			return s.rec.API().GetWorkspace(ctx, m.WorkspaceID)
		})
		switch {
		case err == nil:
			return &ProjectWorkspace{Workspace: ws, Outcome: Existing}, nil
		case apperr.IsNotFound(err):
			log.Warn("mapped workspace is gone, resolving by name",
				zap.Int64("workspace_id", m.WorkspaceID))
		default:
			return nil, err
		}
	} else if !apperr.IsNotFound(err) {
		log.Warn("ledger mapping lookup failed", zap.Error(err))
	}

	ws, err := s.rec.FindWorkspaceByName(ctx, name)
	if err == nil {
		return &ProjectWorkspace{Workspace: ws, Outcome: Existing}, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}

	out := &ProjectWorkspace{Outcome: Created}
	templateID, err := s.templateID(ctx, req)
	if err != nil {
		out.Hint = fallbackHint("template acquisition failed", err)
		log.Warn("template acquisition failed, creating blank workspace", zap.Error(err))
	}

	if templateID > 0 {
		ws, err := retry.Run(ctx, s.rec.Retry(), "copy workspace", func(ctx context.Context) (*target.Workspace, error) {
			return s.rec.API().CopyWorkspace(ctx, templateID, name)
		})
		if err == nil {
			out.Workspace = ws
			out.TemplateID = templateID
			out.FromTemplate = true
			log.Info("workspace copied from template",
				zap.String("workspace", name),
				zap.Int64("template_id", templateID),
				zap.Int64("workspace_id", ws.ID))
			return out, nil
		}
		out.Hint = fallbackHint("template copy failed", err)
		log.Warn("template copy failed, creating blank workspace",
			zap.Int64("template_id", templateID), zap.Error(err))
	}

	ws, outcome, err := s.rec.GetOrCreateWorkspace(ctx, name)
	if err != nil {
		return nil, err
	}
	out.Workspace = ws
	out.Outcome = outcome
	return out, nil
}

// fallbackHint pairs the original error with what was done instead.
func fallbackHint(what string, err error) string {
	msg := fmt.Sprintf("%s (%v), created a blank workspace instead", what, err)
	if h := apperr.Hint(err); h != "" {
		msg += ". " + h
	}
	return msg
}

func (s *StandaloneStrategy) templateID(ctx context.Context, req ProjectWorkspaceRequest) (int64, error) {
	if req.TemplateID != nil {
		return *req.TemplateID, nil
	}
	if s.prompt == nil {
		return 0, nil
	}
	return s.prompt.PromptTemplate(ctx, req.ProjectName)
}

// ----------------------------------------------------------------------------
// Portfolio
// ----------------------------------------------------------------------------

// ErrPortfolioUnsupported is returned by every PortfolioStrategy operation.
var ErrPortfolioUnsupported = apperr.NewConfigurationError("WORKSPACE_STRATEGY",
	"portfolio organization is not yet supported, use %s", Standalone)

// PortfolioStrategy is the grouped organization mode. Every operation fails
// before touching the target.
type PortfolioStrategy struct{}

func (PortfolioStrategy) Kind() StrategyKind { return Portfolio }

func (PortfolioStrategy) CreateStandardsWorkspace(context.Context) (*Catalog, error) {
	return nil, ErrPortfolioUnsupported
}

func (PortfolioStrategy) CreateProjectWorkspace(context.Context, ProjectWorkspaceRequest) (*ProjectWorkspace, error) {
	return nil, ErrPortfolioUnsupported
}
