// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Services take repository interfaces, never a concrete *sqlite.DB, so tests
// inject in-memory fakes and the server picks SQLite or Postgres at startup
// without this package noticing.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/nalar/internal/apperror"
	"github.com/sakif/nalar/internal/model"
	"github.com/sakif/nalar/internal/repository"
)

const (
	MaxTitleLength       = 100
	MaxCodeLength        = 100000 // ~100KB of code
	MaxExplanationLength = 200000

	// UntitledTitle replaces a blank title on save.
	UntitledTitle = "Untitled Project"
)

// WorkspaceService is the Workspace Store: list, save and fetch a user's
// saved snippets. There is no update or delete; a save always inserts.
type WorkspaceService struct {
	repo   repository.WorkspaceRepository
	logger *slog.Logger
}

func NewWorkspaceService(repo repository.WorkspaceRepository, logger *slog.Logger) *WorkspaceService {
	return &WorkspaceService{repo: repo, logger: logger}
}

// List returns the owner's workspaces newest first.
//
// A failing store yields an empty list rather than an error: the editor still
// works without the sidebar, so the failure is only logged.
func (s *WorkspaceService) List(ctx context.Context, ownerID string) []model.Workspace {
	if ownerID == "" {
		return []model.Workspace{}
	}

	workspaces, err := s.repo.ListWorkspacesByOwner(ctx, ownerID)
	if err != nil {
		s.logger.WarnContext(ctx, "listing workspaces failed, showing none",
			slog.String("ownerID", ownerID),
			slog.String("error", err.Error()),
		)
		return []model.Workspace{}
	}
	return workspaces
}

// Save inserts a new workspace and returns the stored record.
func (s *WorkspaceService) Save(ctx context.Context, ownerID, title, code, explanation string) (*model.Workspace, error) {
	if ownerID == "" {
		return nil, apperror.Unauthenticated("sign in to save workspaces")
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = UntitledTitle
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}
	if len(code) > MaxCodeLength {
		return nil, apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxCodeLength))
	}
	if len(explanation) > MaxExplanationLength {
		return nil, apperror.ValidationFailed("explanation",
			fmt.Sprintf("explanation must be %d characters or less", MaxExplanationLength))
	}

	ws := &model.Workspace{
		OwnerID:     ownerID,
		Title:       title,
		Code:        code,
		Explanation: explanation,
	}
	if err := s.repo.InsertWorkspace(ctx, ws); err != nil {
		s.logger.ErrorContext(ctx, "failed to save workspace",
			slog.String("ownerID", ownerID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("saving workspace: %w", err)
	}

	s.logger.InfoContext(ctx, "workspace saved",
		slog.String("id", ws.ID),
		slog.String("title", ws.Title),
	)
	return ws, nil
}

// Get returns one of the owner's workspaces. Someone else's workspace is
// ErrForbidden, a missing one ErrNotFound.
func (s *WorkspaceService) Get(ctx context.Context, ownerID, id string) (*model.Workspace, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "workspace ID is required")
	}

	ws, err := s.repo.GetWorkspaceByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("loading workspace %s: %w", id, err)
	}
	if ws.OwnerID != ownerID {
		return nil, apperror.Forbidden("workspace belongs to another user")
	}
	return ws, nil
}
