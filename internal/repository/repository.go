// Package repository declares the storage contracts. Services depend on these
// interfaces; repository/sqlite and repository/postgres implement them.
package repository

import (
	"context"
	"time"

	"github.com/sakif/nalar/internal/model"
)

// UserRepository stores identities.
type UserRepository interface {
	// CreateUser inserts a new user and fills in ID and timestamps.
	// Returns apperror.ErrConflict when the email is already taken.
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// UpsertOAuthUser creates or refreshes the user identified by
	// (user.Provider, user.ProviderID) and writes the stored row back into user.
	UpsertOAuthUser(ctx context.Context, user *model.User) error
	MarkEmailVerified(ctx context.Context, id string) error
	// DeleteUser removes the user and any one-time codes minted for them.
	// Returns apperror.ErrNotFound when no such user exists.
	DeleteUser(ctx context.Context, id string) error
}

// WorkspaceRepository stores saved snippets. There is deliberately no update
// or delete: a save is always an insert.
type WorkspaceRepository interface {
	InsertWorkspace(ctx context.Context, ws *model.Workspace) error
	// ListWorkspacesByOwner returns the owner's workspaces newest first.
	ListWorkspacesByOwner(ctx context.Context, ownerID string) ([]model.Workspace, error)
	GetWorkspaceByID(ctx context.Context, id string) (*model.Workspace, error)
}

// AuthCodeRepository stores one-time codes for /auth/callback.
type AuthCodeRepository interface {
	CreateAuthCode(ctx context.Context, code *model.AuthCode) error
	// ConsumeAuthCode deletes and returns the code if it exists and has not
	// expired at now. Unknown or expired codes yield apperror.ErrNotFound.
	ConsumeAuthCode(ctx context.Context, code string, now time.Time) (*model.AuthCode, error)
}

// Store is everything a backing database provides.
type Store interface {
	UserRepository
	WorkspaceRepository
	AuthCodeRepository
	Ping(ctx context.Context) error
	Close() error
}
