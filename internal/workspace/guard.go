package workspace

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sakif/nalar/internal/apperror"
	"github.com/sakif/nalar/internal/model"
)

// Identity resolves a session token to its user.
type Identity interface {
	CurrentUser(ctx context.Context, token string) (*model.User, error)
}

// Entry is what the editor needs to open: who is signed in and their saved
// workspaces.
type Entry struct {
	User       *model.User       `json:"user"`
	Workspaces []model.Workspace `json:"workspaces"`
}

// Guard is the Session Guard. It runs on every visit to the editor; there is
// no long-lived subscription to session changes.
type Guard struct {
	identity Identity
	store    Store
	logger   *slog.Logger
}

func NewGuard(identity Identity, store Store, logger *slog.Logger) *Guard {
	return &Guard{identity: identity, store: store, logger: logger}
}

// Enter admits the holder of token. Missing, invalid, expired or revoked
// sessions and a failing identity backend all return ErrUnauthenticated; the
// caller sends the browser to the login page in every case.
func (g *Guard) Enter(ctx context.Context, token string) (*Entry, error) {
	user, err := g.identity.CurrentUser(ctx, token)
	if err != nil {
		if !errors.Is(err, apperror.ErrUnauthenticated) {
			g.logger.WarnContext(ctx, "session check failed", "error", err)
			return nil, apperror.Unauthenticated("not signed in")
		}
		return nil, err
	}

	return &Entry{
		User:       user,
		Workspaces: g.store.List(ctx, user.ID),
	}, nil
}
