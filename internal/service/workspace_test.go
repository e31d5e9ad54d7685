package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sakif/nalar/internal/apperror"
	"github.com/sakif/nalar/internal/model"
)

// =========================================================================
// MOCK REPOSITORY
// =========================================================================

// mockWorkspaceRepo keeps workspaces in insertion order; List walks it
// backwards to give newest first like the real stores.
type mockWorkspaceRepo struct {
	rows    []model.Workspace
	listErr error
	saveErr error
}

func (m *mockWorkspaceRepo) InsertWorkspace(_ context.Context, ws *model.Workspace) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	ws.ID = fmt.Sprintf("ws-%d", len(m.rows)+1)
	ws.CreatedAt = time.Now()
	m.rows = append(m.rows, *ws)
	return nil
}

func (m *mockWorkspaceRepo) ListWorkspacesByOwner(_ context.Context, ownerID string) ([]model.Workspace, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := []model.Workspace{}
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].OwnerID == ownerID {
			out = append(out, m.rows[i])
		}
	}
	return out, nil
}

func (m *mockWorkspaceRepo) GetWorkspaceByID(_ context.Context, id string) (*model.Workspace, error) {
	for _, ws := range m.rows {
		if ws.ID == id {
			cp := ws
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("workspace", id)
}

func newTestWorkspaceService(t *testing.T) (*WorkspaceService, *mockWorkspaceRepo) {
	t.Helper()
	repo := &mockWorkspaceRepo{}
	return NewWorkspaceService(repo, slog.New(slog.NewTextHandler(io.Discard, nil))), repo
}

// =========================================================================
// SAVE
// =========================================================================

func TestSave_Success(t *testing.T) {
	svc, _ := newTestWorkspaceService(t)

	ws, err := svc.Save(context.Background(), "user-1", "  Loops  ", "for i in range(3): print(i)", "It counts.")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if ws.ID == "" {
		t.Error("expected workspace to have an ID")
	}
	if ws.Title != "Loops" {
		t.Errorf("Title = %q, want trimmed %q", ws.Title, "Loops")
	}
	if ws.Explanation != "It counts." {
		t.Errorf("Explanation = %q", ws.Explanation)
	}
}

func TestSave_BlankTitleBecomesUntitled(t *testing.T) {
	svc, _ := newTestWorkspaceService(t)

	for _, title := range []string{"", "   "} {
		ws, err := svc.Save(context.Background(), "user-1", title, "x = 1", "")
		if err != nil {
			t.Fatalf("Save(%q) error = %v", title, err)
		}
		if ws.Title != UntitledTitle {
			t.Errorf("Save(%q).Title = %q, want %q", title, ws.Title, UntitledTitle)
		}
	}
}

func TestSave_Validation(t *testing.T) {
	tests := []struct {
		name    string
		ownerID string
		title   string
		code    string
		wantErr error
	}{
		{"no owner", "", "t", "x", apperror.ErrUnauthenticated},
		{"title too long", "u", strings.Repeat("a", MaxTitleLength+1), "x", apperror.ErrValidation},
		{"code too long", "u", "t", strings.Repeat("a", MaxCodeLength+1), apperror.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTestWorkspaceService(t)

			_, err := svc.Save(context.Background(), tt.ownerID, tt.title, tt.code, "")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Save() error = %v, want %v", err, tt.wantErr)
			}
			if len(repo.rows) != 0 {
				t.Error("nothing should have been stored")
			}
		})
	}
}

func TestSave_RepositoryError(t *testing.T) {
	svc, repo := newTestWorkspaceService(t)
	repo.saveErr = errors.New("disk full")

	if _, err := svc.Save(context.Background(), "user-1", "t", "x", ""); err == nil {
		t.Fatal("Save() should propagate repository errors")
	}
}

func TestSave_IsAlwaysAnInsert(t *testing.T) {
	svc, repo := newTestWorkspaceService(t)

	a, _ := svc.Save(context.Background(), "user-1", "Same", "x = 1", "")
	b, _ := svc.Save(context.Background(), "user-1", "Same", "x = 1", "")

	if a.ID == b.ID || len(repo.rows) != 2 {
		t.Errorf("saving identical content twice should create two records, got %d", len(repo.rows))
	}
}

// =========================================================================
// LIST
// =========================================================================

func TestList_NewestFirstAndScoped(t *testing.T) {
	svc, _ := newTestWorkspaceService(t)
	ctx := context.Background()

	_, _ = svc.Save(ctx, "user-1", "first", "", "")
	_, _ = svc.Save(ctx, "user-2", "someone else", "", "")
	_, _ = svc.Save(ctx, "user-1", "second", "", "")

	got := svc.List(ctx, "user-1")
	if len(got) != 2 {
		t.Fatalf("List() returned %d workspaces, want 2", len(got))
	}
	if got[0].Title != "second" || got[1].Title != "first" {
		t.Errorf("List() order = [%s %s], want [second first]", got[0].Title, got[1].Title)
	}
}

func TestList_SwallowsErrors(t *testing.T) {
	svc, repo := newTestWorkspaceService(t)
	repo.listErr = errors.New("connection refused")

	got := svc.List(context.Background(), "user-1")
	if got == nil || len(got) != 0 {
		t.Errorf("List() = %#v, want an empty non-nil slice", got)
	}
}

func TestList_NoOwner(t *testing.T) {
	svc, _ := newTestWorkspaceService(t)

	if got := svc.List(context.Background(), ""); len(got) != 0 {
		t.Errorf("List(\"\") = %v, want empty", got)
	}
}

// =========================================================================
// GET
// =========================================================================

func TestGet(t *testing.T) {
	svc, _ := newTestWorkspaceService(t)
	ctx := context.Background()
	mine, _ := svc.Save(ctx, "user-1", "mine", "x", "")

	tests := []struct {
		name    string
		ownerID string
		id      string
		wantErr error
	}{
		{"own workspace", "user-1", mine.ID, nil},
		{"someone else's", "user-2", mine.ID, apperror.ErrForbidden},
		{"missing", "user-1", "ws-404", apperror.ErrNotFound},
		{"blank id", "user-1", " ", apperror.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, err := svc.Get(ctx, tt.ownerID, tt.id)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if ws.Title != "mine" {
					t.Errorf("Title = %q", ws.Title)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Get() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
