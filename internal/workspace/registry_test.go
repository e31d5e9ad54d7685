package workspace

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sakif/nalar/internal/apperror"
	"github.com/sakif/nalar/internal/bridge"
	"github.com/sakif/nalar/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRegistry(ttl time.Duration) *Registry {
	deps := Deps{
		Runner:    &fakeRunner{out: &bridge.RunOutput{}},
		Explainer: &fakeExplainer{},
		Store:     &fakeStore{},
		Auth:      &fakeSignOuter{},
	}
	return NewRegistry(deps, ttl, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistry_OneControllerPerUser(t *testing.T) {
	r := newTestRegistry(time.Minute)

	a := r.Get("user-1")
	assert.Same(t, a, r.Get("user-1"))
	assert.NotSame(t, a, r.Get("user-2"))
	assert.Equal(t, 2, r.Len())

	r.Drop("user-1")
	assert.Equal(t, 1, r.Len())
	assert.NotSame(t, a, r.Get("user-1"), "a dropped user starts over")
}

func TestRegistry_SweepEvictsIdleOnly(t *testing.T) {
	r := newTestRegistry(time.Minute)

	idle := r.Get("idle")
	busy := r.Get("busy")
	fresh := r.Get("fresh")

	past := time.Now().Add(-time.Hour)
	idle.lastUsed = past
	busy.lastUsed = past
	busy.status = model.StatusRunning

	assert.Equal(t, 1, r.sweep(time.Now()))
	assert.Equal(t, 2, r.Len())

	assert.Same(t, busy, r.Get("busy"))
	assert.Same(t, fresh, r.Get("fresh"))
}

func TestRegistry_RunStopsWithContext(t *testing.T) {
	r := newTestRegistry(time.Minute)
	r.interval = 10 * time.Millisecond
	r.Get("user-1").lastUsed = time.Now().Add(-time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// =========================================================================
// Guard
// =========================================================================

type fakeIdentity struct {
	user *model.User
	err  error
}

func (f fakeIdentity) CurrentUser(context.Context, string) (*model.User, error) {
	return f.user, f.err
}

func TestGuard_Enter(t *testing.T) {
	store := &fakeStore{}
	_, _ = store.Save(context.Background(), "user-1", "Mine", "x", "")
	_, _ = store.Save(context.Background(), "user-2", "Theirs", "y", "")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	g := NewGuard(fakeIdentity{user: &model.User{ID: "user-1"}}, store, logger)
	entry, err := g.Enter(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "user-1", entry.User.ID)
	require.Len(t, entry.Workspaces, 1)
	assert.Equal(t, "Mine", entry.Workspaces[0].Title)
}

func TestGuard_EveryFailureIsUnauthenticated(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for name, err := range map[string]error{
		"no session":       apperror.Unauthenticated("no session"),
		"backend exploded": errors.New("dial tcp: connection refused"),
	} {
		t.Run(name, func(t *testing.T) {
			g := NewGuard(fakeIdentity{err: err}, &fakeStore{}, logger)

			_, got := g.Enter(context.Background(), "")
			assert.ErrorIs(t, got, apperror.ErrUnauthenticated)
		})
	}
}
