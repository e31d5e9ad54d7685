package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/nalar/internal/auth"
	"github.com/sakif/nalar/internal/bridge"
	"github.com/sakif/nalar/internal/executor"
	"github.com/sakif/nalar/internal/handler"
	"github.com/sakif/nalar/internal/model"
	"github.com/sakif/nalar/internal/repository/sqlite"
	"github.com/sakif/nalar/internal/service"
	"github.com/sakif/nalar/internal/workspace"
)

const callbackURL = "http://nalar.test/auth/callback"

type captureMailer struct {
	mu    sync.Mutex
	links []string
}

func (m *captureMailer) SendVerification(_ context.Context, _, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, link)
	return nil
}

func (m *captureMailer) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.links) == 0 {
		return ""
	}
	return m.links[len(m.links)-1]
}

type fakeProvider struct{}

func (fakeProvider) Name() string { return model.ProviderGitHub }

func (fakeProvider) AuthURL(state string) string {
	return "https://provider.test/authorize?state=" + url.QueryEscape(state)
}

func (fakeProvider) Exchange(_ context.Context, code string) (*auth.ProviderUser, error) {
	if code != "good" {
		return nil, assert.AnError
	}
	return &auth.ProviderUser{Provider: model.ProviderGitHub, ID: "42", Email: "octo@example.com"}, nil
}

type testApp struct {
	t        *testing.T
	router   http.Handler
	runner   *httptest.Server
	exec     *MockExecutor
	explain  *MockExplainer
	mailer   *captureMailer
	registry *workspace.Registry
}

// newTestApp wires the real services over an in-memory database and a runner
// served by httptest, so requests travel through the bridge as in production.
func newTestApp(t *testing.T, confirmEmail bool) *testApp {
	t.Helper()
	logger := testLogger()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789", time.Hour)
	require.NoError(t, err)
	denylist := auth.NewMemoryDenylist()
	mailer := &captureMailer{}

	authSvc := service.NewAuthService(service.AuthDeps{
		Users:     db,
		Codes:     db,
		Tokens:    tokens,
		Passwords: auth.NewPasswordService(bcrypt.MinCost),
		Providers: auth.NewOAuthProviders(fakeProvider{}),
		Denylist:  denylist,
		Mailer:    mailer,
		Logger:    logger,
	}, service.AuthOptions{ConfirmEmail: confirmEmail})

	exec := &MockExecutor{ReturnRes: &executor.Result{}}
	explain := &MockExplainer{}
	execHandler := handler.NewExecuteHandler(exec, explain, logger)
	runnerRouter := chi.NewRouter()
	runnerRouter.Post("/run", execHandler.HandleRun)
	runnerRouter.Post("/explain", execHandler.HandleExplain)
	runner := httptest.NewServer(runnerRouter)
	t.Cleanup(runner.Close)

	br := bridge.New(runner.URL, 5*time.Second)
	store := service.NewWorkspaceService(db, logger)
	registry := workspace.NewRegistry(workspace.Deps{
		Runner:    br,
		Explainer: br,
		Store:     store,
		Auth:      authSvc,
		Logger:    logger,
	}, time.Hour, logger)
	guard := workspace.NewGuard(authSvc, store, logger)

	authH := handler.NewAuthHandler(authSvc, registry, callbackURL, false, logger)
	wsH := handler.NewWorkspaceHandler(guard, registry, store, false, logger)
	authn := auth.NewAuthenticator(tokens, denylist, logger)

	r := chi.NewRouter()
	r.Get("/", wsH.HandleEditor)
	r.Get("/login", authH.HandleLoginPage)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signin", authH.HandleSignIn)
		r.Post("/signup", authH.HandleSignUp)
		r.Get("/callback", authH.HandleAuthCallback)
		r.Get("/{provider}/login", authH.HandleOAuthLogin)
		r.Get("/{provider}/callback", authH.HandleOAuthCallback)
		r.With(authn.OptionalAuth).Post("/signout", authH.HandleSignOut)
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(authn.RequireAuth)
		r.Get("/me", authH.HandleMe)
		r.Get("/workspaces", wsH.HandleList)
		r.Get("/workspace", wsH.HandleState)
		r.Post("/workspace/run", wsH.HandleRun)
		r.Post("/workspace/explain", wsH.HandleExplain)
		r.Post("/workspace/save", wsH.HandleSave)
		r.Post("/workspace/new", wsH.HandleNew)
		r.Post("/workspace/load/{id}", wsH.HandleLoad)
		r.Put("/workspace/code", wsH.HandleCode)
		r.Post("/workspace/sidebar", wsH.HandleSidebar)
		r.Post("/workspace/logout", wsH.HandleLogout)
	})

	return &testApp{
		t:        t,
		router:   r,
		runner:   runner,
		exec:     exec,
		explain:  explain,
		mailer:   mailer,
		registry: registry,
	}
}

func (a *testApp) do(method, path, body, token string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	a.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token})
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

// signUp registers email and returns the session token. Requires an app built
// with confirmEmail off.
func (a *testApp) signUp(email string) string {
	a.t.Helper()
	rr := a.do(http.MethodPost, "/auth/signup", `{"email":"`+email+`","password":"hunter22"}`, "")
	require.Equal(a.t, http.StatusCreated, rr.Code, rr.Body.String())
	token := cookieValue(rr, auth.SessionCookie)
	require.NotEmpty(a.t, token)
	return token
}

func cookieValue(rr *httptest.ResponseRecorder, name string) string {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name && c.MaxAge >= 0 {
			return c.Value
		}
	}
	return ""
}

func decodeState(t *testing.T, rr *httptest.ResponseRecorder) model.EditorState {
	t.Helper()
	var s model.EditorState
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&s))
	return s
}

func TestEditor_RedirectsAnonymousToLogin(t *testing.T) {
	app := newTestApp(t, false)

	for name, token := range map[string]string{"no cookie": "", "garbage cookie": "not-a-jwt"} {
		t.Run(name, func(t *testing.T) {
			rr := app.do(http.MethodGet, "/", "", token)
			assert.Equal(t, http.StatusSeeOther, rr.Code)
			assert.Equal(t, "/login", rr.Header().Get("Location"))
		})
	}
}

func TestAPI_UnauthenticatedCarriesRedirect(t *testing.T) {
	app := newTestApp(t, false)

	rr := app.do(http.MethodGet, "/api/workspace", "", "")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), `"redirect":"/login"`)
}

func TestLoginPage_ListsProviders(t *testing.T) {
	app := newTestApp(t, false)

	rr := app.do(http.MethodGet, "/login", "", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"providers":["github"]}`, rr.Body.String())
}

func TestSignUpAndSignIn(t *testing.T) {
	app := newTestApp(t, false)
	token := app.signUp("Ada@Example.com")

	rr := app.do(http.MethodGet, "/", "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	var entry struct {
		User  model.User        `json:"user"`
		State model.EditorState `json:"state"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&entry))
	assert.Equal(t, "ada@example.com", entry.User.Email)
	assert.Equal(t, workspace.DefaultCode, entry.State.Code)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantMsg  string
	}{
		{"valid", `{"email":"ada@example.com","password":"hunter22"}`, http.StatusOK, ""},
		{"wrong password", `{"email":"ada@example.com","password":"nope"}`, http.StatusUnauthorized, service.MsgInvalidCredentials},
		{"unknown email", `{"email":"bob@example.com","password":"hunter22"}`, http.StatusUnauthorized, service.MsgInvalidCredentials},
		{"missing password", `{"email":"ada@example.com"}`, http.StatusBadRequest, service.MsgMissingCredentials},
		{"unknown field", `{"email":"ada@example.com","pass":"x"}`, http.StatusBadRequest, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := app.do(http.MethodPost, "/auth/signin", tt.body, "")
			assert.Equal(t, tt.wantCode, rr.Code)
			if tt.wantMsg != "" {
				assert.Contains(t, rr.Body.String(), tt.wantMsg)
				assert.Empty(t, cookieValue(rr, auth.SessionCookie))
			} else {
				assert.NotEmpty(t, cookieValue(rr, auth.SessionCookie))
			}
		})
	}
}

func TestSignUp_Validation(t *testing.T) {
	app := newTestApp(t, false)
	app.signUp("taken@example.com")

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantMsg  string
	}{
		{"password mismatch", `{"email":"a@example.com","password":"x1","confirmPassword":"x2"}`, http.StatusBadRequest, service.MsgPasswordMismatch},
		{"bad email", `{"email":"not-an-email","password":"x1"}`, http.StatusBadRequest, "invalid format"},
		{"duplicate", `{"email":"taken@example.com","password":"x1"}`, http.StatusConflict, "User already registered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := app.do(http.MethodPost, "/auth/signup", tt.body, "")
			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.wantMsg)
		})
	}
}

func TestSignUp_EmailVerification(t *testing.T) {
	app := newTestApp(t, true)

	rr := app.do(http.MethodPost, "/auth/signup", `{"email":"new@example.com","password":"hunter22"}`, "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Contains(t, rr.Body.String(), service.MsgVerificationPending)
	assert.Empty(t, cookieValue(rr, auth.SessionCookie))

	rr = app.do(http.MethodPost, "/auth/signin", `{"email":"new@example.com","password":"hunter22"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), service.MsgEmailNotConfirmed)

	link, err := url.Parse(app.mailer.last())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link.String(), callbackURL+"?code="))

	rr = app.do(http.MethodGet, "/auth/callback?"+link.RawQuery, "", "")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))
	assert.NotEmpty(t, cookieValue(rr, auth.SessionCookie))

	rr = app.do(http.MethodPost, "/auth/signin", `{"email":"new@example.com","password":"hunter22"}`, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	// One-time: the same link does not work twice.
	rr = app.do(http.MethodGet, "/auth/callback?"+link.RawQuery, "", "")
	assert.Equal(t, "/?auth=failed", rr.Header().Get("Location"))
}

func TestAuthCallback_WithoutCodeGoesHome(t *testing.T) {
	app := newTestApp(t, false)

	rr := app.do(http.MethodGet, "/auth/callback", "", "")

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))
}

func TestOAuthFlow(t *testing.T) {
	app := newTestApp(t, true)

	rr := app.do(http.MethodGet, "/auth/github/login", "", "")
	require.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	stateCookie := &http.Cookie{Name: "oauth_state", Value: cookieValue(rr, "oauth_state")}
	assert.Equal(t, state, stateCookie.Value)

	rr = app.do(http.MethodGet, "/auth/github/callback?code=good&state="+state, "", "", stateCookie)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	next, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/auth/callback", next.Path)
	code := next.Query().Get("code")
	require.NotEmpty(t, code)

	rr = app.do(http.MethodGet, "/auth/callback?code="+url.QueryEscape(code), "", "")
	require.Equal(t, "/", rr.Header().Get("Location"))
	token := cookieValue(rr, auth.SessionCookie)
	require.NotEmpty(t, token)

	rr = app.do(http.MethodGet, "/api/me", "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "octo@example.com")
}

func TestOAuthFlow_Failures(t *testing.T) {
	app := newTestApp(t, false)

	start := func() (string, *http.Cookie) {
		rr := app.do(http.MethodGet, "/auth/github/login", "", "")
		loc, _ := url.Parse(rr.Header().Get("Location"))
		return loc.Query().Get("state"), &http.Cookie{Name: "oauth_state", Value: cookieValue(rr, "oauth_state")}
	}

	t.Run("unknown provider", func(t *testing.T) {
		rr := app.do(http.MethodGet, "/auth/myspace/login", "", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "provider myspace is not enabled")
	})

	t.Run("state mismatch", func(t *testing.T) {
		state, _ := start()
		rr := app.do(http.MethodGet, "/auth/github/callback?code=good&state="+state, "", "",
			&http.Cookie{Name: "oauth_state", Value: "forged"})
		assert.Equal(t, "/?auth=failed", rr.Header().Get("Location"))
	})

	t.Run("provider exchange fails", func(t *testing.T) {
		state, cookie := start()
		rr := app.do(http.MethodGet, "/auth/github/callback?code=bad&state="+state, "", "", cookie)
		assert.Equal(t, "/?auth=failed", rr.Header().Get("Location"))
	})

	t.Run("user denied", func(t *testing.T) {
		state, cookie := start()
		rr := app.do(http.MethodGet, "/auth/github/callback?error=access_denied&state="+state, "", "", cookie)
		assert.Equal(t, "/?auth=denied", rr.Header().Get("Location"))
	})
}

func TestWorkspaceLifecycle(t *testing.T) {
	app := newTestApp(t, false)
	token := app.signUp("student@example.com")

	rr := app.do(http.MethodPut, "/api/workspace/code", `{"code":"print(x)"}`, token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "print(x)", decodeState(t, rr).Code)

	app.exec.ReturnRes = &executor.Result{Stderr: "NameError: name 'x' is not defined\n", ExitCode: 1}
	rr = app.do(http.MethodPost, "/api/workspace/run", "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	state := decodeState(t, rr)
	assert.Contains(t, state.Stderr, "NameError")
	assert.True(t, state.CanAskAI)
	assert.Equal(t, "print(x)", app.exec.CapturedCode)

	app.explain.Text = "Define `x` before printing it."
	rr = app.do(http.MethodPost, "/api/workspace/explain", "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	state = decodeState(t, rr)
	assert.Equal(t, "Define `x` before printing it.", state.Explanation)
	assert.False(t, state.CanAskAI)

	rr = app.do(http.MethodPost, "/api/workspace/explain", "", token)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = app.do(http.MethodPost, "/api/workspace/save", `{"title":"Variables"}`, token)
	require.Equal(t, http.StatusCreated, rr.Code)
	var saved struct {
		Workspace model.Workspace   `json:"workspace"`
		State     model.EditorState `json:"state"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&saved))
	assert.Equal(t, "Variables", saved.Workspace.Title)
	assert.Equal(t, "Define `x` before printing it.", saved.Workspace.Explanation)
	require.Len(t, saved.State.Workspaces, 1)

	rr = app.do(http.MethodPost, "/api/workspace/new", `{}`, token)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "confirmation_required")

	rr = app.do(http.MethodPost, "/api/workspace/new", `{"confirm":true}`, token)
	require.Equal(t, http.StatusOK, rr.Code)
	state = decodeState(t, rr)
	assert.Equal(t, workspace.NewWorkspaceCode, state.Code)
	assert.Empty(t, state.Stderr)
	assert.Empty(t, state.Explanation)

	rr = app.do(http.MethodPost, "/api/workspace/load/"+saved.Workspace.ID, "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	state = decodeState(t, rr)
	assert.Equal(t, "print(x)", state.Code)
	assert.Equal(t, "Define `x` before printing it.", state.Explanation)

	rr = app.do(http.MethodPost, "/api/workspace/save", "", token)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Body.String(), `"title":"Untitled Project"`)

	rr = app.do(http.MethodGet, "/api/workspaces", "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []model.Workspace
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, "Untitled Project", list[0].Title)
}

func TestWorkspace_LoadSomeoneElses(t *testing.T) {
	app := newTestApp(t, false)
	owner := app.signUp("owner@example.com")
	other := app.signUp("other@example.com")

	rr := app.do(http.MethodPost, "/api/workspace/save", `{"title":"Mine"}`, owner)
	require.Equal(t, http.StatusCreated, rr.Code)
	var saved struct {
		Workspace model.Workspace `json:"workspace"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&saved))

	rr = app.do(http.MethodPost, "/api/workspace/load/"+saved.Workspace.ID, "", other)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = app.do(http.MethodPost, "/api/workspace/load/doesnotexist", "", other)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWorkspace_RunWithBackendDown(t *testing.T) {
	app := newTestApp(t, false)
	token := app.signUp("offline@example.com")
	app.runner.Close()

	rr := app.do(http.MethodPost, "/api/workspace/run", "", token)

	require.Equal(t, http.StatusOK, rr.Code)
	state := decodeState(t, rr)
	assert.Equal(t, workspace.RunFallback, state.Stdout)
	assert.Empty(t, state.Stderr)
	require.NotNil(t, state.LastFailure)
	assert.Equal(t, model.FailureUnavailable, state.LastFailure.Kind)
}

func TestWorkspace_Sidebar(t *testing.T) {
	app := newTestApp(t, false)
	token := app.signUp("sidebar@example.com")

	rr := app.do(http.MethodPost, "/api/workspace/sidebar", `{"open":true}`, token)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeState(t, rr).SidebarOpen)
}

func TestSignOut_RevokesSession(t *testing.T) {
	for _, path := range []string{"/auth/signout", "/api/workspace/logout"} {
		t.Run(path, func(t *testing.T) {
			app := newTestApp(t, false)
			token := app.signUp("leaving@example.com")

			rr := app.do(http.MethodGet, "/", "", token)
			require.Equal(t, http.StatusOK, rr.Code)
			require.Equal(t, 1, app.registry.Len())

			rr = app.do(http.MethodPost, path, "", token)
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Contains(t, rr.Body.String(), `"redirect":"/login"`)
			assert.Equal(t, 0, app.registry.Len())

			rr = app.do(http.MethodGet, "/", "", token)
			assert.Equal(t, http.StatusSeeOther, rr.Code)
			rr = app.do(http.MethodGet, "/api/me", "", token)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}
