package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/nalar/internal/apperror"
	"github.com/sakif/nalar/internal/auth"
	"github.com/sakif/nalar/internal/model"
	"github.com/sakif/nalar/internal/service"
	"github.com/sakif/nalar/internal/workspace"
)

const (
	stateCookie   = "oauth_state"
	stateLifetime = 10 * time.Minute
)

// AuthHandler exposes the Auth Flow over HTTP.
//
// HANDLER RESPONSIBILITIES:
//   - HandleLoginPage     → which providers the login page can offer
//   - HandleSignIn        → email/password sign-in, sets the session cookie
//   - HandleSignUp        → registration, signed in or "check your inbox"
//   - HandleOAuthLogin    → redirect the browser to the provider
//   - HandleOAuthCallback → provider leg, hands a one-time code to /auth/callback
//   - HandleAuthCallback  → exchange the one-time code for a session
//   - HandleSignOut       → revoke the session and clear the cookie
//   - HandleMe            → the signed-in user
type AuthHandler struct {
	auth     *service.AuthService
	registry *workspace.Registry
	// callbackURL is <public origin>/auth/callback, where OAuth and
	// verification links deliver their one-time code.
	callbackURL string
	secure      bool
	logger      *slog.Logger
}

func NewAuthHandler(
	authService *service.AuthService,
	registry *workspace.Registry,
	callbackURL string,
	secureCookies bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:        authService,
		registry:    registry,
		callbackURL: callbackURL,
		secure:      secureCookies,
		logger:      logger,
	}
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"max=254"`
	Password string `json:"password" validate:"max=72"`
}

type signUpRequest struct {
	Email           string  `json:"email" validate:"omitempty,email,max=254"`
	Password        string  `json:"password" validate:"max=72"`
	ConfirmPassword *string `json:"confirmPassword,omitempty" validate:"omitempty,max=72"`
}

// authResponse is the success body of sign-in and sign-up. The outcome
// replaces whatever the page showed before; there is never an error and a
// success at the same time.
type authResponse struct {
	Outcome string      `json:"outcome"`
	Message string      `json:"message,omitempty"`
	User    *model.User `json:"user,omitempty"`
}

// HandleLoginPage lists the OAuth providers the login page can offer.
//
// HTTP: GET /login
func (h *AuthHandler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": h.auth.ProviderNames()})
}

// HandleSignIn signs in with email and password.
//
// HTTP: POST /auth/signin {"email": "...", "password": "..."}
//
// Failures carry the provider's message verbatim, e.g. "Invalid login
// credentials" or "Email not confirmed".
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSessionCookie(w, res)
	writeJSON(w, http.StatusOK, authResponse{Outcome: "signed_in", User: res.User})
}

// HandleSignUp registers an email/password account.
//
// HTTP: POST /auth/signup {"email", "password", "confirmPassword"?}
//
// When email confirmation is on the response is 202 with the "check your
// inbox" message and no cookie. Otherwise the user is signed in at once.
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.SignUp(r.Context(), service.SignUpInput{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		EmailRedirectTo: h.callbackURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if res.Outcome == service.SignUpVerificationPending {
		writeJSON(w, http.StatusAccepted, authResponse{Outcome: string(res.Outcome), Message: res.Message})
		return
	}

	h.setSessionCookie(w, res.Auth)
	writeJSON(w, http.StatusCreated, authResponse{
		Outcome: string(res.Outcome),
		Message: res.Message,
		User:    res.Auth.User,
	})
}

// HandleOAuthLogin sends the browser to the provider's consent page.
//
// HTTP: GET /auth/{provider}/login
//
// CSRF PROTECTION VIA STATE:
// The service remembers the state server-side, and we also pin it in a
// short-lived HttpOnly cookie. The callback must present both, which proves
// the flow was started from this browser.
func (h *AuthHandler) HandleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	authURL, state, err := h.auth.SignInWithOAuth(r.Context(), provider, h.callbackURL)
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int(stateLifetime.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// HandleOAuthCallback is where the provider sends the browser back.
//
// HTTP: GET /auth/{provider}/callback?code=xxx&state=yyy
//
// On success the browser continues to /auth/callback?code=<one-time code>.
// Every failure lands on the root with ?auth=failed (or ?auth=denied when the
// user declined at the provider).
func (h *AuthHandler) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()

	// The state cookie is single-use either way.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/auth", MaxAge: -1})

	if errParam := q.Get("error"); errParam != "" {
		h.logger.InfoContext(r.Context(), "oauth: user denied authorization",
			slog.String("provider", provider),
			slog.String("error", errParam),
		)
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != q.Get("state") {
		h.logger.WarnContext(r.Context(), "oauth: state mismatch", slog.String("provider", provider))
		http.Redirect(w, r, "/?auth=failed", http.StatusSeeOther)
		return
	}

	next, err := h.auth.CompleteOAuth(r.Context(), provider, q.Get("state"), q.Get("code"))
	if err != nil {
		h.logger.WarnContext(r.Context(), "oauth: completing sign-in failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, "/?auth=failed", http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, next, http.StatusSeeOther)
}

// HandleAuthCallback exchanges a one-time code for a session.
//
// HTTP: GET /auth/callback?code=xxx
//
// The browser always ends up at the root. A failed exchange is logged and
// flagged with ?auth=failed rather than dropped silently.
func (h *AuthHandler) HandleAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	res, err := h.auth.ExchangeCodeForSession(r.Context(), code)
	if err != nil {
		h.logger.WarnContext(r.Context(), "auth callback: code exchange failed", slog.String("error", err.Error()))
		http.Redirect(w, r, "/?auth=failed", http.StatusSeeOther)
		return
	}

	h.setSessionCookie(w, res)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleSignOut revokes the session and clears the cookie.
//
// HTTP: POST /auth/signout
//
// WHY POST AND NOT GET?
// Sign-out changes state. A GET could be triggered by a prefetch or a
// cross-site <img>.
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if err := h.auth.SignOut(r.Context(), token); err != nil {
		h.logger.WarnContext(r.Context(), "sign-out failed", slog.String("error", err.Error()))
	}
	if session, ok := auth.SessionFromContext(r.Context()); ok {
		h.registry.Drop(session.UserID)
	}

	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "signed out", "redirect": workspace.LoginRoute})
}

// HandleMe returns the signed-in user.
//
// HTTP: GET /api/me
// Auth: Required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthenticated("not signed in"))
		return
	}

	// A token whose account is gone comes back as ErrUnauthenticated.
	user, err := h.auth.UserByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// setSessionCookie stores the JWT in an HttpOnly cookie that lives exactly as
// long as the token.
//
// HttpOnly keeps it away from JavaScript (XSS). SameSite=Lax sends it on
// top-level navigations, which the OAuth redirect chain needs, but not on
// cross-site POSTs.
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, res *service.AuthResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.Session.ExpiresAt,
		MaxAge:   int(time.Until(res.Session.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
