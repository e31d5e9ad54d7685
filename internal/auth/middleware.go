package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// SessionCookie holds the session JWT. It is HttpOnly so page scripts can't
// read it; the browser attaches it to every same-site request.
const SessionCookie = "token"

// contextKey is unexported so no other package can read or shadow the
// session stored on the request context.
type contextKey string

const sessionKey contextKey = "session"

// Authenticator turns a request's token into a Session.
type Authenticator struct {
	tokens   *TokenService
	denylist Denylist
	logger   *slog.Logger
}

func NewAuthenticator(tokens *TokenService, denylist Denylist, logger *slog.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, denylist: denylist, logger: logger}
}

// Authenticate returns the request's valid, unrevoked session. The token is
// read from the session cookie, falling back to an "Authorization: Bearer"
// header for API clients.
func (a *Authenticator) Authenticate(r *http.Request) (*Session, bool) {
	raw := TokenFromRequest(r)
	if raw == "" {
		return nil, false
	}

	session, err := a.tokens.Validate(raw)
	if err != nil {
		return nil, false
	}

	revoked, err := a.denylist.IsRevoked(r.Context(), session.ID)
	if err != nil {
		// Can't prove the session is still live, so treat it as signed out.
		a.logger.WarnContext(r.Context(), "denylist lookup failed", "error", err)
		return nil, false
	}
	if revoked {
		return nil, false
	}
	return session, true
}

// RequireAuth rejects requests without a valid session with 401. The body
// names the login page so API clients know where to send the user.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp,
// so everything mounted under RequireAuth can rely on SessionFromContext.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := a.Authenticate(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required","redirect":"/login"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

// OptionalAuth attaches the session when there is one and never blocks.
// Handlers that need to redirect rather than 401 (the editor page guard)
// sit behind this.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session, ok := a.Authenticate(r); ok {
			r = r.WithContext(WithSession(r.Context(), session))
		}
		next.ServeHTTP(w, r)
	})
}

// WithSession stores session on ctx.
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// SessionFromContext returns the authenticated session, or (nil, false) for
// an anonymous request.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok && s != nil
}

// UserIDFromContext is shorthand for SessionFromContext(ctx).UserID.
func UserIDFromContext(ctx context.Context) (string, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return "", false
	}
	return s.UserID, true
}

// TokenFromRequest returns the raw token from the cookie or bearer header.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
