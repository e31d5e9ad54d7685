// Package service holds the business logic: the Auth Flow and the Workspace Store.
//
// AuthService is the identity provider the rest of the app talks to. It sits
// between the HTTP handlers and the repository/auth utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository / AuthCodeRepository
//	                   ↘ TokenService (JWT), PasswordService (bcrypt), OAuthProvider
//
// ONE-TIME CODES:
// Every flow that leaves the site and comes back (OAuth, email verification)
// returns to /auth/callback?code=<code>. The code is a single-use, short-lived
// row in auth_codes; ExchangeCodeForSession trades it for a session token.
// The session token itself never appears in a URL.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/sakif/nalar/internal/apperror"
	"github.com/sakif/nalar/internal/auth"
	"github.com/sakif/nalar/internal/model"
	"github.com/sakif/nalar/internal/repository"
)

// Messages shown to the user as-is.
const (
	MsgInvalidCredentials  = "Invalid login credentials"
	MsgEmailNotConfirmed   = "Email not confirmed"
	MsgMissingCredentials  = "email and password are required"
	MsgPasswordMismatch    = "passwords do not match"
	MsgVerificationPending = "Check your inbox or spam folder to verify your email!"
	MsgSignedUp            = "Registration successful!"
)

// oauthStateTTL bounds how long a user may sit on the provider's consent page.
const oauthStateTTL = 10 * time.Minute

// SignUpOutcome tells the caller whether the user is now signed in.
type SignUpOutcome string

const (
	SignUpSignedIn            SignUpOutcome = "signed_in"
	SignUpVerificationPending SignUpOutcome = "verification_pending"
)

// AuthResult bundles the user and the issued session so the handler can set
// the cookie and respond in one step.
type AuthResult struct {
	User    *model.User
	Token   string
	Session *auth.Session
}

type SignUpInput struct {
	Email    string
	Password string
	// ConfirmPassword is optional; when set it must equal Password.
	ConfirmPassword *string
	// EmailRedirectTo is where the verification link points, normally
	// <origin>/auth/callback.
	EmailRedirectTo string
}

type SignUpResult struct {
	Outcome SignUpOutcome
	Message string
	// Auth is set when Outcome is SignUpSignedIn.
	Auth *AuthResult
}

// AuthOptions are the tunables from the auth config section.
type AuthOptions struct {
	// ConfirmEmail requires email-provider users to follow a verification
	// link before they can sign in.
	ConfirmEmail bool
	CodeTTL      time.Duration
}

// AuthDeps is everything AuthService needs, grouped so the constructor call
// in server.go stays readable.
type AuthDeps struct {
	Users     repository.UserRepository
	Codes     repository.AuthCodeRepository
	Tokens    *auth.TokenService
	Passwords *auth.PasswordService
	Providers auth.OAuthProviders
	Denylist  auth.Denylist
	Mailer    auth.Mailer
	Logger    *slog.Logger
}

type oauthState struct {
	provider   string
	redirectTo string
	expires    time.Time
}

// AuthService handles the authentication business logic.
type AuthService struct {
	AuthDeps
	opts AuthOptions
	now  func() time.Time

	mu     sync.Mutex
	states map[string]oauthState
}

func NewAuthService(deps AuthDeps, opts AuthOptions) *AuthService {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 24 * time.Hour
	}
	if deps.Providers == nil {
		deps.Providers = auth.OAuthProviders{}
	}
	return &AuthService{
		AuthDeps: deps,
		opts:     opts,
		now:      time.Now,
		states:   make(map[string]oauthState),
	}
}

// ProviderNames lists the OAuth providers a user can pick on the login page.
func (s *AuthService) ProviderNames() []string {
	return s.Providers.Names()
}

// SignIn checks email/password credentials and issues a session.
//
// Unknown email and wrong password produce the same message so the endpoint
// can't be used to probe which addresses have accounts.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("email", MsgMissingCredentials)
	}

	user, err := s.Users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthenticated(MsgInvalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	if err := s.Passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			return nil, apperror.Unauthenticated(MsgInvalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	if s.opts.ConfirmEmail && !user.EmailVerified {
		return nil, apperror.Unauthenticated(MsgEmailNotConfirmed)
	}

	s.Logger.InfoContext(ctx, "user signed in", "userID", user.ID, "provider", model.ProviderEmail)
	return s.issue(user)
}

// SignUp registers an email/password user. Validation failures return before
// the store is touched.
func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (*SignUpResult, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, apperror.ValidationFailed("email", MsgMissingCredentials)
	}
	if in.ConfirmPassword != nil && *in.ConfirmPassword != in.Password {
		return nil, apperror.ValidationFailed("confirmPassword", MsgPasswordMismatch)
	}

	hash, err := s.Passwords.Hash(in.Password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	user := &model.User{
		Email:         email,
		PasswordHash:  hash,
		Provider:      model.ProviderEmail,
		EmailVerified: !s.opts.ConfirmEmail,
	}
	if err := s.Users.CreateUser(ctx, user); err != nil {
		// apperror.Conflict("User already registered") passes through untouched.
		return nil, err
	}

	if !s.opts.ConfirmEmail {
		s.Logger.InfoContext(ctx, "user signed up", "userID", user.ID)
		res, err := s.issue(user)
		if err != nil {
			return nil, err
		}
		return &SignUpResult{Outcome: SignUpSignedIn, Message: MsgSignedUp, Auth: res}, nil
	}

	// Until the link is on its way the account is unusable: it cannot sign in
	// and the email is taken. Any failure below removes it again.
	if err := s.sendVerification(ctx, user, in.EmailRedirectTo); err != nil {
		if delErr := s.Users.DeleteUser(ctx, user.ID); delErr != nil {
			s.Logger.ErrorContext(ctx, "failed to roll back unverified user",
				"userID", user.ID, "error", delErr)
		}
		return nil, err
	}

	s.Logger.InfoContext(ctx, "user signed up, verification pending", "userID", user.ID)
	return &SignUpResult{Outcome: SignUpVerificationPending, Message: MsgVerificationPending}, nil
}

func (s *AuthService) sendVerification(ctx context.Context, user *model.User, redirectTo string) error {
	code, err := s.mintCode(ctx, user.ID, model.AuthCodeVerify)
	if err != nil {
		return err
	}
	link, err := withCode(redirectTo, code)
	if err != nil {
		return apperror.ValidationFailed("emailRedirectTo", "invalid redirect URL")
	}
	if err := s.Mailer.SendVerification(ctx, user.Email, link); err != nil {
		return fmt.Errorf("service/auth: sending verification to %s: %w", user.Email, err)
	}
	return nil
}

// SignInWithOAuth starts the provider flow and returns the authorization URL
// to redirect the browser to, plus the state the handler should pin in a
// cookie. redirectTo is where CompleteOAuth sends the browser with its
// one-time code.
func (s *AuthService) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (authURL, state string, err error) {
	p, ok := s.Providers.Lookup(provider)
	if !ok {
		return "", "", apperror.ValidationFailed("provider", fmt.Sprintf("Unsupported provider: provider %s is not enabled", provider))
	}
	if _, err := url.Parse(redirectTo); err != nil || redirectTo == "" {
		return "", "", apperror.ValidationFailed("redirectTo", "invalid redirect URL")
	}

	state = xid.New().String()
	now := s.now()

	s.mu.Lock()
	for k, st := range s.states {
		if now.After(st.expires) {
			delete(s.states, k)
		}
	}
	s.states[state] = oauthState{provider: provider, redirectTo: redirectTo, expires: now.Add(oauthStateTTL)}
	s.mu.Unlock()

	s.Logger.DebugContext(ctx, "oauth flow started", "provider", provider)
	return p.AuthURL(state), state, nil
}

// CompleteOAuth finishes the provider leg: it checks the state, exchanges the
// provider's code for a profile, upserts the user and returns the redirect
// URL carrying a one-time code for ExchangeCodeForSession.
func (s *AuthService) CompleteOAuth(ctx context.Context, provider, state, providerCode string) (string, error) {
	s.mu.Lock()
	st, ok := s.states[state]
	delete(s.states, state)
	s.mu.Unlock()

	if !ok || st.provider != provider || s.now().After(st.expires) {
		return "", apperror.Unauthenticated("OAuth state is invalid or has expired")
	}
	p, ok := s.Providers.Lookup(provider)
	if !ok {
		return "", apperror.ValidationFailed("provider", fmt.Sprintf("Unsupported provider: provider %s is not enabled", provider))
	}
	if providerCode == "" {
		return "", apperror.Unauthenticated("OAuth provider did not return a code")
	}

	pu, err := p.Exchange(ctx, providerCode)
	if err != nil {
		return "", apperror.Upstream(provider, err.Error())
	}

	user := &model.User{
		Email:         pu.Email,
		Provider:      pu.Provider,
		ProviderID:    pu.ID,
		EmailVerified: true,
	}
	if err := s.Users.UpsertOAuthUser(ctx, user); err != nil {
		return "", fmt.Errorf("service/auth: upserting %s user %s: %w", provider, pu.ID, err)
	}

	code, err := s.mintCode(ctx, user.ID, model.AuthCodeOAuth)
	if err != nil {
		return "", err
	}

	s.Logger.InfoContext(ctx, "user authenticated via oauth", "userID", user.ID, "provider", provider)
	return withCode(st.redirectTo, code)
}

// ExchangeCodeForSession consumes a one-time code and issues a session.
// A verification code also confirms the user's email.
func (s *AuthService) ExchangeCodeForSession(ctx context.Context, code string) (*AuthResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperror.ValidationFailed("code", "auth code is required")
	}

	ac, err := s.Codes.ConsumeAuthCode(ctx, code, s.now())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthenticated("invalid or expired auth code")
		}
		return nil, fmt.Errorf("service/auth: consuming auth code: %w", err)
	}

	if ac.Purpose == model.AuthCodeVerify {
		if err := s.Users.MarkEmailVerified(ctx, ac.UserID); err != nil {
			return nil, fmt.Errorf("service/auth: verifying email for %s: %w", ac.UserID, err)
		}
	}

	user, err := s.Users.GetUserByID(ctx, ac.UserID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", ac.UserID, err)
	}

	s.Logger.InfoContext(ctx, "auth code exchanged", "userID", user.ID, "purpose", ac.Purpose)
	return s.issue(user)
}

// SignOut revokes the session the token belongs to. Signing out with an
// already-invalid token is not an error: the caller ends up signed out either way.
func (s *AuthService) SignOut(ctx context.Context, token string) error {
	session, err := s.Tokens.Validate(token)
	if err != nil {
		return nil
	}
	if err := s.Denylist.Revoke(ctx, session.ID, session.ExpiresAt); err != nil {
		return fmt.Errorf("service/auth: revoking session: %w", err)
	}
	s.Logger.InfoContext(ctx, "user signed out", "userID", session.UserID)
	return nil
}

// CurrentUser resolves a token to its user. Every failure (missing, invalid,
// expired, revoked, unknown user, store down) is ErrUnauthenticated so the
// guard can treat them alike; the cause is kept in the chain for logging.
func (s *AuthService) CurrentUser(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, apperror.Unauthenticated("no session")
	}
	session, err := s.Tokens.Validate(token)
	if err != nil {
		return nil, unauthenticated(err)
	}
	revoked, err := s.Denylist.IsRevoked(ctx, session.ID)
	if err != nil {
		return nil, unauthenticated(err)
	}
	if revoked {
		return nil, apperror.Unauthenticated("session has been signed out")
	}
	return s.UserByID(ctx, session.UserID)
}

// UserByID returns the user for an already-authenticated session.
func (s *AuthService) UserByID(ctx context.Context, id string) (*model.User, error) {
	user, err := s.Users.GetUserByID(ctx, id)
	if err != nil {
		return nil, unauthenticated(err)
	}
	return user, nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, session, err := s.Tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token, Session: session}, nil
}

func (s *AuthService) mintCode(ctx context.Context, userID, purpose string) (string, error) {
	ac := &model.AuthCode{
		Code:      uuid.NewString(),
		UserID:    userID,
		Purpose:   purpose,
		ExpiresAt: s.now().Add(s.opts.CodeTTL),
	}
	if err := s.Codes.CreateAuthCode(ctx, ac); err != nil {
		return "", fmt.Errorf("service/auth: storing %s code: %w", purpose, err)
	}
	return ac.Code, nil
}

func unauthenticated(cause error) error {
	return &apperror.AppError{
		Err:     errors.Join(apperror.ErrUnauthenticated, cause),
		Message: "not signed in",
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// withCode appends ?code=<code> to target, keeping any query it already has.
func withCode(target, code string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("service/auth: parsing redirect %q: %w", target, err)
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
