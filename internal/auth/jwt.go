// Package auth is the identity provider behind the Auth Flow: session tokens,
// password hashing, OAuth code exchange and the middleware that turns a
// session cookie into a user ID on the request context.
//
// SESSION FLOW:
//  1. Sign-in (password, OAuth or email verification) ends with Issue()
//  2. The token goes into the HttpOnly "token" cookie
//  3. Middleware validates the cookie on every request and checks the
//     denylist, so a signed-out token stops working before it expires
//
// Tokens are HS256 JWTs. Every token carries a unique ID (jti) so a single
// session can be revoked without touching the others.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const issuer = "nalar"

// Session is what a valid token proves.
type Session struct {
	ID        string // jti, used for revocation
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret and session
// lifetime. The secret should be at least 32 bytes of random data in
// production: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: session TTL must be positive")
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL is the lifetime of tokens issued by Issue.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a new session token for the user.
func (s *TokenService) Issue(userID, email string) (string, *Session, error) {
	return s.issue(userID, email, s.ttl)
}

func (s *TokenService) issue(userID, email string, ttl time.Duration) (string, *Session, error) {
	now := time.Now()
	session := &Session{
		ID:     xid.New().String(),
		UserID: userID,
		Email:  email,
		// JWT NumericDate has one-second resolution.
		ExpiresAt: now.Add(ttl).Truncate(time.Second),
	}

	c := claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, session, nil
}

// Validate parses and verifies a token and returns the session it encodes.
// Revocation is not checked here; see Middleware.
func (s *TokenService) Validate(tokenStr string) (*Session, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("auth: token expired")
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("auth: token has no subject")
	}
	if c.ID == "" {
		return nil, fmt.Errorf("auth: token has no id")
	}

	return &Session{
		ID:        c.ID,
		UserID:    c.Subject,
		Email:     c.Email,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
