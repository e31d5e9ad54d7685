// Package model defines the data structures used throughout the application.
package model

import "time"

// Auth providers an identity can come from.
const (
	ProviderEmail  = "email"
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

// User is the authenticated principal (the "identity").
//
// Email/password accounts have Provider "email" and an empty ProviderID.
// OAuth accounts are keyed by (Provider, ProviderID); the pair is unique in
// the store so one Google or GitHub account maps to exactly one user.
//
// PasswordHash never leaves the server: the json:"-" tag keeps it out of
// every API response.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Provider      string    `json:"provider"`
	ProviderID    string    `json:"-"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// AuthCode is a one-time code handed back to the browser through the
// /auth/callback redirect. It is exchanged exactly once for a session.
//
// Purpose tells the exchange what else to do: a "verify" code also marks the
// user's email as confirmed.
type AuthCode struct {
	Code      string
	UserID    string
	Purpose   string
	ExpiresAt time.Time
	CreatedAt time.Time
}

const (
	AuthCodeOAuth  = "oauth"
	AuthCodeVerify = "verify"
)
