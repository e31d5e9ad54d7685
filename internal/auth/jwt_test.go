package auth

import (
	"strings"
	"testing"
	"time"
)

// newTestTokenService uses a fixed secret so tests are deterministic.
func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

func TestNewTokenService_ShortSecret(t *testing.T) {
	if _, err := NewTokenService("short", time.Hour); err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestNewTokenService_ZeroTTL(t *testing.T) {
	if _, err := NewTokenService("this-is-16-chars", 0); err == nil {
		t.Fatal("NewTokenService() should reject a zero TTL")
	}
}

func TestIssue_LooksLikeJWT(t *testing.T) {
	ts := newTestTokenService(t)

	token, session, err := ts.Issue("user-123", "ada@example.com")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("Issue() token doesn't look like a JWT: %q", token)
	}
	if session.ID == "" {
		t.Error("Issue() session has no ID")
	}
	if session.ExpiresAt.Before(time.Now().Add(59 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want about an hour from now", session.ExpiresAt)
	}
}

func TestIssue_EachSessionHasItsOwnID(t *testing.T) {
	ts := newTestTokenService(t)

	_, s1, _ := ts.Issue("user-1", "")
	_, s2, _ := ts.Issue("user-1", "")

	if s1.ID == s2.ID {
		t.Error("two sessions for the same user share a token ID")
	}
}

func TestValidate_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, issued, err := ts.Issue("user-abc", "grace@example.com")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.UserID != "user-abc" || got.Email != "grace@example.com" {
		t.Errorf("Validate() = %+v", got)
	}
	if got.ID != issued.ID {
		t.Errorf("ID = %q, want %q", got.ID, issued.ID)
	}
	if !got.ExpiresAt.Equal(issued.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, issued.ExpiresAt)
	}
}

func TestValidate_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	other, _ := NewTokenService("wrong-secret-32-chars-long!!!!!!", time.Hour)

	valid, _, _ := ts.Issue("user-123", "")
	expired, _, _ := ts.issue("user-123", "", -time.Second)
	foreign, _, _ := other.Issue("user-123", "")

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"tampered signature", valid[:len(valid)-3] + "xxx"},
		{"signed with another secret", foreign},
		{"empty", ""},
		{"garbage", "not.a.jwt.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ts.Validate(tt.token); err == nil {
				t.Fatal("Validate() should return an error")
			}
		})
	}
}
