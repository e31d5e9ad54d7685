package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/oauth2/github"
	googleoauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/sakif/nalar/internal/model"
)

// ProviderUser is the identity an OAuth provider vouches for.
type ProviderUser struct {
	Provider string
	ID       string // stable provider-side ID
	Email    string
}

// OAuthProvider runs one provider's Authorization Code flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. AuthURL: we redirect the browser to the provider with our client ID,
//     the scopes we want and a random state
//  2. The user approves on the provider's site
//  3. The provider redirects to /auth/{provider}/callback with a short-lived code
//  4. Exchange: we trade the code for an access token (server-to-server,
//     using the client secret) and fetch the user's profile with it
//
// The access token never reaches the browser. All the browser ever sees is
// the one-time code AuthService mints afterwards.
type OAuthProvider interface {
	Name() string
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*ProviderUser, error)
}

// OAuthProviders indexes the configured providers by name.
type OAuthProviders map[string]OAuthProvider

// NewOAuthProviders builds the map from any non-nil providers.
func NewOAuthProviders(providers ...OAuthProvider) OAuthProviders {
	m := make(OAuthProviders, len(providers))
	for _, p := range providers {
		if p != nil {
			m[p.Name()] = p
		}
	}
	return m
}

// Lookup returns the provider registered under name.
func (m OAuthProviders) Lookup(name string) (OAuthProvider, bool) {
	p, ok := m[name]
	return p, ok
}

// Names lists the configured providers in a stable order for the login page.
func (m OAuthProviders) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// --- Google -----------------------------------------------------------------

// GoogleProvider signs users in with a Google account. The profile comes from
// the OAuth2 v2 userinfo endpoint through the generated API client.
type GoogleProvider struct {
	config *oauth2.Config
	// apiOpts is extra client options for the userinfo call (tests point it
	// at an httptest server).
	apiOpts []option.ClientOption
}

// NewGoogleProvider creates a provider for a client registered at
// https://console.cloud.google.com/apis/credentials. redirectURL must match
// one of the client's authorised redirect URIs exactly.
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email"},
			Endpoint:     endpoints.Google,
		},
	}
}

func (p *GoogleProvider) Name() string { return model.ProviderGoogle }

func (p *GoogleProvider) AuthURL(state string) string {
	// prompt=select_account lets someone with several Google accounts choose.
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.SetAuthURLParam("prompt", "select_account"))
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*ProviderUser, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging google code: %w", err)
	}

	opts := append([]option.ClientOption{option.WithTokenSource(p.config.TokenSource(ctx, tok))}, p.apiOpts...)
	svc, err := googleoauth.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: google api client: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("auth: google userinfo: %w", err)
	}
	if info.Id == "" {
		return nil, fmt.Errorf("auth: google returned a user without an id")
	}
	if info.Email == "" || (info.VerifiedEmail != nil && !*info.VerifiedEmail) {
		return nil, fmt.Errorf("auth: google account has no verified email")
	}

	return &ProviderUser{Provider: model.ProviderGoogle, ID: info.Id, Email: strings.ToLower(info.Email)}, nil
}

// --- GitHub -----------------------------------------------------------------

const githubAPI = "https://api.github.com"

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Email string `json:"email"` // empty when hidden in GitHub settings
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubProvider signs users in with a GitHub account.
type GitHubProvider struct {
	config *oauth2.Config
	apiURL string
}

// NewGitHubProvider creates a provider for an OAuth App registered at
// https://github.com/settings/developers. The read:user and user:email scopes
// let Exchange find the primary email even when the profile hides it.
func NewGitHubProvider(clientID, clientSecret, redirectURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiURL: githubAPI,
	}
}

func (p *GitHubProvider) Name() string { return model.ProviderGitHub }

func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*ProviderUser, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging github code: %w", err)
	}
	// The returned client adds "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, tok)

	var gh githubUser
	if err := p.getJSON(ctx, client, "/user", &gh); err != nil {
		return nil, err
	}
	if gh.ID == 0 {
		return nil, fmt.Errorf("auth: github returned an invalid user (id = 0)")
	}

	email := gh.Email
	if email == "" {
		var emails []githubEmail
		if err := p.getJSON(ctx, client, "/user/emails", &emails); err == nil {
			for _, e := range emails {
				if e.Primary && e.Verified {
					email = e.Email
					break
				}
			}
		}
	}
	if email == "" {
		// Same address GitHub itself uses for commits from a private profile.
		email = fmt.Sprintf("%d+%s@users.noreply.github.com", gh.ID, gh.Login)
	}

	return &ProviderUser{
		Provider: model.ProviderGitHub,
		ID:       strconv.FormatInt(gh.ID, 10),
		Email:    strings.ToLower(email),
	}, nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("auth: building github request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: calling github %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: github %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("auth: decoding github %s: %w", path, err)
	}
	return nil
}
