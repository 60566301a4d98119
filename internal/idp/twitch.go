package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// TwitchProvider implements the Provider interface for Twitch.
// Twitch uses plain OAuth 2.0; user info comes from the Helix users endpoint,
// which requires the Client-ID header alongside the bearer token.
type TwitchProvider struct {
	config     oauth2.Config
	httpClient *http.Client
	apiBaseURL string // defaults to https://api.twitch.tv/helix, overridden in tests
}

// twitchUsersResponse represents the Helix /users response. The endpoint
// returns a single-element list for the token's own user.
type twitchUsersResponse struct {
	Data []Profile `json:"data"`
}

// NewTwitchProvider creates a new Twitch OAuth provider.
func NewTwitchProvider(clientID, clientSecret, redirectURI string) *TwitchProvider {
	return &TwitchProvider{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{"user:read:subscriptions", "channel:read:subscriptions"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://id.twitch.tv/oauth2/authorize",
				TokenURL: "https://id.twitch.tv/oauth2/token",
			},
		},
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiBaseURL: "https://api.twitch.tv/helix",
	}
}

// AuthURL generates the authorization URL.
func (p *TwitchProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange exchanges an authorization code for a credential.
// Fails when the response lacks either token of the pair.
func (p *TwitchProvider) Exchange(ctx context.Context, code string) (*Credential, error) {
	token, err := p.config.Exchange(p.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	cred := credentialFromToken(token)
	if cred.AccessToken == "" || cred.RefreshToken == "" {
		return nil, fmt.Errorf("token response missing access or refresh token")
	}
	return cred, nil
}

// Refresh obtains a new credential via the refresh_token grant.
func (p *TwitchProvider) Refresh(ctx context.Context, refreshToken string) (*Credential, error) {
	// A token with only the refresh token set forces the source to hit the
	// token endpoint instead of reusing a cached access token.
	src := p.config.TokenSource(p.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	cred := credentialFromToken(token)
	if cred.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access token")
	}
	if cred.RefreshToken == "" {
		// Twitch rotates refresh tokens but other deployments may not
		cred.RefreshToken = refreshToken
	}
	return cred, nil
}

// FetchProfile fetches the user profile for an access token.
func (p *TwitchProvider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+"/users", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build users request: %w", err)
	}
	req.Header.Set("Client-ID", p.config.ClientID)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get user: status %d", resp.StatusCode)
	}

	var users twitchUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}

	if len(users.Data) == 0 {
		return nil, fmt.Errorf("user response contained no profile")
	}
	return &users.Data[0], nil
}

// oauthContext routes the oauth2 library through our bounded-timeout client.
func (p *TwitchProvider) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// credentialFromToken converts an oauth2 token into a Credential, pulling the
// provider-reported lifetime and scopes out of the extra fields.
func credentialFromToken(token *oauth2.Token) *Credential {
	cred := &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}

	if v, ok := token.Extra("expires_in").(float64); ok && v > 0 {
		cred.ExpiresIn = time.Duration(v) * time.Second
	} else if !token.Expiry.IsZero() {
		cred.ExpiresIn = time.Until(token.Expiry).Round(time.Second)
	}

	// Twitch reports scope as a JSON array; some providers use a string
	switch scopes := token.Extra("scope").(type) {
	case []any:
		for _, s := range scopes {
			if str, ok := s.(string); ok {
				cred.Scopes = append(cred.Scopes, str)
			}
		}
	case string:
		if scopes != "" {
			cred.Scopes = strings.Fields(scopes)
		}
	}

	return cred
}
