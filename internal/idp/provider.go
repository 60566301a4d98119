package idp

import (
	"context"
	"time"
)

// Credential is a provider-issued access/refresh token pair. A credential is
// always replaced as a whole; callers never mutate individual fields of a
// stored credential.
type Credential struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    time.Duration `json:"expires_in"`
	ExpiresAt    time.Time     `json:"expires_at"`
	Scopes       []string      `json:"scopes,omitempty"`
}

// Profile is the external user profile as reported by the provider.
type Profile struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
	Email           string `json:"email,omitempty"`
}

// Provider abstracts the external identity provider.
type Provider interface {
	// AuthURL generates the authorization URL for the OAuth flow.
	AuthURL(state string) string

	// Exchange turns an authorization code into a credential. The expiry is
	// computed at the moment of exchange, not at point of storage. No retry.
	Exchange(ctx context.Context, code string) (*Credential, error)

	// Refresh obtains a new credential using a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*Credential, error)

	// FetchProfile resolves the external user profile for an access token.
	// Stateless and idempotent; safely retryable by the caller.
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}
