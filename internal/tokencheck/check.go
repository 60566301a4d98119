// Package tokencheck decides whether a stored credential is still usable and
// refreshes it when it is not. It performs no storage I/O: persistence of a
// refreshed credential is the caller's responsibility, which keeps the check
// logic storage-agnostic and independently testable.
package tokencheck

import (
	"context"
	"fmt"
	"time"

	"github.com/dgellow/linkd/internal/idp"
	"github.com/dgellow/linkd/internal/log"
)

// Mode selects how validity is determined.
type Mode string

const (
	// ModeDeep verifies the token against the provider's profile endpoint.
	// Any failure counts as invalid regardless of the recorded expiry, which
	// catches provider-side revocation the TTL knows nothing about.
	ModeDeep Mode = "deep"

	// ModeShallow trusts the recorded expiry; no network call.
	ModeShallow Mode = "shallow"
)

// DefaultGrace is the clock-skew allowance for shallow expiry checks
const DefaultGrace = 3 * time.Second

// Result reports the outcome of a credential check. Old is the credential as
// handed in; New differs from Old only when Refreshed is true. The caller
// decides whether to persist New.
type Result struct {
	Refreshed bool           `json:"refreshed"`
	Old       idp.Credential `json:"old_auth"`
	New       idp.Credential `json:"new_auth"`
}

// Checker runs validity checks against a provider.
type Checker struct {
	provider idp.Provider
	grace    time.Duration
}

// NewChecker creates a checker for the given provider.
func NewChecker(provider idp.Provider) *Checker {
	return &Checker{provider: provider, grace: DefaultGrace}
}

// Check determines whether cred is usable and refreshes it when it is not.
// A failed refresh returns an error; the caller must not keep using the old
// credential past that point.
func (c *Checker) Check(ctx context.Context, cred idp.Credential, mode Mode) (*Result, error) {
	valid := false
	switch mode {
	case ModeShallow:
		valid = time.Now().Before(cred.ExpiresAt.Add(-c.grace))
	default:
		if _, err := c.provider.FetchProfile(ctx, cred.AccessToken); err != nil {
			log.LogDebugWithFields("tokencheck", "Deep check failed, treating credential as invalid", map[string]any{
				"error": err.Error(),
			})
		} else {
			valid = true
		}
	}

	if valid {
		return &Result{Old: cred, New: cred}, nil
	}

	refreshed, err := c.provider.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("credential refresh failed: %w", err)
	}

	newCred := *refreshed
	// The new credential keeps the lifetime the provider granted originally;
	// its expiry is recomputed from the moment of refresh.
	if cred.ExpiresIn > 0 {
		newCred.ExpiresIn = cred.ExpiresIn
	}
	if newCred.ExpiresIn > 0 {
		newCred.ExpiresAt = time.Now().Add(newCred.ExpiresIn)
	}
	if len(newCred.Scopes) == 0 {
		newCred.Scopes = cred.Scopes
	}

	return &Result{Refreshed: true, Old: cred, New: newCred}, nil
}
