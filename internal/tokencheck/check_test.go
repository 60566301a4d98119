package tokencheck

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/linkd/internal/idp"
	"github.com/dgellow/linkd/internal/testutil"
)

func validCredential() idp.Credential {
	return idp.Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresIn:    4 * time.Hour,
		ExpiresAt:    time.Now().Add(time.Hour),
		Scopes:       []string{"user:read:subscriptions"},
	}
}

func TestCheckShallow(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credential needs no provider call", func(t *testing.T) {
		provider := new(testutil.MockProvider)
		checker := NewChecker(provider)

		res, err := checker.Check(ctx, validCredential(), ModeShallow)
		require.NoError(t, err)
		assert.False(t, res.Refreshed)
		assert.Equal(t, res.Old, res.New)
		provider.AssertNotCalled(t, "FetchProfile", mock.Anything, mock.Anything)
		provider.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
	})

	t.Run("expired credential is refreshed", func(t *testing.T) {
		provider := new(testutil.MockProvider)
		provider.On("Refresh", mock.Anything, "refresh").Return(&idp.Credential{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			ExpiresIn:    time.Hour,
		}, nil)
		checker := NewChecker(provider)

		cred := validCredential()
		cred.ExpiresAt = time.Now().Add(-time.Minute)

		res, err := checker.Check(ctx, cred, ModeShallow)
		require.NoError(t, err)
		assert.True(t, res.Refreshed)
		assert.Equal(t, "access-2", res.New.AccessToken)
		assert.Equal(t, "refresh-2", res.New.RefreshToken)
		assert.Equal(t, cred, res.Old)
	})

	t.Run("expiry inside grace window counts as expired", func(t *testing.T) {
		provider := new(testutil.MockProvider)
		provider.On("Refresh", mock.Anything, "refresh").Return(&idp.Credential{AccessToken: "access-2"}, nil)
		checker := NewChecker(provider)

		cred := validCredential()
		cred.ExpiresAt = time.Now().Add(time.Second)

		res, err := checker.Check(ctx, cred, ModeShallow)
		require.NoError(t, err)
		assert.True(t, res.Refreshed)
	})
}

func TestCheckDeep(t *testing.T) {
	ctx := context.Background()

	t.Run("profile fetch success keeps credential", func(t *testing.T) {
		provider := new(testutil.MockProvider)
		provider.On("FetchProfile", mock.Anything, "access").Return(&idp.Profile{ID: "tw-1"}, nil)
		checker := NewChecker(provider)

		res, err := checker.Check(ctx, validCredential(), ModeDeep)
		require.NoError(t, err)
		assert.False(t, res.Refreshed)
		provider.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
	})

	t.Run("profile fetch failure forces refresh despite future expiry", func(t *testing.T) {
		provider := new(testutil.MockProvider)
		provider.On("FetchProfile", mock.Anything, "access").Return(nil, errors.New("401 unauthorized"))
		provider.On("Refresh", mock.Anything, "refresh").Return(&idp.Credential{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			ExpiresIn:    time.Hour,
		}, nil)
		checker := NewChecker(provider)

		res, err := checker.Check(ctx, validCredential(), ModeDeep)
		require.NoError(t, err)
		assert.True(t, res.Refreshed)
		assert.Equal(t, "access-2", res.New.AccessToken)
	})
}

func TestCheckRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("refresh failure is terminal", func(t *testing.T) {
		provider := new(testutil.MockProvider)
		provider.On("Refresh", mock.Anything, "refresh").Return(nil, errors.New("invalid refresh token"))
		checker := NewChecker(provider)

		cred := validCredential()
		cred.ExpiresAt = time.Now().Add(-time.Minute)

		res, err := checker.Check(ctx, cred, ModeShallow)
		assert.Error(t, err)
		assert.Nil(t, res)
	})

	t.Run("original lifetime and scopes are preserved", func(t *testing.T) {
		provider := new(testutil.MockProvider)
		// Refresh response without expires_in or scopes
		provider.On("Refresh", mock.Anything, "refresh").Return(&idp.Credential{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
		}, nil)
		checker := NewChecker(provider)

		cred := validCredential()
		cred.ExpiresAt = time.Now().Add(-time.Minute)

		res, err := checker.Check(ctx, cred, ModeShallow)
		require.NoError(t, err)
		assert.Equal(t, cred.ExpiresIn, res.New.ExpiresIn)
		assert.Equal(t, cred.Scopes, res.New.Scopes)
		assert.WithinDuration(t, time.Now().Add(cred.ExpiresIn), res.New.ExpiresAt, 5*time.Second)
	})

	t.Run("rotated refresh token replaces the old one", func(t *testing.T) {
		provider := new(testutil.MockProvider)
		provider.On("Refresh", mock.Anything, "refresh").Return(&idp.Credential{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			ExpiresIn:    time.Hour,
		}, nil)
		checker := NewChecker(provider)

		cred := validCredential()
		cred.ExpiresAt = time.Now().Add(-time.Minute)

		res, err := checker.Check(ctx, cred, ModeShallow)
		require.NoError(t, err)
		assert.Equal(t, "refresh-2", res.New.RefreshToken)
		assert.Equal(t, "refresh", res.Old.RefreshToken)
	})
}
