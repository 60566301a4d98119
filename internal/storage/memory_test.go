package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/linkd/internal/idp"
)

func TestMemoryStoreStates(t *testing.T) {
	ctx := context.Background()

	t.Run("consume returns record exactly once", func(t *testing.T) {
		store := NewMemoryStore()
		rec := StateRecord{
			Token:     "tok-1",
			UserID:    "u1",
			MessageID: "m1",
			ExpiresAt: time.Now().Add(10 * time.Minute),
		}
		require.NoError(t, store.PutState(ctx, rec))

		got, err := store.ConsumeState(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, "m1", got.MessageID)

		_, err = store.ConsumeState(ctx, "tok-1")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("unknown token", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.ConsumeState(ctx, "missing")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("duplicate token rejected", func(t *testing.T) {
		store := NewMemoryStore()
		rec := StateRecord{Token: "tok-1", UserID: "u1", ExpiresAt: time.Now().Add(time.Minute)}
		require.NoError(t, store.PutState(ctx, rec))

		rec.UserID = "u2"
		assert.ErrorIs(t, store.PutState(ctx, rec), ErrStateExists)

		// Original record untouched
		got, err := store.ConsumeState(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.UserID)
	})

	t.Run("expired token still identifies owner and is removed", func(t *testing.T) {
		store := NewMemoryStore()
		rec := StateRecord{
			Token:     "tok-old",
			UserID:    "u1",
			MessageID: "m1",
			ExpiresAt: time.Now().Add(-10 * time.Second),
		}
		require.NoError(t, store.PutState(ctx, rec))

		got, err := store.ConsumeState(ctx, "tok-old")
		assert.ErrorIs(t, err, ErrStateExpired)
		require.NotNil(t, got)
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, "m1", got.MessageID)

		_, err = store.ConsumeState(ctx, "tok-old")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("expiry just past deadline stays within grace", func(t *testing.T) {
		store := NewMemoryStore()
		rec := StateRecord{
			Token:     "tok-grace",
			UserID:    "u1",
			ExpiresAt: time.Now().Add(-time.Second),
		}
		require.NoError(t, store.PutState(ctx, rec))

		_, err := store.ConsumeState(ctx, "tok-grace")
		assert.NoError(t, err)
	})

	t.Run("cleanup purges only expired records", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.PutState(ctx, StateRecord{Token: "live", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}))
		require.NoError(t, store.PutState(ctx, StateRecord{Token: "dead-1", UserID: "u2", ExpiresAt: time.Now().Add(-time.Minute)}))
		require.NoError(t, store.PutState(ctx, StateRecord{Token: "dead-2", UserID: "u3", ExpiresAt: time.Now().Add(-time.Hour)}))

		count, err := store.DeleteExpiredStates(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		_, err = store.ConsumeState(ctx, "live")
		assert.NoError(t, err)
		_, err = store.ConsumeState(ctx, "dead-1")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})
}

func TestMemoryStoreBindings(t *testing.T) {
	ctx := context.Background()

	cred := idp.Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresIn:    time.Hour,
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	t.Run("bind and read back", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.BindIdentity(ctx, "u1", Binding{
			ExternalID: "tw-1",
			Profile:    idp.Profile{ID: "tw-1", Login: "streamer"},
			Credential: cred,
		}))

		b, err := store.GetBinding(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "tw-1", b.ExternalID)
		assert.Equal(t, "streamer", b.Profile.Login)
		assert.Equal(t, "access", b.Credential.AccessToken)
		assert.False(t, b.LinkedAt.IsZero())
	})

	t.Run("missing binding", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.GetBinding(ctx, "nobody")
		assert.ErrorIs(t, err, ErrBindingNotFound)
	})

	t.Run("rebinding same user is idempotent", func(t *testing.T) {
		store := NewMemoryStore()
		b := Binding{ExternalID: "tw-1", Credential: cred}
		require.NoError(t, store.BindIdentity(ctx, "u1", b))
		require.NoError(t, store.BindIdentity(ctx, "u1", b))

		got, err := store.GetBinding(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "tw-1", got.ExternalID)
	})

	t.Run("binding transfers ownership between users", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.BindIdentity(ctx, "u1", Binding{ExternalID: "tw-1", Credential: cred}))

		// Same external identity claimed from a second account
		require.NoError(t, store.BindIdentity(ctx, "u2", Binding{ExternalID: "tw-1", Credential: cred}))

		_, err := store.GetBinding(ctx, "u1")
		assert.ErrorIs(t, err, ErrBindingNotFound)

		b, err := store.GetBinding(ctx, "u2")
		require.NoError(t, err)
		assert.Equal(t, "tw-1", b.ExternalID)
	})

	t.Run("transfer leaves unrelated bindings alone", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.BindIdentity(ctx, "u1", Binding{ExternalID: "tw-1", Credential: cred}))
		require.NoError(t, store.BindIdentity(ctx, "u2", Binding{ExternalID: "tw-2", Credential: cred}))

		require.NoError(t, store.BindIdentity(ctx, "u3", Binding{ExternalID: "tw-1", Credential: cred}))

		_, err := store.GetBinding(ctx, "u2")
		assert.NoError(t, err)
	})

	t.Run("update credential", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.BindIdentity(ctx, "u1", Binding{ExternalID: "tw-1", Credential: cred}))

		newCred := cred
		newCred.AccessToken = "access-2"
		require.NoError(t, store.UpdateCredential(ctx, "u1", newCred))

		b, err := store.GetBinding(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "access-2", b.Credential.AccessToken)
		assert.Equal(t, "tw-1", b.ExternalID)
	})

	t.Run("update credential without binding", func(t *testing.T) {
		store := NewMemoryStore()
		err := store.UpdateCredential(ctx, "nobody", cred)
		assert.ErrorIs(t, err, ErrBindingNotFound)
	})
}
