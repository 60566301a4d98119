package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupManager(t *testing.T) {
	t.Run("purges expired states on tick", func(t *testing.T) {
		ctx := context.Background()
		store := NewMemoryStore()
		require.NoError(t, store.PutState(ctx, StateRecord{Token: "dead", UserID: "u1", ExpiresAt: time.Now().Add(-time.Minute)}))
		require.NoError(t, store.PutState(ctx, StateRecord{Token: "live", UserID: "u2", ExpiresAt: time.Now().Add(time.Hour)}))

		cm := NewCleanupManager(store, 10*time.Millisecond)
		cm.Start(ctx)
		time.Sleep(50 * time.Millisecond)
		cm.Stop()

		_, err := store.ConsumeState(ctx, "dead")
		assert.ErrorIs(t, err, ErrStateNotFound)
		_, err = store.ConsumeState(ctx, "live")
		assert.NoError(t, err)
	})

	t.Run("stop waits for the loop to exit", func(t *testing.T) {
		cm := NewCleanupManager(NewMemoryStore(), time.Hour)
		cm.Start(context.Background())

		done := make(chan struct{})
		go func() {
			cm.Stop()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Stop did not return")
		}
	})
}
