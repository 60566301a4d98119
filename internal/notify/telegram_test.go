package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAuthPrompt(t *testing.T) {
	ctx := context.Background()

	t.Run("sends message with URL button", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/sendMessage", r.URL.Path)

			var req sendMessageRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "12345", req.ChatID)
			require.NotNil(t, req.ReplyMarkup)
			require.Len(t, req.ReplyMarkup.InlineKeyboard, 1)
			assert.Equal(t, "https://example.test/auth", req.ReplyMarkup.InlineKeyboard[0][0].URL)

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok": true, "result": {"message_id": 42}}`))
		}))
		defer srv.Close()

		m := NewTelegramMessenger("bot-token")
		m.apiBaseURL = srv.URL

		messageID, err := m.SendAuthPrompt(ctx, "12345", "https://example.test/auth")
		require.NoError(t, err)
		assert.Equal(t, "42", messageID)
	})

	t.Run("api rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok": false, "description": "Bad Request: chat not found"}`))
		}))
		defer srv.Close()

		m := NewTelegramMessenger("bot-token")
		m.apiBaseURL = srv.URL

		_, err := m.SendAuthPrompt(ctx, "12345", "https://example.test/auth")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chat not found")
	})
}

func TestDeleteMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes by numeric id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/deleteMessage", r.URL.Path)

			var req deleteMessageRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "12345", req.ChatID)
			assert.Equal(t, int64(42), req.MessageID)

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok": true, "result": true}`))
		}))
		defer srv.Close()

		m := NewTelegramMessenger("bot-token")
		m.apiBaseURL = srv.URL

		assert.NoError(t, m.DeleteMessage(ctx, "12345", "42"))
	})

	t.Run("non-numeric message id", func(t *testing.T) {
		m := NewTelegramMessenger("bot-token")
		err := m.DeleteMessage(ctx, "12345", "not-a-number")
		assert.Error(t, err)
	})
}
