package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// TelegramMessenger implements Messenger against the Telegram Bot API.
type TelegramMessenger struct {
	httpClient *http.Client
	apiBaseURL string // defaults to https://api.telegram.org/bot<token>, overridden in tests
}

type inlineKeyboardButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string                `json:"chat_id"`
	Text        string                `json:"text"`
	ReplyMarkup *inlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type deleteMessageRequest struct {
	ChatID    string `json:"chat_id"`
	MessageID int64  `json:"message_id"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

type messageResult struct {
	MessageID int64 `json:"message_id"`
}

// NewTelegramMessenger creates a messenger for the given bot token.
func NewTelegramMessenger(botToken string) *TelegramMessenger {
	return &TelegramMessenger{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiBaseURL: "https://api.telegram.org/bot" + botToken,
	}
}

// SendAuthPrompt sends the authentication prompt with a URL button.
func (m *TelegramMessenger) SendAuthPrompt(ctx context.Context, userID, authURL string) (string, error) {
	req := sendMessageRequest{
		ChatID: userID,
		Text:   "Please authenticate with Twitch",
		ReplyMarkup: &inlineKeyboardMarkup{
			InlineKeyboard: [][]inlineKeyboardButton{
				{{Text: "Authenticate with Twitch", URL: authURL}},
			},
		},
	}

	var result messageResult
	if err := m.call(ctx, "sendMessage", req, &result); err != nil {
		return "", err
	}
	return strconv.FormatInt(result.MessageID, 10), nil
}

// DeleteMessage removes a previously sent message.
func (m *TelegramMessenger) DeleteMessage(ctx context.Context, userID, messageID string) error {
	id, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", messageID, err)
	}
	return m.call(ctx, "deleteMessage", deleteMessageRequest{ChatID: userID, MessageID: id}, nil)
}

func (m *TelegramMessenger) call(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiBaseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}
	defer resp.Body.Close()

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if !api.OK {
		return fmt.Errorf("%s rejected: %s", method, api.Description)
	}

	if result != nil {
		if err := json.Unmarshal(api.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}
