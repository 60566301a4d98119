package notify

import "context"

// Messenger delivers link-flow messages to a user on the chat platform.
// Implementations are thin I/O wrappers; callers treat message deletion as a
// best-effort side effect whose failure never aborts a flow.
type Messenger interface {
	// SendAuthPrompt sends a message with an inline button pointing at the
	// authorization URL, returning the platform message id.
	SendAuthPrompt(ctx context.Context, userID, authURL string) (string, error)

	// DeleteMessage removes a previously sent message.
	DeleteMessage(ctx context.Context, userID, messageID string) error
}

// NoopMessenger is used when no bot token is configured.
type NoopMessenger struct{}

func (NoopMessenger) SendAuthPrompt(ctx context.Context, userID, authURL string) (string, error) {
	return "", nil
}

func (NoopMessenger) DeleteMessage(ctx context.Context, userID, messageID string) error {
	return nil
}
