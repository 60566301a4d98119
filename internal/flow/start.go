package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/linkd/internal/crypto"
	"github.com/dgellow/linkd/internal/log"
	"github.com/dgellow/linkd/internal/storage"
)

// maxStartAttempts bounds retries on state-token collisions. Tokens carry 256
// bits of entropy, so a second attempt is already vanishingly unlikely.
const maxStartAttempts = 3

// StartLink begins a link flow for userID: it generates a fresh state token,
// sends the authorization prompt, and records the pending state. When
// oldMessageID is set the previous prompt is deleted first so the user only
// ever sees one live prompt.
func (s *Service) StartLink(ctx context.Context, userID, oldMessageID string) (string, error) {
	if oldMessageID != "" {
		if err := s.messenger.DeleteMessage(ctx, userID, oldMessageID); err != nil {
			log.LogDebugWithFields("flow", "Failed to delete stale prompt", map[string]any{
				"user_id":    userID,
				"message_id": oldMessageID,
				"error":      err.Error(),
			})
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxStartAttempts; attempt++ {
		token, err := crypto.GenerateStateToken()
		if err != nil {
			return "", fmt.Errorf("failed to generate state token: %w", err)
		}

		authURL := s.provider.AuthURL(token)

		messageID, err := s.messenger.SendAuthPrompt(ctx, userID, authURL)
		if err != nil {
			return "", fmt.Errorf("failed to send auth prompt: %w", err)
		}

		err = s.store.PutState(ctx, storage.StateRecord{
			Token:     token,
			UserID:    userID,
			MessageID: messageID,
			ExpiresAt: time.Now().Add(s.stateTTL),
		})
		if err == nil {
			log.LogInfoWithFields("flow", "Link flow started", map[string]any{
				"user_id": userID,
			})
			return authURL, nil
		}
		if !errors.Is(err, storage.ErrStateExists) {
			return "", fmt.Errorf("failed to persist state: %w", err)
		}

		// Collision: the prompt already went out with a token we cannot use.
		// Retract it and try again with a fresh one.
		lastErr = err
		if messageID != "" {
			if derr := s.messenger.DeleteMessage(ctx, userID, messageID); derr != nil {
				log.LogWarnWithFields("flow", "Failed to retract prompt after token collision", map[string]any{
					"user_id":    userID,
					"message_id": messageID,
					"error":      derr.Error(),
				})
			}
		}
	}
	return "", fmt.Errorf("failed to persist state after %d attempts: %w", maxStartAttempts, lastErr)
}
