package flow

import (
	"context"
	"errors"

	"github.com/dgellow/linkd/internal/log"
	"github.com/dgellow/linkd/internal/storage"
)

// Result reports the outcome of one callback invocation. UserID and MessageID
// are propagated even on failure when known, so the notification layer can
// still address the right user.
type Result struct {
	Success   bool   `json:"success"`
	UserID    string `json:"user_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Err       *Error `json:"error,omitempty"`
}

// HandleCallback processes one inbound authorization callback. The steps run
// strictly in sequence with early termination and no internal retries; the
// detach/attach pair is already atomic at the store level, so no compensation
// logic is needed for partial binds.
func (s *Service) HandleCallback(ctx context.Context, code, state string) Result {
	rec, err := s.store.ConsumeState(ctx, state)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrStateExpired):
			// The record is deleted but still identifies its owner.
			return Result{
				UserID:    rec.UserID,
				MessageID: rec.MessageID,
				Err:       newError(KindExpiredState, "state token expired", err),
			}
		case errors.Is(err, storage.ErrStateNotFound):
			return Result{Err: newError(KindInvalidState, "invalid or already used state token", err)}
		default:
			return Result{Err: newError(KindInvalidState, "failed to validate state token", err)}
		}
	}

	// The state is consumed from here on: replay protection holds even when a
	// later step fails, and the user must restart the flow for a new URL.
	cred, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return Result{
			UserID:    rec.UserID,
			MessageID: rec.MessageID,
			Err:       newError(KindTokenExchange, "failed to obtain tokens", err),
		}
	}

	profile, err := s.provider.FetchProfile(ctx, cred.AccessToken)
	if err != nil {
		return Result{
			UserID:    rec.UserID,
			MessageID: rec.MessageID,
			Err:       newError(KindUserFetch, "failed to fetch user information", err),
		}
	}

	if err := s.store.BindIdentity(ctx, rec.UserID, storage.Binding{
		ExternalID: profile.ID,
		Profile:    *profile,
		Credential: *cred,
	}); err != nil {
		return Result{
			UserID:    rec.UserID,
			MessageID: rec.MessageID,
			Err:       newError(KindOwnershipTransfer, "failed to save identity binding", err),
		}
	}

	// Best-effort cleanup of the prompt message; failure never aborts the flow
	if rec.MessageID != "" {
		if err := s.messenger.DeleteMessage(ctx, rec.UserID, rec.MessageID); err != nil {
			log.LogWarnWithFields("flow", "Failed to delete prompt message", map[string]any{
				"user_id":    rec.UserID,
				"message_id": rec.MessageID,
				"error":      err.Error(),
			})
		}
	}

	log.LogInfoWithFields("flow", "Identity linked", map[string]any{
		"user_id":     rec.UserID,
		"external_id": profile.ID,
	})

	return Result{Success: true, UserID: rec.UserID, MessageID: rec.MessageID}
}
