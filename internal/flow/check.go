package flow

import (
	"context"
	"fmt"

	"github.com/dgellow/linkd/internal/idp"
	"github.com/dgellow/linkd/internal/log"
	"github.com/dgellow/linkd/internal/tokencheck"
)

// CheckOutcome reports the result of a credential check for one user.
type CheckOutcome struct {
	Valid     bool           `json:"valid"`
	Refreshed bool           `json:"refreshed"`
	OldAuth   idp.Credential `json:"old_auth"`
	NewAuth   idp.Credential `json:"new_auth"`
}

// CheckAuth verifies the stored credential for userID, refreshing and
// persisting it when needed. Concurrent calls for the same user share one
// execution, so a burst of checks triggers at most one refresh.
//
// Returns storage.ErrBindingNotFound when the user has never linked, and a
// KindRefreshToken flow error when the credential is invalid and the refresh
// fails.
func (s *Service) CheckAuth(ctx context.Context, userID string, deep bool) (*CheckOutcome, error) {
	v, err, _ := s.refreshGroup.Do(userID, func() (any, error) {
		return s.checkAuth(ctx, userID, deep)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CheckOutcome), nil
}

func (s *Service) checkAuth(ctx context.Context, userID string, deep bool) (*CheckOutcome, error) {
	binding, err := s.store.GetBinding(ctx, userID)
	if err != nil {
		return nil, err
	}

	mode := tokencheck.ModeDeep
	if !deep {
		mode = tokencheck.ModeShallow
	}

	res, err := s.checker.Check(ctx, binding.Credential, mode)
	if err != nil {
		return nil, newError(KindRefreshToken, "failed to refresh credential", err)
	}

	if res.Refreshed {
		if err := s.store.UpdateCredential(ctx, userID, res.New); err != nil {
			return nil, fmt.Errorf("failed to persist refreshed credential: %w", err)
		}
		log.LogInfoWithFields("flow", "Credential refreshed", map[string]any{
			"user_id": userID,
		})
	}

	return &CheckOutcome{
		Valid:     true,
		Refreshed: res.Refreshed,
		OldAuth:   res.Old,
		NewAuth:   res.New,
	}, nil
}
