// Package flow sequences the identity-linking flows: issuing authorization
// prompts, handling provider callbacks, and checking stored credentials. All
// shared state lives in the store; a Service carries no mutable state of its
// own beyond refresh deduplication.
package flow

import (
	"time"

	"github.com/dgellow/linkd/internal/idp"
	"github.com/dgellow/linkd/internal/notify"
	"github.com/dgellow/linkd/internal/storage"
	"github.com/dgellow/linkd/internal/tokencheck"
	"golang.org/x/sync/singleflight"
)

// Service orchestrates the link flows. Clients are injected at construction;
// there are no process-wide singletons.
type Service struct {
	store     storage.Store
	provider  idp.Provider
	messenger notify.Messenger
	checker   *tokencheck.Checker
	stateTTL  time.Duration

	// refreshGroup collapses concurrent credential checks for the same user
	// so at most one refresh is in flight per user at a time.
	refreshGroup singleflight.Group
}

// NewService creates a flow service.
func NewService(store storage.Store, provider idp.Provider, messenger notify.Messenger, stateTTL time.Duration) *Service {
	if messenger == nil {
		messenger = notify.NoopMessenger{}
	}
	return &Service{
		store:     store,
		provider:  provider,
		messenger: messenger,
		checker:   tokencheck.NewChecker(provider),
		stateTTL:  stateTTL,
	}
}
