package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dgellow/linkd/internal/idp"
)

// ErrStateNotFound is returned when a state token doesn't exist
var ErrStateNotFound = errors.New("state token not found")

// ErrStateExpired is returned when a state token exists but is past its TTL.
// The record is deleted as part of the failed consume.
var ErrStateExpired = errors.New("state token expired")

// ErrStateExists is returned when a state token collides with an existing one
var ErrStateExists = errors.New("state token already exists")

// ErrBindingNotFound is returned when a user has no identity binding
var ErrBindingNotFound = errors.New("identity binding not found")

// StateGrace is the clock-skew allowance applied when checking state expiry
const StateGrace = 3 * time.Second

// StateRecord is a single-use anti-replay token bound to the user who
// requested an authorization URL. Valid until first successful consumption
// or expiry, whichever comes first.
type StateRecord struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id,omitempty"` // transient prompt message, cleaned up later
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record is past its TTL plus the grace window.
func (r *StateRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt.Add(StateGrace))
}

// Binding associates an external identity with an internal user record.
// For a given external identity id, at most one user carries a binding to it
// at any time; BindIdentity enforces this with an atomic transfer.
type Binding struct {
	ExternalID string         `json:"external_id"`
	Profile    idp.Profile    `json:"profile"`
	Credential idp.Credential `json:"credential"`
	LinkedAt   time.Time      `json:"linked_at"`
}

// Store is the single source of truth for state tokens and identity bindings.
// All binding and state mutation goes through these methods; no other code
// path writes this data.
type Store interface {
	// PutState persists a state record keyed by its token.
	// Returns ErrStateExists when the token is already present.
	PutState(ctx context.Context, rec StateRecord) error

	// ConsumeState fetches and deletes the record for a token in one atomic
	// step; two concurrent callers cannot both succeed. Returns
	// ErrStateNotFound when absent. Returns the record together with
	// ErrStateExpired when past its TTL, so the caller can still address the
	// owner; the record is deleted in that case too.
	ConsumeState(ctx context.Context, token string) (*StateRecord, error)

	// DeleteExpiredStates purges expired state records. Space reclamation
	// only; consumption correctness never depends on it.
	DeleteExpiredStates(ctx context.Context) (int, error)

	// BindIdentity attaches the binding to userID, atomically detaching it
	// from any other user currently bound to the same external identity.
	// Either both operations land or neither does.
	BindIdentity(ctx context.Context, userID string, b Binding) error

	// GetBinding returns the binding attached to userID, or ErrBindingNotFound.
	GetBinding(ctx context.Context, userID string) (*Binding, error)

	// UpdateCredential replaces the whole credential of an existing binding.
	// Returns ErrBindingNotFound when the user has no binding.
	UpdateCredential(ctx context.Context, userID string, cred idp.Credential) error

	// Close releases backend resources.
	Close() error
}
