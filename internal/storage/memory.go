package storage

import (
	"context"
	"sync"
	"time"

	"github.com/dgellow/linkd/internal/idp"
)

// MemoryStore is an in-process Store used for tests and local development.
// It mirrors the Firestore semantics: delete-on-read state consumption and
// atomic ownership transfer, both under a single mutex.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]StateRecord
	users  map[string]*Binding // keyed by internal user id
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]StateRecord),
		users:  make(map[string]*Binding),
	}
}

// PutState persists a state record keyed by its token.
func (s *MemoryStore) PutState(ctx context.Context, rec StateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.states[rec.Token]; exists {
		return ErrStateExists
	}
	s.states[rec.Token] = rec
	return nil
}

// ConsumeState fetches and deletes a state record in one step.
func (s *MemoryStore) ConsumeState(ctx context.Context, token string) (*StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.states[token]
	if !exists {
		return nil, ErrStateNotFound
	}
	delete(s.states, token)

	if rec.Expired(time.Now()) {
		return &rec, ErrStateExpired
	}
	return &rec, nil
}

// DeleteExpiredStates purges expired state records.
func (s *MemoryStore) DeleteExpiredStates(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for token, rec := range s.states {
		if now.After(rec.ExpiresAt) {
			delete(s.states, token)
			count++
		}
	}
	return count, nil
}

// BindIdentity attaches the binding to userID, detaching any previous owner
// of the same external identity under the same lock.
func (s *MemoryStore) BindIdentity(ctx context.Context, userID string, b Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for owner, existing := range s.users {
		if existing.ExternalID == b.ExternalID && owner != userID {
			delete(s.users, owner)
		}
	}

	if b.LinkedAt.IsZero() {
		b.LinkedAt = time.Now()
	}
	bound := b
	s.users[userID] = &bound
	return nil
}

// GetBinding returns a copy of the binding attached to userID.
func (s *MemoryStore) GetBinding(ctx context.Context, userID string) (*Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.users[userID]
	if !exists {
		return nil, ErrBindingNotFound
	}
	copied := *b
	return &copied, nil
}

// UpdateCredential replaces the stored credential wholesale.
func (s *MemoryStore) UpdateCredential(ctx context.Context, userID string, cred idp.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.users[userID]
	if !exists {
		return ErrBindingNotFound
	}
	// Replace via copy so concurrent readers holding the old value stay consistent
	updated := *b
	updated.Credential = cred
	s.users[userID] = &updated
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
