package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/linkd/internal/crypto"
	"github.com/dgellow/linkd/internal/idp"
	"github.com/dgellow/linkd/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore implements Store using Google Cloud Firestore.
//
// The states collection is keyed by token; consumption is a get-and-delete
// inside a transaction so replayed callbacks cannot both succeed. The users
// collection is keyed by internal user id with the binding embedded; ownership
// transfer detaches the old owner and attaches the new one in a single
// transaction. A `twitch_id` field index serves the owner-by-external-id
// lookup. Access and refresh tokens are encrypted before they leave the
// process.
type FirestoreStore struct {
	client           *firestore.Client
	encryptor        crypto.Encryptor
	statesCollection string
	usersCollection  string
}

var _ Store = (*FirestoreStore)(nil)

type stateDoc struct {
	Token     string    `firestore:"token"`
	UserID    string    `firestore:"user_id"`
	MessageID string    `firestore:"message_id,omitempty"`
	ExpiresAt time.Time `firestore:"expires_at"` // also used by the Firestore TTL policy
}

type credentialDoc struct {
	AccessToken  string    `firestore:"access_token"`  // encrypted
	RefreshToken string    `firestore:"refresh_token"` // encrypted
	ExpiresIn    int64     `firestore:"expires_in"`    // seconds
	ExpiresAt    time.Time `firestore:"expires_at"`
	Scopes       []string  `firestore:"scopes,omitempty"`
}

type profileDoc struct {
	ID              string `firestore:"id"`
	Login           string `firestore:"login"`
	DisplayName     string `firestore:"display_name"`
	ProfileImageURL string `firestore:"profile_image_url,omitempty"`
	Email           string `firestore:"email,omitempty"`
}

type userDoc struct {
	TwitchID      string         `firestore:"twitch_id"`
	TwitchProfile *profileDoc    `firestore:"twitch_profile"`
	TwitchAuth    *credentialDoc `firestore:"twitch_auth"`
	LinkedAt      time.Time      `firestore:"linked_at"`
}

// NewFirestoreStore creates a Firestore-backed store.
func NewFirestoreStore(ctx context.Context, projectID, database string, encryptor crypto.Encryptor) (*FirestoreStore, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreStore{
		client:           client,
		encryptor:        encryptor,
		statesCollection: "linkd_auth_states",
		usersCollection:  "linkd_users",
	}, nil
}

// PutState persists a state record keyed by its token.
func (s *FirestoreStore) PutState(ctx context.Context, rec StateRecord) error {
	doc := stateDoc{
		Token:     rec.Token,
		UserID:    rec.UserID,
		MessageID: rec.MessageID,
		ExpiresAt: rec.ExpiresAt,
	}

	_, err := s.client.Collection(s.statesCollection).Doc(rec.Token).Create(ctx, doc)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrStateExists
		}
		return fmt.Errorf("failed to store state: %w", err)
	}
	return nil
}

// ConsumeState atomically fetches and deletes a state record. The delete
// happens even when the record turns out to be expired, so a failed consume
// never leaves a token behind for retries.
func (s *FirestoreStore) ConsumeState(ctx context.Context, token string) (*StateRecord, error) {
	ref := s.client.Collection(s.statesCollection).Doc(token)

	var rec StateRecord
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrStateNotFound
			}
			return fmt.Errorf("failed to get state: %w", err)
		}

		var doc stateDoc
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("failed to unmarshal state: %w", err)
		}
		rec = StateRecord{
			Token:     doc.Token,
			UserID:    doc.UserID,
			MessageID: doc.MessageID,
			ExpiresAt: doc.ExpiresAt,
		}

		return tx.Delete(ref)
	})
	if err != nil {
		if errors.Is(err, ErrStateNotFound) || status.Code(err) == codes.NotFound {
			return nil, ErrStateNotFound
		}
		return nil, err
	}

	if rec.Expired(time.Now()) {
		return &rec, ErrStateExpired
	}
	return &rec, nil
}

// DeleteExpiredStates purges expired state records in batches. The Firestore
// TTL policy on expires_at reclaims them too, but with a delay of up to days.
func (s *FirestoreStore) DeleteExpiredStates(ctx context.Context) (int, error) {
	iter := s.client.Collection(s.statesCollection).
		Where("expires_at", "<=", time.Now()).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	batch := s.client.Batch()
	batchSize := 0
	const maxBatchSize = 500 // Firestore batch write limit

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to iterate expired states: %w", err)
		}

		batch.Delete(doc.Ref)
		batchSize++
		count++

		if batchSize >= maxBatchSize {
			if _, err := batch.Commit(ctx); err != nil {
				return count, fmt.Errorf("failed to commit batch: %w", err)
			}
			batch = s.client.Batch()
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return count, fmt.Errorf("failed to commit final batch: %w", err)
		}
	}

	return count, nil
}

// BindIdentity attaches the binding to userID, detaching it from any previous
// owner in the same transaction.
//
// The owner lookup runs before the transaction, so two concurrent binds for
// the same external identity from two different users can both observe the
// same previous owner; the transactions then apply in commit order and the
// later one wins. This TOCTOU window is a known, accepted race: each outcome
// still satisfies the single-owner invariant, only the winner differs.
func (s *FirestoreStore) BindIdentity(ctx context.Context, userID string, b Binding) error {
	users := s.client.Collection(s.usersCollection)

	oldOwnerID, err := s.findOwner(ctx, b.ExternalID)
	if err != nil {
		return err
	}

	data, err := s.bindingData(b)
	if err != nil {
		return err
	}

	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if oldOwnerID != "" && oldOwnerID != userID {
			oldRef := users.Doc(oldOwnerID)
			_, err := tx.Get(oldRef)
			switch {
			case status.Code(err) == codes.NotFound:
				// The old owner was deleted independently; nothing to detach.
				log.LogWarnWithFields("firestore", "Previous identity owner no longer exists, skipping detach", map[string]any{
					"old_owner":   oldOwnerID,
					"external_id": b.ExternalID,
				})
			case err != nil:
				return fmt.Errorf("failed to get previous owner: %w", err)
			default:
				if err := tx.Update(oldRef, []firestore.Update{
					{Path: "twitch_id", Value: firestore.Delete},
					{Path: "twitch_profile", Value: firestore.Delete},
					{Path: "twitch_auth", Value: firestore.Delete},
					{Path: "linked_at", Value: firestore.Delete},
				}); err != nil {
					return fmt.Errorf("failed to detach previous owner: %w", err)
				}
			}
		}

		// Merge-set: the user record is expected to pre-exist as an account
		// shell, but shells may be created lazily, so absence is tolerated.
		return tx.Set(users.Doc(userID), data, firestore.MergeAll)
	})
	if err != nil {
		return fmt.Errorf("identity bind transaction failed: %w", err)
	}

	return nil
}

// findOwner resolves the user currently bound to an external identity, if any.
func (s *FirestoreStore) findOwner(ctx context.Context, externalID string) (string, error) {
	iter := s.client.Collection(s.usersCollection).
		Where("twitch_id", "==", externalID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query identity owner: %w", err)
	}
	return doc.Ref.ID, nil
}

// GetBinding returns the binding attached to userID.
func (s *FirestoreStore) GetBinding(ctx context.Context, userID string) (*Binding, error) {
	snap, err := s.client.Collection(s.usersCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrBindingNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	if doc.TwitchID == "" || doc.TwitchAuth == nil {
		return nil, ErrBindingNotFound
	}

	cred, err := s.decryptCredential(doc.TwitchAuth)
	if err != nil {
		return nil, err
	}

	b := &Binding{
		ExternalID: doc.TwitchID,
		Credential: *cred,
		LinkedAt:   doc.LinkedAt,
	}
	if doc.TwitchProfile != nil {
		b.Profile = idp.Profile{
			ID:              doc.TwitchProfile.ID,
			Login:           doc.TwitchProfile.Login,
			DisplayName:     doc.TwitchProfile.DisplayName,
			ProfileImageURL: doc.TwitchProfile.ProfileImageURL,
			Email:           doc.TwitchProfile.Email,
		}
	}
	return b, nil
}

// UpdateCredential replaces the stored credential wholesale.
func (s *FirestoreStore) UpdateCredential(ctx context.Context, userID string, cred idp.Credential) error {
	credData, err := s.credentialData(cred)
	if err != nil {
		return err
	}

	_, err = s.client.Collection(s.usersCollection).Doc(userID).Update(ctx, []firestore.Update{
		{Path: "twitch_auth", Value: credData},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrBindingNotFound
		}
		return fmt.Errorf("failed to update credential: %w", err)
	}
	return nil
}

// Close closes the Firestore client
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// bindingData builds the merge-set payload for a binding. Set with MergeAll
// requires map data, so docs are written as maps and read back as structs.
func (s *FirestoreStore) bindingData(b Binding) (map[string]any, error) {
	credData, err := s.credentialData(b.Credential)
	if err != nil {
		return nil, err
	}

	linkedAt := b.LinkedAt
	if linkedAt.IsZero() {
		linkedAt = time.Now()
	}

	return map[string]any{
		"twitch_id": b.ExternalID,
		"twitch_profile": map[string]any{
			"id":                b.Profile.ID,
			"login":             b.Profile.Login,
			"display_name":      b.Profile.DisplayName,
			"profile_image_url": b.Profile.ProfileImageURL,
			"email":             b.Profile.Email,
		},
		"twitch_auth": credData,
		"linked_at":   linkedAt,
	}, nil
}

func (s *FirestoreStore) credentialData(cred idp.Credential) (map[string]any, error) {
	encryptedAccess, err := s.encryptor.Encrypt(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encryptedRefresh, err := s.encryptor.Encrypt(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	return map[string]any{
		"access_token":  encryptedAccess,
		"refresh_token": encryptedRefresh,
		"expires_in":    int64(cred.ExpiresIn.Seconds()),
		"expires_at":    cred.ExpiresAt,
		"scopes":        cred.Scopes,
	}, nil
}

func (s *FirestoreStore) decryptCredential(doc *credentialDoc) (*idp.Credential, error) {
	accessToken, err := s.encryptor.Decrypt(doc.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refreshToken, err := s.encryptor.Decrypt(doc.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	return &idp.Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    time.Duration(doc.ExpiresIn) * time.Second,
		ExpiresAt:    doc.ExpiresAt,
		Scopes:       doc.Scopes,
	}, nil
}
