package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateStateToken creates a cryptographically secure random token.
// Returns a base64 URL-encoded string (256 bits of entropy) suitable for use
// as an OAuth state parameter. Collisions are negligible at this entropy, so
// callers need no uniqueness check; if the store still reports a duplicate
// key, retry with a fresh token.
func GenerateStateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
