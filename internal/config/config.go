package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// StorageKind selects the storage backend
type StorageKind string

const (
	StorageKindFirestore StorageKind = "firestore"
	StorageKindMemory    StorageKind = "memory"
)

// Config holds the full linkd configuration, loaded from the environment.
type Config struct {
	// Addr is the HTTP listen address
	Addr string

	// Twitch OAuth application settings
	TwitchClientID     string
	TwitchClientSecret Secret
	TwitchRedirectURL  string

	// Telegram bot used to message users; optional, message
	// delivery degrades to no-op when unset
	TelegramBotToken Secret

	// Storage backend
	Storage            StorageKind
	FirestoreProjectID string
	FirestoreDatabase  string

	// EncryptionKey protects tokens at rest (32 bytes, base64-encoded in env)
	EncryptionKey []byte

	// StateTTL is how long an issued state token stays consumable
	StateTTL time.Duration

	// CleanupInterval is how often expired state records are purged
	CleanupInterval time.Duration
}

const (
	defaultAddr            = ":8080"
	defaultStateTTL        = 10 * time.Minute
	defaultCleanupInterval = 5 * time.Minute
)

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:               envOr("LINKD_ADDR", defaultAddr),
		TwitchClientID:     os.Getenv("TWITCH_CLIENT_ID"),
		TwitchClientSecret: Secret(os.Getenv("TWITCH_CLIENT_SECRET")),
		TwitchRedirectURL:  os.Getenv("TWITCH_REDIRECT_URL"),
		TelegramBotToken:   Secret(os.Getenv("TELEGRAM_BOT_TOKEN")),
		Storage:            StorageKind(envOr("LINKD_STORAGE", string(StorageKindFirestore))),
		FirestoreProjectID: os.Getenv("FIRESTORE_PROJECT_ID"),
		FirestoreDatabase:  os.Getenv("FIRESTORE_DATABASE"),
		StateTTL:           defaultStateTTL,
		CleanupInterval:    defaultCleanupInterval,
	}

	if v := os.Getenv("LINKD_STATE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LINKD_STATE_TTL: %w", err)
		}
		cfg.StateTTL = d
	}

	if v := os.Getenv("LINKD_CLEANUP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LINKD_CLEANUP_INTERVAL: %w", err)
		}
		cfg.CleanupInterval = d
	}

	if v := os.Getenv("LINKD_ENCRYPTION_KEY"); v != "" {
		key, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LINKD_ENCRYPTION_KEY: %w", err)
		}
		cfg.EncryptionKey = key
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TwitchClientID == "" {
		return fmt.Errorf("TWITCH_CLIENT_ID is required")
	}
	if c.TwitchClientSecret == "" {
		return fmt.Errorf("TWITCH_CLIENT_SECRET is required")
	}
	if c.TwitchRedirectURL == "" {
		return fmt.Errorf("TWITCH_REDIRECT_URL is required")
	}

	switch c.Storage {
	case StorageKindFirestore:
		if c.FirestoreProjectID == "" {
			return fmt.Errorf("FIRESTORE_PROJECT_ID is required for firestore storage")
		}
		if len(c.EncryptionKey) != 32 {
			return fmt.Errorf("LINKD_ENCRYPTION_KEY must decode to 32 bytes for firestore storage")
		}
	case StorageKindMemory:
		// Test and development backend, no further requirements
	default:
		return fmt.Errorf("unknown storage kind: %s", c.Storage)
	}

	if c.StateTTL <= 0 {
		return fmt.Errorf("state TTL must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
