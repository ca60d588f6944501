package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionNotFound is returned when a session ID has no server-side
	// record, whether it expired, was deleted, or never existed
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached. Callers must fail closed on it, never treat it as absence.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrTokenExpired is returned when a session token's lifetime has passed
	ErrTokenExpired = errors.New("session token expired")

	// ErrInvalidToken is returned for tokens that fail signature or format
	// validation
	ErrInvalidToken = errors.New("invalid session token")
)

// Metadata is the server-side record of one session. The token a client
// holds is only a reference; everything that can be tampered with lives
// here.
type Metadata struct {
	SessionID         string            `json:"session_id"`
	UserID            string            `json:"user_id"`
	DeviceFingerprint string            `json:"device_fingerprint"`
	OriginAddress     string            `json:"origin_address"`
	OriginAgent       string            `json:"origin_agent"`
	CreatedAt         time.Time         `json:"created_at"`
	LastAccessedAt    time.Time         `json:"last_accessed_at"`
	AccessCount       int64             `json:"access_count"`
	ProviderMetadata  map[string]string `json:"provider_metadata,omitempty"`
	EncryptedSecrets  []byte            `json:"encrypted_secrets,omitempty"`
}

func marshalMetadata(meta *Metadata) ([]byte, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data []byte) (*Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session metadata: %w", err)
	}
	return &meta, nil
}

// Store persists session metadata for the token lifetime. Touch bumps
// the access counter and last-access time on every successful
// validation; implementations may apply it with relaxed ordering but
// the counter must never go backwards.
type Store interface {
	Create(ctx context.Context, meta *Metadata) error
	Get(ctx context.Context, sessionID string) (*Metadata, error)
	Touch(ctx context.Context, sessionID string, at time.Time) error
	Delete(ctx context.Context, sessionID string) error
	Count(ctx context.Context) (int64, error)
	Close() error
}
