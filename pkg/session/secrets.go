package session

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrSecretSealFailed is returned when sealed provider secrets cannot be
// decrypted, usually after a key rotation
var ErrSecretSealFailed = errors.New("failed to unseal provider secrets")

// ProviderSecrets are the upstream provider tokens held for a session.
// They are only ever stored sealed.
type ProviderSecrets struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// SecretSealer encrypts provider secrets at rest with ChaCha20-Poly1305.
// Each Seal call uses a fresh random nonce prefixed to the ciphertext.
type SecretSealer struct {
	key []byte
}

// NewSecretSealer creates a sealer. The key must be exactly 32 bytes.
func NewSecretSealer(key []byte) (*SecretSealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &SecretSealer{key: key}, nil
}

// Seal encrypts the secrets for storage. Empty secrets seal to nil.
func (s *SecretSealer) Seal(secrets *ProviderSecrets) ([]byte, error) {
	if secrets == nil || (secrets.AccessToken == "" && secrets.RefreshToken == "") {
		return nil, nil
	}
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provider secrets: %w", err)
	}

	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts sealed secrets. A nil box opens to nil.
func (s *SecretSealer) Open(box []byte) (*ProviderSecrets, error) {
	if len(box) == 0 {
		return nil, nil
	}

	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	if len(box) < aead.NonceSize() {
		return nil, ErrSecretSealFailed
	}

	nonce, ciphertext := box[:aead.NonceSize()], box[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrSecretSealFailed
	}

	var secrets ProviderSecrets
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, ErrSecretSealFailed
	}
	return &secrets, nil
}
