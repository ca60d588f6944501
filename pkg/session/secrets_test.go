package session

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretSealerRoundTrip(t *testing.T) {
	sealer, err := NewSecretSealer([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	secrets := &ProviderSecrets{AccessToken: "at-123", RefreshToken: "rt-456"}
	box, err := sealer.Seal(secrets)
	require.NoError(t, err)
	require.NotEmpty(t, box)
	assert.NotContains(t, string(box), "at-123")

	opened, err := sealer.Open(box)
	require.NoError(t, err)
	assert.Equal(t, secrets, opened)
}

func TestSecretSealerKeyLength(t *testing.T) {
	_, err := NewSecretSealer([]byte("too short"))
	require.Error(t, err)
}

func TestSecretSealerEmptySecrets(t *testing.T) {
	sealer, err := NewSecretSealer([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	box, err := sealer.Seal(&ProviderSecrets{})
	require.NoError(t, err)
	assert.Nil(t, box)

	opened, err := sealer.Open(nil)
	require.NoError(t, err)
	assert.Nil(t, opened)
}

func TestSecretSealerFreshNonce(t *testing.T) {
	sealer, err := NewSecretSealer([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	secrets := &ProviderSecrets{AccessToken: "at-123"}
	first, err := sealer.Seal(secrets)
	require.NoError(t, err)
	second, err := sealer.Seal(secrets)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(first, second))
}

func TestSecretSealerWrongKey(t *testing.T) {
	sealer, err := NewSecretSealer([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	other, err := NewSecretSealer([]byte(strings.Repeat("x", 32)))
	require.NoError(t, err)

	box, err := sealer.Seal(&ProviderSecrets{AccessToken: "at-123"})
	require.NoError(t, err)

	_, err = other.Open(box)
	assert.ErrorIs(t, err, ErrSecretSealFailed)
}

func TestSecretSealerTamperedBox(t *testing.T) {
	sealer, err := NewSecretSealer([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	box, err := sealer.Seal(&ProviderSecrets{AccessToken: "at-123"})
	require.NoError(t, err)

	box[len(box)-1] ^= 0xff
	_, err = sealer.Open(box)
	assert.ErrorIs(t, err, ErrSecretSealFailed)

	_, err = sealer.Open([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrSecretSealFailed)
}
