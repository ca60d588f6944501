package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintStable(t *testing.T) {
	first := Fingerprint("10.0.0.1", "Mozilla/5.0")
	second := Fingerprint("10.0.0.1", "Mozilla/5.0")
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestFingerprintSensitiveToInputs(t *testing.T) {
	base := Fingerprint("10.0.0.1", "Mozilla/5.0")
	assert.NotEqual(t, base, Fingerprint("10.0.0.2", "Mozilla/5.0"))
	assert.NotEqual(t, base, Fingerprint("10.0.0.1", "curl/8.0"))
}

func TestFingerprintBoundaryAmbiguity(t *testing.T) {
	// The separator keeps concatenation ambiguity out of the hash.
	assert.NotEqual(t, Fingerprint("ab", "c"), Fingerprint("a", "bc"))
}
