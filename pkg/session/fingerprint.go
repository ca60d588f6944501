package session

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint derives a stable device fingerprint from the request
// origin. The inputs are newline-separated so ("ab", "c") and
// ("a", "bc") hash differently.
func Fingerprint(address, agent string) string {
	h := sha256.New()
	h.Write([]byte(address))
	h.Write([]byte{'\n'})
	h.Write([]byte(agent))
	return hex.EncodeToString(h.Sum(nil))
}
