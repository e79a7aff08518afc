package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// UAFingerprint returns a coarse client fingerprint: the first 32 hex
// characters of the SHA-256 of the User-Agent. It is a weak binding signal
// for session-hijack detection, not a security boundary. Empty User-Agent
// produces an empty fingerprint, which is never enforced.
func UAFingerprint(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(hash[:])[:32]
}
