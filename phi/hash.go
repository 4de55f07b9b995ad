package phi

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SaltedHash returns the hex SHA-256 of value under a per-organization
// salt. Same input and salt always produce the same output (required for
// cross-platform deduplication); different salts produce unrelated
// outputs, so session ids never correlate across organizations.
func SaltedHash(salt, value string) string {
	sum := sha256.Sum256([]byte(salt + ":" + value))
	return hex.EncodeToString(sum[:])
}

// SessionHash is the client-side identify hash: a 31-multiplier rolling
// hash over the input bytes, rendered as 8 hex digits.
//
// This is deliberately not cryptographic: it pseudonymizes the caller
// identifier cheaply in the browser, while the server applies SaltedHash
// everywhere it matters. Unifying the two would change the format of
// session identifiers already in circulation.
func SessionHash(value string) string {
	var h uint32
	for i := 0; i < len(value); i++ {
		h = h*31 + uint32(value[i])
	}
	return fmt.Sprintf("%08x", h)
}

// NewSessionToken returns a freshly generated random 16-byte hex token
// (32 characters), the default session identity when no identify call
// has been made.
func NewSessionToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failure is unrecoverable in any environment this
		// runs in; surface it rather than degrade to a guessable id.
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// DedupID derives the stable deduplication identifier attached to every
// outbound platform event. Identical inputs always yield the identical
// id, so a destination platform can collapse retried sends.
func DedupID(sessionID string, eventType, eventName, timestamp string) string {
	sum := sha256.Sum256([]byte(sessionID + "|" + eventType + "|" + eventName + "|" + timestamp))
	return hex.EncodeToString(sum[:])[:32]
}
