package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// NewOpaque returns nBytes of randomness as unpadded base64url, the shape
// used for backup codes and email-verification tokens.
func NewOpaque(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SHA256B64 hashes s and encodes the digest as unpadded base64url. Only
// these digests are persisted; the plaintext is shown to the user once.
func SHA256B64(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
