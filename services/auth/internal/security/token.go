package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
)

// MinRefreshSecretBytes is the smallest accepted refresh secret, 256 bits.
const MinRefreshSecretBytes = 32

// TokenHasher turns refresh secrets into the digest stored and indexed in
// the database. With a key it uses HMAC-SHA256 so a leaked table cannot be
// brute-forced offline without the key; without one it falls back to SHA-256.
type TokenHasher struct {
	key []byte
}

// NewTokenHasher returns a hasher. An empty key selects plain SHA-256.
func NewTokenHasher(key string) *TokenHasher {
	if key == "" {
		return &TokenHasher{}
	}
	return &TokenHasher{key: []byte(key)}
}

// Keyed reports whether digests are HMAC based.
func (h *TokenHasher) Keyed() bool { return len(h.key) > 0 }

// Digest returns the lowercase hex digest of secret.
func (h *TokenHasher) Digest(secret string) string {
	var m hash.Hash
	if h.Keyed() {
		m = hmac.New(sha256.New, h.key)
	} else {
		m = sha256.New()
	}
	_, _ = m.Write([]byte(secret))
	return hex.EncodeToString(m.Sum(nil))
}

// NewRefreshSecret returns n random bytes encoded as unpadded base64url.
func NewRefreshSecret(n int) (string, error) {
	if n < MinRefreshSecretBytes {
		return "", fmt.Errorf("refresh secret must be at least %d bytes, got %d", MinRefreshSecretBytes, n)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
