package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// RefreshToken is the stored record of one issued refresh secret. Only the
// digest of the secret is kept.
//
// UsedAt is set once, when the token is rotated. RevokedAt is set once, on
// logout or replay detection. The two are independent.
type RefreshToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	TokenHash string     `json:"-"`
	ExpiresAt time.Time  `json:"expiresAt"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
	IPAddress *string    `json:"ipAddress,omitempty"`
	UserAgent *string    `json:"userAgent,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// IsUsed reports whether the token has already been rotated.
func (t *RefreshToken) IsUsed() bool { return t.UsedAt != nil }

// IsRevoked reports whether the token was revoked.
func (t *RefreshToken) IsRevoked() bool { return t.RevokedAt != nil }

// IsExpired reports whether the token is past its expiry at now.
func (t *RefreshToken) IsExpired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

// IsValid reports whether the token could still be exchanged at now.
func (t *RefreshToken) IsValid(now time.Time) bool {
	return !t.IsUsed() && !t.IsRevoked() && !t.IsExpired(now)
}

// ClientInfo is optional metadata about the client a token was issued to.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

const maxUserAgentLen = 512

// Apply copies non-empty client metadata onto t.
func (c ClientInfo) Apply(t *RefreshToken) {
	if c.IPAddress != "" {
		ip := c.IPAddress
		t.IPAddress = &ip
	}
	if c.UserAgent != "" {
		ua := truncateUTF8(strings.ToValidUTF8(c.UserAgent, ""), maxUserAgentLen)
		t.UserAgent = &ua
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
// s must be valid UTF-8.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
