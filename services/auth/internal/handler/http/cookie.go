package http

import (
	"net/http"
	"time"
)

// Refresh cookie defaults.
const (
	RefreshCookieName = "refresh_token"
	RefreshCookiePath = "/api/v1/auth/refresh"
)

// CookieConfig controls how the refresh secret is delivered. The cookie is
// always HttpOnly and SameSite=Strict, and scoped to the refresh path so the
// browser sends it nowhere else.
type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
	MaxAge time.Duration
}

// DefaultCookieConfig returns the refresh cookie settings for a refresh TTL.
func DefaultCookieConfig(secure bool, maxAge time.Duration) CookieConfig {
	return CookieConfig{
		Name:   RefreshCookieName,
		Path:   RefreshCookiePath,
		Secure: secure,
		MaxAge: maxAge,
	}
}

func (c CookieConfig) set(w http.ResponseWriter, secret string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    secret,
		Path:     c.Path,
		MaxAge:   int(c.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c CookieConfig) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c CookieConfig) read(r *http.Request) string {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
