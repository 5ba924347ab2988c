package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zzxzyz/ai-meeting-sub001/pkg/middleware"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/domain"
)

// ErrInvalidAccessToken is returned for any access token that fails parsing,
// signature, issuer or expiry checks.
var ErrInvalidAccessToken = errors.New("invalid access token")

// Claims represents the JWT claims for an access token. The subject carries
// the user id and the registered ID carries a unique jti.
type Claims struct {
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTManager mints and verifies HS256 access tokens.
type JWTManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTManager creates a new JWT manager with the given secret, issuer and
// access token lifetime.
func NewJWTManager(secret, issuer string, ttl time.Duration) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the access token lifetime.
func (m *JWTManager) TTL() time.Duration { return m.ttl }

// GenerateAccessToken creates a signed access token for user issued at now.
// It returns the token and its expiry.
func (m *JWTManager) GenerateAccessToken(user *domain.User, now time.Time) (string, time.Time, error) {
	now = now.UTC()
	expiresAt := now.Add(m.ttl)
	claims := &Claims{
		Email: user.Email,
		Name:  user.DisplayName,
		Roles: domain.DefaultRoles(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken parses and validates an access token, returning the claims.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAccessToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// Validator adapts the manager to the bearer guard in pkg/middleware.
func (m *JWTManager) Validator() middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		c, err := m.ValidateAccessToken(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			UserID: c.Subject,
			Email:  c.Email,
			Name:   c.Name,
			Roles:  c.Roles,
		}, nil
	}
}
