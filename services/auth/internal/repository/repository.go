package repository

import (
	"context"
	"errors"
	"time"

	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/domain"
)

// ErrTokenAlreadyUsed is returned by MarkUsed when the token had already been
// marked used, typically by a concurrent refresh of the same secret.
var ErrTokenAlreadyUsed = errors.New("refresh token already used")

// UserRepository persists accounts. Lookups that find nothing return
// apperrors.ErrNotFound; a duplicate email on Create returns an error
// wrapping apperrors.ErrAlreadyExists.
type UserRepository interface {
	// Create inserts a new user. Email must already be normalized.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by email, compared in normalized form.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// RefreshTokenRepository persists refresh token records. Every mutation is a
// single atomic statement.
type RefreshTokenRepository interface {
	// Create stores a new record.
	Create(ctx context.Context, token *domain.RefreshToken) error

	// FindByDigest returns the record with the given digest or
	// apperrors.ErrNotFound.
	FindByDigest(ctx context.Context, digest string) (*domain.RefreshToken, error)

	// MarkUsed sets used_at only if it is still unset. It returns
	// ErrTokenAlreadyUsed when another caller got there first.
	MarkUsed(ctx context.Context, id string, at time.Time) error

	// Revoke sets revoked_at if it is unset. Revoking an already revoked or
	// unknown token is not an error.
	Revoke(ctx context.Context, id string, at time.Time) error

	// RevokeAllForUser revokes every unrevoked token of the user in one
	// statement and returns how many were revoked.
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)

	// FindValidForUser lists tokens that are unused, unrevoked and unexpired
	// at now, newest first.
	FindValidForUser(ctx context.Context, userID string, now time.Time) ([]domain.RefreshToken, error)

	// DeleteExpired removes tokens whose expiry is at or before now and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
