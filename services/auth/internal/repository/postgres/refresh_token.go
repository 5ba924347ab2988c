package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zzxzyz/ai-meeting-sub001/pkg/database"
	apperrors "github.com/zzxzyz/ai-meeting-sub001/pkg/errors"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/domain"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/repository"
)

const refreshTokenColumns = `id, user_id, token_hash, expires_at, used_at, revoked_at, ip_address, user_agent, created_at`

// RefreshTokenRepository implements repository.RefreshTokenRepository using
// PostgreSQL. State transitions are conditional single-row updates, so two
// callers racing on the same row cannot both succeed.
type RefreshTokenRepository struct {
	db database.DBTX
}

// NewRefreshTokenRepository creates a new PostgreSQL-backed refresh token repository.
func NewRefreshTokenRepository(db database.DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores a new refresh token record.
func (r *RefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) (err error) {
	query := `INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, ip_address, user_agent, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	ctx, end := database.TraceQuery(ctx, "CreateRefreshToken", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		t.ID,
		t.UserID,
		t.TokenHash,
		t.ExpiresAt,
		t.IPAddress,
		t.UserAgent,
		t.CreatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "insert refresh token")
	}
	return nil
}

// FindByDigest retrieves a refresh token by the digest of its secret.
func (r *RefreshTokenRepository) FindByDigest(ctx context.Context, digest string) (_ *domain.RefreshToken, err error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	ctx, end := database.TraceQuery(ctx, "FindRefreshTokenByDigest", query)
	defer func() { end(err) }()

	t, err := scanRefreshToken(r.db.QueryRow(ctx, query, digest))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "scan refresh token")
	}
	return t, nil
}

// MarkUsed sets used_at only while it is NULL. Zero affected rows means a
// concurrent caller already consumed the token.
func (r *RefreshTokenRepository) MarkUsed(ctx context.Context, id string, at time.Time) (err error) {
	query := `UPDATE refresh_tokens SET used_at = $1 WHERE id = $2 AND used_at IS NULL`
	ctx, end := database.TraceQuery(ctx, "MarkRefreshTokenUsed", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, at, id)
	if err != nil {
		return apperrors.Wrap(err, "mark refresh token used")
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrTokenAlreadyUsed
	}
	return nil
}

// Revoke sets revoked_at on a single token if it is not already revoked.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string, at time.Time) (err error) {
	query := `UPDATE refresh_tokens SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`
	ctx, end := database.TraceQuery(ctx, "RevokeRefreshToken", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, at, id); err != nil {
		return apperrors.Wrap(err, "revoke refresh token")
	}
	return nil
}

// RevokeAllForUser revokes every unrevoked token of the user in one statement.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (_ int64, err error) {
	query := `UPDATE refresh_tokens SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`
	ctx, end := database.TraceQuery(ctx, "RevokeAllRefreshTokensForUser", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, at, userID)
	if err != nil {
		return 0, apperrors.Wrap(err, "revoke refresh tokens for user")
	}
	return ct.RowsAffected(), nil
}

// FindValidForUser lists the user's exchangeable tokens, newest first.
func (r *RefreshTokenRepository) FindValidForUser(ctx context.Context, userID string, now time.Time) (_ []domain.RefreshToken, err error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE user_id = $1 AND used_at IS NULL AND revoked_at IS NULL AND expires_at > $2 ORDER BY created_at DESC`
	ctx, end := database.TraceQuery(ctx, "FindValidRefreshTokensForUser", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, userID, now)
	if err != nil {
		return nil, apperrors.Wrap(err, "list refresh tokens")
	}
	defer rows.Close()

	tokens := []domain.RefreshToken{}
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "scan refresh token row")
		}
		tokens = append(tokens, *t)
	}
	if err = rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "iterate refresh token rows")
	}
	return tokens, nil
}

// DeleteExpired removes tokens whose expiry is at or before now.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (_ int64, err error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at <= $1`
	ctx, end := database.TraceQuery(ctx, "DeleteExpiredRefreshTokens", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, apperrors.Wrap(err, "delete expired refresh tokens")
	}
	return ct.RowsAffected(), nil
}

func scanRefreshToken(row pgx.Row) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.TokenHash,
		&t.ExpiresAt,
		&t.UsedAt,
		&t.RevokedAt,
		&t.IPAddress,
		&t.UserAgent,
		&t.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}
