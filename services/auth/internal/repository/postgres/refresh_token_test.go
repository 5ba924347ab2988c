package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzxzyz/ai-meeting-sub001/pkg/database"
	apperrors "github.com/zzxzyz/ai-meeting-sub001/pkg/errors"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/domain"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/repository"
)

func newRefreshTokenTestFixture(t *testing.T) (*RefreshTokenRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewRefreshTokenRepository(mock), mock
}

func sampleRefreshToken() *domain.RefreshToken {
	now := time.Now().UTC().Truncate(time.Microsecond)
	ip := "203.0.113.7"
	ua := "Mozilla/5.0"
	return &domain.RefreshToken{
		ID:        "0c3f8a52-7b1e-4d44-9f0e-3c5a9b7d2e10",
		UserID:    "5b0e7c4a-1f61-4a7d-9d6b-6a1f3b2f9c01",
		TokenHash: "a3f1c9",
		ExpiresAt: now.Add(7 * 24 * time.Hour),
		IPAddress: &ip,
		UserAgent: &ua,
		CreatedAt: now,
	}
}

func refreshTokenColumnNames() []string {
	return []string{"id", "user_id", "token_hash", "expires_at", "used_at", "revoked_at", "ip_address", "user_agent", "created_at"}
}

func refreshTokenRow(rows *pgxmock.Rows, t *domain.RefreshToken) *pgxmock.Rows {
	return rows.AddRow(
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.UsedAt, t.RevokedAt, t.IPAddress, t.UserAgent, t.CreatedAt,
	)
}

func TestRefreshTokenRepository_Create(t *testing.T) {
	repo, mock := newRefreshTokenTestFixture(t)
	defer mock.Close()

	tok := sampleRefreshToken()
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.IPAddress, tok.UserAgent, tok.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), tok))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepository_Create_Error(t *testing.T) {
	repo, mock := newRefreshTokenTestFixture(t)
	defer mock.Close()

	tok := sampleRefreshToken()
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.IPAddress, tok.UserAgent, tok.CreatedAt).
		WillReturnError(errors.New("disk full"))

	err := repo.Create(context.Background(), tok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert refresh token")
}

func TestRefreshTokenRepository_FindByDigest(t *testing.T) {
	repo, mock := newRefreshTokenTestFixture(t)
	defer mock.Close()

	tok := sampleRefreshToken()
	used := tok.CreatedAt.Add(time.Minute)
	tok.UsedAt = &used
	mock.ExpectQuery("SELECT .+ FROM refresh_tokens WHERE token_hash").
		WithArgs(tok.TokenHash).
		WillReturnRows(refreshTokenRow(pgxmock.NewRows(refreshTokenColumnNames()), tok))

	got, err := repo.FindByDigest(context.Background(), tok.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, tok, got)
	assert.True(t, got.IsUsed())
	assert.False(t, got.IsRevoked())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepository_FindByDigest_NotFound(t *testing.T) {
	repo, mock := newRefreshTokenTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM refresh_tokens WHERE token_hash").
		WithArgs("unknown").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.FindByDigest(context.Background(), "unknown")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRefreshTokenRepository_MarkUsed(t *testing.T) {
	now := time.Now().UTC()

	t.Run("first caller wins", func(t *testing.T) {
		repo, mock := newRefreshTokenTestFixture(t)
		defer mock.Close()

		mock.ExpectExec("UPDATE refresh_tokens SET used_at .+ AND used_at IS NULL").
			WithArgs(now, "tok-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.MarkUsed(context.Background(), "tok-1", now))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already used", func(t *testing.T) {
		repo, mock := newRefreshTokenTestFixture(t)
		defer mock.Close()

		mock.ExpectExec("UPDATE refresh_tokens SET used_at .+ AND used_at IS NULL").
			WithArgs(now, "tok-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.MarkUsed(context.Background(), "tok-1", now)
		assert.ErrorIs(t, err, repository.ErrTokenAlreadyUsed)
	})

	t.Run("db error", func(t *testing.T) {
		repo, mock := newRefreshTokenTestFixture(t)
		defer mock.Close()

		mock.ExpectExec("UPDATE refresh_tokens SET used_at").
			WithArgs(now, "tok-1").
			WillReturnError(errors.New("timeout"))

		err := repo.MarkUsed(context.Background(), "tok-1", now)
		require.Error(t, err)
		assert.False(t, errors.Is(err, repository.ErrTokenAlreadyUsed))
	})
}

func TestRefreshTokenRepository_Revoke_Idempotent(t *testing.T) {
	repo, mock := newRefreshTokenTestFixture(t)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at .+ AND revoked_at IS NULL").
		WithArgs(now, "tok-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at .+ AND revoked_at IS NULL").
		WithArgs(now, "tok-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.Revoke(context.Background(), "tok-1", now))
	require.NoError(t, repo.Revoke(context.Background(), "tok-1", now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepository_RevokeAllForUser(t *testing.T) {
	repo, mock := newRefreshTokenTestFixture(t)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at .+ WHERE user_id .+ AND revoked_at IS NULL").
		WithArgs(now, "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := repo.RevokeAllForUser(context.Background(), "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepository_FindValidForUser(t *testing.T) {
	repo, mock := newRefreshTokenTestFixture(t)
	defer mock.Close()

	now := time.Now().UTC().Truncate(time.Microsecond)
	a := sampleRefreshToken()
	b := sampleRefreshToken()
	b.ID = "9a7d6f54-2c3b-4e1a-8b0f-1d2e3f4a5b6c"
	b.TokenHash = "b4e2d0"
	b.IPAddress = nil
	b.UserAgent = nil

	rows := pgxmock.NewRows(refreshTokenColumnNames())
	refreshTokenRow(rows, a)
	refreshTokenRow(rows, b)

	mock.ExpectQuery("SELECT .+ FROM refresh_tokens WHERE user_id .+ used_at IS NULL AND revoked_at IS NULL AND expires_at > .+ ORDER BY created_at DESC").
		WithArgs(a.UserID, now).
		WillReturnRows(rows)

	got, err := repo.FindValidForUser(context.Background(), a.UserID, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Nil(t, got[1].IPAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepository_FindValidForUser_Empty(t *testing.T) {
	repo, mock := newRefreshTokenTestFixture(t)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM refresh_tokens WHERE user_id").
		WithArgs("user-1", now).
		WillReturnRows(pgxmock.NewRows(refreshTokenColumnNames()))

	got, err := repo.FindValidForUser(context.Background(), "user-1", now)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRefreshTokenRepository_DeleteExpired(t *testing.T) {
	repo, mock := newRefreshTokenTestFixture(t)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectExec("DELETE FROM refresh_tokens WHERE expires_at <=").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 12))

	n, err := repo.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepository_DeleteExpired_WrapsError(t *testing.T) {
	repo, mock := newRefreshTokenTestFixture(t)
	defer mock.Close()

	now := time.Now().UTC()
	dbErr := errors.New("connection reset")
	mock.ExpectExec("DELETE FROM refresh_tokens WHERE expires_at <=").
		WithArgs(now).
		WillReturnError(dbErr)

	n, err := repo.DeleteExpired(context.Background(), now)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, dbErr)
	assert.Equal(t, "delete expired refresh tokens: connection reset", err.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}
