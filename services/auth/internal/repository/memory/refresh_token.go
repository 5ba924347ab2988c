package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/zzxzyz/ai-meeting-sub001/pkg/errors"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/domain"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/repository"
)

// RefreshTokenRepository is an in-memory repository.RefreshTokenRepository.
type RefreshTokenRepository struct {
	mu       sync.Mutex
	byID     map[string]*domain.RefreshToken
	byDigest map[string]string
}

// NewRefreshTokenRepository creates an empty in-memory refresh token repository.
func NewRefreshTokenRepository() *RefreshTokenRepository {
	return &RefreshTokenRepository{
		byID:     make(map[string]*domain.RefreshToken),
		byDigest: make(map[string]string),
	}
}

func (r *RefreshTokenRepository) Create(_ context.Context, t *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byDigest[t.TokenHash]; ok {
		return apperrors.AlreadyExists("refresh token", "token_hash", t.TokenHash)
	}
	stored := cloneToken(t)
	r.byID[t.ID] = stored
	r.byDigest[t.TokenHash] = t.ID
	return nil
}

func (r *RefreshTokenRepository) FindByDigest(_ context.Context, digest string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byDigest[digest]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneToken(r.byID[id]), nil
}

func (r *RefreshTokenRepository) MarkUsed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok || t.UsedAt != nil {
		return repository.ErrTokenAlreadyUsed
	}
	t.UsedAt = &at
	return nil
}

func (r *RefreshTokenRepository) Revoke(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.byID[id]; ok && t.RevokedAt == nil {
		t.RevokedAt = &at
	}
	return nil
}

func (r *RefreshTokenRepository) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, t := range r.byID {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (r *RefreshTokenRepository) FindValidForUser(_ context.Context, userID string, now time.Time) ([]domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tokens := []domain.RefreshToken{}
	for _, t := range r.byID {
		if t.UserID == userID && t.IsValid(now) {
			tokens = append(tokens, *cloneToken(t))
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})
	return tokens, nil
}

func (r *RefreshTokenRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, t := range r.byID {
		if t.IsExpired(now) {
			delete(r.byID, id)
			delete(r.byDigest, t.TokenHash)
			n++
		}
	}
	return n, nil
}

func cloneToken(t *domain.RefreshToken) *domain.RefreshToken {
	c := *t
	if t.UsedAt != nil {
		v := *t.UsedAt
		c.UsedAt = &v
	}
	if t.RevokedAt != nil {
		v := *t.RevokedAt
		c.RevokedAt = &v
	}
	return &c
}
