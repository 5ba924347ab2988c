package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/zzxzyz/ai-meeting-sub001/pkg/errors"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/domain"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/event"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/repository"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/security"
)

// TokenTypeBearer is the token type reported to clients.
const TokenTypeBearer = "Bearer"

// maxPasswordBytes is the longest input bcrypt will hash.
const maxPasswordBytes = 72

// AccessTokenIssuer mints signed access tokens.
type AccessTokenIssuer interface {
	GenerateAccessToken(user *domain.User, now time.Time) (string, time.Time, error)
}

// EventPublisher emits auth domain events. Failures are logged by the
// service and never fail the request.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, user *domain.User) error
	PublishReplayDetected(ctx context.Context, token *domain.RefreshToken, revoked int64, client domain.ClientInfo) error
	PublishSessionRevoked(ctx context.Context, token *domain.RefreshToken) error
}

// Config holds the session parameters injected at construction.
type Config struct {
	RefreshTokenTTL   time.Duration
	RefreshTokenBytes int
}

// Option customizes a SessionService.
type Option func(*SessionService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

// WithEvents sets the event publisher. The default discards events.
func WithEvents(p EventPublisher) Option {
	return func(s *SessionService) { s.events = p }
}

// SessionService implements registration, login, refresh rotation with
// replay detection, and logout.
type SessionService struct {
	cfg         Config
	users       repository.UserRepository
	tokens      repository.RefreshTokenRepository
	passwords   security.PasswordHasher
	tokenHasher *security.TokenHasher
	issuer      AccessTokenIssuer
	events      EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewSessionService creates a new session service.
func NewSessionService(
	cfg Config,
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	passwords security.PasswordHasher,
	tokenHasher *security.TokenHasher,
	issuer AccessTokenIssuer,
	logger *slog.Logger,
	opts ...Option,
) *SessionService {
	s := &SessionService{
		cfg:         cfg,
		users:       users,
		tokens:      tokens,
		passwords:   passwords,
		tokenHasher: tokenHasher,
		issuer:      issuer,
		events:      event.NoopProducer{},
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	Client      domain.ClientInfo
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email    string
	Password string
	Client   domain.ClientInfo
}

// TokenPair is the result of one issuance. RefreshToken holds the plaintext
// secret and must only ever reach the client through the refresh cookie.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	TokenType        string    `json:"tokenType"`
	ExpiresIn        int64     `json:"expiresIn"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshToken     string    `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User   domain.PublicUser
	Tokens TokenPair
}

// Register creates a new account and issues its first token pair.
func (s *SessionService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	email := domain.NormalizeEmail(input.Email)
	displayName := strings.TrimSpace(input.DisplayName)
	if email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if displayName == "" {
		return nil, apperrors.InvalidInput("display name is required")
	}
	if err := checkPassword(input.Password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, domain.ErrEmailAlreadyExists
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := s.passwords.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, domain.ErrEmailAlreadyExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	pair, err := s.issue(ctx, user, input.Client)
	if err != nil {
		return nil, err
	}

	if err := s.events.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", user.ID))

	return &AuthResult{User: user.Public(), Tokens: *pair}, nil
}

// Login authenticates with email and password. Unknown email and wrong
// password fail with the same error after the same amount of hashing work.
func (s *SessionService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(input.Email))
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			loginTotal.WithLabelValues(resultError).Inc()
			return nil, fmt.Errorf("get user by email: %w", err)
		}
		_, _ = s.passwords.Verify(input.Password, s.passwords.DummyHash())
		loginTotal.WithLabelValues(resultInvalidCredentials).Inc()
		return nil, domain.ErrInvalidCredentials
	}

	ok, err := s.passwords.Verify(input.Password, user.PasswordHash)
	if err != nil {
		loginTotal.WithLabelValues(resultError).Inc()
		return nil, err
	}
	if !ok {
		loginTotal.WithLabelValues(resultInvalidCredentials).Inc()
		return nil, domain.ErrInvalidCredentials
	}

	pair, err := s.issue(ctx, user, input.Client)
	if err != nil {
		loginTotal.WithLabelValues(resultError).Inc()
		return nil, err
	}
	loginTotal.WithLabelValues(resultSuccess).Inc()

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))

	return &AuthResult{User: user.Public(), Tokens: *pair}, nil
}

// RefreshAccessToken exchanges a refresh secret for a new token pair. Each
// secret succeeds at most once. Presenting a consumed secret again revokes
// every session of its owner and fails with ErrReplayAttackDetected.
func (s *SessionService) RefreshAccessToken(ctx context.Context, secret string, client domain.ClientInfo) (*TokenPair, error) {
	pair, result, err := s.refresh(ctx, secret, client)
	refreshTotal.WithLabelValues(result).Inc()
	return pair, err
}

func (s *SessionService) refresh(ctx context.Context, secret string, client domain.ClientInfo) (*TokenPair, string, error) {
	if secret == "" {
		return nil, resultInvalidToken, domain.ErrInvalidToken
	}

	rec, err := s.tokens.FindByDigest(ctx, s.tokenHasher.Digest(secret))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, resultInvalidToken, domain.ErrInvalidToken
		}
		return nil, resultError, fmt.Errorf("find refresh token: %w", err)
	}

	now := s.now().UTC()

	// Order matters: a consumed secret is a replay even if it has since been
	// revoked or has expired.
	if rec.IsUsed() {
		return nil, resultReplay, s.handleReplay(ctx, rec, client, now)
	}
	if rec.IsRevoked() {
		return nil, resultInvalidToken, domain.ErrInvalidToken
	}
	if rec.IsExpired(now) {
		return nil, resultExpired, domain.ErrTokenExpired
	}

	if err := s.tokens.MarkUsed(ctx, rec.ID, now); err != nil {
		if errors.Is(err, repository.ErrTokenAlreadyUsed) {
			return nil, resultReplay, s.handleReplay(ctx, rec, client, now)
		}
		return nil, resultError, fmt.Errorf("mark refresh token used: %w", err)
	}

	user, err := s.users.GetByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, resultInvalidToken, domain.ErrInvalidToken
		}
		return nil, resultError, fmt.Errorf("get user for refresh: %w", err)
	}

	pair, err := s.issue(ctx, user, client)
	if err != nil {
		return nil, resultError, err
	}

	s.logger.InfoContext(ctx, "refresh token rotated",
		slog.String("user_id", user.ID),
		slog.String("token_id", rec.ID),
	)

	return pair, resultSuccess, nil
}

// handleReplay revokes every token of the owner and returns the error the
// caller must see. A failed revocation is returned as an internal error.
func (s *SessionService) handleReplay(ctx context.Context, rec *domain.RefreshToken, client domain.ClientInfo, now time.Time) error {
	revoked, err := s.tokens.RevokeAllForUser(ctx, rec.UserID, now)
	if err != nil {
		return fmt.Errorf("revoke sessions after replay: %w", err)
	}
	replayDetectedTotal.Inc()
	tokensRevokedTotal.Add(float64(revoked))

	s.logger.WarnContext(ctx, "refresh token replay detected, all sessions revoked",
		slog.String("user_id", rec.UserID),
		slog.String("token_id", rec.ID),
		slog.Int64("revoked", revoked),
		slog.String("ip_address", client.IPAddress),
	)

	if err := s.events.PublishReplayDetected(ctx, rec, revoked, client); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish session.replay_detected event",
			slog.String("user_id", rec.UserID),
			slog.String("error", err.Error()),
		)
	}

	return domain.ErrReplayAttackDetected
}

// Logout revokes the presented refresh token only. It is idempotent: an
// empty, unknown, or already revoked secret is not an error. Access tokens
// stay valid until they expire.
func (s *SessionService) Logout(ctx context.Context, userID, secret string) error {
	if secret == "" {
		return nil
	}

	rec, err := s.tokens.FindByDigest(ctx, s.tokenHasher.Digest(secret))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find refresh token: %w", err)
	}
	if rec.IsRevoked() {
		return nil
	}
	if userID != "" && rec.UserID != userID {
		s.logger.WarnContext(ctx, "logout with a refresh token owned by another user",
			slog.String("user_id", userID),
			slog.String("token_owner_id", rec.UserID),
		)
	}

	if err := s.tokens.Revoke(ctx, rec.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	tokensRevokedTotal.Inc()

	if err := s.events.PublishSessionRevoked(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish session.revoked event",
			slog.String("user_id", rec.UserID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user logged out",
		slog.String("user_id", rec.UserID),
		slog.String("token_id", rec.ID),
	)
	return nil
}

// GetUser returns the public profile of a user.
func (s *SessionService) GetUser(ctx context.Context, id string) (*domain.PublicUser, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("user", id)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	pub := user.Public()
	return &pub, nil
}

// ValidSessions lists the refresh tokens of a user that could still be
// exchanged.
func (s *SessionService) ValidSessions(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	tokens, err := s.tokens.FindValidForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list valid sessions: %w", err)
	}
	return tokens, nil
}

// issue mints an access token and persists a fresh refresh token record.
func (s *SessionService) issue(ctx context.Context, user *domain.User, client domain.ClientInfo) (*TokenPair, error) {
	now := s.now().UTC()

	access, accessExp, err := s.issuer.GenerateAccessToken(user, now)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	secret, err := security.NewRefreshSecret(s.cfg.RefreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}

	rec := &domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: s.tokenHasher.Digest(secret),
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt: now,
	}
	client.Apply(rec)
	if err := s.tokens.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		TokenType:        TokenTypeBearer,
		ExpiresIn:        int64(accessExp.Sub(now) / time.Second),
		AccessExpiresAt:  accessExp,
		RefreshToken:     secret,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func checkPassword(password string) error {
	if password == "" {
		return apperrors.InvalidInput("password is required")
	}
	if len(password) > maxPasswordBytes {
		return apperrors.InvalidInput(fmt.Sprintf("password must not exceed %d bytes", maxPasswordBytes))
	}
	return nil
}
