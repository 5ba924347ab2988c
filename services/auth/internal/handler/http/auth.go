package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/zzxzyz/ai-meeting-sub001/pkg/httputil"
	"github.com/zzxzyz/ai-meeting-sub001/pkg/middleware"
	"github.com/zzxzyz/ai-meeting-sub001/pkg/validator"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/domain"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/service"
)

// maxAuthBodyBytes caps auth request bodies; credentials are tiny.
const maxAuthBodyBytes = 16 << 10

// SessionService is the part of service.SessionService the handlers use.
type SessionService interface {
	Register(ctx context.Context, input service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, input service.LoginInput) (*service.AuthResult, error)
	RefreshAccessToken(ctx context.Context, secret string, client domain.ClientInfo) (*service.TokenPair, error)
	Logout(ctx context.Context, userID, secret string) error
	GetUser(ctx context.Context, id string) (*domain.PublicUser, error)
}

// AuthHandler handles HTTP requests for auth endpoints.
type AuthHandler struct {
	service SessionService
	cookies CookieConfig
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc SessionService, cookies CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, cookies: cookies, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for user registration.
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=72,password"`
	DisplayName string `json:"displayName" validate:"required,notblank,max=100"`
}

// LoginRequest is the JSON request body for user login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

// --- Response types ---

// TokenResponse carries the access token. The refresh secret travels only
// in the cookie.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	User domain.PublicUser `json:"user"`
	TokenResponse
}

func tokenResponse(p *service.TokenPair) TokenResponse {
	return TokenResponse{AccessToken: p.AccessToken, TokenType: p.TokenType, ExpiresIn: p.ExpiresIn}
}

func clientInfo(r *http.Request) domain.ClientInfo {
	return domain.ClientInfo{IPAddress: middleware.ClientIP(r), UserAgent: r.UserAgent()}
}

// --- Handlers ---

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httputil.DecodeJSON(w, r, &req, maxAuthBodyBytes); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	res, err := h.service.Register(r.Context(), service.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Client:      clientInfo(r),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.set(w, res.Tokens.RefreshToken)
	httputil.WriteData(w, http.StatusCreated, AuthResponse{
		User:          res.User,
		TokenResponse: tokenResponse(&res.Tokens),
	})
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.DecodeJSON(w, r, &req, maxAuthBodyBytes); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	res, err := h.service.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Client:   clientInfo(r),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.set(w, res.Tokens.RefreshToken)
	httputil.WriteData(w, http.StatusOK, AuthResponse{
		User:          res.User,
		TokenResponse: tokenResponse(&res.Tokens),
	})
}

// Refresh handles POST /api/v1/auth/refresh. The secret is read from the
// refresh cookie and replaced by the rotated one.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	pair, err := h.service.RefreshAccessToken(r.Context(), h.cookies.read(r), clientInfo(r))
	if err != nil {
		if isDeadSession(err) {
			h.cookies.clear(w)
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.set(w, pair.RefreshToken)
	httputil.WriteData(w, http.StatusOK, tokenResponse(pair))
}

// Logout handles DELETE /api/v1/auth/refresh. Only the session in the
// cookie is revoked.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if err := h.service.Logout(r.Context(), userID, h.cookies.read(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, user)
}

// isDeadSession reports whether err means the presented cookie can never
// succeed again.
func isDeadSession(err error) bool {
	return errors.Is(err, domain.ErrInvalidToken) ||
		errors.Is(err, domain.ErrTokenExpired) ||
		errors.Is(err, domain.ErrReplayAttackDetected)
}
