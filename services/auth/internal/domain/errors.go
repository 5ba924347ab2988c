package domain

import (
	"net/http"

	apperrors "github.com/zzxzyz/ai-meeting-sub001/pkg/errors"
)

// Session errors. Each wraps a pkg/errors sentinel so generic handlers still
// classify them, and carries its own code for clients.
var (
	ErrEmailAlreadyExists = apperrors.New("EMAIL_ALREADY_EXISTS",
		"an account with this email already exists", http.StatusConflict, apperrors.ErrAlreadyExists)

	// ErrInvalidCredentials is returned for both unknown email and wrong
	// password so callers cannot tell which one failed.
	ErrInvalidCredentials = apperrors.New("INVALID_CREDENTIALS",
		"invalid email or password", http.StatusUnauthorized, apperrors.ErrUnauthorized)

	ErrInvalidToken = apperrors.New("INVALID_TOKEN",
		"refresh token is invalid or revoked", http.StatusUnauthorized, apperrors.ErrUnauthorized)

	ErrTokenExpired = apperrors.New("TOKEN_EXPIRED",
		"refresh token has expired", http.StatusUnauthorized, apperrors.ErrUnauthorized)

	// ErrReplayAttackDetected means an already rotated secret was presented
	// again. Every session of the user has been revoked by the time it is
	// returned.
	ErrReplayAttackDetected = apperrors.New("REPLAY_ATTACK_DETECTED",
		"refresh token reuse detected; all sessions have been revoked", http.StatusUnauthorized, apperrors.ErrUnauthorized)
)
