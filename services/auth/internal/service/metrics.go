package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for the auth counters.
const (
	resultSuccess            = "success"
	resultInvalidCredentials = "invalid_credentials"
	resultInvalidToken       = "invalid_token"
	resultExpired            = "expired"
	resultReplay             = "replay"
	resultError              = "error"
)

var (
	loginTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	refreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh token exchanges by result.",
		},
		[]string{"result"},
	)

	replayDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_replay_detected_total",
			Help: "Refresh token replays detected.",
		},
	)

	tokensRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_tokens_revoked_total",
			Help: "Refresh tokens revoked by logout or replay detection.",
		},
	)
)
