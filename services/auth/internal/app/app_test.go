package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzxzyz/ai-meeting-sub001/pkg/health"
	"github.com/zzxzyz/ai-meeting-sub001/pkg/middleware"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/config"
)

func newTestApp(cfg *config.Config) *App {
	return &App{cfg: cfg, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestInitRateLimiter_ZeroRequestsDisables(t *testing.T) {
	a := newTestApp(&config.Config{RateLimitRequests: 0})

	limiter, err := a.initRateLimiter(context.Background(), health.NewHandler())
	require.NoError(t, err)
	assert.Nil(t, limiter)
	assert.Empty(t, a.workers)
}

func TestInitRateLimiter_LocalWithoutRedis(t *testing.T) {
	a := newTestApp(&config.Config{RateLimitRequests: 5, RateLimitWindow: time.Minute})

	limiter, err := a.initRateLimiter(context.Background(), health.NewHandler())
	require.NoError(t, err)
	assert.IsType(t, &middleware.LocalLimiter{}, limiter)
	assert.Len(t, a.workers, 1, "idle key cleanup runs as a worker")
	assert.Nil(t, a.redis)
}

func TestInitStorage_Memory(t *testing.T) {
	a := newTestApp(&config.Config{StorageDriver: config.StorageMemory})

	users, tokens, err := a.initStorage(context.Background(), health.NewHandler())
	require.NoError(t, err)
	assert.NotNil(t, users)
	assert.NotNil(t, tokens)
	assert.Nil(t, a.pool)
}

func TestInitStorage_UnknownDriver(t *testing.T) {
	a := newTestApp(&config.Config{StorageDriver: "mongo"})

	_, _, err := a.initStorage(context.Background(), health.NewHandler())
	assert.ErrorContains(t, err, `unknown storage driver "mongo"`)
}

func TestInitEvents_KafkaDisabled(t *testing.T) {
	a := newTestApp(&config.Config{KafkaEnabled: false})

	assert.NotNil(t, a.initEvents(health.NewHandler()))
	assert.Nil(t, a.producer)
}
