package breaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(name string) *Breaker {
	cfg := DefaultConfig(name)
	cfg.MinRequests = 2
	cfg.Timeout = time.Hour
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBreaker_TripsAfterFailures(t *testing.T) {
	b := testBreaker("trip")
	boom := errors.New("broker down")
	fail := func(context.Context) error { return boom }

	assert.ErrorIs(t, b.Do(context.Background(), fail), boom)
	assert.ErrorIs(t, b.Do(context.Background(), fail), boom)
	assert.Equal(t, gobreaker.StateOpen, b.State())
	assert.Equal(t, float64(2), testutil.ToFloat64(breakerState.WithLabelValues("trip")))

	called := false
	err := b.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessKeepsClosed(t *testing.T) {
	b := testBreaker("ok")
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Do(context.Background(), func(context.Context) error { return nil }))
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_CancellationDoesNotTrip(t *testing.T) {
	b := testBreaker("cancel")
	for i := 0; i < 5; i++ {
		err := b.Do(context.Background(), func(context.Context) error { return context.Canceled })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_PassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	b := testBreaker("ctx")

	var got any
	require.NoError(t, b.Do(ctx, func(ctx context.Context) error {
		got = ctx.Value(key{})
		return nil
	}))
	assert.Equal(t, "v", got)
}
