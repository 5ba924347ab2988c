package event

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzxzyz/ai-meeting-sub001/pkg/breaker"
	pkgkafka "github.com/zzxzyz/ai-meeting-sub001/pkg/kafka"
	"github.com/zzxzyz/ai-meeting-sub001/pkg/logger"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	err    error
	calls  int
	topics []string
	events []*pkgkafka.Event
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, e *pkgkafka.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.topics = append(r.topics, topic)
	r.events = append(r.events, e)
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestProducer(t *testing.T, pub *recordingPublisher) *Producer {
	t.Helper()
	return NewProducer(pub, breaker.New(breaker.DefaultConfig(t.Name()), discard()), discard())
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "meeting.user.registered", TopicUserRegistered)
	assert.Equal(t, "meeting.session.replay_detected", TopicSessionReplayDetected)
	assert.Equal(t, "meeting.session.revoked", TopicSessionRevoked)
}

func TestProducer_PublishUserRegistered(t *testing.T) {
	pub := &recordingPublisher{}
	p := newTestProducer(t, pub)

	ctx := logger.WithCorrelationID(context.Background(), "corr-1")
	user := &domain.User{ID: "u1", Email: "ann@example.com", DisplayName: "Ann", PasswordHash: "secret-hash"}
	require.NoError(t, p.PublishUserRegistered(ctx, user))

	require.Len(t, pub.events, 1)
	e := pub.events[0]
	assert.Equal(t, TopicUserRegistered, pub.topics[0])
	assert.Equal(t, "u1", e.AggregateID)
	assert.Equal(t, SourceAuthService, e.Source)
	assert.Equal(t, "corr-1", e.CorrelationID)
	assert.NotContains(t, string(e.Data), "secret-hash")

	var data UserRegisteredData
	require.NoError(t, json.Unmarshal(e.Data, &data))
	assert.Equal(t, "Ann", data.DisplayName)
}

func TestProducer_PublishReplayDetected(t *testing.T) {
	pub := &recordingPublisher{}
	p := newTestProducer(t, pub)

	tok := &domain.RefreshToken{ID: "t1", UserID: "u1", TokenHash: "digest"}
	err := p.PublishReplayDetected(context.Background(), tok, 3, domain.ClientInfo{IPAddress: "10.0.0.1"})
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	var data ReplayDetectedData
	require.NoError(t, json.Unmarshal(pub.events[0].Data, &data))
	assert.Equal(t, ReplayDetectedData{UserID: "u1", TokenID: "t1", RevokedTokens: 3, IPAddress: "10.0.0.1"}, data)
	assert.NotContains(t, string(pub.events[0].Data), "digest")
}

func TestProducer_PublishSessionRevoked(t *testing.T) {
	pub := &recordingPublisher{}
	p := newTestProducer(t, pub)

	require.NoError(t, p.PublishSessionRevoked(context.Background(), &domain.RefreshToken{ID: "t1", UserID: "u1"}))
	assert.Equal(t, []string{TopicSessionRevoked}, pub.topics)
}

func TestProducer_BreakerOpensOnFailures(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	cfg := breaker.DefaultConfig(t.Name())
	cfg.MinRequests = 2
	p := NewProducer(pub, breaker.New(cfg, discard()), discard())

	user := &domain.User{ID: "u1"}
	for i := 0; i < 2; i++ {
		assert.Error(t, p.PublishUserRegistered(context.Background(), user))
	}

	err := p.PublishUserRegistered(context.Background(), user)
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.Equal(t, 2, pub.calls)
}

func TestNoopProducer(t *testing.T) {
	var p NoopProducer
	ctx := context.Background()
	assert.NoError(t, p.PublishUserRegistered(ctx, &domain.User{}))
	assert.NoError(t, p.PublishReplayDetected(ctx, &domain.RefreshToken{}, 1, domain.ClientInfo{}))
	assert.NoError(t, p.PublishSessionRevoked(ctx, &domain.RefreshToken{}))
}
