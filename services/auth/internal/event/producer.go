package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zzxzyz/ai-meeting-sub001/pkg/breaker"
	pkgkafka "github.com/zzxzyz/ai-meeting-sub001/pkg/kafka"
	"github.com/zzxzyz/ai-meeting-sub001/pkg/logger"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/domain"
)

// Kafka topics for auth domain events.
var (
	TopicUserRegistered        = pkgkafka.Topic("user", "registered")
	TopicSessionReplayDetected = pkgkafka.Topic("session", "replay_detected")
	TopicSessionRevoked        = pkgkafka.Topic("session", "revoked")
)

// Aggregate type constants.
const (
	AggregateTypeUser    = "user"
	AggregateTypeSession = "session"
)

// SourceAuthService identifies events originating from this service.
const SourceAuthService = "auth-service"

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// ReplayDetectedData is the payload for a session.replay_detected event.
type ReplayDetectedData struct {
	UserID        string `json:"user_id"`
	TokenID       string `json:"token_id"`
	RevokedTokens int64  `json:"revoked_tokens"`
	IPAddress     string `json:"ip_address,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
}

// SessionRevokedData is the payload for a session.revoked event.
type SessionRevokedData struct {
	UserID  string `json:"user_id"`
	TokenID string `json:"token_id"`
}

// Publisher is the part of pkg/kafka.Producer the event producer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes auth domain events through a circuit breaker so an
// unavailable broker fails fast.
type Producer struct {
	kafka   Publisher
	breaker *breaker.Breaker
	logger  *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(kafka Publisher, cb *breaker.Breaker, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:   kafka,
		breaker: cb,
		logger:  logger,
	}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	data := UserRegisteredData{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	}
	return p.publish(ctx, TopicUserRegistered, user.ID, AggregateTypeUser, data)
}

// PublishReplayDetected publishes a session.replay_detected event.
func (p *Producer) PublishReplayDetected(ctx context.Context, token *domain.RefreshToken, revoked int64, client domain.ClientInfo) error {
	data := ReplayDetectedData{
		UserID:        token.UserID,
		TokenID:       token.ID,
		RevokedTokens: revoked,
		IPAddress:     client.IPAddress,
		UserAgent:     client.UserAgent,
	}
	return p.publish(ctx, TopicSessionReplayDetected, token.UserID, AggregateTypeSession, data)
}

// PublishSessionRevoked publishes a session.revoked event.
func (p *Producer) PublishSessionRevoked(ctx context.Context, token *domain.RefreshToken) error {
	data := SessionRevokedData{
		UserID:  token.UserID,
		TokenID: token.ID,
	}
	return p.publish(ctx, TopicSessionRevoked, token.UserID, AggregateTypeSession, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	evt, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	err = p.breaker.Do(ctx, func(ctx context.Context) error {
		return p.kafka.Publish(ctx, topic, evt)
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

// NoopProducer discards every event. It is used when Kafka is disabled.
type NoopProducer struct{}

func (NoopProducer) PublishUserRegistered(context.Context, *domain.User) error { return nil }

func (NoopProducer) PublishReplayDetected(context.Context, *domain.RefreshToken, int64, domain.ClientInfo) error {
	return nil
}

func (NoopProducer) PublishSessionRevoked(context.Context, *domain.RefreshToken) error { return nil }
