package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/config"
)

const (
	schemaVersion       = "1.0"
	securityEventsTopic = "security.events"
)

// SecurityEventPublisher implements port.SecurityEventPublisher on Kafka.
type SecurityEventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewSecurityEventPublisher constructs a Kafka-backed security event publisher.
func NewSecurityEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *SecurityEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityEventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	AccountID string           `json:"account_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

type securityEventPayload struct {
	Category    domain.EventCategory `json:"category"`
	Severity    domain.Severity      `json:"severity"`
	Description string               `json:"description"`
	IPAddress   *string              `json:"ip_address,omitempty"`
	UserAgent   *string              `json:"user_agent,omitempty"`
	Details     map[string]any       `json:"details,omitempty"`
}

// PublishSecurityEvent publishes to <prefix>.security.events, keyed by
// account so one account's events stay ordered on a partition.
func (p *SecurityEventPublisher) PublishSecurityEvent(ctx context.Context, event domain.SecurityEvent) error {
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	var accountID string
	if event.AccountID != nil {
		accountID = *event.AccountID
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: event.EventType,
		AccountID: accountID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload: securityEventPayload{
			Category:    event.Category,
			Severity:    event.Severity,
			Description: event.Description,
			IPAddress:   event.IPAddress,
			UserAgent:   event.UserAgent,
			Details:     event.Metadata,
		},
		Metadata: metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(securityEventsTopic),
		Value: sarama.ByteEncoder(bytes),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
			{Key: []byte("severity"), Value: []byte(event.Severity)},
		},
	}
	if accountID != "" {
		message.Key = sarama.StringEncoder(accountID)
	}

	if err := p.producer.Send(ctx, message); err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType, err)
	}
	return nil
}

// LogPublisher writes security events to the log instead of Kafka. It is used
// when kafka.enabled is false.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher constructs a publisher for environments without a broker.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// PublishSecurityEvent logs the event and never fails.
func (p *LogPublisher) PublishSecurityEvent(_ context.Context, event domain.SecurityEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.String("category", string(event.Category)),
		zap.String("severity", string(event.Severity)),
		zap.Time("occurred_at", event.OccurredAt.UTC()),
	}
	if event.AccountID != nil {
		fields = append(fields, zap.String("account_id", *event.AccountID))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("details", event.Metadata))
	}
	p.logger.Info("security event", fields...)
	return nil
}

var (
	_ port.SecurityEventPublisher = (*SecurityEventPublisher)(nil)
	_ port.SecurityEventPublisher = (*LogPublisher)(nil)
)
