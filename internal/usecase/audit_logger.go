package usecase

import (
	"context"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
)

const auditWriteTimeout = 3 * time.Second

// SecurityAuditLogger appends security events and fans them out to the bus.
// Failures are logged and swallowed so auditing never blocks the caller.
type SecurityAuditLogger struct {
	repo      port.SecurityEventRepository
	publisher port.SecurityEventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewSecurityAuditLogger constructs the audit sink. publisher may be nil.
func NewSecurityAuditLogger(repo port.SecurityEventRepository, publisher port.SecurityEventPublisher, logger *zap.Logger) *SecurityAuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityAuditLogger{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (a *SecurityAuditLogger) WithClock(clock func() time.Time) {
	if clock != nil {
		a.now = clock
	}
}

// Record stores event. It detaches from the caller's cancellation so an
// aborted request still leaves its trail.
func (a *SecurityAuditLogger) Record(ctx context.Context, event domain.SecurityEvent) {
	if a == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = domain.SeverityInfo
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.String("severity", string(event.Severity)),
	}
	if event.AccountID != nil {
		fields = append(fields, zap.String("account_id", *event.AccountID))
	}

	if a.repo != nil {
		if err := a.repo.Append(ctx, event); err != nil {
			a.logger.Error("append security event failed", append(fields, zap.Error(err))...)
		}
	}
	if a.publisher != nil {
		if err := a.publisher.PublishSecurityEvent(ctx, event); err != nil {
			a.logger.Warn("publish security event failed", append(fields, zap.Error(err))...)
		}
	}

	if event.Severity == domain.SeverityCritical {
		a.logger.Warn("critical security event", append(fields, zap.String("description", event.Description))...)
	}
}

// securityEvent builds an event stamped with the request's client metadata.
func securityEvent(eventType string, category domain.EventCategory, severity domain.Severity, accountID string, client domain.ClientMetadata, description string, metadata map[string]any) domain.SecurityEvent {
	event := domain.SecurityEvent{
		EventType:   eventType,
		Category:    category,
		Description: description,
		IPAddress:   client.IPAddress,
		UserAgent:   client.UserAgent,
		Metadata:    metadata,
		Severity:    severity,
	}
	if accountID != "" {
		id := accountID
		event.AccountID = &id
	}
	return event
}
