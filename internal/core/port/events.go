package port

import (
	"context"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
)

// SecurityEventRepository appends audit entries to durable storage.
type SecurityEventRepository interface {
	Append(ctx context.Context, event domain.SecurityEvent) error
}

// SecurityEventPublisher fans audit entries out to the message bus.
type SecurityEventPublisher interface {
	PublishSecurityEvent(ctx context.Context, event domain.SecurityEvent) error
}
