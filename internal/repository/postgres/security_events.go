package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
)

// SecurityEventRepository appends to the auth.security_events audit trail.
// The table rejects updates and deletes, so the repository only inserts.
type SecurityEventRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSecurityEventRepository constructs a repository backed by exec.
func NewSecurityEventRepository(exec pgExecutor) *SecurityEventRepository {
	return &SecurityEventRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Append stores a single event.
func (r *SecurityEventRepository) Append(ctx context.Context, event domain.SecurityEvent) error {
	metadata, err := marshalMetadata(event.Metadata)
	if err != nil {
		return fmt.Errorf("prepare security event metadata: %w", err)
	}

	stmt, args, err := r.builder.Insert("auth.security_events").
		Columns(
			"id",
			"account_id",
			"event_type",
			"event_category",
			"description",
			"ip_address",
			"user_agent",
			"metadata",
			"severity",
			"occurred_at",
		).
		Values(
			event.ID,
			optionalString(event.AccountID),
			event.EventType,
			string(event.Category),
			event.Description,
			optionalString(event.IPAddress),
			optionalString(event.UserAgent),
			metadata,
			string(event.Severity),
			event.OccurredAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert security event sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// marshalMetadata returns an untyped nil for empty metadata so the column is stored as NULL.
func marshalMetadata(meta map[string]any) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return payload, nil
}

var _ port.SecurityEventRepository = (*SecurityEventRepository)(nil)
