// Package notification delivers rendered account emails.
package notification

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/logger"
)

// LoggingDispatcher writes notifications to the log instead of a mail relay.
// Recipients and embedded tokens are masked.
type LoggingDispatcher struct {
	logger *zap.Logger
}

func NewLoggingDispatcher(log *zap.Logger) *LoggingDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggingDispatcher{logger: log}
}

func (d *LoggingDispatcher) Dispatch(ctx context.Context, n port.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.logger.Info("notification dispatched",
		zap.String("kind", string(n.Kind)),
		zap.String("recipient", logger.MaskEmail(n.Recipient)),
		zap.String("subject", n.Subject),
		zap.String("action_url", maskActionURL(n.ActionURL)),
		zap.Int("body_bytes", len(n.Body)),
	)
	return nil
}

func maskActionURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	query := u.Query()
	if token := query.Get("token"); token != "" {
		query.Set("token", logger.MaskToken(token))
		u.RawQuery = query.Encode()
	}
	return u.String()
}

var _ port.NotificationDispatcher = (*LoggingDispatcher)(nil)
