package port

import "context"

// NotificationKind identifies the template a notification was rendered from.
type NotificationKind string

const (
	NotificationEmailVerification NotificationKind = "email_verification"
	NotificationPasswordReset     NotificationKind = "password_reset"
)

// Notification is fully rendered content addressed to a single recipient.
// ActionURL is the link the recipient follows; it embeds the raw token.
type Notification struct {
	Kind      NotificationKind
	Recipient string
	Subject   string
	Body      string
	ActionURL string
}

// NotificationDispatcher delivers rendered notifications.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, notification Notification) error
}
