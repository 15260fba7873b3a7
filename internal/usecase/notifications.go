package usecase

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
)

var (
	verificationTemplate = template.Must(template.New("verification").Parse(`Hello {{.Username}},

Confirm your email address to finish creating your account:

{{.ActionURL}}

This link expires at {{.ExpiresAt}}. If you did not sign up, ignore this message.
`))

	passwordResetTemplate = template.Must(template.New("password_reset").Parse(`Hello {{.Username}},

We received a request to reset your password. Choose a new one here:

{{.ActionURL}}

This link expires at {{.ExpiresAt}} and can be used once. If you did not ask for a reset, ignore this message; your password is unchanged.
`))
)

type notificationData struct {
	Username  string
	ActionURL string
	ExpiresAt string
}

// NotificationComposer renders verification and reset messages with links under BaseURL.
type NotificationComposer struct {
	baseURL string
}

// NewNotificationComposer constructs a composer. baseURL is the public origin of the web client.
func NewNotificationComposer(baseURL string) *NotificationComposer {
	return &NotificationComposer{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

// Verification renders the email-verification message.
func (c *NotificationComposer) Verification(recipient, username, token string, expiresAt time.Time) (port.Notification, error) {
	return c.compose(port.NotificationEmailVerification, verificationTemplate, "Verify your email address", "/verify-email", recipient, username, token, expiresAt)
}

// PasswordReset renders the password-reset message.
func (c *NotificationComposer) PasswordReset(recipient, username, token string, expiresAt time.Time) (port.Notification, error) {
	return c.compose(port.NotificationPasswordReset, passwordResetTemplate, "Reset your password", "/reset-password", recipient, username, token, expiresAt)
}

func (c *NotificationComposer) compose(kind port.NotificationKind, tmpl *template.Template, subject, path, recipient, username, token string, expiresAt time.Time) (port.Notification, error) {
	actionURL := c.baseURL + path + "?token=" + url.QueryEscape(token)

	var body bytes.Buffer
	if err := tmpl.Execute(&body, notificationData{
		Username:  username,
		ActionURL: actionURL,
		ExpiresAt: expiresAt.UTC().Format(time.RFC1123),
	}); err != nil {
		return port.Notification{}, fmt.Errorf("render %s notification: %w", kind, err)
	}

	return port.Notification{
		Kind:      kind,
		Recipient: recipient,
		Subject:   subject,
		Body:      body.String(),
		ActionURL: actionURL,
	}, nil
}
