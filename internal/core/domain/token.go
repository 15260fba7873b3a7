package domain

import (
	"fmt"
	"time"
)

// TokenPurpose discriminates single-use tokens by the flow that redeems them.
type TokenPurpose string

const (
	TokenPurposeEmailVerification TokenPurpose = "email_verification"
	TokenPurposePasswordReset     TokenPurpose = "password_reset"
)

// ParseTokenPurpose validates a persisted purpose value.
func ParseTokenPurpose(value string) (TokenPurpose, error) {
	switch TokenPurpose(value) {
	case TokenPurposeEmailVerification, TokenPurposePasswordReset:
		return TokenPurpose(value), nil
	default:
		return "", fmt.Errorf("unknown token purpose %q", value)
	}
}

// Token is a single-use credential grant. Only the hash of the value is persisted.
type Token struct {
	ID        string
	AccountID string
	TokenHash string
	Purpose   TokenPurpose
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
}

// IsExpired reports whether the token has elapsed its validity window.
func (t Token) IsExpired(at time.Time) bool {
	return !at.Before(t.ExpiresAt)
}

// IssuedToken pairs the raw value handed to the recipient with its persisted record.
type IssuedToken struct {
	Value string
	Token Token
}
