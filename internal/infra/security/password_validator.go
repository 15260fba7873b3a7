package security

import (
	"fmt"
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
)

// PasswordValidationError represents a single password policy violation.
type PasswordValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements error for PasswordValidationError.
func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// CredentialContext carries the identity values a password must not contain.
type CredentialContext struct {
	Username string
	Email    string
}

// PasswordRule validates a password according to a specific policy rule.
type PasswordRule interface {
	Validate(password string, ctx CredentialContext) error
}

// PasswordRuleFunc adapts a function to be used as a PasswordRule.
type PasswordRuleFunc func(password string, ctx CredentialContext) error

// Validate executes the underlying rule function.
func (f PasswordRuleFunc) Validate(password string, ctx CredentialContext) error {
	return f(password, ctx)
}

// ValidationResult lists every rule a password violated.
type ValidationResult struct {
	Valid      bool
	Violations []PasswordValidationError
}

// Messages returns the human readable violation messages in rule order.
func (r ValidationResult) Messages() []string {
	messages := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		messages = append(messages, v.Message)
	}
	return messages
}

// Has reports whether a violation with the supplied code was recorded.
func (r ValidationResult) Has(code string) bool {
	for _, v := range r.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// CredentialValidator applies a sequence of password rules. It performs no I/O.
type CredentialValidator struct {
	rules []PasswordRule
}

// NewCredentialValidator constructs a validator with the provided rules.
func NewCredentialValidator(rules ...PasswordRule) *CredentialValidator {
	copied := make([]PasswordRule, len(rules))
	copy(copied, rules)
	return &CredentialValidator{rules: copied}
}

// ValidatePassword runs every rule and collects all violations.
func (v *CredentialValidator) ValidatePassword(password, username, email string) ValidationResult {
	result := ValidationResult{Valid: true}
	if v == nil {
		return result
	}

	ctx := CredentialContext{Username: strings.TrimSpace(username), Email: strings.TrimSpace(email)}
	for _, rule := range v.rules {
		err := rule.Validate(password, ctx)
		if err == nil {
			continue
		}
		result.Valid = false
		if vErr, ok := err.(*PasswordValidationError); ok {
			result.Violations = append(result.Violations, *vErr)
			continue
		}
		result.Violations = append(result.Violations, PasswordValidationError{Code: "invalid", Message: err.Error()})
	}
	return result
}

// MinLengthRule ensures the password has at least min characters.
func MinLengthRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string, _ CredentialContext) error {
		if len([]rune(password)) < min {
			return &PasswordValidationError{
				Code:    "min_length",
				Message: fmt.Sprintf("password must be at least %d characters long", min),
			}
		}
		return nil
	})
}

// RequireUppercaseRule ensures the password contains an uppercase letter.
func RequireUppercaseRule() PasswordRule {
	return requireRune("uppercase", "password must include at least one uppercase letter", unicode.IsUpper)
}

// RequireLowercaseRule ensures the password contains a lowercase letter.
func RequireLowercaseRule() PasswordRule {
	return requireRune("lowercase", "password must include at least one lowercase letter", unicode.IsLower)
}

// RequireDigitRule ensures the password contains at least one digit.
func RequireDigitRule() PasswordRule {
	return requireRune("digit", "password must include at least one digit", unicode.IsDigit)
}

// RequireSymbolRule ensures the password contains at least one character from symbols.
func RequireSymbolRule(symbols string) PasswordRule {
	return requireRune("symbol", fmt.Sprintf("password must include at least one symbol (%s)", symbols), func(r rune) bool {
		return strings.ContainsRune(symbols, r)
	})
}

func requireRune(code, message string, match func(rune) bool) PasswordRule {
	return PasswordRuleFunc(func(password string, _ CredentialContext) error {
		for _, r := range password {
			if match(r) {
				return nil
			}
		}
		return &PasswordValidationError{Code: code, Message: message}
	})
}

// DenylistRule rejects passwords that appear in the denylist, ignoring case.
func DenylistRule(denylist []string) PasswordRule {
	blocked := make(map[string]struct{}, len(denylist))
	for _, entry := range denylist {
		if entry = strings.ToLower(strings.TrimSpace(entry)); entry != "" {
			blocked[entry] = struct{}{}
		}
	}
	return PasswordRuleFunc(func(password string, _ CredentialContext) error {
		if _, ok := blocked[strings.ToLower(password)]; ok {
			return &PasswordValidationError{
				Code:    "common_password",
				Message: "password is too common",
			}
		}
		return nil
	})
}

// NoUsernameRule rejects passwords containing the username, ignoring case.
func NoUsernameRule() PasswordRule {
	return PasswordRuleFunc(func(password string, ctx CredentialContext) error {
		if ctx.Username == "" {
			return nil
		}
		if strings.Contains(strings.ToLower(password), strings.ToLower(ctx.Username)) {
			return &PasswordValidationError{
				Code:    "contains_username",
				Message: "password must not contain your username",
			}
		}
		return nil
	})
}

// NoEmailLocalPartRule rejects passwords containing the part of the email before @, ignoring case.
func NoEmailLocalPartRule() PasswordRule {
	return PasswordRuleFunc(func(password string, ctx CredentialContext) error {
		local := domain.EmailLocalPart(ctx.Email)
		if local == "" {
			return nil
		}
		if strings.Contains(strings.ToLower(password), strings.ToLower(local)) {
			return &PasswordValidationError{
				Code:    "contains_email",
				Message: "password must not contain your email address",
			}
		}
		return nil
	})
}

// RequireDifferentFrom ensures the new password differs from the provided comparator.
func RequireDifferentFrom(comparator string) PasswordRule {
	return PasswordRuleFunc(func(password string, _ CredentialContext) error {
		if password == comparator {
			return &PasswordValidationError{
				Code:    "different",
				Message: "new password must be different from current password",
			}
		}
		return nil
	})
}

// RequirePasswordStrengthRule enforces a minimum zxcvbn score to reject weak passwords.
// A score of zero disables the rule.
func RequirePasswordStrengthRule(minScore int) PasswordRule {
	return PasswordRuleFunc(func(password string, ctx CredentialContext) error {
		if minScore <= 0 {
			return nil
		}
		if minScore > 4 {
			minScore = 4
		}

		inputs := make([]string, 0, 2)
		if ctx.Username != "" {
			inputs = append(inputs, ctx.Username)
		}
		if ctx.Email != "" {
			inputs = append(inputs, ctx.Email)
		}

		result := zxcvbn.PasswordStrength(password, inputs)
		if result.Score >= minScore {
			return nil
		}

		return &PasswordValidationError{
			Code:    "weak_password",
			Message: "password is too weak; choose a more complex value",
		}
	})
}
