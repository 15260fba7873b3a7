package security

const (
	defaultMinPasswordLength = 8
	// DefaultPasswordSymbols is the punctuation set that satisfies the symbol requirement.
	DefaultPasswordSymbols = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?`~"
)

// commonPasswords is matched case-insensitively against candidate passwords.
var commonPasswords = []string{
	"password", "password1", "password123", "passw0rd", "p@ssw0rd", "p@ssword1",
	"password1!", "password@123", "passw0rd!", "123456", "12345678", "123456789",
	"1234567890", "qwerty", "qwerty123", "qwerty123!", "abc123", "abc@1234",
	"111111", "123123", "letmein", "letmein1!", "welcome", "welcome1", "welcome1!",
	"welcome@123", "admin", "admin123", "admin@123", "iloveyou", "monkey",
	"dragon", "football", "baseball", "sunshine", "princess", "trustno1",
	"changeme", "changeme1!", "secret", "master", "superman", "login",
}

// PasswordPolicy captures the tunable password rules.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RequireSymbol    bool
	Symbols          string
	Denylist         []string
	MinStrengthScore int
}

// DefaultPasswordPolicy returns the built-in policy.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        defaultMinPasswordLength,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
		RequireSymbol:    true,
		Symbols:          DefaultPasswordSymbols,
	}
}

// DefaultCredentialValidator returns a validator enforcing DefaultPasswordPolicy.
func DefaultCredentialValidator() *CredentialValidator {
	return NewCredentialValidatorFromPolicy(DefaultPasswordPolicy())
}

// NewCredentialValidatorFromPolicy translates a policy into an ordered rule set.
// Policy denylist entries extend the built-in common password list.
func NewCredentialValidatorFromPolicy(policy PasswordPolicy) *CredentialValidator {
	if policy.MinLength <= 0 {
		policy.MinLength = defaultMinPasswordLength
	}
	if policy.Symbols == "" {
		policy.Symbols = DefaultPasswordSymbols
	}

	rules := []PasswordRule{MinLengthRule(policy.MinLength)}
	if policy.RequireUppercase {
		rules = append(rules, RequireUppercaseRule())
	}
	if policy.RequireLowercase {
		rules = append(rules, RequireLowercaseRule())
	}
	if policy.RequireDigit {
		rules = append(rules, RequireDigitRule())
	}
	if policy.RequireSymbol {
		rules = append(rules, RequireSymbolRule(policy.Symbols))
	}

	denylist := make([]string, 0, len(commonPasswords)+len(policy.Denylist))
	denylist = append(denylist, commonPasswords...)
	denylist = append(denylist, policy.Denylist...)

	rules = append(rules,
		DenylistRule(denylist),
		NoUsernameRule(),
		NoEmailLocalPartRule(),
		RequirePasswordStrengthRule(policy.MinStrengthScore),
	)

	return NewCredentialValidator(rules...)
}
