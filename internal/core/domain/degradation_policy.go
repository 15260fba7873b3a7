package domain

import "strings"

// DegradationPolicyMode selects how request guards behave when their backing store is unavailable.
type DegradationPolicyMode string

const (
	// DegradationPolicyModeLenient lets requests through when the guard cannot reach its store.
	DegradationPolicyModeLenient DegradationPolicyMode = "lenient"
	// DegradationPolicyModeStrict rejects requests whenever the guard cannot make a decision.
	DegradationPolicyModeStrict DegradationPolicyMode = "strict"
)

// DegradationPolicy centralises the fallback decision for store outages.
type DegradationPolicy struct {
	mode DegradationPolicyMode
}

// NewDegradationPolicy constructs a policy with the provided mode, defaulting to lenient when unspecified.
func NewDegradationPolicy(mode DegradationPolicyMode) DegradationPolicy {
	if mode != DegradationPolicyModeStrict {
		mode = DegradationPolicyModeLenient
	}
	return DegradationPolicy{mode: mode}
}

// ParseDegradationPolicyMode normalises textual input into a supported policy mode.
func ParseDegradationPolicyMode(value string) DegradationPolicyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(DegradationPolicyModeStrict):
		return DegradationPolicyModeStrict
	default:
		return DegradationPolicyModeLenient
	}
}

// Mode returns the underlying policy mode.
func (p DegradationPolicy) Mode() DegradationPolicyMode {
	if p.mode == "" {
		return DegradationPolicyModeLenient
	}
	return p.mode
}

// AllowsFallback reports whether a request may proceed without a decision from the store.
func (p DegradationPolicy) AllowsFallback() bool {
	return p.mode != DegradationPolicyModeStrict
}
