package logger

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
)

// New builds the process logger. Production emits JSON, anything else the
// colored console encoder. Every entry carries the service name.
func New(env, service string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env != "production" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if service != "" {
		cfg.InitialFields = map[string]any{"service": service}
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", env, err)
	}
	return log, nil
}

type requestIDKey struct{}

// ContextWithRequestID stores the request correlation id on ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the id stored by ContextWithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// MaskEmail keeps up to three characters of the mailbox and the full domain.
// Example: john.doe@example.com -> joh***@example.com
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	local := domain.EmailLocalPart(email)
	if local == "" {
		if strings.HasPrefix(email, "@") {
			return "***" + email
		}
		return "***"
	}
	keep := min(len(local), 3)
	return local[:keep] + "***" + email[len(local):]
}

// MaskIP keeps the /16 of an IPv4 address and the /64 of an IPv6 address.
// Example: 192.168.1.100 -> 192.168.*.*
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "***"
	}
	addr = addr.Unmap()
	if addr.Is4() {
		b := addr.As4()
		return strconv.Itoa(int(b[0])) + "." + strconv.Itoa(int(b[1])) + ".*.*"
	}

	b := addr.As16()
	groups := make([]string, 0, 8)
	for i := 0; i < 8; i += 2 {
		groups = append(groups, strconv.FormatUint(uint64(b[i])<<8|uint64(b[i+1]), 16))
	}
	return strings.Join(groups, ":") + ":*:*:*:*"
}

// MaskToken keeps a short prefix of a bearer or single-use token so log lines
// can be correlated without exposing a usable value.
// Example: "Zm9vYmFyYmF6cXV4" -> "Zm9v…(16)"
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "…(" + strconv.Itoa(len(token)) + ")"
}
