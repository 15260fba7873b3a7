package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/security"
)

const envPrefix = "AUTH"

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Session   SessionSettings   `mapstructure:"session"`
	Tokens    TokenSettings     `mapstructure:"tokens"`
	Security  SecuritySettings  `mapstructure:"security"`
	Password  PasswordSettings  `mapstructure:"password"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// PublicBaseURL is the web client origin used in verification and reset links.
	PublicBaseURL   string        `mapstructure:"public_base_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	StatementTimeout  time.Duration `mapstructure:"statement_timeout"`
	MigrateOnStart    bool          `mapstructure:"migrate_on_start"`
}

// DSN renders the connection string understood by pgx and database/sql.
func (p PostgresSettings) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Database,
		p.SSLMode,
	)
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// KafkaSettings configures the security event producer
type KafkaSettings struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// Rate limit backends.
const (
	RateLimitBackendPostgres = "postgres"
	RateLimitBackendRedis    = "redis"
)

// RateLimitSettings selects the counter store and the per-action thresholds.
type RateLimitSettings struct {
	Backend            string        `mapstructure:"backend"`
	PurgeInterval      time.Duration `mapstructure:"purge_interval"`
	DegradationPolicy  string        `mapstructure:"degradation_policy"`
	Login              RateLimitRule `mapstructure:"login"`
	PasswordReset      RateLimitRule `mapstructure:"password_reset"`
	APICall            RateLimitRule `mapstructure:"api_call"`
	VerificationResend RateLimitRule `mapstructure:"verification_resend"`
}

type RateLimitRule struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
}

// Policies converts the configured rules into limiter policies keyed by action.
func (r RateLimitSettings) Policies() map[domain.RateLimitAction]domain.RateLimitPolicy {
	return map[domain.RateLimitAction]domain.RateLimitPolicy{
		domain.RateLimitActionLogin:              r.Login.policy(),
		domain.RateLimitActionPasswordReset:      r.PasswordReset.policy(),
		domain.RateLimitActionAPICall:            r.APICall.policy(),
		domain.RateLimitActionVerificationResend: r.VerificationResend.policy(),
	}
}

// Degradation decides whether the API-wide limiter lets requests through while its store is down.
func (r RateLimitSettings) Degradation() domain.DegradationPolicy {
	return domain.NewDegradationPolicy(domain.ParseDegradationPolicyMode(r.DegradationPolicy))
}

func (r RateLimitRule) policy() domain.RateLimitPolicy {
	return domain.RateLimitPolicy{MaxAttempts: r.MaxAttempts, Window: r.Window}
}

type SessionSettings struct {
	AbsoluteTTL time.Duration `mapstructure:"absolute_ttl"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type TokenSettings struct {
	EmailVerificationTTL time.Duration `mapstructure:"email_verification_ttl"`
	PasswordResetTTL     time.Duration `mapstructure:"password_reset_ttl"`
}

// TTLs returns the token lifetimes keyed by purpose.
func (t TokenSettings) TTLs() map[domain.TokenPurpose]time.Duration {
	return map[domain.TokenPurpose]time.Duration{
		domain.TokenPurposeEmailVerification: t.EmailVerificationTTL,
		domain.TokenPurposePasswordReset:     t.PasswordResetTTL,
	}
}

type SecuritySettings struct {
	MaxFailedLogins int           `mapstructure:"max_failed_logins"`
	StoreTimeout    time.Duration `mapstructure:"store_timeout"`

	// RequireApproval routes completed onboarding through administrator approval.
	RequireApproval bool `mapstructure:"require_approval"`

	// AdminAPIKey guards /api/v1/admin. Admin routes are not mounted when empty.
	AdminAPIKey string `mapstructure:"admin_api_key"`
}

type PasswordSettings struct {
	MinLength        int      `mapstructure:"min_length"`
	RequireUppercase bool     `mapstructure:"require_uppercase"`
	RequireLowercase bool     `mapstructure:"require_lowercase"`
	RequireDigit     bool     `mapstructure:"require_digit"`
	RequireSymbol    bool     `mapstructure:"require_symbol"`
	Symbols          string   `mapstructure:"symbols"`
	Denylist         []string `mapstructure:"denylist"`
	MinStrengthScore int      `mapstructure:"min_strength_score"`
}

// Policy converts the settings into a credential validator policy.
func (p PasswordSettings) Policy() security.PasswordPolicy {
	return security.PasswordPolicy{
		MinLength:        p.MinLength,
		RequireUppercase: p.RequireUppercase,
		RequireLowercase: p.RequireLowercase,
		RequireDigit:     p.RequireDigit,
		RequireSymbol:    p.RequireSymbol,
		Symbols:          p.Symbols,
		Denylist:         p.Denylist,
		MinStrengthScore: p.MinStrengthScore,
	}
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

func (a Argon2Settings) Config() security.Argon2Config {
	return security.Argon2Config{
		Memory:      a.Memory,
		Iterations:  a.Iterations,
		Parallelism: a.Parallelism,
		SaltLength:  a.SaltLength,
		KeyLength:   a.KeyLength,
	}
}

var configKeys = []string{
	"app.name",
	"app.env",
	"app.host",
	"app.port",
	"app.public_base_url",
	"app.shutdown_timeout",
	"app.allowed_origins",
	"postgres.host",
	"postgres.port",
	"postgres.user",
	"postgres.password",
	"postgres.database",
	"postgres.ssl_mode",
	"postgres.max_conns",
	"postgres.min_conns",
	"postgres.max_conn_lifetime",
	"postgres.max_conn_idle_time",
	"postgres.health_check_period",
	"postgres.statement_timeout",
	"postgres.migrate_on_start",
	"redis.host",
	"redis.port",
	"redis.db",
	"redis.password",
	"redis.tls_enabled",
	"redis.key_prefix",
	"kafka.enabled",
	"kafka.brokers",
	"kafka.topic_prefix",
	"kafka.async",
	"telemetry.tracing_enabled",
	"telemetry.otlp_endpoint",
	"telemetry.service_name",
	"telemetry.sampling_rate",
	"rate_limit.backend",
	"rate_limit.purge_interval",
	"rate_limit.degradation_policy",
	"rate_limit.login.max_attempts",
	"rate_limit.login.window",
	"rate_limit.password_reset.max_attempts",
	"rate_limit.password_reset.window",
	"rate_limit.api_call.max_attempts",
	"rate_limit.api_call.window",
	"rate_limit.verification_resend.max_attempts",
	"rate_limit.verification_resend.window",
	"session.absolute_ttl",
	"session.idle_timeout",
	"tokens.email_verification_ttl",
	"tokens.password_reset_ttl",
	"security.max_failed_logins",
	"security.store_timeout",
	"security.require_approval",
	"security.admin_api_key",
	"password.min_length",
	"password.require_uppercase",
	"password.require_lowercase",
	"password.require_digit",
	"password.require_symbol",
	"password.symbols",
	"password.denylist",
	"password.min_strength_score",
	"argon2.memory",
	"argon2.iterations",
	"argon2.parallelism",
	"argon2.salt_length",
	"argon2.key_length",
}

// Load reads defaults, the optional YAML file at path and AUTH_* environment variables, in increasing precedence.
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := bindEnvs(v, configKeys); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "auth-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.public_base_url", "http://localhost:3000")
	v.SetDefault("app.shutdown_timeout", "15s")
	v.SetDefault("app.allowed_origins", []string{})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "auth")
	v.SetDefault("postgres.password", "auth_password")
	v.SetDefault("postgres.database", "auth")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.statement_timeout", "5s")
	v.SetDefault("postgres.migrate_on_start", false)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.key_prefix", "auth:ratelimit")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "auth")
	v.SetDefault("kafka.async", true)

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "auth-service")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.backend", RateLimitBackendPostgres)
	v.SetDefault("rate_limit.purge_interval", "10m")
	v.SetDefault("rate_limit.degradation_policy", string(domain.DegradationPolicyModeLenient))
	v.SetDefault("rate_limit.login.max_attempts", 5)
	v.SetDefault("rate_limit.login.window", "15m")
	v.SetDefault("rate_limit.password_reset.max_attempts", 3)
	v.SetDefault("rate_limit.password_reset.window", "60m")
	v.SetDefault("rate_limit.api_call.max_attempts", 100)
	v.SetDefault("rate_limit.api_call.window", "1m")
	v.SetDefault("rate_limit.verification_resend.max_attempts", 3)
	v.SetDefault("rate_limit.verification_resend.window", "60m")

	v.SetDefault("session.absolute_ttl", "24h")
	v.SetDefault("session.idle_timeout", "30m")

	v.SetDefault("tokens.email_verification_ttl", "24h")
	v.SetDefault("tokens.password_reset_ttl", "1h")

	v.SetDefault("security.max_failed_logins", 10)
	v.SetDefault("security.store_timeout", "5s")
	v.SetDefault("security.require_approval", false)
	v.SetDefault("security.admin_api_key", "")

	policy := security.DefaultPasswordPolicy()
	v.SetDefault("password.min_length", policy.MinLength)
	v.SetDefault("password.require_uppercase", policy.RequireUppercase)
	v.SetDefault("password.require_lowercase", policy.RequireLowercase)
	v.SetDefault("password.require_digit", policy.RequireDigit)
	v.SetDefault("password.require_symbol", policy.RequireSymbol)
	v.SetDefault("password.symbols", policy.Symbols)
	v.SetDefault("password.denylist", []string{})
	v.SetDefault("password.min_strength_score", 0)

	argon := security.DefaultArgon2Config()
	v.SetDefault("argon2.memory", argon.Memory) // 64 MB
	v.SetDefault("argon2.iterations", argon.Iterations)
	v.SetDefault("argon2.parallelism", argon.Parallelism)
	v.SetDefault("argon2.salt_length", argon.SaltLength)
	v.SetDefault("argon2.key_length", argon.KeyLength)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Validate rejects settings the services cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.App.Port <= 0 {
		errs = append(errs, errors.New("app.port must be positive"))
	}

	rules := map[string]RateLimitRule{
		"login":               c.RateLimit.Login,
		"password_reset":      c.RateLimit.PasswordReset,
		"api_call":            c.RateLimit.APICall,
		"verification_resend": c.RateLimit.VerificationResend,
	}
	for name, rule := range rules {
		if rule.MaxAttempts <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.%s.max_attempts must be positive", name))
		}
		if rule.Window <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.%s.window must be positive", name))
		}
	}
	switch c.RateLimit.Backend {
	case RateLimitBackendPostgres, RateLimitBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend must be %q or %q", RateLimitBackendPostgres, RateLimitBackendRedis))
	}
	if c.RateLimit.PurgeInterval <= 0 {
		errs = append(errs, errors.New("rate_limit.purge_interval must be positive"))
	}

	if c.Session.AbsoluteTTL <= 0 {
		errs = append(errs, errors.New("session.absolute_ttl must be positive"))
	}
	if c.Session.IdleTimeout <= 0 {
		errs = append(errs, errors.New("session.idle_timeout must be positive"))
	}
	if c.Tokens.EmailVerificationTTL <= 0 {
		errs = append(errs, errors.New("tokens.email_verification_ttl must be positive"))
	}
	if c.Tokens.PasswordResetTTL <= 0 {
		errs = append(errs, errors.New("tokens.password_reset_ttl must be positive"))
	}
	if c.Security.MaxFailedLogins <= 0 {
		errs = append(errs, errors.New("security.max_failed_logins must be positive"))
	}
	if c.Security.StoreTimeout <= 0 {
		errs = append(errs, errors.New("security.store_timeout must be positive"))
	}
	if c.Password.MinLength <= 0 {
		errs = append(errs, errors.New("password.min_length must be positive"))
	}
	if c.Password.MinStrengthScore < 0 || c.Password.MinStrengthScore > 4 {
		errs = append(errs, errors.New("password.min_strength_score must be between 0 and 4"))
	}
	if err := c.Argon2.Config().Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
