// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the internal gRPC server (health, identity resolution) listens on.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL enables the Redis-backed MFA challenge store and sweep lease (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTSecret is the HS256 fallback secret; at least 32 bytes. Ignored when a key pair is set.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// SessionTTL is the default session lifetime when the user has no session_timeout.
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// SessionRetention is how long inactive sessions and dead refresh tokens are kept before the sweep purges them.
	SessionRetention string `mapstructure:"SESSION_RETENTION"`

	// Argon2MemoryKB, Argon2Time and Argon2Parallelism are the argon2id cost parameters.
	Argon2MemoryKB    uint32 `mapstructure:"ARGON2_MEMORY_KB"`
	Argon2Time        uint32 `mapstructure:"ARGON2_TIME"`
	Argon2Parallelism uint8  `mapstructure:"ARGON2_PARALLELISM"`
	// LockoutMaxAttempts is the number of consecutive failures before the account locks.
	LockoutMaxAttempts int `mapstructure:"LOCKOUT_MAX_ATTEMPTS"`
	// LockoutDuration is how long a lock lasts (e.g. "15m").
	LockoutDuration string `mapstructure:"LOCKOUT_DURATION"`

	// OTPInstituteSalt is mixed into every OTP computation; required.
	OTPInstituteSalt string `mapstructure:"OTP_INSTITUTE_SALT"`
	// OTPEncryptionKey is the base64 32-byte AES key for OTP secrets at rest.
	OTPEncryptionKey string `mapstructure:"OTP_ENCRYPTION_KEY"`
	// OTPEncryptionKeyKMSCiphertext is a KMS-wrapped data key (base64); takes precedence over OTPEncryptionKey.
	OTPEncryptionKeyKMSCiphertext string `mapstructure:"OTP_ENCRYPTION_KEY_KMS_CIPHERTEXT"`
	// AWSRegion is used for the KMS client.
	AWSRegion string `mapstructure:"AWS_REGION"`
	// OTPWindow is the number of 30s steps accepted either side of now.
	OTPWindow int `mapstructure:"OTP_WINDOW"`
	// MFAChallengeTTL is the lifetime of a pending login challenge.
	MFAChallengeTTL string `mapstructure:"MFA_CHALLENGE_TTL"`
	// OTPReturnToClient enables dev OTP mode: no SMS, codes kept in memory for GET /dev/otp. Rejected in production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// SMSLocalAPIKey is the API key for SMS Local OTP delivery.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender string `mapstructure:"SMS_LOCAL_SENDER"`
	// SMSLocalBaseURL is the SMS Local API base URL.
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`

	// AuditSigningKey is the HMAC key for audit record signatures; required.
	AuditSigningKey string `mapstructure:"AUDIT_SIGNING_KEY"`
	// TrustedProxies is a comma-separated list of CIDRs whose forwarded headers are honoured.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`
	// KafkaBrokers is a comma-separated broker list; enables the audit Kafka export.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the topic for exported audit records.
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// ElasticsearchURLs is a comma-separated list; enables the audit Elasticsearch export.
	ElasticsearchURLs string `mapstructure:"ELASTICSEARCH_URLS"`
	// AuditESIndex is the Elasticsearch index for audit records.
	AuditESIndex string `mapstructure:"AUDIT_ES_INDEX"`
	// AuditBufferSize bounds the async export queue.
	AuditBufferSize int `mapstructure:"AUDIT_BUFFER_SIZE"`
	// AuditViewers lists usernames or user ids allowed to read the audit ledger.
	AuditViewers string `mapstructure:"AUDIT_VIEWERS"`

	// SweepBatchSize is the number of rows touched per sweep transaction.
	SweepBatchSize int `mapstructure:"SWEEP_BATCH_SIZE"`
	// SweepTimeout bounds one sweep run.
	SweepTimeout string `mapstructure:"SWEEP_TIMEOUT"`
	// SweepToken guards POST /internal/sweep; empty disables the endpoint.
	SweepToken string `mapstructure:"SWEEP_TOKEN"`

	// OTLPEndpoint enables OpenTelemetry export (e.g. localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is json or console.
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// CORSAllowedOrigins is a comma-separated origin list for the browser client.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	// Env is the application environment ("development", "production"). Cookies are Secure outside development.
	Env string `mapstructure:"APP_ENV"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                         ":8080",
	"GRPC_ADDR":                         ":9090",
	"DATABASE_URL":                      "",
	"REDIS_URL":                         "",
	"JWT_PRIVATE_KEY":                   "",
	"JWT_PUBLIC_KEY":                    "",
	"JWT_SECRET":                        "",
	"JWT_ISSUER":                        "asset-register-auth",
	"JWT_AUDIENCE":                      "asset-register-api",
	"JWT_ACCESS_TTL":                    "15m",
	"JWT_REFRESH_TTL":                   "168h",
	"SESSION_TTL":                       "8h",
	"SESSION_RETENTION":                 "720h",
	"ARGON2_MEMORY_KB":                  19456,
	"ARGON2_TIME":                       2,
	"ARGON2_PARALLELISM":                1,
	"LOCKOUT_MAX_ATTEMPTS":              5,
	"LOCKOUT_DURATION":                  "15m",
	"OTP_INSTITUTE_SALT":                "",
	"OTP_ENCRYPTION_KEY":                "",
	"OTP_ENCRYPTION_KEY_KMS_CIPHERTEXT": "",
	"AWS_REGION":                        "",
	"OTP_WINDOW":                        1,
	"MFA_CHALLENGE_TTL":                 "5m",
	"OTP_RETURN_TO_CLIENT":              false,
	"SMS_LOCAL_API_KEY":                 "",
	"SMS_LOCAL_SENDER":                  "",
	"SMS_LOCAL_BASE_URL":                "https://app.smslocal.in/api/smsapi",
	"AUDIT_SIGNING_KEY":                 "",
	"TRUSTED_PROXIES":                   "",
	"KAFKA_BROKERS":                     "",
	"AUDIT_KAFKA_TOPIC":                 "asset-register-audit",
	"ELASTICSEARCH_URLS":                "",
	"AUDIT_ES_INDEX":                    "asset-register-audit",
	"AUDIT_BUFFER_SIZE":                 1024,
	"AUDIT_VIEWERS":                     "",
	"SWEEP_BATCH_SIZE":                  500,
	"SWEEP_TIMEOUT":                     "2m",
	"SWEEP_TOKEN":                       "",
	"OTEL_EXPORTER_OTLP_ENDPOINT":       "",
	"OTEL_EXPORTER_OTLP_INSECURE":       true,
	"OTEL_SERVICE_NAME":                 "asset-register-auth",
	"LOG_LEVEL":                         "info",
	"LOG_FORMAT":                        "json",
	"CORS_ALLOWED_ORIGINS":              "",
	"APP_ENV":                           "production",
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and cross-field rules.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("config: HTTP_ADDR must be set"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("config: DATABASE_URL must be set"))
	}
	if (c.JWTPrivateKey == "") != (c.JWTPublicKey == "") {
		errs = append(errs, errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together"))
	}
	if c.JWTPrivateKey == "" && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("config: set JWT_PRIVATE_KEY/JWT_PUBLIC_KEY or a JWT_SECRET of at least 32 bytes"))
	}
	if c.OTPInstituteSalt == "" {
		errs = append(errs, errors.New("config: OTP_INSTITUTE_SALT must be set"))
	}
	if c.OTPEncryptionKey == "" && c.OTPEncryptionKeyKMSCiphertext == "" {
		errs = append(errs, errors.New("config: OTP_ENCRYPTION_KEY or OTP_ENCRYPTION_KEY_KMS_CIPHERTEXT must be set"))
	}
	if len(c.AuditSigningKey) < 32 {
		errs = append(errs, errors.New("config: AUDIT_SIGNING_KEY must be at least 32 bytes"))
	}
	if c.OTPReturnToClient && c.IsProduction() {
		errs = append(errs, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production"))
	}
	if c.LockoutMaxAttempts < 1 {
		errs = append(errs, errors.New("config: LOCKOUT_MAX_ATTEMPTS must be at least 1"))
	}
	if c.OTPWindow < 0 || c.OTPWindow > 10 {
		errs = append(errs, errors.New("config: OTP_WINDOW must be between 0 and 10"))
	}
	for key, val := range map[string]string{
		"JWT_ACCESS_TTL":    c.JWTAccessTTL,
		"JWT_REFRESH_TTL":   c.JWTRefreshTTL,
		"SESSION_TTL":       c.SessionTTL,
		"SESSION_RETENTION": c.SessionRetention,
		"LOCKOUT_DURATION":  c.LockoutDuration,
		"MFA_CHALLENGE_TTL": c.MFAChallengeTTL,
		"SWEEP_TIMEOUT":     c.SweepTimeout,
	} {
		if d, err := time.ParseDuration(val); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("config: %s must be a positive duration, got %q", key, val))
		}
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool { return c.Env == "production" }

// IsDevelopment reports whether APP_ENV is development; cookies drop the Secure flag only then.
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// AccessTTL parses JWTAccessTTL. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return duration(c.JWTAccessTTL, 15*time.Minute) }

// RefreshTTL parses JWTRefreshTTL. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration { return duration(c.JWTRefreshTTL, 168*time.Hour) }

// DefaultSessionTTL parses SessionTTL. Returns 8h if unset or invalid.
func (c *Config) DefaultSessionTTL() time.Duration { return duration(c.SessionTTL, 8*time.Hour) }

// Retention parses SessionRetention. Returns 30 days if unset or invalid.
func (c *Config) Retention() time.Duration { return duration(c.SessionRetention, 720*time.Hour) }

// Lockout parses LockoutDuration. Returns 15m if unset or invalid.
func (c *Config) Lockout() time.Duration { return duration(c.LockoutDuration, 15*time.Minute) }

// ChallengeTTL parses MFAChallengeTTL. Returns 5m if unset or invalid.
func (c *Config) ChallengeTTL() time.Duration { return duration(c.MFAChallengeTTL, 5*time.Minute) }

// SweepDeadline parses SweepTimeout. Returns 2m if unset or invalid.
func (c *Config) SweepDeadline() time.Duration { return duration(c.SweepTimeout, 2*time.Minute) }

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string { return splitList(c.KafkaBrokers) }

// ElasticsearchURLList returns Elasticsearch addresses.
func (c *Config) ElasticsearchURLList() []string { return splitList(c.ElasticsearchURLs) }

// AuditViewerList returns the users granted audit read access.
func (c *Config) AuditViewerList() []string { return splitList(c.AuditViewers) }

// CORSOrigins returns the allowed browser origins.
func (c *Config) CORSOrigins() []string { return splitList(c.CORSAllowedOrigins) }

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses become single-host prefixes.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, s := range splitList(c.TrustedProxies) {
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("config: TRUSTED_PROXIES: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("config: TRUSTED_PROXIES: %w", err)
		}
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
