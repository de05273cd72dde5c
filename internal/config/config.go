// Package config loads and validates gateway config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP gateway listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the optional internal gRPC listener; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment ("development", "production"). Threat bypasses are off only in production.
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// DatabaseDriver selects the database/sql driver for the durable event log: "pgx" or "sqlite".
	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	// DatabaseURL is the DSN; empty keeps the event log in memory only.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisURL is the shared blacklist/CSRF store (redis://...). Required in production.
	RedisURL string `mapstructure:"REDIS_URL"`
	// StoreTimeout bounds every external store round trip (e.g. "500ms").
	StoreTimeout string `mapstructure:"STORE_TIMEOUT"`

	// JWTSecret is the master secret; per-purpose keys are derived from it when the specific ones are unset.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTAccessSecret signs access tokens.
	JWTAccessSecret string `mapstructure:"JWT_ACCESS_SECRET"`
	// JWTRefreshSecret signs refresh tokens.
	JWTRefreshSecret string `mapstructure:"JWT_REFRESH_SECRET"`
	// JWTIssuer is the iss claim (e.g. "storefront-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "storefront-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// MinRefreshInterval throttles refreshes per subject (e.g. "30s").
	MinRefreshInterval string `mapstructure:"MIN_REFRESH_INTERVAL"`

	// CSRFSecret keys the CSRF HMAC; derived from JWTSecret when unset.
	CSRFSecret string `mapstructure:"CSRF_SECRET"`
	// CSRFTTL is the CSRF token lifetime (e.g. "1h").
	CSRFTTL string `mapstructure:"CSRF_TTL"`
	// CSRFExemptPaths is a comma-separated list of path prefixes that skip CSRF checks.
	CSRFExemptPaths string `mapstructure:"CSRF_EXEMPT_PATHS"`

	RateLimitWindow    string `mapstructure:"RATE_LIMIT_WINDOW"`
	RateLimitMax       int    `mapstructure:"RATE_LIMIT_MAX"`
	SlowDownWindow     string `mapstructure:"SLOWDOWN_WINDOW"`
	SlowDownDelayAfter int    `mapstructure:"SLOWDOWN_DELAY_AFTER"`
	SlowDownDelay      string `mapstructure:"SLOWDOWN_DELAY"`
	SlowDownMaxDelay   string `mapstructure:"SLOWDOWN_MAX_DELAY"`
	// MaxRequestSize is a unit-suffixed body limit (e.g. "10mb").
	MaxRequestSize string `mapstructure:"MAX_REQUEST_SIZE"`
	// FirstPartyUserAgents is a comma-separated list of User-Agent prefixes of our own clients.
	FirstPartyUserAgents string `mapstructure:"FIRST_PARTY_USER_AGENTS"`
	// TrustedProxyCIDRs is a comma-separated list of proxy networks whose X-Forwarded-For and
	// X-Real-IP headers are honoured. Empty trusts none.
	TrustedProxyCIDRs string `mapstructure:"TRUSTED_PROXY_CIDRS"`
	// WhitelistedParams is a comma-separated list of query parameter names skipped by attack detection.
	WhitelistedParams string `mapstructure:"WHITELISTED_PARAMS"`

	AlertFailedLogins    int     `mapstructure:"ALERT_FAILED_LOGINS"`
	AlertSuspicious      int     `mapstructure:"ALERT_SUSPICIOUS"`
	AlertAttacks         int     `mapstructure:"ALERT_ATTACKS"`
	AlertScoreFloor      float64 `mapstructure:"ALERT_SCORE_FLOOR"`
	MonitorSweepInterval string  `mapstructure:"MONITOR_SWEEP_INTERVAL"`

	// KafkaBrokers is a comma-separated list of brokers; empty disables the Kafka sink.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// KafkaSecurityTopic carries security events and alerts.
	KafkaSecurityTopic string `mapstructure:"KAFKA_SECURITY_TOPIC"`
	// KafkaGroupID is the consumer group of cmd/worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// OTelEndpoint is the OTLP gRPC collector; empty installs no-op providers.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// LokiURL is where cmd/worker pushes security events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_DRIVER", "pgx")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("STORE_TIMEOUT", "500ms")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ACCESS_SECRET", "")
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("JWT_ISSUER", "storefront-auth")
	v.SetDefault("JWT_AUDIENCE", "storefront-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("MIN_REFRESH_INTERVAL", "30s")
	v.SetDefault("CSRF_SECRET", "")
	v.SetDefault("CSRF_TTL", "1h")
	v.SetDefault("CSRF_EXEMPT_PATHS", "/api/auth/login,/api/auth/register,/api/auth/refresh,/api/webhooks/")
	v.SetDefault("RATE_LIMIT_WINDOW", "15m")
	v.SetDefault("RATE_LIMIT_MAX", 100)
	v.SetDefault("SLOWDOWN_WINDOW", "15m")
	v.SetDefault("SLOWDOWN_DELAY_AFTER", 50)
	v.SetDefault("SLOWDOWN_DELAY", "500ms")
	v.SetDefault("SLOWDOWN_MAX_DELAY", "20s")
	v.SetDefault("MAX_REQUEST_SIZE", "10mb")
	v.SetDefault("FIRST_PARTY_USER_AGENTS", "StorefrontApp/")
	v.SetDefault("TRUSTED_PROXY_CIDRS", "")
	v.SetDefault("WHITELISTED_PARAMS", "sort,order,page,limit,fields")
	v.SetDefault("ALERT_FAILED_LOGINS", 10)
	v.SetDefault("ALERT_SUSPICIOUS", 20)
	v.SetDefault("ALERT_ATTACKS", 5)
	v.SetDefault("ALERT_SCORE_FLOOR", 50.0)
	v.SetDefault("MONITOR_SWEEP_INTERVAL", "5m")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_SECURITY_TOPIC", "gateway-security-events")
	v.SetDefault("KAFKA_GROUP_ID", "gateway-security-worker")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("LOKI_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.DatabaseDriver != "pgx" && cfg.DatabaseDriver != "sqlite" {
		return nil, errors.New("config: DATABASE_DRIVER must be pgx or sqlite")
	}
	if cfg.RateLimitMax <= 0 {
		return nil, errors.New("config: RATE_LIMIT_MAX must be positive")
	}
	for _, c := range cfg.TrustedProxyCIDRList() {
		if !validCIDR(c) {
			return nil, errors.New("config: TRUSTED_PROXY_CIDRS entry " + c + " is not a CIDR or IP address")
		}
	}
	if cfg.IsProduction() {
		if err := cfg.validateProduction(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) validateProduction() error {
	if c.RedisURL == "" {
		return errors.New("config: REDIS_URL is required when APP_ENV=production")
	}
	hasSpecific := len(c.JWTAccessSecret) >= 32 && len(c.JWTRefreshSecret) >= 32
	if !hasSpecific && len(c.JWTSecret) < 32 {
		return errors.New("config: JWT_SECRET (or both JWT_ACCESS_SECRET and JWT_REFRESH_SECRET) must be at least 32 bytes in production")
	}
	if c.CSRFSecret == "" && len(c.JWTSecret) < 32 {
		return errors.New("config: CSRF_SECRET or JWT_SECRET is required in production")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL parses JWTAccessTTL. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// RefreshInterval parses MinRefreshInterval. Returns 30s if unset or invalid.
func (c *Config) RefreshInterval() time.Duration {
	return parseDuration(c.MinRefreshInterval, 30*time.Second)
}

// StoreTimeoutDuration parses StoreTimeout. Returns 500ms if unset or invalid.
func (c *Config) StoreTimeoutDuration() time.Duration {
	return parseDuration(c.StoreTimeout, 500*time.Millisecond)
}

// CSRFTokenTTL parses CSRFTTL. Returns 1h if unset or invalid.
func (c *Config) CSRFTokenTTL() time.Duration {
	return parseDuration(c.CSRFTTL, time.Hour)
}

func (c *Config) RateWindow() time.Duration {
	return parseDuration(c.RateLimitWindow, 15*time.Minute)
}

func (c *Config) SlowWindow() time.Duration {
	return parseDuration(c.SlowDownWindow, 15*time.Minute)
}

func (c *Config) SlowDelay() time.Duration {
	return parseDuration(c.SlowDownDelay, 500*time.Millisecond)
}

func (c *Config) SlowMaxDelay() time.Duration {
	return parseDuration(c.SlowDownMaxDelay, 20*time.Second)
}

// SweepInterval parses MonitorSweepInterval. Returns 5m if unset or invalid.
func (c *Config) SweepInterval() time.Duration {
	return parseDuration(c.MonitorSweepInterval, 5*time.Minute)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// A non-empty list enables the Kafka event sink.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// CSRFExemptPathList returns the CSRF exempt path prefixes.
func (c *Config) CSRFExemptPathList() []string {
	return splitList(c.CSRFExemptPaths)
}

// FirstPartyUserAgentList returns the recognized first-party User-Agent prefixes.
func (c *Config) FirstPartyUserAgentList() []string {
	return splitList(c.FirstPartyUserAgents)
}

// TrustedProxyCIDRList returns the trusted proxy networks.
func (c *Config) TrustedProxyCIDRList() []string {
	return splitList(c.TrustedProxyCIDRs)
}

func validCIDR(s string) bool {
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// WhitelistedParamList returns query parameter names excluded from attack detection.
func (c *Config) WhitelistedParamList() []string {
	return splitList(c.WhitelistedParams)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
