package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.JWTIssuer != "storefront-auth" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "storefront-auth")
	}
	if cfg.JWTAudience != "storefront-api" {
		t.Errorf("JWTAudience = %q, want %q", cfg.JWTAudience, "storefront-api")
	}
	if cfg.RateLimitMax != 100 {
		t.Errorf("RateLimitMax = %d, want 100", cfg.RateLimitMax)
	}
	if cfg.MaxRequestSize != "10mb" {
		t.Errorf("MaxRequestSize = %q, want 10mb", cfg.MaxRequestSize)
	}
	if cfg.AlertScoreFloor != 50 {
		t.Errorf("AlertScoreFloor = %v, want 50", cfg.AlertScoreFloor)
	}
	if cfg.IsProduction() {
		t.Error("default env should not be production")
	}
	if cfg.AccessTTL() != 15*time.Minute {
		t.Errorf("AccessTTL = %v", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 168*time.Hour {
		t.Errorf("RefreshTTL = %v", cfg.RefreshTTL())
	}
	if cfg.CSRFTokenTTL() != time.Hour {
		t.Errorf("CSRFTokenTTL = %v", cfg.CSRFTokenTTL())
	}
	if cfg.RefreshInterval() != 30*time.Second {
		t.Errorf("RefreshInterval = %v", cfg.RefreshInterval())
	}
	if cfg.StoreTimeoutDuration() != 500*time.Millisecond {
		t.Errorf("StoreTimeoutDuration = %v", cfg.StoreTimeoutDuration())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("JWT_ISSUER", "custom-issuer")
	os.Setenv("RATE_LIMIT_MAX", "5")
	os.Setenv("ALERT_SCORE_FLOOR", "40")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.RateLimitMax != 5 {
		t.Errorf("RateLimitMax = %d, want 5", cfg.RateLimitMax)
	}
	if cfg.AlertScoreFloor != 40 {
		t.Errorf("AlertScoreFloor = %v, want 40", cfg.AlertScoreFloor)
	}
}

func TestLoad_InvalidDriver(t *testing.T) {
	os.Clearenv()
	os.Setenv("DATABASE_DRIVER", "mysql")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load should reject unknown driver")
	}
	if cfg != nil {
		t.Error("Load should return nil config on error")
	}
}

func TestLoad_ProductionRequiresRedisAndSecrets(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing redis",
			env:     map[string]string{"JWT_SECRET": strings.Repeat("s", 32)},
			wantErr: "REDIS_URL",
		},
		{
			name:    "short secret",
			env:     map[string]string{"REDIS_URL": "redis://localhost:6379/0", "JWT_SECRET": "short"},
			wantErr: "JWT_SECRET",
		},
		{
			name: "specific secrets without csrf",
			env: map[string]string{
				"REDIS_URL":          "redis://localhost:6379/0",
				"JWT_ACCESS_SECRET":  strings.Repeat("a", 32),
				"JWT_REFRESH_SECRET": strings.Repeat("r", 32),
			},
			wantErr: "CSRF_SECRET",
		},
		{
			name: "valid",
			env: map[string]string{
				"REDIS_URL":  "redis://localhost:6379/0",
				"JWT_SECRET": strings.Repeat("s", 32),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("APP_ENV", "production")
			for k, v := range tc.env {
				os.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Load: %v", err)
				}
				if !cfg.IsProduction() {
					t.Error("IsProduction should be true")
				}
				return
			}
			if err == nil {
				t.Fatal("Load should return error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %q, want mention of %s", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestDurations_InvalidFallBackToDefaults(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
		get   func(*Config) time.Duration
		want  time.Duration
	}{
		{"access valid", "JWT_ACCESS_TTL", "30m", (*Config).AccessTTL, 30 * time.Minute},
		{"access invalid", "JWT_ACCESS_TTL", "invalid", (*Config).AccessTTL, 15 * time.Minute},
		{"access zero", "JWT_ACCESS_TTL", "0", (*Config).AccessTTL, 15 * time.Minute},
		{"access negative", "JWT_ACCESS_TTL", "-5m", (*Config).AccessTTL, 15 * time.Minute},
		{"refresh valid", "JWT_REFRESH_TTL", "336h", (*Config).RefreshTTL, 336 * time.Hour},
		{"refresh invalid", "JWT_REFRESH_TTL", "7d", (*Config).RefreshTTL, 168 * time.Hour},
		{"rate window", "RATE_LIMIT_WINDOW", "1m", (*Config).RateWindow, time.Minute},
		{"slow max", "SLOWDOWN_MAX_DELAY", "bogus", (*Config).SlowMaxDelay, 20 * time.Second},
		{"sweep", "MONITOR_SWEEP_INTERVAL", "10s", (*Config).SweepInterval, 10 * time.Second},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv(tc.key, tc.value)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := tc.get(cfg); got != tc.want {
				t.Errorf("%s = %v, want %v", tc.key, got, tc.want)
			}
		})
	}
}

func TestLists(t *testing.T) {
	os.Clearenv()
	os.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	os.Setenv("CSRF_EXEMPT_PATHS", "/a,/b/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	brokers := cfg.KafkaBrokersList()
	if len(brokers) != 2 || brokers[0] != "kafka-1:9092" || brokers[1] != "kafka-2:9092" {
		t.Errorf("KafkaBrokersList = %v", brokers)
	}
	if paths := cfg.CSRFExemptPathList(); len(paths) != 2 {
		t.Errorf("CSRFExemptPathList = %v", paths)
	}
	if uas := cfg.FirstPartyUserAgentList(); len(uas) != 1 || uas[0] != "StorefrontApp/" {
		t.Errorf("FirstPartyUserAgentList = %v", uas)
	}
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil brokers")
	}
}

func TestLoad_TrustedProxies(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.TrustedProxyCIDRList(); got != nil {
		t.Errorf("default trusts %v, want none", got)
	}

	os.Setenv("TRUSTED_PROXY_CIDRS", "10.0.0.0/8, 192.0.2.1")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.TrustedProxyCIDRList(); len(got) != 2 || got[0] != "10.0.0.0/8" || got[1] != "192.0.2.1" {
		t.Errorf("TrustedProxyCIDRList = %v", got)
	}

	os.Setenv("TRUSTED_PROXY_CIDRS", "10.0.0.0/40")
	if _, err := Load(); err == nil {
		t.Error("Load should reject an invalid CIDR")
	}
}
