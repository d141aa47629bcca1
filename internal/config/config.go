package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPAddr    string
	DatabaseURL string

	SigningSecret string
	Issuer        string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ClockSkew       time.Duration

	SessionIdleTimeout     time.Duration
	SessionAbsoluteTimeout time.Duration
	MaxSessionsPerUser     int

	LockoutThreshold int
	LockoutDuration  time.Duration

	UserRatePerMinute int
	UserRateBurst     int
	IPRatePerMinute   int
	IPRateBurst       int

	AuditBufferDays int
}

// Load reads configuration from GATEKEEPER_* environment variables with sane
// defaults. Only the signing secret is mandatory.
func Load() (Config, error) {
	cfg := Config{
		Environment: getEnv("GATEKEEPER_ENV", "development"),
		HTTPAddr:    getEnv("GATEKEEPER_HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("GATEKEEPER_PG_DSN"),

		SigningSecret: os.Getenv("GATEKEEPER_SIGNING_SECRET"),
		Issuer:        getEnv("GATEKEEPER_ISSUER", "gatekeeper"),

		AccessTokenTTL:  getDuration("GATEKEEPER_ACCESS_TTL", 15*time.Minute),
		RefreshTokenTTL: getDuration("GATEKEEPER_REFRESH_TTL", 14*24*time.Hour),
		ClockSkew:       getDuration("GATEKEEPER_CLOCK_SKEW", 30*time.Second),

		SessionIdleTimeout:     getDuration("GATEKEEPER_SESSION_IDLE_TIMEOUT", 15*time.Minute),
		SessionAbsoluteTimeout: getDuration("GATEKEEPER_SESSION_ABSOLUTE_TIMEOUT", 12*time.Hour),
		MaxSessionsPerUser:     getInt("GATEKEEPER_MAX_SESSIONS_PER_USER", 5),

		LockoutThreshold: getInt("GATEKEEPER_LOCKOUT_THRESHOLD", 5),
		LockoutDuration:  getDuration("GATEKEEPER_LOCKOUT_DURATION", 15*time.Minute),

		UserRatePerMinute: getInt("GATEKEEPER_USER_RATE_PER_MINUTE", 30),
		UserRateBurst:     getInt("GATEKEEPER_USER_RATE_BURST", 10),
		IPRatePerMinute:   getInt("GATEKEEPER_IP_RATE_PER_MINUTE", 120),
		IPRateBurst:       getInt("GATEKEEPER_IP_RATE_BURST", 30),

		AuditBufferDays: getInt("GATEKEEPER_AUDIT_BUFFER_DAYS", 7),
	}

	if cfg.SigningSecret == "" {
		return Config{}, fmt.Errorf("GATEKEEPER_SIGNING_SECRET is required")
	}
	if len(cfg.SigningSecret) < 32 {
		return Config{}, fmt.Errorf("GATEKEEPER_SIGNING_SECRET must be at least 32 bytes")
	}
	if cfg.AccessTokenTTL >= cfg.RefreshTokenTTL {
		return Config{}, fmt.Errorf("GATEKEEPER_ACCESS_TTL must be shorter than GATEKEEPER_REFRESH_TTL")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
