package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GATEKEEPER_SIGNING_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "gatekeeper", cfg.Issuer)
	require.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 14*24*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, 30*time.Second, cfg.ClockSkew)
	require.Equal(t, 15*time.Minute, cfg.SessionIdleTimeout)
	require.Equal(t, 12*time.Hour, cfg.SessionAbsoluteTimeout)
	require.Equal(t, 5, cfg.MaxSessionsPerUser)
	require.Equal(t, 5, cfg.LockoutThreshold)
	require.Equal(t, 15*time.Minute, cfg.LockoutDuration)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GATEKEEPER_SIGNING_SECRET", testSecret)
	t.Setenv("GATEKEEPER_ACCESS_TTL", "5m")
	t.Setenv("GATEKEEPER_REFRESH_TTL", "72h")
	t.Setenv("GATEKEEPER_LOCKOUT_THRESHOLD", "3")
	t.Setenv("GATEKEEPER_MAX_SESSIONS_PER_USER", "1")
	t.Setenv("GATEKEEPER_HTTP_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 72*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, 3, cfg.LockoutThreshold)
	require.Equal(t, 1, cfg.MaxSessionsPerUser)
	require.Equal(t, ":9090", cfg.HTTPAddr)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("GATEKEEPER_SIGNING_SECRET", testSecret)
	t.Setenv("GATEKEEPER_ACCESS_TTL", "not-a-duration")
	t.Setenv("GATEKEEPER_LOCKOUT_THRESHOLD", "many")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 5, cfg.LockoutThreshold)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("GATEKEEPER_SIGNING_SECRET", "")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("GATEKEEPER_SIGNING_SECRET", "short")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadRejectsInvertedTTLs(t *testing.T) {
	t.Setenv("GATEKEEPER_SIGNING_SECRET", testSecret)
	t.Setenv("GATEKEEPER_ACCESS_TTL", "48h")
	t.Setenv("GATEKEEPER_REFRESH_TTL", "1h")

	_, err := Load()
	require.Error(t, err)
}
