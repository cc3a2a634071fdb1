package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airnav/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APP_PORT", "APP_ENV", "REQUIRE_TLS", "OTEL_ENABLED", "OTEL_SAMPLE_RATIO",
		"DB_HOST", "ORS_API_KEY", "PUBSUB_PROJECT_ID", "PUBSUB_COMPANION_TOPIC",
		"JWT_SIGNING_KEY", "GRID_RINGS", "GRID_TTL", "SESSION_IDLE_TIMEOUT",
		"OPENWEATHERMAP_API_KEY", "WEATHER_CACHE_TTL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.RequireTLS)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRatio)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, 500.0, cfg.Grid.ZoneRadius)
	assert.Equal(t, 4, cfg.Grid.Rings)
	assert.Equal(t, 5*time.Minute, cfg.Grid.TTL)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
	assert.Equal(t, config.DevSigningKey, cfg.Auth.SigningKey)
	assert.True(t, cfg.Auth.UsingDevKey)
	assert.Equal(t, "airnav-navigation", cfg.Auth.Audience)
	assert.Empty(t, cfg.Weather.APIKey)
	assert.Equal(t, 10*time.Minute, cfg.Weather.CacheTTL)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("REQUIRE_TLS", "true")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("ORS_API_KEY", "ors-key")
	t.Setenv("JWT_SIGNING_KEY", "s3cret")
	t.Setenv("GRID_RINGS", "2")
	t.Setenv("GRID_TTL", "90s")
	t.Setenv("OTEL_SAMPLE_RATIO", "0.25")
	t.Setenv("OPENWEATHERMAP_API_KEY", "owm-key")
	t.Setenv("WEATHER_CACHE_TTL", "30m")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.RequireTLS)
	assert.Equal(t, "owm-key", cfg.Weather.APIKey)
	assert.Equal(t, 30*time.Minute, cfg.Weather.CacheTTL)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "ors-key", cfg.Routing.APIKey)
	assert.Equal(t, "s3cret", cfg.Auth.SigningKey)
	assert.False(t, cfg.Auth.UsingDevKey)
	assert.Equal(t, 2, cfg.Grid.Rings)
	assert.Equal(t, 90*time.Second, cfg.Grid.TTL)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRatio)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("GRID_RINGS", "many")
	t.Setenv("SESSION_IDLE_TIMEOUT", "soon")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Grid.Rings)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
}

func TestLoad_ProductionRequiresSigningKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")

	_, err := config.Load()
	assert.ErrorIs(t, err, config.ErrMissingSigningKey)
}
