// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/database"
)

// DevSigningKey is used when JWT_SIGNING_KEY is unset outside production.
const DevSigningKey = "local-dev-signing-key-change-in-production"

// ErrMissingSigningKey is returned in production without JWT_SIGNING_KEY.
var ErrMissingSigningKey = errors.New("JWT_SIGNING_KEY is required in production")

// Config is the configuration shared by the binaries.
type Config struct {
	Port        string
	Environment string

	// RequireTLS rejects requests that did not arrive over HTTPS.
	RequireTLS bool

	Telemetry TelemetryConfig
	Database  DatabaseConfig
	Routing   RoutingConfig
	Ground    GroundConfig
	Weather   WeatherConfig
	PubSub    PubSubConfig
	Auth      AuthConfig

	Grid airquality.GridConfig

	// SessionIdleTimeout expires navigation sessions without updates.
	SessionIdleTimeout time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	SampleRatio  float64
}

// DatabaseConfig selects incident persistence. Without it incidents are
// kept in memory.
type DatabaseConfig struct {
	Enabled bool
	database.Config
}

type RoutingConfig struct {
	APIKey  string
	BaseURL string
}

type GroundConfig struct {
	BaseURL string
}

// WeatherConfig configures the OpenWeatherMap provider.
type WeatherConfig struct {
	APIKey     string
	BaseURL    string
	OneCallURL string
	CacheTTL   time.Duration
}

// PubSubConfig names the companion topic and the worker subscription.
// Empty names disable the matching component.
type PubSubConfig struct {
	ProjectID          string
	CompanionTopic     string
	WorkerSubscription string
}

type AuthConfig struct {
	SigningKey string
	Issuer     string
	Audience   string

	// UsingDevKey is set when SigningKey fell back to DevSigningKey.
	UsingDevKey bool
}

// IsProduction reports whether the environment is production.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Port:        getEnvOrDefault("APP_PORT", "8080"),
		Environment: getEnvOrDefault("APP_ENV", "development"),
		RequireTLS:  getBool("REQUIRE_TLS", false),
		Telemetry: TelemetryConfig{
			Enabled:      getBool("OTEL_ENABLED", false),
			OTLPEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRatio:  getFloat("OTEL_SAMPLE_RATIO", 1),
		},
		Database: DatabaseConfig{
			Enabled: os.Getenv("DB_HOST") != "",
			Config:  database.ConfigFromEnv(),
		},
		Routing: RoutingConfig{
			APIKey:  os.Getenv("ORS_API_KEY"),
			BaseURL: os.Getenv("ORS_BASE_URL"),
		},
		Ground: GroundConfig{
			BaseURL: os.Getenv("LUCHTMEETNET_BASE_URL"),
		},
		Weather: WeatherConfig{
			APIKey:     os.Getenv("OPENWEATHERMAP_API_KEY"),
			BaseURL:    os.Getenv("OPENWEATHERMAP_BASE_URL"),
			OneCallURL: os.Getenv("OPENWEATHERMAP_ONECALL_URL"),
			CacheTTL:   getDuration("WEATHER_CACHE_TTL", 10*time.Minute),
		},
		PubSub: PubSubConfig{
			ProjectID:          os.Getenv("PUBSUB_PROJECT_ID"),
			CompanionTopic:     os.Getenv("PUBSUB_COMPANION_TOPIC"),
			WorkerSubscription: os.Getenv("PUBSUB_WORKER_SUBSCRIPTION"),
		},
		Auth: AuthConfig{
			SigningKey: os.Getenv("JWT_SIGNING_KEY"),
			Issuer:     getEnvOrDefault("JWT_ISSUER", "airnav"),
			Audience:   getEnvOrDefault("JWT_AUDIENCE", "airnav-navigation"),
		},
		Grid: airquality.GridConfig{
			ZoneRadius:      getFloat("GRID_ZONE_RADIUS", 500),
			Rings:           getInt("GRID_RINGS", 4),
			RefreshDistance: getFloat("GRID_REFRESH_DISTANCE", 1000),
			TTL:             getDuration("GRID_TTL", 5*time.Minute),
			Extended:        getBool("GRID_EXTENDED", false),
		},
		SessionIdleTimeout: getDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
	}

	if cfg.Auth.SigningKey == "" {
		if cfg.IsProduction() {
			return cfg, ErrMissingSigningKey
		}
		cfg.Auth.SigningKey = DevSigningKey
		cfg.Auth.UsingDevKey = true
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}
