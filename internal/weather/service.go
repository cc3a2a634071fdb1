package weather

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/pkg/geo"
)

// Provider fetches weather data for a location.
type Provider interface {
	CurrentWeather(ctx context.Context, p geo.Point) (*Observation, error)
	Forecast(ctx context.Context, p geo.Point) (*Forecast, error)
	AirForecast(ctx context.Context, p geo.Point) (*AirForecast, error)

	// Name returns the provider name for logging.
	Name() string
}

// ServiceConfig holds configuration for the weather service.
type ServiceConfig struct {
	Provider Provider
	Logger   zerolog.Logger

	// CacheTTL is how long fetched data is served without refetching
	// (default: 10 minutes).
	CacheTTL time.Duration

	// CacheGridSize is the cache cell size in degrees (default: 0.1).
	// Points in the same cell share cached data.
	CacheGridSize float64

	// StaleIfErrorTTL bounds how old data may be when served after a
	// provider error (default: 1 hour).
	StaleIfErrorTTL time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Service provides weather data with caching. It is safe for concurrent use.
type Service struct {
	provider Provider
	logger   zerolog.Logger
	gridSize float64
	now      func() time.Time

	current  *cache[*Observation]
	forecast *cache[*Forecast]
	air      *cache[*AirForecast]
}

// NewService creates a weather service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.CacheGridSize == 0 {
		cfg.CacheGridSize = 0.1 // ~11km
	}
	if cfg.StaleIfErrorTTL == 0 {
		cfg.StaleIfErrorTTL = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		provider: cfg.Provider,
		logger:   cfg.Logger,
		gridSize: cfg.CacheGridSize,
		now:      cfg.Now,
		current:  newCache[*Observation](cfg.CacheTTL, cfg.StaleIfErrorTTL),
		forecast: newCache[*Forecast](cfg.CacheTTL, cfg.StaleIfErrorTTL),
		air:      newCache[*AirForecast](cfg.CacheTTL, cfg.StaleIfErrorTTL),
	}
}

// CurrentWeather returns the current weather at p.
func (s *Service) CurrentWeather(ctx context.Context, p geo.Point) (*Observation, error) {
	return fetch(ctx, s, s.current, "current weather", p, s.provider.CurrentWeather)
}

// Forecast returns the hourly weather forecast at p.
func (s *Service) Forecast(ctx context.Context, p geo.Point) (*Forecast, error) {
	return fetch(ctx, s, s.forecast, "forecast", p, s.provider.Forecast)
}

// AirForecast returns the hourly air quality outlook at p.
func (s *Service) AirForecast(ctx context.Context, p geo.Point) (*AirForecast, error) {
	return fetch(ctx, s, s.air, "air forecast", p, s.provider.AirForecast)
}

// fetch serves kind from c, calling the provider on a miss. Provider errors
// fall back to stale data within the stale-if-error window.
func fetch[T any](
	ctx context.Context,
	s *Service,
	c *cache[T],
	kind string,
	p geo.Point,
	get func(context.Context, geo.Point) (T, error),
) (T, error) {
	var zero T
	if err := validatePoint(p); err != nil {
		return zero, err
	}

	key := s.cacheKey(p)
	now := s.now()
	if v, ok := c.fresh(key, now); ok {
		return v, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have fetched while we waited.
	if e, ok := c.entries[key]; ok && now.Before(e.fetchedAt.Add(c.ttl)) {
		return e.value, nil
	}

	s.logger.Debug().
		Str("kind", kind).
		Float64("lat", p.Lat).
		Float64("lon", p.Lon).
		Str("provider", s.provider.Name()).
		Msg("fetching from weather provider")

	v, err := get(ctx, p)
	if err != nil {
		s.logger.Error().Err(err).
			Str("kind", kind).
			Float64("lat", p.Lat).
			Float64("lon", p.Lon).
			Msg("weather provider request failed")

		if e, ok := c.entries[key]; ok && now.Before(e.fetchedAt.Add(c.staleTTL)) {
			s.logger.Warn().
				Str("kind", kind).
				Time("fetched_at", e.fetchedAt).
				Msg("serving stale weather data due to provider error")
			return e.value, nil
		}
		return zero, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	c.entries[key] = entry[T]{value: v, fetchedAt: now}
	if expired := c.sweep(now); expired > 0 {
		s.logger.Debug().
			Int("expired_entries", expired).
			Msg("cleaned up expired weather cache entries")
	}
	return v, nil
}

// cacheKey groups nearby points into grid cells.
func (s *Service) cacheKey(p geo.Point) string {
	lat := math.Floor(p.Lat/s.gridSize) * s.gridSize
	lon := math.Floor(p.Lon/s.gridSize) * s.gridSize
	return fmt.Sprintf("%.2f:%.2f", lat, lon)
}

// InvalidateCache clears all cached data.
func (s *Service) InvalidateCache() {
	s.current.clear()
	s.forecast.clear()
	s.air.clear()
}

// CacheStats contains cache statistics.
type CacheStats struct {
	CurrentEntries     int
	ForecastEntries    int
	AirForecastEntries int
	Provider           string
}

// CacheStats returns cache statistics.
func (s *Service) CacheStats() CacheStats {
	return CacheStats{
		CurrentEntries:     s.current.len(),
		ForecastEntries:    s.forecast.len(),
		AirForecastEntries: s.air.len(),
		Provider:           s.provider.Name(),
	}
}

func validatePoint(p geo.Point) error {
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 || math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return ErrInvalidCoordinates
	}
	return nil
}

type entry[T any] struct {
	value     T
	fetchedAt time.Time
}

// cache holds one kind of provider data keyed by grid cell. Entries are
// kept past their TTL for stale-if-error serving and swept after that.
type cache[T any] struct {
	ttl, staleTTL time.Duration

	mu        sync.Mutex
	entries   map[string]entry[T]
	lastSweep time.Time
}

const sweepInterval = 5 * time.Minute

func newCache[T any](ttl, staleTTL time.Duration) *cache[T] {
	return &cache[T]{ttl: ttl, staleTTL: staleTTL, entries: make(map[string]entry[T])}
}

func (c *cache[T]) fresh(key string, now time.Time) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !now.Before(e.fetchedAt.Add(c.ttl)) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// sweep drops entries past the stale window. Callers hold c.mu.
func (c *cache[T]) sweep(now time.Time) int {
	if now.Sub(c.lastSweep) < sweepInterval {
		return 0
	}
	c.lastSweep = now
	expired := 0
	for key, e := range c.entries {
		if !now.Before(e.fetchedAt.Add(c.staleTTL)) {
			delete(c.entries, key)
			expired++
		}
	}
	return expired
}

func (c *cache[T]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[T])
}

func (c *cache[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
