package routing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ServiceConfig holds configuration for the routing service.
type ServiceConfig struct {
	// Provider is the routing data provider.
	Provider Provider

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache candidate routes (default: 5 minutes).
	CacheTTL time.Duration

	// CacheGridSize is the size of cache grid cells in degrees (default: 0.001 ~ 110m).
	// Requests whose endpoints share grid cells share cached routes.
	CacheGridSize float64

	// StaleIfErrorTTL allows serving stale routes on provider errors (default: 15 minutes).
	StaleIfErrorTTL time.Duration

	// CleanupInterval is how often to drop entries past the stale window (default: 5 minutes).
	CleanupInterval time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Service provides candidate routes with caching.
type Service struct {
	provider        Provider
	logger          zerolog.Logger
	cacheTTL        time.Duration
	cacheGridSize   float64
	staleIfErrorTTL time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	mu          sync.RWMutex
	cache       map[string]*cachedDirections
	lastCleanup time.Time
}

type cachedDirections struct {
	response  *DirectionsResponse
	fetchedAt time.Time
	expiresAt time.Time
}

// NewService creates a new routing service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.CacheGridSize == 0 {
		cfg.CacheGridSize = 0.001
	}
	if cfg.StaleIfErrorTTL == 0 {
		cfg.StaleIfErrorTTL = 15 * time.Minute
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		cacheTTL:        cfg.CacheTTL,
		cacheGridSize:   cfg.CacheGridSize,
		staleIfErrorTTL: cfg.StaleIfErrorTTL,
		cleanupInterval: cfg.CleanupInterval,
		now:             cfg.Now,
		cache:           make(map[string]*cachedDirections),
	}
}

// GetDirections returns candidate routes between two points. Every returned
// route carries a non-empty ID.
func (s *Service) GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	if err := req.Origin.Validate(); err != nil {
		return nil, &Error{
			Provider: s.provider.Name(),
			Code:     "INVALID_ORIGIN",
			Message:  "invalid origin coordinates",
			Err:      ErrInvalidCoordinates,
		}
	}
	if err := req.Destination.Validate(); err != nil {
		return nil, &Error{
			Provider: s.provider.Name(),
			Code:     "INVALID_DESTINATION",
			Message:  "invalid destination coordinates",
			Err:      ErrInvalidCoordinates,
		}
	}
	if req.Profile == "" {
		req.Profile = ProfileWalk
	}

	cacheKey := s.cacheKey(req)

	s.mu.RLock()
	if cached, ok := s.cache[cacheKey]; ok && s.now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		s.logger.Debug().
			Str("cache_key", cacheKey).
			Msg("cache hit for directions")
		return cached.response, nil
	}
	s.mu.RUnlock()

	return s.fetchDirections(ctx, req, cacheKey)
}

func (s *Service) fetchDirections(ctx context.Context, req DirectionsRequest, cacheKey string) (*DirectionsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check cache (prevents thundering herd)
	if cached, ok := s.cache[cacheKey]; ok && s.now().Before(cached.expiresAt) {
		return cached.response, nil
	}

	s.logger.Debug().
		Float64("origin_lat", req.Origin.Lat).
		Float64("origin_lon", req.Origin.Lon).
		Float64("dest_lat", req.Destination.Lat).
		Float64("dest_lon", req.Destination.Lon).
		Str("profile", string(req.Profile)).
		Str("provider", s.provider.Name()).
		Msg("fetching directions from provider")

	resp, err := s.provider.GetDirections(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).
			Str("cache_key", cacheKey).
			Str("profile", string(req.Profile)).
			Msg("failed to fetch directions")

		if cached, ok := s.cache[cacheKey]; ok {
			if s.now().Before(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
				s.logger.Warn().
					Time("fetched_at", cached.fetchedAt).
					Str("cache_key", cacheKey).
					Msg("serving stale directions due to provider error")
				return cached.response, nil
			}
		}

		return nil, err
	}
	if len(resp.Routes) == 0 {
		return nil, ErrNoRouteFound
	}

	for i := range resp.Routes {
		if resp.Routes[i].ID == "" {
			resp.Routes[i].ID = uuid.NewString()
		}
	}

	now := s.now()
	s.cache[cacheKey] = &cachedDirections{
		response:  resp,
		fetchedAt: now,
		expiresAt: now.Add(s.cacheTTL),
	}

	s.logger.Debug().
		Str("cache_key", cacheKey).
		Int("route_count", len(resp.Routes)).
		Msg("cached directions response")

	s.cleanupIfNeeded(now)

	return resp, nil
}

// cacheKey quantizes both endpoints onto the cache grid.
// Format: {profile}:{alternatives}:{originLat},{originLon}:{destLat},{destLon}.
func (s *Service) cacheKey(req DirectionsRequest) string {
	q := func(v float64) float64 { return math.Floor(v/s.cacheGridSize) * s.cacheGridSize }
	return fmt.Sprintf("%s:%d:%.4f,%.4f:%.4f,%.4f",
		req.Profile, req.MaxAlternatives,
		q(req.Origin.Lat), q(req.Origin.Lon),
		q(req.Destination.Lat), q(req.Destination.Lon),
	)
}

func (s *Service) cleanupIfNeeded(now time.Time) {
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}
	s.lastCleanup = now

	expired := 0
	for key, cached := range s.cache {
		if now.After(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			delete(s.cache, key)
			expired++
		}
	}

	if expired > 0 {
		s.logger.Debug().
			Int("expired_entries", expired).
			Msg("cleaned up expired routing cache entries")
	}
}

// InvalidateCache clears all cached data.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*cachedDirections)
}

// CacheStats returns cache statistics.
func (s *Service) CacheStats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	stats := CacheStats{TotalEntries: len(s.cache), Provider: s.provider.Name()}
	for _, c := range s.cache {
		if now.Before(c.expiresAt) {
			stats.FreshEntries++
		} else if now.Before(c.fetchedAt.Add(s.staleIfErrorTTL)) {
			stats.StaleEntries++
		}
	}
	return stats
}

// CacheStats contains cache statistics.
type CacheStats struct {
	TotalEntries int    `json:"totalEntries"`
	FreshEntries int    `json:"freshEntries"`
	StaleEntries int    `json:"staleEntries"`
	Provider     string `json:"provider"`
}

// ProviderName returns the name of the underlying provider.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}
