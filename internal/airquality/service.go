package airquality

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/pkg/geo"
)

// Provider fetches station snapshots from a ground monitoring network.
type Provider interface {
	FetchSnapshot(ctx context.Context) (*StationSnapshot, error)
}

// ServiceConfig holds configuration for the ground feed service.
type ServiceConfig struct {
	// Provider is the ground network provider.
	Provider Provider

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache the snapshot (default: 5 minutes).
	CacheTTL time.Duration

	// StaleIfErrorTTL allows serving stale data on provider errors (default: 30 minutes).
	StaleIfErrorTTL time.Duration

	// MaxAge drops station readings older than this (default: 3 hours).
	MaxAge time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Service caches ground station snapshots and serves them as readings near a
// point. It implements GroundSource.
type Service struct {
	provider        Provider
	logger          zerolog.Logger
	cacheTTL        time.Duration
	staleIfErrorTTL time.Duration
	maxAge          time.Duration
	now             func() time.Time

	mu          sync.RWMutex
	snapshot    *StationSnapshot
	cacheExpiry time.Time
}

// NewService creates a new ground feed service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.StaleIfErrorTTL == 0 {
		cfg.StaleIfErrorTTL = 30 * time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 3 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		cacheTTL:        cfg.CacheTTL,
		staleIfErrorTTL: cfg.StaleIfErrorTTL,
		maxAge:          cfg.MaxAge,
		now:             cfg.Now,
	}
}

// GetSnapshot returns the cached snapshot, refreshing it when expired.
func (s *Service) GetSnapshot(ctx context.Context) (*StationSnapshot, error) {
	s.mu.RLock()
	if s.snapshot != nil && s.now().Before(s.cacheExpiry) {
		snapshot := s.snapshot
		s.mu.RUnlock()
		return snapshot, nil
	}
	s.mu.RUnlock()

	return s.refreshSnapshot(ctx)
}

// GroundReadings returns the readings of all stations within radius meters
// of center that report a pollutant recently enough to be trusted.
func (s *Service) GroundReadings(ctx context.Context, center geo.Point, radius float64) ([]Reading, error) {
	snapshot, err := s.GetSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-s.maxAge)
	var readings []Reading
	for id, station := range snapshot.Stations {
		if geo.Distance(center, station.Point()) > radius {
			continue
		}
		r, ok := snapshot.Reading(id)
		if !ok || r.CapturedAt.Before(cutoff) {
			continue
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// RefreshSnapshot forces a cache refresh.
func (s *Service) RefreshSnapshot(ctx context.Context) error {
	s.InvalidateCache()
	_, err := s.refreshSnapshot(ctx)
	return err
}

// InvalidateCache clears the cache expiry. The snapshot itself is kept so it
// can still be served as stale data if the next fetch fails.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheExpiry = time.Time{}
}

// CacheStatus returns information about the current cache state.
func (s *Service) CacheStatus() CacheStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return CacheStatus{}
	}

	now := s.now()
	return CacheStatus{
		HasData:      true,
		FetchedAt:    s.snapshot.FetchedAt,
		ExpiresAt:    s.cacheExpiry,
		IsExpired:    now.After(s.cacheExpiry),
		IsStale:      now.After(s.snapshot.FetchedAt.Add(s.staleIfErrorTTL)),
		StationCount: len(s.snapshot.Stations),
		Provider:     s.snapshot.Provider,
	}
}

// CacheStatus represents the current state of the cache.
type CacheStatus struct {
	HasData      bool      `json:"hasData"`
	FetchedAt    time.Time `json:"fetchedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	IsExpired    bool      `json:"isExpired"`
	IsStale      bool      `json:"isStale"`
	StationCount int       `json:"stationCount"`
	Provider     string    `json:"provider"`
}

func (s *Service) refreshSnapshot(ctx context.Context) (*StationSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if s.snapshot != nil && s.now().Before(s.cacheExpiry) {
		return s.snapshot, nil
	}

	s.logger.Debug().Msg("refreshing ground station snapshot")

	snapshot, err := s.provider.FetchSnapshot(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch ground station snapshot")

		if s.snapshot != nil && s.now().Before(s.snapshot.FetchedAt.Add(s.staleIfErrorTTL)) {
			s.logger.Warn().
				Time("fetched_at", s.snapshot.FetchedAt).
				Msg("serving stale ground station data due to provider error")
			return s.snapshot, nil
		}

		return nil, ErrProviderUnavailable
	}

	s.snapshot = snapshot
	s.cacheExpiry = s.now().Add(s.cacheTTL)

	s.logger.Info().
		Int("stations", len(snapshot.Stations)).
		Int("measurements", len(snapshot.Measurements)).
		Time("expires_at", s.cacheExpiry).
		Msg("ground station snapshot refreshed")

	return snapshot, nil
}
