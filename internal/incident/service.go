package incident

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTTL is applied to incidents reported without an expiry.
const DefaultTTL = 2 * time.Hour

// ServiceConfig holds configuration for the incident service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// TTL for incidents without an explicit expiry (default: DefaultTTL).
	TTL time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Service validates and stores incidents and notifies listeners when the
// active set changes.
type Service struct {
	repo   Repository
	logger zerolog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	listeners []func()
}

// NewService creates an incident service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
		ttl:    cfg.TTL,
		now:    cfg.Now,
	}
}

// OnChange registers fn to be called after every change to the incident set.
func (s *Service) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Report validates and stores an incident, assigning an ID, report time and
// expiry where missing.
func (s *Service) Report(ctx context.Context, i Incident) (*Incident, error) {
	if err := i.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.ReportedAt.IsZero() {
		i.ReportedAt = now
	}
	if i.ExpiresAt == nil {
		exp := i.ReportedAt.Add(s.ttl)
		i.ExpiresAt = &exp
	}

	if err := s.repo.Upsert(ctx, &i); err != nil {
		return nil, fmt.Errorf("store incident: %w", err)
	}

	s.logger.Info().
		Str("incident_id", i.ID).
		Str("kind", string(i.Kind)).
		Float64("lat", i.Point.Lat).
		Float64("lon", i.Point.Lon).
		Msg("incident reported")

	s.notify()
	return &i, nil
}

// Resolve removes an incident.
func (s *Service) Resolve(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	s.logger.Info().Str("incident_id", id).Msg("incident resolved")
	s.notify()
	return nil
}

// Active returns the incidents active now.
func (s *Service) Active(ctx context.Context) ([]Incident, error) {
	return s.repo.Active(ctx, s.now())
}

// Purge removes expired incidents.
func (s *Service) Purge(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge incidents: %w", err)
	}
	if n > 0 {
		s.logger.Debug().Int("removed", n).Msg("expired incidents purged")
		s.notify()
	}
	return n, nil
}

func (s *Service) notify() {
	s.mu.RLock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}
