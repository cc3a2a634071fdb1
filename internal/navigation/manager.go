package navigation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/scoring"
)

// Session is one client's navigation engine.
type Session struct {
	ID        string
	ClientID  string
	CreatedAt time.Time
	Engine    *Engine
}

// ManagerConfig holds the shared engine settings and session limits.
type ManagerConfig struct {
	// Engine is the template for every session's engine. SessionID is set per session.
	Engine Config

	// NewZones builds the zone lookup of one session. A ZoneFollower keeps
	// the session's zones anchored around its user. Optional; without it
	// sessions share Engine.Zones.
	NewZones func() ZoneLookup

	// IdleTimeout expires sessions without updates (default: 30 minutes).
	IdleTimeout time.Duration

	// Logger is shared by the manager and its engines.
	Logger zerolog.Logger
}

// Manager owns the navigation sessions of a process.
type Manager struct {
	cfg         Config
	newZones    func() ZoneLookup
	idleTimeout time.Duration
	logger      zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	engine := cfg.Engine.withDefaults()
	engine.Logger = cfg.Logger
	return &Manager{
		cfg:         engine,
		newZones:    cfg.NewZones,
		idleTimeout: cfg.IdleTimeout,
		logger:      cfg.Logger,
		sessions:    make(map[string]*Session),
	}
}

// Create starts a new session navigating route.
func (m *Manager) Create(clientID string, route scoring.ScoredRoute) (*Session, error) {
	cfg := m.cfg
	cfg.SessionID = uuid.NewString()
	engine := NewEngine(cfg)
	var zones ZoneLookup
	if m.newZones != nil {
		zones = m.newZones()
	}
	if err := engine.Start(route, zones); err != nil {
		return nil, err
	}

	s := &Session{ID: cfg.SessionID, ClientID: clientID, CreatedAt: cfg.Clock.Now(), Engine: engine}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Debug().Str("session_id", s.ID).Str("client_id", clientID).Msg("navigation session created")
	return s, nil
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete stops and removes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Engine.Stop()
	return nil
}

// Len returns the number of sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Expire stops and removes sessions idle for longer than the idle timeout,
// returning their IDs in order.
func (m *Manager) Expire() []string {
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if now.Sub(s.Engine.LastActivity()) > m.idleTimeout {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, s := range expired {
		s.Engine.Stop()
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)

	if len(ids) > 0 {
		m.logger.Info().Int("sessions", len(ids)).Msg("expired idle navigation sessions")
	}
	return ids
}

// StopAll stops every session.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Engine.Stop()
	}
}
