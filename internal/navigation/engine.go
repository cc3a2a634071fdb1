package navigation

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/scoring"
	"github.com/breatheroute/airnav/pkg/geo"
)

// ZoneLookup resolves the air quality zone at a point.
type ZoneLookup interface {
	NearestZone(p geo.Point) (airquality.Zone, bool)
}

// ZoneFollower is a ZoneLookup that re-anchors its zones around the user
// whenever its refresh policy requires it. *airquality.Follower implements it.
type ZoneFollower interface {
	ZoneLookup
	Follow(ctx context.Context, p geo.Point)
}

// Publisher forwards snapshots to a companion transport. Publish must not block.
type Publisher interface {
	Publish(s State)
}

// Observer records engine events.
type Observer interface {
	LocationUpdated()
	WentOffRoute()
}

// Config holds the thresholds and dependencies of an Engine.
type Config struct {
	SessionID string

	// StepCompletion is the distance to a step's point that completes it (default: 30m).
	StepCompletion float64
	// Approaching is the distance to the next maneuver that raises an alert (default: 100m).
	Approaching float64
	// OffRoute is the distance from the route that raises an alert (default: 150m).
	OffRoute float64
	// Arrival is the distance to the last point that counts as arrived (default: 25m).
	Arrival float64
	// DefaultSpeed is used for ETA while no speed has been observed (default: 1.4 m/s).
	DefaultSpeed float64
	// ETAInterval bounds how often ETA is recomputed from location (default: 5s).
	ETAInterval time.Duration
	// TickInterval is the ETA countdown period (default: 1s).
	TickInterval time.Duration
	// PoorAirAQI is the AQI above which the poor air alert fires (default: 150).
	PoorAirAQI float64
	// SpeedWindow is the number of speed samples averaged (default: 10).
	SpeedWindow int
	// ZoneTimeout bounds a zone refresh around the user (default: 5s).
	ZoneTimeout time.Duration

	Zones     ZoneLookup // optional, overridden per Start
	Publisher Publisher  // optional
	Observer  Observer   // optional
	Clock     Clock      // default: SystemClock
	Scheduler Scheduler  // default: TickerScheduler
	Logger    zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.StepCompletion == 0 {
		c.StepCompletion = 30
	}
	if c.Approaching == 0 {
		c.Approaching = 100
	}
	if c.OffRoute == 0 {
		c.OffRoute = 150
	}
	if c.Arrival == 0 {
		c.Arrival = 25
	}
	if c.DefaultSpeed == 0 {
		c.DefaultSpeed = 1.4
	}
	if c.ETAInterval == 0 {
		c.ETAInterval = 5 * time.Second
	}
	if c.TickInterval == 0 {
		c.TickInterval = time.Second
	}
	if c.PoorAirAQI == 0 {
		c.PoorAirAQI = 150
	}
	if c.SpeedWindow == 0 {
		c.SpeedWindow = 10
	}
	if c.ZoneTimeout == 0 {
		c.ZoneTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Scheduler == nil {
		c.Scheduler = TickerScheduler{}
	}
	return c
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

// Engine is the navigation state machine. It is idle until Start and
// returns to idle on Stop. All mutations are serialized; readers see only
// whole snapshots.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	route     *scoring.ScoredRoute
	zones     ZoneLookup
	points    []geo.Point
	cum       []float64
	total     float64
	steps     []Step
	stepIdx   int
	speeds    []float64
	traveled  float64
	eta       time.Duration
	etaAt     time.Time
	offRoute  bool
	arrived   bool
	announced bool
	epoch     uint64
	active    time.Time
	stopTick  func()
	sequence  uint64
	subs      map[int]chan State
	nextSubID int

	state atomic.Pointer[State]
}

// NewEngine creates an idle Engine.
func NewEngine(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("session_id", cfg.SessionID).Logger(),
		zones:  cfg.Zones,
		subs:   make(map[int]chan State),
	}
	e.state.Store(&State{SessionID: cfg.SessionID, UpdatedAt: cfg.Clock.Now()})
	return e
}

// State returns the latest snapshot.
func (e *Engine) State() State {
	return *e.state.Load()
}

// LastActivity returns the time of the last Start or location update.
func (e *Engine) LastActivity() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Subscribe returns a channel receiving every published snapshot. The
// channel holds only the latest snapshot a slow reader has not consumed.
// The cancel func unsubscribes and closes the channel.
func (e *Engine) Subscribe() (<-chan State, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextSubID++
	id := e.nextSubID
	ch := make(chan State, 1)
	e.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			close(ch)
		})
	}
}

// Start begins navigating route, resetting all progress. zones overrides the
// configured zone lookup when non-nil.
func (e *Engine) Start(route scoring.ScoredRoute, zones ZoneLookup) error {
	if len(route.Route.Coordinates) < 2 {
		return ErrEmptyRoute
	}
	if zones == nil {
		zones = e.cfg.Zones
	}
	e.follow(zones, route.Route.Coordinates[0])

	e.mu.Lock()
	defer e.mu.Unlock()

	e.resetLocked()
	e.zones = zones

	r := route
	e.route = &r
	e.points = route.Route.Coordinates
	e.cum = geo.CumulativeLengths(e.points)
	e.total = e.cum[len(e.cum)-1]
	e.steps = stepsFor(route.Route)

	e.eta = route.ExpectedDuration
	if e.eta <= 0 {
		e.eta = secondsToDuration(e.total / e.cfg.DefaultSpeed)
	}
	now := e.cfg.Clock.Now()
	e.etaAt = now
	e.active = now

	epoch := e.epoch
	e.stopTick = e.cfg.Scheduler.Every(e.cfg.TickInterval, func() { e.tick(epoch) })

	var zone *airquality.Zone
	if e.zones != nil {
		if z, ok := e.zones.NearestZone(e.points[0]); ok {
			zone = &z
		}
	}

	e.logger.Info().
		Str("route_id", route.Route.ID).
		Float64("distance", e.total).
		Int("steps", len(e.steps)).
		Dur("eta", e.eta).
		Msg("navigation started")

	e.publishLocked(e.snapshotLocked(now, nil, zone, 0))
	return nil
}

// Restart starts the active route over from zero progress.
func (e *Engine) Restart() error {
	e.mu.Lock()
	route, zones := e.route, e.zones
	e.mu.Unlock()

	if route == nil {
		return ErrNoActiveRoute
	}
	return e.Start(*route, zones)
}

// Stop returns the engine to idle. It is safe to call at any time.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasNavigating := e.route != nil
	e.resetLocked()
	if wasNavigating {
		e.logger.Info().Msg("navigation stopped")
	}
	e.publishLocked(State{UpdatedAt: e.cfg.Clock.Now()})
}

// UpdateUserLocation folds one location sample into the state and returns
// the published snapshot. Samples while idle are ignored.
func (e *Engine) UpdateUserLocation(p geo.Point, speed float64) State {
	e.mu.Lock()
	zones, navigating := e.zones, e.route != nil
	e.mu.Unlock()
	if navigating {
		e.follow(zones, p)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.route == nil {
		return *e.state.Load()
	}
	now := e.cfg.Clock.Now()
	e.active = now

	if speed >= 0 && !math.IsInf(speed, 0) {
		e.speeds = append(e.speeds, speed)
		if len(e.speeds) > e.cfg.SpeedWindow {
			e.speeds = e.speeds[len(e.speeds)-e.cfg.SpeedWindow:]
		}
	}
	avgSpeed := e.averageSpeed()

	fromRoute, along := e.project(p)
	e.traveled = math.Max(e.traveled, along)

	// Near the last point only counts once the route has mostly been
	// covered, so a loop does not arrive at its own start.
	if !e.arrived && geo.Distance(p, e.points[len(e.points)-1]) <= e.cfg.Arrival &&
		e.traveled >= e.total-e.cfg.Arrival {
		e.arrived = true
		e.logger.Info().Msg("destination reached")
	}
	if e.arrived {
		e.traveled = e.total
	}
	remaining := math.Max(0, e.total-e.traveled)

	if now.Sub(e.etaAt) >= e.cfg.ETAInterval {
		v := avgSpeed
		if v <= 0 {
			v = e.cfg.DefaultSpeed
		}
		e.eta = secondsToDuration(remaining / v)
		e.etaAt = now
	}
	if e.arrived {
		e.eta = 0
	}

	for j := e.stepIdx; j < len(e.steps); j++ {
		if geo.Distance(p, e.steps[j].Point) < e.cfg.StepCompletion {
			e.stepIdx = j + 1
		}
	}

	offRoute := fromRoute > e.cfg.OffRoute
	if offRoute != e.offRoute {
		e.logger.Info().
			Bool("off_route", offRoute).
			Float64("distance_from_route", fromRoute).
			Msg("off-route state changed")
		if offRoute && e.cfg.Observer != nil {
			e.cfg.Observer.WentOffRoute()
		}
	}
	e.offRoute = offRoute

	var zone *airquality.Zone
	if e.zones != nil {
		if z, ok := e.zones.NearestZone(p); ok {
			zone = &z
		}
	}

	if e.cfg.Observer != nil {
		e.cfg.Observer.LocationUpdated()
	}

	s := e.snapshotLocked(now, &p, zone, fromRoute)
	s.Speed = avgSpeed
	s.Alert = e.alert(p, zone)
	return e.publishLocked(s)
}

// follow re-anchors zones around p when they follow the user. It runs
// outside the engine lock since a rebuild may reach the ground feed.
func (e *Engine) follow(zones ZoneLookup, p geo.Point) {
	f, ok := zones.(ZoneFollower)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ZoneTimeout)
	defer cancel()
	f.Follow(ctx, p)
}

// Tick counts the ETA down by one tick interval.
func (e *Engine) Tick() {
	e.mu.Lock()
	epoch := e.epoch
	e.mu.Unlock()
	e.tick(epoch)
}

func (e *Engine) tick(epoch uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.route == nil || epoch != e.epoch || e.eta <= 0 {
		return
	}
	e.eta = max(0, e.eta-e.cfg.TickInterval)

	s := *e.state.Load()
	s.ETA = e.eta
	s.UpdatedAt = e.cfg.Clock.Now()
	if s.Alert == AlertArrived {
		s.Alert = AlertNone
	}
	e.publishLocked(s)
}

// alert picks the highest priority condition:
// arrived > approaching maneuver > poor air quality > off-route.
// Arrival is announced once; later updates carry no alert.
func (e *Engine) alert(p geo.Point, zone *airquality.Zone) Alert {
	switch {
	case e.arrived && e.announced:
		return AlertNone
	case e.arrived:
		e.announced = true
		return AlertArrived
	case e.stepIdx < len(e.steps) && geo.Distance(p, e.steps[e.stepIdx].Point) <= e.cfg.Approaching:
		return AlertApproachingManeuver
	case zone != nil && zone.AQI() > e.cfg.PoorAirAQI:
		return AlertPoorAirQuality
	case e.offRoute:
		return AlertOffRoute
	}
	return AlertNone
}

// projectionTie is how close two segment distances must be for the one
// nearer the current progress to win.
const projectionTie = 1.0

// project returns the distance from p to the nearest polyline segment and
// the distance along the route of the projected point. Where the route
// passes p more than once, the pass nearest the distance already traveled
// is taken.
func (e *Engine) project(p geo.Point) (dist, along float64) {
	dist = math.Inf(1)
	for i := 1; i < len(e.points); i++ {
		d, ratio := geo.ProjectOnSegment(p, e.points[i-1], e.points[i])
		a := e.cum[i-1] + ratio*(e.cum[i]-e.cum[i-1])
		if d < dist-projectionTie ||
			(d <= dist+projectionTie && math.Abs(a-e.traveled) < math.Abs(along-e.traveled)) {
			dist, along = d, a
		}
	}
	return dist, along
}

func (e *Engine) averageSpeed() float64 {
	if len(e.speeds) == 0 {
		return 0
	}
	var sum float64
	for _, v := range e.speeds {
		sum += v
	}
	return sum / float64(len(e.speeds))
}

func (e *Engine) snapshotLocked(now time.Time, loc *geo.Point, zone *airquality.Zone, fromRoute float64) State {
	s := State{
		Navigating:        true,
		Route:             e.route,
		StepIndex:         e.stepIdx,
		Zone:              zone,
		Location:          loc,
		DistanceTraveled:  e.traveled,
		DistanceRemaining: math.Max(0, e.total-e.traveled),
		DistanceFromRoute: fromRoute,
		ETA:               e.eta,
		OffRoute:          e.offRoute,
		Arrived:           e.arrived,
		UpdatedAt:         now,
	}
	if e.total > 0 {
		s.Progress = math.Min(1, e.traveled/e.total)
	} else if e.arrived {
		s.Progress = 1
	}
	if n := len(e.steps); n > 0 {
		cur := e.steps[min(e.stepIdx, n-1)]
		s.CurrentStep = &cur
		if e.stepIdx+1 < n {
			next := e.steps[e.stepIdx+1]
			s.NextStep = &next
		}
	}
	return s
}

// publishLocked stamps s, stores it and fans it out. It returns the stamped snapshot.
func (e *Engine) publishLocked(s State) State {
	e.sequence++
	s.Sequence = e.sequence
	s.SessionID = e.cfg.SessionID
	e.state.Store(&s)

	for _, ch := range e.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
	if e.cfg.Publisher != nil {
		e.cfg.Publisher.Publish(s)
	}
	return s
}

func (e *Engine) resetLocked() {
	if e.stopTick != nil {
		e.stopTick()
		e.stopTick = nil
	}
	e.epoch++
	e.route = nil
	e.points = nil
	e.cum = nil
	e.total = 0
	e.steps = nil
	e.stepIdx = 0
	e.speeds = nil
	e.traveled = 0
	e.eta = 0
	e.etaAt = time.Time{}
	e.offRoute = false
	e.arrived = false
	e.announced = false
	e.zones = e.cfg.Zones
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
