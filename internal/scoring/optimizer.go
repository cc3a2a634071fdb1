package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/avoidance"
	"github.com/breatheroute/airnav/internal/incident"
	"github.com/breatheroute/airnav/internal/routing"
	"github.com/breatheroute/airnav/pkg/geo"
)

// RouteSource supplies candidate routes.
type RouteSource interface {
	GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error)
}

// ZoneSource supplies the air quality zone snapshot around a point.
type ZoneSource interface {
	Refresh(ctx context.Context, center geo.Point, cfg airquality.GridConfig) *airquality.Snapshot
}

// IncidentSource lists the incidents currently in effect.
type IncidentSource interface {
	Active(ctx context.Context) ([]incident.Incident, error)
}

// AvoidanceBuilder rebuilds the avoidance zone set.
type AvoidanceBuilder interface {
	Recompute(incidents []incident.Incident, airZones []airquality.Zone, cfg avoidance.Config) *avoidance.Set
}

// Observer records optimization outcomes.
type Observer interface {
	ObserveOptimize(ctx context.Context, d time.Duration, candidates int)
	ObserveSuperseded(ctx context.Context)
}

// OptimizeRequest asks for ranked routes between two points.
type OptimizeRequest struct {
	// ClientID scopes supersession: a newer request from the same client
	// discards an older one still in flight.
	ClientID    string
	Origin      geo.Point
	Destination geo.Point
	Config      OptimizationConfig
}

// Result is a complete ranked list produced by one optimization.
type Result struct {
	Generation uint64        `json:"generation"`
	Routes     []ScoredRoute `json:"routes"`
	ComputedAt time.Time     `json:"computedAt"`
}

// Best returns the top ranked route.
func (r *Result) Best() (ScoredRoute, bool) {
	if r == nil || len(r.Routes) == 0 {
		return ScoredRoute{}, false
	}
	return r.Routes[0], true
}

// OptimizerConfig holds the dependencies of an Optimizer.
type OptimizerConfig struct {
	Routes    RouteSource
	Scorer    *Scorer
	Zones     ZoneSource
	Incidents IncidentSource   // optional
	Avoidance AvoidanceBuilder // optional
	Observer  Observer         // optional

	// Grid configures the zone refresh around each request.
	Grid airquality.GridConfig

	Logger zerolog.Logger
	Now    func() time.Time
}

// Optimizer runs route optimizations off the interactive path. Each client
// has a generation counter: starting an optimization cancels the client's
// previous one, and a result whose generation is no longer current is
// discarded instead of replacing the newer selection.
type Optimizer struct {
	routes    RouteSource
	scorer    *Scorer
	zones     ZoneSource
	incidents IncidentSource
	avoidance AvoidanceBuilder
	observer  Observer
	grid      airquality.GridConfig
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	clients map[string]*clientSlot
}

type clientSlot struct {
	generation uint64
	cancel     context.CancelFunc
	latest     *Result
}

// NewOptimizer creates an Optimizer.
func NewOptimizer(cfg OptimizerConfig) *Optimizer {
	if cfg.Scorer == nil {
		cfg.Scorer = NewScorer(ScorerConfig{Logger: cfg.Logger, Now: cfg.Now})
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Optimizer{
		routes:    cfg.Routes,
		scorer:    cfg.Scorer,
		zones:     cfg.Zones,
		incidents: cfg.Incidents,
		avoidance: cfg.Avoidance,
		observer:  cfg.Observer,
		grid:      cfg.Grid,
		logger:    cfg.Logger,
		now:       cfg.Now,
		clients:   make(map[string]*clientSlot),
	}
}

// Optimize fetches candidates, scores them and applies the ranked list as a
// whole. A caller overtaken by a newer request for the same client gets
// ErrSuperseded and its result is dropped.
func (o *Optimizer) Optimize(ctx context.Context, req OptimizeRequest) (*Result, error) {
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	cfg := req.Config.withDefaults()

	ctx, gen := o.begin(ctx, req.ClientID)
	start := o.now()

	ranked, candidates, err := o.run(ctx, req, cfg)
	if err != nil {
		if !o.finish(req.ClientID, gen, nil) {
			return nil, o.superseded(ctx, req.ClientID, gen)
		}
		return nil, err
	}

	result := &Result{Generation: gen, Routes: ranked, ComputedAt: o.now()}
	if !o.finish(req.ClientID, gen, result) {
		return nil, o.superseded(ctx, req.ClientID, gen)
	}

	elapsed := o.now().Sub(start)
	if o.observer != nil {
		o.observer.ObserveOptimize(ctx, elapsed, candidates)
	}

	ev := o.logger.Info().
		Str("client_id", req.ClientID).
		Uint64("generation", gen).
		Int("candidates", candidates).
		Dur("duration", elapsed)
	if best, ok := result.Best(); ok {
		ev = ev.Str("winner", best.Route.ID).Float64("combined", best.CombinedScore)
	}
	ev.Msg("routes optimized")

	return result, nil
}

// Latest returns the last applied result for a client, or nil.
func (o *Optimizer) Latest(clientID string) *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	if slot, ok := o.clients[clientID]; ok {
		return slot.latest
	}
	return nil
}

// Forget drops a client's state, cancelling any optimization in flight.
func (o *Optimizer) Forget(clientID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if slot, ok := o.clients[clientID]; ok {
		if slot.cancel != nil {
			slot.cancel()
		}
		delete(o.clients, clientID)
	}
}

func (o *Optimizer) begin(ctx context.Context, clientID string) (context.Context, uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	slot, ok := o.clients[clientID]
	if !ok {
		slot = &clientSlot{}
		o.clients[clientID] = slot
	}
	if slot.cancel != nil {
		slot.cancel()
	}
	slot.generation++

	ctx, cancel := context.WithCancel(ctx)
	slot.cancel = cancel
	return ctx, slot.generation
}

// finish releases the generation's context and, when gen is still current,
// applies result (if any). It reports whether gen was current.
func (o *Optimizer) finish(clientID string, gen uint64, result *Result) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	slot, ok := o.clients[clientID]
	if !ok || slot.generation != gen {
		return false
	}
	if slot.cancel != nil {
		slot.cancel()
		slot.cancel = nil
	}
	if result != nil {
		slot.latest = result
	}
	return true
}

func (o *Optimizer) superseded(ctx context.Context, clientID string, gen uint64) error {
	if o.observer != nil {
		o.observer.ObserveSuperseded(ctx)
	}
	o.logger.Debug().
		Str("client_id", clientID).
		Uint64("generation", gen).
		Msg("discarding superseded optimization")
	return ErrSuperseded
}

func (o *Optimizer) run(ctx context.Context, req OptimizeRequest, cfg OptimizationConfig) ([]ScoredRoute, int, error) {
	resp, err := o.routes.GetDirections(ctx, routing.DirectionsRequest{
		Origin:          req.Origin,
		Destination:     req.Destination,
		Profile:         cfg.Mode.Profile(),
		MaxAlternatives: cfg.MaxAlternatives - 1,
	})
	if err != nil {
		if errors.Is(err, routing.ErrNoRouteFound) {
			return []ScoredRoute{}, 0, nil
		}
		return nil, 0, fmt.Errorf("fetching candidate routes: %w", err)
	}

	var snapshot *airquality.Snapshot
	if o.zones != nil {
		snapshot = o.zones.Refresh(ctx, geo.Midpoint(req.Origin, req.Destination), o.grid)
	}

	var set *avoidance.Set
	if o.avoidance != nil {
		var active []incident.Incident
		if o.incidents != nil {
			active, err = o.incidents.Active(ctx)
			if err != nil {
				o.logger.Warn().Err(err).Msg("incidents unavailable, scoring without them")
			}
		}
		set = o.avoidance.Recompute(active, snapshot.Zones(), avoidance.Config{
			ConsiderTrafficPatterns: cfg.ConsiderTrafficPatterns,
		})
	}

	ranked, err := o.scorer.Score(ctx, resp.Routes, req.Origin, req.Destination, snapshot, set, cfg)
	if err != nil {
		return nil, 0, err
	}
	return ranked, len(resp.Routes), nil
}
