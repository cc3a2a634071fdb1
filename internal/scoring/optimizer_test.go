package scoring_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/avoidance"
	"github.com/breatheroute/airnav/internal/incident"
	"github.com/breatheroute/airnav/internal/routing"
	"github.com/breatheroute/airnav/internal/scoring"
	"github.com/breatheroute/airnav/pkg/geo"
)

// gatedRoutes blocks the first call until release is closed, ignoring
// cancellation, so a stale result can complete after a newer one.
type gatedRoutes struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	err     error
}

func newGatedRoutes() *gatedRoutes {
	return &gatedRoutes{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedRoutes) GetDirections(_ context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
		<-g.release
	}
	if g.err != nil {
		return nil, g.err
	}
	return &routing.DirectionsResponse{Routes: []routing.Route{
		straight("a", req.Origin, 1000, 750),
		straight("b", req.Origin, 1200, 900),
	}}, nil
}

// cancellableRoutes blocks the first call until its context is done.
type cancellableRoutes struct {
	calls   atomic.Int32
	started chan struct{}
}

func (c *cancellableRoutes) GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
	if c.calls.Add(1) == 1 {
		close(c.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &routing.DirectionsResponse{Routes: []routing.Route{straight("a", req.Origin, 1000, 750)}}, nil
}

type fixedZones struct{ snap *airquality.Snapshot }

func (f fixedZones) Refresh(context.Context, geo.Point, airquality.GridConfig) *airquality.Snapshot {
	return f.snap
}

type staticIncidents struct {
	list []incident.Incident
	err  error
}

func (s staticIncidents) Active(context.Context) ([]incident.Incident, error) { return s.list, s.err }

type countingObserver struct {
	mu         sync.Mutex
	optimized  int
	superseded int
}

func (c *countingObserver) ObserveOptimize(context.Context, time.Duration, int) {
	c.mu.Lock()
	c.optimized++
	c.mu.Unlock()
}

func (c *countingObserver) ObserveSuperseded(context.Context) {
	c.mu.Lock()
	c.superseded++
	c.mu.Unlock()
}

func newOptimizer(routes scoring.RouteSource, obs scoring.Observer) *scoring.Optimizer {
	return scoring.NewOptimizer(scoring.OptimizerConfig{
		Routes:    routes,
		Scorer:    newScorer(100),
		Zones:     fixedZones{snapshot(airZone("z", start, 60))},
		Incidents: staticIncidents{},
		Avoidance: avoidance.NewCalculator(avoidance.CalculatorConfig{Logger: zerolog.Nop()}),
		Observer:  obs,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return wedNoon },
	})
}

func optimizeRequest(client string) scoring.OptimizeRequest {
	return scoring.OptimizeRequest{
		ClientID:    client,
		Origin:      start,
		Destination: geo.Offset(start, 90, 1000),
		Config:      scoring.Balanced,
	}
}

func TestOptimizer_Optimize(t *testing.T) {
	routes := newGatedRoutes()
	close(routes.release)
	obs := &countingObserver{}
	opt := newOptimizer(routes, obs)

	result, err := opt.Optimize(context.Background(), optimizeRequest("c1"))
	require.NoError(t, err)
	require.Len(t, result.Routes, 2)
	assert.Equal(t, uint64(1), result.Generation)

	best, ok := result.Best()
	require.True(t, ok)
	assert.Equal(t, "a", best.Route.ID)
	assert.Same(t, result, opt.Latest("c1"))
	assert.Equal(t, 1, obs.optimized)
}

func TestOptimizer_StaleResultIsDiscarded(t *testing.T) {
	routes := newGatedRoutes()
	obs := &countingObserver{}
	opt := newOptimizer(routes, obs)

	firstErr := make(chan error, 1)
	go func() {
		_, err := opt.Optimize(context.Background(), optimizeRequest("c1"))
		firstErr <- err
	}()
	<-routes.started

	second, err := opt.Optimize(context.Background(), optimizeRequest("c1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Generation)

	close(routes.release)
	assert.ErrorIs(t, <-firstErr, scoring.ErrSuperseded)

	assert.Same(t, second, opt.Latest("c1"), "the stale result never replaces the newer one")
	assert.Equal(t, 1, obs.superseded)
}

func TestOptimizer_NewRequestCancelsInFlight(t *testing.T) {
	routes := &cancellableRoutes{started: make(chan struct{})}
	opt := newOptimizer(routes, nil)

	firstErr := make(chan error, 1)
	go func() {
		_, err := opt.Optimize(context.Background(), optimizeRequest("c1"))
		firstErr <- err
	}()
	<-routes.started

	_, err := opt.Optimize(context.Background(), optimizeRequest("c1"))
	require.NoError(t, err)
	assert.ErrorIs(t, <-firstErr, scoring.ErrSuperseded)
}

func TestOptimizer_ClientsAreIndependent(t *testing.T) {
	routes := newGatedRoutes()
	close(routes.release)
	opt := newOptimizer(routes, nil)

	r1, err := opt.Optimize(context.Background(), optimizeRequest("c1"))
	require.NoError(t, err)
	r2, err := opt.Optimize(context.Background(), optimizeRequest("c2"))
	require.NoError(t, err)

	assert.Same(t, r1, opt.Latest("c1"))
	assert.Same(t, r2, opt.Latest("c2"))

	opt.Forget("c1")
	assert.Nil(t, opt.Latest("c1"))
}

func TestOptimizer_Errors(t *testing.T) {
	t.Run("invalid weights", func(t *testing.T) {
		opt := newOptimizer(newGatedRoutes(), nil)
		req := optimizeRequest("c1")
		req.Config = scoring.OptimizationConfig{}
		_, err := opt.Optimize(context.Background(), req)
		assert.ErrorIs(t, err, scoring.ErrInvalidWeights)
	})

	t.Run("no route is an empty result", func(t *testing.T) {
		routes := newGatedRoutes()
		close(routes.release)
		routes.err = routing.ErrNoRouteFound
		result, err := newOptimizer(routes, nil).Optimize(context.Background(), optimizeRequest("c1"))
		require.NoError(t, err)
		assert.Empty(t, result.Routes)
		_, ok := result.Best()
		assert.False(t, ok)
	})

	t.Run("provider failure", func(t *testing.T) {
		routes := newGatedRoutes()
		close(routes.release)
		routes.err = routing.ErrProviderUnavailable
		_, err := newOptimizer(routes, nil).Optimize(context.Background(), optimizeRequest("c1"))
		assert.ErrorIs(t, err, routing.ErrProviderUnavailable)
	})
}

func TestOptimizer_IncidentsShapeRanking(t *testing.T) {
	routes := newGatedRoutes()
	close(routes.release)

	crash := incident.Incident{ID: "i1", Kind: incident.KindAccident, Point: geo.Offset(start, 90, 500)}
	opt := scoring.NewOptimizer(scoring.OptimizerConfig{
		Routes:    routes,
		Scorer:    newScorer(100),
		Incidents: staticIncidents{list: []incident.Incident{crash}},
		Avoidance: avoidance.NewCalculator(avoidance.CalculatorConfig{Logger: zerolog.Nop()}),
		Logger:    zerolog.Nop(),
	})

	result, err := opt.Optimize(context.Background(), optimizeRequest("c1"))
	require.NoError(t, err)
	for _, r := range result.Routes {
		assert.Less(t, r.SafetyScore, 100.0)
		assert.Equal(t, 1, r.Incidents.Total)
	}
}

func TestOptimizer_IncidentSourceFailureDegrades(t *testing.T) {
	routes := newGatedRoutes()
	close(routes.release)

	opt := scoring.NewOptimizer(scoring.OptimizerConfig{
		Routes:    routes,
		Incidents: staticIncidents{err: errors.New("db down")},
		Avoidance: avoidance.NewCalculator(avoidance.CalculatorConfig{Logger: zerolog.Nop()}),
		Logger:    zerolog.Nop(),
	})

	result, err := opt.Optimize(context.Background(), optimizeRequest("c1"))
	require.NoError(t, err)
	assert.Len(t, result.Routes, 2)
}
