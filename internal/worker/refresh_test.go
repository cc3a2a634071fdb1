package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/incident"
	"github.com/breatheroute/airnav/internal/worker"
	"github.com/breatheroute/airnav/pkg/geo"
)

type fixedSatellite struct{ aqi float64 }

func (s fixedSatellite) Estimate(p geo.Point, _ bool) airquality.Reading {
	return airquality.Reading{Point: p, AQI: s.aqi, Source: "test"}
}

type countingGround struct {
	calls atomic.Int32
	err   error
}

func (g *countingGround) RefreshSnapshot(context.Context) error {
	g.calls.Add(1)
	return g.err
}

type fakeSessions struct{ expired []string }

func (f *fakeSessions) Expire() []string { return f.expired }

var (
	amsterdam = geo.Point{Lat: 52.3676, Lon: 4.9041}
	utrecht   = geo.Point{Lat: 52.0894, Lon: 5.1102}
)

func testTargets() []worker.Target {
	return []worker.Target{
		{Name: "Utrecht", Priority: 2, Center: utrecht},
		{Name: "Amsterdam", Priority: 1, Center: amsterdam},
	}
}

func gridFactory(sat airquality.SatelliteSource) func() *airquality.Grid {
	return func() *airquality.Grid {
		return airquality.NewGrid(airquality.Config{Satellite: sat, Logger: zerolog.Nop()})
	}
}

func testConfig() worker.RefreshConfig {
	return worker.RefreshConfig{
		Targets:            testTargets(),
		Concurrency:        2,
		Timeout:            time.Second,
		Grid:               airquality.GridConfig{ZoneRadius: 500, Rings: 1},
		RefreshGround:      true,
		RefreshGrids:       true,
		RecomputeAvoidance: true,
		PurgeIncidents:     true,
		ExpireSessions:     true,
	}
}

func TestDefaultRefreshConfig(t *testing.T) {
	cfg := worker.DefaultRefreshConfig()

	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Interval)
	assert.True(t, cfg.RefreshGround)
	assert.True(t, cfg.RefreshGrids)
	assert.True(t, cfg.RecomputeAvoidance)
	assert.True(t, cfg.PurgeIncidents)
	assert.False(t, cfg.ExpireSessions)
	assert.NotEmpty(t, cfg.Targets)
}

func TestDefaultRefreshTargets(t *testing.T) {
	targets := worker.DefaultRefreshTargets()
	assert.GreaterOrEqual(t, len(targets), 5)

	var found *worker.Target
	for i := range targets {
		if targets[i].Name == "Amsterdam" {
			found = &targets[i]
			break
		}
	}
	require.NotNil(t, found, "Amsterdam should be in targets")
	assert.Equal(t, 1, found.Priority)
	assert.NoError(t, found.Center.Validate())
}

func TestRefreshConfig_Ordered(t *testing.T) {
	cfg := worker.RefreshConfig{Targets: []worker.Target{
		{Name: "c", Priority: 3},
		{Name: "a1", Priority: 1},
		{Name: "b", Priority: 2},
		{Name: "a2", Priority: 1},
	}}

	var names []string
	for _, tgt := range cfg.Ordered() {
		names = append(names, tgt.Name)
	}
	assert.Equal(t, []string{"a1", "a2", "b", "c"}, names)
	assert.Equal(t, "c", cfg.Targets[0].Name, "configured order is untouched")
}

func TestRefreshConfig_Select(t *testing.T) {
	cfg := worker.RefreshConfig{Targets: testTargets()}

	assert.Len(t, cfg.Select(nil), 2)

	selected := cfg.Select([]string{"Utrecht", "Nowhere"})
	require.Len(t, selected, 1)
	assert.Equal(t, "Utrecht", selected[0].Name)
}

func TestRefreshJob_Run(t *testing.T) {
	now := time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	incidents := incident.NewService(incident.ServiceConfig{
		Repository: incident.NewInMemoryRepository(),
		Logger:     zerolog.Nop(),
		Now:        clock,
	})
	ctx := context.Background()
	_, err := incidents.Report(ctx, incident.Incident{Kind: incident.KindAccident, Point: amsterdam})
	require.NoError(t, err)
	past := now.Add(-time.Minute)
	_, err = incidents.Report(ctx, incident.Incident{Kind: incident.KindHazard, Point: utrecht, ExpiresAt: &past})
	require.NoError(t, err)

	ground := &countingGround{}
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:    testConfig(),
		Logger:    zerolog.Nop(),
		Ground:    ground,
		NewGrid:   gridFactory(fixedSatellite{aqi: 40}),
		Incidents: incidents,
		Sessions:  &fakeSessions{expired: []string{"sess-1"}},
		Now:       clock,
	})

	result := job.Run(ctx)

	assert.True(t, result.GroundRefreshed)
	assert.Equal(t, int32(1), ground.calls.Load())
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, result.IncidentsPurged)
	assert.Equal(t, 1, result.SessionsExpired)
	assert.Empty(t, result.Errors)

	// Rings 1 gives a 3x3 lattice.
	require.Len(t, result.Targets, 2)
	for _, tr := range result.Targets {
		assert.Equal(t, 9, tr.Zones, tr.Name)
		assert.True(t, tr.Rebuilt, tr.Name)
		assert.True(t, tr.Recomputed, tr.Name)
		assert.False(t, tr.Degraded, tr.Name)
	}

	snap := job.Snapshot("Amsterdam")
	require.NotNil(t, snap)
	assert.Equal(t, amsterdam, snap.Anchor)

	// Good air yields no air zones; only the active accident remains.
	assert.Equal(t, 1, job.AvoidanceZones("Amsterdam").Len())
	assert.Equal(t, 1, job.AvoidanceZones("Utrecht").Len())
	assert.Nil(t, job.Snapshot("Nowhere"))
	assert.Nil(t, job.AvoidanceZones("Nowhere"))

	m := job.GetMetrics()
	assert.Equal(t, int64(1), m.TotalRuns)
	assert.Equal(t, int64(2), m.SuccessfulTargets)
	assert.Equal(t, int64(1), m.GroundRefreshes)
	assert.Equal(t, int64(2), m.GridRefreshes)
	assert.Equal(t, int64(2), m.AvoidanceRebuilds)
	assert.Equal(t, int64(1), m.IncidentsPurged)
	assert.Equal(t, int64(1), m.SessionsExpired)
}

func TestRefreshJob_SecondRunKeepsFreshGrids(t *testing.T) {
	now := time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC)
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:  testConfig(),
		Logger:  zerolog.Nop(),
		NewGrid: gridFactory(fixedSatellite{aqi: 40}),
		Now:     func() time.Time { return now },
	})

	job.Run(context.Background())
	first := job.Snapshot("Amsterdam").Version

	result := job.Run(context.Background())
	assert.Equal(t, first, job.Snapshot("Amsterdam").Version)
	for _, tr := range result.Targets {
		assert.False(t, tr.Rebuilt, tr.Name)
	}
	assert.Equal(t, int64(2), job.GetMetrics().GridRefreshes)
}

func TestRefreshJob_DegradedGridFails(t *testing.T) {
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:  testConfig(),
		Logger:  zerolog.Nop(),
		NewGrid: gridFactory(nil),
	})

	result := job.Run(context.Background())

	assert.Equal(t, 0, result.Successful)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Errors, 2)
	for _, e := range result.Errors {
		assert.Equal(t, "grid", e.Step)
	}
	for _, tr := range result.Targets {
		assert.True(t, tr.Degraded, tr.Name)
	}
}

func TestRefreshJob_GroundFailureIsRecorded(t *testing.T) {
	ground := &countingGround{err: errors.New("luchtmeetnet unavailable")}
	cfg := testConfig()
	cfg.RefreshGrids = false

	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: cfg,
		Logger: zerolog.Nop(),
		Ground: ground,
	})

	result := job.Run(context.Background())

	assert.False(t, result.GroundRefreshed)
	assert.Empty(t, result.Targets)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "ground", result.Errors[0].Step)
	assert.Equal(t, int64(0), job.GetMetrics().GroundRefreshes)
}

func TestRefreshJob_NoDependencies(t *testing.T) {
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: testConfig(),
		Logger: zerolog.Nop(),
	})

	result := job.Run(context.Background())

	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Targets)
	assert.Equal(t, int64(1), job.GetMetrics().TotalRuns)
}

func TestRefreshJob_CancelledContext(t *testing.T) {
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:  testConfig(),
		Logger:  zerolog.Nop(),
		NewGrid: gridFactory(fixedSatellite{aqi: 40}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := job.Run(ctx)
	assert.Equal(t, 2, result.Failed)
}

func TestRefreshJob_RunTargets(t *testing.T) {
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:  testConfig(),
		Logger:  zerolog.Nop(),
		NewGrid: gridFactory(fixedSatellite{aqi: 40}),
	})

	result := job.RunTargets(context.Background(), []string{"Utrecht"})

	require.Len(t, result.Targets, 1)
	assert.Equal(t, "Utrecht", result.Targets[0].Name)
	assert.NotNil(t, job.Snapshot("Utrecht"))
	assert.Nil(t, job.Snapshot("Amsterdam"))
}

func TestRefreshJob_MetricsSnapshot(t *testing.T) {
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:  testConfig(),
		Logger:  zerolog.Nop(),
		NewGrid: gridFactory(fixedSatellite{aqi: 40}),
	})

	snap := job.MetricsSnapshot()
	assert.Equal(t, int64(0), snap["total_runs"])
	assert.NotContains(t, snap, "avg_duration")

	job.Run(context.Background())
	snap = job.MetricsSnapshot()
	assert.Equal(t, int64(1), snap["total_runs"])
	assert.Equal(t, int64(2), snap["grid_refreshes"])
	assert.Contains(t, snap, "avg_duration")
}

func TestRefreshJob_RunEvery(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.RefreshGrids = false
	ground := &countingGround{}

	job := worker.NewRefreshJob(worker.RefreshJobConfig{Config: cfg, Logger: zerolog.Nop(), Ground: ground})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.RunEvery(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return ground.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
