package worker

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
)

// GroundRefresher reloads the ground station cache.
type GroundRefresher interface {
	RefreshSnapshot(ctx context.Context) error
}

// IncidentStore lists and expires incidents.
type IncidentStore interface {
	Active(ctx context.Context) ([]incident.Incident, error)
	Purge(ctx context.Context) (int, error)
}

// SessionExpirer removes idle navigation sessions.
type SessionExpirer interface {
	Expire() []string
}

// RefreshJob runs one refresh pass over the configured targets.
type RefreshJob struct {
	config RefreshConfig
	logger zerolog.Logger
	now    func() time.Time

	ground    GroundRefresher
	newGrid   func() *airquality.Grid
	incidents IncidentStore
	sessions  SessionExpirer
	avoidance avoidance.Config

	mu      sync.Mutex
	targets map[string]*targetState

	metrics *RefreshMetrics
}

type targetState struct {
	grid       *airquality.Grid
	calculator *avoidance.Calculator
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	TotalRuns         int64
	SuccessfulTargets int64
	FailedTargets     int64
	GroundRefreshes   int64
	GridRefreshes     int64
	AvoidanceRebuilds int64
	IncidentsPurged   int64
	SessionsExpired   int64

	LastRunAt       time.Time
	LastRunDuration time.Duration
	TotalDuration   time.Duration
}

// RefreshJobConfig holds the dependencies of a RefreshJob. Every dependency
// is optional; the matching step is skipped when it is nil.
type RefreshJobConfig struct {
	Config RefreshConfig
	Logger zerolog.Logger

	Ground GroundRefresher

	// NewGrid creates the grid of one target.
	NewGrid func() *airquality.Grid

	Incidents IncidentStore
	Sessions  SessionExpirer

	// Avoidance configures the per-target zone recomputation.
	Avoidance avoidance.Config

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// NewRefreshJob creates a refresh job.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	config := cfg.Config
	if len(config.Targets) == 0 && config.RefreshGrids {
		config.Targets = DefaultRefreshTargets()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &RefreshJob{
		config:    config.withDefaults(),
		logger:    cfg.Logger,
		now:       cfg.Now,
		ground:    cfg.Ground,
		newGrid:   cfg.NewGrid,
		incidents: cfg.Incidents,
		sessions:  cfg.Sessions,
		avoidance: cfg.Avoidance,
		targets:   make(map[string]*targetState),
		metrics:   &RefreshMetrics{},
	}
}

// Config returns the job configuration.
func (j *RefreshJob) Config() RefreshConfig {
	return j.config
}

// RefreshResult contains the result of a refresh pass.
type RefreshResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	GroundRefreshed bool
	Targets         []TargetResult
	Successful      int
	Failed          int

	IncidentsPurged int
	SessionsExpired int

	Errors []RefreshError
}

// TargetResult is the outcome for one target.
type TargetResult struct {
	Name           string
	GridVersion    uint64
	Zones          int
	Rebuilt        bool
	AvoidanceZones int
	Recomputed     bool
	Degraded       bool
}

// RefreshError represents an error during refresh.
type RefreshError struct {
	Step   string
	Target string
	Error  string
}

// Run executes every enabled step for all configured targets.
func (j *RefreshJob) Run(ctx context.Context) *RefreshResult {
	return j.run(ctx, j.config.Ordered())
}

// RunTargets executes the job for the named targets only. An empty list
// selects every target.
func (j *RefreshJob) RunTargets(ctx context.Context, names []string) *RefreshResult {
	return j.run(ctx, j.config.Select(names))
}

func (j *RefreshJob) run(ctx context.Context, targets []Target) *RefreshResult {
	startTime := j.now()
	result := &RefreshResult{StartTime: startTime}

	j.logger.Info().
		Int("targets", len(targets)).
		Int("concurrency", j.config.Concurrency).
		Msg("starting refresh job")

	if j.config.RefreshGround && j.ground != nil {
		if err := j.refreshGround(ctx); err != nil {
			result.Errors = append(result.Errors, RefreshError{Step: "ground", Error: err.Error()})
		} else {
			result.GroundRefreshed = true
		}
	}

	// Active incidents are read once and shared by every target.
	var active []incident.Incident
	if j.config.PurgeIncidents && j.incidents != nil {
		n, err := j.incidents.Purge(ctx)
		if err != nil {
			result.Errors = append(result.Errors, RefreshError{Step: "incidents", Error: err.Error()})
		}
		result.IncidentsPurged = n
	}
	if j.config.RecomputeAvoidance && j.incidents != nil {
		var err error
		if active, err = j.incidents.Active(ctx); err != nil {
			result.Errors = append(result.Errors, RefreshError{Step: "incidents", Error: err.Error()})
		}
	}

	if j.config.RefreshGrids && j.newGrid != nil && len(targets) > 0 {
		j.refreshTargets(ctx, targets, active, result)
	}

	if j.config.ExpireSessions && j.sessions != nil {
		result.SessionsExpired = len(j.sessions.Expire())
	}

	result.EndTime = j.now()
	result.Duration = result.EndTime.Sub(startTime)
	j.recordRun(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("incidents_purged", result.IncidentsPurged).
		Int("sessions_expired", result.SessionsExpired).
		Int("errors", len(result.Errors)).
		Msg("refresh job completed")

	return result
}

func (j *RefreshJob) refreshGround(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	if err := j.ground.RefreshSnapshot(ctx); err != nil {
		j.logger.Warn().Err(err).Msg("ground station refresh failed")
		return err
	}
	return nil
}

type targetOutcome struct {
	result TargetResult
	err    error
}

func (j *RefreshJob) refreshTargets(ctx context.Context, targets []Target, active []incident.Incident, result *RefreshResult) {
	targetsChan := make(chan Target, len(targets))
	resultsChan := make(chan targetOutcome, len(targets))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			j.refreshWorker(ctx, workerID, active, targetsChan, resultsChan)
		}(i)
	}

	for _, t := range targets {
		targetsChan <- t
	}
	close(targetsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for out := range resultsChan {
		result.Targets = append(result.Targets, out.result)
		if out.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, RefreshError{
				Step:   "grid",
				Target: out.result.Name,
				Error:  out.err.Error(),
			})
			continue
		}
		result.Successful++
	}
}

func (j *RefreshJob) refreshWorker(ctx context.Context, workerID int, active []incident.Incident, targets <-chan Target, results chan<- targetOutcome) {
	for t := range targets {
		select {
		case <-ctx.Done():
			results <- targetOutcome{result: TargetResult{Name: t.Name}, err: ctx.Err()}
			continue
		default:
		}

		out := j.refreshTarget(ctx, t, active, j.config.RecomputeAvoidance)
		if out.err != nil {
			j.logger.Warn().
				Int("worker_id", workerID).
				Str("target", t.Name).
				Err(out.err).
				Msg("target refresh failed")
		}
		results <- out
	}
}

var errDegradedGrid = errors.New("no provider produced a reading")

func (j *RefreshJob) refreshTarget(ctx context.Context, t Target, active []incident.Incident, recompute bool) targetOutcome {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	state := j.target(t.Name)
	prev := state.grid.Snapshot()
	snap := state.grid.Refresh(ctx, t.Center, j.config.Grid)

	res := TargetResult{Name: t.Name}
	if snap == nil {
		return targetOutcome{result: res, err: errDegradedGrid}
	}
	res.GridVersion = snap.Version
	res.Zones = snap.Len()
	res.Rebuilt = prev == nil || prev.Version != snap.Version
	res.Degraded = snap.Default

	if recompute {
		set := state.calculator.Recompute(active, snap.Zones(), j.avoidance)
		res.AvoidanceZones = set.Len()
		res.Recomputed = true
	}

	if snap.Default {
		return targetOutcome{result: res, err: fmt.Errorf("%s: %w", t.Name, errDegradedGrid)}
	}
	return targetOutcome{result: res}
}

func (j *RefreshJob) target(name string) *targetState {
	j.mu.Lock()
	defer j.mu.Unlock()

	s, ok := j.targets[name]
	if !ok {
		s = &targetState{
			grid: j.newGrid(),
			calculator: avoidance.NewCalculator(avoidance.CalculatorConfig{
				Logger: j.logger.With().Str("target", name).Logger(),
				Now:    j.now,
			}),
		}
		j.targets[name] = s
	}
	return s
}

// Snapshot returns the current grid snapshot of target, or nil.
func (j *RefreshJob) Snapshot(target string) *airquality.Snapshot {
	j.mu.Lock()
	s, ok := j.targets[target]
	j.mu.Unlock()
	if !ok {
		return nil
	}
	return s.grid.Snapshot()
}

// AvoidanceZones returns the current avoidance set of target, or nil.
func (j *RefreshJob) AvoidanceZones(target string) *avoidance.Set {
	j.mu.Lock()
	s, ok := j.targets[target]
	j.mu.Unlock()
	if !ok {
		return nil
	}
	return s.calculator.Current()
}

func (j *RefreshJob) recordRun(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRuns++
	j.metrics.SuccessfulTargets += int64(result.Successful)
	j.metrics.FailedTargets += int64(result.Failed)
	if result.GroundRefreshed {
		j.metrics.GroundRefreshes++
	}
	for _, t := range result.Targets {
		if t.Rebuilt {
			j.metrics.GridRefreshes++
		}
		if t.Recomputed {
			j.metrics.AvoidanceRebuilds++
		}
	}
	j.metrics.IncidentsPurged += int64(result.IncidentsPurged)
	j.metrics.SessionsExpired += int64(result.SessionsExpired)
	j.metrics.LastRunAt = result.EndTime
	j.metrics.LastRunDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRuns:         j.metrics.TotalRuns,
		SuccessfulTargets: j.metrics.SuccessfulTargets,
		FailedTargets:     j.metrics.FailedTargets,
		GroundRefreshes:   j.metrics.GroundRefreshes,
		GridRefreshes:     j.metrics.GridRefreshes,
		AvoidanceRebuilds: j.metrics.AvoidanceRebuilds,
		IncidentsPurged:   j.metrics.IncidentsPurged,
		SessionsExpired:   j.metrics.SessionsExpired,
		LastRunAt:         j.metrics.LastRunAt,
		LastRunDuration:   j.metrics.LastRunDuration,
		TotalDuration:     j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns the metrics as a map for JSON health output.
func (j *RefreshJob) MetricsSnapshot() map[string]any {
	m := j.GetMetrics()
	out := map[string]any{
		"total_runs":         m.TotalRuns,
		"successful_targets": m.SuccessfulTargets,
		"failed_targets":     m.FailedTargets,
		"ground_refreshes":   m.GroundRefreshes,
		"grid_refreshes":     m.GridRefreshes,
		"avoidance_rebuilds": m.AvoidanceRebuilds,
		"incidents_purged":   m.IncidentsPurged,
		"sessions_expired":   m.SessionsExpired,
		"last_run_at":        m.LastRunAt,
		"last_run_duration":  m.LastRunDuration.String(),
	}
	if m.TotalRuns > 0 {
		out["avg_duration"] = (m.TotalDuration / time.Duration(m.TotalRuns)).String()
	}
	return out
}

// RunEvery runs the job immediately and then every configured interval until
// ctx is done.
func (j *RefreshJob) RunEvery(ctx context.Context) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
