package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/avoidance"
	"github.com/breatheroute/airnav/internal/api"
	"github.com/breatheroute/airnav/internal/api/models"
	"github.com/breatheroute/airnav/internal/auth"
	"github.com/breatheroute/airnav/internal/companion"
	"github.com/breatheroute/airnav/internal/incident"
	"github.com/breatheroute/airnav/internal/navigation"
	"github.com/breatheroute/airnav/internal/routing"
	"github.com/breatheroute/airnav/internal/scoring"
	"github.com/breatheroute/airnav/internal/weather"
	"github.com/breatheroute/airnav/pkg/geo"
)

var (
	origin      = geo.Point{Lat: 52.3676, Lon: 4.9041}
	destination = geo.Offset(origin, 90, 1000)
)

type fakeRoutes struct {
	mu  sync.Mutex
	err error
}

func (f *fakeRoutes) GetDirections(_ context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	north := geo.Offset(geo.Midpoint(req.Origin, req.Destination), 0, 300)
	return &routing.DirectionsResponse{
		Provider: "fake",
		Routes: []routing.Route{
			{
				ID:              "direct",
				Coordinates:     []geo.Point{req.Origin, geo.Midpoint(req.Origin, req.Destination), req.Destination},
				DistanceMeters:  geo.Distance(req.Origin, req.Destination),
				DurationSeconds: 720,
			},
			{
				ID:              "detour",
				Coordinates:     []geo.Point{req.Origin, north, req.Destination},
				DistanceMeters:  geo.Length([]geo.Point{req.Origin, north, req.Destination}),
				DurationSeconds: 900,
			},
		},
	}, nil
}

func (f *fakeRoutes) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fixedSatellite struct{ aqi float64 }

func (s fixedSatellite) Estimate(p geo.Point, _ bool) airquality.Reading {
	return airquality.Reading{Point: p, AQI: s.aqi, Source: "test"}
}

type testServer struct {
	handler  http.Handler
	routes   *fakeRoutes
	sessions *navigation.Manager
	tokens   *auth.TokenService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	clock := navigation.NewVirtualClock(time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC))

	routes := &fakeRoutes{}
	grid := airquality.NewGrid(airquality.Config{Satellite: fixedSatellite{aqi: 40}, Logger: logger})
	gridCfg := airquality.GridConfig{ZoneRadius: 500, Rings: 2}
	incidents := incident.NewService(incident.ServiceConfig{
		Repository: incident.NewInMemoryRepository(),
		Logger:     logger,
	})
	optimizer := scoring.NewOptimizer(scoring.OptimizerConfig{
		Routes:    routes,
		Zones:     grid,
		Incidents: incidents,
		Avoidance: avoidance.NewCalculator(avoidance.CalculatorConfig{Logger: logger}),
		Grid:      gridCfg,
		Logger:    logger,
	})
	sessions := navigation.NewManager(navigation.ManagerConfig{
		Engine: navigation.Config{Zones: grid, Clock: clock, Scheduler: clock},
		Logger: logger,
	})
	t.Cleanup(sessions.StopAll)

	tokens := auth.NewTokenService(auth.TokenConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "airnav",
		Audience:   "airnav-navigation",
	})

	return &testServer{
		handler: api.NewRouter(api.RouterConfig{
			Version:    "test",
			BuildTime:  "2024-01-01T00:00:00Z",
			Logger:     logger,
			Optimizer:  optimizer,
			Sessions:   sessions,
			Tokens:     tokens,
			Grid:       grid,
			GridConfig: gridCfg,
			Incidents:  incidents,
			Weather:    fakeWeather{},
		}),
		routes:   routes,
		sessions: sessions,
		tokens:   tokens,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func optimizeBody(clientID string) map[string]any {
	return map[string]any{
		"clientId":    clientID,
		"origin":      models.PointOf(origin),
		"destination": models.PointOf(destination),
		"preset":      "healthiest",
	}
}

func (s *testServer) startSession(t *testing.T, clientID string) models.SessionResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/routes:optimize", optimizeBody(clientID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	opt := decode[models.OptimizeResponse](t, rec)
	require.Len(t, opt.Routes, 2)

	rec = s.do(t, http.MethodPost, "/v1/navigation/sessions", map[string]any{
		"clientId": clientID,
		"routeId":  "direct",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.SessionResponse](t, rec)
}

func TestRouter_HealthCheck(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/ops/health", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	health := decode[models.Health](t, rec)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Nil(t, health.Grid)
	assert.Zero(t, health.Sessions)
}

func TestRouter_ReadinessCheck(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/v1/ops/ready", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_OptimizeRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/routes:optimize", optimizeBody("device-1"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[models.OptimizeResponse](t, rec)
	require.Len(t, resp.Routes, 2)
	assert.Equal(t, uint64(1), resp.Generation)
	for i, r := range resp.Routes {
		assert.Equal(t, i+1, r.Rank)
		assert.NotEmpty(t, r.Polyline)
		assert.InDelta(t, 40, r.AverageAQI, 1e-6)
	}
	assert.GreaterOrEqual(t, resp.Routes[0].CombinedScore, resp.Routes[1].CombinedScore)

	rec = s.do(t, http.MethodGet, "/v1/ops/health", nil, "")
	health := decode[models.Health](t, rec)
	require.NotNil(t, health.Grid)
	assert.Equal(t, 25, health.Grid.Zones)
}

func TestRouter_OptimizeRoutes_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"missing client", map[string]any{"origin": models.PointOf(origin), "destination": models.PointOf(destination)}, "clientId"},
		{"missing origin", map[string]any{"clientId": "c", "destination": models.PointOf(destination)}, "origin"},
		{"latitude out of range", map[string]any{"clientId": "c", "origin": map[string]float64{"lat": 95, "lon": 4.9}, "destination": models.PointOf(destination)}, "origin.lat"},
		{"unknown preset", map[string]any{"clientId": "c", "origin": models.PointOf(origin), "destination": models.PointOf(destination), "preset": "scenic"}, "preset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/v1/routes:optimize", tt.body, "")
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			problem := decode[models.Problem](t, rec)
			require.NotEmpty(t, problem.Errors)
			assert.Equal(t, tt.field, problem.Errors[0].Field)
		})
	}

	rec := s.do(t, http.MethodPost, "/v1/routes:optimize", map[string]any{"clientId": "c", "unexpected": true}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_OptimizeRoutes_ProviderErrors(t *testing.T) {
	s := newTestServer(t)

	s.routes.fail(routing.ErrNoRouteFound)
	rec := s.do(t, http.MethodPost, "/v1/routes:optimize", optimizeBody("device-1"), "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "no-route")

	s.routes.fail(routing.ErrProviderUnavailable)
	rec = s.do(t, http.MethodPost, "/v1/routes:optimize", optimizeBody("device-1"), "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_NavigationSessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	created := s.startSession(t, "device-1")

	assert.NotEmpty(t, created.SessionID)
	assert.NotEmpty(t, created.Token)
	assert.True(t, created.State.Navigating)
	assert.Equal(t, "direct", created.State.RouteID)

	path := "/v1/navigation/sessions/" + created.SessionID

	rec := s.do(t, http.MethodGet, path, nil, created.Token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, created.SessionID, decode[companion.Snapshot](t, rec).SessionID)

	rec = s.do(t, http.MethodPost, path+"/locations", map[string]any{
		"lat":   geo.Offset(origin, 90, 250).Lat,
		"lon":   geo.Offset(origin, 90, 250).Lon,
		"speed": 1.4,
	}, created.Token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[companion.Snapshot](t, rec)
	assert.InDelta(t, 0.25, snap.Progress, 0.01)
	assert.False(t, snap.OffRoute)
	require.NotNil(t, snap.AQI)
	assert.InDelta(t, 40, *snap.AQI, 1e-9)

	rec = s.do(t, http.MethodDelete, path, nil, created.Token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, s.sessions.Len())

	rec = s.do(t, http.MethodGet, path, nil, created.Token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_NavigationSession_Authorization(t *testing.T) {
	s := newTestServer(t)
	first := s.startSession(t, "device-1")
	second := s.startSession(t, "device-2")
	path := "/v1/navigation/sessions/" + first.SessionID

	rec := s.do(t, http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, path, nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, path, nil, second.Token)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, path, nil, second.Token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 2, s.sessions.Len())
}

func TestRouter_CreateSession_RouteSources(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/navigation/sessions", map[string]any{
		"clientId": "device-1",
		"routeId":  "direct",
	}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "no optimization yet")

	rec = s.do(t, http.MethodPost, "/v1/navigation/sessions", map[string]any{
		"clientId": "device-1",
		"polyline": geo.Encode([]geo.Point{origin, destination}),
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.SessionResponse](t, rec)
	assert.Equal(t, "/v1/navigation/sessions/"+created.SessionID, rec.Header().Get("Location"))
	assert.Contains(t, created.State.RouteID, "rte_")

	rec = s.do(t, http.MethodPost, "/v1/navigation/sessions", map[string]any{
		"clientId": "device-1",
		"routeId":  "direct",
		"polyline": geo.Encode([]geo.Point{origin, destination}),
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_UpdateLocation_Validation(t *testing.T) {
	s := newTestServer(t)
	created := s.startSession(t, "device-1")

	rec := s.do(t, http.MethodPost, "/v1/navigation/sessions/"+created.SessionID+"/locations",
		map[string]any{"lat": 120, "lon": 4.9}, created.Token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_AirQualityZones(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/air-quality/zones/nearest?lat=52.3676&lon=4.9041", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	nearest := decode[models.NearestZoneResponse](t, rec)
	assert.True(t, nearest.Inside)
	assert.Equal(t, airquality.LevelGood, nearest.Zone.Level)
	assert.InDelta(t, 40, nearest.Zone.AQI(), 1e-9)

	rec = s.do(t, http.MethodGet, "/v1/air-quality/zones?lat=52.3676&lon=4.9041&radius=600", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decode[models.ZonesResponse](t, rec)
	assert.False(t, list.Degraded)
	assert.NotEmpty(t, list.Zones)
	assert.Less(t, len(list.Zones), 25)

	for _, q := range []string{"", "?lat=52.3", "?lat=abc&lon=4.9", "?lat=52.3&lon=4.9&radius=50000"} {
		rec = s.do(t, http.MethodGet, "/v1/air-quality/zones"+q, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRouter_Incidents(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/incidents", map[string]any{
		"kind":        "accident",
		"point":       models.PointOf(geo.Midpoint(origin, destination)),
		"description": "two cars",
		"ttlSeconds":  600,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.IncidentReportResponse](t, rec)
	assert.NotEmpty(t, created.ID)
	require.NotNil(t, created.ExpiresAt)
	require.NotEmpty(t, created.ResolveToken)
	assert.True(t, time.Time(created.TokenExpiresAt).After(time.Now()))
	assert.Equal(t, "/v1/incidents/"+created.ID, rec.Header().Get("Location"))

	rec = s.do(t, http.MethodGet, "/v1/incidents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[models.IncidentsResponse](t, rec)
	require.Len(t, list.Incidents, 1)
	assert.Equal(t, created.ID, list.Incidents[0].ID)

	// The accident now sits on the direct route.
	rec = s.do(t, http.MethodPost, "/v1/routes:optimize", optimizeBody("device-1"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	opt := decode[models.OptimizeResponse](t, rec)
	var direct models.RouteOption
	for _, r := range opt.Routes {
		if r.ID == "direct" {
			direct = r
		}
	}
	assert.Equal(t, 1, direct.Incidents.Total)
	assert.Equal(t, 1, direct.Incidents.ByKind[incident.KindAccident])

	rec = s.do(t, http.MethodDelete, "/v1/incidents/"+created.ID, nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	otherToken, _, err := s.tokens.IssueIncident("some-other-incident")
	require.NoError(t, err)
	rec = s.do(t, http.MethodDelete, "/v1/incidents/"+created.ID, nil, otherToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	sessionToken, _, err := s.tokens.Issue(created.ID, "device-1")
	require.NoError(t, err)
	rec = s.do(t, http.MethodDelete, "/v1/incidents/"+created.ID, nil, sessionToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/incidents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[models.IncidentsResponse](t, rec).Incidents, 1)

	rec = s.do(t, http.MethodDelete, "/v1/incidents/"+created.ID, nil, created.ResolveToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/v1/incidents/"+created.ID, nil, created.ResolveToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/incidents", map[string]any{
		"kind":  "meteor",
		"point": models.PointOf(origin),
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// fakeWeather serves a fixed outlook: clean air for a day, then poor air.
// Coordinates south of the equator fail.
type fakeWeather struct{}

func (fakeWeather) CurrentWeather(_ context.Context, p geo.Point) (*weather.Observation, error) {
	if p.Lat < 0 {
		return nil, weather.ErrProviderUnavailable
	}
	return &weather.Observation{Point: p, Temperature: 14, WindSpeed: 0.4, Condition: weather.ConditionFog, ObservedAt: time.Now()}, nil
}

func (fakeWeather) Forecast(_ context.Context, p geo.Point) (*weather.Forecast, error) {
	if p.Lat < 0 {
		return nil, weather.ErrProviderUnavailable
	}
	f := &weather.Forecast{Point: p}
	start := time.Now().Truncate(time.Hour)
	for i := 0; i < 60; i++ {
		f.Hourly = append(f.Hourly, weather.HourlyForecast{Time: start.Add(time.Duration(i) * time.Hour), Temperature: 10 + float64(i%12)})
	}
	return f, nil
}

func (fakeWeather) AirForecast(_ context.Context, p geo.Point) (*weather.AirForecast, error) {
	if p.Lat < 0 {
		return nil, weather.ErrProviderUnavailable
	}
	f := &weather.AirForecast{Point: p}
	start := time.Now().Truncate(time.Hour)
	for i := 0; i < 96; i++ {
		aqi := 40.0
		if i >= 30 {
			aqi = 160
		}
		f.Hourly = append(f.Hourly, weather.AirHour{Time: start.Add(time.Duration(i) * time.Hour), AQI: aqi})
	}
	return f, nil
}

func TestRouter_Weather(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/weather/current?lat=52.3676&lon=4.9041", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	current := decode[models.Weather](t, rec)
	assert.Equal(t, weather.ConditionFog, current.Condition)
	assert.Equal(t, weather.WindCalm, current.WindCategory)
	assert.Equal(t, 1.3, current.DispersionFactor)

	rec = s.do(t, http.MethodGet, "/v1/weather/forecast?lat=52.3676&lon=4.9041&hours=24", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	forecast := decode[models.WeatherForecastResponse](t, rec)
	assert.Len(t, forecast.Hourly, 24)

	rec = s.do(t, http.MethodGet, "/v1/weather/forecast?lat=52.3676&lon=4.9041", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[models.WeatherForecastResponse](t, rec).Hourly, 48)

	for _, q := range []string{"?lat=52.3", "?lat=52.3&lon=4.9&hours=0", "?lat=52.3&lon=4.9&hours=72"} {
		rec = s.do(t, http.MethodGet, "/v1/weather/forecast"+q, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = s.do(t, http.MethodGet, "/v1/weather/current?lat=-33.9&lon=18.4", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_AirQualityForecast(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/air-quality/forecast?lat=52.3676&lon=4.9041", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[models.AirForecastResponse](t, rec)

	require.NotNil(t, out.Next24h)
	assert.Len(t, out.Next24h.Hourly, 24)
	assert.Equal(t, 40.0, out.Next24h.Max)
	assert.Equal(t, airquality.LevelGood, out.Next24h.MaxLevel)

	require.NotNil(t, out.Next48h)
	assert.Len(t, out.Next48h.Hourly, 24)
	assert.Equal(t, 160.0, out.Next48h.Max)
	assert.Equal(t, 40.0, out.Next48h.Min)

	rec = s.do(t, http.MethodGet, "/v1/air-quality/forecast?lat=abc&lon=4.9", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/air-quality/forecast?lat=-33.9&lon=18.4", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_RejectsNonJSONBodies(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/routes:optimize", bytes.NewBufferString("clientId=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestRouter_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/nothing-here", nil, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}
