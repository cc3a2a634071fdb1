package routing

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

	"github.com/breatheroute/airnav/pkg/geo"
)

type mockProvider struct {
	mu        sync.Mutex
	response  *DirectionsResponse
	err       error
	callCount atomic.Int32
}

func (m *mockProvider) GetDirections(_ context.Context, _ DirectionsRequest) (*DirectionsResponse, error) {
	m.callCount.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := *m.response
	out.Routes = append([]Route(nil), m.response.Routes...)
	return &out, nil
}

func (m *mockProvider) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockProvider) Name() string { return "test-provider" }

func (m *mockProvider) SupportedProfiles() []RouteProfile {
	return []RouteProfile{ProfileWalk, ProfileBike}
}

var (
	origin      = geo.Point{Lat: 52.3676, Lon: 4.9041}
	destination = geo.Point{Lat: 52.3600, Lon: 4.8852}
	baseTime    = time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC)
)

func testProvider() *mockProvider {
	return &mockProvider{
		response: &DirectionsResponse{
			Routes: []Route{
				{Coordinates: []geo.Point{origin, destination}, DistanceMeters: 1500, DurationSeconds: 1100},
				{ID: "given", Coordinates: []geo.Point{origin, destination}, DistanceMeters: 1700, DurationSeconds: 1300},
			},
			Provider: "test-provider",
		},
	}
}

func newTestService(p Provider, clock *time.Time) *Service {
	return NewService(ServiceConfig{
		Provider: p,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return *clock },
	})
}

func request() DirectionsRequest {
	return DirectionsRequest{Origin: origin, Destination: destination, Profile: ProfileWalk, MaxAlternatives: 2}
}

func TestService_GetDirections_AssignsIDs(t *testing.T) {
	clock := baseTime
	svc := newTestService(testProvider(), &clock)

	resp, err := svc.GetDirections(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, resp.Routes, 2)
	assert.NotEmpty(t, resp.Routes[0].ID)
	assert.Equal(t, "given", resp.Routes[1].ID)
}

func TestService_GetDirections_CacheHit(t *testing.T) {
	clock := baseTime
	provider := testProvider()
	svc := newTestService(provider, &clock)

	first, err := svc.GetDirections(context.Background(), request())
	require.NoError(t, err)

	// A few meters away lands in the same cache cell.
	req := request()
	req.Origin.Lat += 0.00001
	second, err := svc.GetDirections(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), provider.callCount.Load())
	assert.Equal(t, first.Routes[0].ID, second.Routes[0].ID)
}

func TestService_GetDirections_CacheExpiry(t *testing.T) {
	clock := baseTime
	provider := testProvider()
	svc := newTestService(provider, &clock)

	_, err := svc.GetDirections(context.Background(), request())
	require.NoError(t, err)

	clock = clock.Add(6 * time.Minute)
	_, err = svc.GetDirections(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, int32(2), provider.callCount.Load())
}

func TestService_GetDirections_StaleIfError(t *testing.T) {
	clock := baseTime
	provider := testProvider()
	svc := newTestService(provider, &clock)

	_, err := svc.GetDirections(context.Background(), request())
	require.NoError(t, err)

	provider.setErr(ErrProviderUnavailable)

	clock = baseTime.Add(10 * time.Minute)
	resp, err := svc.GetDirections(context.Background(), request())
	require.NoError(t, err, "stale data is served within the stale window")
	assert.Len(t, resp.Routes, 2)

	stats := svc.CacheStats()
	assert.Equal(t, 1, stats.StaleEntries)

	clock = baseTime.Add(20 * time.Minute)
	_, err = svc.GetDirections(context.Background(), request())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestService_GetDirections_NoRoutes(t *testing.T) {
	clock := baseTime
	svc := newTestService(&mockProvider{response: &DirectionsResponse{}}, &clock)

	_, err := svc.GetDirections(context.Background(), request())
	assert.ErrorIs(t, err, ErrNoRouteFound)
}

func TestService_GetDirections_InvalidCoordinates(t *testing.T) {
	clock := baseTime
	provider := testProvider()
	svc := newTestService(provider, &clock)

	tests := []struct {
		name string
		req  DirectionsRequest
		code string
	}{
		{"origin latitude", DirectionsRequest{Origin: geo.Point{Lat: 91}, Destination: destination}, "INVALID_ORIGIN"},
		{"destination longitude", DirectionsRequest{Origin: origin, Destination: geo.Point{Lon: -181}}, "INVALID_DESTINATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetDirections(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidCoordinates)

			var rerr *Error
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, tt.code, rerr.Code)
		})
	}
	assert.Zero(t, provider.callCount.Load())
}

func TestService_GetDirections_ConcurrentCallsShareFetch(t *testing.T) {
	clock := baseTime
	provider := testProvider()
	svc := newTestService(provider, &clock)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.GetDirections(context.Background(), request())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), provider.callCount.Load())
}

func TestService_InvalidateCache(t *testing.T) {
	clock := baseTime
	provider := testProvider()
	svc := newTestService(provider, &clock)

	_, err := svc.GetDirections(context.Background(), request())
	require.NoError(t, err)

	svc.InvalidateCache()
	assert.Zero(t, svc.CacheStats().TotalEntries)

	_, err = svc.GetDirections(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, int32(2), provider.callCount.Load())
}

func TestManeuverFromORS(t *testing.T) {
	assert.Equal(t, ManeuverLeft, ManeuverFromORS(0))
	assert.Equal(t, ManeuverEnterRoundabout, ManeuverFromORS(7))
	assert.Equal(t, ManeuverArrive, ManeuverFromORS(10))
	assert.Equal(t, ManeuverDepart, ManeuverFromORS(11))
	assert.Equal(t, ManeuverKeepRight, ManeuverFromORS(13))
	assert.Equal(t, ManeuverStraight, ManeuverFromORS(99))
}

func TestError_IsRetryable(t *testing.T) {
	assert.True(t, (&Error{Err: ErrProviderUnavailable}).IsRetryable())
	assert.True(t, (&Error{Err: ErrRateLimitExceeded}).IsRetryable())
	assert.False(t, (&Error{Err: ErrNoRouteFound}).IsRetryable())
	assert.Equal(t, "boom: no route found between the given points", (&Error{Message: "boom", Err: ErrNoRouteFound}).Error())
}
