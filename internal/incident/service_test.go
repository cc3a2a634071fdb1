package incident_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airnav/internal/incident"
	"github.com/breatheroute/airnav/pkg/geo"
)

var (
	now       = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	amsterdam = geo.Point{Lat: 52.3676, Lon: 4.9041}
)

func newService(repo incident.Repository, clock *time.Time) *incident.Service {
	return incident.NewService(incident.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return *clock },
	})
}

func TestService_Report(t *testing.T) {
	clock := now
	repo := incident.NewInMemoryRepository()
	svc := newService(repo, &clock)

	changes := 0
	svc.OnChange(func() { changes++ })

	got, err := svc.Report(context.Background(), incident.Incident{Kind: incident.KindAccident, Point: amsterdam})
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, now, got.ReportedAt)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, now.Add(incident.DefaultTTL), *got.ExpiresAt)
	assert.Equal(t, 1, changes)

	stored, err := repo.Get(context.Background(), got.ID)
	require.NoError(t, err)
	assert.Equal(t, incident.KindAccident, stored.Kind)
}

func TestService_Report_Invalid(t *testing.T) {
	clock := now
	svc := newService(incident.NewInMemoryRepository(), &clock)

	_, err := svc.Report(context.Background(), incident.Incident{Kind: "meteor", Point: amsterdam})
	assert.ErrorIs(t, err, incident.ErrInvalidIncident)

	_, err = svc.Report(context.Background(), incident.Incident{Kind: incident.KindHazard, Point: geo.Point{Lat: 100}})
	assert.ErrorIs(t, err, incident.ErrInvalidIncident)
}

func TestService_ActiveAndPurge(t *testing.T) {
	clock := now
	svc := newService(incident.NewInMemoryRepository(), &clock)
	ctx := context.Background()

	short := now.Add(10 * time.Minute)
	_, err := svc.Report(ctx, incident.Incident{ID: "a", Kind: incident.KindTraffic, Point: amsterdam, ExpiresAt: &short})
	require.NoError(t, err)
	_, err = svc.Report(ctx, incident.Incident{ID: "b", Kind: incident.KindPolice, Point: amsterdam})
	require.NoError(t, err)

	active, err := svc.Active(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	clock = now.Add(15 * time.Minute)
	active, err = svc.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].ID)

	removed, err := svc.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestService_Resolve(t *testing.T) {
	clock := now
	svc := newService(incident.NewInMemoryRepository(), &clock)
	ctx := context.Background()

	got, err := svc.Report(ctx, incident.Incident{Kind: incident.KindRoadWork, Point: amsterdam})
	require.NoError(t, err)

	require.NoError(t, svc.Resolve(ctx, got.ID))
	assert.ErrorIs(t, svc.Resolve(ctx, got.ID), incident.ErrIncidentNotFound)
}

func TestKind(t *testing.T) {
	for _, k := range incident.Kinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, incident.Kind("fog").Valid())
	assert.True(t, incident.KindAccident.Critical())
	assert.True(t, incident.KindRoadWork.Critical())
	assert.False(t, incident.KindTraffic.Critical())
}
