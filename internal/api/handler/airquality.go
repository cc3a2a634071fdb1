package handler

import (
	"context"
	"net/http"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/api/models"
	"github.com/breatheroute/airnav/internal/api/response"
	"github.com/breatheroute/airnav/pkg/geo"
)

const (
	defaultZoneRadius = 2000.0
	maxZoneRadius     = 20000.0
)

// ZoneGrid refreshes and returns the zone snapshot around a point.
type ZoneGrid interface {
	Refresh(ctx context.Context, center geo.Point, cfg airquality.GridConfig) *airquality.Snapshot
}

// AirQualityHandler serves the air quality zone grid.
type AirQualityHandler struct {
	grid ZoneGrid
	cfg  airquality.GridConfig
}

// NewAirQualityHandler creates an AirQualityHandler.
func NewAirQualityHandler(grid ZoneGrid, cfg airquality.GridConfig) *AirQualityHandler {
	return &AirQualityHandler{grid: grid, cfg: cfg}
}

// NearestZone handles GET /v1/air-quality/zones/nearest?lat=&lon=.
func (h *AirQualityHandler) NearestZone(w http.ResponseWriter, r *http.Request) {
	p, errs := queryPoint(r)
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid location", errs)
		return
	}

	snap := h.grid.Refresh(r.Context(), p.Geo(), h.cfg)
	zone, ok := snap.NearestZone(p.Geo())
	if !ok {
		response.NotFound(w, r, "no air quality zone near this location")
		return
	}

	d := geo.Distance(p.Geo(), zone.Center)
	response.JSON(w, r, http.StatusOK, models.NearestZoneResponse{
		GridVersion:    snap.Version,
		DistanceMeters: d,
		Inside:         d <= zone.Radius,
		Zone:           models.ZoneOf(zone),
	})
}

// ListZones handles GET /v1/air-quality/zones?lat=&lon=&radius=.
func (h *AirQualityHandler) ListZones(w http.ResponseWriter, r *http.Request) {
	p, errs := queryPoint(r)
	radius, err := queryFloatOr(r, "radius", defaultZoneRadius, 1, maxZoneRadius)
	if err != nil {
		errs = append(errs, *err)
	}
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid zone query", errs)
		return
	}

	snap := h.grid.Refresh(r.Context(), p.Geo(), h.cfg)
	zones := snap.ZonesWithin(p.Geo(), radius)

	out := models.ZonesResponse{Zones: make([]models.Zone, 0, len(zones))}
	if snap != nil {
		out.GridVersion = snap.Version
		out.CreatedAt = models.Timestamp(snap.CreatedAt)
		out.Degraded = snap.Default
	}
	for _, z := range zones {
		out.Zones = append(out.Zones, models.ZoneOf(z))
	}
	response.JSON(w, r, http.StatusOK, out)
}
