package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/api/models"
	"github.com/breatheroute/airnav/internal/api/response"
	"github.com/breatheroute/airnav/internal/provider/resilience"
)

// ProviderHealthSource reports external provider health.
type ProviderHealthSource interface {
	GetAllHealth() []*resilience.ProviderHealth
}

// GridSource exposes the current zone snapshot.
type GridSource interface {
	Snapshot() *airquality.Snapshot
}

// SessionCounter counts navigation sessions.
type SessionCounter interface {
	Len() int
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsConfig holds the dependencies of OpsHandler. All but Version and
// BuildTime are optional.
type OpsConfig struct {
	Version   string
	BuildTime string
	Providers ProviderHealthSource
	Grid      GridSource
	Sessions  SessionCounter
	Database  Pinger
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
	now func() time.Time
}

// NewOpsHandler creates an OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{cfg: cfg, now: time.Now}
}

// HealthCheck handles GET /v1/ops/health. Providers that are down degrade
// the status: scoring continues on the default zone and cached routes.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(h.now()),
		Version:   h.cfg.Version,
		BuildTime: h.cfg.BuildTime,
	}

	if h.cfg.Providers != nil {
		for _, p := range h.cfg.Providers.GetAllHealth() {
			status := providerStatus(p)
			if status.Status != models.HealthStatusOK {
				health.Status = models.HealthStatusDegraded
			}
			health.Providers = append(health.Providers, status)
		}
	}

	if h.cfg.Grid != nil {
		if snap := h.cfg.Grid.Snapshot(); snap != nil {
			health.Grid = &models.GridStatus{
				Version:   snap.Version,
				Zones:     snap.Len(),
				Anchor:    models.PointOf(snap.Anchor),
				CreatedAt: models.Timestamp(snap.CreatedAt),
				Degraded:  snap.Default,
			}
			if snap.Default {
				health.Status = models.HealthStatusDegraded
			}
		}
	}

	if h.cfg.Sessions != nil {
		health.Sessions = h.cfg.Sessions.Len()
	}

	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.cfg.Database.Ping(ctx); err != nil {
			response.ServiceUnavailable(w, r, "database is not reachable")
			return
		}
	}
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
	})
}

func providerStatus(p *resilience.ProviderHealth) models.ProviderStatus {
	out := models.ProviderStatus{
		Provider:     p.Name,
		Status:       models.HealthStatusOK,
		CircuitState: p.CircuitState.String(),
		Message:      p.LastError,
	}
	switch p.Status() {
	case "down":
		out.Status = models.HealthStatusFail
	case "degraded":
		out.Status = models.HealthStatusDegraded
	}
	if p.LastSuccessAt != nil {
		ts := models.Timestamp(*p.LastSuccessAt)
		out.LastSuccessAt = &ts
	}
	if p.LastFailureAt != nil {
		ts := models.Timestamp(*p.LastFailureAt)
		out.LastFailureAt = &ts
	}
	return out
}
