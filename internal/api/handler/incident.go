package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/api/middleware"
	"github.com/breatheroute/airnav/internal/api/models"
	"github.com/breatheroute/airnav/internal/api/response"
	"github.com/breatheroute/airnav/internal/incident"
)

// IncidentStore records and lists incidents.
type IncidentStore interface {
	Report(ctx context.Context, i incident.Incident) (*incident.Incident, error)
	Resolve(ctx context.Context, id string) error
	Active(ctx context.Context) ([]incident.Incident, error)
}

// ResolveTokenIssuer signs the token that lets a reporter resolve its incident.
type ResolveTokenIssuer interface {
	IssueIncident(incidentID string) (string, time.Time, error)
}

// IncidentHandler handles incident reports.
type IncidentHandler struct {
	store  IncidentStore
	tokens ResolveTokenIssuer
	now    func() time.Time
	logger zerolog.Logger
}

// NewIncidentHandler creates an IncidentHandler.
func NewIncidentHandler(store IncidentStore, tokens ResolveTokenIssuer, logger zerolog.Logger) *IncidentHandler {
	return &IncidentHandler{store: store, tokens: tokens, now: time.Now, logger: logger}
}

// ReportIncident handles POST /v1/incidents. The response carries the
// token that authorizes resolving the new incident.
func (h *IncidentHandler) ReportIncident(w http.ResponseWriter, r *http.Request) {
	var req models.ReportIncidentRequest
	if err := response.Decode(w, r, &req); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid incident", errs)
		return
	}

	created, err := h.store.Report(r.Context(), req.Incident(h.now()))
	if err != nil {
		if errors.Is(err, incident.ErrInvalidIncident) {
			response.BadRequest(w, r, err.Error(), nil)
			return
		}
		h.logger.Error().Err(err).Msg("reporting incident")
		response.InternalError(w, r, "failed to report incident")
		return
	}

	token, expiresAt, err := h.tokens.IssueIncident(created.ID)
	if err != nil {
		_ = h.store.Resolve(r.Context(), created.ID)
		h.logger.Error().Err(err).Str("incident_id", created.ID).Msg("issuing resolve token")
		response.InternalError(w, r, "failed to report incident")
		return
	}
	response.Created(w, r, "/v1/incidents/"+created.ID, models.IncidentReportResponse{
		Incident:       *created,
		ResolveToken:   token,
		TokenExpiresAt: models.Timestamp(expiresAt),
	})
}

// ListIncidents handles GET /v1/incidents.
func (h *IncidentHandler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	active, err := h.store.Active(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("listing incidents")
		response.ServiceUnavailable(w, r, "incidents are temporarily unavailable")
		return
	}
	if active == nil {
		active = []incident.Incident{}
	}
	response.JSON(w, r, http.StatusOK, models.IncidentsResponse{Incidents: active})
}

// ResolveIncident handles DELETE /v1/incidents/{id}. Only the bearer of the
// incident's resolve token may resolve it.
func (h *IncidentHandler) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims := middleware.GetSessionClaims(r.Context())
	if claims == nil || claims.IncidentID != id {
		response.Forbidden(w, r, "token is not valid for this incident")
		return
	}

	err := h.store.Resolve(r.Context(), id)
	switch {
	case err == nil:
		response.NoContent(w, r)
	case errors.Is(err, incident.ErrIncidentNotFound):
		response.NotFound(w, r, "incident not found")
	default:
		h.logger.Error().Err(err).Msg("resolving incident")
		response.InternalError(w, r, "failed to resolve incident")
	}
}
