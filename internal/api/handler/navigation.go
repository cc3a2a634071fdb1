package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/api/middleware"
	"github.com/breatheroute/airnav/internal/api/models"
	"github.com/breatheroute/airnav/internal/api/response"
	"github.com/breatheroute/airnav/internal/companion"
	"github.com/breatheroute/airnav/internal/navigation"
	"github.com/breatheroute/airnav/internal/routing"
	"github.com/breatheroute/airnav/internal/scoring"
	"github.com/breatheroute/airnav/pkg/geo"
)

// SessionManager owns navigation sessions.
type SessionManager interface {
	Create(clientID string, route scoring.ScoredRoute) (*navigation.Session, error)
	Get(id string) (*navigation.Session, error)
	Delete(id string) error
}

// ResultSource returns a client's latest ranked routes.
type ResultSource interface {
	Latest(clientID string) *scoring.Result
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(sessionID, clientID string) (string, time.Time, error)
}

// NavigationHandler handles navigation sessions.
type NavigationHandler struct {
	sessions SessionManager
	results  ResultSource
	tokens   TokenIssuer
	logger   zerolog.Logger
}

// NewNavigationHandler creates a NavigationHandler.
func NewNavigationHandler(sessions SessionManager, results ResultSource, tokens TokenIssuer, logger zerolog.Logger) *NavigationHandler {
	return &NavigationHandler{sessions: sessions, results: results, tokens: tokens, logger: logger}
}

// CreateSession handles POST /v1/navigation/sessions. The session token in
// the response authorizes the other session endpoints.
func (h *NavigationHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := response.Decode(w, r, &req); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid session request", errs)
		return
	}

	route, ok := h.resolveRoute(req)
	if !ok {
		response.NotFound(w, r, "route is not part of this client's latest optimization")
		return
	}

	session, err := h.sessions.Create(req.ClientID, route)
	if err != nil {
		if errors.Is(err, navigation.ErrEmptyRoute) {
			response.BadRequest(w, r, err.Error(), nil)
			return
		}
		h.logger.Error().Err(err).Str("client_id", req.ClientID).Msg("creating navigation session")
		response.InternalError(w, r, "failed to create session")
		return
	}

	token, expiresAt, err := h.tokens.Issue(session.ID, req.ClientID)
	if err != nil {
		_ = h.sessions.Delete(session.ID)
		h.logger.Error().Err(err).Str("session_id", session.ID).Msg("issuing session token")
		response.InternalError(w, r, "failed to create session")
		return
	}

	response.Created(w, r, "/v1/navigation/sessions/"+session.ID, models.SessionResponse{
		SessionID:      session.ID,
		Token:          token,
		TokenExpiresAt: models.Timestamp(expiresAt),
		State:          companion.SnapshotOf(session.Engine.State()),
	})
}

// resolveRoute finds the requested route in the client's latest result, or
// builds an unscored route from a polyline.
func (h *NavigationHandler) resolveRoute(req models.CreateSessionRequest) (scoring.ScoredRoute, bool) {
	if req.Polyline != "" {
		points := geo.Decode(req.Polyline)
		return scoring.ScoredRoute{Route: routing.Route{
			ID:             "rte_" + uuid.NewString(),
			Coordinates:    points,
			Polyline:       req.Polyline,
			DistanceMeters: geo.Length(points),
		}}, true
	}

	latest := h.results.Latest(req.ClientID)
	if latest == nil {
		return scoring.ScoredRoute{}, false
	}
	for _, route := range latest.Routes {
		if route.Route.ID == req.RouteID {
			return route, true
		}
	}
	return scoring.ScoredRoute{}, false
}

// GetSession handles GET /v1/navigation/sessions/{id}.
func (h *NavigationHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.authorize(w, r)
	if !ok {
		return
	}
	response.JSON(w, r, http.StatusOK, companion.SnapshotOf(session.Engine.State()))
}

// UpdateLocation handles POST /v1/navigation/sessions/{id}/locations.
func (h *NavigationHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	session, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var update models.LocationUpdate
	if err := response.Decode(w, r, &update); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	if errs := update.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid location", errs)
		return
	}
	if !session.Engine.State().Navigating {
		response.Conflict(w, r, "session is not navigating")
		return
	}

	state := session.Engine.UpdateUserLocation(geo.Point{Lat: update.Lat, Lon: update.Lon}, update.SpeedOrUnknown())
	response.JSON(w, r, http.StatusOK, companion.SnapshotOf(state))
}

// DeleteSession handles DELETE /v1/navigation/sessions/{id}.
func (h *NavigationHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Delete(session.ID); err != nil && !errors.Is(err, navigation.ErrSessionNotFound) {
		h.logger.Error().Err(err).Str("session_id", session.ID).Msg("deleting navigation session")
		response.InternalError(w, r, "failed to delete session")
		return
	}
	response.NoContent(w, r)
}

// authorize checks that the bearer token names the session in the path and
// loads it.
func (h *NavigationHandler) authorize(w http.ResponseWriter, r *http.Request) (*navigation.Session, bool) {
	id := chi.URLParam(r, "id")
	claims := middleware.GetSessionClaims(r.Context())
	if claims == nil || claims.SessionID != id {
		response.Forbidden(w, r, "token is not valid for this session")
		return nil, false
	}

	session, err := h.sessions.Get(id)
	if err != nil {
		response.NotFound(w, r, "navigation session not found")
		return nil, false
	}
	return session, true
}
