// Package handler holds the HTTP handlers of the API.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/api/models"
	"github.com/breatheroute/airnav/internal/api/response"
	"github.com/breatheroute/airnav/internal/provider/resilience"
	"github.com/breatheroute/airnav/internal/routing"
	"github.com/breatheroute/airnav/internal/scoring"
)

// RouteOptimizer ranks candidate routes.
type RouteOptimizer interface {
	Optimize(ctx context.Context, req scoring.OptimizeRequest) (*scoring.Result, error)
}

// RouteHandler handles route optimization.
type RouteHandler struct {
	optimizer RouteOptimizer
	logger    zerolog.Logger
}

// NewRouteHandler creates a RouteHandler.
func NewRouteHandler(optimizer RouteOptimizer, logger zerolog.Logger) *RouteHandler {
	return &RouteHandler{optimizer: optimizer, logger: logger}
}

// OptimizeRoutes handles POST /v1/routes:optimize.
func (h *RouteHandler) OptimizeRoutes(w http.ResponseWriter, r *http.Request) {
	var req models.OptimizeRequest
	if err := response.Decode(w, r, &req); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	cfg, errs := req.Validate()
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid optimization request", errs)
		return
	}

	result, err := h.optimizer.Optimize(r.Context(), scoring.OptimizeRequest{
		ClientID:    req.ClientID,
		Origin:      req.Origin.Geo(),
		Destination: req.Destination.Geo(),
		Config:      cfg,
	})
	if err != nil {
		h.writeOptimizeError(w, r, req.ClientID, err)
		return
	}
	if len(result.Routes) == 0 {
		response.NoRoute(w, r, "no route connects the requested points")
		return
	}
	response.JSON(w, r, http.StatusOK, models.OptimizeResponseOf(result))
}

func (h *RouteHandler) writeOptimizeError(w http.ResponseWriter, r *http.Request, clientID string, err error) {
	switch {
	case errors.Is(err, scoring.ErrSuperseded):
		response.Conflict(w, r, "superseded by a newer request from this client")
	case errors.Is(err, scoring.ErrInvalidWeights):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, routing.ErrInvalidCoordinates):
		response.BadRequest(w, r, "origin or destination is not routable", nil)
	case errors.Is(err, routing.ErrNoRouteFound):
		response.NoRoute(w, r, "no route connects the requested points")
	case errors.Is(err, routing.ErrProviderUnavailable),
		errors.Is(err, routing.ErrRateLimitExceeded),
		errors.Is(err, resilience.ErrCircuitOpen):
		h.logger.Warn().Err(err).Str("client_id", clientID).Msg("routing provider unavailable")
		response.ServiceUnavailable(w, r, "route provider is temporarily unavailable")
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client went away.
	default:
		h.logger.Error().Err(err).Str("client_id", clientID).Msg("route optimization failed")
		response.InternalError(w, r, "route optimization failed")
	}
}
