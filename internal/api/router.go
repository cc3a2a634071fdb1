// Package api assembles the HTTP API.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/api/handler"
	"github.com/breatheroute/airnav/internal/api/middleware"
	"github.com/breatheroute/airnav/internal/api/response"
	"github.com/breatheroute/airnav/internal/auth"
	"github.com/breatheroute/airnav/internal/incident"
	"github.com/breatheroute/airnav/internal/navigation"
	"github.com/breatheroute/airnav/internal/provider/resilience"
	"github.com/breatheroute/airnav/internal/scoring"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version    string
	BuildTime  string
	Logger     zerolog.Logger
	Metrics    *middleware.Metrics // optional
	RequireTLS bool

	Optimizer  *scoring.Optimizer
	Sessions   *navigation.Manager
	Tokens     *auth.TokenService
	Grid       *airquality.Grid
	GridConfig airquality.GridConfig
	Incidents  *incident.Service
	Weather    handler.WeatherSource // optional
	Registry   *resilience.Registry // optional
	Database   handler.Pinger       // optional
}

// NewRouter creates a chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.RequireJSON)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no such endpoint")
	})

	ops := handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Grid:      cfg.Grid,
		Sessions:  cfg.Sessions,
		Database:  cfg.Database,
	}
	// A nil *Registry must not become a non-nil interface.
	if cfg.Registry != nil {
		ops.Providers = cfg.Registry
	}
	opsHandler := handler.NewOpsHandler(ops)
	routeHandler := handler.NewRouteHandler(cfg.Optimizer, cfg.Logger)
	navHandler := handler.NewNavigationHandler(cfg.Sessions, cfg.Optimizer, cfg.Tokens, cfg.Logger)
	airHandler := handler.NewAirQualityHandler(cfg.Grid, cfg.GridConfig)
	incidentHandler := handler.NewIncidentHandler(cfg.Incidents, cfg.Tokens, cfg.Logger)
	weatherHandler := handler.NewWeatherHandler(cfg.Weather, cfg.Logger)

	sessionAuth := middleware.SessionAuth(cfg.Tokens)
	standardByIP := middleware.RateLimitByIP(middleware.StandardRateLimit)
	standardByClient := middleware.RateLimitByClient(middleware.StandardRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		// Scoring is the expensive path: candidates, grid refresh, scoring.
		r.With(middleware.RateLimitByClient(middleware.OptimizeRateLimit)).
			Post("/routes:optimize", routeHandler.OptimizeRoutes)

		r.Route("/navigation/sessions", func(r chi.Router) {
			r.With(middleware.RateLimitByClient(middleware.SessionRateLimit)).
				Post("/", navHandler.CreateSession)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(sessionAuth)
				r.With(standardByClient).Get("/", navHandler.GetSession)
				r.With(standardByClient).Delete("/", navHandler.DeleteSession)
				r.With(middleware.RateLimitByClient(middleware.LocationRateLimit)).
					Post("/locations", navHandler.UpdateLocation)
			})
		})

		r.Route("/air-quality/zones", func(r chi.Router) {
			r.Use(standardByIP)
			r.Get("/", airHandler.ListZones)
			r.Get("/nearest", airHandler.NearestZone)
		})

		if cfg.Weather != nil {
			r.Route("/weather", func(r chi.Router) {
				r.Use(standardByIP)
				r.Get("/current", weatherHandler.CurrentWeather)
				r.Get("/forecast", weatherHandler.Forecast)
			})
			r.With(standardByIP).Get("/air-quality/forecast", weatherHandler.AirForecast)
		}

		r.Route("/incidents", func(r chi.Router) {
			r.Use(standardByIP)
			r.Get("/", incidentHandler.ListIncidents)
			r.Post("/", incidentHandler.ReportIncident)
			r.With(sessionAuth).Delete("/{id}", incidentHandler.ResolveIncident)
		})
	})

	return r
}
