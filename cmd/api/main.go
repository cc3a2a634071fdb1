// Package main provides the entrypoint for the airnav API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/airquality/luchtmeetnet"
	"github.com/breatheroute/airnav/internal/api"
	"github.com/breatheroute/airnav/internal/api/handler"
	"github.com/breatheroute/airnav/internal/api/middleware"
	"github.com/breatheroute/airnav/internal/auth"
	"github.com/breatheroute/airnav/internal/avoidance"
	"github.com/breatheroute/airnav/internal/companion"
	"github.com/breatheroute/airnav/internal/config"
	"github.com/breatheroute/airnav/internal/database"
	"github.com/breatheroute/airnav/internal/incident"
	"github.com/breatheroute/airnav/internal/navigation"
	"github.com/breatheroute/airnav/internal/provider/resilience"
	"github.com/breatheroute/airnav/internal/routing"
	"github.com/breatheroute/airnav/internal/routing/openrouteservice"
	"github.com/breatheroute/airnav/internal/scoring"
	"github.com/breatheroute/airnav/internal/telemetry"
	"github.com/breatheroute/airnav/internal/weather"
	"github.com/breatheroute/airnav/internal/weather/openweathermap"
	"github.com/breatheroute/airnav/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "airnav-api"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting airnav API")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.Auth.UsingDevKey {
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()
	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics(tp.Meters())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize HTTP metrics")
	}
	engineMetrics, err := telemetry.NewEngineMetrics(tp.Meters())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize engine metrics")
	}

	registry := resilience.NewRegistry()

	// Incidents: Postgres when configured, memory otherwise.
	var (
		incidentRepo incident.Repository = incident.NewInMemoryRepository()
		dbPinger     handler.Pinger
	)
	if cfg.Database.Enabled {
		pool, err := database.Connect(ctx, cfg.Database.Config)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, incident.Schema); err != nil {
			log.Fatal().Err(err).Msg("failed to apply database schema")
		}
		incidentRepo = incident.NewPostgresRepository(pool)
		dbPinger = pool
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("database connected")
	} else {
		log.Warn().Msg("DB_HOST not set - incidents are kept in memory")
	}
	incidents := incident.NewService(incident.ServiceConfig{
		Repository: incidentRepo,
		Logger:     log.With().Str("component", "incidents").Logger(),
	})

	// Ground feed and zone grid.
	groundFeed := airquality.NewService(airquality.ServiceConfig{
		Provider: luchtmeetnet.NewClient(luchtmeetnet.ClientConfig{
			BaseURL:  cfg.Ground.BaseURL,
			Registry: registry,
		}),
		Logger: log.With().Str("component", "ground").Logger(),
	})
	synthesizer := airquality.NewSynthesizer(airquality.SynthesizerConfig{})
	grid := airquality.NewGrid(airquality.Config{
		Satellite: synthesizer,
		Ground:    groundFeed,
		Logger:    log.With().Str("component", "grid").Logger(),
		OnRefresh: engineMetrics.GridRefreshed,
	})

	// Candidate routes.
	if cfg.Routing.APIKey == "" {
		log.Warn().Msg("ORS_API_KEY not set - route optimization will fail")
	}
	routes := routing.NewService(routing.ServiceConfig{
		Provider: openrouteservice.NewClient(openrouteservice.ClientConfig{
			APIKey:   cfg.Routing.APIKey,
			BaseURL:  cfg.Routing.BaseURL,
			Registry: registry,
			Logger:   log.With().Str("provider", "openrouteservice").Logger(),
		}),
		Logger: log.With().Str("component", "routing").Logger(),
	})

	// Weather and the air quality outlook for predictive scoring.
	if cfg.Weather.APIKey == "" {
		log.Warn().Msg("OPENWEATHERMAP_API_KEY not set - forecasts unavailable, scoring uses the time-of-day profile")
	}
	forecasts := weather.NewService(weather.ServiceConfig{
		Provider: openweathermap.NewClient(openweathermap.ClientConfig{
			APIKey:     cfg.Weather.APIKey,
			BaseURL:    cfg.Weather.BaseURL,
			OneCallURL: cfg.Weather.OneCallURL,
			Registry:   registry,
			Logger:     log.With().Str("provider", "openweathermap").Logger(),
		}),
		CacheTTL: cfg.Weather.CacheTTL,
		Logger:   log.With().Str("component", "weather").Logger(),
	})

	optimizer := scoring.NewOptimizer(scoring.OptimizerConfig{
		Routes: routes,
		Scorer: scoring.NewScorer(scoring.ScorerConfig{
			Logger:   log.With().Str("component", "scorer").Logger(),
			Forecast: forecasts,
		}),
		Zones:     grid,
		Incidents: incidents,
		Avoidance: avoidance.NewCalculator(avoidance.CalculatorConfig{
			Logger: log.With().Str("component", "avoidance").Logger(),
		}),
		Observer: engineMetrics,
		Grid:     cfg.Grid,
		Logger:   log.With().Str("component", "optimizer").Logger(),
	})

	// Background work is cancelled after the server has drained.
	bgCtx, cancelBackground := context.WithCancel(context.WithoutCancel(ctx))
	var background sync.WaitGroup

	var publisher navigation.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.CompanionTopic != "" {
		sender, err := companion.NewPubSubSender(ctx, companion.PubSubConfig{
			ProjectID: cfg.PubSub.ProjectID,
			Topic:     cfg.PubSub.CompanionTopic,
			Logger:    log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create companion sender")
		}
		defer func() {
			if err := sender.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close companion sender")
			}
		}()

		pub := companion.NewPublisher(companion.Config{
			Sender: sender,
			OnDrop: engineMetrics.PublishDropped,
			Logger: log.With().Str("component", "companion").Logger(),
		})
		background.Add(1)
		go func() {
			defer background.Done()
			pub.Run(bgCtx)
		}()
		publisher = pub
		log.Info().Str("topic", cfg.PubSub.CompanionTopic).Msg("companion publisher enabled")
	}

	// Each session follows its user on a grid of its own; the shared grid
	// is re-anchored by optimize and air-quality requests.
	sessions := navigation.NewManager(navigation.ManagerConfig{
		Engine: navigation.Config{
			Publisher: publisher,
			Observer:  engineMetrics,
		},
		NewZones: func() navigation.ZoneLookup {
			return airquality.NewFollower(airquality.NewGrid(airquality.Config{
				Satellite: synthesizer,
				Ground:    groundFeed,
				Logger:    log.With().Str("component", "session-grid").Logger(),
				OnRefresh: engineMetrics.GridRefreshed,
			}), cfg.Grid)
		},
		IdleTimeout: cfg.SessionIdleTimeout,
		Logger:      log.With().Str("component", "navigation").Logger(),
	})

	// Housekeeping: ground cache, incident expiry and idle sessions.
	housekeeping := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: worker.RefreshConfig{
			Interval:       time.Minute,
			RefreshGround:  true,
			PurgeIncidents: true,
			ExpireSessions: true,
		},
		Logger:    log.With().Str("component", "housekeeping").Logger(),
		Ground:    groundFeed,
		Incidents: incidents,
		Sessions:  sessions,
	})
	background.Add(1)
	go func() {
		defer background.Done()
		housekeeping.RunEvery(bgCtx)
	}()

	router := api.NewRouter(api.RouterConfig{
		Version:    Version,
		BuildTime:  BuildTime,
		Logger:     log,
		Metrics:    httpMetrics,
		RequireTLS: cfg.RequireTLS,
		Optimizer:  optimizer,
		Sessions:   sessions,
		Tokens: auth.NewTokenService(auth.TokenConfig{
			SigningKey: cfg.Auth.SigningKey,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		}),
		Grid:       grid,
		GridConfig: cfg.Grid,
		Incidents:  incidents,
		Weather:    forecasts,
		Registry:   registry,
		Database:   dbPinger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	sessions.StopAll()
	cancelBackground()
	background.Wait()

	log.Info().Msg("server stopped")
}
