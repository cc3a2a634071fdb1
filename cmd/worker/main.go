// Package main provides the entrypoint for the airnav refresh worker.
package main

import (
	"context"
	"encoding/json"
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
	"github.com/breatheroute/airnav/internal/avoidance"
	"github.com/breatheroute/airnav/internal/config"
	"github.com/breatheroute/airnav/internal/database"
	"github.com/breatheroute/airnav/internal/incident"
	"github.com/breatheroute/airnav/internal/provider/resilience"
	"github.com/breatheroute/airnav/internal/telemetry"
	"github.com/breatheroute/airnav/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "airnav-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting airnav worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
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

	engineMetrics, err := telemetry.NewEngineMetrics(tp.Meters())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	registry := resilience.NewRegistry()
	groundFeed := airquality.NewService(airquality.ServiceConfig{
		Provider: luchtmeetnet.NewClient(luchtmeetnet.ClientConfig{
			BaseURL:  cfg.Ground.BaseURL,
			Registry: registry,
		}),
		Logger: log.With().Str("component", "ground").Logger(),
	})
	synthesizer := airquality.NewSynthesizer(airquality.SynthesizerConfig{})

	jobCfg := worker.RefreshJobConfig{
		Config: worker.DefaultRefreshConfig(),
		Logger: log.With().Str("component", "refresh").Logger(),
		Ground: groundFeed,
		NewGrid: func() *airquality.Grid {
			return airquality.NewGrid(airquality.Config{
				Satellite: synthesizer,
				Ground:    groundFeed,
				Logger:    log.With().Str("component", "grid").Logger(),
				OnRefresh: engineMetrics.GridRefreshed,
			})
		},
		Avoidance: avoidance.Config{ConsiderTrafficPatterns: true},
	}
	jobCfg.Config.Grid = cfg.Grid

	// Incident expiry only makes sense against the shared database.
	if cfg.Database.Enabled {
		pool, err := database.Connect(ctx, cfg.Database.Config)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, incident.Schema); err != nil {
			log.Fatal().Err(err).Msg("failed to apply database schema")
		}
		jobCfg.Incidents = incident.NewService(incident.ServiceConfig{
			Repository: incident.NewPostgresRepository(pool),
			Logger:     log.With().Str("component", "incidents").Logger(),
		})
	} else {
		jobCfg.Config.PurgeIncidents = false
		log.Warn().Msg("DB_HOST not set - avoidance zones are built from air quality only")
	}

	job := worker.NewRefreshJob(jobCfg)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		job.RunEvery(ctx)
	}()

	if cfg.PubSub.ProjectID != "" && cfg.PubSub.WorkerSubscription != "" {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.WorkerSubscription,
			RefreshJob:       job,
			Logger:           log.With().Str("component", "pubsub").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer func() {
			if err := handler.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := handler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
	}

	// Cloud Run expects the worker to answer health checks.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		providers := make(map[string]string)
		for _, h := range registry.GetAllHealth() {
			providers[h.Name] = h.Status()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // best effort
			"status":    "healthy",
			"version":   Version,
			"refresh":   job.MetricsSnapshot(),
			"providers": providers,
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	wg.Wait()
	log.Info().Msg("worker stopped")
}
