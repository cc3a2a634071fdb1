package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/api/models"
	"github.com/breatheroute/airnav/internal/api/response"
	"github.com/breatheroute/airnav/internal/weather"
	"github.com/breatheroute/airnav/pkg/geo"
)

const (
	defaultForecastHours = 48
	maxForecastHours     = 48
)

// WeatherSource provides weather and the air quality outlook.
type WeatherSource interface {
	CurrentWeather(ctx context.Context, p geo.Point) (*weather.Observation, error)
	Forecast(ctx context.Context, p geo.Point) (*weather.Forecast, error)
	AirForecast(ctx context.Context, p geo.Point) (*weather.AirForecast, error)
}

// WeatherHandler serves current weather and forecasts.
type WeatherHandler struct {
	source WeatherSource
	now    func() time.Time
	logger zerolog.Logger
}

// NewWeatherHandler creates a WeatherHandler.
func NewWeatherHandler(source WeatherSource, logger zerolog.Logger) *WeatherHandler {
	return &WeatherHandler{source: source, now: time.Now, logger: logger}
}

// CurrentWeather handles GET /v1/weather/current?lat=&lon=.
func (h *WeatherHandler) CurrentWeather(w http.ResponseWriter, r *http.Request) {
	p, errs := queryPoint(r)
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid location", errs)
		return
	}

	obs, err := h.source.CurrentWeather(r.Context(), p.Geo())
	if err != nil {
		h.fail(w, r, err, "current weather")
		return
	}
	response.JSON(w, r, http.StatusOK, models.WeatherOf(obs))
}

// Forecast handles GET /v1/weather/forecast?lat=&lon=&hours=.
func (h *WeatherHandler) Forecast(w http.ResponseWriter, r *http.Request) {
	p, errs := queryPoint(r)
	hours, err := queryFloatOr(r, "hours", defaultForecastHours, 1, maxForecastHours)
	if err != nil {
		errs = append(errs, *err)
	}
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid forecast query", errs)
		return
	}

	f, ferr := h.source.Forecast(r.Context(), p.Geo())
	if ferr != nil {
		h.fail(w, r, ferr, "weather forecast")
		return
	}
	window := f.Within(h.now(), time.Duration(hours)*time.Hour)
	response.JSON(w, r, http.StatusOK, models.WeatherForecastOf(p, window))
}

// AirForecast handles GET /v1/air-quality/forecast?lat=&lon=.
func (h *WeatherHandler) AirForecast(w http.ResponseWriter, r *http.Request) {
	p, errs := queryPoint(r)
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid location", errs)
		return
	}

	f, err := h.source.AirForecast(r.Context(), p.Geo())
	if err != nil {
		h.fail(w, r, err, "air forecast")
		return
	}

	now := h.now()
	next24, ok := f.Window(now, 24*time.Hour)
	if !ok {
		response.NotFound(w, r, "no air quality forecast for this location")
		return
	}
	out := models.AirForecastResponse{Point: p, Next24h: models.AirSummaryOf(next24)}
	rest := next24.Hours[len(next24.Hours)-1].Time.Add(time.Hour)
	if next48, ok := f.Window(rest, now.Add(48*time.Hour).Sub(rest)); ok {
		out.Next48h = models.AirSummaryOf(next48)
	}
	response.JSON(w, r, http.StatusOK, out)
}

func (h *WeatherHandler) fail(w http.ResponseWriter, r *http.Request, err error, what string) {
	if errors.Is(err, weather.ErrInvalidCoordinates) {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	h.logger.Warn().Err(err).Msg("fetching " + what)
	response.ServiceUnavailable(w, r, what+" is temporarily unavailable")
}
