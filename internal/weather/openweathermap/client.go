// Package openweathermap provides a weather.Provider backed by the
// OpenWeatherMap APIs.
package openweathermap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/provider/resilience"
	"github.com/breatheroute/airnav/internal/weather"
	"github.com/breatheroute/airnav/pkg/geo"
)

const (
	// ProviderName identifies this weather provider.
	ProviderName = "openweathermap"

	// DefaultBaseURL serves current weather and the air pollution forecast.
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

	// DefaultOneCallURL serves the hourly weather forecast.
	DefaultOneCallURL = "https://api.openweathermap.org/data/3.0/onecall"
)

// ClientConfig holds configuration for the OpenWeatherMap client.
type ClientConfig struct {
	// APIKey is the OpenWeatherMap API key.
	APIKey string

	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// OneCallURL defaults to DefaultOneCallURL.
	OneCallURL string

	// HTTPClient executes requests. If nil, a resilient client is created.
	HTTPClient HTTPDoer

	// Registry tracks the default client's health. Optional.
	Registry *resilience.Registry

	Logger zerolog.Logger

	// Now stamps FetchedAt (default: time.Now).
	Now func() time.Time
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is an OpenWeatherMap API client. It implements weather.Provider.
type Client struct {
	apiKey     string
	baseURL    string
	oneCallURL string
	httpClient HTTPDoer
	logger     zerolog.Logger
	now        func() time.Time
}

// NewClient creates an OpenWeatherMap client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.OneCallURL == "" {
		cfg.OneCallURL = DefaultOneCallURL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		rc := resilience.DefaultClientConfig(ProviderName)
		rc.Registry = cfg.Registry
		rc.Logger = cfg.Logger
		httpClient = resilience.NewClient(rc)
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		oneCallURL: cfg.OneCallURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// CurrentWeather fetches the current weather at p.
func (c *Client) CurrentWeather(ctx context.Context, p geo.Point) (*weather.Observation, error) {
	var resp currentWeatherResponse
	if err := c.get(ctx, c.baseURL+"/weather", p, url.Values{"units": {"metric"}}, &resp); err != nil {
		return nil, err
	}
	return c.toObservation(&resp), nil
}

// Forecast fetches the hourly weather forecast at p.
func (c *Client) Forecast(ctx context.Context, p geo.Point) (*weather.Forecast, error) {
	var resp oneCallResponse
	params := url.Values{"units": {"metric"}, "exclude": {"current,minutely,daily,alerts"}}
	if err := c.get(ctx, c.oneCallURL, p, params, &resp); err != nil {
		return nil, err
	}
	return c.toForecast(&resp), nil
}

// AirForecast fetches the hourly air pollution forecast at p.
func (c *Client) AirForecast(ctx context.Context, p geo.Point) (*weather.AirForecast, error) {
	var resp airPollutionResponse
	if err := c.get(ctx, c.baseURL+"/air_pollution/forecast", p, nil, &resp); err != nil {
		return nil, err
	}
	return c.toAirForecast(p, &resp), nil
}

func (c *Client) get(ctx context.Context, endpoint string, p geo.Point, params url.Values, out any) error {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("lat", strconv.FormatFloat(p.Lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(p.Lon, 'f', 6, 64))
	q.Set("appid", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) toObservation(resp *currentWeatherResponse) *weather.Observation {
	obs := &weather.Observation{
		Point:         geo.Point{Lat: resp.Coord.Lat, Lon: resp.Coord.Lon},
		Temperature:   resp.Main.Temp,
		FeelsLike:     resp.Main.FeelsLike,
		Humidity:      resp.Main.Humidity,
		WindSpeed:     resp.Wind.Speed,
		WindDirection: resp.Wind.Deg,
		WindGust:      resp.Wind.Gust,
		Pressure:      resp.Main.Pressure,
		CloudCover:    resp.Clouds.All,
		Visibility:    float64(resp.Visibility),
		Condition:     weather.ConditionUnknown,
		ObservedAt:    time.Unix(resp.Dt, 0).UTC(),
		FetchedAt:     c.now(),
	}
	if len(resp.Weather) > 0 {
		obs.Condition = mapCondition(resp.Weather[0].Main)
		obs.Description = resp.Weather[0].Description
	}
	return obs
}

func (c *Client) toForecast(resp *oneCallResponse) *weather.Forecast {
	f := &weather.Forecast{
		Point:     geo.Point{Lat: resp.Lat, Lon: resp.Lon},
		Hourly:    make([]weather.HourlyForecast, 0, len(resp.Hourly)),
		FetchedAt: c.now(),
	}
	for _, h := range resp.Hourly {
		hf := weather.HourlyForecast{
			Time:          time.Unix(h.Dt, 0).UTC(),
			Temperature:   h.Temp,
			FeelsLike:     h.FeelsLike,
			Humidity:      h.Humidity,
			WindSpeed:     h.WindSpeed,
			WindDirection: h.WindDeg,
			WindGust:      h.WindGust,
			CloudCover:    h.Clouds,
			Visibility:    float64(h.Visibility),
			PrecipProb:    h.Pop,
			Rain:          h.Rain.OneHour,
			Condition:     weather.ConditionUnknown,
		}
		if len(h.Weather) > 0 {
			hf.Condition = mapCondition(h.Weather[0].Main)
			hf.Description = h.Weather[0].Description
		}
		f.Hourly = append(f.Hourly, hf)
	}
	return f
}

func (c *Client) toAirForecast(p geo.Point, resp *airPollutionResponse) *weather.AirForecast {
	f := &weather.AirForecast{
		Point:     p,
		Hourly:    make([]weather.AirHour, 0, len(resp.List)),
		FetchedAt: c.now(),
	}
	if resp.Coord.Lat != 0 || resp.Coord.Lon != 0 {
		f.Point = geo.Point{Lat: resp.Coord.Lat, Lon: resp.Coord.Lon}
	}
	for _, e := range resp.List {
		f.Hourly = append(f.Hourly, weather.NewAirHour(
			time.Unix(e.Dt, 0).UTC(),
			e.Main.AQI,
			airquality.Concentrations{
				PM25: e.Components.PM25,
				PM10: e.Components.PM10,
				NO2:  e.Components.NO2,
				O3:   e.Components.O3,
				CO:   e.Components.CO,
				SO2:  e.Components.SO2,
			},
		))
	}
	return f
}

func mapCondition(main string) weather.Condition {
	switch main {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionClouds
	case "Rain":
		return weather.ConditionRain
	case "Drizzle":
		return weather.ConditionDrizzle
	case "Thunderstorm":
		return weather.ConditionThunderstorm
	case "Snow":
		return weather.ConditionSnow
	case "Mist":
		return weather.ConditionMist
	case "Fog":
		return weather.ConditionFog
	case "Haze", "Dust", "Sand", "Ash", "Squall", "Tornado", "Smoke":
		return weather.ConditionHaze
	default:
		return weather.ConditionUnknown
	}
}

type condition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

type currentWeatherResponse struct {
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Weather []condition `json:"weather"`
	Main    struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Pressure  float64 `json:"pressure"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Visibility int `json:"visibility"`
	Wind       struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
		Gust  float64 `json:"gust"`
	} `json:"wind"`
	Clouds struct {
		All float64 `json:"all"`
	} `json:"clouds"`
	Dt int64 `json:"dt"`
}

type oneCallResponse struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Hourly []struct {
		Dt         int64       `json:"dt"`
		Temp       float64     `json:"temp"`
		FeelsLike  float64     `json:"feels_like"`
		Humidity   float64     `json:"humidity"`
		Clouds     float64     `json:"clouds"`
		Visibility int         `json:"visibility"`
		WindSpeed  float64     `json:"wind_speed"`
		WindDeg    float64     `json:"wind_deg"`
		WindGust   float64     `json:"wind_gust"`
		Pop        float64     `json:"pop"`
		Weather    []condition `json:"weather"`
		Rain       struct {
			OneHour float64 `json:"1h"`
		} `json:"rain"`
	} `json:"hourly"`
}

type airPollutionResponse struct {
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			AQI int `json:"aqi"`
		} `json:"main"`
		Components struct {
			CO   float64 `json:"co"`
			NO2  float64 `json:"no2"`
			O3   float64 `json:"o3"`
			SO2  float64 `json:"so2"`
			PM25 float64 `json:"pm2_5"`
			PM10 float64 `json:"pm10"`
		} `json:"components"`
	} `json:"list"`
}
