package openweathermap_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airnav/internal/weather"
	"github.com/breatheroute/airnav/internal/weather/openweathermap"
	"github.com/breatheroute/airnav/pkg/geo"
)

var amsterdam = geo.Point{Lat: 52.37, Lon: 4.895}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newClient(url string) *openweathermap.Client {
	return openweathermap.NewClient(openweathermap.ClientConfig{
		APIKey:     "test-key",
		BaseURL:    url,
		OneCallURL: url + "/onecall",
		HTTPClient: http.DefaultClient,
	})
}

func TestClient_CurrentWeather(t *testing.T) {
	observed := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/weather", r.URL.Path)
		assert.Equal(t, "52.370000", r.URL.Query().Get("lat"))
		assert.Equal(t, "4.895000", r.URL.Query().Get("lon"))
		assert.Equal(t, "test-key", r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))

		writeJSON(w, map[string]any{
			"coord":      map[string]float64{"lat": 52.37, "lon": 4.895},
			"weather":    []map[string]any{{"id": 800, "main": "Clear", "description": "clear sky"}},
			"main":       map[string]float64{"temp": 18.5, "feels_like": 17.8, "pressure": 1015, "humidity": 72},
			"visibility": 10000,
			"wind":       map[string]float64{"speed": 4.5, "deg": 220, "gust": 7.2},
			"clouds":     map[string]float64{"all": 10},
			"dt":         observed.Unix(),
		})
	}))
	defer server.Close()

	obs, err := newClient(server.URL).CurrentWeather(context.Background(), amsterdam)
	require.NoError(t, err)

	assert.Equal(t, amsterdam, obs.Point)
	assert.Equal(t, 18.5, obs.Temperature)
	assert.Equal(t, 17.8, obs.FeelsLike)
	assert.Equal(t, 72.0, obs.Humidity)
	assert.Equal(t, 4.5, obs.WindSpeed)
	assert.Equal(t, 220.0, obs.WindDirection)
	assert.Equal(t, 7.2, obs.WindGust)
	assert.Equal(t, 1015.0, obs.Pressure)
	assert.Equal(t, 10000.0, obs.Visibility)
	assert.Equal(t, weather.ConditionClear, obs.Condition)
	assert.Equal(t, "clear sky", obs.Description)
	assert.True(t, observed.Equal(obs.ObservedAt))
}

func TestClient_Conditions(t *testing.T) {
	tests := map[string]weather.Condition{
		"Clouds":       weather.ConditionClouds,
		"Rain":         weather.ConditionRain,
		"Drizzle":      weather.ConditionDrizzle,
		"Thunderstorm": weather.ConditionThunderstorm,
		"Snow":         weather.ConditionSnow,
		"Mist":         weather.ConditionMist,
		"Fog":          weather.ConditionFog,
		"Dust":         weather.ConditionHaze,
		"Smoke":        weather.ConditionHaze,
		"Aurora":       weather.ConditionUnknown,
	}
	for main, want := range tests {
		t.Run(main, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, map[string]any{"weather": []map[string]any{{"main": main}}})
			}))
			defer server.Close()

			obs, err := newClient(server.URL).CurrentWeather(context.Background(), amsterdam)
			require.NoError(t, err)
			assert.Equal(t, want, obs.Condition)
		})
	}
}

func TestClient_Forecast(t *testing.T) {
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/onecall", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("exclude"), "daily")

		writeJSON(w, map[string]any{
			"lat": 52.37,
			"lon": 4.895,
			"hourly": []map[string]any{
				{"dt": start.Unix(), "temp": 16, "wind_speed": 0.5, "pop": 0.1, "weather": []map[string]any{{"main": "Clouds"}}},
				{"dt": start.Add(time.Hour).Unix(), "temp": 15, "wind_speed": 9, "pop": 0.8, "rain": map[string]float64{"1h": 1.4}, "weather": []map[string]any{{"main": "Rain", "description": "light rain"}}},
			},
		})
	}))
	defer server.Close()

	f, err := newClient(server.URL).Forecast(context.Background(), amsterdam)
	require.NoError(t, err)
	require.Len(t, f.Hourly, 2)

	assert.True(t, start.Equal(f.Hourly[0].Time))
	assert.Equal(t, weather.ConditionClouds, f.Hourly[0].Condition)
	assert.Equal(t, weather.WindCalm, weather.WindCategoryFor(f.Hourly[0].WindSpeed))
	assert.Equal(t, 0.8, f.Hourly[1].PrecipProb)
	assert.Equal(t, 1.4, f.Hourly[1].Rain)
	assert.Equal(t, "light rain", f.Hourly[1].Description)
}

func TestClient_AirForecast(t *testing.T) {
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/air_pollution/forecast", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("appid"))

		writeJSON(w, map[string]any{
			"coord": map[string]float64{"lat": 52.37, "lon": 4.895},
			"list": []map[string]any{
				{"dt": start.Unix(), "main": map[string]int{"aqi": 1}, "components": map[string]float64{"pm2_5": 12, "pm10": 20, "no2": 10}},
				{"dt": start.Add(time.Hour).Unix(), "main": map[string]int{"aqi": 4}, "components": map[string]float64{}},
			},
		})
	}))
	defer server.Close()

	f, err := newClient(server.URL).AirForecast(context.Background(), amsterdam)
	require.NoError(t, err)
	require.Len(t, f.Hourly, 2)

	assert.Equal(t, 50.0, f.Hourly[0].AQI, "derived from concentrations")
	assert.Equal(t, 12.0, f.Hourly[0].Concentrations.PM25)
	assert.Equal(t, 175.0, f.Hourly[1].AQI, "derived from the index")

	aqi, ok := f.AQIAt(start.Add(90 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, 175.0, aqi)
}

func TestClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newClient(server.URL).AirForecast(context.Background(), amsterdam)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
