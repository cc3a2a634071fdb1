package luchtmeetnet_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/airquality/luchtmeetnet"
)

func page(current, last int, data any) map[string]any {
	return map[string]any{
		"pagination": map[string]int{"current_page": current, "last_page": last},
		"data":       data,
	}
}

func station(number, location string, lon, lat float64, components ...string) map[string]any {
	return map[string]any{
		"number":     number,
		"location":   location,
		"geometry":   map[string]any{"type": "point", "coordinates": []float64{lon, lat}},
		"components": components,
	}
}

func measurement(stationNumber, formula string, value float64, ts string) map[string]any {
	return map[string]any{
		"station_number":     stationNumber,
		"formula":            formula,
		"value":              value,
		"timestamp_measured": ts,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newClient(url string) *luchtmeetnet.Client {
	return luchtmeetnet.NewClient(luchtmeetnet.ClientConfig{
		BaseURL:    url,
		HTTPClient: http.DefaultClient,
	})
}

func TestClient_FetchStations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stations", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))

		writeJSON(w, page(1, 1, []any{
			station("NL10938", "Amsterdam-Einsteinweg", 4.895168, 52.370216, "NO2", "PM10", "PM25"),
			station("NL10636", "Rotterdam-Schiedamsevest", 4.47917, 51.9225, "NO2", "O3"),
			map[string]any{"number": "NL00000", "location": "No geometry"},
		}))
	}))
	defer server.Close()

	stations, err := newClient(server.URL).FetchStations(context.Background())
	require.NoError(t, err)
	require.Len(t, stations, 2)

	assert.Equal(t, "NL10938", stations[0].ID)
	assert.Equal(t, "Amsterdam-Einsteinweg", stations[0].Name)
	assert.Equal(t, 52.370216, stations[0].Lat)
	assert.Equal(t, 4.895168, stations[0].Lon)
	assert.Contains(t, stations[0].Pollutants, airquality.PollutantPM25)
}

func TestClient_FetchStations_Pagination(t *testing.T) {
	var pages atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		if r.URL.Query().Get("page") == "1" {
			writeJSON(w, page(1, 2, []any{station("NL10001", "Station 1", 4.0, 52.0, "NO2")}))
			return
		}
		writeJSON(w, page(2, 2, []any{station("NL10002", "Station 2", 5.0, 51.0, "PM25")}))
	}))
	defer server.Close()

	stations, err := newClient(server.URL).FetchStations(context.Background())
	require.NoError(t, err)
	assert.Len(t, stations, 2)
	assert.Equal(t, int32(2), pages.Load())
}

func TestClient_FetchLatestMeasurements_SkipsUnknownPollutants(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/measurements", r.URL.Path)
		writeJSON(w, page(1, 1, []any{
			measurement("NL10938", "NO2", 32.5, "2024-01-15T14:00:00+01:00"),
			measurement("NL10938", "SO2", 5.0, "2024-01-15T14:00:00+01:00"),
		}))
	}))
	defer server.Close()

	measurements, err := newClient(server.URL).FetchLatestMeasurements(context.Background())
	require.NoError(t, err)
	require.Len(t, measurements, 1)
	assert.Equal(t, airquality.PollutantNO2, measurements[0].Pollutant)
	assert.Equal(t, "µg/m³", measurements[0].Unit)
}

func TestClient_FetchSnapshot_KeepsNewestMeasurement(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stations":
			writeJSON(w, page(1, 1, []any{station("NL10938", "Amsterdam-Einsteinweg", 4.895168, 52.370216, "PM25")}))
		case "/measurements":
			writeJSON(w, page(1, 1, []any{
				measurement("NL10938", "PM25", 20.0, "2024-01-15T14:00:00+01:00"),
				measurement("NL10938", "PM25", 9.0, "2024-01-15T13:00:00+01:00"),
			}))
		}
	}))
	defer server.Close()

	snapshot, err := newClient(server.URL).FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, luchtmeetnet.ProviderName, snapshot.Provider)

	m := snapshot.GetMeasurement("NL10938", airquality.PollutantPM25)
	require.NotNil(t, m)
	assert.Equal(t, 20.0, m.Value)

	r, ok := snapshot.Reading("NL10938")
	require.True(t, ok)
	assert.Equal(t, airquality.AQIFromPM25(20.0), r.AQI)
	assert.Equal(t, luchtmeetnet.ProviderName, r.Source)
	assert.True(t, r.CapturedAt.Equal(time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC)))
}

func TestClient_FetchStations_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newClient(server.URL).FetchStations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestClient_FetchStations_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newClient(server.URL).FetchStations(ctx)
	require.Error(t, err)
}
