// Package luchtmeetnet provides a ground station feed backed by the Dutch
// Luchtmeetnet open API.
package luchtmeetnet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/breatheroute/airnav/internal/airquality"
	"github.com/breatheroute/airnav/internal/provider/resilience"
)

const (
	// DefaultBaseURL is the base URL for the Luchtmeetnet API.
	DefaultBaseURL = "https://api.luchtmeetnet.nl/open_api"

	// ProviderName identifies this provider in snapshots and readings.
	ProviderName = "luchtmeetnet"
)

// ClientConfig holds configuration for the Luchtmeetnet client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// HTTPClient executes requests. If nil, a resilient client is created.
	HTTPClient HTTPDoer

	// Registry tracks the default client's health. Optional.
	Registry *resilience.Registry

	// Timeout for individual API requests (default: 10s).
	Timeout time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a Luchtmeetnet API client. It implements airquality.Provider.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	now        func() time.Time
}

// NewClient creates a new Luchtmeetnet client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            ProviderName,
			Timeout:         timeout,
			MaxRetries:      3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Registry:        cfg.Registry,
		})
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		now:        cfg.Now,
	}
}

type paginationInfo struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
}

type stationsResponse struct {
	Pagination paginationInfo `json:"pagination"`
	Data       []stationData  `json:"data"`
}

type stationData struct {
	Number     string   `json:"number"`
	Location   string   `json:"location"`
	Geometry   geometry `json:"geometry"`
	Components []string `json:"components"`
}

// geometry is a GeoJSON point; coordinates are [lon, lat].
type geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type measurementsResponse struct {
	Pagination paginationInfo    `json:"pagination"`
	Data       []measurementData `json:"data"`
}

type measurementData struct {
	StationNumber     string  `json:"station_number"`
	Formula           string  `json:"formula"`
	Value             float64 `json:"value"`
	TimestampMeasured string  `json:"timestamp_measured"`
}

// FetchStations retrieves all monitoring stations across every page.
func (c *Client) FetchStations(ctx context.Context) ([]*airquality.Station, error) {
	var all []*airquality.Station
	for page := 1; ; page++ {
		var result stationsResponse
		if err := c.get(ctx, "/stations", url.Values{"page": {fmt.Sprint(page)}}, &result); err != nil {
			return nil, fmt.Errorf("fetch stations: %w", err)
		}
		for i := range result.Data {
			if s := c.toStation(&result.Data[i]); s != nil {
				all = append(all, s)
			}
		}
		if page >= result.Pagination.LastPage {
			return all, nil
		}
	}
}

// FetchLatestMeasurements retrieves the latest measurements for all stations.
// Unsupported pollutants are skipped.
func (c *Client) FetchLatestMeasurements(ctx context.Context) ([]*airquality.Measurement, error) {
	var all []*airquality.Measurement
	for page := 1; ; page++ {
		q := url.Values{
			"page":            {fmt.Sprint(page)},
			"order_by":        {"timestamp_measured"},
			"order_direction": {"desc"},
		}
		var result measurementsResponse
		if err := c.get(ctx, "/measurements", q, &result); err != nil {
			return nil, fmt.Errorf("fetch measurements: %w", err)
		}
		for i := range result.Data {
			if m := toMeasurement(&result.Data[i]); m != nil {
				all = append(all, m)
			}
		}
		if page >= result.Pagination.LastPage {
			return all, nil
		}
	}
}

// FetchSnapshot fetches stations and their latest measurements. When a
// station reports the same pollutant more than once, the newest value wins.
func (c *Client) FetchSnapshot(ctx context.Context) (*airquality.StationSnapshot, error) {
	stations, err := c.FetchStations(ctx)
	if err != nil {
		return nil, err
	}
	measurements, err := c.FetchLatestMeasurements(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := airquality.NewStationSnapshot(ProviderName)
	snapshot.FetchedAt = c.now()

	for _, s := range stations {
		snapshot.Stations[s.ID] = s
	}
	for _, m := range measurements {
		if prev := snapshot.GetMeasurement(m.StationID, m.Pollutant); prev != nil && prev.MeasuredAt.After(m.MeasuredAt) {
			continue
		}
		snapshot.SetMeasurement(m)
	}

	return snapshot, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// toStation converts API station data; stations without coordinates are dropped.
func (c *Client) toStation(s *stationData) *airquality.Station {
	if len(s.Geometry.Coordinates) < 2 {
		return nil
	}

	pollutants := make([]airquality.Pollutant, 0, len(s.Components))
	for _, comp := range s.Components {
		if p := toPollutant(comp); p != "" {
			pollutants = append(pollutants, p)
		}
	}

	return &airquality.Station{
		ID:         s.Number,
		Name:       s.Location,
		Lat:        s.Geometry.Coordinates[1],
		Lon:        s.Geometry.Coordinates[0],
		Pollutants: pollutants,
		UpdatedAt:  c.now(),
	}
}

func toMeasurement(m *measurementData) *airquality.Measurement {
	pollutant := toPollutant(m.Formula)
	if pollutant == "" {
		return nil
	}

	measuredAt, _ := time.Parse(time.RFC3339, m.TimestampMeasured)

	return &airquality.Measurement{
		StationID:  m.StationNumber,
		Pollutant:  pollutant,
		Value:      m.Value,
		Unit:       "µg/m³",
		MeasuredAt: measuredAt,
	}
}

func toPollutant(formula string) airquality.Pollutant {
	switch strings.ToUpper(formula) {
	case "NO2":
		return airquality.PollutantNO2
	case "PM25":
		return airquality.PollutantPM25
	case "PM10":
		return airquality.PollutantPM10
	case "O3":
		return airquality.PollutantO3
	case "CO":
		return airquality.PollutantCO
	case "SO2":
		return airquality.PollutantSO2
	default:
		return ""
	}
}
