// Package openrouteservice provides a client for the OpenRouteService directions API.
package openrouteservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airnav/internal/provider/resilience"
	"github.com/breatheroute/airnav/internal/routing"
	"github.com/breatheroute/airnav/pkg/geo"
)

const (
	// ProviderName identifies this routing provider.
	ProviderName = "openrouteservice"

	// DefaultBaseURL is the OpenRouteService API base URL.
	DefaultBaseURL = "https://api.openrouteservice.org"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 10 * time.Second
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the OpenRouteService client.
type ClientConfig struct {
	// APIKey is the ORS API key (required).
	APIKey string

	// BaseURL is the API base URL (optional, defaults to ORS API).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient HTTPDoer

	// Timeout is the request timeout (optional, defaults to 10s).
	Timeout time.Duration

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger

	// Now stamps responses (default: time.Now).
	Now func() time.Time
}

// Client is an OpenRouteService API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
	now        func() time.Time
}

// NewClient creates a new OpenRouteService client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Timeout = timeout
		clientCfg.Registry = cfg.Registry
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
		now:        now,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// SupportedProfiles returns the supported routing profiles.
func (c *Client) SupportedProfiles() []routing.RouteProfile {
	return []routing.RouteProfile{
		routing.ProfileWalk,
		routing.ProfileBike,
	}
}

// GetDirections retrieves the main route and its alternatives.
func (c *Client) GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
	if err := req.Origin.Validate(); err != nil {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "INVALID_ORIGIN",
			Message:  "invalid origin coordinates",
			Err:      routing.ErrInvalidCoordinates,
		}
	}
	if err := req.Destination.Validate(); err != nil {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "INVALID_DESTINATION",
			Message:  "invalid destination coordinates",
			Err:      routing.ErrInvalidCoordinates,
		}
	}

	profile := req.Profile
	if profile == "" {
		profile = routing.ProfileWalk
	}

	maxAlts := req.MaxAlternatives
	if maxAlts <= 0 {
		maxAlts = 2
	}

	orsReq := orsRequest{
		// ORS uses [lon, lat] order (GeoJSON)
		Coordinates: [][]float64{
			{req.Origin.Lon, req.Origin.Lat},
			{req.Destination.Lon, req.Destination.Lat},
		},
		AlternativeRoutes: &alternativeRoutesOpts{
			TargetCount:  maxAlts + 1, // the main route counts toward the target
			ShareFactor:  0.6,
			WeightFactor: 1.4,
		},
		Instructions: true,
		Geometry:     true,
		Units:        "m",
		Language:     "en",
	}

	body, err := json.Marshal(orsReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/v2/directions/%s", c.baseURL, profile)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("profile", string(profile)).
		Int("target_count", orsReq.AlternativeRoutes.TargetCount).
		Msg("requesting directions from ORS")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to reach routing provider",
			Err:      routing.ErrProviderUnavailable,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp.StatusCode, respBody)
	}

	var orsResp orsResponse
	if err := json.Unmarshal(respBody, &orsResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	result := c.toDirectionsResponse(&orsResp)
	if len(result.Routes) == 0 {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "NO_ROUTE",
			Message:  "provider returned no usable route",
			Err:      routing.ErrNoRouteFound,
		}
	}

	c.logger.Debug().
		Int("route_count", len(result.Routes)).
		Msg("received directions from ORS")

	return result, nil
}

// handleErrorResponse maps ORS error responses to domain errors.
func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	var orsErr orsErrorResponse
	if err := json.Unmarshal(body, &orsErr); err != nil {
		return &routing.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", statusCode),
			Message:  fmt.Sprintf("routing provider returned status %d", statusCode),
			Err:      routing.ErrProviderUnavailable,
		}
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return &routing.Error{
			Provider: ProviderName,
			Code:     "RATE_LIMIT",
			Message:  "API rate limit exceeded, please try again later",
			Err:      routing.ErrRateLimitExceeded,
		}
	case statusCode == http.StatusForbidden:
		return &routing.Error{
			Provider: ProviderName,
			Code:     "FORBIDDEN",
			Message:  "API access denied - check API key configuration",
			Err:      routing.ErrProviderUnavailable,
		}
	case statusCode == http.StatusNotFound,
		orsErr.Error.Code == orsErrorCodeNotFound,
		orsErr.Error.Code == orsErrorCodePointNotFound:
		return &routing.Error{
			Provider: ProviderName,
			Code:     "NO_ROUTE",
			Message:  orsErr.Error.Message,
			Err:      routing.ErrNoRouteFound,
		}
	case statusCode == http.StatusBadRequest:
		code := "BAD_REQUEST"
		if orsErr.Error.Code == orsErrorCodeInvalidParam {
			code = "INVALID_PARAMETER"
		}
		return &routing.Error{
			Provider: ProviderName,
			Code:     code,
			Message:  orsErr.Error.Message,
			Err:      routing.ErrInvalidCoordinates,
		}
	case statusCode >= 500:
		return &routing.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("SERVER_%d", statusCode),
			Message:  "routing provider is temporarily unavailable",
			Err:      routing.ErrProviderUnavailable,
		}
	default:
		return &routing.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", statusCode),
			Message:  orsErr.Error.Message,
			Err:      routing.ErrProviderUnavailable,
		}
	}
}

// toDirectionsResponse converts the ORS response to the domain model. Routes
// whose geometry decodes to fewer than two points are dropped.
func (c *Client) toDirectionsResponse(resp *orsResponse) *routing.DirectionsResponse {
	routes := make([]routing.Route, 0, len(resp.Routes))

	for i := range resp.Routes {
		orsRoute := &resp.Routes[i]
		coords := geo.Decode(orsRoute.Geometry)
		if len(coords) < 2 {
			c.logger.Warn().Int("route_index", i).Msg("skipping route with degenerate geometry")
			continue
		}

		route := routing.Route{
			Coordinates:     coords,
			Polyline:        orsRoute.Geometry,
			DistanceMeters:  orsRoute.Summary.Distance,
			DurationSeconds: orsRoute.Summary.Duration,
			Steps:           toSteps(orsRoute.Segments, coords),
		}

		if len(orsRoute.BBox) >= 4 {
			route.BoundingBox = &routing.BoundingBox{
				MinLon: orsRoute.BBox[0],
				MinLat: orsRoute.BBox[1],
				MaxLon: orsRoute.BBox[2],
				MaxLat: orsRoute.BBox[3],
			}
		}
		route.Summary = routeSummaryText(route.Steps)

		for _, w := range orsRoute.Warnings {
			c.logger.Debug().Int("code", w.Code).Str("message", w.Message).Msg("ORS route warning")
		}

		routes = append(routes, route)
	}

	return &routing.DirectionsResponse{
		Routes:    routes,
		Provider:  ProviderName,
		FetchedAt: c.now(),
	}
}

// toSteps flattens segment steps. A step's point is the geometry vertex at
// its first way point, clamped into range.
func toSteps(segments []routeSegment, coords []geo.Point) []routing.Step {
	var steps []routing.Step
	for _, seg := range segments {
		for _, s := range seg.Steps {
			idx := 0
			if len(s.WayPoints) > 0 {
				idx = min(max(s.WayPoints[0], 0), len(coords)-1)
			}
			steps = append(steps, routing.Step{
				Index:           len(steps),
				Point:           coords[idx],
				Maneuver:        routing.ManeuverFromORS(s.Type),
				Instruction:     s.Instruction,
				Name:            s.Name,
				DistanceMeters:  s.Distance,
				DurationSeconds: s.Duration,
			})
		}
	}
	return steps
}

// routeSummaryText names the (up to) two longest named streets, in route order.
func routeSummaryText(steps []routing.Step) string {
	type named struct {
		idx  int
		name string
		dist float64
	}
	var cands []named
	seen := make(map[string]bool)
	for i, s := range steps {
		if s.Name == "" || s.Name == "-" || seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		cands = append(cands, named{i, s.Name, s.DistanceMeters})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].dist > cands[j].dist })
	if len(cands) > 2 {
		cands = cands[:2]
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].idx < cands[j].idx })

	names := make([]string, len(cands))
	for i, n := range cands {
		names[i] = n.name
	}
	return strings.Join(names, ", ")
}
