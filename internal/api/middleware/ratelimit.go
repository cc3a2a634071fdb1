package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/breatheroute/airnav/internal/api/models"
)

// ClientIDHeader carries the device identifier of unauthenticated clients.
const ClientIDHeader = "X-Client-Id"

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// Requests per window
	RequestLimit int
	// Window duration
	WindowLength time.Duration
}

// Default rate limit configurations.
var (
	// OptimizeRateLimit applies to route optimization (30 req/min).
	OptimizeRateLimit = RateLimitConfig{
		RequestLimit: 30,
		WindowLength: time.Minute,
	}

	// SessionRateLimit applies to session creation (10 req/min).
	SessionRateLimit = RateLimitConfig{
		RequestLimit: 10,
		WindowLength: time.Minute,
	}

	// LocationRateLimit applies to location updates. A device reporting
	// once per second stays well below it.
	LocationRateLimit = RateLimitConfig{
		RequestLimit: 300,
		WindowLength: time.Minute,
	}

	// StandardRateLimit applies to read endpoints (100 req/min).
	StandardRateLimit = RateLimitConfig{
		RequestLimit: 100,
		WindowLength: time.Minute,
	}
)

// RateLimitByIP limits by client IP (X-Forwarded-For aware).
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(limitExceeded(cfg)),
	)
}

// RateLimitByClient limits by session when a session token was validated,
// then by the X-Client-Id header, then by IP.
func RateLimitByClient(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(keyByClient),
		httprate.WithLimitHandler(limitExceeded(cfg)),
	)
}

func keyByClient(r *http.Request) (string, error) {
	if claims := GetSessionClaims(r.Context()); claims != nil {
		return "session:" + claims.SessionID, nil
	}
	if id := r.Header.Get(ClientIDHeader); validRequestID(id) {
		return "client:" + id, nil
	}
	return httprate.KeyByRealIP(r)
}

// limitExceeded writes a 429 problem. httprate does not expose the reset
// time, so Retry-After is the full window.
func limitExceeded(cfg RateLimitConfig) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(math.Ceil(cfg.WindowLength.Seconds())))
	return func(w http.ResponseWriter, r *http.Request) {
		problem := models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.")
		problem.Instance = r.URL.Path
		w.Header().Set("Retry-After", retryAfter)
		problem.Write(w)
	}
}
