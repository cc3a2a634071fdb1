package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airnav/internal/api/middleware"
)

func serve(h http.Handler, configure func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	configure(req)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func fromIP(ip string) func(*http.Request) {
	return func(r *http.Request) { r.RemoteAddr = ip }
}

func TestRateLimitByIP_BlocksOverLimit(t *testing.T) {
	handler := middleware.RateLimitByIP(middleware.RateLimitConfig{
		RequestLimit: 3,
		WindowLength: time.Minute,
	})(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(handler, fromIP("10.0.0.1:12345")).Code, "request %d", i+1)
	}

	rec := serve(handler, fromIP("10.0.0.1:12345"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rate limit exceeded")
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, serve(handler, fromIP("10.0.0.2:12345")).Code)
}

func TestRateLimitByClient_KeysByClientHeader(t *testing.T) {
	handler := middleware.RateLimitByClient(middleware.RateLimitConfig{
		RequestLimit: 2,
		WindowLength: 30 * time.Second,
	})(okHandler())

	device := func(id, ip string) func(*http.Request) {
		return func(r *http.Request) {
			r.RemoteAddr = ip
			r.Header.Set(middleware.ClientIDHeader, id)
		}
	}

	// Same device on two networks shares one budget.
	assert.Equal(t, http.StatusOK, serve(handler, device("device-1", "192.168.1.1:1")).Code)
	assert.Equal(t, http.StatusOK, serve(handler, device("device-1", "192.168.1.2:1")).Code)
	rec := serve(handler, device("device-1", "192.168.1.3:1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, serve(handler, device("device-2", "192.168.1.1:1")).Code)
}

func TestRateLimitByClient_KeysBySession(t *testing.T) {
	tokens := newTestTokens()
	handler := middleware.SessionAuth(tokens)(middleware.RateLimitByClient(middleware.RateLimitConfig{
		RequestLimit: 1,
		WindowLength: time.Minute,
	})(okHandler()))

	tokenA, _, err := tokens.Issue("sess-a", "device-1")
	require.NoError(t, err)
	tokenB, _, err := tokens.Issue("sess-b", "device-1")
	require.NoError(t, err)

	bearer := func(token string) func(*http.Request) {
		return func(r *http.Request) {
			r.RemoteAddr = "198.51.100.7:1"
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}

	assert.Equal(t, http.StatusOK, serve(handler, bearer(tokenA)).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, bearer(tokenA)).Code)
	assert.Equal(t, http.StatusOK, serve(handler, bearer(tokenB)).Code)
}

func TestRateLimitByClient_FallsBackToIP(t *testing.T) {
	handler := middleware.RateLimitByClient(middleware.RateLimitConfig{
		RequestLimit: 1,
		WindowLength: time.Minute,
	})(okHandler())

	badHeader := func(r *http.Request) {
		r.RemoteAddr = "203.0.113.9:1"
		r.Header.Set(middleware.ClientIDHeader, "not a valid id!")
	}
	assert.Equal(t, http.StatusOK, serve(handler, badHeader).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, fromIP("203.0.113.9:2")).Code)
}

func TestRateLimitExceededResponse_Format(t *testing.T) {
	handler := middleware.RequestID(middleware.RateLimitByIP(middleware.RateLimitConfig{
		RequestLimit: 1,
		WindowLength: time.Minute,
	})(okHandler()))

	at := func(r *http.Request) {
		r.RemoteAddr = "203.0.113.1:12345"
		r.URL.Path = "/v1/routes:optimize"
	}
	assert.Equal(t, http.StatusOK, serve(handler, at).Code)

	rec := serve(handler, at)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "too-many-requests")
	assert.Contains(t, body, "/v1/routes:optimize")
}

func TestDefaultRateLimitConfigs(t *testing.T) {
	assert.Equal(t, 30, middleware.OptimizeRateLimit.RequestLimit)
	assert.Equal(t, 10, middleware.SessionRateLimit.RequestLimit)
	assert.Equal(t, 300, middleware.LocationRateLimit.RequestLimit)
	assert.Equal(t, 100, middleware.StandardRateLimit.RequestLimit)
	for _, cfg := range []middleware.RateLimitConfig{
		middleware.OptimizeRateLimit, middleware.SessionRateLimit,
		middleware.LocationRateLimit, middleware.StandardRateLimit,
	} {
		assert.Equal(t, time.Minute, cfg.WindowLength)
	}
}
