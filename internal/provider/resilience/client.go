package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

var (
	// ErrCircuitOpen is returned when the breaker rejects a request.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrMaxRetriesExceeded is returned when all retry attempts have been exhausted.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies this client in the breaker and the registry.
	Name string

	// Timeout for a single HTTP attempt (default: 10s).
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt (default: 3).
	MaxRetries uint64

	// InitialInterval is the first backoff interval (default: 100ms).
	InitialInterval time.Duration

	// MaxInterval caps the backoff interval (default: 5s).
	MaxInterval time.Duration

	// CircuitBreaker overrides DefaultCircuitBreakerConfig(Name).
	CircuitBreaker *CircuitBreakerConfig

	// Registry, when set, registers the client and records every outcome.
	Registry *Registry

	Logger zerolog.Logger
}

// DefaultClientConfig returns the retry and breaker defaults for a provider.
func DefaultClientConfig(name string) ClientConfig {
	cb := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		CircuitBreaker:  &cb,
	}
}

// Client is an HTTP client that retries transient failures with exponential
// backoff behind a circuit breaker. It satisfies the HTTPDoer interfaces of
// the provider clients.
type Client struct {
	name           string
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
	config         ClientConfig
	registry       *Registry
}

// NewClient creates a resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	cbCfg := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbCfg = *cfg.CircuitBreaker
	}
	cbCfg.Logger = cfg.Logger

	c := &Client{
		name:           cfg.Name,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: NewCircuitBreaker[*http.Response](cbCfg), //nolint:bodyclose // type param, not response
		config:         cfg,
		registry:       cfg.Registry,
	}
	if c.registry != nil {
		c.registry.Register(cfg.Name, c)
	}
	return c
}

// Name returns the client name.
func (c *Client) Name() string {
	return c.name
}

// Do executes req with breaker protection and retries. 5xx responses and
// network errors are retried; 4xx responses are returned as-is. When retries
// are exhausted on a 5xx, the last response is returned without an error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext executes req under ctx.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx)

	var lastResp *http.Response

	operation := func() error {
		resp, err := c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // caller closes
			r, err := c.httpClient.Do(req.Clone(ctx))
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 {
				return r, &ServerError{StatusCode: r.StatusCode}
			}
			return r, nil
		})

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}
			if resp != nil {
				if lastResp != nil {
					lastResp.Body.Close()
				}
				lastResp = resp
			}
			return err
		}

		if lastResp != nil {
			lastResp.Body.Close()
		}
		lastResp = resp
		return nil
	}

	err := backoff.Retry(operation, policy)
	c.record(lastResp, err)

	if err != nil {
		if lastResp != nil {
			return lastResp, nil
		}
		return nil, err
	}
	return lastResp, nil
}

func (c *Client) record(resp *http.Response, err error) {
	if c.registry == nil {
		return
	}
	switch {
	case err != nil:
		c.registry.RecordFailure(c.name, err)
	case resp != nil && resp.StatusCode >= 500:
		c.registry.RecordFailure(c.name, &ServerError{StatusCode: resp.StatusCode})
	default:
		c.registry.RecordSuccess(c.name)
	}
}

// ServerError represents an HTTP 5xx response.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// CircuitBreakerState returns the current breaker state.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current breaker counts.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}
