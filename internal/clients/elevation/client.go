// Package elevation is a client for an Open-Meteo compatible elevation
// service.
package elevation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/jgbreault/PinnaclePoints/internal/logging"
	"github.com/jgbreault/PinnaclePoints/model"
)

// HTTPDoer is the subset of *http.Client the client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Recorder receives request metrics. *observability.SearchCollector
// satisfies it.
type Recorder interface {
	ObserveElevationRequest(code int)
	ObserveElevationRetry()
}

// ServiceError is a non-200 response from the elevation service.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("elevation service returned %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Temporary reports whether the request may succeed if retried.
func (e *ServiceError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config controls batching, rate limiting and retries.
type Config struct {
	BaseURL   string
	BatchSize int // points per request

	RequestsPerSecond float64 // shared by all callers; <= 0 disables limiting
	Burst             int

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration // per request
}

// DefaultConfig targets a local Open-Meteo instance.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "http://127.0.0.1:8080",
		BatchSize:         100,
		RequestsPerSecond: 50,
		Burst:             10,
		MaxAttempts:       5,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		Timeout:           30 * time.Second,
	}
}

// Option customises a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithRecorder sets the client's metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// Client fetches terrain elevations. It is safe for concurrent use and its
// rate limit applies across all goroutines.
type Client struct {
	cfg      Config
	http     HTTPDoer
	limiter  *rate.Limiter
	log      logging.Logger
	recorder Recorder
}

// NewClient creates a client using a plain *http.Client.
func NewClient(cfg Config, opts ...Option) *Client {
	return NewClientWithHTTPDoer(cfg, &http.Client{Timeout: cfg.Timeout}, opts...)
}

// NewClientWithHTTPDoer creates a client with a custom HTTP implementation.
func NewClientWithHTTPDoer(cfg Config, doer HTTPDoer, opts ...Option) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	c := &Client{
		cfg:     cfg,
		http:    doer,
		limiter: rate.NewLimiter(limit, burst),
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Elevations returns the elevation in metres of each point, in order.
func (c *Client) Elevations(ctx context.Context, points []model.Point) ([]float64, error) {
	out := make([]float64, 0, len(points))
	for start := 0; start < len(points); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(points))
		batch, err := c.fetchWithRetry(ctx, points[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (c *Client) fetchWithRetry(ctx context.Context, points []model.Point) ([]float64, error) {
	b := backoff.NewExponentialBackOff()
	if c.cfg.InitialBackoff > 0 {
		b.InitialInterval = c.cfg.InitialBackoff
	}
	if c.cfg.MaxBackoff > 0 {
		b.MaxInterval = c.cfg.MaxBackoff
	}

	op := func() ([]float64, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		return c.fetch(ctx, points)
	}
	notify := func(err error, wait time.Duration) {
		if c.recorder != nil {
			c.recorder.ObserveElevationRetry()
		}
		c.log.Debug(ctx, "retrying elevation request",
			logging.Err(err),
			logging.Duration("wait", wait),
			logging.Int("points", len(points)),
		)
	}

	elevations, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return nil, fmt.Errorf("elevations for %d points: %w", len(points), err)
	}
	return elevations, nil
}

type response struct {
	Elevation []float64 `json:"elevation"`
}

func (c *Client) fetch(ctx context.Context, points []model.Point) ([]float64, error) {
	lats := make([]string, len(points))
	lngs := make([]string, len(points))
	for i, p := range points {
		lats[i] = strconv.FormatFloat(p.Lat, 'f', 6, 64)
		lngs[i] = strconv.FormatFloat(p.Lng, 'f', 6, 64)
	}
	params := url.Values{}
	params.Set("latitude", strings.Join(lats, ","))
	params.Set("longitude", strings.Join(lngs, ","))
	requestURL := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/elevation?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(0)
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	c.observe(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &ServiceError{StatusCode: resp.StatusCode, Body: string(body)}
		if serr.Temporary() {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if len(payload.Elevation) != len(points) {
		return nil, backoff.Permanent(fmt.Errorf("asked for %d elevations, got %d", len(points), len(payload.Elevation)))
	}
	return payload.Elevation, nil
}

func (c *Client) observe(code int) {
	if c.recorder != nil {
		c.recorder.ObserveElevationRequest(code)
	}
}

// IsServiceError reports whether err carries a ServiceError and returns it.
func IsServiceError(err error) (*ServiceError, bool) {
	var serr *ServiceError
	ok := errors.As(err, &serr)
	return serr, ok
}
