// Package apiclient is the only component that talks to the Resource API.
//
// Client adds bearer authentication, a per-attempt timeout, a bounded TTL
// cache for GET responses with request deduplication, optional rate limiting
// and exponential-backoff retries. Every other package reaches the network
// through a *Client.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/localrivet/npamcp/internal/config"
	"github.com/localrivet/npamcp/internal/errortypes"
	"github.com/localrivet/npamcp/internal/logger"
	"github.com/localrivet/npamcp/internal/telemetry"
	"github.com/localrivet/npamcp/internal/util"
)

// Defaults applied by New when an option is left zero.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second

	// maxErrorBody bounds how much of a failed response is kept in HTTPError.
	maxErrorBody = 1024
	// maxJitter is the exclusive upper bound of the random retry jitter.
	maxJitter = time.Second
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string

	// Timeout bounds a single attempt.
	Timeout time.Duration
	// RetryAttempts is the total number of attempts made by RequestWithRetry.
	RetryAttempts int
	// RetryDelay is the base backoff delay.
	RetryDelay time.Duration

	// CacheTTL is how long a GET response stays valid. Zero disables the cache.
	CacheTTL time.Duration
	// CacheMaxEntries caps the cache. Zero disables the cache.
	CacheMaxEntries int

	// RateLimitPerSecond caps outbound attempts. Zero disables the limiter.
	RateLimitPerSecond float64

	HTTPClient *http.Client
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
}

// RequestOptions describes a single call.
type RequestOptions struct {
	// Method defaults to GET.
	Method string
	// Body is JSON-encoded unless it is already []byte or json.RawMessage.
	Body any
	// Query is appended to the path.
	Query url.Values
	// Fresh skips the cache lookup for reads that must observe current state.
	// The response still refreshes the cache.
	Fresh bool
}

// Envelope is the body shape returned by the Resource API.
type Envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
	Total   int             `json:"total,omitempty"`
}

// Decode unmarshals the data member into out.
func (e *Envelope) Decode(out any) error {
	if strings.EqualFold(e.Status, "error") {
		return errortypes.APIError(errors.New(e.Message), "Resource API reported an error")
	}
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return errortypes.ExternalError(err, "failed to decode response data")
	}
	return nil
}

// Client is safe for concurrent use.
type Client struct {
	baseURL       string
	token         string
	timeout       time.Duration
	retryAttempts int
	retryDelay    time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *telemetry.Metrics
	logger     *slog.Logger

	cacheTTL        time.Duration
	cacheMaxEntries int
	mu              sync.Mutex
	cache           map[string]cacheEntry
	flight          singleflight.Group

	// Replaced in tests.
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	u, err := url.Parse(base)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errortypes.ConfigError(config.ErrInvalidBaseURL, "cannot create API client").
			WithField("base_url", opts.BaseURL)
	}
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errortypes.ConfigError(config.ErrMissingToken, "cannot create API client")
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		baseURL:         strings.TrimRight(base, "/"),
		token:           strings.TrimSpace(opts.Token),
		timeout:         opts.Timeout,
		retryAttempts:   opts.RetryAttempts,
		retryDelay:      opts.RetryDelay,
		httpClient:      opts.HTTPClient,
		metrics:         opts.Metrics,
		logger:          logger.WithComponent(opts.Logger, "apiclient"),
		cacheTTL:        opts.CacheTTL,
		cacheMaxEntries: opts.CacheMaxEntries,
		cache:           make(map[string]cacheEntry),
		now:             time.Now,
		sleep:           sleepContext,
		jitter:          randomJitter,
	}
	if opts.RateLimitPerSecond > 0 {
		burst := int(opts.RateLimitPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitPerSecond), burst)
	}
	return c, nil
}

// NewFromConfig builds a Client from loaded configuration.
func NewFromConfig(cfg *config.Config, metrics *telemetry.Metrics, log *slog.Logger) (*Client, error) {
	return New(Options{
		BaseURL:            cfg.API.BaseURL,
		Token:              cfg.API.Token,
		Timeout:            cfg.Timeout(),
		RetryAttempts:      cfg.API.RetryAttempts,
		RetryDelay:         cfg.RetryDelay(),
		CacheTTL:           cfg.CacheTTL(),
		CacheMaxEntries:    cfg.Cache.MaxEntries,
		RateLimitPerSecond: cfg.API.RateLimitPerSecond,
		Metrics:            metrics,
		Logger:             log,
	})
}

// Request performs one call and decodes the JSON response into out, which
// may be nil. GET responses are served from and stored in the cache;
// concurrent identical GET misses share one network call. A successful
// non-GET call invalidates the cache.
func (c *Client) Request(ctx context.Context, path string, opts RequestOptions, out any) error {
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.resolvePath(path, opts.Query)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	body, err := encodeBody(opts.Body)
	if err != nil {
		return err
	}

	if method != http.MethodGet {
		payload, err := c.do(ctx, method, target, body)
		if err != nil {
			return err
		}
		c.InvalidateCache()
		return decode(payload, out)
	}

	key := util.RequestDigest(method, target, body)
	if !opts.Fresh {
		if payload, ok := c.cacheGet(key); ok {
			c.metrics.CacheLookup(telemetry.CacheHit)
			c.logger.Debug("Cache hit", "path", target, "key", util.ShortID(key))
			return decode(payload, out)
		}
		c.metrics.CacheLookup(telemetry.CacheMiss)
	}

	flightKey := key
	if opts.Fresh {
		flightKey = "fresh:" + key
	}
	// The shared call must not inherit one caller's cancellation; each caller
	// waits on its own ctx and the attempt timeout bounds the call.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(flightKey, func() (any, error) {
		if !opts.Fresh {
			if payload, ok := c.cacheGet(key); ok {
				return payload, nil
			}
		}
		payload, err := c.do(flightCtx, method, target, body)
		if err != nil {
			return nil, err
		}
		c.cachePut(key, payload)
		return payload, nil
	})

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s %s: %w", method, target, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		if res.Shared {
			c.logger.Debug("Shared in-flight request", "path", target)
		}
		return decode(res.Val.([]byte), out)
	}
}

// do performs a single HTTP attempt bounded by the client timeout.
func (c *Client) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%s %s: %w", method, target, ctx.Err())
			}
			return nil, fmt.Errorf("%w: %v", ErrRateLimitExceedsDeadline, err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+target, reader)
	if err != nil {
		return nil, errortypes.InternalError(err, "failed to build request").WithField("path", target)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		timedOut := c.timedOut(ctx, attemptCtx)
		c.metrics.ObserveRequest(method, 0, timedOut, c.now().Sub(start))
		return nil, c.transportError(ctx, timedOut, err, method, target)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		timedOut := c.timedOut(ctx, attemptCtx)
		c.metrics.ObserveRequest(method, resp.StatusCode, timedOut, c.now().Sub(start))
		return nil, c.transportError(ctx, timedOut, err, method, target)
	}
	c.metrics.ObserveRequest(method, resp.StatusCode, false, c.now().Sub(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode)))
		if len(payload) > maxErrorBody {
			payload = payload[:maxErrorBody]
		}
		c.logger.Debug("Resource API returned error status",
			"method", method, "path", target, "status", resp.StatusCode)
		return nil, &errortypes.HTTPError{
			Status:     resp.StatusCode,
			StatusText: text,
			Method:     method,
			Path:       target,
			Body:       strings.TrimSpace(string(payload)),
		}
	}
	return payload, nil
}

// timedOut reports whether the attempt hit the client timeout rather than a
// deadline or cancellation owned by the caller.
func (c *Client) timedOut(parent, attempt context.Context) bool {
	return parent.Err() == nil && errors.Is(attempt.Err(), context.DeadlineExceeded)
}

func (c *Client) transportError(parent context.Context, timedOut bool, err error, method, target string) error {
	switch {
	case timedOut:
		return errortypes.TimeoutError(err, fmt.Sprintf("request timed out after %s", c.timeout)).
			WithField("method", method).
			WithField("path", target)
	case parent.Err() != nil:
		return fmt.Errorf("%s %s: %w", method, target, parent.Err())
	default:
		return errortypes.NetworkError(err, "request failed").
			WithField("method", method).
			WithField("path", target)
	}
}

// resolvePath joins path and query into the request target relative to the
// base URL. Absolute URLs are rejected so that every call stays on the
// configured host.
func (c *Client) resolvePath(path string, query url.Values) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || strings.Contains(trimmed, "://") {
		return "", errortypes.ValidationError(fmt.Errorf("invalid request path %q", path), "request path must be relative to the base URL")
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(trimmed, "?") {
			sep = "&"
		}
		trimmed += sep + query.Encode()
	}
	return trimmed, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, errortypes.ValidationError(err, "failed to encode request body")
		}
		return data, nil
	}
}

func decode(payload []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errortypes.ExternalError(err, "failed to decode response body")
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter() time.Duration {
	return time.Duration(rand.Int64N(int64(maxJitter)))
}
