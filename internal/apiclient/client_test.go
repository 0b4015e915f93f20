package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/npamcp/internal/errortypes"
	"github.com/localrivet/npamcp/internal/telemetry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestClient(t *testing.T, baseURL string, mutate func(*Options)) (*Client, *fakeClock, *sleepRecorder) {
	t.Helper()
	opts := Options{
		BaseURL:         baseURL,
		Token:           "test-token",
		Timeout:         time.Second,
		RetryAttempts:   3,
		RetryDelay:      100 * time.Millisecond,
		CacheTTL:        300 * time.Second,
		CacheMaxEntries: 100,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)

	clock := newFakeClock()
	sleeps := &sleepRecorder{}
	c.now = clock.Now
	c.sleep = sleeps.Sleep
	c.jitter = func() time.Duration { return 0 }
	return c, clock, sleeps
}

func envelopeHandler(calls *atomic.Int32, data any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		raw, _ := json.Marshal(data)
		_ = json.NewEncoder(w).Encode(Envelope{Status: "success", Data: raw})
	}
}

func TestRequestSendsHeadersAndJoinsBase(t *testing.T) {
	var gotPath, gotAuth, gotType, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"status":"success","data":[1,2,3],"total":3}`))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL+"/api/v2/", nil)

	var env Envelope
	err := c.Request(context.Background(), "steering/apps/private", RequestOptions{
		Query: map[string][]string{"limit": {"10"}},
	}, &env)
	require.NoError(t, err)

	assert.Equal(t, "/api/v2/steering/apps/private", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "limit=10", gotQuery)
	assert.Equal(t, 3, env.Total)

	var ids []int
	require.NoError(t, env.Decode(&ids))
	assert.Equal(t, []int{1, 2, 3}, ids)
}

func TestRequestRejectsAbsolutePath(t *testing.T) {
	c, _, _ := newTestClient(t, "https://tenant.example.com/api/v2", nil)

	err := c.Request(context.Background(), "https://elsewhere.example.com/x", RequestOptions{}, nil)
	assert.True(t, errortypes.IsValidationError(err))
}

func TestGetIsCachedUntilTTLExpires(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(envelopeHandler(&calls, []string{"a"}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	c, clock, _ := newTestClient(t, srv.URL, func(o *Options) { o.Metrics = metrics })
	ctx := context.Background()

	require.NoError(t, c.Request(ctx, "/policy/npa/rules", RequestOptions{}, nil))
	require.NoError(t, c.Request(ctx, "/policy/npa/rules", RequestOptions{}, nil))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues(telemetry.CacheHit)))

	clock.Advance(299 * time.Second)
	require.NoError(t, c.Request(ctx, "/policy/npa/rules", RequestOptions{}, nil))
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(2 * time.Second)
	require.NoError(t, c.Request(ctx, "/policy/npa/rules", RequestOptions{}, nil))
	assert.Equal(t, int32(2), calls.Load())
}

func TestFreshBypassesCacheLookup(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(envelopeHandler(&calls, nil))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	require.NoError(t, c.Request(ctx, "/steering/apps/private", RequestOptions{}, nil))
	require.NoError(t, c.Request(ctx, "/steering/apps/private", RequestOptions{Fresh: true}, nil))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, c.CacheLen())
}

func TestCacheEvictsOldestAtCapacity(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(envelopeHandler(&calls, nil))
	defer srv.Close()

	c, clock, _ := newTestClient(t, srv.URL, func(o *Options) { o.CacheMaxEntries = 3 })
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		require.NoError(t, c.Request(ctx, fmt.Sprintf("/infrastructure/publishers/%d", i), RequestOptions{}, nil))
		clock.Advance(time.Second)
	}
	assert.Equal(t, 3, c.CacheLen())
	assert.Equal(t, int32(4), calls.Load())

	require.NoError(t, c.Request(ctx, "/infrastructure/publishers/4", RequestOptions{}, nil))
	require.NoError(t, c.Request(ctx, "/infrastructure/publishers/2", RequestOptions{}, nil))
	assert.Equal(t, int32(4), calls.Load(), "newest entries stay cached")

	require.NoError(t, c.Request(ctx, "/infrastructure/publishers/1", RequestOptions{}, nil))
	assert.Equal(t, int32(5), calls.Load(), "oldest entry was evicted")
	assert.Equal(t, 3, c.CacheLen())
}

func TestReplacingCachedKeyDoesNotEvict(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(envelopeHandler(&calls, nil))
	defer srv.Close()

	c, clock, _ := newTestClient(t, srv.URL, func(o *Options) { o.CacheMaxEntries = 2 })
	ctx := context.Background()

	require.NoError(t, c.Request(ctx, "/a", RequestOptions{}, nil))
	clock.Advance(time.Second)
	require.NoError(t, c.Request(ctx, "/b", RequestOptions{}, nil))
	clock.Advance(time.Second)
	require.NoError(t, c.Request(ctx, "/a", RequestOptions{Fresh: true}, nil))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, c.CacheLen())

	require.NoError(t, c.Request(ctx, "/b", RequestOptions{}, nil))
	assert.Equal(t, int32(3), calls.Load())
}

func TestMutationSkipsAndInvalidatesCache(t *testing.T) {
	var calls atomic.Int32
	var methods []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	require.NoError(t, c.Request(ctx, "/policy/npa/rules/7", RequestOptions{}, nil))
	assert.Equal(t, 1, c.CacheLen())

	body := map[string]string{"rule_name": "x"}
	require.NoError(t, c.Request(ctx, "/policy/npa/rules/7", RequestOptions{Method: http.MethodPatch, Body: body}, nil))
	require.NoError(t, c.Request(ctx, "/policy/npa/rules/7", RequestOptions{Method: http.MethodPatch, Body: body}, nil))
	assert.Equal(t, 0, c.CacheLen())

	require.NoError(t, c.Request(ctx, "/policy/npa/rules/7", RequestOptions{}, nil))
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, []string{"GET", "PATCH", "PATCH", "GET"}, methods)
}

func TestConcurrentGetsShareOneCall(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"status":"success","data":[]}`))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var env Envelope
			errs <- c.Request(context.Background(), "/infrastructure/lbrokers", RequestOptions{}, &env)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetrySucceedsAfterTwo503s(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"ok":true}}`))
	}))
	defer srv.Close()

	c, _, sleeps := newTestClient(t, srv.URL, nil)

	var env Envelope
	err := c.RequestWithRetry(context.Background(), "/infrastructure/publishers", RequestOptions{}, &env)
	require.NoError(t, err)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, int32(3), calls.Load())

	require.Len(t, sleeps.delays, 2)
	assert.Equal(t, 100*time.Millisecond, sleeps.delays[0])
	assert.Equal(t, 200*time.Millisecond, sleeps.delays[1])
	for _, d := range sleeps.delays {
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestRetryDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"status":"error","message":"no such app"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c, _, sleeps := newTestClient(t, srv.URL, nil)

	err := c.RequestWithRetry(context.Background(), "/steering/apps/private/99", RequestOptions{}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, sleeps.delays)

	var httpErr *errortypes.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Equal(t, "Not Found", httpErr.StatusText)
	assert.Contains(t, httpErr.Body, "no such app")
}

func TestRetryReturnsLastErrorUnchanged(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _, sleeps := newTestClient(t, srv.URL, func(o *Options) { o.RetryAttempts = 4 })

	err := c.RequestWithRetry(context.Background(), "/policy/npa/rules", RequestOptions{}, nil)
	httpErr, ok := err.(*errortypes.HTTPError)
	require.True(t, ok, "got %T", err)
	assert.Equal(t, http.StatusBadGateway, httpErr.Status)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, sleeps.delays)
}

func TestRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL, func(o *Options) { o.Timeout = 50 * time.Millisecond })

	err := c.Request(context.Background(), "/infrastructure/publishers", RequestOptions{}, nil)
	require.Error(t, err)
	assert.True(t, errortypes.IsTimeoutError(err), "got %v", err)
	assert.True(t, IsRetryable(err))
	_, isHTTP := errortypes.AsHTTPError(err)
	assert.False(t, isHTTP)
}

func TestCallerCancellationIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(envelopeHandler(&calls, nil))
	defer srv.Close()

	c, _, sleeps := newTestClient(t, srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.RequestWithRetry(ctx, "/infrastructure/publishers", RequestOptions{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errortypes.IsTimeoutError(err))
	assert.Empty(t, sleeps.delays)
	assert.Equal(t, int32(0), calls.Load())
}

func TestIsRetryable(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"400", &errortypes.HTTPError{Status: 400}, false},
		{"404_wrapped", fmt.Errorf("get: %w", &errortypes.HTTPError{Status: 404}), false},
		{"500", &errortypes.HTTPError{Status: 500}, true},
		{"503", &errortypes.HTTPError{Status: 503}, true},
		{"timeout", errortypes.TimeoutError(base, "t"), true},
		{"network", errortypes.NetworkError(base, "n"), true},
		{"format", errortypes.FormatError(base, "f"), false},
		{"validation", errortypes.ValidationError(base, "v"), false},
		{"canceled", fmt.Errorf("x: %w", context.Canceled), false},
		{"rate limit wait", fmt.Errorf("%w: wait too long", ErrRateLimitExceedsDeadline), false},
		{"plain", base, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestBackoff(t *testing.T) {
	c, _, _ := newTestClient(t, "https://tenant.example.com", nil)
	c.jitter = func() time.Duration { return 5 * time.Millisecond }

	assert.Equal(t, 105*time.Millisecond, c.backoff(0))
	assert.Equal(t, 205*time.Millisecond, c.backoff(1))
	assert.Equal(t, 405*time.Millisecond, c.backoff(2))

	for i := 0; i < 100; i++ {
		j := randomJitter()
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, time.Second)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{BaseURL: "not a url", Token: "t"})
	assert.True(t, errortypes.IsType(err, errortypes.ErrorTypeConfig))

	_, err = New(Options{BaseURL: "https://tenant.example.com", Token: " "})
	assert.True(t, errortypes.IsType(err, errortypes.ErrorTypeConfig))

	c, err := New(Options{BaseURL: "https://tenant.example.com", Token: "t"})
	require.NoError(t, err)
	assert.Nil(t, c.limiter)
	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.Equal(t, DefaultRetryAttempts, c.retryAttempts)

	c, err = New(Options{BaseURL: "https://tenant.example.com", Token: "t", RateLimitPerSecond: 5})
	require.NoError(t, err)
	require.NotNil(t, c.limiter)
	assert.Equal(t, 5, c.limiter.Burst())
}

func TestEnvelopeDecodeReportsErrorStatus(t *testing.T) {
	env := Envelope{Status: "error", Message: "invalid token"}
	err := env.Decode(&struct{}{})
	assert.True(t, errortypes.IsType(err, errortypes.ErrorTypeAPI))
	assert.Contains(t, err.Error(), "invalid token")
}

func TestRateLimiterWaitPastDeadlineIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(envelopeHandler(&calls, map[string]string{"ok": "yes"}))
	defer srv.Close()

	c, _, sleeps := newTestClient(t, srv.URL, func(o *Options) { o.RateLimitPerSecond = 1 })

	require.NoError(t, c.Request(context.Background(), "/items", RequestOptions{Method: http.MethodPost}, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.RequestWithRetry(ctx, "/items", RequestOptions{Method: http.MethodPost}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimitExceedsDeadline)
	assert.False(t, IsRetryable(err))
	assert.Empty(t, sleeps.delays)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSharedGetSurvivesOtherCallerCancel(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		started <- struct{}{}
		<-release
		_, _ = w.Write([]byte(`{"status":"success","data":["jira"]}`))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL, nil)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		leaderErr <- c.Request(leaderCtx, "/apps", RequestOptions{}, nil)
	}()
	<-started

	followerErr := make(chan error, 1)
	var names []string
	go func() {
		var env Envelope
		err := c.Request(context.Background(), "/apps", RequestOptions{}, &env)
		if err == nil {
			err = env.Decode(&names)
		}
		followerErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	select {
	case err := <-leaderErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not return")
	}

	close(release)
	select {
	case err := <-followerErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("follower did not return")
	}
	assert.Equal(t, []string{"jira"}, names)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.CacheLen())
}
