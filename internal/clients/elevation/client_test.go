package elevation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jgbreault/PinnaclePoints/model"
)

// MockHTTPDoer is a mock implementation of HTTPDoer
type MockHTTPDoer struct {
	mock.Mock
}

func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	return args.Get(0).(*http.Response), args.Error(1)
}

func createMockResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

type fakeRecorder struct {
	mu      sync.Mutex
	codes   []int
	retries int
}

func (f *fakeRecorder) ObserveElevationRequest(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
}

func (f *fakeRecorder) ObserveElevationRetry() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		BatchSize:      100,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func points(n int) []model.Point {
	out := make([]model.Point, n)
	for i := range out {
		out[i] = model.NewPoint(float64(i)/10, -float64(i)/10)
	}
	return out
}

func TestElevations_Success(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Run(func(args mock.Arguments) {
		req := args.Get(0).(*http.Request)
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "/v1/elevation", req.URL.Path)
		assert.Equal(t, "46.852900,47.500000", req.URL.Query().Get("latitude"))
		assert.Equal(t, "-121.760400,-180.000000", req.URL.Query().Get("longitude"))
	}).Return(createMockResponse(200, `{"elevation":[4392.0,1200.5]}`), nil).Once()

	rec := &fakeRecorder{}
	client := NewClientWithHTTPDoer(testConfig("http://elevation.test/"), mockHTTP, WithRecorder(rec))

	got, err := client.Elevations(context.Background(), []model.Point{
		model.NewPoint(46.8529, -121.7604),
		model.NewPoint(47.5, -180),
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{4392.0, 1200.5}, got)
	assert.Equal(t, []int{200}, rec.codes)
	mockHTTP.AssertExpectations(t)
}

func TestElevations_ClientErrorIsNotRetried(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(400, `{"reason":"Latitude must be in range of -90 to 90°"}`), nil).Once()

	client := NewClientWithHTTPDoer(testConfig("http://elevation.test"), mockHTTP)
	_, err := client.Elevations(context.Background(), points(2))

	require.Error(t, err)
	serr, ok := IsServiceError(err)
	require.True(t, ok, "expected a ServiceError, got %v", err)
	assert.Equal(t, 400, serr.StatusCode)
	assert.Contains(t, err.Error(), "Latitude must be in range")
	mockHTTP.AssertNumberOfCalls(t, "Do", 1)
}

func TestElevations_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			n := len(strings.Split(r.URL.Query().Get("latitude"), ","))
			vals := make([]string, n)
			for i := range vals {
				vals[i] = "12.5"
			}
			fmt.Fprintf(w, `{"elevation":[%s]}`, strings.Join(vals, ","))
		}
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	client := NewClient(testConfig(srv.URL), WithRecorder(rec))
	got, err := client.Elevations(context.Background(), points(3))
	require.NoError(t, err)
	assert.Equal(t, []float64{12.5, 12.5, 12.5}, got)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, rec.retries)
	assert.Equal(t, []int{503, 429, 200}, rec.codes)
}

func TestElevations_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.Elevations(context.Background(), points(1))
	require.Error(t, err)
	serr, ok := IsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, serr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestElevations_Batches(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lats := strings.Split(r.URL.Query().Get("latitude"), ",")
		mu.Lock()
		sizes = append(sizes, len(lats))
		mu.Unlock()
		fmt.Fprintf(w, `{"elevation":[%s]}`, strings.Join(lats, ","))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.BatchSize = 40
	client := NewClient(cfg)
	in := points(95)
	got, err := client.Elevations(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, got, 95)
	assert.Equal(t, []int{40, 40, 15}, sizes)
	for i, p := range in {
		assert.InDelta(t, p.Lat, got[i], 1e-6, "elevation %d out of order", i)
	}
}

func TestElevations_CountMismatch(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, `{"elevation":[1]}`), nil).Once()

	client := NewClientWithHTTPDoer(testConfig("http://elevation.test"), mockHTTP)
	_, err := client.Elevations(context.Background(), points(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "asked for 2 elevations, got 1")
	mockHTTP.AssertNumberOfCalls(t, "Do", 1)
}

func TestElevations_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent after cancellation")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := NewClient(testConfig(srv.URL))
	_, err := client.Elevations(ctx, points(1))
	assert.Error(t, err)
}
