package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/legiscrape/internal/cache"
	"github.com/ppiankov/legiscrape/internal/model"
)

// fakeClient fails the first `fail` calls with a connection reset, then
// answers with status
type fakeClient struct {
	fail   int
	status int
	calls  int
	ua     string
	closed bool
}

func (c *fakeClient) Do(ctx context.Context, req *Request) (*Response, error) {
	c.calls++
	if c.calls <= c.fail {
		return nil, syscall.ECONNRESET
	}
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return &Response{StatusCode: status, Status: http.StatusText(status), Body: []byte("ok"), URL: req.URL}, nil
}

func (c *fakeClient) SetUserAgent(ua string) { c.ua = ua }
func (c *fakeClient) Close()                 { c.closed = true }

type sleepRecorder struct {
	sleeps []time.Duration
}

func (s *sleepRecorder) install(t *testing.T) {
	orig := fetchSleepFunc
	fetchSleepFunc = func(_ context.Context, d time.Duration) error {
		s.sleeps = append(s.sleeps, d)
		return nil
	}
	t.Cleanup(func() { fetchSleepFunc = orig })
}

func (s *sleepRecorder) contains(d time.Duration) bool {
	for _, got := range s.sleeps {
		if got == d {
			return true
		}
	}
	return false
}

func testConfig() model.Config {
	cfg := model.DefaultConfig()
	cfg.HTTP.RequestsPerMin = 0
	cfg.Resilience.DelayMin = 0
	cfg.Resilience.DelayMax = 0
	return cfg
}

func newTestFetcher(t *testing.T, cfg model.Config, clients ...*fakeClient) *Fetcher {
	t.Helper()
	var n int
	f, err := NewFetcher(cfg, WithClientFactory(func() (Client, error) {
		if n >= len(clients) {
			return nil, fmt.Errorf("no more clients")
		}
		c := clients[n]
		n++
		return c, nil
	}))
	require.NoError(t, err)
	return f
}

func TestFetcher_FailsThenSucceedsWithinRetries(t *testing.T) {
	var rec sleepRecorder
	rec.install(t)

	client := &fakeClient{fail: 3}
	f := newTestFetcher(t, testConfig(), client)

	resp, err := f.Get(context.Background(), "https://example.org/bills")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Equal(t, 4, client.calls)
	assert.Equal(t, 0, f.Failures())
}

func TestFetcher_ExhaustsRetries(t *testing.T) {
	var rec sleepRecorder
	rec.install(t)

	client := &fakeClient{fail: 4}
	f := newTestFetcher(t, testConfig(), client)

	_, err := f.Get(context.Background(), "https://example.org/bills")
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, syscall.ECONNRESET)
	assert.Equal(t, 4, client.calls)
	assert.Equal(t, 1, f.Failures())
}

func TestFetcher_BackoffGrowsWithinJitterAndCap(t *testing.T) {
	var rec sleepRecorder
	rec.install(t)

	origRand := fetchRandFloat
	fetchRandFloat = func() float64 { return 1 } // jitter at the top of its range
	t.Cleanup(func() { fetchRandFloat = origRand })

	cfg := testConfig()
	cfg.Resilience.MaxRetries = 5
	cfg.Resilience.FailureDelayMin = 0
	cfg.Resilience.FailureDelayMax = 0
	client := &fakeClient{fail: 10}
	f := newTestFetcher(t, cfg, client)

	_, err := f.Get(context.Background(), "https://example.org")
	require.Error(t, err)

	var backoffs []time.Duration
	for _, d := range rec.sleeps {
		if d > 0 {
			backoffs = append(backoffs, d)
		}
	}
	assert.Equal(t, []time.Duration{
		12 * time.Second,
		24 * time.Second,
		48 * time.Second,
		96 * time.Second,
		120 * time.Second,
	}, backoffs)
}

func TestFetcher_StatusErrorNotRetried(t *testing.T) {
	var rec sleepRecorder
	rec.install(t)

	client := &fakeClient{status: http.StatusNotFound}
	f := newTestFetcher(t, testConfig(), client)

	resp, err := f.Get(context.Background(), "https://example.org/missing")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1, client.calls)
}

func TestFetcher_CircuitBreakerCooldown(t *testing.T) {
	var rec sleepRecorder
	rec.install(t)

	cfg := testConfig()
	cfg.Resilience.MaxRetries = 0
	cfg.Resilience.FailureDelayMin = 0
	cfg.Resilience.FailureDelayMax = 0
	client := &fakeClient{fail: 3}
	f := newTestFetcher(t, cfg, client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.Get(ctx, "https://example.org")
		require.Error(t, err)
	}
	assert.Equal(t, 3, f.Failures())
	assert.False(t, rec.contains(cfg.Resilience.Cooldown))
	uaBefore := f.UserAgent()

	_, err := f.Get(ctx, "https://example.org")
	require.NoError(t, err)
	assert.True(t, rec.contains(cfg.Resilience.Cooldown))
	assert.Equal(t, 0, f.Failures())
	assert.NotEqual(t, uaBefore, f.UserAgent())
}

func TestFetcher_CircuitBreakerResetsEvenOnFailure(t *testing.T) {
	var rec sleepRecorder
	rec.install(t)

	cfg := testConfig()
	cfg.Resilience.MaxRetries = 0
	client := &fakeClient{fail: 10}
	f := newTestFetcher(t, cfg, client)

	for i := 0; i < 4; i++ {
		_, _ = f.Get(context.Background(), "https://example.org")
	}
	// cooldown before the 4th call reset 3 -> 0, then it failed once more
	assert.True(t, rec.contains(cfg.Resilience.Cooldown))
	assert.Equal(t, 1, f.Failures())
}

func TestFetcher_WallClockRotation(t *testing.T) {
	var rec sleepRecorder
	rec.install(t)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	origNow := fetchNow
	fetchNow = func() time.Time { return now }
	t.Cleanup(func() { fetchNow = origNow })

	first, second := &fakeClient{}, &fakeClient{}
	f := newTestFetcher(t, testConfig(), first, second)

	_, err := f.Get(context.Background(), "https://example.org")
	require.NoError(t, err)
	assert.Equal(t, 1, first.calls)

	now = now.Add(601 * time.Second)
	_, err = f.Get(context.Background(), "https://example.org")
	require.NoError(t, err)

	assert.True(t, first.closed)
	assert.Equal(t, 1, second.calls)
	assert.NotEmpty(t, second.ua)
}

func TestFetcher_PacingDelayInRange(t *testing.T) {
	var rec sleepRecorder
	rec.install(t)

	cfg := testConfig()
	cfg.Resilience.DelayMin = time.Second
	cfg.Resilience.DelayMax = 3 * time.Second
	f := newTestFetcher(t, cfg, &fakeClient{})

	_, err := f.Get(context.Background(), "https://example.org")
	require.NoError(t, err)
	require.NotEmpty(t, rec.sleeps)
	assert.GreaterOrEqual(t, rec.sleeps[0], time.Second)
	assert.LessOrEqual(t, rec.sleeps[0], 3*time.Second)
}

func TestFetcher_ResponseCache(t *testing.T) {
	var rec sleepRecorder
	rec.install(t)

	client := &fakeClient{}
	f := newTestFetcher(t, testConfig(), client)
	f.cache = cache.NewMemoryCache(time.Hour, time.Hour)

	for i := 0; i < 3; i++ {
		resp, err := f.Get(context.Background(), "https://example.org/cached")
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Text())
	}
	assert.Equal(t, 1, client.calls)
}

func TestFetcher_RestyClientAgainstServer(t *testing.T) {
	var rec sleepRecorder
	rec.install(t)

	var hits atomic.Int32
	var gotUA atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotUA.Store(r.Header.Get("User-Agent"))
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, "<html><body>OK</body></html>")
	}))
	defer server.Close()

	f, err := NewFetcher(testConfig())
	require.NoError(t, err)
	defer f.Close()

	resp, err := f.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html><body>OK</body></html>", resp.Text())
	assert.Equal(t, f.UserAgent(), gotUA.Load())

	_, err = f.Get(context.Background(), server.URL+"/missing")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, int32(2), hits.Load())
}

func TestNewFetcher_FastModeUsesDiskCache(t *testing.T) {
	var rec sleepRecorder
	rec.install(t)

	cfg := testConfig()
	cfg.Scrape.Fast = true
	cfg.Cache.Dir = t.TempDir()
	cfg.HTTP.RequestsPerMin = 60

	client := &fakeClient{}
	f := newTestFetcher(t, cfg, client)
	assert.Nil(t, f.limiter, "fast mode disables rate limiting")

	_, err := f.Get(context.Background(), "https://example.org/a")
	require.NoError(t, err)

	// a second fetcher over the same directory is served from disk
	second := &fakeClient{}
	g := newTestFetcher(t, cfg, second)
	resp, err := g.Get(context.Background(), "https://example.org/a")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Zero(t, second.calls)
	assert.Equal(t, cache.Stats{DiskHits: 1}, g.cache.(*cache.LayeredCache).Stats())
}

func TestNewFetcher_HostRates(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.RequestsPerMin = 60
	cfg.HTTP.HostRates = map[string]int{"docs.example.org": 6}

	f := newTestFetcher(t, cfg, &fakeClient{})
	require.NotNil(t, f.limiter)
	assert.True(t, f.limiter.Allow("https://docs.example.org/a.pdf"))
	assert.False(t, f.limiter.Allow("https://docs.example.org/b.pdf"))
}
