package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/legiscrape/internal/cache"
	"github.com/ppiankov/legiscrape/internal/model"
	"github.com/ppiankov/legiscrape/internal/util"
	"github.com/ppiankov/legiscrape/internal/worker"
)

var tracer = otel.Tracer("legiscrape/pipeline")

// fetchSleepFunc blocks for d (injectable for tests)
var fetchSleepFunc = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// fetchNow and fetchRandFloat are injectable for tests
var (
	fetchNow       = time.Now
	fetchRandFloat = rand.Float64
)

// Fetcher decorates a plain Client with retry, circuit breaking, identity
// rotation and pacing. Calls are serialized: one fetcher serves one
// jurisdiction's sequential pipeline.
type Fetcher struct {
	cfg        model.ResilienceConfig
	userAgents []string
	newClient  ClientFactory
	logger     *slog.Logger

	limiter  *worker.Limiter
	cache    cache.Cache
	cacheTTL time.Duration
	robots   *util.RobotsChecker

	mu           sync.Mutex
	client       Client
	userAgent    string
	failures     int
	lastRotation time.Time
}

// FetcherOption customises a Fetcher
type FetcherOption func(*Fetcher)

// WithClientFactory replaces the default resty client factory
func WithClientFactory(f ClientFactory) FetcherOption {
	return func(ft *Fetcher) { ft.newClient = f }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) FetcherOption {
	return func(ft *Fetcher) { ft.logger = l }
}

// WithResponseCache caches successful GET responses
func WithResponseCache(c cache.Cache, ttl time.Duration) FetcherOption {
	return func(ft *Fetcher) {
		ft.cache = c
		ft.cacheTTL = ttl
	}
}

// WithLimiter applies a per-host request rate limit
func WithLimiter(l *worker.Limiter) FetcherOption {
	return func(ft *Fetcher) { ft.limiter = l }
}

// WithRobots refuses URLs disallowed by robots.txt
func WithRobots(r *util.RobotsChecker) FetcherOption {
	return func(ft *Fetcher) { ft.robots = r }
}

// NewFetcher creates a fetcher from run configuration. Fast mode enables the
// response cache and disables rate limiting.
func NewFetcher(cfg model.Config, opts ...FetcherOption) (*Fetcher, error) {
	f := &Fetcher{
		cfg:        cfg.Resilience,
		userAgents: cfg.HTTP.UserAgents,
		newClient:  RestyClientFactory(cfg.HTTP),
		logger:     slog.Default(),
	}

	if cfg.Scrape.Fast {
		f.cache = cache.NewLayeredCache(cfg.Cache.Dir, cfg.Cache.TTL)
		f.cacheTTL = cfg.Cache.TTL
	} else {
		f.limiter = worker.NewPerMinute(cfg.HTTP.RequestsPerMin)
	}
	if f.limiter != nil {
		for host, rpm := range cfg.HTTP.HostRates {
			f.limiter.SetHostRate(host, rpm)
		}
	}
	if cfg.HTTP.RespectRobots {
		ua := "legiscrape"
		if len(cfg.HTTP.UserAgents) > 0 {
			ua = cfg.HTTP.UserAgents[0]
		}
		f.robots = util.NewRobotsChecker(ua, &http.Client{
			Timeout:   cfg.HTTP.Timeout,
			Transport: util.NewProxyTransport(cfg.HTTP.HTTPProxy, cfg.HTTP.HTTPSProxy, cfg.HTTP.NoProxy),
		})
	}

	for _, opt := range opts {
		opt(f)
	}

	if p, ok := f.cache.(interface{ Prune() (int, error) }); ok {
		if n, err := p.Prune(); err != nil {
			f.logger.Warn("response cache prune failed", "error", err)
		} else if n > 0 {
			f.logger.Debug("pruned expired responses", "count", n)
		}
	}

	if err := f.rotateClient(); err != nil {
		return nil, err
	}
	return f, nil
}

// Get fetches url and fails on a non-2xx status
func (f *Fetcher) Get(ctx context.Context, url string) (*Response, error) {
	return f.Do(ctx, Get(url))
}

// Do performs req resiliently. Transport failures are retried with
// exponential backoff; a non-2xx response returns *StatusError without retry.
func (f *Fetcher) Do(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "fetch "+req.Method, trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.url", req.URL),
	))
	defer span.End()

	f.mu.Lock()
	defer f.mu.Unlock()

	cacheable := f.cache != nil && req.Method == http.MethodGet
	key := cache.RequestKey(req.Method, req.URL, req.Body)
	if cacheable {
		if resp, ok := f.cached(key); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return resp, nil
		}
	}

	if f.cfg.RotateInterval > 0 && fetchNow().Sub(f.lastRotation) >= f.cfg.RotateInterval {
		f.logger.Info("rotating http client", "interval", f.cfg.RotateInterval)
		if err := f.rotateClient(); err != nil {
			return nil, err
		}
	}

	if f.cfg.FailureThreshold > 0 && f.failures >= f.cfg.FailureThreshold {
		f.logger.Warn("circuit breaker triggered", "failures", f.failures, "cooldown", f.cfg.Cooldown)
		if err := fetchSleepFunc(ctx, f.cfg.Cooldown); err != nil {
			return nil, err
		}
		f.failures = 0
		f.rotateUserAgent()
	}

	if err := fetchSleepFunc(ctx, f.randomDelay(f.cfg.DelayMin, f.cfg.DelayMax)); err != nil {
		return nil, err
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, req.URL); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	if f.robots != nil {
		allowed, crawlDelay, err := f.robots.CanFetch(ctx, req.URL)
		if err != nil {
			f.logger.Debug("robots.txt unavailable, allowing", "url", req.URL, "error", err)
		}
		if !allowed {
			return nil, fmt.Errorf("%s disallowed by robots.txt", req.URL)
		}
		if err := fetchSleepFunc(ctx, crawlDelay); err != nil {
			return nil, err
		}
	}

	resp, err := f.doWithRetry(ctx, req)
	if err != nil {
		f.failures++
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var te *TransportError
		if errors.As(err, &te) {
			f.logger.Warn("connection error, adding failure delay", "url", req.URL, "error", err)
			if serr := fetchSleepFunc(ctx, f.randomDelay(f.cfg.FailureDelayMin, f.cfg.FailureDelayMax)); serr != nil {
				return nil, errors.Join(err, serr)
			}
			f.rotateUserAgent()
		}
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if !resp.OK() {
		f.failures++
		span.SetStatus(codes.Error, resp.Status)
		return resp, &StatusError{Method: req.Method, URL: req.URL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	f.failures = 0
	if cacheable {
		f.store(key, resp)
	}
	return resp, nil
}

// doWithRetry makes up to MaxRetries+1 attempts, backing off between them
func (f *Fetcher) doWithRetry(ctx context.Context, req *Request) (*Response, error) {
	backoff := f.cfg.InitialBackoff
	for attempt := 0; ; attempt++ {
		resp, err := f.client.Do(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		terr := &TransportError{Method: req.Method, URL: req.URL, Err: err}
		if attempt >= f.cfg.MaxRetries {
			f.logger.Error("max retries exceeded", "retries", f.cfg.MaxRetries, "error", err)
			return nil, terr
		}

		wait := f.backoff(backoff)
		f.logger.Warn("connection error, retrying",
			"url", req.URL, "error", err, "wait", wait, "attempt", attempt+1, "max", f.cfg.MaxRetries)
		if err := fetchSleepFunc(ctx, wait); err != nil {
			return nil, err
		}
		backoff *= 2
		if f.cfg.MaxBackoff > 0 {
			backoff = min(backoff, f.cfg.MaxBackoff)
		}
	}
}

// backoff applies jitter and the ceiling to base
func (f *Fetcher) backoff(base time.Duration) time.Duration {
	jitter := f.cfg.JitterMin + fetchRandFloat()*(f.cfg.JitterMax-f.cfg.JitterMin)
	d := time.Duration(math.Round(float64(base) * jitter))
	if f.cfg.MaxBackoff > 0 && d > f.cfg.MaxBackoff {
		d = f.cfg.MaxBackoff
	}
	return d
}

func (f *Fetcher) randomDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(fetchRandFloat()*float64(hi-lo))
}

// rotateClient replaces the client (and its connection pool) and user agent
func (f *Fetcher) rotateClient() error {
	client, err := f.newClient()
	if err != nil {
		return fmt.Errorf("create http client: %w", err)
	}
	if f.client != nil {
		f.client.Close()
	}
	f.client = client
	f.lastRotation = fetchNow()
	f.rotateUserAgent()
	return nil
}

func (f *Fetcher) rotateUserAgent() {
	if len(f.userAgents) == 0 || f.client == nil {
		return
	}
	n := len(f.userAgents)
	i := rand.IntN(n)
	if n > 1 && f.userAgents[i] == f.userAgent {
		i = (i + 1) % n
	}
	ua := f.userAgents[i]
	f.userAgent = ua
	f.client.SetUserAgent(ua)
}

func (f *Fetcher) cached(key string) (*Response, bool) {
	data, ok := f.cache.Get(key)
	if !ok {
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		_ = f.cache.Delete(key)
		return nil, false
	}
	return &resp, true
}

func (f *Fetcher) store(key string, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := f.cache.Set(key, data, f.cacheTTL); err != nil {
		f.logger.Warn("response cache write failed", "error", err)
	}
}

// Failures returns the consecutive failure count
func (f *Fetcher) Failures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}

// UserAgent returns the identity currently presented to remote hosts
func (f *Fetcher) UserAgent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userAgent
}

// Close releases the underlying client
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		f.client.Close()
	}
	if s, ok := f.cache.(interface{ Stats() cache.Stats }); ok {
		st := s.Stats()
		f.logger.Info("response cache", "memory_hits", st.MemoryHits, "disk_hits", st.DiskHits,
			"misses", st.Misses, "hit_rate", st.HitRate())
	}
}
