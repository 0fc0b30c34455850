package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RateLimiters map[string]*rate.Limiter
}

// AdaptiveLimiter is a rate.Limiter that tunes itself to the upstream:
// each success nudges the rate up 20% (capped at 2x the initial rate),
// each 429 halves it (floored at a quarter of the initial rate).
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	initial rate.Limit
	current rate.Limit
}

// NewAdaptiveLimiter creates a self-tuning limiter starting at initial.
func NewAdaptiveLimiter(initial rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(initial, burst),
		initial: initial,
		current: initial,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess nudges the rate up after a successful response.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setRate(min(a.current*1.2, a.initial*2))
}

// OnRateLimit halves the rate after a 429.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setRate(max(a.current*0.5, a.initial/4))
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(a.current)),
	)
}

func (a *AdaptiveLimiter) setRate(r rate.Limit) {
	a.current = r
	a.limiter.SetLimit(r)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// DefaultRateLimiters returns the fixed per-host limiters for the hosts
// the pipeline talks to.
func DefaultRateLimiters() map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		"api.census.gov":           rate.NewLimiter(10, 10),
		"geocoding.geo.census.gov": rate.NewLimiter(5, 5),
		"overpass-api.de":          rate.NewLimiter(1, 2),
	}
}

// DefaultAdaptiveLimiters returns self-tuning limiters for the same
// hosts. Overpass in particular throttles aggressively under load.
func DefaultAdaptiveLimiters() map[string]*AdaptiveLimiter {
	return map[string]*AdaptiveLimiter{
		"api.census.gov":           NewAdaptiveLimiter(10, 10),
		"geocoding.geo.census.gov": NewAdaptiveLimiter(5, 5),
		"overpass-api.de":          NewAdaptiveLimiter(1, 2),
	}
}

// HTTPFetcher implements Fetcher with per-host rate limiting and
// retried requests.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	fixed    map[string]*rate.Limiter
	adaptive map[string]*AdaptiveLimiter
	fallback *rate.Limiter // hosts with no configured limiter
}

// NewHTTPFetcher creates an HTTPFetcher with the given options. Zero
// values get sensible defaults.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "sitescope/1.0"
	}
	fixed := make(map[string]*rate.Limiter, len(opts.RateLimiters))
	for host, lim := range opts.RateLimiters {
		fixed[host] = lim
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		fixed:    fixed,
		adaptive: DefaultAdaptiveLimiters(),
		fallback: rate.NewLimiter(20, 20),
	}
}

// wait blocks on the adaptive limiter for the URL's host when one
// exists, otherwise on the fixed or fallback limiter. It returns the
// adaptive limiter so the caller can report the outcome back.
func (f *HTTPFetcher) wait(ctx context.Context, rawURL string) (*AdaptiveLimiter, error) {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	if a, ok := f.adaptive[host]; ok {
		return a, a.Wait(ctx)
	}
	lim, ok := f.fixed[host]
	if !ok {
		lim = f.fallback
	}
	return nil, lim.Wait(ctx)
}

func (f *HTTPFetcher) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := range f.opts.MaxRetries {
		adaptive, err := f.wait(ctx, req.URL.String())
		if err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			zap.L().Warn("http request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			f.sleepBackoff(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http 429 from %s", req.URL.String())
			if adaptive != nil {
				adaptive.OnRateLimit()
			}
			zap.L().Warn("rate limited (429), backing off",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
			)
			f.sleepBackoff(ctx, attempt)

		case resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http %d from %s", resp.StatusCode, req.URL.String())
			zap.L().Warn("server error, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			f.sleepBackoff(ctx, attempt)

		default:
			if adaptive != nil {
				adaptive.OnSuccess()
			}
			return resp, nil
		}
	}

	return nil, eris.Wrap(lastErr, "all retries exhausted")
}

// sleepBackoff sleeps for an exponentially growing, jittered interval.
func (f *HTTPFetcher) sleepBackoff(ctx context.Context, attempt int) {
	d := min(time.Duration(float64(time.Second)*math.Pow(2, float64(attempt))), 30*time.Second)
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("download: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	return resp.Body, nil
}
