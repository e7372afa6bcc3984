// Package scraper fetches storefront listing pages and drives the per-site
// pagination, normalisation and diagnostics that produce product records.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/aluiziolira/go-scrape-storefronts/config"
	"github.com/gocolly/colly/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// FetchStatus is the typed outcome of a page request.
type FetchStatus string

const (
	StatusOK           FetchStatus = "ok"
	StatusHTTPError    FetchStatus = "http_error"
	StatusNetworkError FetchStatus = "network_error"
	StatusTimeout      FetchStatus = "timeout"
)

// FetchResult is what the Fetcher returns for one URL after all attempts.
// Err is set for every status other than StatusOK and carries a typed error.
type FetchResult struct {
	Status   FetchStatus
	Code     int
	Body     []byte
	FinalURL string
	Attempts int
	Err      error
}

// OK reports whether the page was retrieved with a success status.
func (r FetchResult) OK() bool {
	return r.Status == StatusOK
}

const (
	responseKey = "response"
	startKey    = "start"
)

// Fetcher issues GET requests through a synchronous colly collector with
// politeness delays, an optional shared rate limit, and bounded retries.
// It is safe for concurrent use by several site runs.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	limiter   *rate.Limiter
	metrics   *Metrics
	logger    *slog.Logger
	transport http.RoundTripper
	retryable map[int]bool
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

// WithTransport replaces the HTTP transport, e.g. with an httpmock transport.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *Fetcher) { f.transport = rt }
}

// WithLimiter shares a token bucket across every request of the Fetcher.
func WithLimiter(l *rate.Limiter) FetcherOption {
	return func(f *Fetcher) { f.limiter = l }
}

// WithMetrics records request metrics.
func WithMetrics(m *Metrics) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFetcher builds a Fetcher configured from cfg.
func NewFetcher(cfg *config.Config, opts ...FetcherOption) (*Fetcher, error) {
	f := &Fetcher{
		cfg:       cfg,
		logger:    slog.Default(),
		retryable: make(map[int]bool, len(cfg.RetryStatuses)),
	}
	for _, code := range cfg.RetryStatuses {
		f.retryable[code] = true
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.limiter == nil && cfg.GlobalRPS > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), 1)
	}
	if f.transport == nil {
		f.transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.ParseHTTPErrorResponse = true
	collector.WithTransport(otelhttp.NewTransport(f.transport))

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	collector.SetCookieJar(jar)

	collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(startKey, time.Now())
		f.metrics.IncRequest("started")
		f.logger.Debug("request", slog.String("url", r.URL.String()))
	})
	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(responseKey, r)
		if start, ok := r.Ctx.GetAny(startKey).(time.Time); ok {
			f.metrics.ObserveDuration(time.Since(start))
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		r.Ctx.Put(responseKey, r)
		f.metrics.IncRequest("failed")
	})

	f.collector = collector
	return f, nil
}

// Fetch retrieves url, retrying network failures, timeouts and the configured
// transient status codes. Every attempt waits for the politeness delay first.
// Failures are reported in the result, never as a separate error.
func (f *Fetcher) Fetch(ctx context.Context, url string, headers http.Header) FetchResult {
	result := FetchResult{FinalURL: url}
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			f.metrics.IncRetries()
			if err := sleepContext(ctx, f.backoff(attempt-1)); err != nil {
				return cancelled(result, err)
			}
		}
		if err := f.politeness(ctx); err != nil {
			return cancelled(result, err)
		}

		result = f.attempt(url, headers)
		result.Attempts = attempt
		if result.OK() {
			return result
		}

		f.metrics.IncError(errorTypeLabel(result.Err))
		if !f.shouldRetry(result) {
			break
		}
		f.logger.Debug("retrying request",
			slog.String("url", url),
			slog.Int("attempt", attempt),
			slog.String("status", string(result.Status)),
			slog.Int("code", result.Code),
		)
	}
	return result
}

func (f *Fetcher) attempt(url string, headers http.Header) FetchResult {
	hdr := headers.Clone()
	if hdr == nil {
		hdr = make(http.Header)
	}
	if hdr.Get("Accept") == "" {
		hdr.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	if hdr.Get("Accept-Language") == "" && f.cfg.AcceptLanguage != "" {
		hdr.Set("Accept-Language", f.cfg.AcceptLanguage)
	}
	// colly only applies its UserAgent when no header map is passed.
	if hdr.Get("User-Agent") == "" && f.cfg.UserAgent != "" {
		hdr.Set("User-Agent", f.cfg.UserAgent)
	}

	reqCtx := colly.NewContext()
	err := f.collector.Request(http.MethodGet, url, nil, reqCtx, hdr)
	resp, _ := reqCtx.GetAny(responseKey).(*colly.Response)
	return classifyFetch(url, resp, err)
}

func classifyFetch(url string, resp *colly.Response, err error) FetchResult {
	result := FetchResult{FinalURL: url}
	if resp != nil && resp.Request != nil && resp.Request.URL != nil {
		result.FinalURL = resp.Request.URL.String()
	}

	if err == nil && resp != nil && resp.StatusCode > 0 {
		result.Code = resp.StatusCode
		result.Body = resp.Body
		if resp.StatusCode < http.StatusBadRequest {
			result.Status = StatusOK
			return result
		}
		result.Status = StatusHTTPError
		result.Err = classifyError(nil, resp.StatusCode)
		return result
	}

	if err == nil {
		err = errors.New("no response")
	}
	result.Err = classifyError(err, 0)
	var timeout ErrTimeout
	if errors.As(result.Err, &timeout) {
		result.Status = StatusTimeout
	} else {
		result.Status = StatusNetworkError
	}
	return result
}

// Requests the collector refuses before any network activity are not retried.
var preflightErrors = []error{
	colly.ErrForbiddenDomain,
	colly.ErrForbiddenURL,
	colly.ErrMissingURL,
	colly.ErrRobotsTxtBlocked,
	colly.ErrNoURLFiltersMatch,
}

func (f *Fetcher) shouldRetry(r FetchResult) bool {
	switch r.Status {
	case StatusHTTPError:
		return f.retryable[r.Code]
	case StatusNetworkError, StatusTimeout:
		for _, target := range preflightErrors {
			if errors.Is(r.Err, target) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// backoff is base*2^(retry-1), capped at RetryBackoffMax, plus jitter in [0, base).
func (f *Fetcher) backoff(retry int) time.Duration {
	if retry <= 0 {
		retry = 1
	}
	base := f.cfg.RetryBackoff
	if base <= 0 {
		return 0
	}

	delay := base
	for i := 1; i < retry && (f.cfg.RetryBackoffMax <= 0 || delay < f.cfg.RetryBackoffMax); i++ {
		delay *= 2
	}
	if max := f.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay + rand.N(base)
}

func (f *Fetcher) politeness(ctx context.Context) error {
	delay := f.cfg.MinDelay
	if spread := f.cfg.MaxDelay - f.cfg.MinDelay; spread > 0 {
		delay += rand.N(spread)
	}
	if err := sleepContext(ctx, delay); err != nil {
		return err
	}
	if f.limiter != nil {
		return f.limiter.Wait(ctx)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
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

func cancelled(last FetchResult, err error) FetchResult {
	last.Body = nil
	if errors.Is(err, context.DeadlineExceeded) {
		last.Status = StatusTimeout
		last.Err = ErrTimeout{Err: err}
	} else {
		last.Status = StatusNetworkError
		last.Err = ErrConnection{Err: err}
	}
	return last
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}

	if statusCode != 0 {
		status := ErrHTTPStatus{Code: statusCode}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: status}
		case http.StatusNotFound:
			return ErrNotFound{Err: status}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: status}
		}
		return status
	}

	return ErrConnection{Err: err}
}
