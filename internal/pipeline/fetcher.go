package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/kbpublish/internal/util"
)

const (
	fetchMaxRetries = 3
	maxRedirects    = 3
	defaultMaxBytes = 2 << 20
)

// fetchSleepFunc is the sleep function used between retries (injectable for tests)
var fetchSleepFunc = time.Sleep

// ErrDisallowed is returned when robots.txt forbids fetching a page
var ErrDisallowed = errors.New("disallowed by robots.txt")

// HTTPClient is the subset of *http.Client used by the fetcher
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher fetches a subject's own website page for extraction
type Fetcher struct {
	httpClient HTTPClient
	userAgent  string
	maxBytes   int64
	robots     *util.RobotsChecker
	limiter    *util.Limiter
}

// NewFetcher creates a fetcher. robots and limiter may be nil.
func NewFetcher(httpClient HTTPClient, userAgent string, maxBytes int64, robots *util.RobotsChecker, limiter *util.Limiter) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second, CheckRedirect: LimitRedirects}
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Fetcher{
		httpClient: httpClient,
		userAgent:  userAgent,
		maxBytes:   maxBytes,
		robots:     robots,
		limiter:    limiter,
	}
}

// LimitRedirects is an http.Client CheckRedirect policy stopping after a few hops
func LimitRedirects(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}

// FetchResult contains the fetched HTML and where it came from
type FetchResult struct {
	HTML        string
	FinalURL    string
	StatusCode  int
	ContentType string
}

// FetchWithRetry checks robots.txt once, then fetches with retries on
// transient failures
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) (*FetchResult, error) {
	if err := f.checkRobots(ctx, rawURL); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < fetchMaxRetries; attempt++ {
		result, err := f.Fetch(ctx, rawURL)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryableFetchError(err) || ctx.Err() != nil {
			return nil, err
		}
		if attempt < fetchMaxRetries-1 {
			fetchSleepFunc(time.Duration(1<<uint(attempt)) * time.Second)
		}
	}
	return nil, lastErr
}

func (f *Fetcher) checkRobots(ctx context.Context, rawURL string) error {
	if f.robots == nil {
		return nil
	}
	allowed, delay, err := f.robots.CanFetch(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("robots: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%s: %w", rawURL, ErrDisallowed)
	}
	if delay > 0 && f.limiter != nil {
		if u, err := url.Parse(rawURL); err == nil {
			f.limiter.SetHostRate(u.Host, 1/delay.Seconds(), 1)
		}
	}
	return nil
}

// Fetch retrieves one HTML page
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return nil, fmt.Errorf("unexpected content type: %s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &FetchResult{
		HTML:        string(body),
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
	}, nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// isRetryableFetchError reports whether a fetch error is transient
func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, code := range []string{"unexpected status: 5", "unexpected status: 429"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	if !strings.HasPrefix(msg, "fetch: ") {
		return false
	}
	lower := strings.ToLower(msg)
	for _, transient := range []string{"connection refused", "connection reset", "timeout", "eof", "temporary"} {
		if strings.Contains(lower, transient) {
			return true
		}
	}
	return false
}
