package validate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const checkMaxRetries = 2

// checkSleepFunc is the sleep function used between retries (injectable for tests)
var checkSleepFunc = time.Sleep

// HTTPClient is the subset of *http.Client used by the link checker
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// LinkStatus is the reachability of one reference URL
type LinkStatus struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	Accessible bool   `json:"accessible"`
	Dead       bool   `json:"dead"` // 404/410 or unresolvable
	Error      string `json:"error,omitempty"`
}

// LinkChecker checks reference URLs concurrently with HEAD requests
type LinkChecker struct {
	httpClient HTTPClient
	userAgent  string
	maxWorkers int
}

// NewLinkChecker creates a new link checker
func NewLinkChecker(httpClient HTTPClient, userAgent string, maxWorkers int) *LinkChecker {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &LinkChecker{
		httpClient: httpClient,
		userAgent:  userAgent,
		maxWorkers: maxWorkers,
	}
}

// Check checks all URLs and returns statuses keyed by URL
func (c *LinkChecker) Check(ctx context.Context, urls []string) map[string]LinkStatus {
	results := make(map[string]LinkStatus, len(urls))
	if len(urls) == 0 {
		return results
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	// Create semaphore to limit concurrent requests
	semaphore := make(chan struct{}, c.maxWorkers)

	for _, u := range urls {
		wg.Add(1)
		go func(rawURL string) {
			defer wg.Done()

			var status LinkStatus
			select {
			case <-ctx.Done():
				status = LinkStatus{URL: rawURL, Error: "context cancelled"}
			case semaphore <- struct{}{}:
				status = c.checkWithRetry(ctx, rawURL)
				<-semaphore
			}

			mu.Lock()
			results[rawURL] = status
			mu.Unlock()
		}(u)
	}

	wg.Wait()
	return results
}

// checkSingle checks a single URL
func (c *LinkChecker) checkSingle(ctx context.Context, rawURL string) LinkStatus {
	status := LinkStatus{URL: rawURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		status.Error = fmt.Sprintf("create request: %v", err)
		status.Dead = true
		return status
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		status.Error = fmt.Sprintf("request failed: %v", err)
		status.Dead = !isRetryableNetworkError(status.Error)
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	status.StatusCode = resp.StatusCode
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		status.Accessible = true
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusForbidden:
		// Many publishers reject HEAD or bots; the page exists
		status.Accessible = true
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		status.Dead = true
	}
	return status
}

// checkWithRetry retries transient failures with exponential backoff
func (c *LinkChecker) checkWithRetry(ctx context.Context, rawURL string) LinkStatus {
	var status LinkStatus
	for attempt := 0; attempt < checkMaxRetries; attempt++ {
		status = c.checkSingle(ctx, rawURL)
		if !isRetryableStatus(status) {
			return status
		}
		if attempt < checkMaxRetries-1 {
			checkSleepFunc(time.Duration(1<<uint(attempt)) * time.Second)
		}
	}
	return status
}

// isRetryableStatus returns true for results that indicate transient failures
func isRetryableStatus(status LinkStatus) bool {
	if status.StatusCode >= 500 || status.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return status.Error != "" && isRetryableNetworkError(status.Error)
}

// isRetryableNetworkError checks error strings for transient network failures
func isRetryableNetworkError(errMsg string) bool {
	s := strings.ToLower(errMsg)
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset")
}
