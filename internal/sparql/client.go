package sparql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ppiankov/kbpublish/internal/model"
	"github.com/ppiankov/kbpublish/internal/util"
)

// ErrNoMatch is returned when the query succeeded but produced no binding
var ErrNoMatch = errors.New("sparql: no match")

// maxResponseBytes bounds how much of a query response is read
const maxResponseBytes = 1 << 20

// HTTPClient is the subset of *http.Client used by the client
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client runs structured lookups against a SPARQL endpoint
type Client struct {
	endpoint   string
	userAgent  string
	searchHost string
	httpClient HTTPClient
	limiter    *util.Limiter
}

// NewClient creates a lookup client. limiter may be nil.
func NewClient(endpoint, userAgent string, httpClient HTTPClient, limiter *util.Limiter) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoint:   endpoint,
		userAgent:  userAgent,
		searchHost: "www.wikidata.org",
		httpClient: httpClient,
		limiter:    limiter,
	}
}

// Lookup resolves a normalized free-text key to an item identifier.
// City keys may carry a region ("seattle, washington"); the region narrows
// the match to items located within it.
func (c *Client) Lookup(ctx context.Context, typ model.IdentifierType, key string) (string, error) {
	query, err := BuildQuery(typ, key, c.searchHost)
	if err != nil {
		return "", err
	}

	result, err := c.Query(ctx, query)
	if err != nil {
		return "", err
	}

	bindings := result.Get("results.bindings").Array()
	for _, b := range bindings {
		if id := EntityID(b.Get("item.value").String()); id != "" {
			return id, nil
		}
	}
	return "", ErrNoMatch
}

// Query executes a SELECT query and returns the parsed JSON document
func (c *Client) Query(ctx context.Context, query string) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx, c.endpoint); err != nil {
		return gjson.Result{}, fmt.Errorf("rate limit: %w", err)
	}

	form := url.Values{}
	form.Set("query", query)
	form.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("query: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read body: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("invalid JSON response")
	}
	return gjson.ParseBytes(body), nil
}

// EntityID extracts the trailing item identifier from a concept URI
// ("http://www.wikidata.org/entity/Q5083" -> "Q5083")
func EntityID(uri string) string {
	idx := strings.LastIndex(uri, "/")
	id := uri[idx+1:]
	if len(id) < 2 || (id[0] != 'Q' && id[0] != 'P') {
		return ""
	}
	for _, r := range id[1:] {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return id
}
