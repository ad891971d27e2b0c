package publish

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/net/publicsuffix"

	"github.com/ppiankov/kbpublish/internal/metrics"
	"github.com/ppiankov/kbpublish/internal/model"
	"github.com/ppiankov/kbpublish/internal/util"
)

const (
	transientRetries = 1
	maxResponseBytes = 1 << 20
	maxRetryAfter    = 30 * time.Second
)

// publishSleepFunc is the sleep function used between retries (injectable for tests)
var publishSleepFunc = time.Sleep

// State is the position of a session in the write protocol
type State int

const (
	StateUnauthenticated State = iota
	StateLoginTokenAcquired
	StateLoggedIn
	StateEditTokenAcquired
	StatePublished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateLoginTokenAcquired:
		return "login_token_acquired"
	case StateLoggedIn:
		return "logged_in"
	case StateEditTokenAcquired:
		return "edit_token_acquired"
	case StatePublished:
		return "published"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// editRequest is one wbeditentity call
type editRequest struct {
	EntityID string // Empty creates a new item
	Data     string
	Summary  string
	Bot      bool
	MaxLag   int
}

// Session is one publish attempt's protocol state: cookies, tokens and the
// current state. Sessions are never shared between attempts.
type Session struct {
	ID         string
	apiURL     string
	userAgent  string
	httpClient HTTPClient
	limiter    *util.Limiter
	logger     logrus.FieldLogger

	state      State
	loginToken string
	csrfToken  string
	calls      int
}

func newSession(apiURL, userAgent string, factory HTTPClientFactory, limiter *util.Limiter, logger logrus.FieldLogger) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, wrapError(model.ErrNetwork, err, "create cookie jar")
	}
	id := uuid.NewString()
	return &Session{
		ID:         id,
		apiURL:     apiURL,
		userAgent:  userAgent,
		httpClient: factory(jar),
		limiter:    limiter,
		logger:     logger.WithField("attempt", id),
		state:      StateUnauthenticated,
	}, nil
}

// State returns the current protocol state
func (s *Session) State() State {
	return s.state
}

// Calls returns the number of HTTP requests the session has issued
func (s *Session) Calls() int {
	return s.calls
}

func (s *Session) transition(to State) {
	s.logger.WithFields(logrus.Fields{"from": s.state.String(), "to": to.String()}).Debug("Session state change")
	s.state = to
}

func (s *Session) fail(err error) error {
	s.transition(StateFailed)
	return err
}

// login runs T1 and T2
func (s *Session) login(ctx context.Context, username, password string) error {
	if err := s.acquireLoginToken(ctx); err != nil {
		return err
	}
	return s.submitLogin(ctx, username, password)
}

// submitLogin is T2 with the held login token. A NeedToken reply triggers
// exactly one retry with a freshly acquired login token.
func (s *Session) submitLogin(ctx context.Context, username, password string) error {
	for attempt := 0; ; attempt++ {
		body, err := s.post(ctx, "login", url.Values{
			"action":     {"login"},
			"lgname":     {username},
			"lgpassword": {password},
			"lgtoken":    {s.loginToken},
		})
		if err != nil {
			return s.fail(err)
		}

		switch r := decodeLogin(body).(type) {
		case loginResult:
			switch r.Result {
			case "Success":
				s.transition(StateLoggedIn)
				return nil
			case "NeedToken":
				if attempt == 0 {
					s.logger.Debug("Login requested a fresh token, retrying")
					if err := s.acquireLoginToken(ctx); err != nil {
						return err
					}
					continue
				}
				return s.fail(newError(model.ErrAuthentication, "login still requires a token after retry"))
			default:
				reason := r.Reason
				if reason == "" {
					reason = r.Result
				}
				return s.fail(newError(model.ErrAuthentication, "login rejected: %s", reason))
			}
		case errorResult:
			err := classifyRemote(r)
			if err.Kind == model.ErrTokenExpired {
				// The login token is spent; the caller may fetch another
				s.loginToken = ""
				s.transition(StateUnauthenticated)
				return err
			}
			return s.fail(err)
		case malformedResult:
			return s.fail(newError(model.ErrUnknownRemote, "unexpected login response: %s", r.Body))
		default:
			return s.fail(newError(model.ErrUnknownRemote, "unexpected login response"))
		}
	}
}

// acquireLoginToken is T1
func (s *Session) acquireLoginToken(ctx context.Context) error {
	token, err := s.fetchToken(ctx, tokenLogin)
	if err != nil {
		return s.fail(err)
	}
	s.loginToken = token
	s.transition(StateLoginTokenAcquired)
	return nil
}

// acquireEditToken is T3
func (s *Session) acquireEditToken(ctx context.Context) error {
	token, err := s.fetchToken(ctx, tokenCSRF)
	if err != nil {
		if KindOf(err) == model.ErrTokenExpired {
			// Session cookie lost; the caller may log in again
			s.transition(StateUnauthenticated)
			return err
		}
		return s.fail(err)
	}
	s.csrfToken = token
	s.transition(StateEditTokenAcquired)
	return nil
}

func (s *Session) fetchToken(ctx context.Context, kind string) (string, error) {
	params := url.Values{
		"action": {"query"},
		"meta":   {"tokens"},
		"type":   {kind},
	}
	if kind == tokenCSRF {
		params.Set("assert", "user")
	}

	body, err := s.post(ctx, kind+"_token", params)
	if err != nil {
		return "", err
	}

	switch r := decodeToken(body, kind).(type) {
	case tokenResponse:
		return r.Token, nil
	case errorResult:
		return "", classifyRemote(r)
	case malformedResult:
		return "", newError(model.ErrUnknownRemote, "no %s token in response: %s", kind, r.Body)
	default:
		return "", newError(model.ErrUnknownRemote, "unexpected %s token response", kind)
	}
}

// fetchClaims reads the statements already stored on an item. The
// returned keys pair each property with its normalized value.
func (s *Session) fetchClaims(ctx context.Context, id string) (mapset.Set[string], error) {
	body, err := s.post(ctx, "get_entity", url.Values{
		"action": {"wbgetentities"},
		"ids":    {id},
		"props":  {"claims"},
	})
	if err != nil {
		return nil, s.fail(err)
	}

	switch r := decodeEntity(body, id).(type) {
	case entityClaims:
		return r.Keys, nil
	case errorResult:
		return nil, s.fail(classifyRemote(r))
	case malformedResult:
		return nil, s.fail(newError(model.ErrUnknownRemote, "unexpected entity response: %s", r.Body))
	default:
		return nil, s.fail(newError(model.ErrUnknownRemote, "unexpected entity response"))
	}
}

// writeEntity is T4
func (s *Session) writeEntity(ctx context.Context, req editRequest) (editResult, error) {
	if s.state != StateEditTokenAcquired {
		return editResult{}, newError(model.ErrTokenExpired, "no edit token held in state %s", s.state)
	}

	params := url.Values{
		"action":  {"wbeditentity"},
		"data":    {req.Data},
		"summary": {req.Summary},
		"assert":  {"user"},
		"token":   {s.csrfToken},
	}
	if req.EntityID != "" {
		params.Set("id", req.EntityID)
	} else {
		params.Set("new", "item")
	}
	if req.Bot {
		params.Set("bot", "1")
	}
	if req.MaxLag > 0 {
		params.Set("maxlag", strconv.Itoa(req.MaxLag))
	}

	body, err := s.post(ctx, "edit", params)
	if err != nil {
		return editResult{}, s.fail(err)
	}

	switch r := decodeEdit(body).(type) {
	case editResult:
		s.transition(StatePublished)
		return r, nil
	case errorResult:
		err := classifyRemote(r)
		if KindOf(err) == model.ErrTokenExpired {
			// Recoverable by the caller; the token is spent
			s.csrfToken = ""
			s.transition(StateLoggedIn)
			return editResult{}, err
		}
		return editResult{}, s.fail(err)
	case malformedResult:
		return editResult{}, s.fail(newError(model.ErrUnknownRemote, "unexpected edit response: %s", r.Body))
	default:
		return editResult{}, s.fail(newError(model.ErrUnknownRemote, "unexpected edit response"))
	}
}

// post sends one API request, retrying a transient failure once
func (s *Session) post(ctx context.Context, step string, params url.Values) ([]byte, error) {
	params.Set("format", "json")
	params.Set("formatversion", "2")

	var lastErr error
	for attempt := 0; attempt <= transientRetries; attempt++ {
		body, retryAfter, err := s.postOnce(ctx, step, params)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if retryAfter < 0 || attempt == transientRetries || ctx.Err() != nil {
			break
		}

		wait := retryAfter
		if wait == 0 {
			wait = time.Duration(1<<uint(attempt)) * time.Second
		}
		s.logger.WithFields(logrus.Fields{"step": step, "wait": wait}).WithError(err).Warn("Transient failure, retrying")
		publishSleepFunc(wait)
	}
	return nil, lastErr
}

// postOnce performs a single request. retryAfter is negative for terminal
// errors, zero for transient errors without a server hint.
func (s *Session) postOnce(ctx context.Context, step string, params url.Values) ([]byte, time.Duration, error) {
	if err := s.limiter.Wait(ctx, s.apiURL); err != nil {
		return nil, -1, wrapError(model.ErrNetwork, err, "rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, -1, wrapError(model.ErrNetwork, err, "create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", s.userAgent)

	start := time.Now()
	s.calls++
	resp, err := s.httpClient.Do(req)
	metrics.ObserveStep(step, start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, -1, wrapError(model.ErrNetwork, err, step+" cancelled")
		}
		return nil, 0, wrapError(model.ErrNetwork, err, step+" request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, wrapError(model.ErrNetwork, err, step+" read response")
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, retryAfterHeader(resp), newError(model.ErrNetwork, "%s: HTTP %d", step, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, -1, newError(model.ErrUnknownRemote, "%s: HTTP %d", step, resp.StatusCode)
	}

	// maxlag arrives as an API error with HTTP 200
	if e, ok := decodeError(gjson.ParseBytes(body)); ok && e.Code == codeMaxLag {
		return nil, retryAfterHeader(resp), &Error{Kind: model.ErrNetwork, Code: e.Code, Message: fmt.Sprintf("%s: replication lag: %s", step, e.Info)}
	}
	return body, 0, nil
}

func retryAfterHeader(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

// classifyRemote maps an API error to its error kind
func classifyRemote(r errorResult) *Error {
	e := &Error{Code: r.Code, Message: r.Info}
	if e.Message == "" {
		e.Message = r.Code
	}

	switch {
	case r.Code == codeBadToken, r.Code == codeAssertUserFailed, r.Code == codeNotLoggedIn:
		e.Kind = model.ErrTokenExpired
	case isConflict(r):
		e.Kind = model.ErrConflict
		e.ExistingID = r.ExistingID
	case r.Code == codeMaxLag:
		e.Kind = model.ErrNetwork
	case r.Code == codePermissionDenied, r.Code == codeBlocked:
		e.Kind = model.ErrAuthentication
	default:
		e.Kind = model.ErrUnknownRemote
	}
	return e
}
