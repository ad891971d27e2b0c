package publish

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/kbpublish/internal/logging"
	"github.com/ppiankov/kbpublish/internal/metrics"
	"github.com/ppiankov/kbpublish/internal/model"
	"github.com/ppiankov/kbpublish/internal/util"
)

const (
	// DryRunIdentifier is reported for successful dry runs
	DryRunIdentifier = "Q0"

	// MaxLabelRunes is the remote limit on label and description length
	MaxLabelRunes = 250

	kindSuccess = "success"
	kindDryRun  = "dry_run"
)

// HTTPClient is the subset of *http.Client used by the publish client
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClientFactory builds the HTTP client for one session around its cookie jar
type HTTPClientFactory func(jar http.CookieJar) HTTPClient

// Request selects how an entity is published
type Request struct {
	Target model.Target // Empty uses the configured target
	DryRun bool         // Forces a dry run regardless of configuration
}

// Client writes structured entities to the knowledge base
type Client struct {
	cfg       model.KBConfig
	userAgent string
	factory   HTTPClientFactory
	limiter   *util.Limiter
	logger    logrus.FieldLogger
}

// NewClient creates a publish client. limiter may be nil.
func NewClient(cfg model.KBConfig, httpCfg model.HTTPConfig, limiter *util.Limiter, logger logrus.FieldLogger) *Client {
	return &Client{
		cfg:       cfg,
		userAgent: httpCfg.UserAgent,
		factory: func(jar http.CookieJar) HTTPClient {
			return util.NewHTTPClient(httpCfg, jar)
		},
		limiter: limiter,
		logger:  logging.OrDiscard(logger),
	}
}

// SetHTTPClientFactory replaces how per-session HTTP clients are built
func (c *Client) SetHTTPClientFactory(f HTTPClientFactory) {
	c.factory = f
}

// ResolveTarget applies the production gate and returns the effective
// target and its host
func (c *Client) ResolveTarget(requested model.Target) (model.Target, string) {
	if requested == "" {
		requested = model.Target(c.cfg.Target)
	}

	switch requested {
	case model.TargetProduction:
		if c.cfg.AllowProduction {
			return model.TargetProduction, c.cfg.ProductionHost
		}
		c.logger.WithField("kind", model.ErrUnsupportedTarget).
			Warn("Production target requested but allow_production is false, using sandbox")
	case model.TargetSandbox:
	default:
		c.logger.WithFields(logrus.Fields{"kind": model.ErrUnsupportedTarget, "target": requested}).
			Warn("Unknown target, using sandbox")
	}
	return model.TargetSandbox, c.cfg.SandboxHost
}

func (c *Client) apiURL(host string) string {
	scheme := c.cfg.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + host + "/w/api.php"
}

// Validate checks the entity against the remote's label and description rules
func Validate(entity *model.StructuredEntity) error {
	if entity == nil {
		return newError(model.ErrValidation, "no entity")
	}
	label := strings.TrimSpace(entity.Label("en"))
	desc := strings.TrimSpace(entity.Description("en"))

	var missing []string
	if label == "" {
		missing = append(missing, "English label")
	}
	if desc == "" {
		missing = append(missing, "English description")
	}
	if len(missing) > 0 {
		return newError(model.ErrValidation, "missing %s", strings.Join(missing, " and "))
	}

	if utf8.RuneCountInString(label) > MaxLabelRunes {
		return newError(model.ErrValidation, "label exceeds %d characters", MaxLabelRunes)
	}
	if utf8.RuneCountInString(desc) > MaxLabelRunes {
		return newError(model.ErrValidation, "description exceeds %d characters", MaxLabelRunes)
	}
	if strings.EqualFold(label, desc) {
		return newError(model.ErrValidation, "label and description must differ")
	}
	return nil
}

// Publish writes the entity, creating an item when entity.ID is empty and
// updating it otherwise. The outcome is always returned; err is the typed
// *Error behind a failed outcome.
func (c *Client) Publish(ctx context.Context, entity *model.StructuredEntity, req Request) (*model.PublishOutcome, error) {
	target, host := c.ResolveTarget(req.Target)
	outcome := &model.PublishOutcome{
		PublishedTarget: host,
		Action:          model.ActionCreate,
	}
	if entity != nil && entity.ID != "" {
		outcome.Action = model.ActionUpdate
	}

	logger := c.logger.WithFields(logrus.Fields{
		"target": target,
		"host":   host,
		"action": outcome.Action,
		"label":  entity.Label("en"),
	})

	dryRun := req.DryRun || c.cfg.DryRun
	if c.cfg.ValidationEnabled || dryRun || entity == nil {
		if err := Validate(entity); err != nil {
			return c.finish(logger, target, outcome, err)
		}
	}

	if dryRun {
		outcome.Success = true
		outcome.DryRun = true
		outcome.Identifier = DryRunIdentifier
		metrics.PublishOutcomes.WithLabelValues(string(target), kindDryRun).Inc()
		logger.Info("Dry run, entity not written")
		return outcome, nil
	}

	if c.cfg.Username == "" || c.cfg.Password == "" {
		return c.finish(logger, target, outcome, newError(model.ErrAuthentication, "no credentials configured"))
	}

	data, err := encodeEntity(entity)
	if err != nil {
		return c.finish(logger, target, outcome, err)
	}

	s, err := newSession(c.apiURL(host), c.userAgent, c.factory, c.limiter, logger)
	if err != nil {
		return c.finish(logger, target, outcome, err)
	}

	res, err := c.run(ctx, s, entity, editRequest{
		EntityID: entity.ID,
		Data:     data,
		Summary:  c.cfg.EditSummary,
		Bot:      c.cfg.Bot,
		MaxLag:   c.cfg.MaxLag,
	})
	if err != nil {
		return c.finish(logger.WithField("attempt", s.ID), target, outcome, err)
	}

	outcome.Success = true
	outcome.Identifier = res.EntityID
	outcome.Revision = res.Revision
	metrics.PublishOutcomes.WithLabelValues(string(target), kindSuccess).Inc()
	logger.WithFields(logrus.Fields{
		"id":       res.EntityID,
		"revision": res.Revision,
		"calls":    s.Calls(),
	}).Info("Entity published")
	return outcome, nil
}

// run drives the session from login to a written entity. An update only
// sends the statements the item does not already carry.
func (c *Client) run(ctx context.Context, s *Session, entity *model.StructuredEntity, req editRequest) (editResult, error) {
	relogin := func() error {
		return s.login(ctx, c.cfg.Username, c.cfg.Password)
	}

	if err := s.acquireLoginToken(ctx); err != nil {
		return editResult{}, err
	}
	err := withTokenRefresh(s,
		func() error { return s.submitLogin(ctx, c.cfg.Username, c.cfg.Password) },
		func(string) error { return s.acquireLoginToken(ctx) },
	)
	if err != nil {
		return editResult{}, err
	}

	if req.EntityID != "" {
		existing, err := s.fetchClaims(ctx, req.EntityID)
		if err != nil {
			return editResult{}, err
		}
		data, skipped, err := encodeEntityExcept(entity, existing)
		if err != nil {
			return editResult{}, s.fail(err)
		}
		req.Data = data
		s.logger.WithFields(logrus.Fields{"id": req.EntityID, "unchanged": skipped}).Debug("Existing statements left out of update")
	}

	err = withTokenRefresh(s,
		func() error { return s.acquireEditToken(ctx) },
		func(string) error { return relogin() },
	)
	if err != nil {
		return editResult{}, err
	}

	var res editResult
	err = withTokenRefresh(s,
		func() error {
			var err error
			res, err = s.writeEntity(ctx, req)
			return err
		},
		func(code string) error {
			if code != codeBadToken {
				if err := relogin(); err != nil {
					return err
				}
			}
			return s.acquireEditToken(ctx)
		},
	)
	return res, err
}

// withTokenRefresh runs op, and on a rejected token re-acquires it once via
// refresh and runs op again. A second rejection is an authentication failure.
func withTokenRefresh(s *Session, op func() error, refresh func(code string) error) error {
	err := op()
	pe, ok := AsError(err)
	if !ok || pe.Kind != model.ErrTokenExpired {
		return err
	}

	s.logger.WithField("code", pe.Code).Warn("Token rejected, re-acquiring")
	if rerr := refresh(pe.Code); rerr != nil {
		if KindOf(rerr) == model.ErrTokenExpired {
			return s.fail(wrapError(model.ErrAuthentication, rerr, "token rejected after re-acquisition"))
		}
		return rerr
	}

	err = op()
	if KindOf(err) == model.ErrTokenExpired {
		return s.fail(wrapError(model.ErrAuthentication, err, "token rejected after re-acquisition"))
	}
	return err
}

func (c *Client) finish(logger logrus.FieldLogger, target model.Target, outcome *model.PublishOutcome, err error) (*model.PublishOutcome, error) {
	pe, ok := AsError(err)
	if !ok {
		pe = wrapError(model.ErrUnknownRemote, err, "publish failed")
	}
	outcome.Success = false
	outcome.Error = pe.Outcome()

	metrics.PublishOutcomes.WithLabelValues(string(target), string(pe.Kind)).Inc()
	fields := logrus.Fields{"kind": pe.Kind}
	if pe.ExistingID != "" {
		fields["existing_id"] = pe.ExistingID
	}
	logger.WithFields(fields).WithError(err).Warn("Publish failed")
	return outcome, pe
}
