package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/kbpublish/internal/build"
	"github.com/ppiankov/kbpublish/internal/cache"
	"github.com/ppiankov/kbpublish/internal/extract"
	"github.com/ppiankov/kbpublish/internal/logging"
	"github.com/ppiankov/kbpublish/internal/model"
	"github.com/ppiankov/kbpublish/internal/notability"
	"github.com/ppiankov/kbpublish/internal/publish"
	"github.com/ppiankov/kbpublish/internal/resolve"
	"github.com/ppiankov/kbpublish/internal/sparql"
	"github.com/ppiankov/kbpublish/internal/util"
	"github.com/ppiankov/kbpublish/internal/validate"
)

// Publisher writes entities to the knowledge base
type Publisher interface {
	Publish(ctx context.Context, entity *model.StructuredEntity, req publish.Request) (*model.PublishOutcome, error)
	ResolveTarget(requested model.Target) (model.Target, string)
}

// Components are the collaborators a pipeline is assembled from. Only
// Publisher is required.
type Components struct {
	Resolver    resolve.IdentifierResolver
	Publisher   Publisher
	Geocoder    Geocoder
	Fetcher     *Fetcher
	LinkChecker notability.LinkChecker
}

// Pipeline orchestrates notability, entity construction and publishing
type Pipeline struct {
	config    *model.Config
	evaluator *notability.Evaluator
	builder   *build.Builder
	publisher Publisher
	geocoder  Geocoder
	fetcher   *Fetcher
	extractor *extract.PageExtractor
	logger    logrus.FieldLogger

	resolver *resolve.Resolver // Set when built by NewPipeline
	store    cache.Store
}

// New assembles a pipeline from explicit components
func New(cfg *model.Config, c Components, logger logrus.FieldLogger) *Pipeline {
	logger = logging.OrDiscard(logger)
	evaluator := notability.NewEvaluator(cfg.Notability, validate.NewSourceClassifier(&cfg.Authority))
	if c.LinkChecker != nil {
		evaluator.SetLinkChecker(c.LinkChecker)
	}
	return &Pipeline{
		config:    cfg,
		evaluator: evaluator,
		builder:   build.NewBuilder(c.Resolver, logger),
		publisher: c.Publisher,
		geocoder:  c.Geocoder,
		fetcher:   c.Fetcher,
		extractor: extract.NewPageExtractor(),
		logger:    logger.WithField("component", "pipeline"),
	}
}

// NewPipeline wires the production components described by cfg: the
// identifier cache and resolver, the SPARQL client, the publish client, the
// reference link checker, the site fetcher and (when enabled) the geocoder
func NewPipeline(cfg *model.Config, logger logrus.FieldLogger) (*Pipeline, error) {
	logger = logging.OrDiscard(logger)
	limiter := util.NewLimiterFromConfig(cfg.RateLimiting)

	resolver, store, err := NewResolver(cfg, limiter, logger)
	if err != nil {
		return nil, err
	}

	httpClient := util.NewHTTPClient(cfg.HTTP, nil)
	httpClient.CheckRedirect = LimitRedirects

	c := Components{
		Resolver:    resolver,
		Publisher:   publish.NewClient(cfg.KB, cfg.HTTP, limiter, logger),
		Fetcher:     NewFetcher(httpClient, cfg.HTTP.UserAgent, 0, util.NewRobotsChecker(httpClient, cfg.HTTP.UserAgent), limiter),
		LinkChecker: validate.NewLinkChecker(httpClient, cfg.HTTP.UserAgent, cfg.Concurrency.Workers*2),
	}
	if cfg.Geocoding.Enabled {
		geocoder, err := NewMapsGeocoder(cfg.Geocoding.APIKey)
		if err != nil {
			logger.WithError(err).Warn("Geocoding disabled")
		} else {
			c.Geocoder = geocoder
		}
	}

	p := New(cfg, c, logger)
	p.resolver = resolver
	p.store = store
	return p, nil
}

// NewResolver opens the identifier cache and builds a resolver backed by the
// configured SPARQL endpoint
func NewResolver(cfg *model.Config, limiter *util.Limiter, logger logrus.FieldLogger) (*resolve.Resolver, cache.Store, error) {
	store, err := cache.Open(cfg.Resolver)
	if err != nil {
		return nil, nil, fmt.Errorf("open identifier cache: %w", err)
	}
	remote := sparql.NewClient(cfg.Resolver.SPARQLEndpoint, cfg.HTTP.UserAgent, util.NewHTTPClient(cfg.HTTP, nil), limiter)
	return resolve.NewResolver(store, remote, cfg.Resolver, logger), store, nil
}

// Close waits for background revalidations and closes the identifier cache
func (p *Pipeline) Close() error {
	if p.resolver != nil {
		p.resolver.Wait()
	}
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}

// Request is one publish request
type Request struct {
	Subject    model.BusinessSubject       `json:"subject"`
	Crawl      *model.CrawlData            `json:"crawl,omitempty"`
	References []model.NotabilityReference `json:"references,omitempty"`
	Target     model.Target                `json:"target,omitempty"`
	DryRun     bool                        `json:"dry_run,omitempty"`
	Force      bool                        `json:"force,omitempty"`      // Publish despite a failing verdict
	FetchSite  bool                        `json:"fetch_site,omitempty"` // Extract crawl data from the subject's website when Crawl is nil
}

// Result bundles everything a publish request produced
type Result struct {
	Verdict model.NotabilityVerdict `json:"verdict"`
	Entity  *model.StructuredEntity `json:"entity,omitempty"`
	Outcome *model.PublishOutcome   `json:"outcome"`
	Crawl   *model.CrawlData        `json:"crawl,omitempty"`
	Err     error                   `json:"-"`
}

// Evaluate runs the notability gate alone
func (p *Pipeline) Evaluate(ctx context.Context, req Request) model.NotabilityVerdict {
	return p.evaluator.EvaluateChecked(ctx, req.Subject, req.References)
}

// Build constructs the entity for a request without publishing it
func (p *Pipeline) Build(ctx context.Context, req Request) (*model.StructuredEntity, *model.CrawlData, error) {
	subject, crawl := p.prepare(ctx, req)
	entity, err := p.builder.Build(ctx, subject, crawl, req.References)
	return entity, crawl, err
}

// Publish runs notability, construction and publishing. A failing verdict
// blocks publishing unless the request forces it or the gate is advisory.
func (p *Pipeline) Publish(ctx context.Context, req Request) *Result {
	logger := p.logger.WithField("subject", req.Subject.Name)
	// Resolved once; the publisher sees the effective target
	target, host := p.publisher.ResolveTarget(req.Target)
	result := &Result{}

	result.Verdict = p.Evaluate(ctx, req)
	if !result.Verdict.IsNotable {
		if p.config.Notability.Required && !req.Force {
			logger.WithField("reasons", strings.Join(result.Verdict.Reasons, "; ")).Info("Blocked by notability gate")
			result.Outcome = failedOutcome(host, model.ErrNotNotable, notNotableMessage(result.Verdict))
			return result
		}
		logger.Warn("Subject below notability threshold, publishing anyway")
	}

	subject, crawl := p.prepare(ctx, req)
	result.Crawl = crawl

	entity, err := p.builder.Build(ctx, subject, crawl, req.References)
	if err != nil {
		result.Outcome = failedOutcome(host, model.ErrValidation, "business name is required")
		result.Err = err
		return result
	}
	result.Entity = entity

	result.Outcome, result.Err = p.PublishConflictAware(ctx, entity, publish.Request{Target: target, DryRun: req.DryRun})
	return result
}

// PublishConflictAware publishes the entity and, when a create conflicts
// with a named existing entity and update_on_conflict is set, re-issues the
// write as an update of that entity
func (p *Pipeline) PublishConflictAware(ctx context.Context, entity *model.StructuredEntity, req publish.Request) (*model.PublishOutcome, error) {
	outcome, err := p.publisher.Publish(ctx, entity, req)
	if err == nil || !p.config.KB.UpdateOnConflict || entity.ID != "" {
		return outcome, err
	}

	pe, ok := publish.AsError(err)
	if !ok || pe.Kind != model.ErrConflict || pe.ExistingID == "" {
		return outcome, err
	}

	p.logger.WithFields(logrus.Fields{
		"label":       entity.Label("en"),
		"existing_id": pe.ExistingID,
	}).Info("Entity exists, updating instead")

	update := *entity
	update.ID = pe.ExistingID
	return p.publisher.Publish(ctx, &update, req)
}

// prepare applies optional enrichment: site extraction and geocoding. The
// caller's subject is never modified.
func (p *Pipeline) prepare(ctx context.Context, req Request) (model.BusinessSubject, *model.CrawlData) {
	subject := req.Subject
	crawl := req.Crawl
	if crawl == nil && req.FetchSite {
		crawl = p.crawlSite(ctx, subject.URL)
	}
	p.enrichCoordinates(ctx, &subject, crawl)
	return subject, crawl
}

func (p *Pipeline) crawlSite(ctx context.Context, siteURL string) *model.CrawlData {
	if p.fetcher == nil || strings.TrimSpace(siteURL) == "" {
		return nil
	}
	logger := p.logger.WithField("url", siteURL)

	page, err := p.fetcher.FetchWithRetry(ctx, siteURL)
	if err != nil {
		logger.WithError(err).Warn("Site fetch failed, building without crawl data")
		return nil
	}
	crawl, err := p.extractor.Extract(page.HTML, page.FinalURL)
	if err != nil {
		logger.WithError(err).Warn("Site extraction failed, building without crawl data")
		return nil
	}
	return crawl
}

func (p *Pipeline) enrichCoordinates(ctx context.Context, subject *model.BusinessSubject, crawl *model.CrawlData) {
	if p.geocoder == nil || subject.Location == nil || subject.Location.HasCoordinates() {
		return
	}
	address := geocodeAddress(*subject, crawl)
	if address == "" {
		return
	}

	lat, lng, err := p.geocoder.Geocode(ctx, address)
	if err != nil {
		p.logger.WithError(err).WithField("address", address).Debug("Geocoding failed")
		return
	}
	loc := *subject.Location
	loc.Lat, loc.Lng = &lat, &lng
	subject.Location = &loc
}

func failedOutcome(host string, kind model.ErrorKind, message string) *model.PublishOutcome {
	return &model.PublishOutcome{
		PublishedTarget: host,
		Error:           &model.OutcomeError{Kind: kind, Message: message},
	}
}

func notNotableMessage(v model.NotabilityVerdict) string {
	if len(v.Reasons) == 0 {
		return "not enough independent sources"
	}
	return strings.Join(v.Reasons, "; ")
}
