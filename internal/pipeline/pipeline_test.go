package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/ppiankov/kbpublish/internal/build"
	"github.com/ppiankov/kbpublish/internal/cache"
	"github.com/ppiankov/kbpublish/internal/logging"
	"github.com/ppiankov/kbpublish/internal/model"
	"github.com/ppiankov/kbpublish/internal/publish"
	"github.com/ppiankov/kbpublish/internal/resolve"
)

type fakeReply struct {
	outcome *model.PublishOutcome
	err     error
}

// fakePublisher records published entities and replays scripted replies,
// succeeding by default
type fakePublisher struct {
	mu      sync.Mutex
	calls   []*model.StructuredEntity
	targets []model.Target
	replies []fakeReply
}

func (f *fakePublisher) Publish(ctx context.Context, entity *model.StructuredEntity, req publish.Request) (*model.PublishOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, entity)
	f.targets = append(f.targets, req.Target)

	if len(f.replies) > 0 {
		r := f.replies[0]
		f.replies = f.replies[1:]
		return r.outcome, r.err
	}

	outcome := &model.PublishOutcome{Success: true, Identifier: "Q100", PublishedTarget: "test.wikidata.org", Action: model.ActionCreate}
	if entity.ID != "" {
		outcome.Identifier = entity.ID
		outcome.Action = model.ActionUpdate
	}
	return outcome, nil
}

func (f *fakePublisher) ResolveTarget(requested model.Target) (model.Target, string) {
	return model.TargetSandbox, "test.wikidata.org"
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeGeocoder struct {
	addresses []string
	err       error
}

func (g *fakeGeocoder) Geocode(ctx context.Context, address string) (float64, float64, error) {
	g.addresses = append(g.addresses, address)
	if g.err != nil {
		return 0, 0, g.err
	}
	return 47.6097, -122.3422, nil
}

func seattleSubject() model.BusinessSubject {
	return model.BusinessSubject{
		Name:     "Pike Place Bakery",
		URL:      "https://pikeplacebakery.example",
		Industry: "Bakery",
		Location: &model.Location{City: "Seattle", State: "WA", Country: "US"},
	}
}

func pressRefs() []model.NotabilityReference {
	return []model.NotabilityReference{
		{URL: "https://www.seattletimes.com/food/pike-place-bakery", Title: "A bakery worth the line"},
		{URL: "https://www.geekwire.com/2024/bakery-app", Title: "Bakery launches ordering app"},
		{URL: "https://www.bizjournals.com/seattle/news/bakery", Title: "Bakery expands"},
	}
}

func newTestPipeline(cfg *model.Config, c Components) *Pipeline {
	if c.Resolver == nil {
		c.Resolver = resolve.NewResolver(cache.NewMemoryStore(0, time.Minute), nil, cfg.Resolver, nil)
	}
	return New(cfg, c, logging.Discard())
}

func TestPublish_NotableSubjectPublished(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestPipeline(model.DefaultConfig(), Components{Publisher: pub})

	result := p.Publish(context.Background(), Request{Subject: seattleSubject(), References: pressRefs()})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if !result.Verdict.IsNotable {
		t.Errorf("expected notable verdict, reasons: %v", result.Verdict.Reasons)
	}
	if !result.Outcome.Success || result.Outcome.Identifier != "Q100" {
		t.Errorf("outcome = %+v", result.Outcome)
	}
	if result.Entity == nil || result.Entity.Label("en") != "Pike Place Bakery" {
		t.Fatalf("entity = %+v", result.Entity)
	}
	if !result.Entity.HasClaim(model.PropLocatedIn) || !result.Entity.HasClaim(model.PropIndustry) {
		t.Error("expected resolved location and industry claims")
	}
	if pub.callCount() != 1 {
		t.Errorf("publish calls = %d, want 1", pub.callCount())
	}
}

func TestPublish_NotNotableBlocks(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestPipeline(model.DefaultConfig(), Components{Publisher: pub})

	result := p.Publish(context.Background(), Request{Subject: seattleSubject()})
	if result.Outcome.Success || result.Outcome.Error.Kind != model.ErrNotNotable {
		t.Fatalf("outcome = %+v", result.Outcome)
	}
	if result.Outcome.PublishedTarget != "test.wikidata.org" {
		t.Errorf("target host = %q", result.Outcome.PublishedTarget)
	}
	if result.Entity != nil {
		t.Error("blocked request should not build an entity")
	}
	if pub.callCount() != 0 {
		t.Errorf("blocked request published %d times", pub.callCount())
	}
	if msg := UserMessage(result.Outcome); !strings.Contains(msg, "below minimum of 2 serious references") {
		t.Errorf("message = %q", msg)
	}
}

func TestPublish_ForceOverridesGate(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestPipeline(model.DefaultConfig(), Components{Publisher: pub})

	result := p.Publish(context.Background(), Request{Subject: seattleSubject(), Force: true})
	if result.Verdict.IsNotable {
		t.Error("verdict should still report not notable")
	}
	if !result.Outcome.Success || pub.callCount() != 1 {
		t.Errorf("forced publish: outcome = %+v, calls = %d", result.Outcome, pub.callCount())
	}
}

func TestPublish_AdvisoryGate(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Notability.Required = false
	pub := &fakePublisher{}
	p := newTestPipeline(cfg, Components{Publisher: pub})

	result := p.Publish(context.Background(), Request{Subject: seattleSubject()})
	if !result.Outcome.Success || pub.callCount() != 1 {
		t.Errorf("advisory gate: outcome = %+v, calls = %d", result.Outcome, pub.callCount())
	}
}

func TestPublish_MissingNameIsValidation(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestPipeline(model.DefaultConfig(), Components{Publisher: pub})
	subject := seattleSubject()
	subject.Name = "  "

	result := p.Publish(context.Background(), Request{Subject: subject, References: pressRefs()})
	if !errors.Is(result.Err, build.ErrMissingName) {
		t.Errorf("err = %v, want ErrMissingName", result.Err)
	}
	if result.Outcome.Error == nil || result.Outcome.Error.Kind != model.ErrValidation {
		t.Errorf("outcome = %+v", result.Outcome)
	}
	if pub.callCount() != 0 {
		t.Errorf("invalid subject published %d times", pub.callCount())
	}
}

func conflictReply() fakeReply {
	return fakeReply{
		outcome: &model.PublishOutcome{
			PublishedTarget: "test.wikidata.org",
			Action:          model.ActionCreate,
			Error:           &model.OutcomeError{Kind: model.ErrConflict, Message: "label exists", ExistingID: "Q42"},
		},
		err: &publish.Error{Kind: model.ErrConflict, Message: "label exists", ExistingID: "Q42"},
	}
}

func TestPublish_ConflictThenUpdate(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.KB.UpdateOnConflict = true
	pub := &fakePublisher{replies: []fakeReply{conflictReply()}}
	p := newTestPipeline(cfg, Components{Publisher: pub})

	result := p.Publish(context.Background(), Request{Subject: seattleSubject(), References: pressRefs()})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if pub.callCount() != 2 {
		t.Fatalf("publish calls = %d, want create then update", pub.callCount())
	}
	if pub.calls[0].ID != "" || pub.calls[1].ID != "Q42" {
		t.Errorf("entity IDs = %q then %q", pub.calls[0].ID, pub.calls[1].ID)
	}
	if !result.Outcome.Success || result.Outcome.Action != model.ActionUpdate || result.Outcome.Identifier != "Q42" {
		t.Errorf("outcome = %+v", result.Outcome)
	}
	if result.Entity.ID != "" {
		t.Error("built entity was modified by the update retry")
	}
}

func TestPublish_ConflictSurfacedWhenUpdateDisabled(t *testing.T) {
	pub := &fakePublisher{replies: []fakeReply{conflictReply()}}
	p := newTestPipeline(model.DefaultConfig(), Components{Publisher: pub})

	result := p.Publish(context.Background(), Request{Subject: seattleSubject(), References: pressRefs()})
	if publish.KindOf(result.Err) != model.ErrConflict {
		t.Errorf("kind = %q, want conflict", publish.KindOf(result.Err))
	}
	if pub.callCount() != 1 {
		t.Errorf("publish calls = %d, want 1", pub.callCount())
	}
	if msg := UserMessage(result.Outcome); !strings.Contains(msg, "Q42") {
		t.Errorf("message = %q, want existing identifier", msg)
	}
}

func TestPublishConflictAware_NoExistingID(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.KB.UpdateOnConflict = true
	reply := conflictReply()
	reply.err = &publish.Error{Kind: model.ErrConflict, Message: "label exists"}
	pub := &fakePublisher{replies: []fakeReply{reply}}
	p := newTestPipeline(cfg, Components{Publisher: pub})

	entity := &model.StructuredEntity{}
	if _, err := p.PublishConflictAware(context.Background(), entity, publish.Request{}); publish.KindOf(err) != model.ErrConflict {
		t.Errorf("kind = %q, want conflict", publish.KindOf(err))
	}
	if pub.callCount() != 1 {
		t.Errorf("conflict without identifier retried: calls = %d", pub.callCount())
	}
}

func TestPublish_GeocoderFillsCoordinates(t *testing.T) {
	geo := &fakeGeocoder{}
	pub := &fakePublisher{}
	p := newTestPipeline(model.DefaultConfig(), Components{Publisher: pub, Geocoder: geo})
	subject := seattleSubject()

	result := p.Publish(context.Background(), Request{Subject: subject, References: pressRefs()})
	if len(geo.addresses) != 1 || geo.addresses[0] != "Seattle, WA, US" {
		t.Errorf("geocoded addresses = %v", geo.addresses)
	}
	if !result.Entity.HasClaim(model.PropCoordinates) {
		t.Error("expected coordinate claim from geocoding")
	}
	if subject.Location.Lat != nil {
		t.Error("caller's subject was modified")
	}
}

func TestPublish_GeocoderUsesCrawlAddress(t *testing.T) {
	geo := &fakeGeocoder{}
	p := newTestPipeline(model.DefaultConfig(), Components{Publisher: &fakePublisher{}, Geocoder: geo})

	crawl := &model.CrawlData{Address: "85 Pike St, Seattle, WA 98101"}
	p.Publish(context.Background(), Request{Subject: seattleSubject(), Crawl: crawl, References: pressRefs()})
	if len(geo.addresses) != 1 || geo.addresses[0] != crawl.Address {
		t.Errorf("geocoded addresses = %v", geo.addresses)
	}
}

func TestPublish_GeocoderSkipped(t *testing.T) {
	lat, lng := 47.6, -122.3
	tests := []struct {
		name     string
		location *model.Location
	}{
		{name: "coordinates known", location: &model.Location{City: "Seattle", State: "WA", Lat: &lat, Lng: &lng}},
		{name: "no location"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			geo := &fakeGeocoder{}
			p := newTestPipeline(model.DefaultConfig(), Components{Publisher: &fakePublisher{}, Geocoder: geo})
			subject := seattleSubject()
			subject.Location = tt.location

			p.Publish(context.Background(), Request{Subject: subject, References: pressRefs()})
			if len(geo.addresses) != 0 {
				t.Errorf("geocoder called with %v", geo.addresses)
			}
		})
	}
}

func TestPublish_GeocoderFailureIgnored(t *testing.T) {
	geo := &fakeGeocoder{err: ErrNoGeocode}
	p := newTestPipeline(model.DefaultConfig(), Components{Publisher: &fakePublisher{}, Geocoder: geo})

	result := p.Publish(context.Background(), Request{Subject: seattleSubject(), References: pressRefs()})
	if !result.Outcome.Success {
		t.Errorf("geocoding failure should not fail publishing: %+v", result.Outcome)
	}
	if result.Entity.HasClaim(model.PropCoordinates) {
		t.Error("unexpected coordinate claim")
	}
}

func TestPublish_FetchSite(t *testing.T) {
	const description = "Neighborhood bakery baking sourdough bread in Seattle since 2011."
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html><head><title>Pike Place Bakery</title>
<meta name="description" content="%s"></head>
<body><a href="tel:+1-206-555-0100">Call us</a></body></html>`, description)
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), "test-agent", 0, nil, nil)
	p := newTestPipeline(model.DefaultConfig(), Components{Publisher: &fakePublisher{}, Fetcher: fetcher})
	subject := seattleSubject()
	subject.URL = server.URL + "/"

	result := p.Publish(context.Background(), Request{Subject: subject, References: pressRefs(), FetchSite: true})
	if result.Crawl == nil || result.Crawl.Description != description {
		t.Fatalf("crawl = %+v", result.Crawl)
	}
	if got := result.Entity.Description("en"); got != description {
		t.Errorf("description = %q", got)
	}
	if !result.Entity.HasClaim(model.PropPhone) {
		t.Error("expected phone claim from crawled page")
	}
}

func TestPublish_FetchSiteFailureBuildsWithoutCrawl(t *testing.T) {
	noFetchSleep(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), "test-agent", 0, nil, nil)
	p := newTestPipeline(model.DefaultConfig(), Components{Publisher: &fakePublisher{}, Fetcher: fetcher})
	subject := seattleSubject()
	subject.URL = server.URL + "/"

	result := p.Publish(context.Background(), Request{Subject: subject, References: pressRefs(), FetchSite: true})
	if result.Crawl != nil {
		t.Errorf("crawl = %+v, want nil", result.Crawl)
	}
	if !result.Outcome.Success {
		t.Errorf("outcome = %+v", result.Outcome)
	}
}

func TestPublish_DryRunEndToEnd(t *testing.T) {
	cfg := model.DefaultConfig()
	client := publish.NewClient(cfg.KB, cfg.HTTP, nil, logging.Discard())
	p := newTestPipeline(cfg, Components{Publisher: client})

	result := p.Publish(context.Background(), Request{Subject: seattleSubject(), References: pressRefs(), DryRun: true})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if !result.Outcome.DryRun || result.Outcome.Identifier != publish.DryRunIdentifier {
		t.Errorf("outcome = %+v", result.Outcome)
	}
	if msg := UserMessage(result.Outcome); !strings.HasPrefix(msg, "Dry run passed") {
		t.Errorf("message = %q", msg)
	}
}

func TestPublish_ProductionDowngradeReported(t *testing.T) {
	cfg := model.DefaultConfig()
	client := publish.NewClient(cfg.KB, cfg.HTTP, nil, logging.Discard())
	p := newTestPipeline(cfg, Components{Publisher: client})

	result := p.Publish(context.Background(), Request{Subject: seattleSubject(), Target: model.TargetProduction})
	if result.Outcome.PublishedTarget != cfg.KB.SandboxHost {
		t.Errorf("target host = %q, want %q", result.Outcome.PublishedTarget, cfg.KB.SandboxHost)
	}
}

func TestPublish_ResolvedTargetPassedToPublisher(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestPipeline(model.DefaultConfig(), Components{Publisher: pub})

	p.Publish(context.Background(), Request{Subject: seattleSubject(), References: pressRefs(), Target: model.TargetProduction})
	if len(pub.targets) != 1 || pub.targets[0] != model.TargetSandbox {
		t.Errorf("publisher targets = %v, want [sandbox]", pub.targets)
	}
}

func TestPublish_ProductionDowngradeWarnsOnce(t *testing.T) {
	cfg := model.DefaultConfig()
	logger, hook := logtest.NewNullLogger()
	client := publish.NewClient(cfg.KB, cfg.HTTP, nil, logger)
	p := New(cfg, Components{
		Publisher: client,
		Resolver:  resolve.NewResolver(cache.NewMemoryStore(0, time.Minute), nil, cfg.Resolver, nil),
	}, logger)

	result := p.Publish(context.Background(), Request{
		Subject:    seattleSubject(),
		References: pressRefs(),
		Target:     model.TargetProduction,
		DryRun:     true,
	})
	if !result.Outcome.DryRun {
		t.Fatalf("outcome = %+v", result.Outcome)
	}

	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Data["kind"] == model.ErrUnsupportedTarget {
			warnings++
		}
	}
	if warnings != 1 {
		t.Errorf("downgrade warnings = %d, want 1", warnings)
	}
}

func TestBuild_NoPublish(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestPipeline(model.DefaultConfig(), Components{Publisher: pub})

	entity, _, err := p.Build(context.Background(), Request{Subject: seattleSubject()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entity.Description("en") != "bakery business in Seattle, WA" {
		t.Errorf("description = %q", entity.Description("en"))
	}
	if pub.callCount() != 0 {
		t.Error("Build must not publish")
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name    string
		outcome *model.PublishOutcome
		want    string
	}{
		{"nil", nil, ""},
		{"created", &model.PublishOutcome{Success: true, Identifier: "Q7", PublishedTarget: "test.wikidata.org", Action: model.ActionCreate}, "Published as Q7 on test.wikidata.org."},
		{"updated", &model.PublishOutcome{Success: true, Identifier: "Q7", PublishedTarget: "test.wikidata.org", Action: model.ActionUpdate}, "Updated as Q7 on test.wikidata.org."},
		{"validation", &model.PublishOutcome{Error: &model.OutcomeError{Kind: model.ErrValidation, Message: "missing English description"}}, "The entity is incomplete: missing English description."},
		{"conflict no id", &model.PublishOutcome{Error: &model.OutcomeError{Kind: model.ErrConflict}}, "An entity with this name already exists."},
		{"network", &model.PublishOutcome{Error: &model.OutcomeError{Kind: model.ErrNetwork}}, "The knowledge base could not be reached. Try again later."},
		{"token", &model.PublishOutcome{Error: &model.OutcomeError{Kind: model.ErrTokenExpired}}, "Could not sign in to the knowledge base. Check the configured credentials."},
		{"unknown", &model.PublishOutcome{Error: &model.OutcomeError{Kind: model.ErrUnknownRemote, Message: "save failed"}}, "The knowledge base rejected the edit: save failed."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.outcome); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
