package build

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/kbpublish/internal/extract"
	"github.com/ppiankov/kbpublish/internal/logging"
	"github.com/ppiankov/kbpublish/internal/model"
	"github.com/ppiankov/kbpublish/internal/resolve"
	"github.com/ppiankov/kbpublish/internal/score"
)

const (
	// MaxServices bounds the product/service claims on one entity
	MaxServices = 10
	// MaxDescriptionRunes is the remote description length limit
	MaxDescriptionRunes = 250

	lang = "en"
)

// ErrMissingName is returned when the subject has no usable name
var ErrMissingName = errors.New("build: subject has no name")

// Builder turns business and crawl data into a structured entity
type Builder struct {
	resolver resolve.IdentifierResolver
	scorer   *score.Scorer
	logger   logrus.FieldLogger
	now      func() time.Time
}

// NewBuilder creates a builder. resolver may be nil, in which case no
// identifier-valued claims are produced.
func NewBuilder(resolver resolve.IdentifierResolver, logger logrus.FieldLogger) *Builder {
	return &Builder{
		resolver: resolver,
		scorer:   score.NewScorer(),
		logger:   logging.OrDiscard(logger).WithField("component", "builder"),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for reference retrieval dates
func (b *Builder) SetClock(now func() time.Time) {
	b.now = now
}

// Build constructs the entity. It fails only when the subject name is blank;
// missing or malformed optional data is omitted.
func (b *Builder) Build(ctx context.Context, subject model.BusinessSubject, crawl *model.CrawlData, refs []model.NotabilityReference) (*model.StructuredEntity, error) {
	name := strings.Join(strings.Fields(subject.Name), " ")
	if name == "" {
		return nil, ErrMissingName
	}
	if crawl == nil {
		crawl = &model.CrawlData{}
	}

	entity := &model.StructuredEntity{
		ID:           strings.TrimSpace(subject.ExistingID),
		Labels:       map[string]model.LangValue{lang: {Language: lang, Value: name}},
		Descriptions: map[string]model.LangValue{lang: {Language: lang, Value: b.description(name, subject, crawl)}},
		Claims:       make(map[model.PropertyID][]model.Claim),
	}

	citations := b.citations(refs)

	entity.AddClaim(model.Claim{
		Property:   model.PropInstanceOf,
		Value:      model.EntityRefValue(model.EntityTypeBusiness),
		References: citations,
	})

	b.addLocation(ctx, entity, subject.Location)
	b.addResolved(ctx, entity, model.PropIndustry, model.IdentifierIndustry, subject.Industry)
	b.addResolved(ctx, entity, model.PropLegalForm, model.IdentifierLegalForm, subject.LegalForm)

	if website, ok := normalizeWebsite(subject.URL); ok {
		entity.AddClaim(model.Claim{
			Property:   model.PropWebsite,
			Value:      model.StringValue(website),
			References: citations,
		})
	}
	if phone, ok := normalizePhone(crawl.Phone); ok {
		entity.AddClaim(model.Claim{Property: model.PropPhone, Value: model.StringValue(phone)})
	}
	if email, ok := normalizeEmail(crawl.Email); ok {
		entity.AddClaim(model.Claim{Property: model.PropEmail, Value: model.StringValue(email)})
	}
	if address := extract.StripMarkup(crawl.Address); address != "" {
		entity.AddClaim(model.Claim{Property: model.PropStreetAddress, Value: model.MonolingualValue(lang, address)})
	}
	for _, service := range capServices(crawl.Services) {
		entity.AddClaim(model.Claim{Property: model.PropServices, Value: model.StringValue(service)})
	}
	if year := subject.FoundedYear; year >= 1000 && year <= b.now().Year() {
		entity.AddClaim(model.Claim{Property: model.PropInception, Value: model.YearValue(year)})
	}

	entity.Quality = b.scorer.Calculate(entity)
	entity.QualityScore = entity.Quality.Score

	b.logger.WithFields(logrus.Fields{
		"subject": name,
		"claims":  entity.ClaimCount(),
		"quality": entity.QualityScore,
	}).Debug("Built entity")

	return entity, nil
}

// description picks the crawled description when usable, otherwise a
// sentence assembled from the subject's industry and location
func (b *Builder) description(name string, subject model.BusinessSubject, crawl *model.CrawlData) string {
	if text := extract.Truncate(extract.StripMarkup(crawl.Description), MaxDescriptionRunes); text != "" && !strings.EqualFold(text, name) {
		return text
	}
	return fallbackDescription(subject)
}

func fallbackDescription(subject model.BusinessSubject) string {
	kind := "business"
	if industry := strings.Join(strings.Fields(subject.Industry), " "); industry != "" {
		kind = strings.ToLower(industry) + " business"
	}

	place := ""
	if loc := subject.Location; loc != nil {
		parts := make([]string, 0, 2)
		for _, p := range []string{loc.City, loc.State} {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 && strings.TrimSpace(loc.Country) != "" {
			parts = append(parts, strings.TrimSpace(loc.Country))
		}
		place = strings.Join(parts, ", ")
	}

	if place == "" {
		return kind
	}
	return fmt.Sprintf("%s in %s", kind, place)
}

// addLocation adds located-in, coordinate and country claims
func (b *Builder) addLocation(ctx context.Context, entity *model.StructuredEntity, loc *model.Location) {
	if loc == nil {
		return
	}

	if key := loc.CityKey(); key != "" {
		if id, ok := b.resolve(ctx, model.IdentifierCity, key); ok {
			entity.AddClaim(model.Claim{Property: model.PropLocatedIn, Value: model.EntityRefValue(id)})

			// Coordinates only when they can be tied to a resolved place
			if loc.HasCoordinates() && validCoordinate(*loc.Lat, *loc.Lng) {
				entity.AddClaim(model.Claim{Property: model.PropCoordinates, Value: model.CoordinateValue(*loc.Lat, *loc.Lng)})
			}
		}
	}

	b.addResolved(ctx, entity, model.PropCountry, model.IdentifierCountry, loc.Country)
}

func (b *Builder) addResolved(ctx context.Context, entity *model.StructuredEntity, prop model.PropertyID, typ model.IdentifierType, raw string) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	if id, ok := b.resolve(ctx, typ, raw); ok {
		entity.AddClaim(model.Claim{Property: prop, Value: model.EntityRefValue(id)})
	}
}

func (b *Builder) resolve(ctx context.Context, typ model.IdentifierType, raw string) (string, bool) {
	if b.resolver == nil {
		return "", false
	}
	return b.resolver.Resolve(ctx, typ, raw)
}

// citations converts notability references into claim references, dropping
// blanks and duplicate URLs
func (b *Builder) citations(refs []model.NotabilityReference) []model.Reference {
	if len(refs) == 0 {
		return nil
	}
	retrieved := b.now().UTC().Truncate(24 * time.Hour)

	seen := make(map[string]bool)
	var out []model.Reference
	for _, r := range refs {
		u := strings.TrimSpace(r.URL)
		if _, ok := normalizeWebsite(u); !ok || seen[u] {
			continue
		}
		seen[u] = true
		r.URL = u
		out = append(out, r.AsReference(retrieved))
	}
	return out
}

// normalizeWebsite accepts absolute http(s) URLs with a host
func normalizeWebsite(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	return parsed.String(), true
}

// normalizePhone keeps a leading + and digits; 7 to 15 digits is accepted
func normalizePhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	var b strings.Builder
	digits := 0
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", false
		}
	}
	if digits < 7 || digits > 15 {
		return "", false
	}
	return b.String(), true
}

// normalizeEmail parses an address and renders it as a mailto URI
func normalizeEmail(raw string) (string, bool) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "mailto:")
	if raw == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || !strings.Contains(addr.Address, "@") {
		return "", false
	}
	return "mailto:" + addr.Address, true
}

func capServices(services []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range services {
		s = extract.StripMarkup(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
		if len(out) == MaxServices {
			break
		}
	}
	return out
}

func validCoordinate(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
