package notability

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ppiankov/kbpublish/internal/metrics"
	"github.com/ppiankov/kbpublish/internal/model"
	"github.com/ppiankov/kbpublish/internal/validate"
)

// LinkChecker reports reference reachability
type LinkChecker interface {
	Check(ctx context.Context, urls []string) map[string]validate.LinkStatus
}

// Evaluator produces advisory notability verdicts from supplied references
type Evaluator struct {
	classifier *validate.SourceClassifier
	checker    LinkChecker
	threshold  int
	maxTop     int
}

// NewEvaluator creates an evaluator. A nil classifier uses the default
// authority configuration.
func NewEvaluator(cfg model.NotabilityConfig, classifier *validate.SourceClassifier) *Evaluator {
	if classifier == nil {
		classifier = validate.NewSourceClassifier(nil)
	}
	threshold := cfg.MinSeriousReferences
	if threshold <= 0 {
		threshold = 2
	}
	maxTop := cfg.MaxTopReferences
	if maxTop <= 0 {
		maxTop = 5
	}
	return &Evaluator{
		classifier: classifier,
		threshold:  threshold,
		maxTop:     maxTop,
	}
}

// SetLinkChecker enables reachability checks in EvaluateChecked
func (e *Evaluator) SetLinkChecker(checker LinkChecker) {
	e.checker = checker
}

// EvaluateChecked checks reference reachability first (when a checker is
// configured) and excludes dead references from the serious count
func (e *Evaluator) EvaluateChecked(ctx context.Context, subject model.BusinessSubject, refs []model.NotabilityReference) model.NotabilityVerdict {
	if e.checker == nil || len(refs) == 0 {
		return e.Evaluate(subject, refs)
	}

	urls := make([]string, 0, len(refs))
	for _, r := range refs {
		urls = append(urls, r.URL)
	}
	return e.evaluate(subject, refs, e.checker.Check(ctx, urls))
}

// Evaluate scores the subject's references against the serious-reference
// threshold. Every contributing signal adds exactly one reason.
func (e *Evaluator) Evaluate(subject model.BusinessSubject, refs []model.NotabilityReference) model.NotabilityVerdict {
	return e.evaluate(subject, refs, nil)
}

func (e *Evaluator) evaluate(subject model.BusinessSubject, refs []model.NotabilityReference, statuses map[string]validate.LinkStatus) model.NotabilityVerdict {
	var reasons []string

	subjectDomain := ""
	if src, ok := e.classifier.Describe(subject.URL); ok && isWebURL(subject.URL) {
		subjectDomain = src.Domain
		reasons = append(reasons, "has website")
	}

	classified := make([]model.ClassifiedReference, 0, len(refs))
	allDomains := mapset.NewSet[string]()
	seriousDomains := mapset.NewSet[string]()
	primaryDomains := mapset.NewSet[string]()
	secondaryDomains := mapset.NewSet[string]()
	dead := 0

	for _, ref := range refs {
		src, ok := e.classifier.Describe(ref.URL)
		if !ok || !isWebURL(ref.URL) {
			continue
		}

		if status, checked := statuses[ref.URL]; checked && status.Dead {
			dead++
			continue
		}

		independent := !src.SelfPublished && (subjectDomain == "" || src.Domain != subjectDomain)
		serious := independent && (src.Tier == model.TierPrimary || src.Tier == model.TierSecondary)

		allDomains.Add(src.Domain)
		if serious {
			seriousDomains.Add(src.Domain)
			if src.Tier == model.TierPrimary {
				primaryDomains.Add(src.Domain)
			} else {
				secondaryDomains.Add(src.Domain)
			}
		}

		classified = append(classified, model.ClassifiedReference{
			NotabilityReference: ref,
			Host:                src.Host,
			Domain:              src.Domain,
			Authority:           src.Tier,
			Independent:         independent,
			Serious:             serious,
		})
	}

	// Diversity: each registrable domain counts once
	serious := seriousDomains.Cardinality()

	switch {
	case len(refs) == 0:
		reasons = append(reasons, "no references supplied")
	case len(classified) > 0 && serious == 0 && allSelfPublished(classified):
		reasons = append(reasons, "only self-published sources")
	}
	if n := secondaryDomains.Cardinality(); n > 0 {
		reasons = append(reasons, fmt.Sprintf("has independent press coverage (%d sources)", n))
	}
	if primaryDomains.Cardinality() > 0 {
		reasons = append(reasons, "has government or academic source")
	}
	if n := allDomains.Cardinality(); n >= 2 {
		reasons = append(reasons, fmt.Sprintf("references from %d distinct domains", n))
	}
	if dead > 0 {
		reasons = append(reasons, fmt.Sprintf("%d references unreachable", dead))
	}

	notable := serious >= e.threshold
	if notable {
		reasons = append(reasons, fmt.Sprintf("meets minimum of %d serious references", e.threshold))
	} else {
		reasons = append(reasons, fmt.Sprintf("below minimum of %d serious references", e.threshold))
	}

	metrics.NotabilityVerdicts.WithLabelValues(strconv.FormatBool(notable)).Inc()

	return model.NotabilityVerdict{
		IsNotable:             notable,
		Confidence:            e.confidence(serious),
		Reasons:               reasons,
		SeriousReferenceCount: serious,
		TopReferences:         e.topReferences(classified),
	}
}

// confidence scales with serious references above the threshold, capped at 1
func (e *Evaluator) confidence(serious int) float64 {
	t := float64(e.threshold)
	var c float64
	if serious >= e.threshold {
		c = 0.5 + 0.5*(float64(serious)-t+1)/t
	} else {
		c = 0.5 * float64(serious) / t
	}
	c = math.Min(1, c)
	// Round to two decimals so verdicts compare cleanly
	return math.Round(c*100) / 100
}

// topReferences orders serious references first, then by tier, then by
// input order, and bounds the list
func (e *Evaluator) topReferences(classified []model.ClassifiedReference) []model.ClassifiedReference {
	top := make([]model.ClassifiedReference, len(classified))
	copy(top, classified)

	sort.SliceStable(top, func(i, j int) bool {
		if top[i].Serious != top[j].Serious {
			return top[i].Serious
		}
		return tierRank(top[i].Authority) < tierRank(top[j].Authority)
	})

	if len(top) > e.maxTop {
		top = top[:e.maxTop]
	}
	return top
}

func tierRank(t model.AuthorityTier) int {
	if t == model.TierUnknown {
		return math.MaxInt32
	}
	return int(t)
}

func allSelfPublished(refs []model.ClassifiedReference) bool {
	for _, r := range refs {
		if r.Independent {
			return false
		}
	}
	return true
}

func isWebURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	return err == nil && (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
