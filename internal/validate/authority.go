package validate

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/ppiankov/kbpublish/internal/model"
)

// SourceClassifier classifies reference URLs into authority tiers and flags
// self-published hosts
type SourceClassifier struct {
	config        *model.AuthorityConfig
	primaryMap    map[string]bool
	secondaryMap  map[string]bool
	selfPublished map[string]bool
	pathPatterns  []*compiledPattern
}

type compiledPattern struct {
	pattern *regexp.Regexp
	tier    model.AuthorityTier
}

// Source is the classification of one URL
type Source struct {
	Host          string
	Domain        string // Registrable domain (eTLD+1)
	Tier          model.AuthorityTier
	SelfPublished bool
}

// NewSourceClassifier creates a new source classifier
func NewSourceClassifier(config *model.AuthorityConfig) *SourceClassifier {
	if config == nil {
		config = &model.DefaultConfig().Authority
	}

	classifier := &SourceClassifier{
		config:        config,
		primaryMap:    make(map[string]bool),
		secondaryMap:  make(map[string]bool),
		selfPublished: make(map[string]bool),
		pathPatterns:  make([]*compiledPattern, 0),
	}

	for _, domain := range config.PrimaryDomains {
		classifier.primaryMap[strings.ToLower(domain)] = true
	}
	for _, domain := range config.SecondaryDomains {
		classifier.secondaryMap[strings.ToLower(domain)] = true
	}
	for _, domain := range config.SelfPublishedDomains {
		classifier.selfPublished[strings.ToLower(domain)] = true
	}

	// Compile path patterns
	for _, pathPattern := range config.PathPatterns {
		if re, err := regexp.Compile(pathPattern.Pattern); err == nil {
			classifier.pathPatterns = append(classifier.pathPatterns, &compiledPattern{
				pattern: re,
				tier:    parseTierString(pathPattern.Tier),
			})
		}
	}

	return classifier
}

// Describe classifies a URL. ok is false when the URL has no usable host.
func (a *SourceClassifier) Describe(rawURL string) (Source, bool) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Hostname() == "" {
		return Source{Tier: model.TierTertiary}, false
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	return Source{
		Host:          host,
		Domain:        RegistrableDomain(host),
		Tier:          a.classify(host, parsed.Path),
		SelfPublished: matchesDomain(host, a.selfPublished),
	}, true
}

// Classify classifies a URL into an authority tier
func (a *SourceClassifier) Classify(rawURL string) model.AuthorityTier {
	src, _ := a.Describe(rawURL)
	return src.Tier
}

func (a *SourceClassifier) classify(host, path string) model.AuthorityTier {
	// Check explicit domain mappings from config
	if a.config.DomainMap != nil {
		if tierStr, ok := a.config.DomainMap[host]; ok {
			return parseTierString(tierStr)
		}
	}

	// Social, directory and press-release hosts never rank above tertiary
	if matchesDomain(host, a.selfPublished) {
		return model.TierTertiary
	}

	if matchesDomain(host, a.primaryMap) {
		return model.TierPrimary
	}

	// Path patterns override the secondary list so sponsored sections of
	// press sites stay tertiary
	for _, cp := range a.pathPatterns {
		if cp.pattern.MatchString(path) {
			return cp.tier
		}
	}

	if matchesDomain(host, a.secondaryMap) {
		return model.TierSecondary
	}

	// Government and academic TLDs
	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu") ||
		strings.HasSuffix(host, ".ac.uk") || strings.HasSuffix(host, ".gov.uk") {
		return model.TierPrimary
	}

	return model.TierTertiary
}

// matchesDomain reports whether host equals or is a subdomain of any domain in set
func matchesDomain(host string, set map[string]bool) bool {
	if set[host] {
		return true
	}
	for domain := range set {
		if strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// RegistrableDomain returns the eTLD+1 for host, or host itself when the
// public suffix list cannot determine one (IP addresses, localhost)
func RegistrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// parseTierString converts a tier string to AuthorityTier
func parseTierString(tier string) model.AuthorityTier {
	switch strings.ToLower(tier) {
	case "primary", "1":
		return model.TierPrimary
	case "secondary", "2":
		return model.TierSecondary
	default:
		return model.TierTertiary
	}
}
