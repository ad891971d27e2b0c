package model

import "time"

// Config is the complete kbpublish configuration
type Config struct {
	HTTP         HTTPConfig        `yaml:"http" mapstructure:"http"`
	KB           KBConfig          `yaml:"kb" mapstructure:"kb"`
	Resolver     ResolverConfig    `yaml:"resolver" mapstructure:"resolver"`
	Notability   NotabilityConfig  `yaml:"notability" mapstructure:"notability"`
	Authority    AuthorityConfig   `yaml:"authority" mapstructure:"authority"`
	RateLimiting RateLimitConfig   `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Concurrency  ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Geocoding    GeocodingConfig   `yaml:"geocoding" mapstructure:"geocoding"`
	Metrics      MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
	Log          LogConfig         `yaml:"log" mapstructure:"log"`
}

// HTTPConfig configures outbound HTTP clients
type HTTPConfig struct {
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent  string        `yaml:"user_agent" mapstructure:"user_agent"`
	HTTPProxy  string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// KBConfig configures the remote knowledge-base write path
type KBConfig struct {
	Target            string `yaml:"target" mapstructure:"target"`                     // sandbox or production
	AllowProduction   bool   `yaml:"allow_production" mapstructure:"allow_production"` // Must be set to honour production
	ValidationEnabled bool   `yaml:"validation_enabled" mapstructure:"validation_enabled"`
	DryRun            bool   `yaml:"dry_run" mapstructure:"dry_run"`
	SandboxHost       string `yaml:"sandbox_host" mapstructure:"sandbox_host"`
	ProductionHost    string `yaml:"production_host" mapstructure:"production_host"`
	Scheme            string `yaml:"scheme" mapstructure:"scheme"`
	Username          string `yaml:"username,omitempty" mapstructure:"username"`
	Password          string `yaml:"-" mapstructure:"password"` // Never written to config files
	EditSummary       string `yaml:"edit_summary" mapstructure:"edit_summary"`
	Bot               bool   `yaml:"bot" mapstructure:"bot"`
	MaxLag            int    `yaml:"maxlag" mapstructure:"maxlag"`
	UpdateOnConflict  bool   `yaml:"update_on_conflict" mapstructure:"update_on_conflict"`
}

// ResolverConfig configures identifier resolution and its cache
type ResolverConfig struct {
	SPARQLEndpoint     string        `yaml:"sparql_endpoint" mapstructure:"sparql_endpoint"`
	CachePath          string        `yaml:"cache_path" mapstructure:"cache_path"` // SQLite file, empty for memory only
	MemoryTTL          time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	StaleAfter         time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
	LookupTimeout      time.Duration `yaml:"lookup_timeout" mapstructure:"lookup_timeout"`
	RevalidateSchedule string        `yaml:"revalidate_schedule" mapstructure:"revalidate_schedule"` // cron expression
	RevalidateBatch    int           `yaml:"revalidate_batch" mapstructure:"revalidate_batch"`
}

// NotabilityConfig configures the notability gate
type NotabilityConfig struct {
	MinSeriousReferences int  `yaml:"min_serious_references" mapstructure:"min_serious_references"`
	MaxTopReferences     int  `yaml:"max_top_references" mapstructure:"max_top_references"`
	Required             bool `yaml:"required" mapstructure:"required"` // Block publishing on a failing verdict
}

// AuthorityConfig drives source classification for notability references
type AuthorityConfig struct {
	PrimaryDomains       []string          `yaml:"primary_domains" mapstructure:"primary_domains"`
	SecondaryDomains     []string          `yaml:"secondary_domains" mapstructure:"secondary_domains"`
	SelfPublishedDomains []string          `yaml:"self_published_domains" mapstructure:"self_published_domains"`
	DomainMap            map[string]string `yaml:"domain_map,omitempty" mapstructure:"domain_map"`
	PathPatterns         []PathPattern     `yaml:"path_patterns,omitempty" mapstructure:"path_patterns"`
}

// PathPattern maps a URL path regex to an authority tier
type PathPattern struct {
	Pattern string `yaml:"pattern" mapstructure:"pattern"`
	Tier    string `yaml:"tier" mapstructure:"tier"`
}

// RateLimitConfig configures per-host request rates
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// ConcurrencyConfig configures batch processing
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// GeocodingConfig configures optional coordinate enrichment
type GeocodingConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	APIKey  string `yaml:"-" mapstructure:"api_key"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty" mapstructure:"addr"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // text or json
}

// DefaultConfig returns the documented defaults: sandbox target, production
// disallowed, validation enabled, dry-run off
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Timeout:   30 * time.Second,
			UserAgent: "kbpublish/0.1 (+https://github.com/ppiankov/kbpublish)",
		},
		KB: KBConfig{
			Target:            string(TargetSandbox),
			AllowProduction:   false,
			ValidationEnabled: true,
			DryRun:            false,
			SandboxHost:       "test.wikidata.org",
			ProductionHost:    "www.wikidata.org",
			Scheme:            "https",
			EditSummary:       "Created via kbpublish",
			MaxLag:            5,
		},
		Resolver: ResolverConfig{
			SPARQLEndpoint:     "https://query.wikidata.org/sparql",
			MemoryTTL:          time.Hour,
			StaleAfter:         30 * 24 * time.Hour,
			LookupTimeout:      10 * time.Second,
			RevalidateSchedule: "@daily",
			RevalidateBatch:    100,
		},
		Notability: NotabilityConfig{
			MinSeriousReferences: 2,
			MaxTopReferences:     5,
			Required:             true,
		},
		Authority: AuthorityConfig{
			PrimaryDomains: []string{
				"sec.gov",
				"opencorporates.com",
				"find-and-update.company-information.service.gov.uk",
				"sos.wa.gov",
				"doi.org",
				"scholar.google.com",
			},
			SecondaryDomains: []string{
				"wikipedia.org",
				"britannica.com",
				"nytimes.com",
				"wsj.com",
				"reuters.com",
				"apnews.com",
				"bloomberg.com",
				"forbes.com",
				"bbc.co.uk",
				"theguardian.com",
				"washingtonpost.com",
				"seattletimes.com",
				"bizjournals.com",
				"techcrunch.com",
				"geekwire.com",
				"latimes.com",
			},
			SelfPublishedDomains: []string{
				"facebook.com",
				"instagram.com",
				"twitter.com",
				"x.com",
				"linkedin.com",
				"youtube.com",
				"tiktok.com",
				"yelp.com",
				"yellowpages.com",
				"tripadvisor.com",
				"medium.com",
				"substack.com",
				"wordpress.com",
				"blogspot.com",
				"prnewswire.com",
				"businesswire.com",
				"globenewswire.com",
			},
			PathPatterns: []PathPattern{
				{Pattern: "/press-release", Tier: "tertiary"},
				{Pattern: "/sponsored/", Tier: "tertiary"},
			},
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 2,
			BurstSize:         4,
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
