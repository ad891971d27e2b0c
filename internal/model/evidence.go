package model

import "time"

// Reference is a citation attached to a claim
type Reference struct {
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Source    string    `json:"source,omitempty"`    // Source tag (e.g. "press", "registry")
	Retrieved time.Time `json:"retrieved,omitempty"` // When the citation was collected
}

// NotabilityReference is a candidate citation supplied by the caller
type NotabilityReference struct {
	URL         string     `json:"url"`
	Title       string     `json:"title,omitempty"`
	Source      string     `json:"source,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// AsReference converts a notability reference into a claim citation
func (r NotabilityReference) AsReference(retrieved time.Time) Reference {
	return Reference{
		URL:       r.URL,
		Title:     r.Title,
		Source:    r.Source,
		Retrieved: retrieved,
	}
}

// AuthorityTier represents the classification of source authority
type AuthorityTier int

const (
	TierUnknown   AuthorityTier = 0 // Not yet classified
	TierPrimary   AuthorityTier = 1 // Government records, registries, academic sources
	TierSecondary AuthorityTier = 2 // Established press, encyclopedias, trade publications
	TierTertiary  AuthorityTier = 3 // Blogs, directories, social profiles, self-published pages
)

func (t AuthorityTier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierSecondary:
		return "secondary"
	case TierTertiary:
		return "tertiary"
	default:
		return "unknown"
	}
}

// ClassifiedReference is a reference together with its classification
type ClassifiedReference struct {
	NotabilityReference
	Host        string        `json:"host"`
	Domain      string        `json:"domain"` // Registrable domain (eTLD+1)
	Authority   AuthorityTier `json:"authority"`
	Independent bool          `json:"independent"`
	Serious     bool          `json:"serious"`
}

// NotabilityVerdict is the advisory result of a notability evaluation
type NotabilityVerdict struct {
	IsNotable             bool                  `json:"is_notable"`
	Confidence            float64               `json:"confidence"`
	Reasons               []string              `json:"reasons"`
	SeriousReferenceCount int                   `json:"serious_reference_count"`
	TopReferences         []ClassifiedReference `json:"top_references,omitempty"`
}
