package model

import "sort"

// LangValue is a language-tagged string (label, description, alias)
type LangValue struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

// StructuredEntity is the build target: a labeled, described record with
// typed property claims, ready to be written to the knowledge base
type StructuredEntity struct {
	ID           string                 `json:"id,omitempty"` // Canonical identifier when known (update path)
	Labels       map[string]LangValue   `json:"labels"`
	Descriptions map[string]LangValue   `json:"descriptions"`
	Claims       map[PropertyID][]Claim `json:"claims"`
	QualityScore int                    `json:"quality_score"`
	Quality      Quality                `json:"quality"`
}

// Label returns the label for a language, or "" when absent
func (e *StructuredEntity) Label(lang string) string {
	if e == nil {
		return ""
	}
	return e.Labels[lang].Value
}

// Description returns the description for a language, or "" when absent
func (e *StructuredEntity) Description(lang string) string {
	if e == nil {
		return ""
	}
	return e.Descriptions[lang].Value
}

// HasClaim reports whether at least one claim exists for the property
func (e *StructuredEntity) HasClaim(p PropertyID) bool {
	return len(e.Claims[p]) > 0
}

// ClaimCount returns the total number of claims across all properties
func (e *StructuredEntity) ClaimCount() int {
	n := 0
	for _, claims := range e.Claims {
		n += len(claims)
	}
	return n
}

// Properties returns the claimed property IDs in a stable order
func (e *StructuredEntity) Properties() []PropertyID {
	props := make([]PropertyID, 0, len(e.Claims))
	for p := range e.Claims {
		props = append(props, p)
	}
	sort.Slice(props, func(i, j int) bool { return props[i] < props[j] })
	return props
}

// AddClaim appends a claim to the entity
func (e *StructuredEntity) AddClaim(c Claim) {
	if e.Claims == nil {
		e.Claims = make(map[PropertyID][]Claim)
	}
	if c.Rank == "" {
		c.Rank = RankNormal
	}
	e.Claims[c.Property] = append(e.Claims[c.Property], c)
}

// Quality represents the transparent quality breakdown of a built entity
type Quality struct {
	Score   int      `json:"score"`   // Overall quality (0-100)
	Signals []Signal `json:"signals"` // Diagnostic signals with transparent data
}

// Signal represents a diagnostic signal with transparent scoring data
type Signal struct {
	Type        SignalType             `json:"type"`
	Severity    SignalSeverity         `json:"severity"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"` // Formulas and inputs
}

// SignalType classifies the type of diagnostic signal
type SignalType string

const (
	SignalPropertyCoverage  SignalType = "property_coverage"  // Expected properties present
	SignalReferenceCoverage SignalType = "reference_coverage" // Claims carrying citations
	SignalResolvedContext   SignalType = "resolved_context"   // Location and industry both resolved
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)
