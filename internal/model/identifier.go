package model

import "time"

// IdentifierType tags the kind of free-text value being resolved
type IdentifierType string

const (
	IdentifierCity      IdentifierType = "city"
	IdentifierIndustry  IdentifierType = "industry"
	IdentifierLegalForm IdentifierType = "legal_form"
	IdentifierCountry   IdentifierType = "country"
)

// ResolutionSource records where an identifier came from
type ResolutionSource string

const (
	SourceStatic ResolutionSource = "static"
	SourceRemote ResolutionSource = "remote"
)

// IdentifierCacheEntry is a persisted mapping from a normalized key to a
// canonical identifier
type IdentifierCacheEntry struct {
	Type            IdentifierType   `json:"type"`
	Key             string           `json:"key"`
	Identifier      string           `json:"identifier"`
	Source          ResolutionSource `json:"source"`
	QueryCount      int              `json:"query_count"`
	CreatedAt       time.Time        `json:"created_at"`
	LastQueriedAt   time.Time        `json:"last_queried_at"`
	LastValidatedAt time.Time        `json:"last_validated_at"`
}

// IsStale reports whether the entry was last validated before now-horizon
func (e IdentifierCacheEntry) IsStale(now time.Time, horizon time.Duration) bool {
	if horizon <= 0 {
		return false
	}
	return now.Sub(e.LastValidatedAt) > horizon
}
