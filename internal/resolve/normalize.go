package resolve

import (
	"strings"

	"github.com/ppiankov/kbpublish/internal/model"
)

// Normalize lower-cases, trims and collapses internal whitespace
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// CanonicalKey returns the cache key for a free-text value of the given type.
// City regions are folded to their postal abbreviation ("seattle, washington"
// and "Seattle,  WA" both become "seattle, wa"); legal forms drop periods
// ("L.L.C." becomes "llc").
func CanonicalKey(typ model.IdentifierType, raw string) string {
	key := Normalize(raw)
	switch typ {
	case model.IdentifierCity:
		city, region, found := strings.Cut(key, ",")
		city = strings.TrimSpace(city)
		if !found {
			return city
		}
		region = strings.TrimSpace(region)
		if abbr, ok := stateAbbreviations[region]; ok {
			region = abbr
		}
		if region == "" {
			return city
		}
		return city + ", " + region
	case model.IdentifierLegalForm:
		return Normalize(strings.ReplaceAll(key, ".", ""))
	default:
		return key
	}
}

// remoteKey expands a canonical key into the form the remote lookup matches
// against (postal abbreviations become full region names)
func remoteKey(typ model.IdentifierType, key string) string {
	if typ != model.IdentifierCity {
		return key
	}
	city, region, found := strings.Cut(key, ", ")
	if !found {
		return key
	}
	if name, ok := stateNames[region]; ok {
		region = name
	}
	return city + ", " + region
}
