package sparql

import (
	"fmt"
	"strings"

	"github.com/ppiankov/kbpublish/internal/model"
)

// Class items that constrain each lookup type
var classForType = map[model.IdentifierType]string{
	model.IdentifierCity:      "Q486972",  // human settlement
	model.IdentifierIndustry:  "Q8148",    // industry
	model.IdentifierLegalForm: "Q1269299", // type of business entity
	model.IdentifierCountry:   "Q6256",    // country
}

const searchTemplate = `SELECT ?item WHERE {
  SERVICE wikibase:mwapi {
    bd:serviceParam wikibase:endpoint "%s";
                    wikibase:api "EntitySearch";
                    mwapi:search "%s";
                    mwapi:language "en".
    ?item wikibase:apiOutputItem mwapi:item.
    ?num wikibase:apiOrdinal true.
  }
  ?item wdt:P31/wdt:P279* wd:%s .
%s} ORDER BY ?num LIMIT 1`

const regionFilter = `  ?item wdt:P131+ ?region .
  ?region rdfs:label ?regionLabel .
  FILTER(LANG(?regionLabel) = "en" && LCASE(STR(?regionLabel)) = "%s")
`

// BuildQuery renders the lookup query for a normalized key
func BuildQuery(typ model.IdentifierType, key, searchHost string) (string, error) {
	class, ok := classForType[typ]
	if !ok {
		return "", fmt.Errorf("unsupported identifier type %q", typ)
	}

	term := strings.TrimSpace(key)
	region := ""
	if typ == model.IdentifierCity {
		if idx := strings.Index(term, ","); idx >= 0 {
			region = strings.TrimSpace(term[idx+1:])
			term = strings.TrimSpace(term[:idx])
		}
	}
	if term == "" {
		return "", fmt.Errorf("empty lookup key")
	}

	filter := ""
	if region != "" {
		filter = fmt.Sprintf(regionFilter, escape(strings.ToLower(region)))
	}
	return fmt.Sprintf(searchTemplate, escape(searchHost), escape(term), class, filter), nil
}

// escape makes s safe inside a double-quoted SPARQL literal
func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", " ", "\r", " ")
	return r.Replace(s)
}
