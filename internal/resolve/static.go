package resolve

import "github.com/ppiankov/kbpublish/internal/model"

// US state names keyed by postal abbreviation
var stateNames = map[string]string{
	"al": "alabama", "ak": "alaska", "az": "arizona", "ar": "arkansas",
	"ca": "california", "co": "colorado", "ct": "connecticut", "de": "delaware",
	"dc": "district of columbia", "fl": "florida", "ga": "georgia", "hi": "hawaii",
	"id": "idaho", "il": "illinois", "in": "indiana", "ia": "iowa",
	"ks": "kansas", "ky": "kentucky", "la": "louisiana", "me": "maine",
	"md": "maryland", "ma": "massachusetts", "mi": "michigan", "mn": "minnesota",
	"ms": "mississippi", "mo": "missouri", "mt": "montana", "ne": "nebraska",
	"nv": "nevada", "nh": "new hampshire", "nj": "new jersey", "nm": "new mexico",
	"ny": "new york", "nc": "north carolina", "nd": "north dakota", "oh": "ohio",
	"ok": "oklahoma", "or": "oregon", "pa": "pennsylvania", "ri": "rhode island",
	"sc": "south carolina", "sd": "south dakota", "tn": "tennessee", "tx": "texas",
	"ut": "utah", "vt": "vermont", "va": "virginia", "wa": "washington",
	"wv": "west virginia", "wi": "wisconsin", "wy": "wyoming",
}

// stateAbbreviations is the inverse of stateNames
var stateAbbreviations = func() map[string]string {
	m := make(map[string]string, len(stateNames))
	for abbr, name := range stateNames {
		m[name] = abbr
	}
	return m
}()

var staticCities = map[string]string{
	"seattle, wa":       "Q5083",
	"new york, ny":      "Q60",
	"new york city, ny": "Q60",
	"los angeles, ca":   "Q65",
	"chicago, il":       "Q1297",
	"houston, tx":       "Q16555",
	"phoenix, az":       "Q16556",
	"philadelphia, pa":  "Q1345",
	"san antonio, tx":   "Q975",
	"san diego, ca":     "Q16552",
	"dallas, tx":        "Q16557",
	"san jose, ca":      "Q16553",
	"austin, tx":        "Q16559",
	"san francisco, ca": "Q62",
	"denver, co":        "Q16554",
	"boston, ma":        "Q100",
	"portland, or":      "Q6106",
	"washington, dc":    "Q61",
	"miami, fl":         "Q8652",
	"atlanta, ga":       "Q23556",
	"las vegas, nv":     "Q23768",
	"detroit, mi":       "Q12439",
	"minneapolis, mn":   "Q36091",
	"nashville, tn":     "Q23197",
	"baltimore, md":     "Q5092",
	"london":            "Q84",
	"paris":             "Q90",
	"berlin":            "Q64",
	"tokyo":             "Q1490",
	"toronto":           "Q172",
	"sydney":            "Q3130",
	"vancouver":         "Q24639",
	"dublin":            "Q1761",
	"amsterdam":         "Q727",
	"madrid":            "Q2807",
	"rome":              "Q220",
}

var staticIndustries = map[string]string{
	"software":               "Q880371",
	"software industry":      "Q880371",
	"information technology": "Q11661",
	"restaurant":             "Q11707",
	"restaurants":            "Q11707",
	"bakery":                 "Q274393",
	"cafe":                   "Q30022",
	"coffee shop":            "Q30022",
	"retail":                 "Q126793",
	"construction":           "Q385378",
	"real estate":            "Q684740",
	"health care":            "Q31207",
	"healthcare":             "Q31207",
	"financial services":     "Q837171",
	"education":              "Q8434",
	"agriculture":            "Q11451",
	"manufacturing":          "Q187939",
	"telecommunications":     "Q418",
	"automotive industry":    "Q190117",
	"marketing":              "Q39809",
	"transport":              "Q7590",
}

var staticLegalForms = map[string]string{
	"llc":                       "Q149789",
	"limited liability company": "Q149789",
	"corporation":               "Q167037",
	"inc":                       "Q167037",
	"corp":                      "Q167037",
	"sole proprietorship":       "Q2912172",
	"nonprofit":                 "Q163740",
	"nonprofit organization":    "Q163740",
	"non-profit organization":   "Q163740",
	"public company":            "Q891723",
	"cooperative":               "Q4539",
}

var staticCountries = map[string]string{
	"us":                       "Q30",
	"usa":                      "Q30",
	"united states":            "Q30",
	"united states of america": "Q30",
	"canada":                   "Q16",
	"ca":                       "Q16",
	"uk":                       "Q145",
	"gb":                       "Q145",
	"united kingdom":           "Q145",
	"germany":                  "Q183",
	"de":                       "Q183",
	"france":                   "Q142",
	"fr":                       "Q142",
	"japan":                    "Q17",
	"jp":                       "Q17",
	"australia":                "Q408",
	"au":                       "Q408",
	"india":                    "Q668",
	"mexico":                   "Q96",
	"ireland":                  "Q27",
	"netherlands":              "Q55",
	"spain":                    "Q29",
	"italy":                    "Q38",
	"brazil":                   "Q155",
	"china":                    "Q148",
}

var staticTables = map[model.IdentifierType]map[string]string{
	model.IdentifierCity:      staticCities,
	model.IdentifierIndustry:  staticIndustries,
	model.IdentifierLegalForm: staticLegalForms,
	model.IdentifierCountry:   staticCountries,
}

// Static looks up a canonical key in the built-in tables. No I/O.
func Static(typ model.IdentifierType, key string) (string, bool) {
	id, ok := staticTables[typ][key]
	return id, ok
}
