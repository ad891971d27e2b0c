package model

import (
	"fmt"
	"time"
)

// PropertyID identifies a knowledge-base property (e.g. "P31")
type PropertyID string

// Well-known properties used by the entity builder
const (
	PropInstanceOf    PropertyID = "P31"   // instance of
	PropCountry       PropertyID = "P17"   // country
	PropLocatedIn     PropertyID = "P131"  // located in the administrative territorial entity
	PropCoordinates   PropertyID = "P625"  // coordinate location
	PropIndustry      PropertyID = "P452"  // industry
	PropLegalForm     PropertyID = "P1454" // legal form
	PropWebsite       PropertyID = "P856"  // official website
	PropPhone         PropertyID = "P1329" // phone number
	PropEmail         PropertyID = "P968"  // email address
	PropServices      PropertyID = "P1056" // product or material produced or service provided
	PropInception     PropertyID = "P571"  // inception
	PropStreetAddress PropertyID = "P6375" // street address
	PropReferenceURL  PropertyID = "P854"  // reference URL
	PropTitle         PropertyID = "P1476" // title
	PropRetrieved     PropertyID = "P813"  // retrieved
	PropStatedIn      PropertyID = "P248"  // stated in
)

// EntityTypeBusiness is the canonical "business" item used for instance-of claims
const EntityTypeBusiness = "Q4830453"

// ExpectedProperties is the full property set a well-described business carries
var ExpectedProperties = []PropertyID{
	PropInstanceOf,
	PropLocatedIn,
	PropCountry,
	PropCoordinates,
	PropIndustry,
	PropLegalForm,
	PropWebsite,
	PropPhone,
	PropEmail,
	PropServices,
	PropInception,
}

// CitableProperties are the claims that carry notability references: the
// instance-of claim and the official website the description is drawn from
var CitableProperties = []PropertyID{PropInstanceOf, PropWebsite}

// Rank orders competing claims for the same property
type Rank string

const (
	RankPreferred  Rank = "preferred"
	RankNormal     Rank = "normal"
	RankDeprecated Rank = "deprecated"
)

// ValueType tags the variant carried by a Value
type ValueType string

const (
	ValueString      ValueType = "string"
	ValueQuantity    ValueType = "quantity"
	ValueCoordinate  ValueType = "globecoordinate"
	ValueTime        ValueType = "time"
	ValueEntityRef   ValueType = "wikibase-entityid"
	ValueMonolingual ValueType = "monolingualtext"
)

// Value is a typed claim value. Exactly one of the payload fields is set,
// selected by Type.
type Value struct {
	Type       ValueType        `json:"type"`
	String     string           `json:"string,omitempty"`
	Quantity   *Quantity        `json:"quantity,omitempty"`
	Coordinate *GlobeCoordinate `json:"coordinate,omitempty"`
	Time       *TimeValue       `json:"time,omitempty"`
	EntityID   string           `json:"entity_id,omitempty"`
	Text       *LangValue       `json:"text,omitempty"`
}

// Quantity is a numeric amount with an optional unit item
type Quantity struct {
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit,omitempty"` // item ID, empty for dimensionless
}

// GlobeCoordinate is a latitude/longitude pair on Earth
type GlobeCoordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Precision float64 `json:"precision"`
}

// TimePrecision follows the remote precision scale (9 = year, 11 = day)
type TimePrecision int

const (
	PrecisionYear TimePrecision = 9
	PrecisionDay  TimePrecision = 11
)

// TimeValue is a point in time with a precision
type TimeValue struct {
	At        time.Time     `json:"at"`
	Precision TimePrecision `json:"precision"`
}

// Formatted renders the time in the remote "+YYYY-MM-DDT00:00:00Z" form
func (t TimeValue) Formatted() string {
	switch t.Precision {
	case PrecisionYear:
		return fmt.Sprintf("+%04d-00-00T00:00:00Z", t.At.Year())
	default:
		return "+" + t.At.UTC().Format("2006-01-02") + "T00:00:00Z"
	}
}

// StringValue builds a string value
func StringValue(s string) Value {
	return Value{Type: ValueString, String: s}
}

// EntityRefValue builds an identifier reference value
func EntityRefValue(id string) Value {
	return Value{Type: ValueEntityRef, EntityID: id}
}

// CoordinateValue builds a globe coordinate value
func CoordinateValue(lat, lng float64) Value {
	return Value{Type: ValueCoordinate, Coordinate: &GlobeCoordinate{Latitude: lat, Longitude: lng, Precision: 0.0001}}
}

// YearValue builds a year-precision time value
func YearValue(year int) Value {
	return Value{Type: ValueTime, Time: &TimeValue{
		At:        time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		Precision: PrecisionYear,
	}}
}

// DayValue builds a day-precision time value
func DayValue(t time.Time) Value {
	return Value{Type: ValueTime, Time: &TimeValue{At: t.UTC(), Precision: PrecisionDay}}
}

// MonolingualValue builds a language-tagged text value
func MonolingualValue(lang, text string) Value {
	return Value{Type: ValueMonolingual, Text: &LangValue{Language: lang, Value: text}}
}

// Claim is one property-value assertion on an entity
type Claim struct {
	Property   PropertyID  `json:"property"`
	Value      Value       `json:"value"`
	References []Reference `json:"references,omitempty"`
	Rank       Rank        `json:"rank"`
}

// HasReferences reports whether the claim carries at least one citation
func (c Claim) HasReferences() bool {
	return len(c.References) > 0
}
