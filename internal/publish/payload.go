package publish

import (
	"encoding/json"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/tidwall/gjson"

	"github.com/ppiankov/kbpublish/internal/model"
)

const (
	globeEarth       = "http://www.wikidata.org/entity/Q2"
	calendarGregoria = "http://www.wikidata.org/entity/Q1985727"
	entityURIPrefix  = "http://www.wikidata.org/entity/"
)

type wireEntity struct {
	Labels       map[string]model.LangValue `json:"labels,omitempty"`
	Descriptions map[string]model.LangValue `json:"descriptions,omitempty"`
	Claims       []wireStatement            `json:"claims,omitempty"`
}

type wireStatement struct {
	MainSnak   wireSnak        `json:"mainsnak"`
	Type       string          `json:"type"`
	Rank       string          `json:"rank"`
	References []wireReference `json:"references,omitempty"`
}

type wireSnak struct {
	SnakType  string        `json:"snaktype"`
	Property  string        `json:"property"`
	DataValue wireDataValue `json:"datavalue"`
}

type wireDataValue struct {
	Value interface{} `json:"value"`
	Type  string      `json:"type"`
}

type wireReference struct {
	Snaks      map[string][]wireSnak `json:"snaks"`
	SnaksOrder []string              `json:"snaks-order"`
}

type wireEntityID struct {
	EntityType string `json:"entity-type"`
	NumericID  int64  `json:"numeric-id"`
	ID         string `json:"id"`
}

type wireCoordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Precision float64 `json:"precision"`
	Globe     string  `json:"globe"`
}

type wireTime struct {
	Time          string `json:"time"`
	Timezone      int    `json:"timezone"`
	Before        int    `json:"before"`
	After         int    `json:"after"`
	Precision     int    `json:"precision"`
	CalendarModel string `json:"calendarmodel"`
}

type wireQuantity struct {
	Amount string `json:"amount"`
	Unit   string `json:"unit"`
}

type wireMonolingual struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// encodeEntity renders the entity as the data parameter of wbeditentity.
// Statements are emitted in property order so identical entities encode
// identically.
func encodeEntity(entity *model.StructuredEntity) (string, error) {
	data, _, err := encodeEntityExcept(entity, nil)
	return data, err
}

// encodeEntityExcept is encodeEntity without the statements whose snak key
// is already in existing. It also reports how many statements it left out.
func encodeEntityExcept(entity *model.StructuredEntity, existing mapset.Set[string]) (string, int, error) {
	w := wireEntity{
		Labels:       entity.Labels,
		Descriptions: entity.Descriptions,
	}
	skipped := 0
	for _, prop := range entity.Properties() {
		for _, claim := range entity.Claims[prop] {
			st, err := encodeClaim(claim)
			if err != nil {
				return "", 0, err
			}
			if existing != nil && existing.Contains(wireSnakKey(st.MainSnak)) {
				skipped++
				continue
			}
			w.Claims = append(w.Claims, st)
		}
	}

	data, err := json.Marshal(w)
	if err != nil {
		return "", 0, wrapError(model.ErrValidation, err, "encode entity")
	}
	return string(data), skipped, nil
}

// wireSnakKey is snakKey for an outgoing snak
func wireSnakKey(snak wireSnak) string {
	raw, err := json.Marshal(snak)
	if err != nil {
		return ""
	}
	return snakKey(gjson.ParseBytes(raw))
}

func encodeClaim(c model.Claim) (wireStatement, error) {
	snak, err := encodeSnak(c.Property, c.Value)
	if err != nil {
		return wireStatement{}, err
	}
	rank := string(c.Rank)
	if rank == "" {
		rank = string(model.RankNormal)
	}
	st := wireStatement{MainSnak: snak, Type: "statement", Rank: rank}
	for _, ref := range c.References {
		st.References = append(st.References, encodeReference(ref))
	}
	return st, nil
}

func encodeSnak(prop model.PropertyID, v model.Value) (wireSnak, error) {
	snak := wireSnak{SnakType: "value", Property: string(prop)}

	switch v.Type {
	case model.ValueString:
		snak.DataValue = wireDataValue{Value: v.String, Type: "string"}
	case model.ValueEntityRef:
		numeric, err := numericID(v.EntityID)
		if err != nil {
			return snak, newError(model.ErrValidation, "%s: invalid entity reference %q", prop, v.EntityID)
		}
		snak.DataValue = wireDataValue{
			Value: wireEntityID{EntityType: "item", NumericID: numeric, ID: v.EntityID},
			Type:  string(model.ValueEntityRef),
		}
	case model.ValueCoordinate:
		if v.Coordinate == nil {
			return snak, newError(model.ErrValidation, "%s: missing coordinate", prop)
		}
		snak.DataValue = wireDataValue{
			Value: wireCoordinate{
				Latitude:  v.Coordinate.Latitude,
				Longitude: v.Coordinate.Longitude,
				Precision: v.Coordinate.Precision,
				Globe:     globeEarth,
			},
			Type: string(model.ValueCoordinate),
		}
	case model.ValueTime:
		if v.Time == nil {
			return snak, newError(model.ErrValidation, "%s: missing time", prop)
		}
		snak.DataValue = wireDataValue{
			Value: wireTime{
				Time:          v.Time.Formatted(),
				Precision:     int(v.Time.Precision),
				CalendarModel: calendarGregoria,
			},
			Type: string(model.ValueTime),
		}
	case model.ValueQuantity:
		if v.Quantity == nil {
			return snak, newError(model.ErrValidation, "%s: missing quantity", prop)
		}
		unit := "1"
		if v.Quantity.Unit != "" {
			unit = entityURIPrefix + v.Quantity.Unit
		}
		amount := strconv.FormatFloat(v.Quantity.Amount, 'f', -1, 64)
		if !strings.HasPrefix(amount, "-") {
			amount = "+" + amount
		}
		snak.DataValue = wireDataValue{
			Value: wireQuantity{Amount: amount, Unit: unit},
			Type:  string(model.ValueQuantity),
		}
	case model.ValueMonolingual:
		if v.Text == nil {
			return snak, newError(model.ErrValidation, "%s: missing text", prop)
		}
		snak.DataValue = wireDataValue{
			Value: wireMonolingual{Text: v.Text.Value, Language: v.Text.Language},
			Type:  string(model.ValueMonolingual),
		}
	default:
		return snak, newError(model.ErrValidation, "%s: unsupported value type %q", prop, v.Type)
	}
	return snak, nil
}

func encodeReference(ref model.Reference) wireReference {
	out := wireReference{Snaks: make(map[string][]wireSnak)}
	add := func(prop model.PropertyID, v model.Value) {
		snak, err := encodeSnak(prop, v)
		if err != nil {
			return
		}
		out.Snaks[string(prop)] = append(out.Snaks[string(prop)], snak)
		out.SnaksOrder = append(out.SnaksOrder, string(prop))
	}

	add(model.PropReferenceURL, model.StringValue(ref.URL))
	if ref.Title != "" {
		add(model.PropTitle, model.MonolingualValue("en", ref.Title))
	}
	if !ref.Retrieved.IsZero() {
		add(model.PropRetrieved, model.DayValue(ref.Retrieved))
	}
	return out
}

func numericID(id string) (int64, error) {
	if len(id) < 2 || id[0] != 'Q' {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(id[1:], 10, 64)
}
