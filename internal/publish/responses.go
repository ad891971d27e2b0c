package publish

import (
	"regexp"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/tidwall/gjson"

	"github.com/ppiankov/kbpublish/internal/model"
)

// response is the closed set of decoded remote replies. Every transition
// switches over the concrete variant.
type response interface {
	isResponse()
}

// tokenResponse carries a login or CSRF token
type tokenResponse struct {
	Token string
}

// loginResult is the outcome of action=login
type loginResult struct {
	Result   string // Success, NeedToken, Failed, WrongPass, Aborted
	Reason   string
	Token    string // Fresh token offered with NeedToken
	Username string
}

// editResult is a successful entity write
type editResult struct {
	EntityID string
	Revision int64
}

// entityClaims is the statement set of an existing item
type entityClaims struct {
	ID   string
	Keys mapset.Set[string] // See snakKey
}

// errorResult is any reply carrying an API error object
type errorResult struct {
	Code       string
	Info       string
	Messages   []string // Machine-readable message keys
	ExistingID string   // Entity named by a uniqueness violation
}

// malformedResult is a reply matching none of the expected shapes
type malformedResult struct {
	Body string
}

func (tokenResponse) isResponse()   {}
func (loginResult) isResponse()     {}
func (editResult) isResponse()      {}
func (entityClaims) isResponse()    {}
func (errorResult) isResponse()     {}
func (malformedResult) isResponse() {}

// Token kinds requested from meta=tokens
const (
	tokenLogin = "login"
	tokenCSRF  = "csrf"
)

// anonymousToken is the CSRF token handed to sessions that are not logged in
const anonymousToken = `+\`

// Remote error codes with dedicated handling
const (
	codeBadToken         = "badtoken"
	codeAssertUserFailed = "assertuserfailed"
	codeNotLoggedIn      = "notloggedin"
	codeMaxLag           = "maxlag"
	codePermissionDenied = "permissiondenied"
	codeBlocked          = "blocked"
	codeNoSuchEntity     = "no-such-entity"
)

var entityRefPattern = regexp.MustCompile(`\b(Q[1-9][0-9]*)\b`)

// decodeToken decodes a meta=tokens reply for the given token kind
func decodeToken(body []byte, kind string) response {
	doc := gjson.ParseBytes(body)
	if e, ok := decodeError(doc); ok {
		return e
	}
	token := doc.Get("query.tokens." + kind + "token").String()
	switch {
	case token == "":
		return malformedResult{Body: truncateBody(body)}
	case kind == tokenCSRF && token == anonymousToken:
		return errorResult{Code: codeAssertUserFailed, Info: "edit token issued to an anonymous session"}
	}
	return tokenResponse{Token: token}
}

// decodeLogin decodes an action=login reply
func decodeLogin(body []byte) response {
	doc := gjson.ParseBytes(body)
	if e, ok := decodeError(doc); ok {
		return e
	}
	login := doc.Get("login")
	if !login.Exists() || login.Get("result").String() == "" {
		return malformedResult{Body: truncateBody(body)}
	}
	return loginResult{
		Result:   login.Get("result").String(),
		Reason:   loginReason(login.Get("reason")),
		Token:    login.Get("token").String(),
		Username: login.Get("lgusername").String(),
	}
}

// decodeEdit decodes an action=wbeditentity reply
func decodeEdit(body []byte) response {
	doc := gjson.ParseBytes(body)
	if e, ok := decodeError(doc); ok {
		return e
	}
	id := doc.Get("entity.id").String()
	if id == "" || !doc.Get("success").Exists() {
		return malformedResult{Body: truncateBody(body)}
	}
	return editResult{
		EntityID: id,
		Revision: doc.Get("entity.lastrevid").Int(),
	}
}

// decodeEntity decodes an action=wbgetentities reply for a single item
func decodeEntity(body []byte, id string) response {
	doc := gjson.ParseBytes(body)
	if e, ok := decodeError(doc); ok {
		return e
	}
	item := doc.Get("entities." + id)
	if !item.Exists() {
		return malformedResult{Body: truncateBody(body)}
	}
	if item.Get("missing").Exists() {
		return errorResult{Code: codeNoSuchEntity, Info: "item " + id + " does not exist"}
	}

	result := entityClaims{ID: id, Keys: mapset.NewThreadUnsafeSet[string]()}
	item.Get("claims").ForEach(func(_, statements gjson.Result) bool {
		statements.ForEach(func(_, st gjson.Result) bool {
			if key := snakKey(st.Get("mainsnak")); key != "" {
				result.Keys.Add(key)
			}
			return true
		})
		return true
	})
	return result
}

// snakKey identifies a value snak by property and normalized value, so a
// statement read back from the remote matches the one we would send. Novalue
// and somevalue snaks have no key.
func snakKey(snak gjson.Result) string {
	if snak.Get("snaktype").String() != "value" {
		return ""
	}
	v := snak.Get("datavalue.value")

	var norm string
	switch model.ValueType(snak.Get("datavalue.type").String()) {
	case model.ValueEntityRef:
		norm = v.Get("id").String()
		if norm == "" {
			norm = "Q" + v.Get("numeric-id").String()
		}
	case model.ValueCoordinate:
		norm = strconv.FormatFloat(v.Get("latitude").Float(), 'f', 6, 64) + "," +
			strconv.FormatFloat(v.Get("longitude").Float(), 'f', 6, 64)
	case model.ValueTime:
		norm = v.Get("time").String() + "/" + v.Get("precision").String()
	case model.ValueQuantity:
		norm = strconv.FormatFloat(v.Get("amount").Float(), 'f', -1, 64) + " " + v.Get("unit").String()
	case model.ValueMonolingual:
		norm = v.Get("language").String() + ":" + v.Get("text").String()
	case model.ValueString:
		norm = v.String()
	default:
		norm = v.Raw
	}
	return snak.Get("property").String() + "=" + norm
}

func decodeError(doc gjson.Result) (errorResult, bool) {
	e := doc.Get("error")
	if !e.Exists() {
		return errorResult{}, false
	}

	result := errorResult{
		Code: e.Get("code").String(),
		Info: e.Get("info").String(),
	}
	var params []string
	e.Get("messages").ForEach(func(_, m gjson.Result) bool {
		result.Messages = append(result.Messages, m.Get("name").String())
		m.Get("parameters").ForEach(func(_, p gjson.Result) bool {
			params = append(params, p.String())
			return true
		})
		return true
	})

	if isConflict(result) {
		result.ExistingID = findEntityRef(append(params, result.Info)...)
	}
	return result, true
}

// loginReason handles both the plain string and the formatversion=2 object
// forms of the reason field
func loginReason(r gjson.Result) string {
	if r.IsObject() {
		if text := r.Get("text").String(); text != "" {
			return text
		}
		return r.Get("code").String()
	}
	return r.String()
}

// isConflict reports whether the error is a uniqueness violation
func isConflict(e errorResult) bool {
	for _, name := range e.Messages {
		if strings.Contains(name, "label-with-description-conflict") ||
			strings.Contains(name, "label-conflict") ||
			strings.Contains(name, "sitelink-conflict") {
			return true
		}
	}
	info := strings.ToLower(e.Info)
	return strings.Contains(info, "already has label") || strings.Contains(info, "already has the same")
}

// findEntityRef returns the first item ID in texts, preferring wiki links
// ("[[Q42|Q42]]") over bare mentions
func findEntityRef(texts ...string) string {
	for _, linked := range []bool{true, false} {
		for _, t := range texts {
			if linked != strings.Contains(t, "[[") {
				continue
			}
			if m := entityRefPattern.FindStringSubmatch(t); m != nil {
				return m[1]
			}
		}
	}
	return ""
}

func truncateBody(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
