package publish

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ppiankov/kbpublish/internal/logging"
	"github.com/ppiankov/kbpublish/internal/model"
)

const (
	sessionCookie = "kbsession"

	bodyLoginToken = `{"batchcomplete":true,"query":{"tokens":{"logintoken":"lt+\\"}}}`
	bodyCSRFToken  = `{"batchcomplete":true,"query":{"tokens":{"csrftoken":"ct+\\"}}}`
	bodyLoginOK    = `{"login":{"result":"Success","lguserid":7,"lgusername":"Bot"}}`
	bodyNeedToken  = `{"login":{"result":"NeedToken","token":"fresh"}}`
	bodyWrongPass  = `{"login":{"result":"Failed","reason":"Incorrect username or password entered."}}`
	bodyEditOK     = `{"entity":{"id":"Q123","lastrevid":456,"type":"item"},"success":1}`
	bodyBadToken   = `{"error":{"code":"badtoken","info":"Invalid CSRF token."}}`
	bodyAssertUser = `{"error":{"code":"assertuserfailed","info":"You are no longer logged in."}}`
	bodyMaxLag     = `{"error":{"code":"maxlag","info":"Waiting for 10.0.0.1: 6 seconds lagged."}}`
	bodyConflict   = `{"error":{"code":"modification-failed","info":"Item [[Q42|Q42]] already has label \"Pike Place Bakery\" associated with language code en, using the same description text.","messages":[{"name":"wikibase-validator-label-with-description-conflict","parameters":["Pike Place Bakery","en","[[Q42|Q42]]"]}]}}`
)

// scripted is one canned reply
type scripted struct {
	status     int
	body       string
	retryAfter string
}

// fakeWiki is a minimal MediaWiki Action API. Each step replies from its
// script queue first and falls back to a successful default. Statements
// from successful edits are stored per item and served by wbgetentities.
type fakeWiki struct {
	mu      sync.Mutex
	scripts map[string][]scripted
	counts  map[string]int
	edits   []map[string]string
	items   map[string][]json.RawMessage
	total   int
}

func newFakeWiki() *fakeWiki {
	return &fakeWiki{
		scripts: make(map[string][]scripted),
		counts:  make(map[string]int),
		items:   make(map[string][]json.RawMessage),
	}
}

// script queues replies for a step: logintoken, csrftoken, login,
// getentities or edit
func (f *fakeWiki) script(step string, replies ...scripted) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[step] = append(f.scripts[step], replies...)
}

func (f *fakeWiki) count(step string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[step]
}

func (f *fakeWiki) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *fakeWiki) lastEdit() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return nil
	}
	return f.edits[len(f.edits)-1]
}

func (f *fakeWiki) claimsOf(id string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id]
}

// store keeps the statements of a successful edit on the edited item
func (f *fakeWiki) store(form map[string]string, reply string) {
	if !gjson.Get(reply, "success").Exists() {
		return
	}
	id := form["id"]
	if id == "" {
		id = gjson.Get(reply, "entity.id").String()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range gjson.Get(form["data"], "claims").Array() {
		f.items[id] = append(f.items[id], json.RawMessage(st.Raw))
	}
}

// entityReply renders the stored item the way wbgetentities does, with
// statements grouped by property
func (f *fakeWiki) entityReply(id string) *scripted {
	f.mu.Lock()
	defer f.mu.Unlock()
	claims := make(map[string][]json.RawMessage)
	for _, st := range f.items[id] {
		prop := gjson.GetBytes(st, "mainsnak.property").String()
		claims[prop] = append(claims[prop], st)
	}
	body, err := json.Marshal(map[string]interface{}{
		"entities": map[string]interface{}{
			id: map[string]interface{}{"id": id, "type": "item", "claims": claims},
		},
	})
	if err != nil {
		return &scripted{status: http.StatusInternalServerError, body: err.Error()}
	}
	return &scripted{body: string(body)}
}

func (f *fakeWiki) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	step := r.PostForm.Get("action")
	switch step {
	case "query":
		step = r.PostForm.Get("type") + "token"
	case "wbeditentity":
		step = "edit"
	case "wbgetentities":
		step = "getentities"
	}

	var form map[string]string
	f.mu.Lock()
	f.total++
	f.counts[step]++
	if step == "edit" {
		form = make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		f.edits = append(f.edits, form)
	}
	var reply *scripted
	if queue := f.scripts[step]; len(queue) > 0 {
		reply = &queue[0]
		f.scripts[step] = queue[1:]
	}
	f.mu.Unlock()

	if reply == nil {
		reply = f.defaultReply(step, r)
	}
	if step == "edit" {
		f.store(form, reply.body)
	}
	if reply.retryAfter != "" {
		w.Header().Set("Retry-After", reply.retryAfter)
	}
	if step == "login" && strings.Contains(reply.body, `"Success"`) {
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "s1", Path: "/"})
	}
	w.Header().Set("Content-Type", "application/json")
	status := reply.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(reply.body))
}

func (f *fakeWiki) defaultReply(step string, r *http.Request) *scripted {
	switch step {
	case "logintoken":
		return &scripted{body: bodyLoginToken}
	case "csrftoken":
		return &scripted{body: bodyCSRFToken}
	case "login":
		return &scripted{body: bodyLoginOK}
	case "edit":
		// Edits require the session cookie set by a successful login
		if _, err := r.Cookie(sessionCookie); err != nil {
			return &scripted{body: bodyAssertUser}
		}
		return &scripted{body: bodyEditOK}
	case "getentities":
		return f.entityReply(r.PostForm.Get("ids"))
	default:
		return &scripted{status: http.StatusBadRequest, body: `{"error":{"code":"badvalue","info":"unknown action"}}`}
	}
}

// newTestClient starts a fake wiki and a client whose sandbox points at it
func newTestClient(t *testing.T) (*Client, *fakeWiki) {
	t.Helper()
	wiki := newFakeWiki()
	server := httptest.NewServer(wiki)
	t.Cleanup(server.Close)

	cfg := model.DefaultConfig()
	kb := cfg.KB
	kb.Scheme = "http"
	kb.SandboxHost = strings.TrimPrefix(server.URL, "http://")
	kb.ProductionHost = "production.invalid"
	kb.Username = "Bot"
	kb.Password = "secret"

	return NewClient(kb, cfg.HTTP, nil, logging.Discard()), wiki
}

// recordSleeps disables retry backoff and records requested waits
func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	orig := publishSleepFunc
	publishSleepFunc = func(d time.Duration) { slept = append(slept, d) }
	t.Cleanup(func() { publishSleepFunc = orig })
	return &slept
}
