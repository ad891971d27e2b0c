package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/kbpublish/internal/model"
	"github.com/ppiankov/kbpublish/internal/pipeline"
)

// mockPublisher implements Publisher
type mockPublisher struct {
	mu       sync.Mutex
	requests []pipeline.Request
	calls    atomic.Int32
	outcome  func(req pipeline.Request) *pipeline.Result
}

func (m *mockPublisher) Publish(ctx context.Context, req pipeline.Request) *pipeline.Result {
	time.Sleep(5 * time.Millisecond) // Simulate work
	m.calls.Add(1)
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.outcome != nil {
		return m.outcome(req)
	}
	return &pipeline.Result{Outcome: &model.PublishOutcome{Success: true, Identifier: "Q1", DryRun: req.DryRun}}
}

func entry(line int, name, url string) BatchEntry {
	return BatchEntry{Line: line, Request: pipeline.Request{Subject: model.BusinessSubject{Name: name, URL: url}}}
}

func writeBatch(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBatchProcessor_ProcessEntries(t *testing.T) {
	publisher := &mockPublisher{}
	processor := NewBatchProcessor(publisher, 2, BatchOptions{})

	entries := []BatchEntry{
		entry(1, "Alpha Bakery", "https://alpha.example"),
		entry(2, "Beta Books", "https://beta.example"),
		entry(3, "Gamma Garage", "https://gamma.example"),
	}
	results := processor.ProcessEntries(context.Background(), entries)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Error != nil {
			t.Errorf("unexpected error for %s: %v", res.Name, res.Error)
		}
		if res.Index != i || res.Name != entries[i].Request.Subject.Name {
			t.Errorf("result %d out of order: %+v", i, res)
		}
	}
}

func TestBatchProcessor_ManyEntries(t *testing.T) {
	publisher := &mockPublisher{}
	processor := NewBatchProcessor(publisher, 2, BatchOptions{})

	var entries []BatchEntry
	for i := 0; i < 40; i++ {
		entries = append(entries, entry(i+1, "Shop", "https://shop.example/"+string(rune('a'+i%26))))
	}
	results := processor.ProcessEntries(context.Background(), entries)

	if len(results) != 40 || publisher.calls.Load() != 40 {
		t.Errorf("results = %d, calls = %d; want 40", len(results), publisher.calls.Load())
	}
}

func TestBatchProcessor_OptionsApplied(t *testing.T) {
	publisher := &mockPublisher{}
	processor := NewBatchProcessor(publisher, 1, BatchOptions{Target: model.TargetSandbox, DryRun: true, FetchSite: true})

	e := entry(1, "Alpha Bakery", "https://alpha.example")
	e.Request.Force = true
	e.Request.Target = model.TargetProduction
	processor.ProcessEntries(context.Background(), []BatchEntry{e, entry(2, "Beta Books", "")})

	for _, req := range publisher.requests {
		if !req.DryRun || !req.FetchSite {
			t.Errorf("%s: batch flags not applied: %+v", req.Subject.Name, req)
		}
		switch req.Subject.Name {
		case "Alpha Bakery":
			if req.Target != model.TargetProduction || !req.Force {
				t.Errorf("per-line values overridden: %+v", req)
			}
		case "Beta Books":
			if req.Target != model.TargetSandbox || req.Force {
				t.Errorf("batch defaults not applied: %+v", req)
			}
		}
	}
}

func TestBatchProcessor_FailedOutcomeIsError(t *testing.T) {
	publisher := &mockPublisher{outcome: func(req pipeline.Request) *pipeline.Result {
		return &pipeline.Result{Outcome: &model.PublishOutcome{
			Error: &model.OutcomeError{Kind: model.ErrConflict, Message: "label exists"},
		}}
	}}
	processor := NewBatchProcessor(publisher, 2, BatchOptions{})

	results := processor.ProcessEntries(context.Background(), []BatchEntry{entry(1, "Alpha Bakery", "")})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Error == nil || !strings.Contains(results[0].Error.Error(), "conflict_error") {
		t.Errorf("error = %v", results[0].Error)
	}
}

func TestBatchProcessor_CancelledContext(t *testing.T) {
	publisher := &mockPublisher{}
	processor := NewBatchProcessor(publisher, 2, BatchOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := processor.ProcessEntries(ctx, []BatchEntry{entry(1, "Alpha Bakery", ""), entry(2, "Beta Books", "")})
	if len(results) != 2 {
		t.Fatalf("expected a result per entry, got %d", len(results))
	}
	for _, r := range results {
		if !errors.Is(r.Error, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", r.Error)
		}
	}
	if publisher.calls.Load() != 0 {
		t.Errorf("cancelled batch published %d times", publisher.calls.Load())
	}
}

func TestBatchProcessor_ProcessEntries_Empty(t *testing.T) {
	processor := NewBatchProcessor(&mockPublisher{}, 2, BatchOptions{})

	results := processor.ProcessEntries(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

func TestReadBatchFile(t *testing.T) {
	path := writeBatch(t, `{"subject":{"name":"Alpha Bakery","url":"https://alpha.example"}}
# comment

{"subject":{"name":"Beta Books"},"references":[{"url":"https://www.seattletimes.com/a"}],"force":true}
{"subject":{"name":"alpha  bakery","url":"http://www.alpha.example/"}}
`)

	batch, err := ReadBatchFile(path)
	if err != nil {
		t.Fatalf("ReadBatchFile failed: %v", err)
	}
	if len(batch.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(batch.Entries))
	}
	if batch.Duplicates != 1 {
		t.Errorf("expected 1 duplicate, got %d", batch.Duplicates)
	}

	second := batch.Entries[1]
	if second.Line != 4 || !second.Request.Force || len(second.Request.References) != 1 {
		t.Errorf("second entry = %+v", second)
	}
}

func TestReadBatchFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"invalid json", "{\"subject\":\n", "line 1"},
		{"missing name", `{"subject":{"url":"https://a.example"}}`, "subject name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadBatchFile(writeBatch(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestReadBatchFile_NonExistent(t *testing.T) {
	if _, err := ReadBatchFile(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Error("expected error for non-existent file, got nil")
	}
}

func TestBatchProcessor_ProcessFile(t *testing.T) {
	path := writeBatch(t, `{"subject":{"name":"Alpha Bakery"}}
{"subject":{"name":"Beta Books"}}
{"subject":{"name":"Beta Books"}}
`)
	processor := NewBatchProcessor(&mockPublisher{}, 2, BatchOptions{DryRun: true})

	results, batch, err := processor.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if len(results) != 2 || batch.Duplicates != 1 {
		t.Errorf("results = %d, duplicates = %d", len(results), batch.Duplicates)
	}
	if s := Summarize(results); s.DryRun != 2 || s.Total != 2 {
		t.Errorf("summary = %+v", s)
	}
}

func TestDedupeKey(t *testing.T) {
	a := model.BusinessSubject{Name: "Pike Place  Bakery", URL: "https://www.pikeplace.example/"}
	b := model.BusinessSubject{Name: "pike place bakery", URL: "http://pikeplace.example"}
	c := model.BusinessSubject{Name: "Pike Place Bakery", URL: "https://other.example"}

	if DedupeKey(a) != DedupeKey(b) {
		t.Errorf("expected same key: %q vs %q", DedupeKey(a), DedupeKey(b))
	}
	if DedupeKey(a) == DedupeKey(c) {
		t.Error("different websites should not collide")
	}
}

func TestSummarize(t *testing.T) {
	results := []*PublishResult{
		{Result: &pipeline.Result{Outcome: &model.PublishOutcome{Success: true}}},
		{Result: &pipeline.Result{Outcome: &model.PublishOutcome{Success: true, DryRun: true}}},
		{Result: &pipeline.Result{Outcome: &model.PublishOutcome{Error: &model.OutcomeError{Kind: model.ErrNotNotable}}}},
		{Result: &pipeline.Result{Outcome: &model.PublishOutcome{Error: &model.OutcomeError{Kind: model.ErrNetwork}}}},
		{Error: context.Canceled},
	}

	got := Summarize(results)
	want := BatchSummary{Total: 5, Published: 1, DryRun: 1, Blocked: 1, Failed: 2}
	if got != want {
		t.Errorf("Summarize() = %+v, want %+v", got, want)
	}
}

func TestPublishResult_GetError(t *testing.T) {
	r1 := &PublishResult{Name: "Alpha", Error: nil}
	if r1.GetError() != nil {
		t.Errorf("expected nil error, got %v", r1.GetError())
	}

	expected := errors.New("publish failed")
	r2 := &PublishResult{Name: "Alpha", Error: expected}
	if r2.GetError() != expected {
		t.Errorf("expected %v, got %v", expected, r2.GetError())
	}
}
