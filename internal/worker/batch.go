package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ppiankov/kbpublish/internal/model"
	"github.com/ppiankov/kbpublish/internal/pipeline"
)

const maxBatchLineBytes = 1 << 20

// Publisher runs one publish request through the pipeline
type Publisher interface {
	Publish(ctx context.Context, req pipeline.Request) *pipeline.Result
}

// BatchOptions apply to every request in a batch. Per-line values win for
// Target; the flags are OR-ed with per-line flags.
type BatchOptions struct {
	Target    model.Target
	DryRun    bool
	Force     bool
	FetchSite bool
}

// BatchEntry is one request read from a batch file
type BatchEntry struct {
	Line    int
	Request pipeline.Request
}

// BatchFile is a parsed batch file
type BatchFile struct {
	Entries    []BatchEntry
	Duplicates int // Lines skipped because the same business appeared earlier
}

// PublishJob publishes one batch entry
type PublishJob struct {
	Index     int
	Entry     BatchEntry
	Publisher Publisher
}

// Execute executes the publish job
func (j *PublishJob) Execute(ctx context.Context) Result {
	result := &PublishResult{
		Index: j.Index,
		Line:  j.Entry.Line,
		Name:  j.Entry.Request.Subject.Name,
	}
	if err := ctx.Err(); err != nil {
		result.Error = err
		return result
	}

	result.Result = j.Publisher.Publish(ctx, j.Entry.Request)
	result.Error = resultError(result.Result)
	return result
}

// PublishResult is the result of one batch entry
type PublishResult struct {
	Index  int
	Line   int
	Name   string
	Result *pipeline.Result
	Error  error
}

// GetError returns the error from the publish result
func (r *PublishResult) GetError() error {
	return r.Error
}

func resultError(res *pipeline.Result) error {
	switch {
	case res == nil:
		return errors.New("no result")
	case res.Err != nil:
		return res.Err
	case res.Outcome == nil:
		return errors.New("no outcome")
	case !res.Outcome.Success && res.Outcome.Error != nil:
		return fmt.Errorf("%s: %s", res.Outcome.Error.Kind, res.Outcome.Error.Message)
	case !res.Outcome.Success:
		return errors.New("publish failed")
	}
	return nil
}

// BatchProcessor publishes many businesses concurrently. Entries share only
// the pipeline's resolver cache.
type BatchProcessor struct {
	publisher   Publisher
	concurrency int
	opts        BatchOptions
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(publisher Publisher, concurrency int, opts BatchOptions) *BatchProcessor {
	return &BatchProcessor{
		publisher:   publisher,
		concurrency: concurrency,
		opts:        opts,
	}
}

// ProcessEntries publishes entries concurrently and returns results in
// input order
func (b *BatchProcessor) ProcessEntries(ctx context.Context, entries []BatchEntry) []*PublishResult {
	if len(entries) == 0 {
		return []*PublishResult{}
	}

	jobs := make([]Job, len(entries))
	for i, entry := range entries {
		entry.Request = b.apply(entry.Request)
		jobs[i] = &PublishJob{Index: i, Entry: entry, Publisher: b.publisher}
	}

	pool := NewPoolWithContext(ctx, b.concurrency)
	published := make([]*PublishResult, len(entries))
	for _, r := range pool.Run(jobs) {
		pr := r.(*PublishResult)
		published[pr.Index] = pr
	}

	// Entries dropped by cancellation still get a result
	for i, pr := range published {
		if pr == nil {
			err := ctx.Err()
			if err == nil {
				err = errors.New("not run")
			}
			published[i] = &PublishResult{
				Index: i,
				Line:  entries[i].Line,
				Name:  entries[i].Request.Subject.Name,
				Error: err,
			}
		}
	}
	return published
}

// ProcessFile reads a JSON-lines batch file and publishes its entries
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*PublishResult, *BatchFile, error) {
	file, err := ReadBatchFile(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("read batch: %w", err)
	}
	return b.ProcessEntries(ctx, file.Entries), file, nil
}

func (b *BatchProcessor) apply(req pipeline.Request) pipeline.Request {
	if req.Target == "" {
		req.Target = b.opts.Target
	}
	req.DryRun = req.DryRun || b.opts.DryRun
	req.Force = req.Force || b.opts.Force
	req.FetchSite = req.FetchSite || b.opts.FetchSite
	return req
}

// ReadBatchFile reads one JSON request per line. Blank lines and lines
// starting with # are skipped, as are repeats of a business already seen
// (same name and website).
func ReadBatchFile(filePath string) (*BatchFile, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	batch := &BatchFile{}
	seen := mapset.NewThreadUnsafeSet[string]()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxBatchLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var req pipeline.Request
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if strings.TrimSpace(req.Subject.Name) == "" {
			return nil, fmt.Errorf("line %d: subject name is required", line)
		}

		if !seen.Add(DedupeKey(req.Subject)) {
			batch.Duplicates++
			continue
		}
		batch.Entries = append(batch.Entries, BatchEntry{Line: line, Request: req})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return batch, nil
}

// DedupeKey identifies a business by normalized name and website, so that at
// most one publish per business is in flight within a batch
func DedupeKey(s model.BusinessSubject) string {
	name := strings.ToLower(strings.Join(strings.Fields(s.Name), " "))
	site := strings.ToLower(strings.TrimSpace(s.URL))
	site = strings.TrimPrefix(strings.TrimPrefix(site, "https://"), "http://")
	site = strings.TrimPrefix(site, "www.")
	site = strings.TrimSuffix(site, "/")
	return name + "|" + site
}

// BatchSummary counts batch results by outcome
type BatchSummary struct {
	Total     int `json:"total"`
	Published int `json:"published"`
	DryRun    int `json:"dry_run"`
	Blocked   int `json:"blocked"` // Stopped by the notability gate
	Failed    int `json:"failed"`
}

// Summarize counts results by outcome
func Summarize(results []*PublishResult) BatchSummary {
	s := BatchSummary{Total: len(results)}
	for _, r := range results {
		var outcome *model.PublishOutcome
		if r.Result != nil {
			outcome = r.Result.Outcome
		}
		switch {
		case outcome != nil && outcome.Success && outcome.DryRun:
			s.DryRun++
		case outcome != nil && outcome.Success:
			s.Published++
		case outcome != nil && outcome.Error != nil && outcome.Error.Kind == model.ErrNotNotable:
			s.Blocked++
		default:
			s.Failed++
		}
	}
	return s
}
