package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ppiankov/kbpublish/internal/extract"
	"github.com/ppiankov/kbpublish/internal/model"
	"github.com/ppiankov/kbpublish/internal/pipeline"
)

// readRequest loads a publish request from path ("-" reads stdin). The file
// holds either a full request or a bare business subject.
func readRequest(path string, stdin io.Reader) (pipeline.Request, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("read request: %w", err)
	}
	return decodeRequest(data)
}

func decodeRequest(data []byte) (pipeline.Request, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return pipeline.Request{}, fmt.Errorf("decode request: %w", err)
	}

	var req pipeline.Request
	if _, ok := probe["subject"]; ok {
		if err := json.Unmarshal(data, &req); err != nil {
			return pipeline.Request{}, fmt.Errorf("decode request: %w", err)
		}
		return req, nil
	}

	var subject model.BusinessSubject
	if err := json.Unmarshal(data, &subject); err != nil {
		return pipeline.Request{}, fmt.Errorf("decode subject: %w", err)
	}
	req.Subject = subject
	return req, nil
}

// loadCrawl extracts crawl data from a saved copy of the subject's homepage
func loadCrawl(htmlPath, sourceURL string) (*model.CrawlData, error) {
	data, err := os.ReadFile(htmlPath)
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	crawl, err := extract.NewPageExtractor().Extract(string(data), sourceURL)
	if err != nil {
		return nil, fmt.Errorf("extract html: %w", err)
	}
	return crawl, nil
}

// requestFlags are the per-request overrides shared by publish and batch
type requestFlags struct {
	target    string
	dryRun    bool
	force     bool
	fetchSite bool
}

// apply overlays the flags and config defaults onto req
func (f requestFlags) apply(req *pipeline.Request, cfg *model.Config) error {
	target := strings.TrimSpace(f.target)
	if target == "" {
		target = cfg.KB.Target
	}
	switch model.Target(target) {
	case model.TargetSandbox, model.TargetProduction:
		if req.Target == "" || f.target != "" {
			req.Target = model.Target(target)
		}
	default:
		return fmt.Errorf("unknown target %q (want sandbox or production)", target)
	}

	req.DryRun = req.DryRun || f.dryRun || cfg.KB.DryRun
	req.Force = req.Force || f.force
	req.FetchSite = req.FetchSite || f.fetchSite
	return nil
}

// writeJSON writes v as indented JSON followed by a newline
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
