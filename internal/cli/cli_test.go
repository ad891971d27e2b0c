package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/kbpublish/internal/model"
	"github.com/ppiankov/kbpublish/internal/pipeline"
)

func TestDecodeRequest_FullRequest(t *testing.T) {
	data := []byte(`{
		"subject": {"name": "Acme Bakery", "url": "https://acme.example"},
		"references": [{"url": "https://www.seattletimes.com/acme"}],
		"target": "sandbox",
		"force": true
	}`)

	req, err := decodeRequest(data)
	if err != nil {
		t.Fatalf("decodeRequest() error = %v", err)
	}
	if req.Subject.Name != "Acme Bakery" {
		t.Errorf("Subject.Name = %q, want Acme Bakery", req.Subject.Name)
	}
	if len(req.References) != 1 {
		t.Errorf("References = %d, want 1", len(req.References))
	}
	if req.Target != model.TargetSandbox || !req.Force {
		t.Errorf("Target = %q Force = %v, want sandbox true", req.Target, req.Force)
	}
}

func TestDecodeRequest_BareSubject(t *testing.T) {
	req, err := decodeRequest([]byte(`{"name": "Acme Bakery", "industry": "bakery"}`))
	if err != nil {
		t.Fatalf("decodeRequest() error = %v", err)
	}
	if req.Subject.Name != "Acme Bakery" || req.Subject.Industry != "bakery" {
		t.Errorf("Subject = %+v", req.Subject)
	}
	if len(req.References) != 0 {
		t.Errorf("References = %d, want 0", len(req.References))
	}
}

func TestDecodeRequest_Invalid(t *testing.T) {
	if _, err := decodeRequest([]byte(`not json`)); err == nil {
		t.Error("decodeRequest() expected error for malformed input")
	}
}

func TestReadRequest_Stdin(t *testing.T) {
	req, err := readRequest("-", strings.NewReader(`{"name": "From Stdin"}`))
	if err != nil {
		t.Fatalf("readRequest() error = %v", err)
	}
	if req.Subject.Name != "From Stdin" {
		t.Errorf("Subject.Name = %q", req.Subject.Name)
	}
}

func TestReadRequest_MissingFile(t *testing.T) {
	if _, err := readRequest(filepath.Join(t.TempDir(), "missing.json"), nil); err == nil {
		t.Error("readRequest() expected error for missing file")
	}
}

func TestLoadCrawl(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home.html")
	html := `<html><head><title>Acme</title>
<meta name="description" content="Family bakery in Seattle since 1952"></head>
<body><a href="tel:+12065550100">Call</a></body></html>`
	if err := os.WriteFile(path, []byte(html), 0600); err != nil {
		t.Fatal(err)
	}

	crawl, err := loadCrawl(path, "https://acme.example/")
	if err != nil {
		t.Fatalf("loadCrawl() error = %v", err)
	}
	if crawl.SourceURL != "https://acme.example/" {
		t.Errorf("SourceURL = %q", crawl.SourceURL)
	}
	if crawl.Description != "Family bakery in Seattle since 1952" {
		t.Errorf("Description = %q", crawl.Description)
	}
}

func TestRequestFlags_Apply(t *testing.T) {
	tests := []struct {
		name       string
		flags      requestFlags
		req        pipeline.Request
		cfgTarget  string
		cfgDryRun  bool
		wantTarget model.Target
		wantDryRun bool
		wantErr    bool
	}{
		{
			name:       "config default",
			cfgTarget:  "sandbox",
			wantTarget: model.TargetSandbox,
		},
		{
			name:       "flag overrides request",
			flags:      requestFlags{target: "production"},
			req:        pipeline.Request{Target: model.TargetSandbox},
			cfgTarget:  "sandbox",
			wantTarget: model.TargetProduction,
		},
		{
			name:       "request kept without flag",
			req:        pipeline.Request{Target: model.TargetProduction},
			cfgTarget:  "sandbox",
			wantTarget: model.TargetProduction,
		},
		{
			name:       "config dry run",
			cfgTarget:  "sandbox",
			cfgDryRun:  true,
			wantTarget: model.TargetSandbox,
			wantDryRun: true,
		},
		{
			name:      "unknown target",
			flags:     requestFlags{target: "staging"},
			cfgTarget: "sandbox",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := model.DefaultConfig()
			cfg.KB.Target = tt.cfgTarget
			cfg.KB.DryRun = tt.cfgDryRun

			req := tt.req
			err := tt.flags.apply(&req, cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("apply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if req.Target != tt.wantTarget {
				t.Errorf("Target = %q, want %q", req.Target, tt.wantTarget)
			}
			if req.DryRun != tt.wantDryRun {
				t.Errorf("DryRun = %v, want %v", req.DryRun, tt.wantDryRun)
			}
		})
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".kbpublish")

	path, err := writeDefaultConfig(dir)
	if err != nil {
		t.Fatalf("writeDefaultConfig() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.KB.Target != "sandbox" || cfg.KB.AllowProduction {
		t.Errorf("KB = %+v, want sandbox without production", cfg.KB)
	}
	if !cfg.KB.ValidationEnabled {
		t.Error("ValidationEnabled = false, want true")
	}
	if cfg.Notability.MinSeriousReferences != 2 {
		t.Errorf("MinSeriousReferences = %d, want 2", cfg.Notability.MinSeriousReferences)
	}

	if _, err := writeDefaultConfig(dir); err == nil {
		t.Error("writeDefaultConfig() expected error when file exists")
	}
}

func TestWriteDefaultConfig_NoSecrets(t *testing.T) {
	path, err := writeDefaultConfig(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"password", "api_key"} {
		if bytes.Contains(data, []byte(key)) {
			t.Errorf("config contains %q", key)
		}
	}
}

func TestCredentialState(t *testing.T) {
	tests := []struct {
		user, secret, want string
	}{
		{"", "", "not set"},
		{"Bot", "", "incomplete"},
		{"Bot", "secret", "set (hidden)"},
		{"", "key", "set (hidden)"},
	}
	for _, tt := range tests {
		if got := credentialState(tt.user, tt.secret); got != tt.want {
			t.Errorf("credentialState(%q, %q) = %q, want %q", tt.user, tt.secret, got, tt.want)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, map[string]int{"checked": 3}); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "{\n  \"checked\": 3\n}\n" {
		t.Errorf("writeJSON() = %q", got)
	}
}
