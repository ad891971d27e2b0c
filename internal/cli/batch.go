package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/kbpublish/internal/model"
	"github.com/ppiankov/kbpublish/internal/pipeline"
	"github.com/ppiankov/kbpublish/internal/worker"
)

var (
	concurrency  int
	outputPath   string
	batchTimeout time.Duration
	batchFlags   requestFlags
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Publish many businesses from a JSON-lines file in parallel",
	Long: `Batch publishes one request per line concurrently:
- Read requests from the input file (one JSON object per line)
- Skip blank lines, # comments and repeats of the same business
- Run each request through notability, build and publish
- Write one JSON result per line, in input order

Example:
  kbpublish batch businesses.jsonl --dry-run
  kbpublish batch businesses.jsonl --concurrency 8 --output results.jsonl
  kbpublish batch businesses.jsonl --target sandbox --timeout 30m`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent workers (default from config)")
	batchCmd.Flags().StringVarP(&outputPath, "output", "o", "-", "JSON-lines results file (- for stdout)")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "total timeout for batch processing")

	batchCmd.Flags().StringVar(&batchFlags.target, "target", "", "sandbox or production (default from config)")
	batchCmd.Flags().BoolVar(&batchFlags.dryRun, "dry-run", false, "validate only, never write")
	batchCmd.Flags().BoolVar(&batchFlags.force, "force", false, "publish despite failing notability verdicts")
	batchCmd.Flags().BoolVar(&batchFlags.fetchSite, "fetch", false, "fetch websites for entries without crawl data")
}

// batchLine is one line of batch output
type batchLine struct {
	Line    int                     `json:"line"`
	Name    string                  `json:"name"`
	Verdict model.NotabilityVerdict `json:"verdict"`
	Outcome *model.PublishOutcome   `json:"outcome,omitempty"`
	Message string                  `json:"message"`
	Error   string                  `json:"error,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	workers := concurrency
	if workers <= 0 {
		workers = cfg.Concurrency.Workers
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	// Resolve target and flags once; per-line values still win inside the processor
	var defaults pipeline.Request
	if err := batchFlags.apply(&defaults, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  kbpublish Batch Processing\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", workers)
	fmt.Fprintf(os.Stderr, "  Target:       %s\n", defaults.Target)
	fmt.Fprintf(os.Stderr, "  Dry run:      %v\n", defaults.DryRun)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	p, err := pipeline.NewPipeline(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	processor := worker.NewBatchProcessor(p, workers, worker.BatchOptions{
		Target:    defaults.Target,
		DryRun:    defaults.DryRun,
		Force:     defaults.Force,
		FetchSite: defaults.FetchSite,
	})

	fmt.Fprintf(os.Stderr, "⚙️  Publishing with %d workers...\n\n", workers)
	results, batch, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	out, closeOut, err := openOutput(outputPath)
	if err != nil {
		return err
	}
	defer closeOut()

	enc := json.NewEncoder(out)
	for _, r := range results {
		line := toBatchLine(r)
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		if r.Error != nil {
			fmt.Fprintf(os.Stderr, "✗ line %d %s: %s\n", r.Line, r.Name, line.Message)
			continue
		}
		fmt.Fprintf(os.Stderr, "✓ line %d %s: %s\n", r.Line, r.Name, line.Message)
	}

	summary := worker.Summarize(results)
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:       %d\n", summary.Total)
	fmt.Fprintf(os.Stderr, "  Published:   %d\n", summary.Published)
	fmt.Fprintf(os.Stderr, "  Dry run:     %d\n", summary.DryRun)
	fmt.Fprintf(os.Stderr, "  Blocked:     %d\n", summary.Blocked)
	fmt.Fprintf(os.Stderr, "  Failed:      %d\n", summary.Failed)
	fmt.Fprintf(os.Stderr, "  Duplicates:  %d\n", batch.Duplicates)
	fmt.Fprintf(os.Stderr, "\n")

	return nil
}

func toBatchLine(r *worker.PublishResult) batchLine {
	line := batchLine{Line: r.Line, Name: r.Name}
	if r.Result != nil {
		line.Verdict = r.Result.Verdict
		line.Outcome = r.Result.Outcome
		line.Message = pipeline.UserMessage(r.Result.Outcome)
	}
	if r.Error != nil {
		line.Error = r.Error.Error()
		if line.Message == "" {
			line.Message = line.Error
		}
	}
	return line
}

// openOutput opens path for writing; "-" is stdout
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
