package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/kbpublish/internal/model"
	"github.com/ppiankov/kbpublish/internal/pipeline"
)

var (
	subjectPath string
	htmlPath    string
	reqFlags    requestFlags
	runTimeout  time.Duration
)

// buildCmd previews the entity a request would produce
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the structured entity for a business without publishing",
	Long: `Build resolves identifiers and constructs the entity a publish would
write, then prints it as JSON together with its quality score.

Example:
  kbpublish build --subject acme.json
  kbpublish build --subject acme.json --html acme-home.html
  cat acme.json | kbpublish build --subject - --fetch`,
	RunE: runBuild,
}

// evaluateCmd runs the notability gate alone
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate notability references for a business",
	Long: `Evaluate classifies each supplied reference, counts the independent
serious ones and prints the advisory verdict as JSON.

Example:
  kbpublish evaluate --subject acme.json`,
	RunE: runEvaluate,
}

// publishCmd runs the full pipeline for one business
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Evaluate, build and publish one business",
	Long: `Publish runs the notability gate, builds the entity and writes it to the
knowledge base. The target defaults to the sandbox; production requires
kb.allow_production in the configuration.

Example:
  kbpublish publish --subject acme.json --dry-run
  kbpublish publish --subject acme.json --target sandbox
  kbpublish publish --subject acme.json --force`,
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(publishCmd)

	for _, cmd := range []*cobra.Command{buildCmd, evaluateCmd, publishCmd} {
		cmd.Flags().StringVarP(&subjectPath, "subject", "s", "", "request or subject JSON file (- for stdin)")
		cmd.Flags().DurationVar(&runTimeout, "timeout", 2*time.Minute, "overall timeout")
		_ = cmd.MarkFlagRequired("subject")
	}
	for _, cmd := range []*cobra.Command{buildCmd, publishCmd} {
		cmd.Flags().StringVar(&htmlPath, "html", "", "saved homepage HTML to extract crawl data from")
		cmd.Flags().BoolVar(&reqFlags.fetchSite, "fetch", false, "fetch the subject's website when no crawl data is given")
	}

	publishCmd.Flags().StringVar(&reqFlags.target, "target", "", "sandbox or production (default from config)")
	publishCmd.Flags().BoolVar(&reqFlags.dryRun, "dry-run", false, "validate only, never write")
	publishCmd.Flags().BoolVar(&reqFlags.force, "force", false, "publish despite a failing notability verdict")
}

// session bundles what every pipeline command sets up
type session struct {
	cfg      *model.Config
	pipeline *pipeline.Pipeline
	request  pipeline.Request
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	req, err := readRequest(subjectPath, cmd.InOrStdin())
	if err != nil {
		return nil, err
	}
	if htmlPath != "" && req.Crawl == nil {
		if req.Crawl, err = loadCrawl(htmlPath, req.Subject.URL); err != nil {
			return nil, err
		}
	}
	if err := reqFlags.apply(&req, cfg); err != nil {
		return nil, err
	}

	p, err := pipeline.NewPipeline(cfg, newLogger(cfg))
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, pipeline: p, request: req}, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.pipeline.Close() }()

	ctx, cancel := commandContext()
	defer cancel()

	entity, crawl, err := s.pipeline.Build(ctx, s.request)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "✓ Built %q with %d claims\n", entity.Label("en"), entity.ClaimCount())
		fmt.Fprintf(os.Stderr, "✓ Quality score: %d/100\n", entity.QualityScore)
	}

	return writeJSON(cmd.OutOrStdout(), struct {
		Entity *model.StructuredEntity `json:"entity"`
		Crawl  *model.CrawlData        `json:"crawl,omitempty"`
	}{entity, crawl})
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.pipeline.Close() }()

	ctx, cancel := commandContext()
	defer cancel()

	verdict := s.pipeline.Evaluate(ctx, s.request)
	if verdict.IsNotable {
		fmt.Fprintf(os.Stderr, "✓ Notable (%d serious references)\n", verdict.SeriousReferenceCount)
	} else {
		fmt.Fprintf(os.Stderr, "✗ Not notable (%d serious references)\n", verdict.SeriousReferenceCount)
	}
	return writeJSON(cmd.OutOrStdout(), verdict)
}

func runPublish(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.pipeline.Close() }()

	ctx, cancel := commandContext()
	defer cancel()

	result := s.pipeline.Publish(ctx, s.request)
	if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}

	message := pipeline.UserMessage(result.Outcome)
	if result.Outcome != nil && result.Outcome.Success {
		fmt.Fprintf(os.Stderr, "✓ %s\n", message)
		return nil
	}
	fmt.Fprintf(os.Stderr, "✗ %s\n", message)
	return fmt.Errorf("publish failed: %s", outcomeKind(result.Outcome))
}

func outcomeKind(outcome *model.PublishOutcome) model.ErrorKind {
	if outcome == nil || outcome.Error == nil {
		return model.ErrUnknownRemote
	}
	return outcome.Error.Kind
}
