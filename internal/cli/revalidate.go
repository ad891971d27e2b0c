package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ppiankov/kbpublish/internal/metrics"
	"github.com/ppiankov/kbpublish/internal/pipeline"
	"github.com/ppiankov/kbpublish/internal/resolve"
	"github.com/ppiankov/kbpublish/internal/util"
)

var (
	revalidateLimit int
	scheduleExpr    string
	daemon          bool
	metricsAddr     string
)

// revalidateCmd re-checks stale identifier cache entries
var revalidateCmd = &cobra.Command{
	Use:   "revalidate",
	Short: "Re-check stale identifier cache entries against the structured query service",
	Long: `Revalidate sweeps identifier cache entries whose last validation is older
than resolver.stale_after and refreshes them from the structured query service.

Without --daemon a single sweep runs. With --daemon sweeps run on the cron
schedule until interrupted, optionally serving Prometheus metrics.

Example:
  kbpublish revalidate --limit 500
  kbpublish revalidate --daemon --schedule "0 3 * * *" --metrics-addr :9100`,
	RunE: runRevalidate,
}

func init() {
	rootCmd.AddCommand(revalidateCmd)

	revalidateCmd.Flags().IntVar(&revalidateLimit, "limit", 0, "entries per sweep (default from config)")
	revalidateCmd.Flags().BoolVar(&daemon, "daemon", false, "keep running and sweep on a schedule")
	revalidateCmd.Flags().StringVar(&scheduleExpr, "schedule", "", "cron expression (default from config)")
	revalidateCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address while running as a daemon")
}

func runRevalidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	limit := revalidateLimit
	if limit <= 0 {
		limit = cfg.Resolver.RevalidateBatch
	}

	resolver, store, err := pipeline.NewResolver(cfg, util.NewLimiterFromConfig(cfg.RateLimiting), logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !daemon {
		report, err := resolver.RevalidateStale(ctx, limit)
		if err != nil {
			return fmt.Errorf("revalidate: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Checked %d, changed %d, failed %d, skipped %d\n",
			report.Checked, report.Changed, report.Failed, report.Skipped)
		return writeJSON(cmd.OutOrStdout(), report)
	}

	expr := scheduleExpr
	if expr == "" {
		expr = cfg.Resolver.RevalidateSchedule
	}
	addr := metricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}

	return runScheduled(ctx, resolver, expr, limit, addr, logger)
}

// runScheduled runs sweeps on expr until ctx is cancelled. Overlapping runs
// are skipped rather than queued.
func runScheduled(ctx context.Context, resolver *resolve.Resolver, expr string, limit int, addr string, logger logrus.FieldLogger) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(expr, func() {
		start := time.Now()
		report, err := resolver.RevalidateStale(ctx, limit)
		if err != nil {
			logger.WithError(err).Warn("Revalidation sweep failed")
			return
		}
		logger.WithFields(logrus.Fields{
			"checked":  report.Checked,
			"changed":  report.Changed,
			"duration": time.Since(start).Round(time.Millisecond),
		}).Debug("Scheduled sweep done")
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	var server *http.Server
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics server stopped")
			}
		}()
		logger.WithField("addr", addr).Info("Serving metrics")
	}

	logger.WithField("schedule", expr).Info("Revalidation scheduled")
	c.Start()
	<-ctx.Done()

	<-c.Stop().Done()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	logger.Info("Revalidation stopped")
	return nil
}
