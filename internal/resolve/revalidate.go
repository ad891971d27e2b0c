package resolve

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// RevalidationReport summarizes a bulk revalidation sweep
type RevalidationReport struct {
	Checked int `json:"checked"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"` // already being revalidated in the background
}

// RevalidateStale re-checks up to limit stale remote-sourced entries, oldest
// first. Individual lookup failures are counted, not returned.
func (r *Resolver) RevalidateStale(ctx context.Context, limit int) (*RevalidationReport, error) {
	report := &RevalidationReport{}
	if r.remote == nil || r.staleAfter <= 0 {
		return report, nil
	}

	entries, err := r.store.ListStale(ctx, r.now().Add(-r.staleAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale entries: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !r.claim(entry) {
			report.Skipped++
			continue
		}

		lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
		changed, err := r.revalidate(lookupCtx, entry)
		cancel()
		r.release(entry)

		report.Checked++
		switch {
		case err != nil:
			report.Failed++
		case changed:
			report.Changed++
		}
	}

	r.logger.WithFields(logrus.Fields{
		"checked": report.Checked,
		"changed": report.Changed,
		"failed":  report.Failed,
	}).Info("Revalidation sweep finished")
	return report, nil
}
