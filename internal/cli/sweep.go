package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/yourorg/remediation-reconciler/internal/app"
	"github.com/yourorg/remediation-reconciler/internal/ingest"
	"github.com/yourorg/remediation-reconciler/internal/worker"
)

func (e *env) printReport(rep *ingest.Report) error {
	if asJSON() {
		return printJSON(e.out, map[string]any{
			"sweep_id":   rep.SweepID,
			"kind":       rep.Kind,
			"location":   rep.Location,
			"processed":  rep.Processed,
			"succeeded":  rep.Succeeded,
			"failed":     rep.Failed,
			"superseded": rep.Superseded,
			"unchanged":  rep.Unchanged,
			"unmapped":   rep.Unmapped,
			"skipped":    rep.Skipped,
			"by_tier":    rep.ByTier,
		})
	}
	fmt.Fprintf(e.out, "%s sweep %s (%s)\n", rep.Kind, rep.SweepID, rep.Location)
	fmt.Fprintf(e.out, "  processed=%d succeeded=%d failed=%d superseded=%d unchanged=%d unmapped=%d\n",
		rep.Processed, rep.Succeeded, rep.Failed, rep.Superseded, rep.Unchanged, rep.Unmapped)
	reasons := make([]string, 0, len(rep.Skipped))
	for r := range rep.Skipped {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(e.out, "  skipped %s=%d\n", r, rep.Skipped[ingest.SkipReason(r)])
	}
	if err := rep.Err(); err != nil {
		fmt.Fprintf(e.out, "  errors:\n%v\n", err)
	}
	return nil
}

func (e *env) newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "sweep scan|fix",
		Short:     "Ingest scan or fix artifacts into facts",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"scan", "fix"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App) error {
				s := a.ScanSweeper
				if args[0] == "fix" {
					s = a.FixSweeper
				}
				rep, err := s.Sweep(ctx)
				if err != nil {
					return err
				}
				return e.printReport(rep)
			})
		},
	}
	return cmd
}

func (e *env) newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Sweep scan and fix artifacts, then recompute every score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App) error {
				r := worker.NewRunner(a.Config.SweepInterval, a.Log, a.ScanSweeper, a.FixSweeper)
				for _, rep := range r.RunOnce(ctx) {
					if err := e.printReport(rep); err != nil {
						return err
					}
				}
				return e.scoreTenant(ctx, a, tenant())
			})
		},
	}
}
