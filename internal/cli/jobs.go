package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourorg/remediation-reconciler/internal/app"
	"github.com/yourorg/remediation-reconciler/internal/model"
	"github.com/yourorg/remediation-reconciler/internal/orchestrator"
)

const pollEvery = 2 * time.Second

func (e *env) newAffectedCmd() *cobra.Command {
	var items []string
	cmd := &cobra.Command{
		Use:   "affected",
		Short: "Preview which servers a fix for the given items would touch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App) error {
				out, err := a.Orchestrator.AffectedTargets(ctx, items, tenant())
				if err != nil {
					return err
				}
				if asJSON() {
					return printJSON(e.out, out)
				}
				fmt.Fprintf(e.out, "%d servers, %d fixable items\n", out.TotalServers, out.TotalFixable)
				for _, s := range out.Servers {
					fmt.Fprintf(e.out, "  %s (%s) %s\n", s.ServerID, s.Hostname, strings.Join(s.ItemCodes, ","))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&items, "items", nil, "item codes, comma separated")
	return cmd
}

// waitDone polls progress until the job completes or fails.
func (e *env) waitDone(ctx context.Context, o *orchestrator.Orchestrator, id string) (*orchestrator.Progress, error) {
	t := time.NewTicker(pollEvery)
	defer t.Stop()
	last := -1
	for {
		p, err := o.Progress(ctx, id)
		if err != nil {
			return nil, err
		}
		if p.Progress != last && !asJSON() {
			fmt.Fprintf(e.out, "  [%3d%%] %s\n", p.Progress, p.Message)
			last = p.Progress
		}
		if p.Status == model.PhaseCompleted || p.Status == model.PhaseFailed {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (e *env) printProgress(p *orchestrator.Progress) error {
	if asJSON() {
		return printJSON(e.out, p)
	}
	fmt.Fprintf(e.out, "job %s: %s %d%% %s\n", p.JobID, p.Status, p.Progress, p.Message)
	return nil
}

func (e *env) printFixResult(ctx context.Context, o *orchestrator.Orchestrator, id string) error {
	res, ready, err := o.FixResult(ctx, id)
	if err != nil {
		return err
	}
	if !ready {
		fmt.Fprintf(e.out, "job %s has not completed yet\n", id)
		return nil
	}
	if asJSON() {
		return printJSON(e.out, res)
	}
	fmt.Fprintf(e.out, "job %s: %d/%d fixed, %d failed\n", res.JobID, res.Success, res.TotalItems, res.Fail)
	for _, it := range res.Items {
		mark := "ok  "
		if !it.Success {
			mark = "FAIL"
		}
		fmt.Fprintf(e.out, "  %s %s %s %s", mark, it.ServerID, it.ItemCode, it.Title)
		if it.FailureReason != "" {
			fmt.Fprintf(e.out, " (%s)", it.FailureReason)
		}
		fmt.Fprintln(e.out)
	}
	fmt.Fprintf(e.out, "vulnerable before=%d after=%d\n", res.Improvement.Before, res.Improvement.After)
	return nil
}

func (e *env) printScanResult(ctx context.Context, o *orchestrator.Orchestrator, id string) error {
	res, ready, err := o.ScanResult(ctx, id)
	if err != nil {
		return err
	}
	if !ready {
		fmt.Fprintf(e.out, "job %s has not completed yet\n", id)
		return nil
	}
	if asJSON() {
		return printJSON(e.out, res)
	}
	fmt.Fprintf(e.out, "job %s: %d servers, %d vulnerable, %d secure (%d%% risk)\n",
		res.JobID, res.TotalServers, res.Vulnerable, res.Secure, res.RiskPercent)
	printSummaries(e.out, res.Servers)
	return nil
}

func (e *env) newFixCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "fix", Short: "Start and follow remediation jobs"}

	var items []string
	var wait bool
	start := &cobra.Command{
		Use:   "start <server-id>",
		Short: "Remediate items on one server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App) error {
				id, n, err := a.Orchestrator.StartFix(ctx, args[0], items)
				if err != nil {
					return err
				}
				return e.afterFixStart(ctx, a.Orchestrator, id, n, wait)
			})
		},
	}
	start.Flags().StringSliceVar(&items, "items", nil, "item codes, comma separated")
	start.Flags().BoolVar(&wait, "wait", false, "poll until the job finishes and print the result")

	var batchServers, batchItems []string
	var batchWait bool
	batch := &cobra.Command{
		Use:   "batch",
		Short: "Remediate items on several servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App) error {
				id, n, err := a.Orchestrator.StartBatchFix(ctx, batchServers, batchItems)
				if err != nil {
					return err
				}
				return e.afterFixStart(ctx, a.Orchestrator, id, n, batchWait)
			})
		},
	}
	batch.Flags().StringSliceVar(&batchServers, "servers", nil, "server ids, comma separated")
	batch.Flags().StringSliceVar(&batchItems, "items", nil, "item codes, comma separated")
	batch.Flags().BoolVar(&batchWait, "wait", false, "poll until the job finishes and print the result")

	cmd.AddCommand(start, batch, e.progressCmd(), &cobra.Command{
		Use:   "result <job-id>",
		Short: "Show what a completed fix job achieved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return e.printFixResult(ctx, a.Orchestrator, args[0])
			})
		},
	})
	return cmd
}

func (e *env) afterFixStart(ctx context.Context, o *orchestrator.Orchestrator, id string, n int, wait bool) error {
	if !asJSON() {
		fmt.Fprintf(e.out, "job %s started for %d items\n", id, n)
	}
	if !wait {
		if asJSON() {
			return printJSON(e.out, map[string]any{"job_id": id, "total_items": n})
		}
		return nil
	}
	p, err := e.waitDone(ctx, o, id)
	if err != nil {
		return err
	}
	if p.Status == model.PhaseFailed {
		return e.printProgress(p)
	}
	return e.printFixResult(ctx, o, id)
}

func (e *env) progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <job-id>",
		Short: "Show the combined progress of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App) error {
				p, err := a.Orchestrator.Progress(ctx, args[0])
				if err != nil {
					return err
				}
				return e.printProgress(p)
			})
		},
	}
}

func (e *env) newScanCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scan", Short: "Start and follow scan jobs"}

	var scanType string
	var wait bool
	start := &cobra.Command{
		Use:   "start <server-id>...",
		Short: "Run a full check of the given servers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App) error {
				id, n, err := a.Orchestrator.StartScan(ctx, args, scanType)
				if err != nil {
					return err
				}
				if !wait {
					if asJSON() {
						return printJSON(e.out, map[string]any{"job_id": id, "total_servers": n})
					}
					fmt.Fprintf(e.out, "job %s started for %d servers\n", id, n)
					return nil
				}
				p, err := e.waitDone(ctx, a.Orchestrator, id)
				if err != nil {
					return err
				}
				if p.Status == model.PhaseFailed {
					return e.printProgress(p)
				}
				return e.printScanResult(ctx, a.Orchestrator, id)
			})
		},
	}
	start.Flags().StringVar(&scanType, "type", orchestrator.ScanAll, "scan-all, scan or scan-db")
	start.Flags().BoolVar(&wait, "wait", false, "poll until the job finishes and print the result")

	cmd.AddCommand(start, e.progressCmd(), &cobra.Command{
		Use:   "result <job-id>",
		Short: "Summarize what a completed scan job found",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return e.printScanResult(ctx, a.Orchestrator, args[0])
			})
		},
	})
	return cmd
}
