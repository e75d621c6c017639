package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yourorg/remediation-reconciler/internal/app"
	"github.com/yourorg/remediation-reconciler/internal/model"
	"github.com/yourorg/remediation-reconciler/internal/scoring"
)

func tenant() string { return viper.GetString("tenant") }

func (e *env) scoreTenant(ctx context.Context, a *app.App, t string) error {
	sums, err := a.Scores.TenantScores(ctx, t)
	if err != nil {
		return err
	}
	if asJSON() {
		return printJSON(e.out, sums)
	}
	if len(sums) == 0 {
		fmt.Fprintln(e.out, "no active servers")
		return nil
	}
	printSummaries(e.out, sums)
	return nil
}

func (e *env) newScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score [server-id]",
		Short: "Compute the compliance score of one server or every active server of the tenant",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if len(args) == 0 {
					return e.scoreTenant(ctx, a, tenant())
				}
				sum, err := a.Scores.ServerScore(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON() {
					return printJSON(e.out, sum)
				}
				printSummaries(e.out, []scoring.Summary{sum})
				return nil
			})
		},
	}
}

func (e *env) newRollupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollup [server-id]",
		Short: "Break effective outcomes down by category and severity",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd, func(ctx context.Context, a *app.App) error {
				var (
					r   scoring.Rollup
					err error
				)
				if len(args) == 1 {
					r, err = a.Scores.ServerRollup(ctx, args[0])
				} else {
					r, err = a.Scores.TenantRollup(ctx, tenant())
				}
				if err != nil {
					return err
				}
				if asJSON() {
					return printJSON(e.out, r)
				}
				for _, target := range []model.Category{model.CategoryOS, model.CategoryDB} {
					if rows, ok := r.Categories[target]; ok {
						printCounts(e.out, string(target), rows)
					}
				}
				sev := map[string]scoring.Counts{}
				for s, c := range r.Severities {
					sev[string(s)] = c
				}
				printCounts(e.out, "severity", sev)
				return nil
			})
		},
	}
}
