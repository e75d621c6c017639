// Package cli implements reconctl, the operator command line for sweeps,
// scores, fix and scan jobs and exemptions.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yourorg/remediation-reconciler/internal/app"
	"github.com/yourorg/remediation-reconciler/internal/config"
	"github.com/yourorg/remediation-reconciler/internal/logging"
)

// Opener builds the services a command runs against. Tests replace it.
type Opener func(ctx context.Context) (*app.App, error)

func openFromEnv(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if v := viper.GetString("log-level"); v != "" {
		level = v
	}
	return app.Open(ctx, cfg, logging.New(level))
}

type env struct {
	open Opener
	out  io.Writer
}

// NewRootCmd returns the reconctl command tree.
func NewRootCmd(open Opener, out io.Writer) *cobra.Command {
	if open == nil {
		open = openFromEnv
	}
	e := &env{open: open, out: out}
	root := &cobra.Command{
		Use:           "reconctl",
		Short:         "Reconcile scan and remediation evidence into compliance scores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.PersistentFlags().String("tenant", "", "tenant (company) to act on")
	root.PersistentFlags().Bool("json", false, "print results as JSON")
	root.PersistentFlags().String("log-level", "", "log level, overrides LOG_LEVEL")
	for _, name := range []string{"tenant", "json", "log-level"} {
		_ = viper.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}
	viper.SetEnvPrefix("RECON")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	root.AddCommand(
		e.newSweepCmd(),
		e.newAllCmd(),
		e.newScoreCmd(),
		e.newRollupCmd(),
		e.newAffectedCmd(),
		e.newFixCmd(),
		e.newScanCmd(),
		e.newExemptionCmd(),
	)
	return root
}

// withApp opens the services for the duration of fn.
func (e *env) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}

func Execute(ctx context.Context) {
	if err := NewRootCmd(nil, os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}
