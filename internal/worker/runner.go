// Package worker runs evidence sweeps on a fixed interval.
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/remediation-reconciler/internal/ingest"
)

type Sweeper interface {
	Sweep(ctx context.Context) (*ingest.Report, error)
}

type Runner struct {
	sweepers []Sweeper
	interval time.Duration
	log      logrus.FieldLogger
}

// NewRunner sweeps in the given order on every tick. Scan sweeps should come
// before fix sweeps so result reads see the newest scan facts.
func NewRunner(interval time.Duration, log logrus.FieldLogger, sweepers ...Sweeper) *Runner {
	return &Runner{sweepers: sweepers, interval: interval, log: log}
}

// RunOnce runs every sweeper once. Sweepers log their own reports; one that
// cannot start is logged here and does not stop the others.
func (r *Runner) RunOnce(ctx context.Context) []*ingest.Report {
	var out []*ingest.Report
	for _, s := range r.sweepers {
		if ctx.Err() != nil {
			return out
		}
		start := time.Now()
		rep, err := s.Sweep(ctx)
		if err != nil {
			r.log.Errorf("sweep failed: %v", err)
			continue
		}
		r.log.Debugf("sweep %s: %s took %s", rep.SweepID, rep.Kind, time.Since(start).Round(time.Millisecond))
		out = append(out, rep)
	}
	return out
}

// RunForever sweeps immediately and then on every interval until ctx ends.
func (r *Runner) RunForever(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
