package orchestrator

import (
	"context"
	"time"

	"github.com/yourorg/remediation-reconciler/internal/execsvc"
	"github.com/yourorg/remediation-reconciler/internal/model"
)

// A running sub-job is assumed to take expectedRun and never reports more
// than runningCap.
const (
	expectedRun     = time.Minute
	runningCap      = 95
	runningNoStart  = 10
	completePercent = 100
)

type Progress struct {
	JobID        string          `json:"job_id"`
	Operation    model.Operation `json:"operation"`
	Status       model.Phase     `json:"status"`
	Progress     int             `json:"progress"`
	Message      string          `json:"message"`
	TotalItems   int             `json:"total_items,omitempty"`
	TotalServers int             `json:"total_servers"`
}

// subJobPct estimates one sub-job's completion from its reported state.
func subJobPct(st execsvc.State, now time.Time) int {
	switch st.Status {
	case model.JobSuccess:
		return completePercent
	case model.JobRunning:
		if st.StartedAt.IsZero() {
			return runningNoStart
		}
		elapsed := now.Sub(st.StartedAt)
		if elapsed < 0 {
			return 0
		}
		pct := int(elapsed.Seconds() / expectedRun.Seconds() * runningCap)
		if pct > runningCap {
			pct = runningCap
		}
		return pct
	default:
		return 0
	}
}

// combine folds sub-job states into one phase and percentage.
func combine(states []execsvc.State, now time.Time) (model.Phase, int) {
	if len(states) == 0 {
		return model.PhaseQueued, 0
	}
	sum := 0
	allDone, anyFailed := true, false
	for _, st := range states {
		if st.Status != model.JobSuccess {
			allDone = false
		}
		if st.Status == model.JobFailed {
			anyFailed = true
		}
		sum += subJobPct(st, now)
	}
	pct := sum / len(states)
	switch {
	case anyFailed:
		return model.PhaseFailed, pct
	case allDone:
		return model.PhaseCompleted, completePercent
	case pct > 0:
		return model.PhaseRunning, pct
	default:
		return model.PhaseQueued, pct
	}
}

func progressMessage(op model.Operation, phase model.Phase, pct int) string {
	if op == model.OperationScan {
		switch phase {
		case model.PhaseQueued:
			return "waiting for the scan to start"
		case model.PhaseCompleted:
			return "scan finished"
		case model.PhaseFailed:
			return "scan failed"
		}
		switch {
		case pct < 30:
			return "connecting to target servers"
		case pct < 70:
			return "running compliance checks"
		default:
			return "collecting check results"
		}
	}
	switch phase {
	case model.PhaseQueued:
		return "waiting for remediation to start"
	case model.PhaseCompleted:
		return "remediation finished"
	case model.PhaseFailed:
		return "remediation failed"
	}
	switch {
	case pct < 30:
		return "changing security settings"
	case pct < 70:
		return "applying remediation items"
	default:
		return "verifying remediation results"
	}
}

// Progress polls every sub-job of the job. Poll failures do not return an
// error; they read as a failed job so that poll loops stop.
func (o *Orchestrator) Progress(ctx context.Context, id string) (*Progress, error) {
	rec, err := o.Jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &Progress{
		JobID:        rec.ID,
		Operation:    rec.Operation,
		TotalItems:   rec.TotalItems(),
		TotalServers: len(rec.ServerIDs),
	}
	states := make([]execsvc.State, 0, len(rec.SubJobs))
	for _, sub := range rec.SubJobs {
		st, err := o.Exec.Poll(ctx, sub.ID)
		if err != nil {
			o.Log.Warnf("job %s: poll %s: %v", rec.ID, sub.ID, err)
			out.Status = model.PhaseFailed
			out.Progress = 0
			out.Message = "progress lookup failed: " + err.Error()
			return out, nil
		}
		states = append(states, st)
	}
	out.Status, out.Progress = combine(states, o.Now())
	out.Message = progressMessage(rec.Operation, out.Status, out.Progress)
	return out, nil
}
