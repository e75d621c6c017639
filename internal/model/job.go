package model

import "time"

// Category is the target family an item code belongs to.
type Category string

const (
	CategoryOS Category = "os"
	CategoryDB Category = "db"
)

// JobStatus is a sub-job state as reported by the execution service.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Phase is the combined state of an orchestration job.
type Phase string

const (
	PhaseQueued    Phase = "queued"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Operation is what an orchestration job asked the execution service to do.
type Operation string

const (
	OperationFix  Operation = "fix"
	OperationScan Operation = "scan"
)

// SubJob is one submission to the execution service.
type SubJob struct {
	ID       string   `json:"job_id"`
	Kind     string   `json:"kind"`
	Category Category `json:"category"`
}

// JobRecord maps a primary job id to everything needed to answer progress and
// result reads later. Records are written once and never updated.
type JobRecord struct {
	ID        string              `json:"id"`
	Operation Operation           `json:"operation"`
	ScanType  string              `json:"scan_type,omitempty"`
	ServerIDs []string            `json:"server_ids"`
	ItemCodes []string            `json:"item_codes,omitempty"`
	Targets   map[string][]string `json:"targets,omitempty"`
	SubJobs   []SubJob            `json:"sub_jobs"`
	CreatedAt time.Time           `json:"created_at"`
}

// TotalItems counts (server, item) pairs the job targets.
func (r JobRecord) TotalItems() int {
	n := 0
	for _, codes := range r.Targets {
		n += len(codes)
	}
	return n
}
