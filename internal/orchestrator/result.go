package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/yourorg/remediation-reconciler/internal/apperr"
	"github.com/yourorg/remediation-reconciler/internal/model"
	"github.com/yourorg/remediation-reconciler/internal/scoring"
)

type ItemResult struct {
	ServerID      string    `json:"server_id"`
	ItemCode      string    `json:"item_code"`
	Title         string    `json:"title"`
	Success       bool      `json:"is_success"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Evidence      string    `json:"raw_evidence"`
	ActionAt      time.Time `json:"action_date"`
}

type ServerResult struct {
	ServerID string       `json:"server_id"`
	Hostname string       `json:"hostname"`
	Total    int          `json:"total_items"`
	Success  int          `json:"success_count"`
	Fail     int          `json:"fail_count"`
	Items    []ItemResult `json:"items"`
}

// Improvement compares the targeted pairs before and after the job.
type Improvement struct {
	Before   int `json:"before_vuln"`
	After    int `json:"after_vuln"`
	Improved int `json:"improved"`
}

type FixResult struct {
	JobID       string         `json:"job_id"`
	TotalItems  int            `json:"total_items"`
	Success     int            `json:"success_count"`
	Fail        int            `json:"fail_count"`
	Servers     []ServerResult `json:"servers"`
	Items       []ItemResult   `json:"items"`
	Improvement Improvement    `json:"improvement"`
}

func (o *Orchestrator) completedRecord(ctx context.Context, id string, op model.Operation) (model.JobRecord, bool, error) {
	rec, err := o.Jobs.GetJob(ctx, id)
	if err != nil {
		return model.JobRecord{}, false, err
	}
	if rec.Operation != op {
		return model.JobRecord{}, false, apperr.InvalidRequest("job %s is a %s job", id, rec.Operation)
	}
	p, err := o.Progress(ctx, id)
	if err != nil {
		return model.JobRecord{}, false, err
	}
	return rec, p.Status == model.PhaseCompleted, nil
}

// FixResult reports what a completed fix job achieved. ready is false until
// the job's progress reads completed.
func (o *Orchestrator) FixResult(ctx context.Context, id string) (*FixResult, bool, error) {
	rec, ready, err := o.completedRecord(ctx, id, model.OperationFix)
	if err != nil || !ready {
		return nil, false, err
	}

	since := o.Now().Add(-o.Window)
	facts, err := o.Facts.RemediationFactsSince(ctx, rec.ServerIDs, rec.ItemCodes, since)
	if err != nil {
		return nil, false, fmt.Errorf("load remediation facts: %w", err)
	}
	// the latest attempt per targeted pair counts
	latest := map[model.Pair]model.RemediationFact{}
	for _, f := range facts {
		if !targeted(rec, f.Pair()) {
			continue
		}
		if prev, ok := latest[f.Pair()]; !ok || !f.ActionAt.Before(prev.ActionAt) {
			latest[f.Pair()] = f
		}
	}

	servers, err := o.Inventory.ServersByID(ctx, rec.ServerIDs)
	if err != nil {
		return nil, false, fmt.Errorf("load servers: %w", err)
	}
	titles := map[string]string{}
	for _, code := range rec.ItemCodes {
		item, err := o.Catalog.Item(ctx, code)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, false, fmt.Errorf("catalog %s: %w", code, err)
		}
		titles[code] = item.Title
	}

	pairs := make([]model.Pair, 0, len(latest))
	for p := range latest {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].ServerID != pairs[j].ServerID {
			return pairs[i].ServerID < pairs[j].ServerID
		}
		return pairs[i].ItemCode < pairs[j].ItemCode
	})

	out := &FixResult{JobID: rec.ID, TotalItems: rec.TotalItems(), Servers: []ServerResult{}, Items: []ItemResult{}}
	byServer := map[string]*ServerResult{}
	for _, p := range pairs {
		f := latest[p]
		item := ItemResult{
			ServerID:      f.ServerID,
			ItemCode:      f.ItemCode,
			Title:         titles[f.ItemCode],
			Success:       f.Success,
			FailureReason: f.FailureReason,
			Evidence:      f.Evidence,
			ActionAt:      f.ActionAt,
		}
		out.Items = append(out.Items, item)
		srv, ok := byServer[f.ServerID]
		if !ok {
			out.Servers = append(out.Servers, ServerResult{ServerID: f.ServerID, Hostname: servers[f.ServerID].Hostname})
			srv = &out.Servers[len(out.Servers)-1]
			byServer[f.ServerID] = srv
		}
		srv.Items = append(srv.Items, item)
		srv.Total++
		if f.Success {
			srv.Success++
			out.Success++
		} else {
			srv.Fail++
			out.Fail++
		}
	}

	after := out.TotalItems - out.Success
	if after < 0 {
		after = 0
	}
	out.Improvement = Improvement{Before: out.TotalItems, After: after, Improved: out.Success}
	return out, true, nil
}

func targeted(rec model.JobRecord, p model.Pair) bool {
	for _, code := range rec.Targets[p.ServerID] {
		if code == p.ItemCode {
			return true
		}
	}
	return false
}

type ScanResult struct {
	JobID         string            `json:"job_id"`
	ScanType      string            `json:"scan_type"`
	TotalServers  int               `json:"total_servers"`
	Vulnerable    int               `json:"vulnerable_count"`
	Secure        int               `json:"secure_count"`
	RiskPercent   int               `json:"risk_percentage"`
	Servers       []scoring.Summary `json:"servers"`
	TopVulnerable *scoring.Summary  `json:"top_vulnerable_server,omitempty"`
}

// ScanResult summarizes the facts a completed scan job produced, judged by
// observations inside the reconciliation window.
func (o *Orchestrator) ScanResult(ctx context.Context, id string) (*ScanResult, bool, error) {
	rec, ready, err := o.completedRecord(ctx, id, model.OperationScan)
	if err != nil || !ready {
		return nil, false, err
	}
	found, err := o.Inventory.ServersByID(ctx, rec.ServerIDs)
	if err != nil {
		return nil, false, fmt.Errorf("load servers: %w", err)
	}
	servers := make([]model.Server, 0, len(rec.ServerIDs))
	for _, sid := range rec.ServerIDs {
		if srv, ok := found[sid]; ok {
			servers = append(servers, srv)
		}
	}
	sums, err := o.Scores.Summaries(ctx, servers, o.Now().Add(-o.Window))
	if err != nil {
		return nil, false, fmt.Errorf("score servers: %w", err)
	}

	out := &ScanResult{JobID: rec.ID, ScanType: rec.ScanType, TotalServers: len(rec.ServerIDs), Servers: sums}
	for i := range sums {
		out.Vulnerable += sums[i].Fail
		out.Secure += sums[i].Pass
		if sums[i].Fail > 0 && (out.TopVulnerable == nil || sums[i].Fail > out.TopVulnerable.Fail) {
			out.TopVulnerable = &sums[i]
		}
	}
	if total := out.Vulnerable + out.Secure; total > 0 {
		out.RiskPercent = out.Vulnerable * 100 / total
	}
	return out, true, nil
}
