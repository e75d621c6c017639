// Package orchestrator splits fix and scan requests by target category,
// submits them to the execution service and combines the sub-jobs back into
// one job for progress and result reads.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/remediation-reconciler/internal/apperr"
	"github.com/yourorg/remediation-reconciler/internal/execsvc"
	"github.com/yourorg/remediation-reconciler/internal/model"
	"github.com/yourorg/remediation-reconciler/internal/scoring"
)

type Dispatcher interface {
	Submit(ctx context.Context, kind string, req execsvc.Request) (string, error)
	Poll(ctx context.Context, id string) (execsvc.State, error)
}

type Inventory interface {
	ServersByID(ctx context.Context, ids []string) (map[string]model.Server, error)
	ServersByTenant(ctx context.Context, tenant string) ([]model.Server, error)
}

type Catalog interface {
	Item(ctx context.Context, code string) (model.ComplianceItem, error)
}

type Facts interface {
	ScanFacts(ctx context.Context, serverIDs []string) ([]model.ScanFact, error)
	RemediationFactsSince(ctx context.Context, serverIDs, codes []string, since time.Time) ([]model.RemediationFact, error)
}

type Scorer interface {
	Summaries(ctx context.Context, servers []model.Server, since time.Time) ([]scoring.Summary, error)
}

type Orchestrator struct {
	Exec       Dispatcher
	Inventory  Inventory
	Catalog    Catalog
	Facts      Facts
	Jobs       JobStore
	Scores     Scorer
	Classifier model.Classifier
	// Window bounds how far back result reads look for facts.
	Window time.Duration
	Now    func() time.Time
	Log    logrus.FieldLogger
}

func New(exec Dispatcher, inv Inventory, catalog Catalog, facts Facts, jobs JobStore, scores Scorer, log logrus.FieldLogger) *Orchestrator {
	return &Orchestrator{
		Exec:       exec,
		Inventory:  inv,
		Catalog:    catalog,
		Facts:      facts,
		Jobs:       jobs,
		Scores:     scores,
		Classifier: model.DefaultClassifier,
		Window:     10 * time.Minute,
		Now:        time.Now,
		Log:        log,
	}
}

// AffectedServer is one server that a fix for the requested codes would touch.
type AffectedServer struct {
	ServerID  string   `json:"server_id"`
	Hostname  string   `json:"hostname"`
	IPAddress string   `json:"ip_address"`
	OSType    string   `json:"os_type"`
	ItemCodes []string `json:"vulnerable_items"`
	Count     int      `json:"vulnerable_count"`
}

type Affected struct {
	ItemCodes    []string         `json:"item_codes"`
	Servers      []AffectedServer `json:"servers"`
	TotalServers int              `json:"total_servers"`
	TotalFixable int              `json:"total_fixable"`
}

// AffectedTargets previews which active servers of the tenant currently fail
// an auto-remediable item among codes. It never creates a job.
func (o *Orchestrator) AffectedTargets(ctx context.Context, codes []string, tenant string) (*Affected, error) {
	codes = dedupe(codes)
	if len(codes) == 0 {
		return nil, apperr.InvalidRequest("no item codes given")
	}
	fixable := map[string]bool{}
	for _, code := range codes {
		item, err := o.Catalog.Item(ctx, code)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", code, err)
		}
		fixable[code] = item.AutoFix
	}

	servers, err := o.Inventory.ServersByTenant(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	perServer, err := o.noncompliant(ctx, servers, func(code string) bool { return fixable[code] })
	if err != nil {
		return nil, err
	}

	out := &Affected{ItemCodes: codes, Servers: []AffectedServer{}}
	for _, srv := range servers {
		hit := perServer[srv.ID]
		if len(hit) == 0 {
			continue
		}
		out.Servers = append(out.Servers, AffectedServer{
			ServerID:  srv.ID,
			Hostname:  srv.Hostname,
			IPAddress: srv.IPAddress,
			OSType:    srv.OSType,
			ItemCodes: hit,
			Count:     len(hit),
		})
		out.TotalFixable += len(hit)
	}
	sort.Slice(out.Servers, func(i, j int) bool { return out.Servers[i].ServerID < out.Servers[j].ServerID })
	out.TotalServers = len(out.Servers)
	return out, nil
}

// noncompliant returns, per server, the sorted codes accepted by keep whose
// current fact is NONCOMPLIANT.
func (o *Orchestrator) noncompliant(ctx context.Context, servers []model.Server, keep func(string) bool) (map[string][]string, error) {
	ids := make([]string, 0, len(servers))
	for _, s := range servers {
		ids = append(ids, s.ID)
	}
	facts, err := o.Facts.ScanFacts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	out := map[string][]string{}
	for _, f := range facts {
		if f.Status == model.StatusNoncompliant && keep(f.ItemCode) {
			out[f.ServerID] = append(out[f.ServerID], f.ItemCode)
		}
	}
	for id := range out {
		out[id] = dedupe(out[id])
		sort.Strings(out[id])
	}
	return out, nil
}

// activeServers loads ids in request order and fails on the first one that
// is missing or inactive.
func (o *Orchestrator) activeServers(ctx context.Context, ids []string) ([]model.Server, error) {
	found, err := o.Inventory.ServersByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load servers: %w", err)
	}
	out := make([]model.Server, 0, len(ids))
	for _, id := range ids {
		srv, ok := found[id]
		if !ok || !srv.Active {
			return nil, apperr.NotFound("server %q", id)
		}
		out = append(out, srv)
	}
	return out, nil
}

// StartFix remediates codes on one server. It returns the primary job id and
// the number of items that will actually be remediated.
func (o *Orchestrator) StartFix(ctx context.Context, serverID string, codes []string) (string, int, error) {
	if serverID == "" {
		return "", 0, apperr.InvalidRequest("no server given")
	}
	return o.StartBatchFix(ctx, []string{serverID}, codes)
}

// StartBatchFix remediates codes on several servers at once. Only pairs that
// are NONCOMPLIANT right now are submitted.
func (o *Orchestrator) StartBatchFix(ctx context.Context, serverIDs, codes []string) (string, int, error) {
	serverIDs, codes = dedupe(serverIDs), dedupe(codes)
	if len(serverIDs) == 0 {
		return "", 0, apperr.InvalidRequest("no servers given")
	}
	if len(codes) == 0 {
		return "", 0, apperr.InvalidRequest("no item codes given")
	}
	servers, err := o.activeServers(ctx, serverIDs)
	if err != nil {
		return "", 0, err
	}

	requested := toSet(codes)
	targets, err := o.noncompliant(ctx, servers, func(code string) bool {
		if _, ok := requested[code]; !ok {
			return false
		}
		_, ok := o.Classifier.Classify(code)
		return ok
	})
	if err != nil {
		return "", 0, err
	}
	if len(targets) == 0 {
		return "", 0, apperr.NothingToDo("every requested item is already compliant")
	}

	var effectiveServers []string
	for _, id := range serverIDs {
		if len(targets[id]) > 0 {
			effectiveServers = append(effectiveServers, id)
		}
	}
	// each category's sub-job only carries the servers that failed one of its codes
	partitions := map[model.Category][]string{}
	partServers := map[model.Category][]string{}
	var allCodes []string
	for _, id := range effectiveServers {
		seen := map[model.Category]bool{}
		for _, code := range targets[id] {
			cat, _ := o.Classifier.Classify(code)
			allCodes = append(allCodes, code)
			partitions[cat] = append(partitions[cat], code)
			if !seen[cat] {
				seen[cat] = true
				partServers[cat] = append(partServers[cat], id)
			}
		}
	}
	allCodes = dedupe(allCodes)
	sort.Strings(allCodes)

	var plan []submission
	for _, p := range []struct {
		cat  model.Category
		kind string
	}{{model.CategoryOS, execsvc.KindFix}, {model.CategoryDB, execsvc.KindFixDB}} {
		c := dedupe(partitions[p.cat])
		if len(c) == 0 {
			continue
		}
		sort.Strings(c)
		plan = append(plan, submission{kind: p.kind, category: p.cat, req: execsvc.Request{ServerIDs: partServers[p.cat], ItemCodes: c}})
	}

	rec := model.JobRecord{
		Operation: model.OperationFix,
		ServerIDs: effectiveServers,
		ItemCodes: allCodes,
		Targets:   targets,
	}
	id, err := o.dispatch(ctx, plan, rec)
	if err != nil {
		return "", 0, err
	}
	return id, rec.TotalItems(), nil
}

// Scan types accepted by StartScan.
const (
	ScanAll = "scan-all"
	ScanOS  = "scan"
	ScanDB  = "scan-db"
)

// StartScan submits a full check of the given servers. It returns the primary
// job id and the number of servers scanned.
func (o *Orchestrator) StartScan(ctx context.Context, serverIDs []string, scanType string) (string, int, error) {
	serverIDs = dedupe(serverIDs)
	if scanType == "" {
		scanType = ScanAll
	}
	if scanType != ScanAll && scanType != ScanOS && scanType != ScanDB {
		return "", 0, apperr.InvalidRequest("unknown scan type %q", scanType)
	}
	if len(serverIDs) == 0 {
		return "", 0, apperr.InvalidRequest("no servers given")
	}
	servers, err := o.activeServers(ctx, serverIDs)
	if err != nil {
		return "", 0, err
	}

	var dbServers []string
	for _, s := range servers {
		if s.DBType != "" {
			dbServers = append(dbServers, s.ID)
		}
	}
	var plan []submission
	if scanType != ScanDB {
		plan = append(plan, submission{kind: execsvc.KindScan, category: model.CategoryOS, req: execsvc.Request{ServerIDs: serverIDs}})
	}
	if scanType != ScanOS && len(dbServers) > 0 {
		plan = append(plan, submission{kind: execsvc.KindScanDB, category: model.CategoryDB, req: execsvc.Request{ServerIDs: dbServers}})
	}
	if len(plan) == 0 {
		return "", 0, apperr.NothingToDo("none of the servers has a database to scan")
	}

	rec := model.JobRecord{
		Operation: model.OperationScan,
		ScanType:  scanType,
		ServerIDs: serverIDs,
	}
	id, err := o.dispatch(ctx, plan, rec)
	if err != nil {
		return "", 0, err
	}
	return id, len(serverIDs), nil
}

type submission struct {
	kind     string
	category model.Category
	req      execsvc.Request
}

// dispatch submits every planned sub-job and records the job only when all
// of them were accepted. The first sub-job id becomes the job id.
func (o *Orchestrator) dispatch(ctx context.Context, plan []submission, rec model.JobRecord) (string, error) {
	for _, sub := range plan {
		id, err := o.Exec.Submit(ctx, sub.kind, sub.req)
		if err != nil {
			if len(rec.SubJobs) > 0 {
				o.Log.Warnf("job %s: %s submission failed, sub-job(s) %v keep running unrecorded", rec.SubJobs[0].ID, sub.kind, subJobIDs(rec.SubJobs))
			}
			return "", apperr.Wrap(apperr.KindDispatchFailed, err, "submit %s", sub.kind)
		}
		rec.SubJobs = append(rec.SubJobs, model.SubJob{ID: id, Kind: sub.kind, Category: sub.category})
	}
	rec.ID = rec.SubJobs[0].ID
	rec.CreatedAt = o.Now()
	if err := o.Jobs.PutJob(ctx, rec); err != nil {
		return "", fmt.Errorf("record job %s: %w", rec.ID, err)
	}
	o.Log.WithFields(logrus.Fields{"operation": rec.Operation, "servers": len(rec.ServerIDs)}).
		Infof("job %s: dispatched %v", rec.ID, subJobIDs(rec.SubJobs))
	return rec.ID, nil
}

func subJobIDs(subs []model.SubJob) []string {
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.ID)
	}
	return out
}

func dedupe(vs []string) []string {
	seen := make(map[string]struct{}, len(vs))
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func toSet(vs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		out[v] = struct{}{}
	}
	return out
}
