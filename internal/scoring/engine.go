package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/yourorg/remediation-reconciler/internal/apperr"
	"github.com/yourorg/remediation-reconciler/internal/model"
)

type FactReader interface {
	ScanFacts(ctx context.Context, serverIDs []string) ([]model.ScanFact, error)
}

type ExemptionReader interface {
	Exemptions(ctx context.Context, serverIDs []string) ([]model.Exemption, error)
}

type Catalog interface {
	Items(ctx context.Context) ([]model.ComplianceItem, error)
}

type ServerReader interface {
	ServersByID(ctx context.Context, ids []string) (map[string]model.Server, error)
	ServersByTenant(ctx context.Context, tenant string) ([]model.Server, error)
}

// Engine reads facts, exemptions and the catalog and scores servers at the
// time returned by Now.
type Engine struct {
	Facts      FactReader
	Exemptions ExemptionReader
	Catalog    Catalog
	Servers    ServerReader
	Classifier model.Classifier
	Applies    Applicable
	Now        func() time.Time
}

func NewEngine(facts FactReader, exemptions ExemptionReader, catalog Catalog, servers ServerReader) *Engine {
	return &Engine{
		Facts:      facts,
		Exemptions: exemptions,
		Catalog:    catalog,
		Servers:    servers,
		Classifier: model.DefaultClassifier,
		Applies:    DefaultApplicable,
		Now:        time.Now,
	}
}

// Summary is one server's score and effective outcome counts.
type Summary struct {
	ServerID string  `json:"server_id"`
	Hostname string  `json:"hostname"`
	Score    float64 `json:"score"`
	Pass     int     `json:"pass"`
	Fail     int     `json:"fail"`
	Exempt   int     `json:"exempt"`
	Unmapped int     `json:"unmapped"`
	Total    int     `json:"total"`
}

type snapshot struct {
	now     time.Time
	catalog []model.ComplianceItem
	byCode  map[string]model.ComplianceItem
	perSrv  map[string][]Assessment
}

func (e *Engine) load(ctx context.Context, servers []model.Server, since time.Time) (*snapshot, error) {
	ids := make([]string, 0, len(servers))
	for _, s := range servers {
		ids = append(ids, s.ID)
	}
	facts, err := e.Facts.ScanFacts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	exemptions, err := e.Exemptions.Exemptions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load exemptions: %w", err)
	}
	catalog, err := e.Catalog.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	snap := &snapshot{
		now:     e.Now(),
		catalog: catalog,
		byCode:  make(map[string]model.ComplianceItem, len(catalog)),
		perSrv:  map[string][]Assessment{},
	}
	for _, it := range catalog {
		snap.byCode[it.Code] = it
	}
	if !since.IsZero() {
		kept := facts[:0]
		for _, f := range facts {
			if !f.ObservedAt.Before(since) {
				kept = append(kept, f)
			}
		}
		facts = kept
	}
	x := IndexExemptions(exemptions)
	for _, a := range Assess(facts, snap.byCode, x, snap.now) {
		snap.perSrv[a.Fact.ServerID] = append(snap.perSrv[a.Fact.ServerID], a)
	}
	return snap, nil
}

func summarize(srv model.Server, as []Assessment) Summary {
	s := Summary{ServerID: srv.ID, Hostname: srv.Hostname, Score: Score(as), Total: len(as)}
	for _, a := range as {
		switch {
		case a.Effective == model.StatusCompliant:
			s.Pass++
			if a.Exempt {
				s.Exempt++
			}
		case a.Effective == model.StatusUnknown:
			s.Unmapped++
			s.Fail++
		default:
			s.Fail++
		}
	}
	return s
}

// Summaries scores servers in the given order. A non-zero since ignores facts
// observed before it.
func (e *Engine) Summaries(ctx context.Context, servers []model.Server, since time.Time) ([]Summary, error) {
	if len(servers) == 0 {
		return nil, nil
	}
	snap, err := e.load(ctx, servers, since)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(servers))
	for _, srv := range servers {
		out = append(out, summarize(srv, snap.perSrv[srv.ID]))
	}
	return out, nil
}

func (e *Engine) server(ctx context.Context, id string) (model.Server, error) {
	found, err := e.Servers.ServersByID(ctx, []string{id})
	if err != nil {
		return model.Server{}, err
	}
	srv, ok := found[id]
	if !ok {
		return model.Server{}, apperr.NotFound("server %q", id)
	}
	return srv, nil
}

func (e *Engine) ServerScore(ctx context.Context, serverID string) (Summary, error) {
	srv, err := e.server(ctx, serverID)
	if err != nil {
		return Summary{}, err
	}
	out, err := e.Summaries(ctx, []model.Server{srv}, time.Time{})
	if err != nil {
		return Summary{}, err
	}
	return out[0], nil
}

// TenantScores scores every active server of the tenant.
func (e *Engine) TenantScores(ctx context.Context, tenant string) ([]Summary, error) {
	servers, err := e.Servers.ServersByTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return e.Summaries(ctx, servers, time.Time{})
}

func (e *Engine) rollup(ctx context.Context, servers []model.Server) (Rollup, error) {
	if len(servers) == 0 {
		return newRollup(), nil
	}
	snap, err := e.load(ctx, servers, time.Time{})
	if err != nil {
		return Rollup{}, err
	}
	var as []Assessment
	for _, srv := range servers {
		as = append(as, snap.perSrv[srv.ID]...)
	}
	return BuildRollup(servers, as, snap.catalog, e.Classifier, e.Applies), nil
}

func (e *Engine) ServerRollup(ctx context.Context, serverID string) (Rollup, error) {
	srv, err := e.server(ctx, serverID)
	if err != nil {
		return Rollup{}, err
	}
	return e.rollup(ctx, []model.Server{srv})
}

func (e *Engine) TenantRollup(ctx context.Context, tenant string) (Rollup, error) {
	servers, err := e.Servers.ServersByTenant(ctx, tenant)
	if err != nil {
		return Rollup{}, err
	}
	return e.rollup(ctx, servers)
}
