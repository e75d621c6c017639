// Package exemption administers time-bound exemptions. Scoring reads them as
// an overlay; nothing here touches stored facts.
package exemption

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/remediation-reconciler/internal/apperr"
	"github.com/yourorg/remediation-reconciler/internal/model"
)

const maxReason = 500

type Store interface {
	CreateExemption(ctx context.Context, e model.Exemption, now time.Time) (int64, error)
	DeleteExemption(ctx context.Context, id int64) error
	Exemptions(ctx context.Context, serverIDs []string) ([]model.Exemption, error)
}

type Inventory interface {
	ServersByID(ctx context.Context, ids []string) (map[string]model.Server, error)
	ServersByTenant(ctx context.Context, tenant string) ([]model.Server, error)
}

type Catalog interface {
	Item(ctx context.Context, code string) (model.ComplianceItem, error)
}

type Service struct {
	Store     Store
	Inventory Inventory
	Catalog   Catalog
	Now       func() time.Time
	Log       logrus.FieldLogger
}

func New(store Store, inv Inventory, catalog Catalog, log logrus.FieldLogger) *Service {
	return &Service{Store: store, Inventory: inv, Catalog: catalog, Now: time.Now, Log: log}
}

func validate(reason string, expires time.Time) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperr.InvalidRequest("reason is required")
	}
	if len([]rune(reason)) > maxReason {
		return apperr.InvalidRequest("reason is longer than %d characters", maxReason)
	}
	if expires.IsZero() {
		return apperr.InvalidRequest("expiry is required")
	}
	return nil
}

func (s *Service) item(ctx context.Context, code string) (model.ComplianceItem, error) {
	it, err := s.Catalog.Item(ctx, code)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return it, fmt.Errorf("catalog %s: %w", code, err)
	}
	return it, err
}

// Create exempts one pair until expires. The server must belong to tenant
// unless tenant is empty.
func (s *Service) Create(ctx context.Context, tenant, serverID, code, reason string, expires time.Time) (int64, error) {
	found, err := s.Inventory.ServersByID(ctx, []string{serverID})
	if err != nil {
		return 0, fmt.Errorf("load server: %w", err)
	}
	srv, ok := found[serverID]
	if !ok || (tenant != "" && srv.Tenant != tenant) {
		return 0, apperr.NotFound("server %q", serverID)
	}
	if _, err := s.item(ctx, code); err != nil {
		return 0, err
	}
	if err := validate(reason, expires); err != nil {
		return 0, err
	}
	id, err := s.Store.CreateExemption(ctx, model.Exemption{
		ServerID:  serverID,
		ItemCode:  code,
		Reason:    strings.TrimSpace(reason),
		ExpiresAt: expires,
	}, s.Now())
	if err != nil {
		return 0, err
	}
	s.Log.Infof("exemption %d: %s/%s until %s", id, serverID, code, expires.Format(time.RFC3339))
	return id, nil
}

type BulkResult struct {
	Created int `json:"created_count"`
	Skipped int `json:"skipped_count"`
	Total   int `json:"total_servers"`
}

// CreateBulk exempts code on the given servers, or on every active server of
// the tenant when serverIDs is empty. Pairs that already have an active
// exemption are skipped.
func (s *Service) CreateBulk(ctx context.Context, tenant, code, reason string, expires time.Time, serverIDs []string) (BulkResult, error) {
	if _, err := s.item(ctx, code); err != nil {
		return BulkResult{}, err
	}
	if err := validate(reason, expires); err != nil {
		return BulkResult{}, err
	}
	servers, err := s.Inventory.ServersByTenant(ctx, tenant)
	if err != nil {
		return BulkResult{}, fmt.Errorf("list servers: %w", err)
	}
	if len(serverIDs) > 0 {
		want := map[string]bool{}
		for _, id := range serverIDs {
			want[id] = true
		}
		kept := servers[:0:0]
		for _, srv := range servers {
			if want[srv.ID] {
				kept = append(kept, srv)
			}
		}
		servers = kept
	}
	if len(servers) == 0 {
		return BulkResult{}, apperr.NotFound("no active servers in %s", tenant)
	}

	out := BulkResult{Total: len(servers)}
	now := s.Now()
	for _, srv := range servers {
		_, err := s.Store.CreateExemption(ctx, model.Exemption{
			ServerID:  srv.ID,
			ItemCode:  code,
			Reason:    strings.TrimSpace(reason),
			ExpiresAt: expires,
		}, now)
		switch {
		case errors.Is(err, apperr.ErrConflict):
			out.Skipped++
		case err != nil:
			return out, fmt.Errorf("exempt %s/%s: %w", srv.ID, code, err)
		default:
			out.Created++
		}
	}
	s.Log.Infof("exemption bulk %s: created=%d skipped=%d", code, out.Created, out.Skipped)
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.Store.DeleteExemption(ctx, id); err != nil {
		return err
	}
	s.Log.Infof("exemption %d: deleted", id)
	return nil
}

type Entry struct {
	model.Exemption
	Hostname  string         `json:"hostname"`
	IPAddress string         `json:"ip_address"`
	ItemTitle string         `json:"item_title"`
	Severity  model.Severity `json:"severity"`
	Active    bool           `json:"is_active"`
}

type Listing struct {
	Total   int     `json:"total"`
	Active  int     `json:"active_count"`
	Expired int     `json:"expired_count"`
	Items   []Entry `json:"items"`
}

// List returns every exemption of the tenant's servers, latest expiry first.
func (s *Service) List(ctx context.Context, tenant string) (Listing, error) {
	out := Listing{Items: []Entry{}}
	servers, err := s.Inventory.ServersByTenant(ctx, tenant)
	if err != nil {
		return out, fmt.Errorf("list servers: %w", err)
	}
	byID := make(map[string]model.Server, len(servers))
	ids := make([]string, 0, len(servers))
	for _, srv := range servers {
		byID[srv.ID] = srv
		ids = append(ids, srv.ID)
	}
	if len(ids) == 0 {
		return out, nil
	}
	xs, err := s.Store.Exemptions(ctx, ids)
	if err != nil {
		return out, fmt.Errorf("load exemptions: %w", err)
	}

	now := s.Now()
	for _, e := range xs {
		it, err := s.item(ctx, e.ItemCode)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return out, err
		}
		entry := Entry{
			Exemption: e,
			Hostname:  byID[e.ServerID].Hostname,
			IPAddress: byID[e.ServerID].IPAddress,
			ItemTitle: it.Title,
			Severity:  it.Severity,
			Active:    e.ActiveAt(now),
		}
		if entry.Active {
			out.Active++
		} else {
			out.Expired++
		}
		out.Items = append(out.Items, entry)
	}
	sort.SliceStable(out.Items, func(i, j int) bool {
		return out.Items[i].ExpiresAt.After(out.Items[j].ExpiresAt)
	})
	out.Total = len(out.Items)
	return out, nil
}
