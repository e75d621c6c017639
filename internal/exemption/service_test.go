package exemption

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/remediation-reconciler/internal/apperr"
	"github.com/yourorg/remediation-reconciler/internal/model"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

// memStore mirrors db.Store: a create is rejected while the pair has an
// exemption active at now.
type memStore struct {
	next int64
	rows []model.Exemption
}

func (m *memStore) CreateExemption(_ context.Context, e model.Exemption, now time.Time) (int64, error) {
	for _, r := range m.rows {
		if r.ServerID == e.ServerID && r.ItemCode == e.ItemCode && r.ActiveAt(now) {
			return 0, apperr.Conflict("active exemption exists for %s/%s", e.ServerID, e.ItemCode)
		}
	}
	m.next++
	e.ID = m.next
	m.rows = append(m.rows, e)
	return e.ID, nil
}

func (m *memStore) DeleteExemption(_ context.Context, id int64) error {
	for i, r := range m.rows {
		if r.ID == id {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return apperr.NotFound("exemption %d", id)
}

func (m *memStore) Exemptions(_ context.Context, ids []string) ([]model.Exemption, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Exemption
	for _, r := range m.rows {
		if want[r.ServerID] {
			out = append(out, r)
		}
	}
	return out, nil
}

type inventory struct{ servers []model.Server }

func (v inventory) ServersByID(_ context.Context, ids []string) (map[string]model.Server, error) {
	out := map[string]model.Server{}
	for _, s := range v.servers {
		for _, id := range ids {
			if s.ID == id {
				out[id] = s
			}
		}
	}
	return out, nil
}

func (v inventory) ServersByTenant(_ context.Context, tenant string) ([]model.Server, error) {
	var out []model.Server
	for _, s := range v.servers {
		if s.Active && s.Tenant == tenant {
			out = append(out, s)
		}
	}
	return out, nil
}

type catalog map[string]model.ComplianceItem

func (c catalog) Item(_ context.Context, code string) (model.ComplianceItem, error) {
	it, ok := c[code]
	if !ok {
		return it, apperr.NotFound("item %s", code)
	}
	return it, nil
}

func newService() (*Service, *memStore) {
	st := &memStore{}
	inv := inventory{servers: []model.Server{
		{ID: "S1", Tenant: "NAVER", Hostname: "web-1", Active: true},
		{ID: "S2", Tenant: "NAVER", Hostname: "web-2", Active: true},
		{ID: "S3", Tenant: "KAKAO", Hostname: "other", Active: true},
	}}
	cat := catalog{"U-02": {Code: "U-02", Title: "password complexity", Severity: model.SeverityHigh}}
	log, _ := logtest.NewNullLogger()
	s := New(st, inv, cat, log)
	s.Now = func() time.Time { return t0 }
	return s, st
}

func TestCreate(t *testing.T) {
	s, _ := newService()
	ctx := context.Background()
	until := t0.Add(24 * time.Hour)

	id, err := s.Create(ctx, "NAVER", "S1", "U-02", "vendor patch pending", until)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	_, err = s.Create(ctx, "NAVER", "S1", "U-02", "again", until)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	_, err = s.Create(ctx, "NAVER", "S3", "U-02", "other tenant", until)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = s.Create(ctx, "NAVER", "S2", "U-99", "no such item", until)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = s.Create(ctx, "NAVER", "S2", "U-02", "  ", until)
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))
	_, err = s.Create(ctx, "NAVER", "S2", "U-02", strings.Repeat("x", 501), until)
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))

	_, err = s.Create(ctx, "NAVER", "S2", "U-02", strings.Repeat("x", 500), until)
	assert.NoError(t, err)
}

func TestCreateAfterExpiry(t *testing.T) {
	s, _ := newService()
	ctx := context.Background()

	_, err := s.Create(ctx, "NAVER", "S1", "U-02", "short", t0.Add(time.Hour))
	require.NoError(t, err)
	s.Now = func() time.Time { return t0.Add(time.Hour) }
	_, err = s.Create(ctx, "NAVER", "S1", "U-02", "renewed", t0.Add(48*time.Hour))
	assert.NoError(t, err)
}

func TestCreateBulk(t *testing.T) {
	s, _ := newService()
	ctx := context.Background()
	until := t0.Add(24 * time.Hour)

	_, err := s.Create(ctx, "NAVER", "S1", "U-02", "existing", until)
	require.NoError(t, err)

	res, err := s.CreateBulk(ctx, "NAVER", "U-02", "fleet wide", until, nil)
	require.NoError(t, err)
	assert.Equal(t, BulkResult{Created: 1, Skipped: 1, Total: 2}, res)

	_, err = s.CreateBulk(ctx, "NAVER", "U-02", "none", until, []string{"S3"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestListAndDelete(t *testing.T) {
	s, st := newService()
	ctx := context.Background()

	_, err := s.Create(ctx, "NAVER", "S1", "U-02", "lapsed", t0.Add(time.Minute))
	require.NoError(t, err)
	id, err := s.Create(ctx, "NAVER", "S2", "U-02", "current", t0.Add(48*time.Hour))
	require.NoError(t, err)
	_, err = s.Create(ctx, "KAKAO", "S3", "U-02", "elsewhere", t0.Add(48*time.Hour))
	require.NoError(t, err)

	s.Now = func() time.Time { return t0.Add(time.Hour) }
	l, err := s.List(ctx, "NAVER")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Total)
	assert.Equal(t, 1, l.Active)
	assert.Equal(t, 1, l.Expired)
	require.Len(t, l.Items, 2)
	assert.Equal(t, "S2", l.Items[0].ServerID)
	assert.Equal(t, "password complexity", l.Items[0].ItemTitle)
	assert.Equal(t, "web-2", l.Items[0].Hostname)

	require.NoError(t, s.Delete(ctx, id))
	assert.Len(t, st.rows, 2)
	assert.True(t, errors.Is(s.Delete(ctx, id), apperr.ErrNotFound))
}
