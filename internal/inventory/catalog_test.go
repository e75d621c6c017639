package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/remediation-reconciler/internal/apperr"
	"github.com/yourorg/remediation-reconciler/internal/model"
)

type countingSource struct {
	items map[string]model.ComplianceItem
	calls int
}

func (s *countingSource) Item(_ context.Context, code string) (model.ComplianceItem, error) {
	s.calls++
	it, ok := s.items[code]
	if !ok {
		return model.ComplianceItem{}, apperr.NotFound("item %q", code)
	}
	return it, nil
}

func (s *countingSource) Items(context.Context) ([]model.ComplianceItem, error) {
	s.calls++
	var out []model.ComplianceItem
	for _, it := range s.items {
		out = append(out, it)
	}
	return out, nil
}

func TestCachedCatalogHits(t *testing.T) {
	src := &countingSource{items: map[string]model.ComplianceItem{
		"U-01": {Code: "U-01", Severity: model.SeverityHigh, AutoFix: true},
	}}
	cat, err := NewCachedCatalog(src, 8)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		it, err := cat.Item(context.Background(), "U-01")
		require.NoError(t, err)
		assert.Equal(t, model.SeverityHigh, it.Severity)
	}
	assert.Equal(t, 1, src.calls)
}

func TestCachedCatalogMissIsNotCached(t *testing.T) {
	src := &countingSource{items: map[string]model.ComplianceItem{}}
	cat, err := NewCachedCatalog(src, 8)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := cat.Item(context.Background(), "U-99")
		assert.True(t, errors.Is(err, apperr.ErrNotFound))
	}
	assert.Equal(t, 2, src.calls)
}

func TestCachedCatalogItemsWarmsCache(t *testing.T) {
	src := &countingSource{items: map[string]model.ComplianceItem{
		"U-01": {Code: "U-01"},
		"D-01": {Code: "D-01"},
	}}
	cat, err := NewCachedCatalog(src, 8)
	require.NoError(t, err)

	items, err := cat.Items(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = cat.Item(context.Background(), "D-01")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestNewCachedCatalogRejectsBadSize(t *testing.T) {
	_, err := NewCachedCatalog(&countingSource{}, 0)
	assert.Error(t, err)
}
