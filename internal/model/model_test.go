package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeverityWeight(t *testing.T) {
	assert.Equal(t, 3, SeverityHigh.Weight())
	assert.Equal(t, 2, SeverityMedium.Weight())
	assert.Equal(t, 1, SeverityLow.Weight())
	assert.Equal(t, 1, Severity("CRITICAL-ish").Weight())
}

func TestParseSeverity(t *testing.T) {
	for raw, want := range map[string]Severity{
		"상":      SeverityHigh,
		"중":      SeverityMedium,
		"하":      SeverityLow,
		" high ": SeverityHigh,
		"Medium": SeverityMedium,
		"low":    SeverityLow,
	} {
		assert.Equal(t, want, ParseSeverity(raw), raw)
	}
}

func TestExemptionActiveAt(t *testing.T) {
	expiry := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	e := Exemption{ExpiresAt: expiry}

	assert.True(t, e.ActiveAt(expiry.Add(-time.Second)))
	assert.False(t, e.ActiveAt(expiry))
	assert.False(t, e.ActiveAt(expiry.Add(time.Hour)))
}

func TestDefaultClassifier(t *testing.T) {
	for code, want := range map[string]Category{
		"U-01":    CategoryOS,
		"D-03":    CategoryDB,
		"PG-D-01": CategoryDB,
		"MY-D-12": CategoryDB,
	} {
		got, ok := DefaultClassifier.Classify(code)
		assert.True(t, ok, code)
		assert.Equal(t, want, got, code)
	}
	_, ok := DefaultClassifier.Classify("W-01")
	assert.False(t, ok)
}

func TestJobRecordTotalItems(t *testing.T) {
	rec := JobRecord{Targets: map[string][]string{"S1": {"U-01", "D-01"}, "S2": {"U-01"}}}
	assert.Equal(t, 3, rec.TotalItems())
}
