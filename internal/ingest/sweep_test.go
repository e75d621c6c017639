package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/remediation-reconciler/internal/apperr"
	"github.com/yourorg/remediation-reconciler/internal/evidence"
	"github.com/yourorg/remediation-reconciler/internal/model"
)

type fakeRefs struct {
	servers map[string]struct{}
	items   map[string]struct{}
}

func newFakeRefs(servers, items []string) *fakeRefs {
	r := &fakeRefs{servers: map[string]struct{}{}, items: map[string]struct{}{}}
	for _, s := range servers {
		r.servers[s] = struct{}{}
	}
	for _, i := range items {
		r.items[i] = struct{}{}
	}
	return r
}

func (r *fakeRefs) ServerIDs(context.Context) (map[string]struct{}, error) { return r.servers, nil }
func (r *fakeRefs) ItemCodes(context.Context) (map[string]struct{}, error) { return r.items, nil }

type fakeFacts struct {
	scans   map[model.Pair]model.ScanFact
	upserts int
	fixes   []model.RemediationFact
	failOn  string
}

func newFakeFacts() *fakeFacts {
	return &fakeFacts{scans: map[model.Pair]model.ScanFact{}}
}

func (f *fakeFacts) UpsertScanFact(_ context.Context, fact model.ScanFact) error {
	if fact.ItemCode == f.failOn {
		return errors.New("constraint violated")
	}
	f.upserts++
	f.scans[fact.Pair()] = fact
	return nil
}

func (f *fakeFacts) AppendRemediationFact(_ context.Context, fact model.RemediationFact) error {
	f.fixes = append(f.fixes, fact)
	return nil
}

func writeArtifact(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

var sweepNow = time.Date(2026, 2, 10, 9, 41, 37, 0, time.UTC)

func newTestSweeper(kind Kind, dir string, refs Referents, facts FactWriter) *Sweeper {
	log, _ := logtest.NewNullLogger()
	s := NewSweeper(kind, evidence.NewDirStore(dir), refs, facts, log)
	s.Now = func() time.Time { return sweepNow }
	return s
}

func assertBalanced(t *testing.T, rep *Report) {
	t.Helper()
	assert.Equal(t, rep.Processed, rep.Succeeded+rep.Failed+rep.Superseded+rep.Unchanged+rep.SkippedTotal())
}

func TestSweepUpsertIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	refs := newFakeRefs([]string{"rocky9_1"}, []string{"U-01"})
	facts := newFakeFacts()

	writeArtifact(t, dir, "NAVER_rocky9_1_check_U01.json", `{"item_code":"U-01","status":"FAIL","raw_evidence":"PermitRootLogin yes"}`)
	rep, err := newTestSweeper(KindScan, dir, refs, facts).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)

	writeArtifact(t, dir, "NAVER_rocky9_1_check_U01.json", `{"item_code":"U-01","status":"PASS","raw_evidence":"PermitRootLogin no"}`)
	rep, err = newTestSweeper(KindScan, dir, refs, facts).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)

	require.Len(t, facts.scans, 1)
	got := facts.scans[model.Pair{ServerID: "rocky9_1", ItemCode: "U-01"}]
	assert.Equal(t, model.StatusCompliant, got.Status)
	assert.Equal(t, "PASS", got.RawStatus)
	assert.Equal(t, "PermitRootLogin no", got.Evidence)
	assertBalanced(t, rep)
}

func TestSweepRecoversMalformedArtifact(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "NAVER_S1_check_U02.json",
		`{"item_code":"U-02","status":"FAIL","scan_date":"2026-02-10 09:00:00","raw_evidence":"detail with a " quote"}`)
	facts := newFakeFacts()

	rep, err := newTestSweeper(KindScan, dir, newFakeRefs([]string{"S1"}, []string{"U-02"}), facts).Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 0, rep.Failed)
	assert.Equal(t, 1, rep.ByTier["regex"])
	got := facts.scans[model.Pair{ServerID: "S1", ItemCode: "U-02"}]
	assert.Equal(t, model.StatusNoncompliant, got.Status)
	assert.NotEmpty(t, got.Evidence)
	assertBalanced(t, rep)
}

func TestSweepReferentialGuard(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "NAVER_ghost_check_U01.json", `{"status":"PASS"}`)
	writeArtifact(t, dir, "NAVER_web_check_U99.json", `{"status":"PASS"}`)
	writeArtifact(t, dir, "NAVER_other_check_U01.json", `{"status":"PASS"}`)
	writeArtifact(t, dir, "NAVER_web_check_U01.json", `{"status":"양호"}`)
	facts := newFakeFacts()

	s := newTestSweeper(KindScan, dir, newFakeRefs([]string{"web", "other"}, []string{"U-01"}), facts).
		WithAllowList([]string{"web", "ghost"})
	rep, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, rep.Processed)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 1, rep.Skipped[SkipUnknownServer])
	assert.Equal(t, 1, rep.Skipped[SkipUnknownItem])
	assert.Equal(t, 1, rep.Skipped[SkipOutOfScope])
	assert.True(t, errors.Is(rep.Err(), apperr.ErrReferentialViolation))
	require.Len(t, facts.scans, 1)
	assert.Equal(t, model.StatusCompliant, facts.scans[model.Pair{ServerID: "web", ItemCode: "U-01"}].Status)
	assertBalanced(t, rep)
}

func TestSweepUnmappedAndSuperseded(t *testing.T) {
	dir := t.TempDir()
	// the body code overrides the name, so both artifacts describe web/U-03
	writeArtifact(t, dir, "NAVER_web_check_U03.json", `{"item_code":"U-03","status":"FAIL"}`)
	writeArtifact(t, dir, "NAVER_web_check_U3.json", `{"item_code":"U-03","status":"MAYBE"}`)
	facts := newFakeFacts()

	rep, err := newTestSweeper(KindScan, dir, newFakeRefs([]string{"web"}, []string{"U-03"}), facts).Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Superseded)
	assert.Equal(t, 1, rep.Unmapped)
	assert.Equal(t, 1, facts.upserts)
	got := facts.scans[model.Pair{ServerID: "web", ItemCode: "U-03"}]
	assert.Equal(t, model.StatusUnknown, got.Status)
	assert.Equal(t, "MAYBE", got.RawStatus)
	assertBalanced(t, rep)
}

func TestSweepStampsEveryRowWithOneMinute(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "NAVER_web_check_U01.json", `{"status":"PASS","scan_date":"2020-01-01 00:00:00"}`)
	writeArtifact(t, dir, "NAVER_web_check_U02.json", `{"status":"FAIL"}`)
	facts := newFakeFacts()

	rep, err := newTestSweeper(KindScan, dir, newFakeRefs([]string{"web"}, []string{"U-01", "U-02"}), facts).Sweep(context.Background())
	require.NoError(t, err)

	want := time.Date(2026, 2, 10, 9, 41, 0, 0, time.UTC)
	assert.Equal(t, want, rep.StampedAt)
	for _, f := range facts.scans {
		assert.Equal(t, want, f.ObservedAt)
	}
}

func TestSweepUpsertFailureCountsOnlyThatFile(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "NAVER_web_check_U01.json", `{"status":"PASS"}`)
	writeArtifact(t, dir, "NAVER_web_check_U02.json", `{"status":"PASS"}`)
	facts := newFakeFacts()
	facts.failOn = "U-02"

	rep, err := newTestSweeper(KindScan, dir, newFakeRefs([]string{"web"}, []string{"U-01", "U-02"}), facts).Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)
	assert.ErrorContains(t, rep.Err(), "NAVER_web_check_U02.json")
	assertBalanced(t, rep)
}

func TestSweepFixArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "NAVER_web_fix_U01.json", `{"item_code":"U-01","is_success":true,"raw_evidence":"sshd restarted"}`)
	writeArtifact(t, dir, "NAVER_web_U02.json", `{"is_success":0,"raw_evidence":{"detail":"chmod: permission denied\nexit 1"}}`)
	writeArtifact(t, dir, "NAVER_web_fix_U03.json", `{"item_code":"U-03","raw_evidence":"no verdict"}`)
	writeArtifact(t, dir, "NAVER_web_fix_U04.json", `not json at all`)
	facts := newFakeFacts()

	rep, err := newTestSweeper(KindFix, dir, newFakeRefs([]string{"web"}, []string{"U-01", "U-02", "U-03", "U-04"}), facts).Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, rep.Processed)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 2, rep.Failed)
	assert.True(t, errors.Is(rep.Err(), apperr.ErrParseRecoveryExhausted))
	assertBalanced(t, rep)

	require.Len(t, facts.fixes, 2)
	byCode := map[string]model.RemediationFact{}
	for _, f := range facts.fixes {
		byCode[f.ItemCode] = f
		assert.Equal(t, time.Date(2026, 2, 10, 9, 41, 0, 0, time.UTC), f.ActionAt)
	}
	assert.True(t, byCode["U-01"].Success)
	assert.Empty(t, byCode["U-01"].FailureReason)
	assert.False(t, byCode["U-02"].Success)
	assert.Equal(t, "chmod: permission denied", byCode["U-02"].FailureReason)
}

func TestSweepEmptyStoreSkipsReferents(t *testing.T) {
	rep, err := newTestSweeper(KindScan, filepath.Join(t.TempDir(), "missing"), nil, newFakeFacts()).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Processed)
}

func TestSweepEvidenceFallsBackToName(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "NAVER_web_check_U01.json", `{"status":"PASS"}`)
	facts := newFakeFacts()

	_, err := newTestSweeper(KindScan, dir, newFakeRefs([]string{"web"}, []string{"U-01"}), facts).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "NAVER_web_check_U01.json", facts.scans[model.Pair{ServerID: "web", ItemCode: "U-01"}].Evidence)
}

func TestSweepSkipsUnchangedFixArtifact(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "NAVER_web_fix_U01.json", `{"is_success":1,"raw_evidence":"sshd restarted"}`)
	facts := newFakeFacts()
	s := newTestSweeper(KindFix, dir, newFakeRefs([]string{"web"}, []string{"U-01"}), facts)

	for i := 0; i < 3; i++ {
		now := sweepNow.Add(time.Duration(i) * time.Minute)
		s.Now = func() time.Time { return now }
		rep, err := s.Sweep(context.Background())
		require.NoError(t, err)
		assertBalanced(t, rep)
		if i > 0 {
			assert.Equal(t, 1, rep.Unchanged)
			assert.Zero(t, rep.Succeeded)
		}
	}
	require.Len(t, facts.fixes, 1)
	assert.Equal(t, time.Date(2026, 2, 10, 9, 41, 0, 0, time.UTC), facts.fixes[0].ActionAt)

	writeArtifact(t, dir, "NAVER_web_fix_U01.json", `{"is_success":0,"failure_reason":"pam locked"}`)
	later := sweepNow.Add(10 * time.Minute)
	s.Now = func() time.Time { return later }
	rep, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Zero(t, rep.Unchanged)

	require.Len(t, facts.fixes, 2)
	assert.False(t, facts.fixes[1].Success)
	assert.Equal(t, later.Truncate(time.Minute), facts.fixes[1].ActionAt)
}

func TestSweepDoesNotRestampIngestedScan(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "NAVER_web_check_U01.json", `{"status":"FAIL"}`)
	refs := newFakeRefs([]string{"web"}, []string{"U-01"})
	facts := newFakeFacts()
	ledger := NewMemoryLedger()

	first := newTestSweeper(KindScan, dir, refs, facts)
	first.Ledger = ledger
	_, err := first.Sweep(context.Background())
	require.NoError(t, err)

	// a restarted worker sharing the ledger sees the day-old file as done
	second := newTestSweeper(KindScan, dir, refs, facts)
	second.Ledger = ledger
	second.Now = func() time.Time { return sweepNow.Add(24 * time.Hour) }
	rep, err := second.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Unchanged)
	assert.Equal(t, 1, facts.upserts)
	got := facts.scans[model.Pair{ServerID: "web", ItemCode: "U-01"}]
	assert.Equal(t, time.Date(2026, 2, 10, 9, 41, 0, 0, time.UTC), got.ObservedAt)
	assertBalanced(t, rep)
}

func TestSweepLedgerOutcomes(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "NAVER_web_fix_U01.json", `not json at all`)
	writeArtifact(t, dir, "NAVER_ghost_fix_U01.json", `{"is_success":1}`)
	facts := newFakeFacts()
	s := newTestSweeper(KindFix, dir, newFakeRefs([]string{"web"}, []string{"U-01"}), facts)

	rep, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Skipped[SkipUnknownServer])

	rep, err = s.Sweep(context.Background())
	require.NoError(t, err)
	// unparseable bytes are not retried, unknown servers are
	assert.Zero(t, rep.Failed)
	assert.Equal(t, 1, rep.Unchanged)
	assert.Equal(t, 1, rep.Skipped[SkipUnknownServer])
	assert.Empty(t, facts.fixes)
	assertBalanced(t, rep)
}

func TestSweepSupersededArtifactIsLedgered(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "NAVER_web_check_U03.json", `{"item_code":"U-03","status":"FAIL"}`)
	writeArtifact(t, dir, "NAVER_web_check_U3.json", `{"item_code":"U-03","status":"PASS"}`)
	facts := newFakeFacts()
	s := newTestSweeper(KindScan, dir, newFakeRefs([]string{"web"}, []string{"U-03"}), facts)

	_, err := s.Sweep(context.Background())
	require.NoError(t, err)
	rep, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Unchanged)
	assert.Equal(t, 1, facts.upserts)
	assertBalanced(t, rep)
}

type brokenLedger struct{}

func (brokenLedger) Ingested(context.Context, string, string, string) (bool, error) {
	return false, errors.New("ledger offline")
}

func (brokenLedger) MarkIngested(context.Context, string, string, string, time.Time) error {
	return nil
}

func TestSweepLedgerReadFailureFailsArtifact(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "NAVER_web_fix_U01.json", `{"is_success":1}`)
	facts := newFakeFacts()
	s := newTestSweeper(KindFix, dir, newFakeRefs([]string{"web"}, []string{"U-01"}), facts)
	s.Ledger = brokenLedger{}

	rep, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.ErrorContains(t, rep.Err(), "ledger offline")
	assert.Empty(t, facts.fixes)
}
