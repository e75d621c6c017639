package vocab

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/remediation-reconciler/internal/model"
)

func TestDefaultTable(t *testing.T) {
	tbl := Default()
	for token, want := range map[string]model.Status{
		"PASS":         model.StatusCompliant,
		"fail":         model.StatusNoncompliant,
		"양호":           model.StatusCompliant,
		" 취약 ":         model.StatusNoncompliant,
		"NONCOMPLIANT": model.StatusNoncompliant,
	} {
		got, ok := tbl.Normalize(token)
		require.True(t, ok, token)
		assert.Equal(t, want, got, token)
	}
	assert.Equal(t, "os-scripts", tbl.owners[normalize(" 취약 ")])
}

func TestUnmappedTokenIsUnknown(t *testing.T) {
	got, ok := Default().Normalize("N/A")
	assert.False(t, ok)
	assert.Equal(t, model.StatusUnknown, got)
}

func TestParseRejectsConflicts(t *testing.T) {
	_, err := Parse([]byte(`
producers:
  - name: a
    tokens: {OK: COMPLIANT}
  - name: b
    tokens: {ok: NONCOMPLIANT}
`))
	require.Error(t, err)

	_, err = Parse([]byte(`
producers:
  - name: a
    tokens: {OK: MAYBE}
`))
	require.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 7
producers:
  - name: windows-agent
    tokens: {Passed: COMPLIANT, Failed: NONCOMPLIANT}
`), 0o644))

	tbl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, tbl.Version)
	got, ok := tbl.Normalize("failed")
	require.True(t, ok)
	assert.Equal(t, model.StatusNoncompliant, got)

	_, ok = tbl.Normalize("PASS")
	assert.False(t, ok)
}
