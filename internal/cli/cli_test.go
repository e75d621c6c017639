package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/remediation-reconciler/internal/app"
	"github.com/yourorg/remediation-reconciler/internal/apperr"
	"github.com/yourorg/remediation-reconciler/internal/scoring"
)

func TestParseExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.Local)

	got, err := parseExpiry("2026-06-30 18:00:00", 0, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 30, 18, 0, 0, 0, time.Local), got)

	got, err = parseExpiry("", 48*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(48*time.Hour), got)

	for _, tc := range []struct {
		until string
		span  time.Duration
	}{
		{"", 0},
		{"2026/06/30", 0},
		{"2026-06-30 18:00:00", time.Hour},
	} {
		_, err := parseExpiry(tc.until, tc.span, now)
		assert.True(t, errors.Is(err, apperr.ErrInvalidRequest), "until=%q for=%s", tc.until, tc.span)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(apperr.NotFound("server S1")))
	assert.Equal(t, 2, exitCode(fmt.Errorf("wrapped: %w", apperr.NothingToDo("compliant"))))
	assert.Equal(t, 1, exitCode(apperr.Wrap(apperr.KindDispatchFailed, errors.New("down"), "submit fix")))
	assert.Equal(t, 1, exitCode(errors.New("connection refused")))
}

func TestScoreColor(t *testing.T) {
	assert.Equal(t, color.FgGreen, scoreColor(100))
	assert.Equal(t, color.FgGreen, scoreColor(80))
	assert.Equal(t, color.FgYellow, scoreColor(79.9))
	assert.Equal(t, color.FgRed, scoreColor(0))
}

func TestPrintSummaries(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	printSummaries(&buf, []scoring.Summary{{ServerID: "S1", Hostname: "web-1", Score: 66.7, Pass: 2, Fail: 1}})
	assert.Contains(t, buf.String(), "SERVER")
	assert.Contains(t, buf.String(), " 66.7")
	assert.Contains(t, buf.String(), "web-1")
}

func TestCommandsReachOpener(t *testing.T) {
	boom := errors.New("no database")
	opened := 0
	open := func(context.Context) (*app.App, error) {
		opened++
		return nil, boom
	}
	for _, args := range [][]string{
		{"sweep", "scan"},
		{"score"},
		{"rollup", "S1"},
		{"affected", "--items", "U-01"},
		{"fix", "start", "S1", "--items", "U-01,U-02"},
		{"fix", "progress", "job-1"},
		{"scan", "result", "job-1"},
		{"exemption", "list"},
	} {
		var out bytes.Buffer
		root := NewRootCmd(open, &out)
		root.SetArgs(args)
		assert.ErrorIs(t, root.Execute(), boom, "%v", args)
	}
	assert.Equal(t, 8, opened)
}

func TestArgumentErrorsSkipOpener(t *testing.T) {
	open := func(context.Context) (*app.App, error) {
		t.Fatal("opener called")
		return nil, nil
	}
	for _, args := range [][]string{
		{"sweep", "everything"},
		{"fix", "start"},
		{"exemption", "add", "S1", "U-01"},
		{"exemption", "rm", "abc"},
	} {
		var out bytes.Buffer
		root := NewRootCmd(open, &out)
		root.SetArgs(args)
		assert.Error(t, root.Execute(), "%v", args)
	}
}
