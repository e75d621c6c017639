package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/viper"

	"github.com/yourorg/remediation-reconciler/internal/apperr"
	"github.com/yourorg/remediation-reconciler/internal/scoring"
)

func asJSON() bool { return viper.GetBool("json") }

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func scoreColor(score float64) color.Attribute {
	switch {
	case score >= 80:
		return color.FgGreen
	case score >= 60:
		return color.FgYellow
	default:
		return color.FgRed
	}
}

func printSummaries(w io.Writer, sums []scoring.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVER\tHOST\tSCORE\tPASS\tFAIL\tEXEMPT\tUNMAPPED")
	for _, s := range sums {
		score := color.New(scoreColor(s.Score)).Sprintf("%5.1f", s.Score)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n", s.ServerID, s.Hostname, score, s.Pass, s.Fail, s.Exempt, s.Unmapped)
	}
	_ = tw.Flush()
}

func printCounts(w io.Writer, title string, rows map[string]scoring.Counts) {
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, title)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		c := rows[k]
		fmt.Fprintf(tw, "  %s\tpass=%d\tfail=%d\texempt=%d\tunassessed=%d\n", k, c.Pass, c.Fail, c.Exempt, c.Unassessed)
	}
	_ = tw.Flush()
}

// exitCode maps client errors to 2 so scripts can tell them from outages.
func exitCode(err error) int {
	if apperr.IsClientError(err) {
		return 2
	}
	return 1
}
