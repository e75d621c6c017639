package ingest

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const maxFailureReasonLen = 500

const (
	reasonNotProvided = "remediation failed (no reason provided)"
	reasonUnparsable  = "remediation failed (evidence unparsable)"
)

// FailureReason explains a failed fix attempt: the producer's own
// failure_reason, else the first line of the evidence detail.
func FailureReason(a *Artifact) string {
	if a.Success {
		return ""
	}
	if direct := strings.TrimSpace(a.FailureReason); direct != "" {
		return truncate(direct, maxFailureReasonLen)
	}
	if strings.TrimSpace(a.Evidence) == "" {
		return reasonNotProvided
	}
	if detail := EvidenceDetail(a.Evidence); detail != "" {
		line, _, _ := strings.Cut(detail, "\n")
		return truncate(strings.TrimSpace(line), maxFailureReasonLen)
	}
	return reasonUnparsable
}

var reDetail = regexp.MustCompile(`(?s)"detail"\s*:\s*"(.*?)"\s*[,}]`)

// EvidenceDetail recovers the "detail" field from an evidence payload that may
// be a JSON object, a JSON string holding a JSON object, or broken JSON.
func EvidenceDetail(raw string) string {
	current := raw
	for i := 0; i < 3; i++ {
		if !gjson.Valid(current) {
			break
		}
		r := gjson.Parse(current)
		if r.IsObject() {
			if d := strings.TrimSpace(r.Get("detail").String()); d != "" {
				return decodeEscapes(d)
			}
			break
		}
		if r.Type != gjson.String {
			break
		}
		current = r.String()
	}
	if m := reDetail.FindStringSubmatch(raw); m != nil {
		return decodeEscapes(strings.TrimSpace(m[1]))
	}
	return ""
}

var escapeReplacer = strings.NewReplacer(`\n`, "\n", `\"`, `"`, `\\`, `\`)

// decodeEscapes restores \n and \" sequences left in text by shell producers.
func decodeEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	if u, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return u
	}
	return escapeReplacer.Replace(s)
}
