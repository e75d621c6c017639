package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yourorg/remediation-reconciler/internal/apperr"
)

// MaxEvidenceLen bounds evidence recovered by the regex tier.
const MaxEvidenceLen = 4000

// Artifact is the logical content of one artifact body.
type Artifact struct {
	ItemCode      string
	StatusToken   string
	HasSuccess    bool
	Success       bool
	ReportedAt    string
	Evidence      string
	FailureReason string
	Tier          string
}

// Strategy is one parsing tier. A non-nil error hands the body to the next tier.
type Strategy interface {
	Name() string
	Parse(body []byte) (*Artifact, error)
}

// Chain tries its strategies in order and returns the first success.
type Chain []Strategy

func DefaultChain() Chain {
	return Chain{StrictTier{}, NormalizeTier{}, DeescapeTier{}, RegexTier{}}
}

func (c Chain) Parse(body []byte) (*Artifact, error) {
	var errs []error
	for _, s := range c {
		a, err := s.Parse(body)
		if err == nil {
			a.Tier = s.Name()
			return a, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return nil, apperr.Wrap(apperr.KindParseRecoveryExhausted, errors.Join(errs...), "%d tiers failed", len(c))
}

// StrictTier is plain JSON, including bodies that were encoded as a JSON
// string one or more times.
type StrictTier struct{}

func (StrictTier) Name() string { return "strict" }

func (StrictTier) Parse(body []byte) (*Artifact, error) {
	m, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	return fromMap(m), nil
}

// NormalizeTier repairs encoding problems: BOM, invalid UTF-8 and raw control
// characters inside string literals.
type NormalizeTier struct{}

func (NormalizeTier) Name() string { return "normalize" }

func (NormalizeTier) Parse(body []byte) (*Artifact, error) {
	m, err := decodeObject(normalizeBody(body))
	if err != nil {
		return nil, err
	}
	return fromMap(m), nil
}

// DeescapeTier undoes one level of literal escaping (\" \n \\) that shell
// producers leave behind, then normalizes and re-parses.
type DeescapeTier struct{}

func (DeescapeTier) Name() string { return "deescape" }

var deescaper = strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\n`, "\n", `\t`, "\t", `\r`, "\r")

func (DeescapeTier) Parse(body []byte) (*Artifact, error) {
	s := strings.TrimSpace(string(bytes.TrimPrefix(body, bom)))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if !strings.Contains(s, `\`) {
		return nil, errors.New("nothing to de-escape")
	}
	m, err := decodeObject(normalizeBody([]byte(deescaper.Replace(s))))
	if err != nil {
		return nil, err
	}
	return fromMap(m), nil
}

// RegexTier extracts the individual fields from a body that is not JSON.
type RegexTier struct{}

func (RegexTier) Name() string { return "regex" }

var (
	reItemCode      = regexp.MustCompile(`"item_code"\s*:\s*"([^"]*)"`)
	reStatus        = regexp.MustCompile(`"status"\s*:\s*"([^"]*)"`)
	reSuccess       = regexp.MustCompile(`"is_success"\s*:\s*"?(true|false|True|False|1|0)"?`)
	reDate          = regexp.MustCompile(`"(?:scan_date|action_date)"\s*:\s*"([^"]*)"`)
	reFailure       = regexp.MustCompile(`"failure_reason"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	reEvidenceWell  = regexp.MustCompile(`"(?:raw_evidence|evidence)"\s*:\s*"((?:[^"\\]|\\.)*)"\s*[,}]`)
	reEvidenceNext  = regexp.MustCompile(`(?s)"(?:raw_evidence|evidence)"\s*:\s*"(.*?)"\s*,\s*"[A-Za-z_]+"\s*:`)
	reEvidenceLast  = regexp.MustCompile(`(?s)"(?:raw_evidence|evidence)"\s*:\s*"(.*)"\s*}\s*$`)
	reEvidenceObj   = regexp.MustCompile(`(?s)"(?:raw_evidence|evidence)"\s*:\s*(\{.*\})\s*}\s*$`)
	reEvidenceShort = regexp.MustCompile(`(?s)"detail"\s*:\s*"(.*?)"\s*[,}]`)
)

func (RegexTier) Parse(body []byte) (*Artifact, error) {
	s := string(normalizeBody(body))
	a := &Artifact{}
	found := false
	if m := reItemCode.FindStringSubmatch(s); m != nil {
		a.ItemCode, found = m[1], true
	}
	if m := reStatus.FindStringSubmatch(s); m != nil {
		a.StatusToken, found = m[1], true
	}
	if m := reSuccess.FindStringSubmatch(s); m != nil {
		a.HasSuccess, a.Success, found = true, truthy(m[1]), true
	}
	if !found {
		return nil, errors.New("no recognisable fields")
	}
	if m := reDate.FindStringSubmatch(s); m != nil {
		a.ReportedAt = m[1]
	}
	if m := reFailure.FindStringSubmatch(s); m != nil {
		a.FailureReason = decodeEscapes(m[1])
	}
	for _, re := range []*regexp.Regexp{reEvidenceWell, reEvidenceNext, reEvidenceLast, reEvidenceObj, reEvidenceShort} {
		if m := re.FindStringSubmatch(s); m != nil && strings.TrimSpace(m[1]) != "" {
			ev := m[1]
			// object captures are JSON text, string captures are literal contents
			if re != reEvidenceObj {
				ev = decodeEscapes(ev)
			}
			a.Evidence = truncate(ev, MaxEvidenceLen)
			break
		}
	}
	return a, nil
}

var bom = []byte{0xEF, 0xBB, 0xBF}

// decodeObject unmarshals body, unwrapping up to three layers of string
// encoding, and requires an object at the end.
func decodeObject(body []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	for i := 0; i < 3; i++ {
		s, ok := v.(string)
		if !ok {
			break
		}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("string layer %d: %w", i+1, err)
		}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top level is %T, not an object", v)
	}
	return m, nil
}

// normalizeBody strips a BOM, replaces invalid UTF-8 and escapes control
// characters that appear inside string literals.
func normalizeBody(body []byte) []byte {
	body = bytes.TrimPrefix(body, bom)
	if !utf8.Valid(body) {
		body = bytes.ToValidUTF8(body, []byte("�"))
	}
	var out bytes.Buffer
	out.Grow(len(body))
	inString, escaped := false, false
	for _, c := range body {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			case c < 0x20:
				switch c {
				case '\n':
					out.WriteString(`\n`)
				case '\r':
					out.WriteString(`\r`)
				case '\t':
					out.WriteString(`\t`)
				default:
					fmt.Fprintf(&out, `\u%04x`, c)
				}
				continue
			}
		} else if c == '"' {
			inString = true
		}
		out.WriteByte(c)
	}
	return out.Bytes()
}

func fromMap(m map[string]any) *Artifact {
	a := &Artifact{
		ItemCode:      stringField(m["item_code"]),
		StatusToken:   stringField(m["status"]),
		FailureReason: stringField(m["failure_reason"]),
		ReportedAt:    stringField(m["scan_date"]),
	}
	if a.ReportedAt == "" {
		a.ReportedAt = stringField(m["action_date"])
	}
	if v, ok := m["is_success"]; ok && v != nil {
		a.HasSuccess = true
		a.Success = truthy(stringField(v))
	}
	a.Evidence = evidenceField(m)
	return a
}

// evidenceField prefers a non-empty raw_evidence (objects re-encoded as
// JSON), then an evidence object or string.
func evidenceField(m map[string]any) string {
	for _, key := range []string{"raw_evidence", "evidence"} {
		switch v := m[key].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case map[string]any, []any:
			b, err := json.Marshal(v)
			if err == nil {
				return string(b)
			}
		}
	}
	return ""
}

func stringField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
