package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/yourorg/remediation-reconciler/internal/apperr"
)

// Kind selects which artifacts a sweep consumes.
type Kind string

const (
	KindScan Kind = "scan"
	KindFix  Kind = "fix"
)

func (k Kind) marker() string {
	if k == KindFix {
		return "fix"
	}
	return "check"
}

// Ref is what an artifact name says about its contents.
type Ref struct {
	Tenant   string
	ServerID string
	ItemCode string
	Legacy   bool
}

// ParseName decodes "{tenant}_{server-id}_{marker}_{code}.json". Server ids
// may contain underscores. Legacy fix artifacts have no marker, so everything
// between the tenant and the trailing code is the server id.
func ParseName(name string, kind Kind) (Ref, error) {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(base, "_")
	if len(parts) < 3 {
		return Ref{}, apperr.New(apperr.KindParseRecoveryExhausted, "artifact name %q: too few tokens", name)
	}

	ref := Ref{Tenant: parts[0], ItemCode: ExpandItemCode(parts[len(parts)-1])}

	markerIdx := -1
	for i := len(parts) - 2; i >= 2; i-- {
		if parts[i] == kind.marker() {
			markerIdx = i
			break
		}
	}
	switch {
	case markerIdx > 1:
		ref.ServerID = strings.Join(parts[1:markerIdx], "_")
	case kind == KindFix:
		ref.ServerID = strings.Join(parts[1:len(parts)-1], "_")
		ref.Legacy = true
	default:
		return Ref{}, apperr.New(apperr.KindParseRecoveryExhausted, "artifact name %q: missing %q marker", name, kind.marker())
	}

	if ref.Tenant == "" || ref.ServerID == "" || ref.ItemCode == "" {
		return Ref{}, apperr.New(apperr.KindParseRecoveryExhausted, "artifact name %q: empty token", name)
	}
	return ref, nil
}

// ExpandItemCode turns the compact form used in artifact names back into a
// catalog code: U01 -> U-01, PGD01 -> PG-D-01. Hyphenated codes are kept.
func ExpandItemCode(compact string) string {
	compact = strings.TrimSpace(compact)
	if compact == "" || strings.Contains(compact, "-") {
		return compact
	}
	i := strings.IndexFunc(compact, unicode.IsDigit)
	if i <= 0 {
		return compact
	}
	letters, digits := compact[:i], compact[i:]
	if len(letters) > 1 && strings.HasSuffix(letters, "D") {
		return fmt.Sprintf("%s-D-%s", letters[:len(letters)-1], digits)
	}
	return letters + "-" + digits
}
