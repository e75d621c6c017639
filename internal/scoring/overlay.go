// Package scoring derives effective compliance status and severity-weighted
// scores from stored facts and exemptions. Nothing here writes.
package scoring

import (
	"time"

	"github.com/yourorg/remediation-reconciler/internal/model"
)

// Exemptions indexes exemptions by pair.
type Exemptions map[model.Pair][]model.Exemption

func IndexExemptions(es []model.Exemption) Exemptions {
	x := make(Exemptions, len(es))
	for _, e := range es {
		p := model.Pair{ServerID: e.ServerID, ItemCode: e.ItemCode}
		x[p] = append(x[p], e)
	}
	return x
}

// ActiveAt reports whether any exemption for p is in force at now.
func (x Exemptions) ActiveAt(p model.Pair, now time.Time) bool {
	for _, e := range x[p] {
		if e.ActiveAt(now) {
			return true
		}
	}
	return false
}

// EffectiveStatus is the stored status with active exemptions applied.
func EffectiveStatus(f model.ScanFact, x Exemptions, now time.Time) model.Status {
	if f.Status == model.StatusCompliant || x.ActiveAt(f.Pair(), now) {
		return model.StatusCompliant
	}
	return f.Status
}

// Assessment is one current fact as seen at a point in time.
type Assessment struct {
	Fact      model.ScanFact
	Item      model.ComplianceItem
	Effective model.Status
	// Exempt is set when the pair is compliant only because of an exemption.
	Exempt bool
}

// Assess evaluates facts at now. Facts for items missing from the catalog are
// kept and weigh as LOW.
func Assess(facts []model.ScanFact, items map[string]model.ComplianceItem, x Exemptions, now time.Time) []Assessment {
	out := make([]Assessment, 0, len(facts))
	for _, f := range facts {
		item, ok := items[f.ItemCode]
		if !ok {
			item = model.ComplianceItem{Code: f.ItemCode}
		}
		eff := EffectiveStatus(f, x, now)
		out = append(out, Assessment{
			Fact:      f,
			Item:      item,
			Effective: eff,
			Exempt:    f.Status != model.StatusCompliant && eff == model.StatusCompliant,
		})
	}
	return out
}
