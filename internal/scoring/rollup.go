package scoring

import (
	"github.com/yourorg/remediation-reconciler/internal/model"
)

// Rollup breaks effective outcomes down by target category and item category,
// and by severity.
type Rollup struct {
	Categories map[model.Category]map[string]Counts `json:"categories"`
	Severities map[model.Severity]Counts            `json:"severities"`
}

func newRollup() Rollup {
	return Rollup{
		Categories: map[model.Category]map[string]Counts{},
		Severities: map[model.Severity]Counts{},
	}
}

func (r Rollup) bump(target model.Category, item model.ComplianceItem, f func(*Counts)) {
	byItem, ok := r.Categories[target]
	if !ok {
		byItem = map[string]Counts{}
		r.Categories[target] = byItem
	}
	c := byItem[item.Category]
	f(&c)
	byItem[item.Category] = c

	s := r.Severities[item.Severity]
	f(&s)
	r.Severities[item.Severity] = s
}

// Applicable decides whether a catalog item applies to a server, so that a
// missing fact for it counts as unassessed.
type Applicable func(server model.Server, cat model.Category) bool

// DefaultApplicable applies OS items to every server and database items only
// to servers with a database.
func DefaultApplicable(server model.Server, cat model.Category) bool {
	return cat != model.CategoryDB || server.DBType != ""
}

// BuildRollup rolls up the assessments of the given servers. Catalog items
// that apply to a server but have no current fact count as unassessed.
func BuildRollup(servers []model.Server, as []Assessment, catalog []model.ComplianceItem, classify model.Classifier, applies Applicable) Rollup {
	r := newRollup()
	seen := make(map[model.Pair]struct{}, len(as))
	for _, a := range as {
		seen[a.Fact.Pair()] = struct{}{}
		target, _ := classify.Classify(a.Fact.ItemCode)
		r.bump(target, a.Item, func(c *Counts) { c.add(a) })
	}
	for _, srv := range servers {
		for _, item := range catalog {
			target, ok := classify.Classify(item.Code)
			if !ok || !applies(srv, target) {
				continue
			}
			if _, has := seen[model.Pair{ServerID: srv.ID, ItemCode: item.Code}]; has {
				continue
			}
			r.bump(target, item, func(c *Counts) { c.Unassessed++ })
		}
	}
	return r
}
