package scoring

import (
	"math"

	"github.com/yourorg/remediation-reconciler/internal/model"
)

// Score is 100 x the weight of effectively compliant facts over the weight of
// all facts, rounded to one decimal. No facts scores 0.
func Score(as []Assessment) float64 {
	total, ok := 0, 0
	for _, a := range as {
		w := a.Item.Severity.Weight()
		total += w
		if a.Effective == model.StatusCompliant {
			ok += w
		}
	}
	if total == 0 {
		return 0
	}
	return math.Round(float64(ok)*1000/float64(total)) / 10
}

// Counts tallies effective outcomes. Pass includes exempted pairs, which are
// also counted in Exempt. Fail includes unmapped statuses.
type Counts struct {
	Pass       int `json:"pass"`
	Fail       int `json:"fail"`
	Exempt     int `json:"exempt"`
	Unassessed int `json:"unassessed"`
}

func (c *Counts) add(a Assessment) {
	if a.Effective == model.StatusCompliant {
		c.Pass++
		if a.Exempt {
			c.Exempt++
		}
		return
	}
	c.Fail++
}

func (c Counts) Total() int { return c.Pass + c.Fail + c.Unassessed }
