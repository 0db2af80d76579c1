package attribution

import (
	"math"
	"slices"
	"strings"

	"github.com/jordanlanch/affiliate-engine/pkg/models"
)

// Credit is the share of a conversion assigned to one click
type Credit struct {
	Click  *models.Click `json:"click"`
	Weight float64       `json:"weight"`
}

// Engine applies attribution models. It holds no state.
type Engine struct{}

// NewEngine creates a new attribution engine
func NewEngine() *Engine {
	return &Engine{}
}

// Attribute splits credit for conv among the clicks inside the rule's
// lookback window. It returns no credits when no click qualifies; weights of
// a non-empty result sum to 1.
func (e *Engine) Attribute(conv *models.Conversion, clicks []*models.Click, rule *models.AttributionRule) []Credit {
	eligible := InWindow(conv, clicks, rule)
	if len(eligible) == 0 {
		return nil
	}

	switch rule.Model {
	case models.ModelFirstClick:
		return []Credit{{Click: eligible[0], Weight: 1}}

	case models.ModelLastClick:
		last := eligible[len(eligible)-1]
		// ties on time go to the lower id
		for i := len(eligible) - 2; i >= 0 && eligible[i].CreatedAt.Equal(last.CreatedAt); i-- {
			last = eligible[i]
		}
		return []Credit{{Click: last, Weight: 1}}

	case models.ModelLinear:
		credits := make([]Credit, len(eligible))
		w := 1 / float64(len(eligible))
		for i, c := range eligible {
			credits[i] = Credit{Click: c, Weight: w}
		}
		return credits

	case models.ModelTimeDecay:
		return timeDecay(conv, eligible, rule)
	}

	return nil
}

// InWindow returns the clicks with occurred_at - window <= created_at <=
// occurred_at, ordered by time and then id
func InWindow(conv *models.Conversion, clicks []*models.Click, rule *models.AttributionRule) []*models.Click {
	from := conv.OccurredAt.Add(-rule.Window())
	var eligible []*models.Click
	for _, c := range clicks {
		if c.CreatedAt.Before(from) || c.CreatedAt.After(conv.OccurredAt) {
			continue
		}
		eligible = append(eligible, c)
	}
	slices.SortStableFunc(eligible, func(a, b *models.Click) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return eligible
}

// timeDecay weights each click by 2^(-age/halfLife), normalized to sum to 1.
// Ages are taken relative to the youngest click, which scales every weight
// by the same factor and keeps the largest at 1 so the total never
// underflows to zero.
func timeDecay(conv *models.Conversion, clicks []*models.Click, rule *models.AttributionRule) []Credit {
	halfLife := rule.HalfLife().Seconds()
	youngest := conv.OccurredAt.Sub(clicks[len(clicks)-1].CreatedAt).Seconds()
	credits := make([]Credit, len(clicks))
	var total float64
	for i, c := range clicks {
		age := conv.OccurredAt.Sub(c.CreatedAt).Seconds() - youngest
		w := math.Exp2(-age / halfLife)
		credits[i] = Credit{Click: c, Weight: w}
		total += w
	}
	for i := range credits {
		credits[i].Weight /= total
	}
	return credits
}
